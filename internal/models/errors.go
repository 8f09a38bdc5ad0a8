package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for structured error handling.
const (
	ErrCodeOpen        = "OPEN_ERROR"
	ErrCodeIntegrity   = "INTEGRITY_ERROR"
	ErrCodeStorage     = "STORAGE_ERROR"
	ErrCodeUnknownType = "UNKNOWN_FILE_TYPE"
	ErrCodeImport      = "IMPORT_ERROR"
	ErrCodeConfig      = "CONFIG_ERROR"
	ErrCodeNotFound    = "ITEM_NOT_FOUND"
	ErrCodeClosed      = "SESSION_CLOSED"
	ErrCodeBadRequest  = "BAD_REQUEST"
)

// Sentinel errors
var (
	ErrOpenFailure      = errors.New("vault cannot be opened")
	ErrUnknownFileType  = errors.New("unknown file type")
	ErrItemNotFound     = errors.New("item not found")
	ErrNoThumbnail      = errors.New("item has no thumbnail")
	ErrSessionClosed    = errors.New("session closed")
	ErrInvalidVaultName = errors.New("invalid vault name")
)

// OpenError reports why a vault could not be opened. A wrong password and a
// corrupted manifest are indistinguishable and both match ErrOpenFailure.
type OpenError struct {
	Vault string
	Err   error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open vault %s: %v", e.Vault, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// StorageError wraps an object store I/O failure.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// UnknownFileTypeError is returned when an imported file has no supported kind.
type UnknownFileTypeError struct {
	Name     string
	MimeType string
}

func (e *UnknownFileTypeError) Error() string {
	if e.MimeType != "" {
		return fmt.Sprintf("unknown file type: %s (%s)", e.Name, e.MimeType)
	}
	return fmt.Sprintf("unknown file type: %s", e.Name)
}

func (e *UnknownFileTypeError) Is(target error) bool {
	return target == ErrUnknownFileType
}

// ImportError describes a failed import batch. Items listed in Orphaned were
// written to storage but never committed to the manifest; there is no
// rollback.
type ImportError struct {
	Stage            string
	File             string
	Orphaned         []string
	OriginalsDeleted bool
	Err              error
}

func (e *ImportError) Error() string {
	var sb strings.Builder
	sb.WriteString("import ")
	sb.WriteString(e.Stage)
	if e.File != "" {
		sb.WriteString(" ")
		sb.WriteString(e.File)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Err.Error())
	if len(e.Orphaned) > 0 {
		fmt.Fprintf(&sb, " (%d uncommitted item(s) left in storage)", len(e.Orphaned))
	}
	if e.OriginalsDeleted {
		sb.WriteString(" (originals already deleted)")
	}
	return sb.String()
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
