package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TheMichaelB/strongroom/internal/config"
	"github.com/TheMichaelB/strongroom/internal/events"
)

// Errors
var (
	ErrNotFound    = errors.New("object not found")
	ErrInvalidPath = errors.New("invalid path")
	ErrTooLarge    = errors.New("object too large")
	ErrIsDir       = errors.New("object is a directory")
	ErrClosed      = errors.New("store closed")
)

// ObjectStore persists opaque text objects addressed by path segments.
// Segments are joined with "/": vault/itemId/field.
type ObjectStore interface {
	// Exists reports whether an object or directory is present.
	Exists(ctx context.Context, segments ...string) (bool, error)

	// Read returns an object's contents. Missing objects wrap ErrNotFound.
	Read(ctx context.Context, segments ...string) ([]byte, error)

	// Write replaces an object, creating parent directories.
	Write(ctx context.Context, data []byte, segments ...string) error

	// Mkdir creates a directory. Existing directories are not an error.
	Mkdir(ctx context.Context, segments ...string) error

	// Unlink removes an object or a directory with everything under it.
	// Missing paths are not an error.
	Unlink(ctx context.Context, segments ...string) error

	// List returns the direct children of a directory. No segments lists
	// the root.
	List(ctx context.Context, segments ...string) ([]Entry, error)

	// Close releases backend resources.
	Close() error
}

// Entry describes one child returned by List.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// New opens the backend selected by cfg.
func New(cfg *config.StorageConfig, logger *events.Logger) (ObjectStore, error) {
	switch cfg.Backend {
	case "fs", "":
		store, err := NewLocalStore(cfg.VaultsDir, logger)
		if err != nil {
			return nil, err
		}
		store.SetMaxFileSize(cfg.MaxFileSize)
		return store, nil
	case "sqlite":
		store, err := NewSQLiteStore(cfg.DatabasePath, logger)
		if err != nil {
			return nil, err
		}
		store.SetMaxFileSize(cfg.MaxFileSize)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// JoinPath validates segments and joins them with "/".
func JoinPath(segments ...string) (string, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: no segments", ErrInvalidPath)
	}
	for _, seg := range segments {
		if err := ValidateSegment(seg); err != nil {
			return "", err
		}
	}
	return strings.Join(segments, "/"), nil
}

// ValidateSegment rejects segments that could escape or alias a path.
func ValidateSegment(seg string) error {
	switch {
	case seg == "":
		return fmt.Errorf("%w: empty segment", ErrInvalidPath)
	case strings.HasPrefix(seg, "."):
		// Also covers "." and ".."; dot names are reserved for temp files
		return fmt.Errorf("%w: segment %q starts with a dot", ErrInvalidPath, seg)
	case strings.ContainsAny(seg, `/\`):
		return fmt.Errorf("%w: segment %q contains a separator", ErrInvalidPath, seg)
	case strings.ContainsRune(seg, 0):
		return fmt.Errorf("%w: segment contains null bytes", ErrInvalidPath)
	}
	return nil
}

func displayPath(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	return strings.Join(segments, "/")
}
