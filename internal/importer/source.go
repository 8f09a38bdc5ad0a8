package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileRef is an external file selected for import.
type FileRef struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri"`
}

// NewFileRef builds a reference to a local path.
func NewFileRef(path, mimeType string) FileRef {
	return FileRef{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		URI:      path,
	}
}

// MediaSource reads external media.
type MediaSource interface {
	ReadAll(ctx context.Context, uri string) ([]byte, error)
}

// OriginalDeleter removes external media once it is safely imported.
type OriginalDeleter interface {
	Delete(ctx context.Context, uri string) error
}

// ErrFileTooLarge is returned for media above the size limit.
var ErrFileTooLarge = errors.New("file too large")

// FileSource reads file:// URIs and plain paths.
type FileSource struct {
	MaxSize int64
}

// ReadAll reads the whole file, refusing anything above MaxSize.
func (s FileSource) ReadAll(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := PathFromURI(uri)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open media: %w", err)
	}
	defer f.Close()

	if s.MaxSize <= 0 {
		return io.ReadAll(f)
	}

	// +1 to detect oversized
	data, err := io.ReadAll(io.LimitReader(f, s.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > s.MaxSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, s.MaxSize)
	}
	return data, nil
}

// FileDeleter deletes local originals.
type FileDeleter struct{}

// Delete removes the file behind uri.
func (FileDeleter) Delete(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := PathFromURI(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete original: %w", err)
	}
	return nil
}

// PathFromURI converts a file:// URI or plain path to a local path.
func PathFromURI(uri string) (string, error) {
	if uri == "" {
		return "", errors.New("empty uri")
	}
	if !strings.Contains(uri, "://") {
		return uri, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported uri scheme: %s", u.Scheme)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("remote file uri: %s", u.Host)
	}
	return filepath.FromSlash(u.Path), nil
}
