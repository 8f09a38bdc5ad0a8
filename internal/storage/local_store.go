package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/TheMichaelB/strongroom/internal/events"
	"github.com/TheMichaelB/strongroom/internal/models"
)

// LocalStore implements ObjectStore on the file system.
type LocalStore struct {
	baseDir string
	logger  *events.Logger

	// Security settings
	allowSymlinks bool
	maxPathLength int
	maxFileSize   int64
}

// NewLocalStore creates a file system store rooted at baseDir.
func NewLocalStore(baseDir string, logger *events.Logger) (*LocalStore, error) {
	// Resolve absolute path
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	// Create base directory
	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &LocalStore{
		baseDir:       absPath,
		logger:        logger.WithField("component", "local_store"),
		allowSymlinks: false,
		maxPathLength: 4096,
		maxFileSize:   256 * 1024 * 1024, // 256MB default
	}, nil
}

// SetMaxFileSize sets the maximum object size limit.
func (s *LocalStore) SetMaxFileSize(size int64) {
	if size > 0 {
		s.maxFileSize = size
	}
}

// BaseDir returns the absolute store root.
func (s *LocalStore) BaseDir() string {
	return s.baseDir
}

// Exists checks if an object or directory exists.
func (s *LocalStore) Exists(ctx context.Context, segments ...string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	safePath, err := s.sanitizePath(segments)
	if err != nil {
		return false, storageErr("exists", segments, err)
	}

	_, err = os.Lstat(safePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, storageErr("exists", segments, err)
}

// Read retrieves object contents.
func (s *LocalStore) Read(ctx context.Context, segments ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	safePath, err := s.sanitizePath(segments)
	if err != nil {
		return nil, storageErr("read", segments, err)
	}

	stat, err := os.Lstat(safePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storageErr("read", segments, ErrNotFound)
		}
		return nil, storageErr("read", segments, err)
	}

	// Check if it's a symlink and we don't allow symlinks
	if !s.allowSymlinks && stat.Mode()&os.ModeSymlink != 0 {
		return nil, storageErr("read", segments, fmt.Errorf("symlinks not allowed"))
	}
	if stat.IsDir() {
		return nil, storageErr("read", segments, ErrIsDir)
	}
	if stat.Size() > s.maxFileSize {
		return nil, storageErr("read", segments, ErrTooLarge)
	}

	data, err := os.ReadFile(safePath)
	if err != nil {
		return nil, storageErr("read", segments, err)
	}

	return data, nil
}

// Write saves data to an object atomically.
func (s *LocalStore) Write(ctx context.Context, data []byte, segments ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	safePath, err := s.sanitizePath(segments)
	if err != nil {
		return storageErr("write", segments, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"path": displayPath(segments),
		"size": len(data),
	}).Debug("Writing object")

	// Check size limit
	if int64(len(data)) > s.maxFileSize {
		return storageErr("write", segments,
			fmt.Errorf("%w: %d bytes (max: %d)", ErrTooLarge, len(data), s.maxFileSize))
	}

	// Ensure parent directory exists
	parentDir := filepath.Dir(safePath)
	if err := os.MkdirAll(parentDir, 0700); err != nil {
		return storageErr("write", segments, fmt.Errorf("create parent directory: %w", err))
	}

	// Write atomically using temp file
	tempFile, err := os.CreateTemp(parentDir, "."+filepath.Base(safePath)+".tmp-*")
	if err != nil {
		return storageErr("write", segments, fmt.Errorf("create temp file: %w", err))
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return storageErr("write", segments, fmt.Errorf("write temp file: %w", err))
	}

	// Sync to disk
	if err := tempFile.Sync(); err != nil {
		return storageErr("write", segments, fmt.Errorf("sync file: %w", err))
	}
	if err := tempFile.Close(); err != nil {
		return storageErr("write", segments, fmt.Errorf("close temp file: %w", err))
	}

	// Rename atomically
	if err := os.Rename(tempPath, safePath); err != nil {
		return storageErr("write", segments, fmt.Errorf("rename temp file: %w", err))
	}

	success = true
	return nil
}

// Mkdir creates a directory if it doesn't exist.
func (s *LocalStore) Mkdir(ctx context.Context, segments ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	safePath, err := s.sanitizePath(segments)
	if err != nil {
		return storageErr("mkdir", segments, err)
	}

	if err := os.MkdirAll(safePath, 0700); err != nil {
		return storageErr("mkdir", segments, err)
	}
	return nil
}

// Unlink removes an object or directory tree.
func (s *LocalStore) Unlink(ctx context.Context, segments ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	safePath, err := s.sanitizePath(segments)
	if err != nil {
		return storageErr("unlink", segments, err)
	}

	s.logger.WithField("path", displayPath(segments)).Debug("Unlinking object")

	if err := os.RemoveAll(safePath); err != nil {
		return storageErr("unlink", segments, err)
	}

	return nil
}

// List returns directory contents, skipping in-progress temp files.
func (s *LocalStore) List(ctx context.Context, segments ...string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := s.baseDir
	if len(segments) > 0 {
		safePath, err := s.sanitizePath(segments)
		if err != nil {
			return nil, storageErr("list", segments, err)
		}
		dir = safePath
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storageErr("list", segments, ErrNotFound)
		}
		return nil, storageErr("list", segments, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return entries, nil
}

// Close is a no-op for the file system.
func (s *LocalStore) Close() error {
	return nil
}

// Helper methods

// sanitizePath validates segments and resolves them under baseDir.
func (s *LocalStore) sanitizePath(segments []string) (string, error) {
	joined, err := JoinPath(segments...)
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(joined))

	// Verify it's under base directory
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes base directory", ErrInvalidPath)
	}

	// Check path length
	if len(fullPath) > s.maxPathLength {
		return "", fmt.Errorf("%w: path too long: %d characters (max: %d)",
			ErrInvalidPath, len(fullPath), s.maxPathLength)
	}

	return fullPath, nil
}

func storageErr(op string, segments []string, err error) error {
	return &models.StorageError{Op: op, Path: displayPath(segments), Err: err}
}
