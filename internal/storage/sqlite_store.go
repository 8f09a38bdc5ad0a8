package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/strongroom/internal/events"
)

// SQLiteStore implements ObjectStore in a single SQLite database file.
type SQLiteStore struct {
	db          *sql.DB
	logger      *events.Logger
	maxFileSize int64
}

// NewSQLiteStore opens or creates a SQLite object store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time; WAL keeps readers unblocked
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:          db,
		logger:      logger.WithField("component", "sqlite_store"),
		maxFileSize: 256 * 1024 * 1024,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS objects (
        path TEXT PRIMARY KEY,
        parent TEXT NOT NULL,
        name TEXT NOT NULL,
        is_dir INTEGER NOT NULL DEFAULT 0,
        data BLOB,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_objects_parent ON objects(parent);

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (1);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// SetMaxFileSize sets the maximum object size limit.
func (s *SQLiteStore) SetMaxFileSize(size int64) {
	if size > 0 {
		s.maxFileSize = size
	}
}

// Exists checks if an object or directory exists.
func (s *SQLiteStore) Exists(ctx context.Context, segments ...string) (bool, error) {
	path, err := s.path(ctx, segments)
	if err != nil {
		return false, storageErr("exists", segments, err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE path = ?`, path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("exists", segments, err)
	}
	return true, nil
}

// Read retrieves object contents.
func (s *SQLiteStore) Read(ctx context.Context, segments ...string) ([]byte, error) {
	path, err := s.path(ctx, segments)
	if err != nil {
		return nil, storageErr("read", segments, err)
	}

	var isDir bool
	var data []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT is_dir, data FROM objects WHERE path = ?`, path).Scan(&isDir, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storageErr("read", segments, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("read", segments, err)
	}
	if isDir {
		return nil, storageErr("read", segments, ErrIsDir)
	}

	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Write replaces an object and creates missing parent directories.
func (s *SQLiteStore) Write(ctx context.Context, data []byte, segments ...string) error {
	path, err := s.path(ctx, segments)
	if err != nil {
		return storageErr("write", segments, err)
	}

	if int64(len(data)) > s.maxFileSize {
		return storageErr("write", segments,
			fmt.Errorf("%w: %d bytes (max: %d)", ErrTooLarge, len(data), s.maxFileSize))
	}

	s.logger.WithFields(map[string]interface{}{
		"path": path,
		"size": len(data),
	}).Debug("Writing object")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("write", segments, fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureDirs(ctx, tx, segments[:len(segments)-1]); err != nil {
		return storageErr("write", segments, err)
	}

	var isDir bool
	err = tx.QueryRowContext(ctx, `SELECT is_dir FROM objects WHERE path = ?`, path).Scan(&isDir)
	if err == nil && isDir {
		return storageErr("write", segments, ErrIsDir)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return storageErr("write", segments, err)
	}

	parent, name := splitPath(segments)
	if data == nil {
		data = []byte{}
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO objects (path, parent, name, is_dir, data, updated_at)
        VALUES (?, ?, ?, 0, ?, ?)
        ON CONFLICT(path) DO UPDATE SET
            data = excluded.data,
            updated_at = excluded.updated_at
    `, path, parent, name, data, time.Now().UTC())
	if err != nil {
		return storageErr("write", segments, fmt.Errorf("upsert object: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return storageErr("write", segments, fmt.Errorf("commit transaction: %w", err))
	}

	return nil
}

// Mkdir creates a directory and its parents.
func (s *SQLiteStore) Mkdir(ctx context.Context, segments ...string) error {
	if _, err := s.path(ctx, segments); err != nil {
		return storageErr("mkdir", segments, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("mkdir", segments, fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureDirs(ctx, tx, segments); err != nil {
		return storageErr("mkdir", segments, err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("mkdir", segments, fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// Unlink removes an object or a directory tree.
func (s *SQLiteStore) Unlink(ctx context.Context, segments ...string) error {
	path, err := s.path(ctx, segments)
	if err != nil {
		return storageErr("unlink", segments, err)
	}

	s.logger.WithField("path", path).Debug("Unlinking object")

	prefix := path + "/"
	_, err = s.db.ExecContext(ctx, `
        DELETE FROM objects
        WHERE path = ? OR substr(path, 1, ?) = ?
    `, path, len(prefix), prefix)
	if err != nil {
		return storageErr("unlink", segments, err)
	}
	return nil
}

// List returns the direct children of a directory.
func (s *SQLiteStore) List(ctx context.Context, segments ...string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parent := ""
	if len(segments) > 0 {
		path, err := JoinPath(segments...)
		if err != nil {
			return nil, storageErr("list", segments, err)
		}

		var isDir bool
		err = s.db.QueryRowContext(ctx, `SELECT is_dir FROM objects WHERE path = ?`, path).Scan(&isDir)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storageErr("list", segments, ErrNotFound)
		}
		if err != nil {
			return nil, storageErr("list", segments, err)
		}
		if !isDir {
			return nil, storageErr("list", segments, fmt.Errorf("not a directory"))
		}
		parent = path
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT name, is_dir, COALESCE(length(data), 0), updated_at
        FROM objects
        WHERE parent = ?
        ORDER BY name
    `, parent)
	if err != nil {
		return nil, storageErr("list", segments, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.IsDir, &e.Size, &e.ModTime); err != nil {
			return nil, storageErr("list", segments, fmt.Errorf("scan row: %w", err))
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", segments, err)
	}

	return entries, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) path(ctx context.Context, segments []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return JoinPath(segments...)
}

// ensureDirs inserts a directory row for every prefix of segments.
func (s *SQLiteStore) ensureDirs(ctx context.Context, tx *sql.Tx, segments []string) error {
	now := time.Now().UTC()
	for i := 1; i <= len(segments); i++ {
		parent, name := splitPath(segments[:i])
		path := strings.Join(segments[:i], "/")

		var isDir bool
		err := tx.QueryRowContext(ctx, `SELECT is_dir FROM objects WHERE path = ?`, path).Scan(&isDir)
		if err == nil {
			if !isDir {
				return fmt.Errorf("%s is not a directory", path)
			}
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
            INSERT INTO objects (path, parent, name, is_dir, updated_at)
            VALUES (?, ?, ?, 1, ?)
        `, path, parent, name, now); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}

func splitPath(segments []string) (parent, name string) {
	return strings.Join(segments[:len(segments)-1], "/"), segments[len(segments)-1]
}
