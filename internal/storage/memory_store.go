package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory ObjectStore for tests. Hooks run without the
// store lock held, so they may block.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	dirs    map[string]time.Time
	reads   map[string]int
	closed  bool

	// OnRead runs before every Read with the joined path.
	OnRead func(path string)

	// OnWrite runs before every Write; a non-nil result fails the write.
	OnWrite func(path string) error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		dirs:    make(map[string]time.Time),
		reads:   make(map[string]int),
	}
}

// Reads returns how often path was read.
func (m *MemoryStore) Reads(segments ...string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads[strings.Join(segments, "/")]
}

// Paths returns all object paths, sorted.
func (m *MemoryStore) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Put stores raw bytes, bypassing hooks.
func (m *MemoryStore) Put(data []byte, segments ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirLocked(segments[:len(segments)-1])
	m.objects[strings.Join(segments, "/")] = append([]byte(nil), data...)
}

// Exists checks if an object or directory exists.
func (m *MemoryStore) Exists(ctx context.Context, segments ...string) (bool, error) {
	path, err := m.path(ctx, "exists", segments)
	if err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, isObj := m.objects[path]
	_, isDir := m.dirs[path]
	return isObj || isDir, nil
}

// Read retrieves object contents.
func (m *MemoryStore) Read(ctx context.Context, segments ...string) ([]byte, error) {
	path, err := m.path(ctx, "read", segments)
	if err != nil {
		return nil, err
	}

	if m.OnRead != nil {
		m.OnRead(path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[path]++

	data, ok := m.objects[path]
	if !ok {
		if _, isDir := m.dirs[path]; isDir {
			return nil, storageErr("read", segments, ErrIsDir)
		}
		return nil, storageErr("read", segments, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Write replaces an object.
func (m *MemoryStore) Write(ctx context.Context, data []byte, segments ...string) error {
	path, err := m.path(ctx, "write", segments)
	if err != nil {
		return err
	}

	if m.OnWrite != nil {
		if err := m.OnWrite(path); err != nil {
			return storageErr("write", segments, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, isDir := m.dirs[path]; isDir {
		return storageErr("write", segments, ErrIsDir)
	}
	m.mkdirLocked(segments[:len(segments)-1])
	m.objects[path] = append([]byte(nil), data...)
	return nil
}

// Mkdir creates a directory.
func (m *MemoryStore) Mkdir(ctx context.Context, segments ...string) error {
	if _, err := m.path(ctx, "mkdir", segments); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirLocked(segments)
	return nil
}

// Unlink removes an object or directory tree.
func (m *MemoryStore) Unlink(ctx context.Context, segments ...string) error {
	path, err := m.path(ctx, "unlink", segments)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := path + "/"
	for p := range m.objects {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.objects, p)
		}
	}
	for p := range m.dirs {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.dirs, p)
		}
	}
	return nil
}

// List returns the direct children of a directory.
func (m *MemoryStore) List(ctx context.Context, segments ...string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := ""
	if len(segments) > 0 {
		path, err := JoinPath(segments...)
		if err != nil {
			return nil, storageErr("list", segments, err)
		}
		prefix = path + "/"
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if prefix != "" {
		if _, ok := m.dirs[strings.TrimSuffix(prefix, "/")]; !ok {
			return nil, storageErr("list", segments, ErrNotFound)
		}
	}

	var entries []Entry
	for p, data := range m.objects {
		if name, ok := childName(p, prefix); ok {
			entries = append(entries, Entry{Name: name, Size: int64(len(data))})
		}
	}
	for p, mod := range m.dirs {
		if name, ok := childName(p, prefix); ok {
			entries = append(entries, Entry{Name: name, IsDir: true, ModTime: mod})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) path(ctx context.Context, op string, segments []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return "", storageErr(op, segments, ErrClosed)
	}

	path, err := JoinPath(segments...)
	if err != nil {
		return "", storageErr(op, segments, err)
	}
	return path, nil
}

func (m *MemoryStore) mkdirLocked(segments []string) {
	for i := 1; i <= len(segments); i++ {
		p := strings.Join(segments[:i], "/")
		if _, ok := m.dirs[p]; !ok {
			m.dirs[p] = time.Now()
		}
	}
}

func childName(path, prefix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := path[len(prefix):]
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
