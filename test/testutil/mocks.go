package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// MockSource serves media from memory keyed by URI.
type MockSource struct {
	mu    sync.Mutex
	files map[string][]byte
	reads []string
}

// NewMockSource creates an empty source.
func NewMockSource() *MockSource {
	return &MockSource{files: make(map[string][]byte)}
}

// Add registers media under uri.
func (m *MockSource) Add(uri string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[uri] = data
}

// ReadAll returns registered media.
func (m *MockSource) ReadAll(ctx context.Context, uri string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, uri)

	data, ok := m.files[uri]
	if !ok {
		return nil, fmt.Errorf("open media %s: %w", uri, os.ErrNotExist)
	}
	return data, nil
}

// Reads returns URIs in read order.
func (m *MockSource) Reads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reads...)
}

// MockDeleter records deletions and can fail on chosen URIs.
type MockDeleter struct {
	mu      sync.Mutex
	deleted []string
	failOn  map[string]error
}

// NewMockDeleter creates a deleter that succeeds on everything.
func NewMockDeleter() *MockDeleter {
	return &MockDeleter{failOn: make(map[string]error)}
}

// FailOn makes deleting uri return err.
func (m *MockDeleter) FailOn(uri string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[uri] = err
}

// Delete records uri.
func (m *MockDeleter) Delete(ctx context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failOn[uri]; ok {
		return err
	}
	m.deleted = append(m.deleted, uri)
	return nil
}

// Deleted returns deleted URIs in order.
func (m *MockDeleter) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// SequenceIDs hands out fixed identifiers in order.
type SequenceIDs struct {
	mu  sync.Mutex
	ids []string
}

// NewSequenceIDs creates a generator over ids.
func NewSequenceIDs(ids ...string) *SequenceIDs {
	return &SequenceIDs{ids: ids}
}

// NewID returns the next identifier.
func (s *SequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return "", fmt.Errorf("identifier sequence exhausted")
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	return id, nil
}
