// Package device provides the device-unique identifier used as the key
// derivation salt. A vault only reopens on the device that created it.
package device

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/TheMichaelB/strongroom/internal/config"
)

// ErrEmptyID is returned for a blank identifier.
var ErrEmptyID = errors.New("device id is empty")

// Provider supplies the device identifier.
type Provider interface {
	DeviceID() (string, error)
}

// New selects a provider from config: a fixed id wins over the id file.
func New(cfg *config.DeviceConfig) Provider {
	if cfg.ID != "" {
		return StaticProvider(cfg.ID)
	}
	return NewFileProvider(cfg.IDFile)
}

// StaticProvider returns a fixed identifier.
type StaticProvider string

// DeviceID returns the fixed identifier.
func (p StaticProvider) DeviceID() (string, error) {
	if p == "" {
		return "", ErrEmptyID
	}
	return string(p), nil
}

// FileProvider persists a random identifier in a file, creating it on
// first use.
type FileProvider struct {
	path string

	mu sync.Mutex
	id string
}

// NewFileProvider creates a provider backed by path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// DeviceID returns the stored identifier, generating one if needed.
func (p *FileProvider) DeviceID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id, nil
	}

	id, err := p.read()
	if errors.Is(err, fs.ErrNotExist) {
		id = uuid.NewString()
		err = p.create(id)
		if errors.Is(err, fs.ErrExist) {
			// Lost a race with another process; use its id
			id, err = p.read()
		}
	}
	if err != nil {
		return "", err
	}

	p.id = id
	return id, nil
}

func (p *FileProvider) read() (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("read device id: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", fmt.Errorf("read device id %s: %w", p.path, ErrEmptyID)
	}
	return id, nil
}

// create publishes a fully written file with a hard link so concurrent
// readers never see a partial id.
func (p *FileProvider) create(id string) error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create device id directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".device-id-*")
	if err != nil {
		return fmt.Errorf("create device id: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.WriteString(id + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("write device id: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync device id: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close device id: %w", err)
	}

	if err := os.Link(tmp, p.path); err != nil {
		return fmt.Errorf("publish device id: %w", err)
	}
	return nil
}
