// Package manifest persists a vault's item index.
package manifest

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheMichaelB/strongroom/internal/events"
	"github.com/TheMichaelB/strongroom/internal/models"
	"github.com/TheMichaelB/strongroom/internal/storage"
)

// Name is the manifest object inside a vault directory.
const Name = "manifest"

// ErrCorrupt is returned when a decrypted manifest is not a valid index.
var ErrCorrupt = errors.New("manifest is corrupt")

// Index loads and saves one vault's item map. Every Save rewrites the whole
// index.
type Index interface {
	Exists(ctx context.Context) (bool, error)
	Create(ctx context.Context, key []byte) error
	Load(ctx context.Context, key []byte) (models.Manifest, error)
	Save(ctx context.Context, key []byte, items models.Manifest) error
}

// FileIndex stores the manifest as a single encrypted object at
// {vault}/manifest.
type FileIndex struct {
	vault  string
	store  *storage.EncryptedStore
	logger *events.Logger
}

// NewFileIndex creates an index for vault.
func NewFileIndex(vault string, store *storage.EncryptedStore, logger *events.Logger) *FileIndex {
	return &FileIndex{
		vault:  vault,
		store:  store,
		logger: logger.WithFields(map[string]interface{}{"component": "manifest", "vault": vault}),
	}
}

// Exists reports whether the manifest object is present.
func (i *FileIndex) Exists(ctx context.Context) (bool, error) {
	return i.store.Store().Exists(ctx, i.vault, Name)
}

// Create makes the vault directory and persists an empty manifest.
func (i *FileIndex) Create(ctx context.Context, key []byte) error {
	if err := i.store.Store().Mkdir(ctx, i.vault); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}
	return i.Save(ctx, key, models.Manifest{})
}

// Load decrypts and validates the manifest. A MAC mismatch wraps
// crypto.ErrIntegrity; undecodable or invalid contents wrap ErrCorrupt.
func (i *FileIndex) Load(ctx context.Context, key []byte) (models.Manifest, error) {
	contents, err := i.store.ReadEncrypted(ctx, key, i.vault, Name)
	if err != nil {
		return nil, err
	}

	if !contents.IsDocument() {
		return nil, fmt.Errorf("%w: not a document", ErrCorrupt)
	}

	var items models.Manifest
	if err := contents.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if items == nil {
		// JSON null
		return nil, fmt.Errorf("%w: empty document", ErrCorrupt)
	}
	if err := validate(items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	i.logger.WithField("items", len(items)).Debug("Manifest loaded")
	return items, nil
}

// Save re-encrypts the entire map.
func (i *FileIndex) Save(ctx context.Context, key []byte, items models.Manifest) error {
	if items == nil {
		items = models.Manifest{}
	}
	if err := validate(items); err != nil {
		return fmt.Errorf("refusing to save invalid manifest: %w", err)
	}

	if err := i.store.WriteEncrypted(ctx, key, items, i.vault, Name); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}

	i.logger.WithField("items", len(items)).Debug("Manifest saved")
	return nil
}

func validate(items models.Manifest) error {
	if err := items.Validate(); err != nil {
		return err
	}
	// Identifiers become path segments
	for id := range items {
		if err := storage.ValidateSegment(id); err != nil {
			return fmt.Errorf("item %q: %w", id, err)
		}
	}
	return nil
}

var _ Index = (*FileIndex)(nil)
