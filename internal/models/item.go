package models

import (
	"fmt"
	"strings"
)

// Size is the intrinsic pixel size of an item.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ItemMetadata describes a stored item. It is what the manifest records;
// payloads are never part of it.
type ItemMetadata struct {
	ItemPath     string `json:"itemPath"` // Original display name
	MimeType     string `json:"type"`
	Size         Size   `json:"size"`
	HasThumbnail bool   `json:"thumbnail"`
}

// Kind returns the item kind derived from the mime type.
func (m ItemMetadata) Kind() (Kind, error) {
	return KindOf(m.ItemPath, m.MimeType)
}

// Validate checks a manifest entry.
func (m ItemMetadata) Validate() error {
	if strings.TrimSpace(m.ItemPath) == "" {
		return fmt.Errorf("item path is required")
	}
	if _, err := m.Kind(); err != nil {
		return err
	}
	if m.Size.Width < 0 || m.Size.Height < 0 {
		return fmt.Errorf("negative size %dx%d", m.Size.Width, m.Size.Height)
	}
	return nil
}

// DecryptedItem is an item as seen by the presentation layer. Payload is
// set only while the item is cached.
type DecryptedItem struct {
	ItemMetadata
	Payload *string `json:"data,omitempty"`
}

// Cached reports whether the payload is present.
func (d DecryptedItem) Cached() bool {
	return d.Payload != nil
}

// Manifest maps item identifiers to metadata.
type Manifest map[string]ItemMetadata

// Clone returns a shallow copy safe to mutate.
func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for id, item := range m {
		out[id] = item
	}
	return out
}

// Validate checks every entry.
func (m Manifest) Validate() error {
	for id, item := range m {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("empty item identifier")
		}
		if err := item.Validate(); err != nil {
			return fmt.Errorf("item %s: %w", id, err)
		}
	}
	return nil
}
