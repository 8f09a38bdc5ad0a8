package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/TheMichaelB/strongroom/internal/crypto"
)

// documentMarker prefixes plaintext that holds a JSON document. Opaque text
// starting with it would be misclassified and is rejected on write.
const documentMarker = "\x1eJSON\x1e"

// Errors
var (
	ErrMarkerCollision = errors.New("text collides with the document marker")
	ErrNotDocument     = errors.New("contents are not a structured document")
)

// EncryptedStore seals contents before they reach an ObjectStore.
type EncryptedStore struct {
	store  ObjectStore
	crypto crypto.Provider
}

// NewEncryptedStore wraps store with the envelope codec.
func NewEncryptedStore(store ObjectStore, provider crypto.Provider) *EncryptedStore {
	return &EncryptedStore{store: store, crypto: provider}
}

// Store returns the underlying object store.
func (s *EncryptedStore) Store() ObjectStore {
	return s.store
}

// WriteEncrypted stores a string as opaque text and any other value as a
// JSON document.
func (s *EncryptedStore) WriteEncrypted(ctx context.Context, key []byte, contents any, segments ...string) error {
	var plaintext []byte
	switch v := contents.(type) {
	case string:
		if strings.HasPrefix(v, documentMarker) {
			return ErrMarkerCollision
		}
		plaintext = []byte(v)
	default:
		doc, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		plaintext = append([]byte(documentMarker), doc...)
	}

	env, err := s.crypto.Seal(plaintext, key)
	if err != nil {
		return fmt.Errorf("seal %s: %w", displayPath(segments), err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	return s.store.Write(ctx, data, segments...)
}

// ReadEncrypted reads, verifies and decrypts an object. Undecodable
// envelopes and MAC mismatches both wrap crypto.ErrIntegrity.
func (s *EncryptedStore) ReadEncrypted(ctx context.Context, key []byte, segments ...string) (*Contents, error) {
	data, err := s.store.Read(ctx, segments...)
	if err != nil {
		return nil, err
	}

	var env crypto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope %s: %w", displayPath(segments), crypto.ErrIntegrity)
	}

	plaintext, err := s.crypto.Open(&env, key)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", displayPath(segments), err)
	}

	text := string(plaintext)
	if strings.HasPrefix(text, documentMarker) {
		return &Contents{text: text[len(documentMarker):], document: true}, nil
	}
	return &Contents{text: text}, nil
}

// Contents is a decrypted object.
type Contents struct {
	text     string
	document bool
}

// IsDocument reports whether the object was written as a structured value.
func (c *Contents) IsDocument() bool {
	return c.document
}

// Text returns opaque text, or the raw JSON of a document.
func (c *Contents) Text() string {
	return c.text
}

// Decode unmarshals a document into v.
func (c *Contents) Decode(v any) error {
	if !c.document {
		return ErrNotDocument
	}
	return json.Unmarshal([]byte(c.text), v)
}
