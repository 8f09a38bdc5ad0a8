package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// IDGenerator produces item identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// UUIDGenerator issues random (version 4) UUIDs.
type UUIDGenerator struct {
	random io.Reader
}

// NewIDGenerator creates a generator backed by crypto/rand.
func NewIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{random: rand.Reader}
}

// NewIDGeneratorWithRandom creates a generator with an explicit source.
func NewIDGeneratorWithRandom(random io.Reader) *UUIDGenerator {
	return &UUIDGenerator{random: random}
}

// NewID returns a fresh identifier.
func (g *UUIDGenerator) NewID() (string, error) {
	id, err := uuid.NewRandomFromReader(g.random)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}
