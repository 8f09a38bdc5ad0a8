package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

const (
	// Key sizes
	KeySize = 32 // AES-256
	IVSize  = 16 // AES block

	// PBKDF2 parameters. Changing any of these makes existing vaults
	// unreadable.
	Iterations = 5000
	KeyBits    = KeySize * 8

	// Pepper is appended to every salt before derivation.
	Pepper = "strongroom:v1:9fK2mQ7xLp4sVb8nRw3tYc6hJd1gZe5a"
)

// Errors
var (
	ErrIntegrity    = errors.New("envelope integrity check failed")
	ErrInvalidKey   = errors.New("invalid key size")
	ErrEmptySalt    = errors.New("salt is required")
	ErrNilEnvelope  = errors.New("nil envelope")
	ErrShortEntropy = errors.New("random source exhausted")
)

// CryptoProvider handles all cryptographic operations.
type CryptoProvider struct {
	iterations int
	random     io.Reader
}

// NewProvider creates a crypto provider reading IVs from crypto/rand.
func NewProvider() Provider {
	return NewProviderWithRandom(rand.Reader)
}

// NewProviderWithRandom creates a provider with an explicit IV source.
func NewProviderWithRandom(random io.Reader) Provider {
	return &CryptoProvider{
		iterations: Iterations,
		random:     random,
	}
}

// DeriveKey derives a vault key with PBKDF2-HMAC-SHA512 over the NFKC
// normalized password and salt||Pepper.
func (p *CryptoProvider) DeriveKey(password, salt string) ([]byte, error) {
	if salt == "" {
		return nil, ErrEmptySalt
	}

	key := pbkdf2.Key(
		[]byte(norm.NFKC.String(password)),
		[]byte(salt+Pepper),
		p.iterations,
		KeySize,
		sha512.New,
	)

	return key, nil
}

// Seal encrypts plaintext under key with a fresh IV.
func (p *CryptoProvider) Seal(plaintext, key []byte) (*Envelope, error) {
	if err := ValidateKeySize(key); err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(p.random, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	return seal(plaintext, key, iv)
}

// Open verifies the envelope MAC and decrypts it.
func (p *CryptoProvider) Open(env *Envelope, key []byte) ([]byte, error) {
	if env == nil {
		return nil, ErrNilEnvelope
	}
	if err := ValidateKeySize(key); err != nil {
		return nil, err
	}

	return open(env, key)
}

// ValidateKeySize checks if the key is the correct size.
func ValidateKeySize(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidKey, KeySize, len(key))
	}
	return nil
}
