package crypto

// Provider defines the interface for cryptographic operations.
type Provider interface {
	// DeriveKey derives a vault key from a password and device salt.
	DeriveKey(password, salt string) ([]byte, error)

	// Seal encrypts plaintext into a tamper-evident envelope.
	Seal(plaintext, key []byte) (*Envelope, error)

	// Open verifies and decrypts an envelope. A MAC mismatch returns
	// ErrIntegrity and no plaintext.
	Open(env *Envelope, key []byte) ([]byte, error)
}
