package crypto_test

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/strongroom/internal/crypto"
)

func TestSecurityRequirements(t *testing.T) {
	provider := crypto.NewProvider()

	t.Run("derivation parameters are fixed", func(t *testing.T) {
		assert.Equal(t, 5000, crypto.Iterations)
		assert.Equal(t, 256, crypto.KeyBits)
		assert.NotEmpty(t, crypto.Pepper)
	})

	t.Run("iv is fresh for each seal", func(t *testing.T) {
		key := randomKey(t)
		plaintext := []byte("test message")

		env1, err := provider.Seal(plaintext, key)
		require.NoError(t, err)
		env2, err := provider.Seal(plaintext, key)
		require.NoError(t, err)

		assert.NotEqual(t, env1.IV, env2.IV)
		assert.NotEqual(t, env1.Cipher, env2.Cipher)
		assert.Len(t, env1.IV, crypto.IVSize*2)
	})

	t.Run("envelope fields are text", func(t *testing.T) {
		env, err := provider.Seal([]byte("x"), randomKey(t))
		require.NoError(t, err)

		_, err = hex.DecodeString(env.IV)
		assert.NoError(t, err)
		_, err = hex.DecodeString(env.HMAC)
		assert.NoError(t, err)
		assert.Len(t, env.HMAC, 64)
	})

	t.Run("different devices derive different keys", func(t *testing.T) {
		k1, err := provider.DeriveKey("p", "device-a")
		require.NoError(t, err)
		k2, err := provider.DeriveKey("p", "device-b")
		require.NoError(t, err)

		assert.NotEqual(t, k1, k2)
	})
}

func TestWipe(t *testing.T) {
	key := bytes.Repeat([]byte{0xaa}, crypto.KeySize)

	crypto.Wipe(key)

	assert.Equal(t, make([]byte, crypto.KeySize), key)
}

func TestLockMemory(t *testing.T) {
	key := make([]byte, crypto.KeySize)

	// RLIMIT_MEMLOCK may be zero in containers
	if err := crypto.LockMemory(key); err != nil {
		t.Skipf("mlock unavailable: %v", err)
	}
	assert.NoError(t, crypto.UnlockMemory(key))

	assert.NoError(t, crypto.LockMemory(nil))
}

func TestUUIDGenerator(t *testing.T) {
	gen := crypto.NewIDGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := gen.NewID()
		require.NoError(t, err)
		assert.Len(t, id, 36)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestUUIDGeneratorDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x11}, 16)

	id, err := crypto.NewIDGeneratorWithRandom(bytes.NewReader(seed)).NewID()
	require.NoError(t, err)
	assert.Equal(t, "11111111-1111-4111-9111-111111111111", id)

	_, err = crypto.NewIDGeneratorWithRandom(bytes.NewReader(nil)).NewID()
	assert.Error(t, err)
}
