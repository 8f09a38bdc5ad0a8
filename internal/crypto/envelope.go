package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// Envelope is the at-rest form of every encrypted object. All fields are
// text: base64 ciphertext, hex IV and hex HMAC-SHA256 over cipher||iv.
type Envelope struct {
	Cipher string `json:"cipher"`
	IV     string `json:"iv"`
	HMAC   string `json:"hmac"`
}

func seal(plaintext, key, iv []byte) (*Envelope, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	env := &Envelope{
		Cipher: base64.StdEncoding.EncodeToString(ciphertext),
		IV:     hex.EncodeToString(iv),
	}
	env.HMAC = hex.EncodeToString(mac(env.Cipher, env.IV, key))

	return env, nil
}

func open(env *Envelope, key []byte) ([]byte, error) {
	// Authenticate before touching the ciphertext
	stored, err := hex.DecodeString(env.HMAC)
	if err != nil {
		return nil, ErrIntegrity
	}
	if !hmac.Equal(stored, mac(env.Cipher, env.IV, key)) {
		return nil, ErrIntegrity
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Cipher)
	if err != nil {
		return nil, ErrIntegrity
	}
	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != IVSize {
		return nil, ErrIntegrity
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrIntegrity
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, ok := pkcs7Unpad(padded, aes.BlockSize)
	if !ok {
		return nil, ErrIntegrity
	}

	return plaintext, nil
}

func mac(cipherText, ivText string, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(cipherText))
	h.Write([]byte(ivText))
	return h.Sum(nil)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
