package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// NonceSize is the AES-GCM random nonce width mandated by the spec (12 bytes).
const NonceSize = 12

// TagSize is the AES-GCM authentication tag width (16 bytes).
const TagSize = 16

// KeySize is the AES-256 key width.
const KeySize = 32

// ErrKeySize is returned when a key is not exactly KeySize bytes.
var ErrKeySize = errors.New("cryptoprim: AES-256-GCM key must be 32 bytes")

// SealAESGCM encrypts plaintext with AES-256-GCM under key, using a fresh
// random 12-byte nonce, and returns nonce||ciphertext||tag split as
// (nonce, ciphertextAndTag). aad is bound into the tag but not encrypted.
func SealAESGCM(key, aad, plaintext []byte) (nonce, ciphertext []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoprim: new AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, TagSize)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoprim: new GCM: %w", err)
	}
	nonce, err = RandomBytes(NonceSize)
	if err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, aad)
	return nonce, ciphertext, nil
}

// OpenAESGCM decrypts ciphertext (including the appended tag) produced by
// SealAESGCM. It fails with an authentication error if aad does not match
// the value bound at seal time — this is how sealed blobs are cryptographically
// bound to the doc/tag they belong to.
func OpenAESGCM(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: new AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, TagSize)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: new GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: AEAD open failed: %w", err)
	}
	return plaintext, nil
}

// GenerateAES256Key returns a fresh random 32-byte AES-256 key.
func GenerateAES256Key() ([]byte, error) {
	return RandomBytes(KeySize)
}
