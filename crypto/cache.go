package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

const cacheKeySize = 32

// DeriveCacheKey derives the AES-256 key protecting the on-disk
// sent-plaintext cache from the local private key. Losing the private
// key therefore also invalidates the cache, which is the intended
// behavior: cached plaintext must never outlive the key that authorized
// writing it.
func DeriveCacheKey(myPrivate *ecdh.PrivateKey) []byte {
	sum := sha256.Sum256(append([]byte("sealchat-sent-cache-v1:"), myPrivate.Bytes()...))
	return sum[:]
}

// SealCacheEntry encrypts one cache entry with AES-256-GCM. The blob
// layout is nonce || ciphertext.
func SealCacheEntry(cacheKey, plaintext []byte) ([]byte, error) {
	aead, err := newCacheAEAD(cacheKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenCacheEntry decrypts a nonce || ciphertext cache blob.
func OpenCacheEntry(cacheKey, blob []byte) ([]byte, error) {
	aead, err := newCacheAEAD(cacheKey)
	if err != nil {
		return nil, err
	}
	if len(blob) <= aead.NonceSize() {
		return nil, errors.New("cache blob too short")
	}

	plaintext, err := aead.Open(nil, blob[:aead.NonceSize()], blob[aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt cache entry: %w", err)
	}

	return plaintext, nil
}

func newCacheAEAD(cacheKey []byte) (cipher.AEAD, error) {
	if len(cacheKey) != cacheKeySize {
		return nil, fmt.Errorf("invalid cache key length: got %d want %d", len(cacheKey), cacheKeySize)
	}

	block, err := aes.NewCipher(cacheKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return aead, nil
}
