package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

const boxNonceSize = 24

var (
	// ErrDecryptFailed indicates ciphertext could not be opened with the
	// held key material. The caller renders the message unreadable; it
	// never retries with the same keys.
	ErrDecryptFailed = errors.New("crypto: decrypt failed")
)

// SealMessage encrypts plaintext for the partner's public key using the
// local private key. The wire form is base64(nonce || box).
func SealMessage(plaintext string, partnerPublic *ecdh.PublicKey, myPrivate *ecdh.PrivateKey) (string, error) {
	if partnerPublic == nil {
		return "", errors.New("partner public key is required")
	}
	if myPrivate == nil {
		return "", errors.New("private key is required")
	}

	var nonce [boxNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	peer, err := keyTo32(partnerPublic.Bytes())
	if err != nil {
		return "", err
	}
	priv, err := keyTo32(myPrivate.Bytes())
	if err != nil {
		return "", err
	}

	sealed := box.Seal(nonce[:], []byte(plaintext), &nonce, peer, priv)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenMessage decrypts a base64(nonce || box) payload produced by the
// sender's private key for the local public key. A failed open returns
// ErrDecryptFailed; the distinction between wrong key and corrupt
// ciphertext is not observable.
func OpenMessage(ciphertext string, senderPublic *ecdh.PublicKey, myPrivate *ecdh.PrivateKey) (string, error) {
	if senderPublic == nil {
		return "", errors.New("sender public key is required")
	}
	if myPrivate == nil {
		return "", errors.New("private key is required")
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) <= boxNonceSize {
		return "", ErrDecryptFailed
	}

	var nonce [boxNonceSize]byte
	copy(nonce[:], raw[:boxNonceSize])

	peer, err := keyTo32(senderPublic.Bytes())
	if err != nil {
		return "", err
	}
	priv, err := keyTo32(myPrivate.Bytes())
	if err != nil {
		return "", err
	}

	plaintext, ok := box.Open(nil, raw[boxNonceSize:], &nonce, peer, priv)
	if !ok {
		return "", ErrDecryptFailed
	}

	return string(plaintext), nil
}

func keyTo32(raw []byte) (*[32]byte, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("invalid key size %d", len(raw))
	}
	var out [32]byte
	copy(out[:], raw)
	return &out, nil
}
