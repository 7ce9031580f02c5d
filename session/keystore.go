package session

import (
	"crypto/ecdh"
	"errors"
	"fmt"

	appcrypto "sealchat/crypto"
	"sealchat/storage"
)

// KeyStore bundles the two durable halves of conversation key material:
// the local X25519 private key (PEM file) and cached partner public
// keys (SQLite rows). It is pure storage; lifecycle policy lives in
// KeyLifecycleManager.
type KeyStore struct {
	userID         string
	privateKeyPath string
	store          *storage.Store
}

// NewKeyStore creates a key store for one local user.
func NewKeyStore(userID, privateKeyPath string, store *storage.Store) (*KeyStore, error) {
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	if privateKeyPath == "" {
		return nil, errors.New("private key path is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}

	return &KeyStore{
		userID:         userID,
		privateKeyPath: privateKeyPath,
		store:          store,
	}, nil
}

// UserID returns the owning user's id.
func (k *KeyStore) UserID() string {
	return k.userID
}

// PrivateKey loads the local private key from disk.
func (k *KeyStore) PrivateKey() (*ecdh.PrivateKey, error) {
	return appcrypto.LoadX25519PrivateKey(k.privateKeyPath)
}

// HasPrivateKey reports whether the local private key is readable.
func (k *KeyStore) HasPrivateKey() bool {
	_, err := k.PrivateKey()
	return err == nil
}

// EnsurePrivateKey loads the local private key, generating it on first run.
func (k *KeyStore) EnsurePrivateKey() (*ecdh.PrivateKey, error) {
	return appcrypto.EnsureX25519PrivateKey(k.privateKeyPath)
}

// ReplacePrivateKey generates a fresh keypair and persists the private
// half, overwriting any previous key. Returns the new key.
func (k *KeyStore) ReplacePrivateKey() (*ecdh.PrivateKey, error) {
	privateKey, err := appcrypto.GenerateX25519PrivateKey()
	if err != nil {
		return nil, err
	}
	if err := appcrypto.SaveX25519PrivateKey(k.privateKeyPath, privateKey); err != nil {
		return nil, err
	}
	return privateKey, nil
}

// PartnerPublicKey returns the cached public key for a partner, or
// storage.ErrNotFound when no key is cached.
func (k *KeyStore) PartnerPublicKey(partnerID string) (*ecdh.PublicKey, error) {
	row, err := k.store.GetPartnerKey(k.userID, partnerID)
	if err != nil {
		return nil, err
	}

	publicKey, err := appcrypto.ParsePublicKeyBase64(row.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("cached partner key %q: %w", partnerID, err)
	}

	return publicKey, nil
}

// HasPartnerKey reports whether a usable partner public key is cached.
func (k *KeyStore) HasPartnerKey(partnerID string) bool {
	_, err := k.PartnerPublicKey(partnerID)
	return err == nil
}

// SavePartnerKey caches (or replaces) a partner's public key.
func (k *KeyStore) SavePartnerKey(partnerID, publicKeyBase64 string) error {
	publicKey, err := appcrypto.ParsePublicKeyBase64(publicKeyBase64)
	if err != nil {
		return err
	}

	return k.store.UpsertPartnerKey(storage.PartnerKey{
		UserID:         k.userID,
		PartnerID:      partnerID,
		PublicKey:      publicKeyBase64,
		KeyFingerprint: appcrypto.KeyFingerprint(publicKey),
	})
}

// DropPartnerKey removes a cached partner key. Used when the partner
// reports key loss: the stale key must never decrypt new content.
func (k *KeyStore) DropPartnerKey(partnerID string) error {
	return k.store.DeletePartnerKey(k.userID, partnerID)
}

// CacheKey derives the sent-cache sealing key from the current private key.
func (k *KeyStore) CacheKey() ([]byte, error) {
	privateKey, err := k.PrivateKey()
	if err != nil {
		return nil, err
	}
	return appcrypto.DeriveCacheKey(privateKey), nil
}

// WriteSentPlaintext seals and stores one sent message's plaintext.
func (k *KeyStore) WriteSentPlaintext(partnerID, messageID, plaintext string) error {
	cacheKey, err := k.CacheKey()
	if err != nil {
		return err
	}

	blob, err := appcrypto.SealCacheEntry(cacheKey, []byte(plaintext))
	if err != nil {
		return err
	}

	return k.store.WriteSentCacheEntry(k.userID, partnerID, messageID, blob)
}

// ReadSentPlaintext opens one sent message's cached plaintext. Returns
// storage.ErrNotFound when no entry exists, which callers render as an
// explicit "message sent" placeholder.
func (k *KeyStore) ReadSentPlaintext(partnerID, messageID string) (string, error) {
	cacheKey, err := k.CacheKey()
	if err != nil {
		return "", err
	}

	blob, err := k.store.ReadSentCacheEntry(k.userID, partnerID, messageID)
	if err != nil {
		return "", err
	}

	plaintext, err := appcrypto.OpenCacheEntry(cacheKey, blob)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// DeleteSentPlaintext drops one cache entry. Missing entries are not an error.
func (k *KeyStore) DeleteSentPlaintext(partnerID, messageID string) error {
	return k.store.DeleteSentCacheEntry(k.userID, partnerID, messageID)
}

// MoveSentPlaintext renames a cache entry from the correlation id to the
// server-assigned message id during optimistic-send reconciliation.
func (k *KeyStore) MoveSentPlaintext(partnerID, fromID, toID string) error {
	blob, err := k.store.ReadSentCacheEntry(k.userID, partnerID, fromID)
	if err != nil {
		return err
	}
	if err := k.store.WriteSentCacheEntry(k.userID, partnerID, toID, blob); err != nil {
		return err
	}
	return k.store.DeleteSentCacheEntry(k.userID, partnerID, fromID)
}

// PurgeSentCache drops the whole cache tree for one conversation.
func (k *KeyStore) PurgeSentCache(partnerID string) error {
	return k.store.PurgeSentCache(k.userID, partnerID)
}

// RecordKeyEvent appends a key lifecycle audit row.
func (k *KeyStore) RecordKeyEvent(event storage.KeyEvent) error {
	event.UserID = k.userID
	return k.store.RecordKeyEvent(event)
}
