package storage

import "errors"

var (
	// ErrNotFound indicates a requested row or cache entry does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	// KeyEventRegenerated records a local keypair regeneration.
	KeyEventRegenerated = "regenerated"
	// KeyEventPartnerRegenerated records a partner publishing a fresh key.
	KeyEventPartnerRegenerated = "partner_regenerated"
	// KeyEventKeyMissing records a confirmed local private key loss.
	KeyEventKeyMissing = "key_missing"
)

// PartnerKey is the SQLite representation of a cached partner public key.
type PartnerKey struct {
	UserID         string
	PartnerID      string
	PublicKey      string
	KeyFingerprint string
	AddedTimestamp int64
	UpdatedAt      int64
}

// KeyEvent is an audit row for key lifecycle transitions.
type KeyEvent struct {
	ID             int64
	UserID         string
	PartnerID      *string
	EventType      string
	OldFingerprint string
	NewFingerprint string
	Timestamp      int64
}
