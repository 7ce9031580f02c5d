package session

import (
	"context"
	"errors"

	appcrypto "sealchat/crypto"
	"sealchat/models"
	"sealchat/storage"
	"sealchat/transport"
)

// KeyLifecycleManager tracks whether the local private key and the
// partner's public key are usable for one conversation, and drives the
// regeneration and mutual-recovery protocol.
//
// Four states are reachable: Healthy, PartnerKeyMissing,
// MyKeyMissingGenuine and MyKeyMissingArtificial. The genuine and
// artificial missing states are mutually exclusive; whichever cause is
// observed first wins and the other transition becomes a no-op until
// the first resolves.
//
// Not safe for concurrent use; the engine serializes all calls.
type KeyLifecycleManager struct {
	keys      *KeyStore
	partnerID string
	commands  transport.Commands

	// missingConfirmed is a confirmed genuine local key loss.
	missingConfirmed bool
	// artificiallyBlocked mirrors models.KeyState.ArtificiallyBlocked.
	artificiallyBlocked bool
	// partnerRecovered means the partner published a fresh key and the
	// conversation must reload to pick it up.
	partnerRecovered bool
}

// NewKeyLifecycleManager creates a manager for one conversation.
func NewKeyLifecycleManager(keys *KeyStore, partnerID string, commands transport.Commands) (*KeyLifecycleManager, error) {
	if keys == nil {
		return nil, errors.New("key store is required")
	}
	if partnerID == "" {
		return nil, errors.New("partner_id is required")
	}
	if commands == nil {
		return nil, errors.New("commands are required")
	}

	return &KeyLifecycleManager{
		keys:      keys,
		partnerID: partnerID,
		commands:  commands,
	}, nil
}

// CheckStatus inspects the key store and the latest partner-key status.
// Pure read, no side effects; safe to call on any focus or visibility
// event.
func (m *KeyLifecycleManager) CheckStatus() models.KeyState {
	myPresent := m.keys.HasPrivateKey() && !m.missingConfirmed

	return models.KeyState{
		MyPrivateKeyPresent:     myPresent && !m.artificiallyBlocked,
		PartnerPublicKeyPresent: m.keys.HasPartnerKey(m.partnerID),
		ArtificiallyBlocked:     m.artificiallyBlocked,
		PartnerRecovered:        m.partnerRecovered,
	}
}

// RegenerateMyKeys generates a fresh keypair, persists the private half
// and publishes the new public half. This irrecoverably forfeits the
// ability to decrypt this conversation's prior ciphertext; callers must
// obtain explicit confirmation before invoking. Failure is surfaced
// verbatim as a KeyError and leaves the prior key state flags unchanged.
func (m *KeyLifecycleManager) RegenerateMyKeys(ctx context.Context) error {
	oldFingerprint := ""
	if old, err := m.keys.PrivateKey(); err == nil {
		oldFingerprint = appcrypto.KeyFingerprint(old.PublicKey())
	}

	privateKey, err := m.keys.ReplacePrivateKey()
	if err != nil {
		return &KeyError{Op: "regenerate", Err: err}
	}

	publicKeyBase64 := appcrypto.PublicKeyBase64(privateKey)
	newFingerprint := appcrypto.KeyFingerprint(privateKey.PublicKey())

	if err := m.commands.PublishPublicKey(ctx, publicKeyBase64, newFingerprint); err != nil {
		return &KeyError{Op: "publish", Err: err}
	}

	// The cache key derived from the discarded private key can no
	// longer open prior sent-cache blobs.
	if err := m.keys.PurgeSentCache(m.partnerID); err != nil {
		return &KeyError{Op: "purge cache", Err: err}
	}

	_ = m.keys.RecordKeyEvent(storage.KeyEvent{
		PartnerID:      &m.partnerID,
		EventType:      storage.KeyEventRegenerated,
		OldFingerprint: oldFingerprint,
		NewFingerprint: newFingerprint,
	})

	m.missingConfirmed = false
	return nil
}

// OnPartnerRegenerated handles the transport reporting that the partner
// issued a new public key. The stale cached key is dropped so it can
// never decrypt new content, and the conversation is flagged as
// requiring a reload. The caller is responsible for marking previously
// cached partner-authored content unreadable in the MessageStore.
func (m *KeyLifecycleManager) OnPartnerRegenerated() error {
	if err := m.keys.DropPartnerKey(m.partnerID); err != nil {
		return err
	}

	m.partnerRecovered = true
	if !m.missingConfirmed {
		m.artificiallyBlocked = true
	}

	_ = m.keys.RecordKeyEvent(storage.KeyEvent{
		PartnerID: &m.partnerID,
		EventType: storage.KeyEventPartnerRegenerated,
	})

	return nil
}

// OnPartnerKeyReceived caches the partner's (possibly fresh) public key
// and resolves the artificial blocking state.
func (m *KeyLifecycleManager) OnPartnerKeyReceived(publicKeyBase64 string) error {
	if err := m.keys.SavePartnerKey(m.partnerID, publicKeyBase64); err != nil {
		return err
	}

	m.artificiallyBlocked = false
	m.partnerRecovered = false
	return nil
}

// EnsureMissingFlagSet confirms a genuine local key loss. Idempotent;
// it only transitions when the conversation is not already in the
// artificially blocked state, preserving the distinction between
// genuine and sympathetic key loss.
func (m *KeyLifecycleManager) EnsureMissingFlagSet() {
	if m.artificiallyBlocked || m.missingConfirmed {
		return
	}
	if m.keys.HasPrivateKey() {
		return
	}

	m.missingConfirmed = true
	_ = m.keys.RecordKeyEvent(storage.KeyEvent{
		PartnerID: &m.partnerID,
		EventType: storage.KeyEventKeyMissing,
	})
}
