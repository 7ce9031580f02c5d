package models

// KeyStatus names one of the four reachable key-lifecycle states.
type KeyStatus string

const (
	// KeyStatusHealthy means both halves of the conversation keypair
	// material are present and usable.
	KeyStatusHealthy KeyStatus = "healthy"
	// KeyStatusPartnerMissing means the partner's public key is absent.
	KeyStatusPartnerMissing KeyStatus = "partner_key_missing"
	// KeyStatusMineMissingGenuine means the local private key is lost
	// and only regeneration can recover the conversation.
	KeyStatusMineMissingGenuine KeyStatus = "my_key_missing_genuine"
	// KeyStatusMineMissingArtificial means the local key is reported
	// missing only because the partner lost theirs.
	KeyStatusMineMissingArtificial KeyStatus = "my_key_missing_artificial"
)

// KeyState is the per-conversation key availability snapshot.
type KeyState struct {
	MyPrivateKeyPresent     bool `json:"my_private_key_present"`
	PartnerPublicKeyPresent bool `json:"partner_public_key_present"`

	// ArtificiallyBlocked is true when MyPrivateKeyPresent is reported
	// false purely because the partner lost their key. It is derived
	// display state and never set without that underlying cause.
	ArtificiallyBlocked bool `json:"artificially_blocked"`

	// PartnerRecovered is set after the partner publishes a fresh key;
	// the caller must reload to pick the new key up.
	PartnerRecovered bool `json:"partner_recovered"`
}

// Status collapses the snapshot into one of the four reachable states.
func (k KeyState) Status() KeyStatus {
	switch {
	case k.ArtificiallyBlocked:
		return KeyStatusMineMissingArtificial
	case !k.MyPrivateKeyPresent:
		return KeyStatusMineMissingGenuine
	case !k.PartnerPublicKeyPresent:
		return KeyStatusPartnerMissing
	default:
		return KeyStatusHealthy
	}
}

// Healthy reports whether encryption in both directions is possible.
func (k KeyState) Healthy() bool {
	return k.Status() == KeyStatusHealthy
}
