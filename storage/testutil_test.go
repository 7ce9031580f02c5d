package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustUpsertPartnerKey(t *testing.T, store *Store, userID, partnerID string) {
	t.Helper()

	err := store.UpsertPartnerKey(PartnerKey{
		UserID:         userID,
		PartnerID:      partnerID,
		PublicKey:      "base64-public-key-" + partnerID,
		KeyFingerprint: "fingerprint-" + partnerID,
	})
	if err != nil {
		t.Fatalf("upsert partner key %q/%q: %v", userID, partnerID, err)
	}
}
