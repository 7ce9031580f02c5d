package storage

import (
	"errors"
	"testing"
)

func TestUpsertPartnerKeyInsertAndReplace(t *testing.T) {
	store := newTestStore(t)
	mustUpsertPartnerKey(t, store, "alice", "bob")

	key, err := store.GetPartnerKey("alice", "bob")
	if err != nil {
		t.Fatalf("GetPartnerKey failed: %v", err)
	}
	if key.PublicKey != "base64-public-key-bob" {
		t.Fatalf("unexpected public key: %q", key.PublicKey)
	}
	firstAdded := key.AddedTimestamp

	err = store.UpsertPartnerKey(PartnerKey{
		UserID:         "alice",
		PartnerID:      "bob",
		PublicKey:      "rotated-public-key",
		KeyFingerprint: "rotated-fingerprint",
		UpdatedAt:      firstAdded + 1000,
	})
	if err != nil {
		t.Fatalf("replace partner key failed: %v", err)
	}

	rotated, err := store.GetPartnerKey("alice", "bob")
	if err != nil {
		t.Fatalf("GetPartnerKey after replace failed: %v", err)
	}
	if rotated.PublicKey != "rotated-public-key" {
		t.Fatalf("replace did not update public key: %q", rotated.PublicKey)
	}
	if rotated.AddedTimestamp != firstAdded {
		t.Fatalf("replace changed added_timestamp: got %d want %d", rotated.AddedTimestamp, firstAdded)
	}
	if rotated.UpdatedAt != firstAdded+1000 {
		t.Fatalf("replace did not update updated_at: got %d", rotated.UpdatedAt)
	}
}

func TestUpsertPartnerKeyValidation(t *testing.T) {
	store := newTestStore(t)

	cases := []struct {
		name string
		key  PartnerKey
	}{
		{name: "missing user_id", key: PartnerKey{PartnerID: "bob", PublicKey: "pk", KeyFingerprint: "fp"}},
		{name: "missing partner_id", key: PartnerKey{UserID: "alice", PublicKey: "pk", KeyFingerprint: "fp"}},
		{name: "missing public_key", key: PartnerKey{UserID: "alice", PartnerID: "bob", KeyFingerprint: "fp"}},
		{name: "missing fingerprint", key: PartnerKey{UserID: "alice", PartnerID: "bob", PublicKey: "pk"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := store.UpsertPartnerKey(tc.key); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestGetPartnerKeyNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetPartnerKey("alice", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeletePartnerKey(t *testing.T) {
	store := newTestStore(t)
	mustUpsertPartnerKey(t, store, "alice", "bob")

	if err := store.DeletePartnerKey("alice", "bob"); err != nil {
		t.Fatalf("DeletePartnerKey failed: %v", err)
	}
	if _, err := store.GetPartnerKey("alice", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	if err := store.DeletePartnerKey("alice", "bob"); err != nil {
		t.Fatalf("deleting an absent key should not error: %v", err)
	}
}

func TestRecordAndGetKeyEvents(t *testing.T) {
	store := newTestStore(t)

	partner := "bob"
	events := []KeyEvent{
		{UserID: "alice", EventType: KeyEventKeyMissing, Timestamp: 1000},
		{UserID: "alice", PartnerID: &partner, EventType: KeyEventPartnerRegenerated, Timestamp: 2000},
		{UserID: "alice", EventType: KeyEventRegenerated, OldFingerprint: "old", NewFingerprint: "new", Timestamp: 3000},
	}
	for _, event := range events {
		if err := store.RecordKeyEvent(event); err != nil {
			t.Fatalf("RecordKeyEvent %q failed: %v", event.EventType, err)
		}
	}

	got, err := store.GetKeyEvents("alice", 10)
	if err != nil {
		t.Fatalf("GetKeyEvents failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].EventType != KeyEventRegenerated {
		t.Fatalf("expected newest event first, got %q", got[0].EventType)
	}
	if got[1].PartnerID == nil || *got[1].PartnerID != "bob" {
		t.Fatalf("partner id not round-tripped: %+v", got[1])
	}

	if err := store.RecordKeyEvent(KeyEvent{UserID: "alice", EventType: "bogus"}); err == nil {
		t.Fatal("expected invalid event type to be rejected")
	}
}
