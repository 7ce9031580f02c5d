package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"sealchat/transport"
)

func newTestMessageStore(t *testing.T) (*MessageStore, *testPair) {
	t.Helper()

	pair := newTestPair(t)
	store, err := NewMessageStore(pair.me, pair.partnerID)
	if err != nil {
		t.Fatalf("new message store: %v", err)
	}
	return store, pair
}

func TestMessageStoreOrderedInsert(t *testing.T) {
	store, pair := newTestMessageStore(t)

	// Deliver out of order; the snapshot must come back sorted by
	// timestamp with id as tiebreaker.
	store.ApplyIncoming(pair.wireFromPartner(t, "m3", "third", 3000))
	store.ApplyIncoming(pair.wireFromPartner(t, "m1", "first", 1000))
	store.ApplyIncoming(pair.wireFromPartner(t, "m2", "second", 2000))
	store.ApplyIncoming(transport.WireMessage{
		ID: "m2b", SenderID: pair.partnerID, ReceiverID: "alice",
		Ciphertext: pair.sealFromPartner(t, "tied"), CreatedAt: 2000,
	})

	got := store.Messages()
	wantOrder := []string{"m1", "m2", "m2b", "m3"}
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d messages, want %d", len(got), len(wantOrder))
	}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("position %d: got id %q, want %q", i, got[i].ID, id)
		}
	}
	if got[0].Plaintext != "first" {
		t.Errorf("decrypted plaintext = %q, want %q", got[0].Plaintext, "first")
	}
}

func TestMessageStoreApplyIncomingIdempotent(t *testing.T) {
	store, pair := newTestMessageStore(t)

	wire := pair.wireFromPartner(t, "m1", "hello", 1000)
	store.ApplyIncoming(wire)
	store.ApplyIncoming(wire)
	store.ApplyIncoming(wire)

	if store.Len() != 1 {
		t.Fatalf("got %d messages after duplicate delivery, want 1", store.Len())
	}
}

func TestMessageStoreDuplicateMergesFlags(t *testing.T) {
	store, pair := newTestMessageStore(t)

	wire := pair.wireFromPartner(t, "m1", "hello", 1000)
	store.ApplyIncoming(wire)

	readAt := int64(5000)
	wire.ReadAt = &readAt
	store.ApplyIncoming(wire)

	got, ok := store.Get("m1")
	if !ok {
		t.Fatal("message m1 missing")
	}
	if got.ReadAt == nil || *got.ReadAt != readAt {
		t.Errorf("ReadAt = %v, want %d", got.ReadAt, readAt)
	}
	if store.Len() != 1 {
		t.Errorf("got %d messages, want 1", store.Len())
	}
}

func TestMessageStoreUnreadableWithoutPartnerKey(t *testing.T) {
	store, pair := newTestMessageStore(t)

	if err := pair.me.DropPartnerKey(pair.partnerID); err != nil {
		t.Fatalf("drop partner key: %v", err)
	}

	got := store.ApplyIncoming(pair.wireFromPartner(t, "m1", "secret", 1000))
	if !got.Unreadable || !got.IsSystem {
		t.Fatalf("Unreadable=%v IsSystem=%v, want both true", got.Unreadable, got.IsSystem)
	}
	if got.Plaintext == "secret" {
		t.Error("plaintext leaked despite missing partner key")
	}
}

func TestMessageStoreOwnMessageFromSentCache(t *testing.T) {
	store, pair := newTestMessageStore(t)

	record, err := store.ApplyLocalSend("my draft", "")
	if err != nil {
		t.Fatalf("apply local send: %v", err)
	}
	if !record.Pending || record.CorrelationID == "" {
		t.Fatalf("Pending=%v CorrelationID=%q, want pending with correlation id", record.Pending, record.CorrelationID)
	}

	acked, ok := store.ApplyAck(transport.Ack{CorrelationID: record.CorrelationID, ID: "srv-1"})
	if !ok {
		t.Fatal("ack did not match the pending record")
	}
	if acked.Pending || acked.ID != "srv-1" {
		t.Fatalf("Pending=%v ID=%q after ack, want settled srv-1", acked.Pending, acked.ID)
	}
	if store.Len() != 1 {
		t.Fatalf("got %d messages after ack, want 1 (swap, not duplicate)", store.Len())
	}

	// A fresh store simulating a reopen must redisplay the plaintext
	// from the sealed sent cache, not the "message sent" notice.
	reopened, err := NewMessageStore(pair.me, pair.partnerID)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	got := reopened.ApplyIncoming(transport.WireMessage{
		ID: "srv-1", SenderID: "alice", ReceiverID: pair.partnerID,
		Ciphertext: "opaque", CreatedAt: record.CreatedAt,
	})
	if got.Plaintext != "my draft" {
		t.Errorf("redisplayed plaintext = %q, want %q", got.Plaintext, "my draft")
	}
	if got.IsSystem {
		t.Error("cached own message rendered as system notice")
	}
}

func TestMessageStoreOwnMessageWithoutCacheEntry(t *testing.T) {
	store, _ := newTestMessageStore(t)

	got := store.ApplyIncoming(transport.WireMessage{
		ID: "srv-9", SenderID: "alice", ReceiverID: "bob",
		Ciphertext: "opaque", CreatedAt: 1000,
	})
	if !got.IsSystem {
		t.Error("own message without cache entry should render as a notice")
	}
	if got.Unreadable {
		t.Error("missing cache entry is not a decryption failure")
	}
}

func TestMessageStoreAckUnknownCorrelationIgnored(t *testing.T) {
	store, _ := newTestMessageStore(t)

	if _, ok := store.ApplyAck(transport.Ack{CorrelationID: "ghost", ID: "srv-1"}); ok {
		t.Fatal("ack for unknown correlation id should be dropped")
	}
	if store.Len() != 0 {
		t.Fatalf("got %d messages, want 0", store.Len())
	}
}

func TestMessageStoreRemovePending(t *testing.T) {
	store, _ := newTestMessageStore(t)

	record, err := store.ApplyLocalSend("doomed", "")
	if err != nil {
		t.Fatalf("apply local send: %v", err)
	}
	store.RemovePending(record.CorrelationID)

	if store.Len() != 0 {
		t.Fatalf("got %d messages after remove, want 0", store.Len())
	}
	if _, ok := store.ApplyAck(transport.Ack{CorrelationID: record.CorrelationID, ID: "srv-1"}); ok {
		t.Error("late ack matched a removed pending record")
	}
}

func TestMessageStoreEditGuards(t *testing.T) {
	store, pair := newTestMessageStore(t)

	store.ApplyIncoming(pair.wireFromPartner(t, "theirs", "hello", 1000))

	mine, err := store.ApplyLocalSend("original", "")
	if err != nil {
		t.Fatalf("apply local send: %v", err)
	}
	store.ApplyAck(transport.Ack{CorrelationID: mine.CorrelationID, ID: "mine"})

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{"unknown id", "nope", ErrMessageNotFound},
		{"partner message", "theirs", ErrNotOwned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Edit(tt.id, "changed"); !errors.Is(err, tt.wantErr) {
				t.Errorf("Edit(%q) error = %v, want %v", tt.id, err, tt.wantErr)
			}
		})
	}

	edited, err := store.Edit("mine", "changed")
	if err != nil {
		t.Fatalf("edit own message: %v", err)
	}
	if edited.Plaintext != "changed" || !edited.IsEdited || edited.EditedAt == nil {
		t.Errorf("edit result = %+v, want changed text with edit markers", edited)
	}

	if _, err := store.Delete("mine"); err != nil {
		t.Fatalf("delete own message: %v", err)
	}
	if _, err := store.Edit("mine", "again"); !errors.Is(err, ErrMessageDeleted) {
		t.Errorf("edit after delete error = %v, want %v", err, ErrMessageDeleted)
	}
}

func TestMessageStoreDeleteKeepsSlot(t *testing.T) {
	store, _ := newTestMessageStore(t)

	mine, err := store.ApplyLocalSend("to delete", "")
	if err != nil {
		t.Fatalf("apply local send: %v", err)
	}
	store.ApplyAck(transport.Ack{CorrelationID: mine.CorrelationID, ID: "mine"})

	deleted, err := store.Delete("mine")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted.IsDeleted() || !deleted.IsSystem {
		t.Fatalf("IsDeleted=%v IsSystem=%v, want tombstone", deleted.IsDeleted(), deleted.IsSystem)
	}
	if deleted.Plaintext == "to delete" || deleted.Ciphertext != "" {
		t.Error("tombstone retained message content")
	}
	if store.Len() != 1 {
		t.Errorf("got %d messages, want tombstone slot kept", store.Len())
	}
}

func TestMessageStoreRemoteDeleteIdempotent(t *testing.T) {
	store, pair := newTestMessageStore(t)

	store.ApplyIncoming(pair.wireFromPartner(t, "m1", "hello", 1000))
	store.ApplyDeleted("m1")
	store.ApplyDeleted("m1")
	store.ApplyDeleted("ghost")

	got, _ := store.Get("m1")
	if !got.IsDeleted() {
		t.Fatal("remote delete did not tombstone")
	}
}

func TestMessageStoreApplyReadOnce(t *testing.T) {
	store, pair := newTestMessageStore(t)

	store.ApplyIncoming(pair.wireFromPartner(t, "m1", "hello", 1000))
	store.ApplyRead("m1", 7000)
	store.ApplyRead("m1", 9000)

	got, _ := store.Get("m1")
	if got.ReadAt == nil || *got.ReadAt != 7000 {
		t.Fatalf("ReadAt = %v, want first timestamp 7000 kept", got.ReadAt)
	}
}

func TestMessageStoreMarkPartnerMessagesUnreadable(t *testing.T) {
	store, pair := newTestMessageStore(t)

	store.ApplyIncoming(pair.wireFromPartner(t, "p1", "one", 1000))
	store.ApplyIncoming(pair.wireFromPartner(t, "p2", "two", 2000))
	mine, err := store.ApplyLocalSend("mine", "")
	if err != nil {
		t.Fatalf("apply local send: %v", err)
	}
	store.ApplyAck(transport.Ack{CorrelationID: mine.CorrelationID, ID: "m1"})
	store.ApplyDeleted("p2")

	flipped := store.MarkPartnerMessagesUnreadable()
	if flipped != 1 {
		t.Fatalf("flipped %d messages, want 1 (tombstones and own messages skipped)", flipped)
	}

	p1, _ := store.Get("p1")
	if !p1.Unreadable || p1.Plaintext == "one" {
		t.Errorf("p1 = %+v, want unreadable with content gone", p1)
	}
	own, _ := store.Get("m1")
	if own.Unreadable {
		t.Error("own message flipped unreadable")
	}
}

func TestMessageStoreLoadHistoryPaginates(t *testing.T) {
	store, pair := newTestMessageStore(t)

	history := &fakeHistory{pages: []transport.HistoryPage{
		{Messages: []transport.WireMessage{pair.wireFromPartner(t, "m1", "one", 1000)}, HasMore: true},
		{Messages: []transport.WireMessage{pair.wireFromPartner(t, "m2", "two", 2000)}, HasMore: false},
	}}

	if err := store.LoadHistory(context.Background(), history); err != nil {
		t.Fatalf("load history: %v", err)
	}
	if history.calls != 2 {
		t.Errorf("fetched %d pages, want 2", history.calls)
	}
	if !store.HistoryLoaded() || store.Len() != 2 {
		t.Errorf("HistoryLoaded=%v Len=%d, want loaded with 2 messages", store.HistoryLoaded(), store.Len())
	}
}

func TestMessageStoreLoadHistoryFailureKeepsState(t *testing.T) {
	store, pair := newTestMessageStore(t)

	store.ApplyIncoming(pair.wireFromPartner(t, "m0", "early", 500))

	history := &fakeHistory{err: errors.New("boom")}
	err := store.LoadHistory(context.Background(), history)

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
	if store.HistoryLoaded() {
		t.Error("HistoryLoaded after failed fetch")
	}
	if store.Len() != 1 {
		t.Errorf("got %d messages, want pre-fetch state kept", store.Len())
	}
}

func TestMessageStoreSnapshotDayGroups(t *testing.T) {
	store, pair := newTestMessageStore(t)

	dayOne := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local).UnixMilli()
	dayTwo := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local).UnixMilli()

	store.ApplyIncoming(pair.wireFromPartner(t, "a", "one", dayOne))
	store.ApplyIncoming(pair.wireFromPartner(t, "b", "two", dayOne+60_000))
	store.ApplyIncoming(pair.wireFromPartner(t, "c", "three", dayTwo))

	groups := store.Snapshot()
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Day != "2026-03-01" || len(groups[0].Messages) != 2 {
		t.Errorf("group[0] = %s with %d messages, want 2026-03-01 with 2", groups[0].Day, len(groups[0].Messages))
	}
	if groups[1].Day != "2026-03-02" || len(groups[1].Messages) != 1 {
		t.Errorf("group[1] = %s with %d messages, want 2026-03-02 with 1", groups[1].Day, len(groups[1].Messages))
	}
}
