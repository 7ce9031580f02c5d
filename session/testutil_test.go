package session

import (
	"context"
	"crypto/ecdh"
	"path/filepath"
	"sync"
	"testing"
	"time"

	appcrypto "sealchat/crypto"
	"sealchat/storage"
	"sealchat/transport"
)

// testPair is one conversation fixture: a fully provisioned local key
// store plus the partner's private key so tests can seal ciphertext the
// way the remote side would.
type testPair struct {
	me         *KeyStore
	partnerID  string
	partnerKey *ecdh.PrivateKey
}

func newTestPair(t *testing.T) *testPair {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := storage.Open(dataDir)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	keys, err := NewKeyStore("alice", filepath.Join(dataDir, "x25519.pem"), store)
	if err != nil {
		t.Fatalf("new key store: %v", err)
	}
	if _, err := keys.EnsurePrivateKey(); err != nil {
		t.Fatalf("ensure private key: %v", err)
	}

	partnerKey, err := appcrypto.GenerateX25519PrivateKey()
	if err != nil {
		t.Fatalf("generate partner key: %v", err)
	}
	if err := keys.SavePartnerKey("bob", appcrypto.PublicKeyBase64(partnerKey)); err != nil {
		t.Fatalf("save partner key: %v", err)
	}

	return &testPair{me: keys, partnerID: "bob", partnerKey: partnerKey}
}

// sealFromPartner produces ciphertext exactly as the remote peer would:
// sealed with the partner's private key for the local public key.
func (p *testPair) sealFromPartner(t *testing.T, plaintext string) string {
	t.Helper()

	myKey, err := p.me.PrivateKey()
	if err != nil {
		t.Fatalf("load local private key: %v", err)
	}
	ciphertext, err := appcrypto.SealMessage(plaintext, myKey.PublicKey(), p.partnerKey)
	if err != nil {
		t.Fatalf("seal from partner: %v", err)
	}
	return ciphertext
}

// wireFromPartner builds an inbound wire message authored by the partner.
func (p *testPair) wireFromPartner(t *testing.T, id, plaintext string, createdAt int64) transport.WireMessage {
	t.Helper()

	return transport.WireMessage{
		ID:         id,
		SenderID:   p.partnerID,
		ReceiverID: "alice",
		Ciphertext: p.sealFromPartner(t, plaintext),
		CreatedAt:  createdAt,
	}
}

// fakeCommands records outbound transport commands. Safe for concurrent
// use; the engine invokes it from its own goroutine.
type fakeCommands struct {
	mu sync.Mutex

	sent      []transport.OutgoingMessage
	marked    []string
	typing    []string
	published []string

	sendErr     error
	markReadErr error
	publishErr  error
}

func (f *fakeCommands) SendMessage(_ context.Context, message transport.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeCommands) MarkRead(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markReadErr != nil {
		return f.markReadErr
	}
	f.marked = append(f.marked, messageID)
	return nil
}

func (f *fakeCommands) SendTyping(_ context.Context, toUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, toUserID)
	return nil
}

func (f *fakeCommands) PublishPublicKey(_ context.Context, publicKey, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publicKey)
	return nil
}

func (f *fakeCommands) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeCommands) markedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.marked))
	copy(out, f.marked)
	return out
}

func (f *fakeCommands) typingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.typing)
}

// fakeHistory serves canned history pages.
type fakeHistory struct {
	pages []transport.HistoryPage
	err   error
	calls int
}

func (f *fakeHistory) FetchPage(_ context.Context, _ string, _, offset int) (*transport.HistoryPage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= len(f.pages) {
		page := f.pages[f.calls-1]
		return &page, nil
	}
	return &transport.HistoryPage{}, nil
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
