package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appcrypto "sealchat/crypto"
	"sealchat/models"
	"sealchat/transport"
)

// Snapshot is the consolidated, ordered state published to callers
// after every mutation.
type Snapshot struct {
	PartnerID     string
	Groups        []models.MessageGroup
	KeyState      models.KeyState
	PartnerOnline bool
	PartnerTyping bool
	Connected     bool
	HistoryLoaded bool
}

// EngineOptions configures one conversation session.
type EngineOptions struct {
	Keys      *KeyStore
	PartnerID string
	Commands  transport.Commands
	Events    <-chan transport.Event
	History   HistoryFetcher

	// OnState receives the merged snapshot after every state change.
	// Invoked from the engine goroutine; implementations must not call
	// back into the engine synchronously.
	OnState func(Snapshot)

	TypingThrottle time.Duration
	TypingExpiry   time.Duration
}

// Engine orchestrates the per-conversation components behind a single
// entry surface. All transport events, timer callbacks and caller
// operations are serialized onto one sequential op queue, so no two
// mutations of the message store or key lifecycle run concurrently for
// the same conversation.
type Engine struct {
	partnerID string
	keys      *KeyStore
	commands  transport.Commands
	events    <-chan transport.Event
	history   HistoryFetcher
	onState   func(Snapshot)

	store     *MessageStore
	lifecycle *KeyLifecycleManager
	presence  *PresenceTracker
	typing    *TypingCoordinator
	receipts  *ReadReceiptCoordinator

	// visible holds message ids the consumer confirmed as actually
	// rendered on screen; read marking never fires for data that only
	// loaded off-screen.
	visible map[string]struct{}

	connected bool

	ops       chan func()
	closed    chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}
}

// NewEngine creates a session for one conversation and starts its event
// loop. Call Init to load history, and Close to tear the session down.
func NewEngine(options EngineOptions) (*Engine, error) {
	if options.Keys == nil {
		return nil, errors.New("key store is required")
	}
	if options.PartnerID == "" {
		return nil, errors.New("partner_id is required")
	}
	if options.Commands == nil {
		return nil, errors.New("commands are required")
	}
	if options.Events == nil {
		return nil, errors.New("event channel is required")
	}

	store, err := NewMessageStore(options.Keys, options.PartnerID)
	if err != nil {
		return nil, err
	}
	lifecycle, err := NewKeyLifecycleManager(options.Keys, options.PartnerID, options.Commands)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		partnerID: options.PartnerID,
		keys:      options.Keys,
		commands:  options.Commands,
		events:    options.Events,
		history:   options.History,
		onState:   options.OnState,
		store:     store,
		lifecycle: lifecycle,
		presence:  NewPresenceTracker(),
		receipts:  NewReadReceiptCoordinator(options.Keys.UserID()),
		visible:   make(map[string]struct{}),
		ops:       make(chan func(), 128),
		closed:    make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	e.typing = NewTypingCoordinator(options.TypingThrottle, options.TypingExpiry, e.wake)

	go e.run()
	return e, nil
}

// Init loads conversation history and performs the initial key check.
// Events received while the load is in flight wait in the queue and are
// applied afterwards, in arrival order.
func (e *Engine) Init(ctx context.Context) error {
	var initErr error
	err := e.do(ctx, func() {
		e.lifecycle.EnsureMissingFlagSet()
		if e.history == nil {
			return
		}
		initErr = e.store.LoadHistory(ctx, e.history)
	})
	if err != nil {
		return err
	}
	return initErr
}

// Send encrypts and dispatches a message, inserting an optimistic
// record immediately. On dispatch failure the record is removed and the
// returned SendError carries the draft back to the caller.
func (e *Engine) Send(ctx context.Context, text, imageRef string) (models.Message, error) {
	var (
		record  models.Message
		sendErr error
	)
	err := e.do(ctx, func() {
		record, sendErr = e.sendLocked(ctx, text, imageRef)
	})
	if err != nil {
		return models.Message{}, err
	}
	return record, sendErr
}

func (e *Engine) sendLocked(ctx context.Context, text, imageRef string) (models.Message, error) {
	state := e.lifecycle.CheckStatus()
	if !state.Healthy() {
		return models.Message{}, &SendError{Draft: text, Err: fmt.Errorf("%w: %s", ErrKeyUnavailable, state.Status())}
	}

	partnerKey, err := e.keys.PartnerPublicKey(e.partnerID)
	if err != nil {
		return models.Message{}, &SendError{Draft: text, Err: err}
	}
	privateKey, err := e.keys.PrivateKey()
	if err != nil {
		return models.Message{}, &SendError{Draft: text, Err: err}
	}

	ciphertext, err := appcrypto.SealMessage(text, partnerKey, privateKey)
	if err != nil {
		return models.Message{}, &SendError{Draft: text, Err: err}
	}

	record, err := e.store.ApplyLocalSend(text, imageRef)
	if err != nil {
		return models.Message{}, &SendError{Draft: text, Err: err}
	}

	err = e.commands.SendMessage(ctx, transport.OutgoingMessage{
		CorrelationID: record.CorrelationID,
		ReceiverID:    e.partnerID,
		Ciphertext:    ciphertext,
		CreatedAt:     record.CreatedAt,
		HasImage:      record.HasImage,
		ImageRef:      record.ImageRef,
	})
	if err != nil {
		e.store.RemovePending(record.CorrelationID)
		return models.Message{}, &SendError{Draft: text, Err: err}
	}

	return record, nil
}

// EditMessage replaces the text of an owned message.
func (e *Engine) EditMessage(ctx context.Context, id, newText string) error {
	var editErr error
	if err := e.do(ctx, func() {
		_, editErr = e.store.Edit(id, newText)
	}); err != nil {
		return err
	}
	return editErr
}

// DeleteMessage tombstones an owned message.
func (e *Engine) DeleteMessage(ctx context.Context, id string) error {
	var deleteErr error
	if err := e.do(ctx, func() {
		_, deleteErr = e.store.Delete(id)
	}); err != nil {
		return err
	}
	return deleteErr
}

// SendTyping emits a typing signal, throttled to one per rolling window.
func (e *Engine) SendTyping(ctx context.Context) error {
	var typingErr error
	if err := e.do(ctx, func() {
		if !e.typing.NotifyLocalTyping() {
			return
		}
		typingErr = e.commands.SendTyping(ctx, e.partnerID)
	}); err != nil {
		return err
	}
	return typingErr
}

// MarkVisible records which messages the consumer actually rendered and
// dispatches read receipts for the eligible ones. Marking requires both
// a finished history load and confirmed visibility.
func (e *Engine) MarkVisible(ctx context.Context, ids []string) error {
	return e.do(ctx, func() {
		for _, id := range ids {
			if id != "" {
				e.visible[id] = struct{}{}
			}
		}
		e.flushReceipts(ctx)
	})
}

// ManuallyCheckKeyStatus re-evaluates key availability. Safe to call on
// any focus or visibility event.
func (e *Engine) ManuallyCheckKeyStatus(ctx context.Context) (models.KeyState, error) {
	var state models.KeyState
	if err := e.do(ctx, func() {
		e.lifecycle.EnsureMissingFlagSet()
		state = e.lifecycle.CheckStatus()
	}); err != nil {
		return models.KeyState{}, err
	}
	return state, nil
}

// RegenerateKeys generates and publishes a fresh keypair. Irreversible;
// the caller must have obtained explicit user confirmation.
func (e *Engine) RegenerateKeys(ctx context.Context) error {
	var keyErr error
	if err := e.do(ctx, func() {
		keyErr = e.lifecycle.RegenerateMyKeys(ctx)
	}); err != nil {
		return err
	}
	return keyErr
}

// UpdatePartnerKey caches the partner's (possibly fresh) public key and
// clears the artificial blocking state.
func (e *Engine) UpdatePartnerKey(ctx context.Context, publicKeyBase64 string) error {
	var keyErr error
	if err := e.do(ctx, func() {
		keyErr = e.lifecycle.OnPartnerKeyReceived(publicKeyBase64)
	}); err != nil {
		return err
	}
	return keyErr
}

// State returns the current merged snapshot.
func (e *Engine) State(ctx context.Context) (Snapshot, error) {
	var snapshot Snapshot
	if err := e.do(ctx, func() {
		snapshot = e.snapshotLocked()
	}); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// Close tears the session down. In-flight optimistic state is
// discarded; an acknowledgment arriving after teardown is dropped.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.typing.Stop()
	})
	<-e.loopDone
}

func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}

	select {
	case e.ops <- op:
	case <-e.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-e.loopDone:
		return ErrSessionClosed
	}
}

// wake enqueues an empty op so the loop republishes state. Used by
// timer callbacks that changed component state outside the queue.
func (e *Engine) wake() {
	select {
	case e.ops <- func() {}:
	case <-e.closed:
	default:
	}
}

func (e *Engine) run() {
	defer close(e.loopDone)

	events := e.events
	for {
		select {
		case <-e.closed:
			return
		case op := <-e.ops:
			op()
			e.publish()
		case event, ok := <-events:
			if !ok {
				// Transport stream ended; treat as a disconnect and
				// stop selecting on the channel.
				e.connected = false
				e.presence.OnTransportDisconnected()
				events = nil
				e.publish()
				continue
			}
			e.handleEvent(event)
			e.publish()
		}
	}
}

// handleEvent applies one inbound transport event. Events are processed
// strictly in arrival order; within a single event, key-state and
// presence transitions happen before any message-store mutation, so a
// message landing in the same tick as a key event sees the new state.
func (e *Engine) handleEvent(event transport.Event) {
	switch event.Type {
	case transport.TypeConnectionState:
		wasConnected := e.connected
		e.connected = event.Connected
		if !event.Connected {
			e.presence.OnTransportDisconnected()
			return
		}
		if !wasConnected {
			// Reconnect: presence must be re-confirmed by an
			// authoritative list, and key status is rechecked. History
			// is not re-fetched.
			_ = e.presence.OnTransportReconnected(context.Background(), nil)
			e.lifecycle.EnsureMissingFlagSet()
		}

	case transport.TypePartnerKeyRegenerated:
		if event.UserID != e.partnerID {
			return
		}
		_ = e.lifecycle.OnPartnerRegenerated()
		e.store.MarkPartnerMessagesUnreadable()

	case transport.TypePresenceFull:
		e.presence.ApplyFullList(event.PresenceIDs)

	case transport.TypePresenceOnline:
		e.presence.ApplyOnlineEvent(event.UserID)

	case transport.TypePresenceOffline:
		e.presence.ApplyOfflineEvent(event.UserID)

	case transport.TypeTyping:
		if event.UserID == e.partnerID {
			e.typing.OnRemoteTyping()
		}

	case transport.TypeMessageReceived:
		if event.Message != nil {
			e.store.ApplyIncoming(*event.Message)
		}

	case transport.TypeMessageAck:
		if event.Ack != nil {
			e.store.ApplyAck(*event.Ack)
		}

	case transport.TypeMessageRead:
		e.store.ApplyRead(event.MessageID, event.Timestamp)

	case transport.TypeMessageDeleted:
		e.store.ApplyDeleted(event.MessageID)

	case transport.TypeMessageEdited:
		if event.Message != nil {
			e.store.ApplyEdited(*event.Message)
		}
	}
}

func (e *Engine) flushReceipts(ctx context.Context) {
	if !e.store.HistoryLoaded() {
		return
	}

	pending := e.receipts.PendingReceipts(e.store.Messages())
	acknowledged := make([]string, 0, len(pending))
	for _, id := range pending {
		if _, seen := e.visible[id]; !seen {
			continue
		}
		if err := e.commands.MarkRead(ctx, id); err != nil {
			// A failed call stays unreported and is retried on the next
			// visibility change; there is no automatic retry loop.
			continue
		}
		acknowledged = append(acknowledged, id)
	}
	e.receipts.MarkReported(acknowledged)
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		PartnerID:     e.partnerID,
		Groups:        e.store.Snapshot(),
		KeyState:      e.lifecycle.CheckStatus(),
		PartnerOnline: e.presence.IsOnline(e.partnerID),
		PartnerTyping: e.typing.RemoteTyping(),
		Connected:     e.connected,
		HistoryLoaded: e.store.HistoryLoaded(),
	}
}

func (e *Engine) publish() {
	if e.onState == nil {
		return
	}
	e.onState(e.snapshotLocked())
}
