package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	appcrypto "sealchat/crypto"
	"sealchat/models"
	"sealchat/transport"
)

// Synthesized notices for slots whose content is gone. These records
// carry IsSystem=true; the flag is the only source of truth, the text
// is never matched against.
const (
	noticeUnreadable = "Encrypted message unreadable"
	noticeDeleted    = "Message deleted"
	noticeSent       = "Message sent"
)

// HistoryFetcher is the one-shot paginated history source.
type HistoryFetcher interface {
	FetchPage(ctx context.Context, conversationID string, limit, offset int) (*transport.HistoryPage, error)
}

// MessageStore holds the ordered, deduplicated message collection for
// one conversation and exposes decrypted projections.
//
// Not safe for concurrent use; the engine serializes all calls.
type MessageStore struct {
	keys      *KeyStore
	partnerID string

	messages      []*models.Message
	byID          map[string]*models.Message
	byCorrelation map[string]*models.Message

	historyLoaded bool
	pageSize      int
}

// NewMessageStore creates an empty store for one conversation.
func NewMessageStore(keys *KeyStore, partnerID string) (*MessageStore, error) {
	if keys == nil {
		return nil, errors.New("key store is required")
	}
	if partnerID == "" {
		return nil, errors.New("partner_id is required")
	}

	return &MessageStore{
		keys:          keys,
		partnerID:     partnerID,
		messages:      make([]*models.Message, 0),
		byID:          make(map[string]*models.Message),
		byCorrelation: make(map[string]*models.Message),
		pageSize:      100,
	}, nil
}

// HistoryLoaded reports whether the initial history fetch completed.
func (s *MessageStore) HistoryLoaded() bool {
	return s.historyLoaded
}

// Len returns the number of records, tombstones included.
func (s *MessageStore) Len() int {
	return len(s.messages)
}

// Get returns a copy of one record by server id.
func (s *MessageStore) Get(id string) (models.Message, bool) {
	record, ok := s.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return *record, true
}

// LoadHistory fetches all history pages and merges them into the store.
// On failure the store keeps its pre-fetch state; the caller decides
// whether to retry.
func (s *MessageStore) LoadHistory(ctx context.Context, fetcher HistoryFetcher) error {
	if fetcher == nil {
		return errors.New("history fetcher is required")
	}

	fetched := make([]transport.WireMessage, 0)
	offset := 0
	for {
		page, err := fetcher.FetchPage(ctx, s.partnerID, s.pageSize, offset)
		if err != nil {
			return &FetchError{ConversationID: s.partnerID, Err: err}
		}

		fetched = append(fetched, page.Messages...)
		if !page.HasMore || len(page.Messages) == 0 {
			break
		}
		offset += len(page.Messages)
	}

	for i := range fetched {
		s.ApplyIncoming(fetched[i])
	}
	s.historyLoaded = true

	return nil
}

// ApplyIncoming decrypts (or marks unreadable) one wire message and
// inserts it in sort order. When the id already exists the event is a
// pure update: read/delete/edit flags are merged onto the existing
// record and no duplicate is inserted.
func (s *MessageStore) ApplyIncoming(wire transport.WireMessage) models.Message {
	if existing, ok := s.byID[wire.ID]; ok {
		s.mergeFlags(existing, wire)
		return *existing
	}

	record := s.decryptWire(wire)
	s.insert(record)
	return *record
}

// ApplyLocalSend synthesizes an optimistic temporary record with a
// correlation id. The plaintext is sealed into the sent cache so the
// message survives a reopen even before the acknowledgment arrives.
func (s *MessageStore) ApplyLocalSend(text, imageRef string) (models.Message, error) {
	if text == "" && imageRef == "" {
		return models.Message{}, errors.New("message text is required")
	}

	record := &models.Message{
		ID:            "",
		CorrelationID: uuid.NewString(),
		SenderID:      s.keys.UserID(),
		ReceiverID:    s.partnerID,
		Plaintext:     text,
		CreatedAt:     time.Now().UnixMilli(),
		HasImage:      imageRef != "",
		ImageRef:      imageRef,
		Pending:       true,
	}
	// Pending records sort by correlation id until the real id arrives.
	record.ID = record.CorrelationID

	if text != "" {
		if err := s.keys.WriteSentPlaintext(s.partnerID, record.CorrelationID, text); err != nil {
			return models.Message{}, err
		}
	}

	s.insert(record)
	s.byCorrelation[record.CorrelationID] = record
	return *record, nil
}

// ApplyAck reconciles a pending optimistic record with the
// server-assigned id. The id is swapped, never duplicated. Unknown
// correlation ids (for example an ack racing teardown) are ignored.
func (s *MessageStore) ApplyAck(ack transport.Ack) (models.Message, bool) {
	record, ok := s.byCorrelation[ack.CorrelationID]
	if !ok {
		return models.Message{}, false
	}

	s.remove(record)
	delete(s.byCorrelation, ack.CorrelationID)

	oldID := record.ID
	record.ID = ack.ID
	record.Pending = false
	if ack.CreatedAt != 0 {
		record.CreatedAt = ack.CreatedAt
	}

	if record.Plaintext != "" && oldID != ack.ID {
		// Cache entry moves from correlation id to server id; a failed
		// move only costs the redisplay fast path.
		_ = s.keys.MoveSentPlaintext(s.partnerID, oldID, ack.ID)
	}

	s.insert(record)
	return *record, true
}

// RemovePending discards an optimistic record after a failed dispatch.
func (s *MessageStore) RemovePending(correlationID string) {
	record, ok := s.byCorrelation[correlationID]
	if !ok {
		return
	}
	s.remove(record)
	delete(s.byCorrelation, correlationID)
	_ = s.keys.DeleteSentPlaintext(s.partnerID, correlationID)
}

// Edit replaces the text of an owned message in place.
func (s *MessageStore) Edit(id, newText string) (models.Message, error) {
	record, err := s.mutableOwned(id)
	if err != nil {
		return models.Message{}, err
	}
	if newText == "" {
		return models.Message{}, errors.New("new text is required")
	}

	now := time.Now().UnixMilli()
	record.Plaintext = newText
	record.IsEdited = true
	record.EditedAt = &now

	if err := s.keys.WriteSentPlaintext(s.partnerID, record.ID, newText); err != nil {
		return models.Message{}, fmt.Errorf("update sent cache: %w", err)
	}

	return *record, nil
}

// Delete tombstones an owned message. The slot is kept, content is lost.
func (s *MessageStore) Delete(id string) (models.Message, error) {
	record, err := s.mutableOwned(id)
	if err != nil {
		return models.Message{}, err
	}

	s.tombstone(record)
	_ = s.keys.DeleteSentPlaintext(s.partnerID, id)
	return *record, nil
}

// ApplyRead records the partner's read acknowledgment for one message.
func (s *MessageStore) ApplyRead(id string, at int64) {
	record, ok := s.byID[id]
	if !ok || record.ReadAt != nil {
		return
	}
	if at == 0 {
		at = time.Now().UnixMilli()
	}
	record.ReadAt = &at
}

// ApplyDeleted applies a remote tombstone event.
func (s *MessageStore) ApplyDeleted(id string) {
	record, ok := s.byID[id]
	if !ok || record.IsDeleted() {
		return
	}
	s.tombstone(record)
}

// MarkPartnerMessagesUnreadable flips every partner-authored record to
// the unreadable notice. Invoked when the partner regenerates keys:
// content encrypted for the old key must never be decrypted with a
// stale key, and an explicit marker beats silent corruption.
func (s *MessageStore) MarkPartnerMessagesUnreadable() int {
	flipped := 0
	for _, record := range s.messages {
		if record.SenderID != s.partnerID || record.IsDeleted() || record.Unreadable {
			continue
		}
		record.Plaintext = noticeUnreadable
		record.Unreadable = true
		record.IsSystem = true
		flipped++
	}
	return flipped
}

// Messages returns a copy of all records in sort order.
func (s *MessageStore) Messages() []models.Message {
	out := make([]models.Message, len(s.messages))
	for i, record := range s.messages {
		out[i] = *record
	}
	return out
}

// Snapshot partitions the conversation into day-boundary groups.
// Recomputed on every call; conversation sizes are bounded by
// pagination, so O(n) is acceptable.
func (s *MessageStore) Snapshot() []models.MessageGroup {
	groups := make([]models.MessageGroup, 0)
	for _, record := range s.messages {
		day := time.UnixMilli(record.CreatedAt).Local().Format("2006-01-02")
		if len(groups) == 0 || groups[len(groups)-1].Day != day {
			groups = append(groups, models.MessageGroup{Day: day})
		}
		last := &groups[len(groups)-1]
		last.Messages = append(last.Messages, *record)
	}
	return groups
}

func (s *MessageStore) mutableOwned(id string) (*models.Message, error) {
	record, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMessageNotFound, id)
	}
	if record.IsDeleted() {
		return nil, fmt.Errorf("%w: %q", ErrMessageDeleted, id)
	}
	if record.IsSystem {
		return nil, fmt.Errorf("%w: %q", ErrSystemMessage, id)
	}
	if record.SenderID != s.keys.UserID() {
		return nil, fmt.Errorf("%w: %q", ErrNotOwned, id)
	}
	return record, nil
}

func (s *MessageStore) tombstone(record *models.Message) {
	now := time.Now().UnixMilli()
	record.DeletedAt = &now
	record.Plaintext = noticeDeleted
	record.Ciphertext = ""
	record.Unreadable = false
	record.IsSystem = true
}

func (s *MessageStore) mergeFlags(existing *models.Message, wire transport.WireMessage) {
	if wire.ReadAt != nil && existing.ReadAt == nil {
		existing.ReadAt = wire.ReadAt
	}
	if wire.DeletedAt != nil && !existing.IsDeleted() {
		s.tombstone(existing)
		existing.DeletedAt = wire.DeletedAt
	}
	if wire.EditedAt != nil && !existing.IsDeleted() {
		existing.EditedAt = wire.EditedAt
		existing.IsEdited = true
		if wire.Ciphertext != "" && existing.SenderID == s.partnerID {
			s.redecrypt(existing, wire.Ciphertext)
		}
	}
}

// ApplyEdited applies a remote edit carrying fresh ciphertext.
func (s *MessageStore) ApplyEdited(wire transport.WireMessage) {
	record, ok := s.byID[wire.ID]
	if !ok || record.IsDeleted() {
		return
	}

	now := time.Now().UnixMilli()
	if wire.EditedAt != nil {
		record.EditedAt = wire.EditedAt
	} else {
		record.EditedAt = &now
	}
	record.IsEdited = true
	if wire.Ciphertext != "" && record.SenderID == s.partnerID {
		s.redecrypt(record, wire.Ciphertext)
	}
}

func (s *MessageStore) decryptWire(wire transport.WireMessage) *models.Message {
	record := &models.Message{
		ID:         wire.ID,
		SenderID:   wire.SenderID,
		ReceiverID: wire.ReceiverID,
		Ciphertext: wire.Ciphertext,
		CreatedAt:  wire.CreatedAt,
		ReadAt:     wire.ReadAt,
		EditedAt:   wire.EditedAt,
		IsEdited:   wire.EditedAt != nil,
		HasImage:   wire.HasImage,
		ImageRef:   wire.ImageRef,
	}

	if wire.DeletedAt != nil {
		record.DeletedAt = wire.DeletedAt
		record.Plaintext = noticeDeleted
		record.Ciphertext = ""
		record.IsSystem = true
		return record
	}

	if wire.SenderID == s.keys.UserID() {
		// Own sent messages redisplay from the sent cache; the sender
		// cannot open ciphertext sealed for the partner's private key.
		plaintext, err := s.keys.ReadSentPlaintext(s.partnerID, wire.ID)
		if err != nil {
			record.Plaintext = noticeSent
			record.IsSystem = true
			return record
		}
		record.Plaintext = plaintext
		return record
	}

	s.redecrypt(record, wire.Ciphertext)
	return record
}

func (s *MessageStore) redecrypt(record *models.Message, ciphertext string) {
	record.Ciphertext = ciphertext

	partnerKey, err := s.keys.PartnerPublicKey(s.partnerID)
	if err != nil {
		s.markUnreadable(record)
		return
	}
	privateKey, err := s.keys.PrivateKey()
	if err != nil {
		s.markUnreadable(record)
		return
	}

	plaintext, err := appcrypto.OpenMessage(ciphertext, partnerKey, privateKey)
	if err != nil {
		// Retrying with the same key cannot succeed; only explicit key
		// regeneration changes the outcome.
		s.markUnreadable(record)
		return
	}

	record.Plaintext = plaintext
	record.Unreadable = false
	record.IsSystem = false
}

func (s *MessageStore) markUnreadable(record *models.Message) {
	record.Plaintext = noticeUnreadable
	record.Unreadable = true
	record.IsSystem = true
}

func (s *MessageStore) insert(record *models.Message) {
	index := sort.Search(len(s.messages), func(i int) bool {
		return record.Before(s.messages[i])
	})
	s.messages = append(s.messages, nil)
	copy(s.messages[index+1:], s.messages[index:])
	s.messages[index] = record
	s.byID[record.ID] = record
}

func (s *MessageStore) remove(record *models.Message) {
	delete(s.byID, record.ID)
	for i, candidate := range s.messages {
		if candidate == record {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

var _ HistoryFetcher = (*transport.HistoryClient)(nil)
