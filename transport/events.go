// Package transport defines the abstract bidirectional event channel the
// session engine consumes, plus concrete websocket and HTTP history
// implementations. The engine never depends on the concrete socket
// library; it drains Events from a channel and issues Commands.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Event type discriminators carried in the wire envelope.
const (
	TypeMessageReceived       = "message_received"
	TypeMessageAck            = "message_ack"
	TypeMessageRead           = "message_read"
	TypeMessageDeleted        = "message_deleted"
	TypeMessageEdited         = "message_edited"
	TypeTyping                = "typing"
	TypePresenceFull          = "presence_full"
	TypePresenceOnline        = "presence_online"
	TypePresenceOffline       = "presence_offline"
	TypeConnectionState       = "connection_state"
	TypePartnerKeyRegenerated = "partner_key_regenerated"

	TypeSendMessage      = "send_message"
	TypeMarkRead         = "mark_read"
	TypeSendTyping       = "send_typing"
	TypePublishPublicKey = "publish_public_key"
)

var (
	// ErrInvalidEventType indicates the envelope type is missing or unknown.
	ErrInvalidEventType = errors.New("transport: invalid event type")
)

// WireMessage is the encrypted message payload as carried on the wire.
type WireMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Ciphertext string `json:"ciphertext"`
	CreatedAt  int64  `json:"created_at"`
	ReadAt     *int64 `json:"read_at,omitempty"`
	DeletedAt  *int64 `json:"deleted_at,omitempty"`
	EditedAt   *int64 `json:"edited_at,omitempty"`
	HasImage   bool   `json:"has_image,omitempty"`
	ImageRef   string `json:"image_ref,omitempty"`
}

// Ack correlates a locally composed message with its server-assigned ID.
type Ack struct {
	CorrelationID string `json:"correlation_id"`
	ID            string `json:"id"`
	CreatedAt     int64  `json:"created_at,omitempty"`
}

// Event is one inbound transport event. Type selects which fields are set.
type Event struct {
	Type string `json:"type"`

	// Message is set for message_received and message_edited.
	Message *WireMessage `json:"message,omitempty"`
	// Ack is set for message_ack.
	Ack *Ack `json:"ack,omitempty"`
	// MessageID is set for message_read and message_deleted.
	MessageID string `json:"message_id,omitempty"`
	// UserID is set for typing, presence_online, presence_offline and
	// partner_key_regenerated.
	UserID string `json:"user_id,omitempty"`
	// PresenceIDs is set for presence_full.
	PresenceIDs []string `json:"presence_ids,omitempty"`
	// Connected is set for connection_state.
	Connected bool `json:"connected,omitempty"`
	// Timestamp is when the server emitted the event, unix millis.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// OutgoingMessage is the send_message command payload.
type OutgoingMessage struct {
	CorrelationID string `json:"correlation_id"`
	ReceiverID    string `json:"receiver_id"`
	Ciphertext    string `json:"ciphertext"`
	CreatedAt     int64  `json:"created_at"`
	HasImage      bool   `json:"has_image,omitempty"`
	ImageRef      string `json:"image_ref,omitempty"`
}

// Commands is the outbound half of the transport channel.
type Commands interface {
	SendMessage(ctx context.Context, message OutgoingMessage) error
	MarkRead(ctx context.Context, messageID string) error
	SendTyping(ctx context.Context, toUserID string) error
	PublishPublicKey(ctx context.Context, publicKey, fingerprint string) error
}

// DecodeEvent parses one wire frame into an Event, validating the type.
func DecodeEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	switch event.Type {
	case TypeMessageReceived, TypeMessageEdited:
		if event.Message == nil {
			return Event{}, fmt.Errorf("event %q: missing message payload", event.Type)
		}
	case TypeMessageAck:
		if event.Ack == nil {
			return Event{}, fmt.Errorf("event %q: missing ack payload", event.Type)
		}
	case TypeMessageRead, TypeMessageDeleted:
		if event.MessageID == "" {
			return Event{}, fmt.Errorf("event %q: missing message_id", event.Type)
		}
	case TypeTyping, TypePresenceOnline, TypePresenceOffline, TypePartnerKeyRegenerated:
		if event.UserID == "" {
			return Event{}, fmt.Errorf("event %q: missing user_id", event.Type)
		}
	case TypePresenceFull, TypeConnectionState:
		// No required fields beyond the type itself.
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrInvalidEventType, event.Type)
	}

	return event, nil
}

// EncodeEvent marshals an Event to its wire frame.
func EncodeEvent(event Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return payload, nil
}
