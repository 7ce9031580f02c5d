package models

// Message represents one conversation entry after decryption.
//
// A locally composed message carries a CorrelationID and Pending=true
// until the server acknowledgment swaps in the permanent ID. Records
// are append-only except for the ReadAt/DeletedAt/EditedAt/IsSystem
// flag fields; ordering is by CreatedAt with ties broken by ID.
type Message struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	SenderID      string `json:"sender_id"`
	ReceiverID    string `json:"receiver_id"`
	Ciphertext    string `json:"ciphertext,omitempty"`
	Plaintext     string `json:"-"`
	CreatedAt     int64  `json:"created_at"`
	ReadAt        *int64 `json:"read_at,omitempty"`
	DeletedAt     *int64 `json:"deleted_at,omitempty"`
	EditedAt      *int64 `json:"edited_at,omitempty"`
	IsEdited      bool   `json:"is_edited,omitempty"`
	HasImage      bool   `json:"has_image,omitempty"`
	ImageRef      string `json:"image_ref,omitempty"`
	IsSystem      bool   `json:"is_system,omitempty"`
	Unreadable    bool   `json:"unreadable,omitempty"`
	Pending       bool   `json:"pending,omitempty"`
}

// Before reports whether m sorts before other (CreatedAt, then ID).
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt != other.CreatedAt {
		return m.CreatedAt < other.CreatedAt
	}
	return m.ID < other.ID
}

// IsDeleted reports whether the message carries a tombstone.
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// MessageGroup is one day-boundary partition of a conversation.
type MessageGroup struct {
	// Day is the local calendar day in YYYY-MM-DD form.
	Day      string    `json:"day"`
	Messages []Message `json:"messages"`
}
