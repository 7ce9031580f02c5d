package session

import "sealchat/models"

// ReadReceiptCoordinator tracks which inbound messages have been
// acknowledged as read, guaranteeing at most one mark-read call per
// message id per session even when the same message appears in many
// snapshot evaluations.
//
// Not safe for concurrent use; the engine serializes all calls.
type ReadReceiptCoordinator struct {
	localUserID string
	reported    map[string]struct{}
}

// NewReadReceiptCoordinator creates a coordinator for one session.
func NewReadReceiptCoordinator(localUserID string) *ReadReceiptCoordinator {
	return &ReadReceiptCoordinator{
		localUserID: localUserID,
		reported:    make(map[string]struct{}),
	}
}

// PendingReceipts returns ids of inbound, unread, not-yet-reported
// messages. Pure function over the given snapshot; system notices and
// tombstones never generate receipts.
func (r *ReadReceiptCoordinator) PendingReceipts(messages []models.Message) []string {
	pending := make([]string, 0)
	for i := range messages {
		msg := &messages[i]
		if msg.SenderID == r.localUserID {
			continue
		}
		if msg.ReadAt != nil || msg.IsDeleted() || msg.Pending {
			continue
		}
		// Unreadable records are real partner messages and still get a
		// receipt; purely synthesized notices do not.
		if msg.IsSystem && !msg.Unreadable {
			continue
		}
		if _, done := r.reported[msg.ID]; done {
			continue
		}
		pending = append(pending, msg.ID)
	}
	return pending
}

// MarkReported records ids as acknowledged. Idempotent set union.
func (r *ReadReceiptCoordinator) MarkReported(ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		r.reported[id] = struct{}{}
	}
}

// Reported reports whether one id was already acknowledged this session.
func (r *ReadReceiptCoordinator) Reported(id string) bool {
	_, ok := r.reported[id]
	return ok
}
