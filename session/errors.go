package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed indicates the conversation session was torn down.
	ErrSessionClosed = errors.New("session: closed")
	// ErrMessageNotFound indicates the target message is not in the store.
	ErrMessageNotFound = errors.New("session: message not found")
	// ErrNotOwned indicates the local user does not own the target message.
	ErrNotOwned = errors.New("session: message not owned by local user")
	// ErrMessageDeleted indicates the target message already carries a tombstone.
	ErrMessageDeleted = errors.New("session: message already deleted")
	// ErrSystemMessage indicates the target is a synthesized system notice.
	ErrSystemMessage = errors.New("session: system messages cannot be modified")
	// ErrKeyUnavailable indicates encryption is impossible in the current key state.
	ErrKeyUnavailable = errors.New("session: key material unavailable")
)

// KeyError reports a key generation or storage failure. It is fatal to
// the regenerate operation and surfaced verbatim; the prior key state is
// left unchanged.
type KeyError struct {
	Op  string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("key %s: %v", e.Op, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// DecryptionError is a per-message, non-fatal failure: the affected
// message renders unreadable and the conversation continues.
type DecryptionError struct {
	MessageID string
	Err       error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypt message %q: %v", e.MessageID, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// FetchError wraps a history fetch failure. The caller decides whether
// to retry; the engine never retries automatically.
type FetchError struct {
	ConversationID string
	Err            error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch history for %q: %v", e.ConversationID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SendError reports a failed dispatch. Draft carries the composed text
// back to the caller so user input is not lost.
type SendError struct {
	Draft string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
