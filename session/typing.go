package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultTypingThrottle is the rolling window for outbound typing
	// signals: at most one per window, the first fires immediately.
	DefaultTypingThrottle = 1000 * time.Millisecond
	// DefaultTypingExpiry auto-clears the remote typing display when no
	// refresh arrives; the protocol does not guarantee a stop event.
	DefaultTypingExpiry = 4 * time.Second
)

// TypingCoordinator rate-limits local typing emission and manages the
// remote typing display with an inactivity timeout.
//
// The remote side uses a timer callback, so RemoteTyping and the expiry
// path are guarded by a mutex; the expiry hook fires outside the
// engine's op queue and must re-enter through it.
type TypingCoordinator struct {
	limiter *rate.Limiter
	expiry  time.Duration

	mu          sync.Mutex
	remote      bool
	expiryTimer *time.Timer

	// onExpire is invoked (on the timer goroutine) when the remote
	// typing display auto-clears.
	onExpire func()
}

// NewTypingCoordinator creates a coordinator with the given throttle
// window and remote-display expiry. Zero values select the defaults.
func NewTypingCoordinator(throttle, expiry time.Duration, onExpire func()) *TypingCoordinator {
	if throttle <= 0 {
		throttle = DefaultTypingThrottle
	}
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}

	return &TypingCoordinator{
		limiter:  rate.NewLimiter(rate.Every(throttle), 1),
		expiry:   expiry,
		onExpire: onExpire,
	}
}

// NotifyLocalTyping reports whether a typing signal should be emitted
// now. Throttle, not debounce: the first keystroke in a burst reports
// true immediately, then at most one per rolling window.
func (t *TypingCoordinator) NotifyLocalTyping() bool {
	return t.limiter.Allow()
}

// OnRemoteTyping sets the remote-typing display and (re)arms the
// inactivity timer.
func (t *TypingCoordinator) OnRemoteTyping() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.remote = true
	if t.expiryTimer != nil {
		t.expiryTimer.Stop()
	}
	t.expiryTimer = time.AfterFunc(t.expiry, t.expire)
}

// OnRemoteStopped clears the remote-typing display on an explicit stop.
func (t *TypingCoordinator) OnRemoteStopped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

// RemoteTyping reports whether the partner is currently shown as typing.
func (t *TypingCoordinator) RemoteTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

// Stop cancels the expiry timer; used at session teardown.
func (t *TypingCoordinator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

func (t *TypingCoordinator) expire() {
	t.mu.Lock()
	wasTyping := t.remote
	t.remote = false
	t.expiryTimer = nil
	t.mu.Unlock()

	if wasTyping && t.onExpire != nil {
		t.onExpire()
	}
}

func (t *TypingCoordinator) clearLocked() {
	t.remote = false
	if t.expiryTimer != nil {
		t.expiryTimer.Stop()
		t.expiryTimer = nil
	}
}
