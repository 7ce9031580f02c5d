package session

import "context"

// presenceChange is one buffered incremental event.
type presenceChange struct {
	peerID string
	online bool
}

// PresenceTracker maintains the online/offline set for known peers.
// A disconnected client has no basis to claim anyone is online, so the
// whole set is forced offline on transport loss. After reconnect the
// authoritative list is re-requested; incremental events that race the
// in-flight query are buffered and replayed once the list lands, so a
// "user just came online" event is not lost.
//
// Not safe for concurrent use; the engine serializes all calls.
type PresenceTracker struct {
	online map[string]struct{}

	awaitingFull bool
	buffered     []presenceChange
}

// NewPresenceTracker creates an empty tracker; everyone starts offline.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		online: make(map[string]struct{}),
	}
}

// IsOnline reports whether one peer is currently considered online.
func (p *PresenceTracker) IsOnline(peerID string) bool {
	_, ok := p.online[peerID]
	return ok
}

// OnlineCount returns the size of the tracked online set.
func (p *PresenceTracker) OnlineCount() int {
	return len(p.online)
}

// ApplyFullList replaces the tracked set with the authoritative server
// list, then replays any incrementals buffered while the list query was
// in flight.
func (p *PresenceTracker) ApplyFullList(onlineIDs []string) {
	p.online = make(map[string]struct{}, len(onlineIDs))
	for _, id := range onlineIDs {
		p.online[id] = struct{}{}
	}

	p.awaitingFull = false
	for _, change := range p.buffered {
		p.apply(change)
	}
	p.buffered = nil
}

// ApplyOnlineEvent records one peer coming online.
func (p *PresenceTracker) ApplyOnlineEvent(peerID string) {
	p.record(presenceChange{peerID: peerID, online: true})
}

// ApplyOfflineEvent records one peer going offline.
func (p *PresenceTracker) ApplyOfflineEvent(peerID string) {
	p.record(presenceChange{peerID: peerID, online: false})
}

// OnTransportDisconnected forces the entire tracked set offline and
// drops any buffered incrementals from the dead connection.
func (p *PresenceTracker) OnTransportDisconnected() {
	p.online = make(map[string]struct{})
	p.awaitingFull = false
	p.buffered = nil
}

// OnTransportReconnected re-requests the authoritative list. Until it
// arrives, incremental events are buffered instead of applied; the
// stale pre-disconnect picture is never trusted.
func (p *PresenceTracker) OnTransportReconnected(ctx context.Context, query func(context.Context) error) error {
	p.awaitingFull = true
	p.buffered = nil

	if query == nil {
		return nil
	}
	return query(ctx)
}

func (p *PresenceTracker) record(change presenceChange) {
	if change.peerID == "" {
		return
	}
	if p.awaitingFull {
		p.buffered = append(p.buffered, change)
		return
	}
	p.apply(change)
}

func (p *PresenceTracker) apply(change presenceChange) {
	if change.online {
		p.online[change.peerID] = struct{}{}
		return
	}
	delete(p.online, change.peerID)
}
