package session

import (
	"fmt"
	"sync"
)

// Registry tracks live sessions keyed by partner id, one per open
// conversation. Sessions are created and torn down explicitly by the
// caller; nothing here is global.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Engine
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Engine)}
}

// Open creates and registers a session for the given options. Opening a
// partner id that already has a live session is an error; Close it
// first.
func (r *Registry) Open(options EngineOptions) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[options.PartnerID]; exists {
		return nil, fmt.Errorf("session for %q already open", options.PartnerID)
	}

	engine, err := NewEngine(options)
	if err != nil {
		return nil, err
	}
	r.sessions[options.PartnerID] = engine
	return engine, nil
}

// Get returns the live session for a partner, if any.
func (r *Registry) Get(partnerID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	engine, ok := r.sessions[partnerID]
	return engine, ok
}

// Close tears down and deregisters one session. Closing an unknown
// partner id is a no-op.
func (r *Registry) Close(partnerID string) {
	r.mu.Lock()
	engine, ok := r.sessions[partnerID]
	delete(r.sessions, partnerID)
	r.mu.Unlock()

	if ok {
		engine.Close()
	}
}

// CloseAll tears down every live session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.sessions))
	for _, engine := range r.sessions {
		engines = append(engines, engine)
	}
	r.sessions = make(map[string]*Engine)
	r.mu.Unlock()

	for _, engine := range engines {
		engine.Close()
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
