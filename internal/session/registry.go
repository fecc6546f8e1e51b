package session

import "sync"

// Registry is the concurrency-safe map from channel id to live session: the
// single source of truth for "is this channel live right now". No method
// touches the network; protocol-client calls happen outside the critical
// section so slow channels cannot stall unrelated ones.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session for the channel, or nil.
func (r *Registry) Get(channelID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[channelID]
}

// Put replaces any existing entry. The caller must have already torn down
// the previous session's connection handle.
func (r *Registry) Put(channelID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[channelID] = s
}

// Remove drops the entry. Teardown is the caller's job; the entry is only
// removed if s is still the registered session, so a stale handle cannot
// evict its successor.
func (r *Registry) Remove(channelID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == nil || r.sessions[channelID] == s {
		delete(r.sessions, channelID)
	}
}

// All returns the live sessions at this instant.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Snapshot returns a diagnostics view of every live session.
func (r *Registry) Snapshot() []Info {
	sessions := r.All()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.info())
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
