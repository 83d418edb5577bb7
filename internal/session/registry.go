// Copyright (c) 2025 DHT Solution
//
// Licensed under the MIT License. See LICENSE for details.

package internal_session

import (
	"errors"
	"sync"
)

// ErrDuplicateCall is returned when a Call-ID is already registered.
var ErrDuplicateCall = errors.New("call already registered")

// Registry indexes live sessions by SIP Call-ID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*CallSession)}
}

// Add registers a session, refusing duplicate Call-IDs so a retransmitted
// INVITE cannot spawn a second session.
func (r *Registry) Add(s *CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return ErrDuplicateCall
	}
	r.sessions[s.ID] = s
	return nil
}

// Get returns the session for a Call-ID, or nil.
func (r *Registry) Get(callID string) *CallSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[callID]
}

// Remove deletes a session. Removing an unknown Call-ID is a no-op.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callID)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Range calls fn for every session. fn must not call back into the registry.
func (r *Registry) Range(fn func(*CallSession)) {
	r.mu.RLock()
	snapshot := make([]*CallSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}
