// Package session owns the lifetime of active 1:1 sessions. A session is an
// established pairing of exactly two connections, identified by a unique id,
// terminated by either leave or disconnect. Sessions are never reused or
// re-keyed; a reconnecting client always gets a new session.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session holds the immutable metadata of one active pairing.
type Session struct {
	ID        string
	Mode      string
	A         string // first-dequeued participant (the initiator)
	B         string
	StartedAt time.Time
}

// Partner returns the other participant's connection ID, or "" if connID is
// not a participant.
func (s *Session) Partner(connID string) string {
	switch connID {
	case s.A:
		return s.B
	case s.B:
		return s.A
	}
	return ""
}

// IsParticipant reports whether connID is one of the two participants.
func (s *Session) IsParticipant(connID string) bool {
	return connID == s.A || connID == s.B
}

// Registry is a thread-safe map of session ID -> session, with a reverse
// index enforcing that a connection belongs to at most one active session.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byConn    map[string]string              // connection ID -> session ID
	reactions map[string]map[string]struct{} // session ID -> seen reaction keys
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		byConn:    make(map[string]string),
		reactions: make(map[string]map[string]struct{}),
	}
}

// Create allocates a fresh session for the two connections and returns its
// id. It fails if the participants are not distinct or either is already in
// an active session; both indicate a caller bug, not a client error.
func (r *Registry) Create(mode, a, b string) (string, error) {
	if a == b {
		return "", fmt.Errorf("session: participants must be distinct")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sid, ok := r.byConn[a]; ok {
		return "", fmt.Errorf("session: %s already in session %s", a, sid)
	}
	if sid, ok := r.byConn[b]; ok {
		return "", fmt.Errorf("session: %s already in session %s", b, sid)
	}

	id := uuid.New().String()
	r.sessions[id] = &Session{
		ID:        id,
		Mode:      mode,
		A:         a,
		B:         b,
		StartedAt: time.Now(),
	}
	r.byConn[a] = id
	r.byConn[b] = id
	return id, nil
}

// Find returns a copy of the session with the given id.
func (r *Registry) Find(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// FindByConn is the reverse lookup, used on disconnect or leave when the
// caller does not carry the session id.
func (r *Registry) FindByConn(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byConn[connID]
	if !ok {
		return Session{}, false
	}
	return *r.sessions[id], true
}

// End removes the session and returns its final state so the caller can
// notify both participants. Returns false if the session was already gone.
func (r *Registry) End(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, id)
	delete(r.byConn, s.A)
	delete(r.byConn, s.B)
	delete(r.reactions, id)
	return *s, true
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.sessions)
	r.mu.RUnlock()
	return n
}

// MarkReaction records a reaction key against a session and reports whether
// it was the first occurrence. Used for the optional per-session reaction
// dedup. Returns false for unknown sessions.
func (r *Registry) MarkReaction(id, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	seen, ok := r.reactions[id]
	if !ok {
		seen = make(map[string]struct{})
		r.reactions[id] = seen
	}
	if _, dup := seen[key]; dup {
		return false
	}
	seen[key] = struct{}{}
	return true
}
