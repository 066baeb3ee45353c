// Package identity maps verified emails to the set of currently-connected
// connection IDs for that email, and tracks the profile attached to each
// connection. It is a pure lookup table with no business logic.
package identity

import (
	"strings"
	"sync"
)

// Profile is the client-asserted identity attached to a connection. The
// server trusts it verbatim except for case-normalizing the email.
type Profile struct {
	Name      string
	Email     string // lowercased, identity key
	Interests []string
}

// Registry is a thread-safe table of email -> connection IDs and
// connection ID -> attached profile. A connection carries at most one
// profile at a time; attaching a new one replaces the old.
type Registry struct {
	mu       sync.RWMutex
	byEmail  map[string]map[string]struct{} // email -> set of connection IDs
	profiles map[string]Profile             // connection ID -> profile
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		byEmail:  make(map[string]map[string]struct{}),
		profiles: make(map[string]Profile),
	}
}

// NormalizeEmail lowercases and trims an email for use as an identity key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Attach records that connID currently asserts the profile's email. Multiple
// connections may share one email (multiple tabs). If the connection already
// carried a profile under a different email, it is moved. Idempotent.
func (r *Registry) Attach(connID string, p Profile) Profile {
	p.Email = NormalizeEmail(p.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.profiles[connID]; ok && old.Email != p.Email {
		r.removeFromEmail(old.Email, connID)
	}

	set, ok := r.byEmail[p.Email]
	if !ok {
		set = make(map[string]struct{})
		r.byEmail[p.Email] = set
	}
	set[connID] = struct{}{}
	r.profiles[connID] = p
	return p
}

// Detach removes connID from every email's connection set and drops its
// profile. Empty email entries are removed. No-op if the connection was
// never attached.
func (r *Registry) Detach(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[connID]
	if !ok {
		return
	}
	delete(r.profiles, connID)
	r.removeFromEmail(p.Email, connID)
}

// removeFromEmail must be called with the write lock held.
func (r *Registry) removeFromEmail(email, connID string) {
	set, ok := r.byEmail[email]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.byEmail, email)
	}
}

// HandlesFor returns the connection IDs currently registered for an email.
// Used to fan out ban and reputation notifications to every tab signed in
// under that email.
func (r *Registry) HandlesFor(email string) []string {
	email = NormalizeEmail(email)

	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byEmail[email]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// ProfileFor returns the profile attached to a connection, if any.
func (r *Registry) ProfileFor(connID string) (Profile, bool) {
	r.mu.RLock()
	p, ok := r.profiles[connID]
	r.mu.RUnlock()
	return p, ok
}
