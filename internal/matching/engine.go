package matching

import (
	"log"
	"sync"

	"github.com/campuslink/match-server/internal/identity"
	"github.com/campuslink/match-server/internal/metrics"
	"github.com/campuslink/match-server/internal/protocol"
	"github.com/campuslink/match-server/internal/reputation"
	"github.com/campuslink/match-server/internal/session"
)

// Notifier delivers a server message to a single connection. Satisfied by
// *ws.Server; tests use a recording double.
type Notifier interface {
	SendMessage(connID string, data []byte) error
}

// Presence reports whether a connection's transport is still live. Stale
// entries discovered during draining are discarded, never re-enqueued.
type Presence interface {
	IsConnected(connID string) bool
}

// Engine drains the waiting queues pairwise, consulting the reputation
// ledger, and instantiates sessions. All queue mutations for a mode run
// under that mode's drain lock, so two concurrent match requests can never
// both consume the same entry and a connection is never paired twice.
type Engine struct {
	queues     *Queues
	sessions   *session.Registry
	ledger     *reputation.Ledger
	identities *identity.Registry
	notifier   Notifier
	presence   Presence

	drainMu map[string]*sync.Mutex // per-mode serialization point

	// OnPaired, when set, is invoked after both peers have been notified.
	// Used to mirror pairings to the metrics and event stream without the
	// engine knowing about them.
	OnPaired func(sessionID, mode, a, b string)
}

// NewEngine wires a pairing engine over the shared tables.
func NewEngine(queues *Queues, sessions *session.Registry, ledger *reputation.Ledger, identities *identity.Registry, notifier Notifier, presence Presence) *Engine {
	locks := make(map[string]*sync.Mutex, len(Modes))
	for _, m := range Modes {
		locks[m] = &sync.Mutex{}
	}
	return &Engine{
		queues:     queues,
		sessions:   sessions,
		ledger:     ledger,
		identities: identities,
		notifier:   notifier,
		presence:   presence,
		drainMu:    locks,
	}
}

// RequestMatch places a connection in the waiting queue for a mode and
// synchronously drains the queue. A connection whose profile resolves to a
// banned email is rejected with a ban notice and never enqueued.
func (e *Engine) RequestMatch(connID, mode string) {
	p, ok := e.identities.ProfileFor(connID)
	if !ok {
		data, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code: "profile_required", Message: "register a profile before requesting a match",
		})
		_ = e.notifier.SendMessage(connID, data)
		return
	}

	if rec := e.ledger.Get(p.Email); rec.Banned {
		data, _ := protocol.NewServerMessage(protocol.TypeBanned, protocol.BannedMsg{
			Email: p.Email, Likes: rec.Likes, Dislikes: rec.Dislikes,
			Reports: rec.Reports, Banned: true,
		})
		_ = e.notifier.SendMessage(connID, data)
		log.Printf("matching: rejected banned email %s conn=%s", p.Email, connID)
		return
	}

	mu, ok := e.drainMu[mode]
	if !ok {
		return
	}

	// Serialized with any in-flight drain, so a mode switch cannot race a
	// concurrent drain popping the connection from its old queue.
	e.Evict(connID)

	mu.Lock()
	n := e.queues.Enqueue(mode, connID)
	metrics.QueueSize.WithLabelValues(mode).Set(float64(e.queues.Len(mode)))

	data, _ := protocol.NewServerMessage(protocol.TypeQueued, protocol.QueuedMsg{
		Mode: mode, QueueLength: n,
	})
	_ = e.notifier.SendMessage(connID, data)

	e.drainLocked(mode)
	mu.Unlock()
}

// Evict removes the connection from every mode queue, taking each mode's
// drain lock in turn. Acquiring a mode's lock waits out any drain that may
// already have popped the connection, so when Evict returns the connection
// is in no queue and either was never paired or its session already exists
// in the registry. Teardown must run through here, not the raw queues:
// otherwise a drain holding a stale liveness answer could pair the
// connection after its teardown finished.
func (e *Engine) Evict(connID string) {
	for _, m := range Modes {
		mu := e.drainMu[m]
		mu.Lock()
		e.queues.remove(m, connID)
		metrics.QueueSize.WithLabelValues(m).Set(float64(e.queues.Len(m)))
		mu.Unlock()
	}
}

// Drain runs the pairing loop for a mode. Called after any external queue
// mutation (e.g. a disconnect eviction) that may have changed pairability.
func (e *Engine) Drain(mode string) {
	mu, ok := e.drainMu[mode]
	if !ok {
		return
	}
	mu.Lock()
	e.drainLocked(mode)
	mu.Unlock()
}

// drainLocked pops pairs of the two oldest entries while the queue holds at
// least two. Stale entries are discarded so they never block pairing of the
// remaining queue. Must be called with the mode's drain lock held.
func (e *Engine) drainLocked(mode string) {
	for e.queues.Len(mode) >= 2 {
		a, ok := e.queues.pop(mode)
		if !ok {
			break
		}
		if !e.presence.IsConnected(a) {
			continue
		}

		b, ok := e.queues.pop(mode)
		if !ok {
			e.queues.pushFront(mode, a)
			break
		}
		if !e.presence.IsConnected(b) {
			// b was stale; a keeps its place at the head of the queue.
			e.queues.pushFront(mode, a)
			continue
		}

		e.pair(mode, a, b)
	}
	metrics.QueueSize.WithLabelValues(mode).Set(float64(e.queues.Len(mode)))
}

// pair creates the session and notifies both peers. The first-dequeued
// connection is the initiator; the flag only breaks symmetry for the
// signaling handshake and carries no privilege.
func (e *Engine) pair(mode, a, b string) {
	id, err := e.sessions.Create(mode, a, b)
	if err != nil {
		// Unexpected internal failure: fatal to this pairing only; the
		// queue and registry stay consistent for everyone else.
		log.Printf("matching: create session failed mode=%s a=%s b=%s: %v", mode, a, b, err)
		data, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
			Code: "pairing_failed", Message: "could not create session",
		})
		_ = e.notifier.SendMessage(a, data)
		_ = e.notifier.SendMessage(b, data)
		return
	}

	profileA, _ := e.identities.ProfileFor(a)
	profileB, _ := e.identities.ProfileFor(b)

	msgA, _ := protocol.NewServerMessage(protocol.TypePaired, protocol.PairedMsg{
		SessionID: id, Mode: mode, Partner: sanitize(profileB), Initiator: true,
	})
	msgB, _ := protocol.NewServerMessage(protocol.TypePaired, protocol.PairedMsg{
		SessionID: id, Mode: mode, Partner: sanitize(profileA), Initiator: false,
	})
	_ = e.notifier.SendMessage(a, msgA)
	_ = e.notifier.SendMessage(b, msgB)

	metrics.PairingsTotal.WithLabelValues(mode).Inc()
	metrics.ActiveSessions.Set(float64(e.sessions.Count()))
	log.Printf("matching: paired %s + %s mode=%s session=%s", a, b, mode, id)

	if e.OnPaired != nil {
		e.OnPaired(id, mode, a, b)
	}
}

// sanitize reduces a profile to the view shared with the partner: name,
// email, first interest, and a tagline fallback when no interests were given.
func sanitize(p identity.Profile) protocol.PartnerView {
	v := protocol.PartnerView{Name: p.Name, Email: p.Email}
	if len(p.Interests) > 0 {
		v.Interest = p.Interests[0]
		v.Tagline = "Likes " + p.Interests[0]
	} else {
		v.Tagline = "Up for a chat"
	}
	return v
}
