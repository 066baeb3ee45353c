// Package hub composes the identity registry, reputation ledger, waiting
// queues, session registry, pairing engine, and relay router into one event
// surface, and owns the connection lifecycle. Every handler is a synchronous
// transaction against the shared tables; state is injected so tests can
// construct a fresh hub with a recording notifier.
package hub

import (
	"context"
	"log"

	"github.com/campuslink/match-server/internal/identity"
	"github.com/campuslink/match-server/internal/matching"
	"github.com/campuslink/match-server/internal/messaging"
	"github.com/campuslink/match-server/internal/metrics"
	"github.com/campuslink/match-server/internal/protocol"
	"github.com/campuslink/match-server/internal/ratelimit"
	"github.com/campuslink/match-server/internal/relay"
	"github.com/campuslink/match-server/internal/report"
	"github.com/campuslink/match-server/internal/reputation"
	"github.com/campuslink/match-server/internal/session"
)

// Transport is the capability the hub needs from the realtime transport:
// delivering a message to one connection and checking liveness. Satisfied by
// *ws.Server; tests use a recording double.
type Transport interface {
	SendMessage(connID string, data []byte) error
	IsConnected(connID string) bool
}

// Config holds hub options and the optional infrastructure. All three
// integrations may be nil; the core never depends on them.
type Config struct {
	// DedupReactions enables per-session (reactor, target, kind) reaction
	// dedup. Off by default to match the observed ledger semantics.
	DedupReactions bool

	Limiter *ratelimit.Limiter   // optional Redis throttle
	Archive *report.Store        // optional Postgres reaction archive
	Events  *messaging.Publisher // optional NATS event stream
}

// Hub wires the core components behind one persistent connection per client.
type Hub struct {
	Identities *identity.Registry
	Ledger     *reputation.Ledger
	Queues     *matching.Queues
	Sessions   *session.Registry
	Engine     *matching.Engine
	Relay      *relay.Router

	transport Transport
	limiter   *ratelimit.Limiter
	archive   *report.Store
	events    *messaging.Publisher
}

// New constructs a hub with fresh state over the given transport.
func New(cfg Config, transport Transport) *Hub {
	h := &Hub{
		Identities: identity.NewRegistry(),
		Ledger:     reputation.NewLedger(),
		Queues:     matching.NewQueues(),
		Sessions:   session.NewRegistry(),
		transport:  transport,
		limiter:    cfg.Limiter,
		archive:    cfg.Archive,
		events:     cfg.Events,
	}

	h.Engine = matching.NewEngine(h.Queues, h.Sessions, h.Ledger, h.Identities, transport, transport)
	h.Relay = relay.NewRouter(h.Sessions, h.Ledger, h.Identities, transport)
	h.Relay.DedupReactions = cfg.DedupReactions

	if h.events != nil {
		h.Engine.OnPaired = func(sessionID, mode, a, b string) {
			h.events.PublishPaired(messaging.PairedEvent{
				SessionID: sessionID, Mode: mode, ConnA: a, ConnB: b,
			})
		}
	}
	if h.archive != nil || h.events != nil {
		h.Relay.OnReaction = h.mirrorReaction
	}

	return h
}

// mirrorReaction forwards an applied reaction to the archive and the event
// stream. Both are best effort and off the client-visible path.
func (h *Hub) mirrorReaction(sessionID, reactor, email, kind string, rec reputation.Record, banned bool) {
	if h.archive != nil {
		err := h.archive.RecordReaction(context.Background(), &report.ReactionEvent{
			SessionID: sessionID, ReactorConnID: reactor, TargetEmail: email, Kind: kind,
			Likes: rec.Likes, Dislikes: rec.Dislikes, Reports: rec.Reports, Banned: banned,
		})
		if err != nil {
			log.Printf("hub: archive reaction: %v", err)
		}
	}
	if h.events != nil {
		h.events.PublishReaction(messaging.ReactionEvent{
			SessionID: sessionID, TargetEmail: email, Kind: kind,
			Likes: rec.Likes, Dislikes: rec.Dislikes, Reports: rec.Reports, Banned: banned,
		})
	}
}

// ---------------------------------------------------------------------------
// Client event handlers
// ---------------------------------------------------------------------------

// Profile attaches a profile to the connection, replacing any previous one,
// and ensures a reputation record exists for the email.
func (h *Hub) Profile(connID string, msg protocol.ProfileMsg) {
	if msg.Email == "" {
		h.sendError(connID, "invalid_profile", "email is required")
		return
	}
	p := h.Identities.Attach(connID, identity.Profile{
		Name:      msg.Name,
		Email:     msg.Email,
		Interests: msg.Interests,
	})
	h.Ledger.Ensure(p.Email)
	log.Printf("hub: profile conn=%s email=%s", connID, p.Email)
}

// MatchRequest enqueues the connection for a mode and synchronously drains
// the queue. Banned emails are rejected inside the engine.
func (h *Hub) MatchRequest(connID string, msg protocol.MatchRequestMsg) {
	if !matching.ValidMode(msg.Mode) {
		h.sendError(connID, "invalid_mode", "mode must be \"text\" or \"video\"")
		return
	}
	if !h.allow(connID, ratelimit.RuleMatch) {
		return
	}
	h.Engine.RequestMatch(connID, msg.Mode)
}

// Message relays a chat message to the sender's session partner.
func (h *Hub) Message(connID string, msg protocol.ChatMsg) {
	if msg.SessionID == "" {
		h.sendError(connID, "invalid_message", "session_id is required")
		return
	}
	if err := relay.ValidateBody(msg.Body); err != nil {
		h.sendError(connID, "invalid_message", err.Error())
		return
	}
	if !h.allow(connID, ratelimit.RuleMessage) {
		return
	}
	h.Relay.Chat(connID, msg.SessionID, msg.Body, msg.From)
}

// Typing relays a typing indicator.
func (h *Hub) Typing(connID string, msg protocol.TypingMsg) {
	if msg.SessionID == "" {
		return
	}
	h.Relay.Typing(connID, msg.SessionID, msg.IsTyping)
}

// Signal relays a WebRTC offer, answer, or ICE candidate verbatim.
func (h *Hub) Signal(connID, kind string, msg protocol.SignalMsg) {
	if msg.SessionID == "" {
		h.sendError(connID, "invalid_signal", "session_id is required")
		return
	}
	h.Relay.Signal(connID, kind, msg.SessionID, msg.Description, msg.Candidate)
}

// Reaction applies a like, dislike, or report against the target email.
func (h *Hub) Reaction(connID string, msg protocol.ReactionMsg) {
	if msg.SessionID == "" || msg.Email == "" {
		h.sendError(connID, "invalid_reaction", "session_id and email are required")
		return
	}
	if !protocol.ValidReactionKind(msg.Kind) {
		h.sendError(connID, "invalid_reaction", "kind must be like, dislike, or report")
		return
	}
	if !h.allow(connID, ratelimit.RuleReaction) {
		return
	}
	h.Relay.Reaction(connID, msg.SessionID, msg.Email, msg.Kind)
}

// Leave handles an explicit leave: queue eviction, session teardown with the
// session-ended/partner-left distinction, identity detach. Each step is an
// idempotent no-op when there is nothing to do.
func (h *Hub) Leave(connID string, msg protocol.LeaveMsg) {
	h.Engine.Evict(connID)

	if msg.SessionID != "" {
		if s, ok := h.Sessions.Find(msg.SessionID); ok && s.IsParticipant(connID) {
			h.endSession(s, connID, "leave")
		}
	} else if s, ok := h.Sessions.FindByConn(connID); ok {
		h.endSession(s, connID, "leave")
	}

	h.Identities.Detach(connID)
	log.Printf("hub: leave conn=%s session=%s", connID, msg.SessionID)
}

// Disconnect reacts to an abrupt transport loss. Runs the same three steps
// as Leave, in the same order. Eviction goes through the engine's drain
// locks, so by the time the session lookup below runs, any pairing that had
// already popped this connection has landed in the registry and gets torn
// down here; the connection can never end up paired after cleanup.
func (h *Hub) Disconnect(connID string) {
	h.Engine.Evict(connID)

	if s, ok := h.Sessions.FindByConn(connID); ok {
		h.endSession(s, connID, "disconnect")
	}

	h.Identities.Detach(connID)
	log.Printf("hub: disconnect cleanup conn=%s", connID)
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// endSession removes the session and notifies the participants. The
// initiating side receives session_ended (suppressed on disconnect, the
// socket is gone), the other side partner_left. The two notification kinds
// are distinct client-visible semantics for the same structural teardown.
func (h *Hub) endSession(s session.Session, initiator, reason string) {
	ended, ok := h.Sessions.End(s.ID)
	if !ok {
		return
	}

	if reason == "leave" {
		data, _ := protocol.NewServerMessage(protocol.TypeSessionEnded, protocol.SessionEndedMsg{
			SessionID: ended.ID,
		})
		_ = h.transport.SendMessage(initiator, data)
	}

	if partner := ended.Partner(initiator); partner != "" {
		data, _ := protocol.NewServerMessage(protocol.TypePartnerLeft, protocol.PartnerLeftMsg{
			SessionID: ended.ID,
		})
		_ = h.transport.SendMessage(partner, data)
	}

	metrics.ActiveSessions.Set(float64(h.Sessions.Count()))
	if h.events != nil {
		h.events.PublishSessionEnded(messaging.SessionEndedEvent{
			SessionID: ended.ID, Mode: ended.Mode, Reason: reason,
		})
	}
}

// allow applies a rate limit rule when a limiter is configured. On a limited
// request the client receives rate_limited with the window in seconds.
func (h *Hub) allow(connID string, rule ratelimit.Rule) bool {
	if h.limiter == nil {
		return true
	}
	ok, err := h.limiter.Allow(context.Background(), connID, rule)
	if err != nil || ok {
		return true // fail open
	}
	data, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: int(rule.Window.Seconds()),
	})
	_ = h.transport.SendMessage(connID, data)
	return false
}

// sendError sends a scoped error event to the requesting connection.
func (h *Hub) sendError(connID, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code: code, Message: message,
	})
	if err != nil {
		log.Printf("hub: build error message conn=%s: %v", connID, err)
		return
	}
	_ = h.transport.SendMessage(connID, data)
}

// QueueLengths returns the per-mode queue lengths for the health endpoint.
func (h *Hub) QueueLengths() map[string]int {
	out := make(map[string]int, len(matching.Modes))
	for _, m := range matching.Modes {
		out[m] = h.Queues.Len(m)
	}
	return out
}

// Reputation returns the reputation record for an email as a wire message,
// for the out-of-band lookup endpoint. A pure read with no side effects.
func (h *Hub) Reputation(email string) protocol.ReputationMsg {
	email = identity.NormalizeEmail(email)
	rec := h.Ledger.Get(email)
	return protocol.ReputationMsg{
		Email: email, Likes: rec.Likes, Dislikes: rec.Dislikes,
		Reports: rec.Reports, Banned: rec.Banned,
	}
}
