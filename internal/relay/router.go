// Package relay forwards chat messages, typing indicators, WebRTC signaling
// envelopes, and reactions between the two participants of a session. It is
// stateless with respect to message content; every hop is checked against
// the session registry and anything stale is silently dropped: a message
// referencing an ended session is an expected race, not an error.
package relay

import (
	"encoding/json"
	"log"
	"time"

	"github.com/campuslink/match-server/internal/identity"
	"github.com/campuslink/match-server/internal/metrics"
	"github.com/campuslink/match-server/internal/protocol"
	"github.com/campuslink/match-server/internal/reputation"
	"github.com/campuslink/match-server/internal/session"
)

// Notifier delivers a server message to a single connection.
type Notifier interface {
	SendMessage(connID string, data []byte) error
}

// Router relays payloads between session peers and applies reactions to the
// reputation ledger.
type Router struct {
	sessions   *session.Registry
	ledger     *reputation.Ledger
	identities *identity.Registry
	notifier   Notifier

	// DedupReactions enables the optional per-session (reactor, target,
	// kind) reaction dedup. Off by default: the ledger intentionally does
	// not deduplicate.
	DedupReactions bool

	// OnReaction, when set, is invoked after a reaction was applied, with
	// the updated record and whether this reaction flipped the ban flag.
	// Used for the report archive and the moderation event stream.
	OnReaction func(sessionID, reactor, email, kind string, rec reputation.Record, banned bool)
}

// NewRouter wires a relay router over the shared tables.
func NewRouter(sessions *session.Registry, ledger *reputation.Ledger, identities *identity.Registry, notifier Notifier) *Router {
	return &Router{
		sessions:   sessions,
		ledger:     ledger,
		identities: identities,
		notifier:   notifier,
	}
}

// resolve looks up the session and checks membership. A false return means
// the payload must be dropped without surfacing an error to the sender.
func (r *Router) resolve(sender, sessionID string) (session.Session, bool) {
	s, ok := r.sessions.Find(sessionID)
	if !ok {
		metrics.DroppedTotal.WithLabelValues("unknown_session").Inc()
		return session.Session{}, false
	}
	if !s.IsParticipant(sender) {
		metrics.DroppedTotal.WithLabelValues("not_participant").Inc()
		return session.Session{}, false
	}
	return s, true
}

// Chat forwards a chat message to the sender's partner, stamping a
// server-side timestamp. Returns whether the message was delivered; a false
// return is silent from the client's perspective.
func (r *Router) Chat(sender, sessionID, body, from string) bool {
	s, ok := r.resolve(sender, sessionID)
	if !ok {
		return false
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessage, protocol.ServerChatMsg{
		SessionID: sessionID,
		Body:      body,
		From:      from,
		Ts:        time.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("relay: build chat message session=%s: %v", sessionID, err)
		return false
	}

	_ = r.notifier.SendMessage(s.Partner(sender), data)
	metrics.RelayedTotal.WithLabelValues("message").Inc()
	return true
}

// Typing forwards a typing indicator to the sender's partner.
func (r *Router) Typing(sender, sessionID string, isTyping bool) bool {
	s, ok := r.resolve(sender, sessionID)
	if !ok {
		return false
	}

	data, _ := protocol.NewServerMessage(protocol.TypeTyping, protocol.ServerTypingMsg{
		SessionID: sessionID,
		IsTyping:  isTyping,
	})
	_ = r.notifier.SendMessage(s.Partner(sender), data)
	metrics.RelayedTotal.WithLabelValues("typing").Inc()
	return true
}

// Signal forwards a WebRTC signaling envelope (offer, answer, or ICE
// candidate) verbatim to the sender's partner. The server never interprets
// the description or candidate blobs.
func (r *Router) Signal(sender, kind, sessionID string, description, candidate json.RawMessage) bool {
	s, ok := r.resolve(sender, sessionID)
	if !ok {
		return false
	}

	data, err := protocol.NewServerMessage(kind, protocol.ServerSignalMsg{
		SessionID:   sessionID,
		Description: description,
		Candidate:   candidate,
	})
	if err != nil {
		log.Printf("relay: build %s session=%s: %v", kind, sessionID, err)
		return false
	}

	_ = r.notifier.SendMessage(s.Partner(sender), data)
	metrics.RelayedTotal.WithLabelValues(kind).Inc()
	return true
}

// Reaction applies a like, dislike, or report against the target email and
// broadcasts the updated record to every connection registered for it. The
// reactor must be a participant of the supplied session; the target email is
// taken from the payload and need not be the partner's.
//
// When the reaction flips the ban flag, a ban notice is pushed to the same
// connections; the match-request gate keeps the email out of future queues.
func (r *Router) Reaction(sender, sessionID, email, kind string) bool {
	if _, ok := r.resolve(sender, sessionID); !ok {
		return false
	}

	if r.DedupReactions {
		if !r.sessions.MarkReaction(sessionID, sender+"|"+identity.NormalizeEmail(email)+"|"+kind) {
			return false
		}
	}

	rec, flipped, err := r.ledger.ApplyReaction(email, kind)
	if err != nil {
		log.Printf("relay: reaction session=%s: %v", sessionID, err)
		return false
	}
	metrics.ReactionsTotal.WithLabelValues(kind).Inc()

	targets := r.identities.HandlesFor(email)

	update, _ := protocol.NewServerMessage(protocol.TypeReputation, protocol.ReputationMsg{
		Email: identity.NormalizeEmail(email),
		Likes: rec.Likes, Dislikes: rec.Dislikes, Reports: rec.Reports, Banned: rec.Banned,
	})
	for _, id := range targets {
		_ = r.notifier.SendMessage(id, update)
	}

	if flipped {
		metrics.BansTotal.Inc()
		notice, _ := protocol.NewServerMessage(protocol.TypeBanned, protocol.BannedMsg{
			Email: identity.NormalizeEmail(email),
			Likes: rec.Likes, Dislikes: rec.Dislikes, Reports: rec.Reports, Banned: true,
		})
		for _, id := range targets {
			_ = r.notifier.SendMessage(id, notice)
		}
		log.Printf("relay: email %s banned (likes=%d dislikes=%d reports=%d)",
			identity.NormalizeEmail(email), rec.Likes, rec.Dislikes, rec.Reports)
	}

	if r.OnReaction != nil {
		r.OnReaction(sessionID, sender, identity.NormalizeEmail(email), kind, rec, flipped)
	}
	return true
}
