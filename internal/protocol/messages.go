// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeProfile      = "profile"
	TypeMatchRequest = "match_request"
	TypeMessage      = "message"
	TypeTyping       = "typing"
	TypeLeave        = "leave"
	TypeReaction     = "reaction"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICE          = "ice"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeConnected    = "connected"
	TypeQueued       = "queued"
	TypePaired       = "paired"
	TypePartnerLeft  = "partner_left"
	TypeSessionEnded = "session_ended"
	TypeReputation   = "reputation"
	TypeBanned       = "banned"
	TypeRateLimited  = "rate_limited"
	TypeError        = "error"
	TypePong         = "pong"
)

// Reaction kinds accepted in ReactionMsg.Kind.
const (
	ReactionLike    = "like"
	ReactionDislike = "dislike"
	ReactionReport  = "report"
)

// ---------------------------------------------------------------------------
// Envelope, used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// ProfileMsg is sent by the client to register or replace the profile attached
// to this connection. The email is the identity key; the server lowercases it
// and otherwise trusts the payload verbatim.
type ProfileMsg struct {
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Interests []string `json:"interests"`
}

// MatchRequestMsg is sent by the client to enter the waiting queue for a mode.
type MatchRequestMsg struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

// ChatMsg is a text message sent by the client within a session.
type ChatMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Body      string `json:"body"`
	From      string `json:"from"`
}

// TypingMsg indicates whether the client is currently typing.
type TypingMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	IsTyping  bool   `json:"is_typing"`
}

// LeaveMsg is sent by the client to end its session explicitly.
type LeaveMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	User      string `json:"user"`
	Mode      string `json:"mode"`
}

// ReactionMsg is sent by the client to like, dislike, or report an email. The
// session id ties the reaction to the session the reactor is currently in.
type ReactionMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Email     string `json:"email"`
	Kind      string `json:"kind"`
}

// SignalMsg carries a WebRTC signaling envelope (offer, answer, or ICE
// candidate). The description and candidate blobs are opaque to the server
// and forwarded verbatim to the partner.
type SignalMsg struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"session_id"`
	Description json.RawMessage `json:"description,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent by the server when a connection is established.
type ConnectedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// QueuedMsg confirms the client has entered a waiting queue.
type QueuedMsg struct {
	Type        string `json:"type"`
	Mode        string `json:"mode"`
	QueueLength int    `json:"queue_length"`
}

// PartnerView is the sanitized slice of the partner's profile shared in a
// paired event. It never exposes the raw profile or reputation internals.
type PartnerView struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Interest string `json:"interest"`
	Tagline  string `json:"tagline"`
}

// PairedMsg is sent to both peers when a session is formed. Exactly one of
// the two carries Initiator=true; that peer starts the signaling handshake.
type PairedMsg struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Mode      string      `json:"mode"`
	Partner   PartnerView `json:"partner"`
	Initiator bool        `json:"initiator"`
}

// ServerChatMsg is a chat message relayed to the partner, stamped with a
// server-side timestamp in unix milliseconds. Client-supplied timestamps are
// not trusted for ordering.
type ServerChatMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Body      string `json:"body"`
	From      string `json:"from"`
	Ts        int64  `json:"ts"`
}

// ServerTypingMsg relays the partner's typing indicator.
type ServerTypingMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	IsTyping  bool   `json:"is_typing"`
}

// PartnerLeftMsg is sent to the remaining peer when its partner left or
// disconnected.
type PartnerLeftMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// SessionEndedMsg confirms to the leaving peer that its own session ended.
type SessionEndedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ReputationMsg carries the current reputation record for an email.
type ReputationMsg struct {
	Type     string `json:"type"`
	Email    string `json:"email"`
	Likes    uint   `json:"likes"`
	Dislikes uint   `json:"dislikes"`
	Reports  uint   `json:"reports"`
	Banned   bool   `json:"banned"`
}

// BannedMsg is the ban notice pushed to every connection of a banned email.
// It carries the full reputation record that crossed the threshold.
type BannedMsg struct {
	Type     string `json:"type"`
	Email    string `json:"email"`
	Likes    uint   `json:"likes"`
	Dislikes uint   `json:"dislikes"`
	Reports  uint   `json:"reports"`
	Banned   bool   `json:"banned"`
}

// ServerSignalMsg is the server->client passthrough of a signaling envelope.
type ServerSignalMsg struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"session_id"`
	Description json.RawMessage `json:"description,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
}

// RateLimitedMsg is sent when the client exceeded a throttle window.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ValidReactionKind reports whether kind is one of the accepted reaction kinds.
func ValidReactionKind(kind string) bool {
	return kind == ReactionLike || kind == ReactionDislike || kind == ReactionReport
}

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeProfile:
		var m ProfileMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMatchRequest:
		var m MatchRequestMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeave:
		var m LeaveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReaction:
		var m ReactionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeOffer, TypeAnswer, TypeICE:
		var m SignalMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
