// Package messaging provides an optional NATS publisher that mirrors
// pairing, session, and reputation events to external consumers (moderation
// tooling, analytics). The server never subscribes: all core coordination is
// in-process, so only the outbound surface exists.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects for outbound events.
const (
	SubjectPaired       = "match.paired"
	SubjectSessionEnded = "session.ended"
	SubjectReaction     = "reputation.reaction"
	SubjectBanned       = "reputation.banned"
)

// PairedEvent is published when a session is formed.
type PairedEvent struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	ConnA     string `json:"conn_a"`
	ConnB     string `json:"conn_b"`
	Ts        int64  `json:"ts"`
}

// SessionEndedEvent is published when a session is torn down.
type SessionEndedEvent struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	Reason    string `json:"reason"` // "leave" or "disconnect"
	Ts        int64  `json:"ts"`
}

// ReactionEvent is published for every applied reaction; Banned marks the
// reaction that flipped the ban flag.
type ReactionEvent struct {
	SessionID   string `json:"session_id"`
	TargetEmail string `json:"target_email"`
	Kind        string `json:"kind"`
	Likes       uint   `json:"likes"`
	Dislikes    uint   `json:"dislikes"`
	Reports     uint   `json:"reports"`
	Banned      bool   `json:"banned"`
	Ts          int64  `json:"ts"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "campuslink-server",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Publisher wraps the NATS connection with helper methods for the outbound
// event subjects.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS with the given config and returns a ready
// publisher. It returns an error if the initial connection fails.
func NewPublisher(config Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return &Publisher{conn: nc}, nil
}

// publish marshals the event and publishes it. Failures are logged, never
// propagated; the event stream is best effort.
func (p *Publisher) publish(subject string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[nats] marshal %s: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("[nats] publish %s: %v", subject, err)
	}
}

// PublishPaired emits a match.paired event.
func (p *Publisher) PublishPaired(ev PairedEvent) {
	ev.Ts = time.Now().Unix()
	p.publish(SubjectPaired, ev)
}

// PublishSessionEnded emits a session.ended event.
func (p *Publisher) PublishSessionEnded(ev SessionEndedEvent) {
	ev.Ts = time.Now().Unix()
	p.publish(SubjectSessionEnded, ev)
}

// PublishReaction emits a reputation.reaction event, and a
// reputation.banned event when the reaction flipped the ban flag.
func (p *Publisher) PublishReaction(ev ReactionEvent) {
	ev.Ts = time.Now().Unix()
	p.publish(SubjectReaction, ev)
	if ev.Banned {
		p.publish(SubjectBanned, ev)
	}
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] publisher closed")
}
