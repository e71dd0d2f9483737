// Package events mirrors session activity to an external bus. Nothing in
// the sync protocol depends on delivery; the mirror exists so operators
// can watch a session from outside the process.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Type names a mirrored event. It becomes the last token of the subject.
type Type string

const (
	TypeConnectionOpened Type = "connection.opened"
	TypeConnectionClosed Type = "connection.closed"
	TypeLeaderGranted    Type = "leader.granted"
	TypeLeaderDenied     Type = "leader.denied"
	TypeLeaderReleased   Type = "leader.released"
	TypeCommandIssued    Type = "command.issued"
	TypeCommandAcked     Type = "command.acked"
	TypeCommandRetried   Type = "command.retried"
	TypeResyncSent       Type = "resync.sent"
)

// Event is one mirrored occurrence.
type Event struct {
	ID           uuid.UUID `json:"eventId"`
	Type         Type      `json:"eventType"`
	Session      string    `json:"session"`
	ConnectionID string    `json:"connectionId,omitempty"`
	OccurredAt   time.Time `json:"timestamp"`
	Payload      any       `json:"payload,omitempty"`
}

// New stamps an event with a fresh id.
func New(t Type, session, connID string, at time.Time, payload any) Event {
	return Event{
		ID:           uuid.New(),
		Type:         t,
		Session:      session,
		ConnectionID: connID,
		OccurredAt:   at.UTC(),
		Payload:      payload,
	}
}

// Publisher delivers events to a bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LogPublisher writes events to the debug log. It is used when no NATS
// URL is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event Event) error {
	log.Debug().
		Str("event_type", string(event.Type)).
		Str("session", event.Session).
		Str("connection_id", event.ConnectionID).
		Interface("payload", event.Payload).
		Msg("session event")
	return nil
}

func (LogPublisher) Close() error { return nil }
