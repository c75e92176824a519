// Package events describes ledger state changes and publishes them after commit.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/remitledger/internal/ledger"
)

type Type string

const (
	LedgerInitialized   Type = "ledger.initialized"
	LedgerPaused        Type = "ledger.paused"
	LedgerUnpaused      Type = "ledger.unpaused"
	RemittanceCreated   Type = "remittance.created"
	RemittanceAccepted  Type = "remittance.accepted"
	RemittanceSettled   Type = "remittance.settled"
	RemittanceExpired   Type = "remittance.expired"
	RemittanceCancelled Type = "remittance.cancelled"
	AdminAdded          Type = "admin.added"
	AdminRemoved        Type = "admin.removed"
	AgentRegistered     Type = "agent.registered"
	AgentRemoved        Type = "agent.removed"
	TokenWhitelisted    Type = "token.whitelisted"
	TokenDelisted       Type = "token.delisted"
	MigrationApplied    Type = "migration.applied"
)

// Event is a committed state change. Subject identifies the entity changed and
// is used as the partition key when streaming.
type Event struct {
	ID      uuid.UUID      `json:"id"`
	Type    Type           `json:"type"`
	At      time.Time      `json:"at"`
	Actor   ledger.Address `json:"actor,omitempty"`
	Subject string         `json:"subject"`
	Data    any            `json:"data,omitempty"`
}

// New stamps an event with a fresh ID.
func New(typ Type, at time.Time, actor ledger.Address, subject string, data any) Event {
	return Event{ID: uuid.New(), Type: typ, At: at.UTC(), Actor: actor, Subject: subject, Data: data}
}

type Publisher interface {
	Publish(ctx context.Context, evs ...Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(l *slog.Logger) *LogPublisher {
	if l == nil {
		l = slog.Default()
	}
	return &LogPublisher{log: l}
}

func (p *LogPublisher) Publish(ctx context.Context, evs ...Event) error {
	for _, e := range evs {
		p.log.InfoContext(ctx, "ledger event",
			"event_id", e.ID.String(),
			"type", string(e.Type),
			"subject", e.Subject,
			"actor", string(e.Actor),
		)
	}
	return nil
}

// Multi fans out to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evs ...Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, evs...); err != nil && first == nil {
			first = err
		}
	}
	return first
}
