package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Address identifies a sender, recipient, agent or admin.
type Address string

func (a Address) String() string { return string(a) }

// Status is the lifecycle position of a remittance.
type Status string

const (
	// StatusCreated is the initial state after a sender submits a remittance.
	StatusCreated Status = "created"
	// StatusPending marks a remittance the agent has accepted for payout.
	StatusPending Status = "pending"
	// StatusSettled records completed payout. Terminal.
	StatusSettled Status = "settled"
	// StatusExpired is reached once the expiry passed without settlement. Terminal.
	StatusExpired Status = "expired"
	// StatusCancelled is set by an admin or the sender before settlement. Terminal.
	StatusCancelled Status = "cancelled"
)

// transitions lists every legal edge of the remittance state machine.
var transitions = map[Status][]Status{
	StatusCreated: {StatusPending, StatusExpired, StatusCancelled},
	StatusPending: {StatusSettled, StatusExpired, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the state machine.
// Created may settle directly; the agent is not required to accept first.
func CanTransition(from, to Status) bool {
	if from == StatusCreated && to == StatusSettled {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusExpired || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPending, StatusSettled, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Remittance is a single sender-to-recipient transfer tracked through its lifecycle.
// Amount is in the asset's minor units.
type Remittance struct {
	ID        uuid.UUID
	Sender    Address
	Recipient Address
	Agent     Address
	Asset     string
	Amount    uint64
	Status    Status
	CreatedAt time.Time
	ExpiresAt time.Time
	UpdatedAt time.Time
	// SettlementRef is set exactly once, on settlement.
	SettlementRef string
	SettledAt     *time.Time
}

// Expired reports whether now is at or past the expiry.
func (r Remittance) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

// Agent is an entity allowed to execute settlements.
type Agent struct {
	Address      Address
	Active       bool
	RegisteredAt time.Time
}

// Token is an asset approved for use in remittances.
type Token struct {
	Asset string
	// Currency is the ISO 4217 code the asset is denominated in.
	Currency string
	Decimals int
	Active   bool
}

// RateLimitState holds per-sender admission counters.
type RateLimitState struct {
	Sender      Address
	WindowStart time.Time
	WindowCount uint32
	DayStart    time.Time
	DayAmount   uint64
}

// MigrationStatus is the position of a batch in the migration pipeline.
type MigrationStatus string

const (
	MigrationPending  MigrationStatus = "pending"
	MigrationVerified MigrationStatus = "verified"
	MigrationApplied  MigrationStatus = "applied"
	MigrationFailed   MigrationStatus = "failed"
)

// MigrationState is the process-wide migration cursor.
type MigrationState struct {
	// Cursor is the highest applied sequence number; zero when none applied.
	Cursor   uint64
	InFlight bool
	// InFlightSeq is the sequence being applied while InFlight is set.
	InFlightSeq uint64
}

// MigrationRecord describes one submitted batch.
type MigrationRecord struct {
	Sequence    uint64
	Hash        string
	Status      MigrationStatus
	Operations  int
	SubmittedBy Address
	SubmittedAt time.Time
	AppliedAt   *time.Time
}
