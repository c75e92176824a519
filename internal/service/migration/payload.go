package migration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/remitledger/internal/address"
	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/service/token"
)

// Operation kinds accepted in a batch payload.
const (
	OpRegisterAgent    = "register_agent"
	OpWhitelistToken   = "whitelist_token"
	OpImportRemittance = "import_remittance"
)

// Payload is the decoded body of a batch.
type Payload struct {
	Operations []Operation `json:"operations"`
}

type Operation struct {
	Kind       string            `json:"kind"`
	Agent      *AgentOp          `json:"agent,omitempty"`
	Token      *TokenOp          `json:"token,omitempty"`
	Remittance *ImportRemittance `json:"remittance,omitempty"`
}

type AgentOp struct {
	Address string `json:"address"`
}

type TokenOp struct {
	Asset    string `json:"asset"`
	Currency string `json:"currency"`
	Decimals int    `json:"decimals"`
}

// ImportRemittance carries a remittance recorded by a previous ledger.
type ImportRemittance struct {
	ID            uuid.UUID  `json:"id"`
	Sender        string     `json:"sender"`
	Recipient     string     `json:"recipient"`
	Agent         string     `json:"agent"`
	Asset         string     `json:"asset"`
	AmountMinor   uint64     `json:"amount_minor"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	SettlementRef string     `json:"settlement_ref,omitempty"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errs.ErrInvalidMigrationBatch)
}

// Decode parses and validates raw. Unknown fields and operation kinds are rejected.
func Decode(raw []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return Payload{}, invalid("decode payload: %v", err)
	}
	if len(p.Operations) == 0 {
		return Payload{}, invalid("payload has no operations")
	}
	for i, op := range p.Operations {
		if err := op.validate(); err != nil {
			return Payload{}, fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return p, nil
}

func (op Operation) validate() error {
	switch op.Kind {
	case OpRegisterAgent:
		if op.Agent == nil || !address.IsAddress(address.Normalize(op.Agent.Address)) {
			return invalid("register_agent needs a valid address")
		}
	case OpWhitelistToken:
		if op.Token == nil {
			return invalid("whitelist_token needs a token")
		}
		if err := token.Validate(op.Token.ledgerToken()); err != nil {
			return invalid("whitelist_token: %v", err)
		}
	case OpImportRemittance:
		if op.Remittance == nil {
			return invalid("import_remittance needs a remittance")
		}
		return op.Remittance.validate()
	default:
		return invalid("unknown operation kind %q", op.Kind)
	}
	return nil
}

func (t TokenOp) ledgerToken() ledger.Token {
	return ledger.Token{Asset: t.Asset, Currency: t.Currency, Decimals: t.Decimals, Active: true}
}

func (r ImportRemittance) validate() error {
	if r.ID == uuid.Nil {
		return invalid("import_remittance needs an id")
	}
	if address.Check(address.Normalize(r.Sender), address.Normalize(r.Recipient), address.Normalize(r.Agent)) != nil {
		return invalid("remittance %s has a malformed address", r.ID)
	}
	if !address.IsAsset(r.Asset) {
		return invalid("remittance %s has a malformed asset", r.ID)
	}
	if r.AmountMinor == 0 {
		return invalid("remittance %s has zero amount", r.ID)
	}
	st := ledger.Status(r.Status)
	if !st.Valid() {
		return invalid("remittance %s has unknown status %q", r.ID, r.Status)
	}
	if r.CreatedAt.IsZero() || !r.ExpiresAt.After(r.CreatedAt) {
		return invalid("remittance %s has inconsistent timestamps", r.ID)
	}
	settled := st == ledger.StatusSettled
	if settled != (r.SettlementRef != "") {
		return invalid("remittance %s: settlement reference must be set exactly when settled", r.ID)
	}
	if settled && !address.IsReference(r.SettlementRef) {
		return invalid("remittance %s has a malformed settlement reference", r.ID)
	}
	return nil
}

func (r ImportRemittance) ledgerRemittance(now time.Time) ledger.Remittance {
	out := ledger.Remittance{
		ID:            r.ID,
		Sender:        address.Normalize(r.Sender),
		Recipient:     address.Normalize(r.Recipient),
		Agent:         address.Normalize(r.Agent),
		Asset:         r.Asset,
		Amount:        r.AmountMinor,
		Status:        ledger.Status(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
		ExpiresAt:     r.ExpiresAt.UTC(),
		UpdatedAt:     now.UTC(),
		SettlementRef: r.SettlementRef,
	}
	if out.Status == ledger.StatusSettled {
		at := now.UTC()
		if r.SettledAt != nil {
			at = r.SettledAt.UTC()
		}
		out.SettledAt = &at
	}
	return out
}
