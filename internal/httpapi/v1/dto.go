package v1

import (
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/service/contract"
	"github.com/tinoosan/remitledger/internal/service/remittance"
)

type initializeRequest struct {
	Admin ledger.Address `json:"admin"`
}

type createRemittanceRequest struct {
	Sender      ledger.Address `json:"sender"`
	Recipient   ledger.Address `json:"recipient"`
	Agent       ledger.Address `json:"agent"`
	Asset       string         `json:"asset"`
	AmountMinor uint64         `json:"amount_minor"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

func (req createRemittanceRequest) toDomain() remittance.CreateRequest {
	return remittance.CreateRequest{
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Agent:     req.Agent,
		Asset:     req.Asset,
		Amount:    req.AmountMinor,
		ExpiresAt: req.ExpiresAt,
	}
}

type settleRequest struct {
	Reference string `json:"reference"`
}

type addressRequest struct {
	Address ledger.Address `json:"address"`
}

type tokenRequest struct {
	Asset    string `json:"asset"`
	Currency string `json:"currency"`
	Decimals int    `json:"decimals"`
}

// migrationRequest carries the payload base64-encoded so that the declared
// hash covers exactly the bytes the submitter hashed.
type migrationRequest struct {
	Sequence uint64 `json:"sequence"`
	Payload  []byte `json:"payload"`
	Hash     string `json:"hash"`
}

type remittanceResponse struct {
	ID          uuid.UUID      `json:"id"`
	Sender      ledger.Address `json:"sender"`
	Recipient   ledger.Address `json:"recipient"`
	Agent       ledger.Address `json:"agent"`
	Asset       string         `json:"asset"`
	AmountMinor uint64         `json:"amount_minor"`
	// Amount is the decimal rendering in the token's currency, when the token is known.
	Amount        string        `json:"amount,omitempty"`
	Status        ledger.Status `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	SettlementRef string        `json:"settlement_ref,omitempty"`
	SettledAt     *time.Time    `json:"settled_at,omitempty"`
}

type agentResponse struct {
	Address      ledger.Address `json:"address"`
	Active       bool           `json:"active"`
	RegisteredAt time.Time      `json:"registered_at"`
}

func toAgentResponse(a ledger.Agent) agentResponse {
	return agentResponse{Address: a.Address, Active: a.Active, RegisteredAt: a.RegisteredAt}
}

type tokenResponse struct {
	Asset    string `json:"asset"`
	Currency string `json:"currency"`
	Decimals int    `json:"decimals"`
	Active   bool   `json:"active"`
}

func toTokenResponse(t ledger.Token) tokenResponse {
	return tokenResponse{Asset: t.Asset, Currency: t.Currency, Decimals: t.Decimals, Active: t.Active}
}

type migrationStateResponse struct {
	Cursor      uint64 `json:"cursor"`
	InFlight    bool   `json:"in_flight"`
	InFlightSeq uint64 `json:"in_flight_seq,omitempty"`
}

func toMigrationStateResponse(st ledger.MigrationState) migrationStateResponse {
	return migrationStateResponse{Cursor: st.Cursor, InFlight: st.InFlight, InFlightSeq: st.InFlightSeq}
}

type migrationRecordResponse struct {
	Sequence    uint64                 `json:"sequence"`
	Hash        string                 `json:"hash"`
	Status      ledger.MigrationStatus `json:"status"`
	Operations  int                    `json:"operations"`
	SubmittedBy ledger.Address         `json:"submitted_by"`
	SubmittedAt time.Time              `json:"submitted_at"`
	AppliedAt   *time.Time             `json:"applied_at,omitempty"`
}

func toMigrationRecordResponse(rec ledger.MigrationRecord) migrationRecordResponse {
	return migrationRecordResponse{
		Sequence:    rec.Sequence,
		Hash:        rec.Hash,
		Status:      rec.Status,
		Operations:  rec.Operations,
		SubmittedBy: rec.SubmittedBy,
		SubmittedAt: rec.SubmittedAt,
		AppliedAt:   rec.AppliedAt,
	}
}

type migrationsResponse struct {
	State migrationStateResponse    `json:"state"`
	Items []migrationRecordResponse `json:"items"`
}

type statusResponse struct {
	Initialized bool                   `json:"initialized"`
	Paused      bool                   `json:"paused"`
	Admins      int                    `json:"admins"`
	Migration   migrationStateResponse `json:"migration"`
}

func toStatusResponse(st contract.Status) statusResponse {
	return statusResponse{
		Initialized: st.Initialized,
		Paused:      st.Paused,
		Admins:      st.Admins,
		Migration:   toMigrationStateResponse(st.Migration),
	}
}

type rateLimitResponse struct {
	Sender      ledger.Address `json:"sender"`
	WindowStart time.Time      `json:"window_start"`
	WindowCount uint32         `json:"window_count"`
	DayStart    time.Time      `json:"day_start"`
	DayAmount   uint64         `json:"day_amount"`
}

// listResponse wraps collections.
type listResponse[T any] struct {
	Items []T `json:"items"`
}
