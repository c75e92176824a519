package errs

import "errors"

// Kind is a failure outcome of a ledger operation. Each kind carries a stable
// numeric code and a snake_case name used on the wire.
type Kind struct {
	Code uint32
	Name string
}

func (k *Kind) Error() string { return k.Name }

func newKind(code uint32, name string) *Kind { return &Kind{Code: code, Name: name} }

// Lifecycle.
var (
	ErrNotInitialized     = newKind(1, "not_initialized")
	ErrAlreadyInitialized = newKind(2, "already_initialized")
)

// Lookups, validation and authorization.
var (
	ErrRemittanceNotFound     = newKind(3, "remittance_not_found")
	ErrInvalidStatus          = newKind(4, "invalid_status")
	ErrInvalidAddress         = newKind(5, "invalid_address")
	ErrInvalidAmount          = newKind(6, "invalid_amount")
	ErrOverflow               = newKind(7, "overflow")
	ErrSettlementExpired      = newKind(8, "settlement_expired")
	ErrAgentNotRegistered     = newKind(9, "agent_not_registered")
	ErrAgentAlreadyRegistered = newKind(10, "agent_already_registered")
	ErrNotAdmin               = newKind(11, "not_admin")
	ErrDuplicateSettlement    = newKind(12, "duplicate_settlement")
	ErrContractPaused         = newKind(13, "contract_paused")
	ErrRateLimitExceeded      = newKind(14, "rate_limit_exceeded")
	ErrUnauthorized           = newKind(15, "unauthorized")
	ErrAdminAlreadyExists     = newKind(16, "admin_already_exists")
	ErrAdminNotFound          = newKind(17, "admin_not_found")
	ErrCannotRemoveLastAdmin  = newKind(18, "cannot_remove_last_admin")
	// ErrTokenNotWhitelisted also covers delisted (inactive) tokens.
	ErrTokenNotWhitelisted     = newKind(19, "token_not_whitelisted")
	ErrTokenAlreadyWhitelisted = newKind(20, "token_already_whitelisted")
	ErrInvalidMigrationHash    = newKind(21, "invalid_migration_hash")
	ErrMigrationInProgress     = newKind(22, "migration_in_progress")
	ErrInvalidMigrationBatch   = newKind(23, "invalid_migration_batch")
	ErrDailySendLimitExceeded  = newKind(24, "daily_send_limit_exceeded")
)

// All lists every kind ordered by code.
var All = []*Kind{
	ErrNotInitialized, ErrAlreadyInitialized, ErrRemittanceNotFound, ErrInvalidStatus,
	ErrInvalidAddress, ErrInvalidAmount, ErrOverflow, ErrSettlementExpired,
	ErrAgentNotRegistered, ErrAgentAlreadyRegistered, ErrNotAdmin, ErrDuplicateSettlement,
	ErrContractPaused, ErrRateLimitExceeded, ErrUnauthorized, ErrAdminAlreadyExists,
	ErrAdminNotFound, ErrCannotRemoveLastAdmin, ErrTokenNotWhitelisted, ErrTokenAlreadyWhitelisted,
	ErrInvalidMigrationHash, ErrMigrationInProgress, ErrInvalidMigrationBatch, ErrDailySendLimitExceeded,
}

// KindOf returns the ledger kind wrapped in err, or nil for infrastructure errors.
func KindOf(err error) *Kind {
	var k *Kind
	if errors.As(err, &k) {
		return k
	}
	return nil
}

// Name returns the snake_case name of err's kind, "ok" for nil and "internal" otherwise.
func Name(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != nil {
		return k.Name
	}
	return "internal"
}
