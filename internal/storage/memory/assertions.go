package memory

import (
	"github.com/tinoosan/remitledger/internal/idempotency"
	"github.com/tinoosan/remitledger/internal/service/contract"
	"github.com/tinoosan/remitledger/internal/service/migration"
)

// Compile-time interface assertions documenting which interfaces Store satisfies.
var (
	_ contract.Store    = (*Store)(nil)
	_ contract.Tx       = (*Tx)(nil)
	_ migration.Tx      = (*Tx)(nil)
	_ idempotency.Store = (*IdempotencyStore)(nil)
)
