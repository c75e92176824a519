package contract

import (
	"context"
	"time"

	"github.com/tinoosan/remitledger/internal/service/admin"
	"github.com/tinoosan/remitledger/internal/service/agent"
	"github.com/tinoosan/remitledger/internal/service/migration"
	"github.com/tinoosan/remitledger/internal/service/pause"
	"github.com/tinoosan/remitledger/internal/service/ratelimit"
	"github.com/tinoosan/remitledger/internal/service/remittance"
	"github.com/tinoosan/remitledger/internal/service/token"
)

// InstanceRepo holds the one-time initialization marker.
type InstanceRepo interface {
	Initialized(ctx context.Context) (bool, error)
	MarkInitialized(ctx context.Context, at time.Time) error
}

// Tx is a unit of work over every piece of ledger state.
type Tx interface {
	InstanceRepo
	admin.Repo
	agent.Repo
	token.Repo
	ratelimit.Repo
	pause.Repo
	remittance.Repo
	migration.Repo
}

// Store runs units of work. Atomic commits every write fn made when fn returns
// nil and none of them otherwise. Atomic units never interleave.
type Store interface {
	Atomic(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}
