package pause

import (
	"context"

	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/service/admin"
)

type Repo interface {
	Paused(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, paused bool) error
}

type Authorizer interface {
	Require(ctx context.Context, caller ledger.Address, class admin.Class) error
}

// Gate is the emergency stop. While closed only remittance creation is refused.
type Gate interface {
	Pause(ctx context.Context, caller ledger.Address) error
	Unpause(ctx context.Context, caller ledger.Address) error
	Paused(ctx context.Context) (bool, error)
	Check(ctx context.Context) error
}

type gate struct {
	repo  Repo
	authz Authorizer
}

func New(repo Repo, authz Authorizer) Gate { return &gate{repo: repo, authz: authz} }

func (g *gate) Pause(ctx context.Context, caller ledger.Address) error {
	return g.set(ctx, caller, true)
}

func (g *gate) Unpause(ctx context.Context, caller ledger.Address) error {
	return g.set(ctx, caller, false)
}

func (g *gate) set(ctx context.Context, caller ledger.Address, paused bool) error {
	if err := g.authz.Require(ctx, caller, admin.ClassOperations); err != nil {
		return err
	}
	return g.repo.SetPaused(ctx, paused)
}

func (g *gate) Paused(ctx context.Context) (bool, error) { return g.repo.Paused(ctx) }

func (g *gate) Check(ctx context.Context) error {
	paused, err := g.repo.Paused(ctx)
	if err != nil {
		return err
	}
	if paused {
		return errs.ErrContractPaused
	}
	return nil
}
