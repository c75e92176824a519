package agent

import (
	"context"
	"time"

	"github.com/tinoosan/remitledger/internal/address"
	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/service/admin"
)

type Repo interface {
	Agent(ctx context.Context, a ledger.Address) (ledger.Agent, bool, error)
	ListAgents(ctx context.Context) ([]ledger.Agent, error)
	SaveAgent(ctx context.Context, ag ledger.Agent) error
}

// Authorizer is the admin check the registry relies on.
type Authorizer interface {
	Require(ctx context.Context, caller ledger.Address, class admin.Class) error
}

type Service interface {
	Register(ctx context.Context, caller, a ledger.Address, now time.Time) (ledger.Agent, error)
	Remove(ctx context.Context, caller, a ledger.Address) (ledger.Agent, error)
	IsActive(ctx context.Context, a ledger.Address) (bool, error)
	List(ctx context.Context) ([]ledger.Agent, error)
}

type service struct {
	repo  Repo
	authz Authorizer
}

func New(repo Repo, authz Authorizer) Service {
	return &service{repo: repo, authz: authz}
}

// Register activates a. Removed agents are reactivated with a fresh registration time.
func (s *service) Register(ctx context.Context, caller, a ledger.Address, now time.Time) (ledger.Agent, error) {
	if err := address.Check(a); err != nil {
		return ledger.Agent{}, err
	}
	if err := s.authz.Require(ctx, caller, admin.ClassOperations); err != nil {
		return ledger.Agent{}, err
	}
	cur, ok, err := s.repo.Agent(ctx, a)
	if err != nil {
		return ledger.Agent{}, err
	}
	if ok && cur.Active {
		return ledger.Agent{}, errs.ErrAgentAlreadyRegistered
	}
	ag := ledger.Agent{Address: a, Active: true, RegisteredAt: now.UTC()}
	if err := s.repo.SaveAgent(ctx, ag); err != nil {
		return ledger.Agent{}, err
	}
	return ag, nil
}

func (s *service) Remove(ctx context.Context, caller, a ledger.Address) (ledger.Agent, error) {
	if err := address.Check(a); err != nil {
		return ledger.Agent{}, err
	}
	if err := s.authz.Require(ctx, caller, admin.ClassOperations); err != nil {
		return ledger.Agent{}, err
	}
	cur, ok, err := s.repo.Agent(ctx, a)
	if err != nil {
		return ledger.Agent{}, err
	}
	if !ok || !cur.Active {
		return ledger.Agent{}, errs.ErrAgentNotRegistered
	}
	cur.Active = false
	if err := s.repo.SaveAgent(ctx, cur); err != nil {
		return ledger.Agent{}, err
	}
	return cur, nil
}

func (s *service) IsActive(ctx context.Context, a ledger.Address) (bool, error) {
	ag, ok, err := s.repo.Agent(ctx, a)
	if err != nil {
		return false, err
	}
	return ok && ag.Active, nil
}

func (s *service) List(ctx context.Context) ([]ledger.Agent, error) {
	return s.repo.ListAgents(ctx)
}
