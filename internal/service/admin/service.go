// Package admin maintains the administrator set. Every admin-gated operation in
// the ledger goes through Registry.Require.
package admin

import (
	"context"

	"github.com/tinoosan/remitledger/internal/address"
	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/ledger"
)

// Repo is the admin set storage.
type Repo interface {
	IsAdmin(ctx context.Context, a ledger.Address) (bool, error)
	ListAdmins(ctx context.Context) ([]ledger.Address, error)
	CountAdmins(ctx context.Context) (int, error)
	AddAdmin(ctx context.Context, a ledger.Address) error
	RemoveAdmin(ctx context.Context, a ledger.Address) error
}

// Class selects which error a failed admin check reports.
type Class int

const (
	// ClassAdminSet covers changes to the admin set itself; failures are Unauthorized.
	ClassAdminSet Class = iota
	// ClassOperations covers every other admin-gated operation; failures are NotAdmin.
	ClassOperations
)

// Registry exposes admin set management and the shared authorization check.
type Registry interface {
	Require(ctx context.Context, caller ledger.Address, class Class) error
	IsAdmin(ctx context.Context, a ledger.Address) (bool, error)
	Bootstrap(ctx context.Context, first ledger.Address) error
	Add(ctx context.Context, caller, newAdmin ledger.Address) error
	Remove(ctx context.Context, caller, target ledger.Address) error
	List(ctx context.Context) ([]ledger.Address, error)
}

type registry struct {
	repo Repo
}

func New(repo Repo) Registry { return &registry{repo: repo} }

func denied(class Class) error {
	if class == ClassAdminSet {
		return errs.ErrUnauthorized
	}
	return errs.ErrNotAdmin
}

func (r *registry) Require(ctx context.Context, caller ledger.Address, class Class) error {
	if !address.IsAddress(caller) {
		return denied(class)
	}
	ok, err := r.repo.IsAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return denied(class)
	}
	return nil
}

func (r *registry) IsAdmin(ctx context.Context, a ledger.Address) (bool, error) {
	if !address.IsAddress(a) {
		return false, nil
	}
	return r.repo.IsAdmin(ctx, a)
}

// Bootstrap seeds the first admin. The caller guarantees the set is empty.
func (r *registry) Bootstrap(ctx context.Context, first ledger.Address) error {
	if err := address.Check(first); err != nil {
		return err
	}
	return r.repo.AddAdmin(ctx, first)
}

func (r *registry) Add(ctx context.Context, caller, newAdmin ledger.Address) error {
	if err := address.Check(newAdmin); err != nil {
		return err
	}
	if err := r.Require(ctx, caller, ClassAdminSet); err != nil {
		return err
	}
	exists, err := r.repo.IsAdmin(ctx, newAdmin)
	if err != nil {
		return err
	}
	if exists {
		return errs.ErrAdminAlreadyExists
	}
	return r.repo.AddAdmin(ctx, newAdmin)
}

// Remove drops target from the set. The set never becomes empty.
func (r *registry) Remove(ctx context.Context, caller, target ledger.Address) error {
	if err := address.Check(target); err != nil {
		return err
	}
	if err := r.Require(ctx, caller, ClassAdminSet); err != nil {
		return err
	}
	exists, err := r.repo.IsAdmin(ctx, target)
	if err != nil {
		return err
	}
	if !exists {
		return errs.ErrAdminNotFound
	}
	n, err := r.repo.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if n <= 1 {
		return errs.ErrCannotRemoveLastAdmin
	}
	return r.repo.RemoveAdmin(ctx, target)
}

func (r *registry) List(ctx context.Context) ([]ledger.Address, error) {
	return r.repo.ListAdmins(ctx)
}
