// Package token maintains the asset whitelist and renders minor-unit amounts
// in the currency a token is denominated in.
package token

import (
	"context"
	"fmt"
	"math"

	"github.com/govalues/money"

	"github.com/tinoosan/remitledger/internal/address"
	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/service/admin"
)

// MaxDecimals bounds the scale a token may declare.
const MaxDecimals = 18

type Repo interface {
	Token(ctx context.Context, asset string) (ledger.Token, bool, error)
	ListTokens(ctx context.Context) ([]ledger.Token, error)
	SaveToken(ctx context.Context, t ledger.Token) error
}

type Authorizer interface {
	Require(ctx context.Context, caller ledger.Address, class admin.Class) error
}

type Service interface {
	Whitelist(ctx context.Context, caller ledger.Address, t ledger.Token) (ledger.Token, error)
	Delist(ctx context.Context, caller ledger.Address, asset string) (ledger.Token, error)
	IsWhitelisted(ctx context.Context, asset string) (bool, error)
	Get(ctx context.Context, asset string) (ledger.Token, bool, error)
	List(ctx context.Context) ([]ledger.Token, error)
}

type service struct {
	repo  Repo
	authz Authorizer
}

func New(repo Repo, authz Authorizer) Service {
	return &service{repo: repo, authz: authz}
}

// Validate checks the token's shape without touching state.
func Validate(t ledger.Token) error {
	if err := address.CheckAsset(t.Asset); err != nil {
		return err
	}
	if _, err := money.ParseCurr(t.Currency); err != nil {
		return fmt.Errorf("currency %q: %w", t.Currency, errs.ErrInvalidAddress)
	}
	if t.Decimals < 0 || t.Decimals > MaxDecimals {
		return errs.ErrInvalidAmount
	}
	return nil
}

func (s *service) Whitelist(ctx context.Context, caller ledger.Address, t ledger.Token) (ledger.Token, error) {
	if err := Validate(t); err != nil {
		return ledger.Token{}, err
	}
	if err := s.authz.Require(ctx, caller, admin.ClassOperations); err != nil {
		return ledger.Token{}, err
	}
	cur, ok, err := s.repo.Token(ctx, t.Asset)
	if err != nil {
		return ledger.Token{}, err
	}
	if ok && cur.Active {
		return ledger.Token{}, errs.ErrTokenAlreadyWhitelisted
	}
	t.Active = true
	if err := s.repo.SaveToken(ctx, t); err != nil {
		return ledger.Token{}, err
	}
	return t, nil
}

// Delist deactivates asset. The record is kept so existing remittances still render.
func (s *service) Delist(ctx context.Context, caller ledger.Address, asset string) (ledger.Token, error) {
	if err := address.CheckAsset(asset); err != nil {
		return ledger.Token{}, err
	}
	if err := s.authz.Require(ctx, caller, admin.ClassOperations); err != nil {
		return ledger.Token{}, err
	}
	cur, ok, err := s.repo.Token(ctx, asset)
	if err != nil {
		return ledger.Token{}, err
	}
	if !ok || !cur.Active {
		return ledger.Token{}, errs.ErrTokenNotWhitelisted
	}
	cur.Active = false
	if err := s.repo.SaveToken(ctx, cur); err != nil {
		return ledger.Token{}, err
	}
	return cur, nil
}

func (s *service) IsWhitelisted(ctx context.Context, asset string) (bool, error) {
	t, ok, err := s.repo.Token(ctx, asset)
	if err != nil {
		return false, err
	}
	return ok && t.Active, nil
}

func (s *service) Get(ctx context.Context, asset string) (ledger.Token, bool, error) {
	return s.repo.Token(ctx, asset)
}

func (s *service) List(ctx context.Context) ([]ledger.Token, error) {
	return s.repo.ListTokens(ctx)
}

// Amount renders minor units of t as a money amount, e.g. 1050 USDC(6) -> USD 0.001050.
func Amount(t ledger.Token, minor uint64) (money.Amount, error) {
	if minor > math.MaxInt64 {
		return money.Amount{}, errs.ErrOverflow
	}
	return money.NewAmount(t.Currency, int64(minor), t.Decimals)
}
