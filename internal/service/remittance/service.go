// Package remittance owns the remittance lifecycle: creation, acceptance,
// settlement, expiry and cancellation.
package remittance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/remitledger/internal/address"
	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/ledger"
)

// DefaultMaxAmount caps a single remittance in minor units.
const DefaultMaxAmount uint64 = 1_000_000_000_000

type Repo interface {
	Remittance(ctx context.Context, id uuid.UUID) (ledger.Remittance, bool, error)
	RemittancesBySender(ctx context.Context, sender ledger.Address) ([]ledger.Remittance, error)
	CreateRemittance(ctx context.Context, r ledger.Remittance) error
	UpdateRemittance(ctx context.Context, r ledger.Remittance) error
	SettlementRefUsed(ctx context.Context, ref string) (bool, error)
}

type (
	PauseChecker interface {
		Check(ctx context.Context) error
	}
	AgentChecker interface {
		IsActive(ctx context.Context, a ledger.Address) (bool, error)
	}
	TokenChecker interface {
		IsWhitelisted(ctx context.Context, asset string) (bool, error)
	}
	AdminChecker interface {
		IsAdmin(ctx context.Context, a ledger.Address) (bool, error)
	}
	Limiter interface {
		Admit(ctx context.Context, sender ledger.Address, amount uint64, now time.Time) (ledger.RateLimitState, error)
		Commit(ctx context.Context, st ledger.RateLimitState) error
	}
)

// Deps are the collaborators consulted while validating transitions.
type Deps struct {
	Pause   PauseChecker
	Agents  AgentChecker
	Tokens  TokenChecker
	Admins  AdminChecker
	Limiter Limiter
}

type Config struct {
	MaxAmount uint64
}

// CreateRequest carries the caller-supplied fields of a new remittance.
type CreateRequest struct {
	Sender    ledger.Address
	Recipient ledger.Address
	Agent     ledger.Address
	Asset     string
	Amount    uint64
	ExpiresAt time.Time
}

type Ledger interface {
	Create(ctx context.Context, caller ledger.Address, req CreateRequest, now time.Time) (ledger.Remittance, error)
	Accept(ctx context.Context, caller ledger.Address, id uuid.UUID, now time.Time) (ledger.Remittance, error)
	Settle(ctx context.Context, caller ledger.Address, id uuid.UUID, ref string, now time.Time) (ledger.Remittance, error)
	// Expire reports changed=false when the record was already expired.
	Expire(ctx context.Context, caller ledger.Address, id uuid.UUID, now time.Time) (r ledger.Remittance, changed bool, err error)
	Cancel(ctx context.Context, caller ledger.Address, id uuid.UUID, now time.Time) (ledger.Remittance, error)
	Get(ctx context.Context, id uuid.UUID) (ledger.Remittance, error)
	ListBySender(ctx context.Context, sender ledger.Address) ([]ledger.Remittance, error)
}

type service struct {
	repo  Repo
	deps  Deps
	cfg   Config
	newID func() uuid.UUID
}

func New(repo Repo, deps Deps, cfg Config) Ledger {
	if cfg.MaxAmount == 0 {
		cfg.MaxAmount = DefaultMaxAmount
	}
	return &service{repo: repo, deps: deps, cfg: cfg, newID: uuid.New}
}

func (s *service) Create(ctx context.Context, caller ledger.Address, req CreateRequest, now time.Time) (ledger.Remittance, error) {
	if err := address.Check(req.Sender, req.Recipient, req.Agent); err != nil {
		return ledger.Remittance{}, err
	}
	if err := address.CheckAsset(req.Asset); err != nil {
		return ledger.Remittance{}, err
	}
	if err := s.deps.Pause.Check(ctx); err != nil {
		return ledger.Remittance{}, err
	}
	if caller != req.Sender {
		return ledger.Remittance{}, errs.ErrUnauthorized
	}
	if req.Amount == 0 || req.Amount > s.cfg.MaxAmount {
		return ledger.Remittance{}, errs.ErrInvalidAmount
	}
	ok, err := s.deps.Tokens.IsWhitelisted(ctx, req.Asset)
	if err != nil {
		return ledger.Remittance{}, err
	}
	if !ok {
		return ledger.Remittance{}, errs.ErrTokenNotWhitelisted
	}
	ok, err = s.deps.Agents.IsActive(ctx, req.Agent)
	if err != nil {
		return ledger.Remittance{}, err
	}
	if !ok {
		return ledger.Remittance{}, errs.ErrAgentNotRegistered
	}
	if !req.ExpiresAt.After(now) {
		return ledger.Remittance{}, errs.ErrSettlementExpired
	}
	st, err := s.deps.Limiter.Admit(ctx, req.Sender, req.Amount, now)
	if err != nil {
		return ledger.Remittance{}, err
	}

	now = now.UTC()
	r := ledger.Remittance{
		ID:        s.newID(),
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Agent:     req.Agent,
		Asset:     req.Asset,
		Amount:    req.Amount,
		Status:    ledger.StatusCreated,
		CreatedAt: now,
		ExpiresAt: req.ExpiresAt.UTC(),
		UpdatedAt: now,
	}
	if err := s.repo.CreateRemittance(ctx, r); err != nil {
		return ledger.Remittance{}, err
	}
	if err := s.deps.Limiter.Commit(ctx, st); err != nil {
		return ledger.Remittance{}, err
	}
	return r, nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (ledger.Remittance, error) {
	r, ok, err := s.repo.Remittance(ctx, id)
	if err != nil {
		return ledger.Remittance{}, err
	}
	if !ok {
		return ledger.Remittance{}, errs.ErrRemittanceNotFound
	}
	return r, nil
}

func (s *service) transition(ctx context.Context, r ledger.Remittance, to ledger.Status, now time.Time) (ledger.Remittance, error) {
	if !ledger.CanTransition(r.Status, to) {
		return ledger.Remittance{}, errs.ErrInvalidStatus
	}
	r.Status = to
	r.UpdatedAt = now.UTC()
	if err := s.repo.UpdateRemittance(ctx, r); err != nil {
		return ledger.Remittance{}, err
	}
	return r, nil
}

// Accept moves a created remittance to pending. Only the assigned agent may accept.
func (s *service) Accept(ctx context.Context, caller ledger.Address, id uuid.UUID, now time.Time) (ledger.Remittance, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return ledger.Remittance{}, err
	}
	if caller != r.Agent {
		return ledger.Remittance{}, errs.ErrUnauthorized
	}
	if r.Status == ledger.StatusExpired || (!r.Status.Terminal() && r.Expired(now)) {
		return ledger.Remittance{}, errs.ErrSettlementExpired
	}
	if r.Status != ledger.StatusCreated {
		return ledger.Remittance{}, errs.ErrInvalidStatus
	}
	ok, err := s.deps.Agents.IsActive(ctx, r.Agent)
	if err != nil {
		return ledger.Remittance{}, err
	}
	if !ok {
		return ledger.Remittance{}, errs.ErrAgentNotRegistered
	}
	return s.transition(ctx, r, ledger.StatusPending, now)
}

func (s *service) Settle(ctx context.Context, caller ledger.Address, id uuid.UUID, ref string, now time.Time) (ledger.Remittance, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return ledger.Remittance{}, err
	}
	if caller != r.Agent {
		return ledger.Remittance{}, errs.ErrUnauthorized
	}
	if err := address.CheckReference(ref); err != nil {
		return ledger.Remittance{}, err
	}
	if r.SettlementRef != "" || r.Status == ledger.StatusSettled {
		return ledger.Remittance{}, errs.ErrDuplicateSettlement
	}
	if r.Status == ledger.StatusExpired || (!r.Status.Terminal() && r.Expired(now)) {
		return ledger.Remittance{}, errs.ErrSettlementExpired
	}
	if !ledger.CanTransition(r.Status, ledger.StatusSettled) {
		return ledger.Remittance{}, errs.ErrInvalidStatus
	}
	ok, err := s.deps.Agents.IsActive(ctx, r.Agent)
	if err != nil {
		return ledger.Remittance{}, err
	}
	if !ok {
		return ledger.Remittance{}, errs.ErrAgentNotRegistered
	}
	used, err := s.repo.SettlementRefUsed(ctx, ref)
	if err != nil {
		return ledger.Remittance{}, err
	}
	if used {
		return ledger.Remittance{}, errs.ErrDuplicateSettlement
	}
	at := now.UTC()
	r.SettlementRef = ref
	r.SettledAt = &at
	return s.transition(ctx, r, ledger.StatusSettled, now)
}

func (s *service) Expire(ctx context.Context, caller ledger.Address, id uuid.UUID, now time.Time) (ledger.Remittance, bool, error) {
	if err := address.Check(caller); err != nil {
		return ledger.Remittance{}, false, errs.ErrUnauthorized
	}
	r, err := s.load(ctx, id)
	if err != nil {
		return ledger.Remittance{}, false, err
	}
	if r.Status == ledger.StatusExpired {
		return r, false, nil
	}
	if r.Status.Terminal() || !r.Expired(now) {
		return ledger.Remittance{}, false, errs.ErrInvalidStatus
	}
	r, err = s.transition(ctx, r, ledger.StatusExpired, now)
	if err != nil {
		return ledger.Remittance{}, false, err
	}
	return r, true, nil
}

// Cancel is allowed for the original sender and for admins.
func (s *service) Cancel(ctx context.Context, caller ledger.Address, id uuid.UUID, now time.Time) (ledger.Remittance, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return ledger.Remittance{}, err
	}
	if caller != r.Sender {
		isAdmin, err := s.deps.Admins.IsAdmin(ctx, caller)
		if err != nil {
			return ledger.Remittance{}, err
		}
		if !isAdmin {
			return ledger.Remittance{}, errs.ErrUnauthorized
		}
	}
	return s.transition(ctx, r, ledger.StatusCancelled, now)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (ledger.Remittance, error) {
	return s.load(ctx, id)
}

func (s *service) ListBySender(ctx context.Context, sender ledger.Address) ([]ledger.Remittance, error) {
	if err := address.Check(sender); err != nil {
		return nil, err
	}
	return s.repo.RemittancesBySender(ctx, sender)
}
