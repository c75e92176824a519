// Package contract is the entry-point boundary of the remittance ledger. Each
// entry point checks initialization, runs its component logic inside one unit
// of work, counts the outcome and publishes events once the unit committed.
package contract

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/remitledger/internal/address"
	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/events"
	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/logging"
	"github.com/tinoosan/remitledger/internal/service/admin"
	"github.com/tinoosan/remitledger/internal/service/agent"
	"github.com/tinoosan/remitledger/internal/service/migration"
	"github.com/tinoosan/remitledger/internal/service/pause"
	"github.com/tinoosan/remitledger/internal/service/ratelimit"
	"github.com/tinoosan/remitledger/internal/service/remittance"
	"github.com/tinoosan/remitledger/internal/service/token"
)

type Config struct {
	Remittance remittance.Config
	RateLimit  ratelimit.Config
	// Hasher verifies migration batches; nil means sha256.
	Hasher migration.Hasher
}

// Status summarizes the ledger instance.
type Status struct {
	Initialized bool
	Paused      bool
	Admins      int
	Migration   ledger.MigrationState
}

type Service interface {
	Initialize(ctx context.Context, first ledger.Address) error
	Status(ctx context.Context) (Status, error)

	CreateRemittance(ctx context.Context, caller ledger.Address, req remittance.CreateRequest) (ledger.Remittance, error)
	AcceptRemittance(ctx context.Context, caller ledger.Address, id uuid.UUID) (ledger.Remittance, error)
	Settle(ctx context.Context, caller ledger.Address, id uuid.UUID, ref string) (ledger.Remittance, error)
	Expire(ctx context.Context, caller ledger.Address, id uuid.UUID) (ledger.Remittance, error)
	Cancel(ctx context.Context, caller ledger.Address, id uuid.UUID) (ledger.Remittance, error)
	GetRemittance(ctx context.Context, id uuid.UUID) (ledger.Remittance, error)
	ListRemittances(ctx context.Context, sender ledger.Address) ([]ledger.Remittance, error)

	AddAdmin(ctx context.Context, caller, newAdmin ledger.Address) error
	RemoveAdmin(ctx context.Context, caller, target ledger.Address) error
	ListAdmins(ctx context.Context) ([]ledger.Address, error)

	RegisterAgent(ctx context.Context, caller, a ledger.Address) (ledger.Agent, error)
	RemoveAgent(ctx context.Context, caller, a ledger.Address) (ledger.Agent, error)
	ListAgents(ctx context.Context) ([]ledger.Agent, error)

	WhitelistToken(ctx context.Context, caller ledger.Address, t ledger.Token) (ledger.Token, error)
	DelistToken(ctx context.Context, caller ledger.Address, asset string) (ledger.Token, error)
	ListTokens(ctx context.Context) ([]ledger.Token, error)
	Token(ctx context.Context, asset string) (ledger.Token, bool, error)

	Pause(ctx context.Context, caller ledger.Address) error
	Unpause(ctx context.Context, caller ledger.Address) error

	SubmitMigrationBatch(ctx context.Context, caller ledger.Address, b migration.Batch) (ledger.MigrationRecord, error)
	MigrationState(ctx context.Context) (ledger.MigrationState, error)
	MigrationRecords(ctx context.Context) ([]ledger.MigrationRecord, error)

	RateLimitState(ctx context.Context, sender ledger.Address) (ledger.RateLimitState, error)
}

type Option func(*service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *service) { s.now = now } }

func WithPublisher(p events.Publisher) Option { return func(s *service) { s.pub = p } }

type service struct {
	store      Store
	cfg        Config
	now        func() time.Time
	pub        events.Publisher
	migrations migration.Controller
}

func New(store Store, cfg Config, opts ...Option) Service {
	s := &service{store: store, cfg: cfg, now: time.Now, pub: events.Nop{}}
	for _, o := range opts {
		o(s)
	}
	s.migrations = migration.New(migration.Bind(store.Atomic, store.View), migration.Config{
		Hasher:    cfg.Hasher,
		MaxAmount: cfg.Remittance.MaxAmount,
	})
	return s
}

// components are the ledger services bound to one unit of work.
type components struct {
	tx      Tx
	admins  admin.Registry
	agents  agent.Service
	tokens  token.Service
	gate    pause.Gate
	limiter ratelimit.Limiter
	remits  remittance.Ledger
}

func (s *service) bind(tx Tx) components {
	admins := admin.New(tx)
	agents := agent.New(tx, admins)
	tokens := token.New(tx, admins)
	gate := pause.New(tx, admins)
	limiter := ratelimit.New(tx, s.cfg.RateLimit)
	remits := remittance.New(tx, remittance.Deps{
		Pause:   gate,
		Agents:  agents,
		Tokens:  tokens,
		Admins:  admins,
		Limiter: limiter,
	}, s.cfg.Remittance)
	return components{tx: tx, admins: admins, agents: agents, tokens: tokens, gate: gate, limiter: limiter, remits: remits}
}

func requireInitialized(ctx context.Context, tx Tx) error {
	ok, err := tx.Initialized(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotInitialized
	}
	return nil
}

// mutate runs fn as one atomic unit and publishes the events it returned after commit.
func (s *service) mutate(ctx context.Context, op string, fn func(c components, now time.Time) ([]events.Event, error)) error {
	now := s.now().UTC()
	var evs []events.Event
	err := s.store.Atomic(ctx, func(tx Tx) error {
		if err := requireInitialized(ctx, tx); err != nil {
			return err
		}
		var err error
		evs, err = fn(s.bind(tx), now)
		return err
	})
	observe(op, err)
	if err != nil {
		return err
	}
	for _, e := range evs {
		if to, ok := transitionOf[e.Type]; ok {
			observeTransition(to)
		}
	}
	s.publish(ctx, evs)
	return nil
}

func (s *service) view(ctx context.Context, op string, fn func(c components, now time.Time) error) error {
	now := s.now().UTC()
	err := s.store.View(ctx, func(tx Tx) error {
		if err := requireInitialized(ctx, tx); err != nil {
			return err
		}
		return fn(s.bind(tx), now)
	})
	observe(op, err)
	return err
}

func (s *service) publish(ctx context.Context, evs []events.Event) {
	if len(evs) == 0 {
		return
	}
	if err := s.pub.Publish(ctx, evs...); err != nil {
		publishFailures.Add(float64(len(evs)))
		logging.FromContext(ctx).Warn("event publish failed", "events", len(evs), "err", err)
	}
}

func (s *service) Initialize(ctx context.Context, first ledger.Address) error {
	now := s.now().UTC()
	err := s.store.Atomic(ctx, func(tx Tx) error {
		ok, err := tx.Initialized(ctx)
		if err != nil {
			return err
		}
		if ok {
			return errs.ErrAlreadyInitialized
		}
		if err := admin.New(tx).Bootstrap(ctx, first); err != nil {
			return err
		}
		return tx.MarkInitialized(ctx, now)
	})
	observe("initialize", err)
	if err != nil {
		return err
	}
	s.publish(ctx, []events.Event{events.New(events.LedgerInitialized, now, first, string(first), nil)})
	return nil
}

func (s *service) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		if st.Initialized, err = tx.Initialized(ctx); err != nil {
			return err
		}
		if st.Paused, err = tx.Paused(ctx); err != nil {
			return err
		}
		if st.Admins, err = tx.CountAdmins(ctx); err != nil {
			return err
		}
		st.Migration, err = tx.MigrationState(ctx)
		return err
	})
	observe("status", err)
	return st, err
}

func remittanceData(r ledger.Remittance) map[string]any {
	d := map[string]any{
		"sender":       string(r.Sender),
		"recipient":    string(r.Recipient),
		"agent":        string(r.Agent),
		"asset":        r.Asset,
		"amount_minor": r.Amount,
		"status":       string(r.Status),
		"expires_at":   r.ExpiresAt,
	}
	if r.SettlementRef != "" {
		d["settlement_ref"] = r.SettlementRef
	}
	return d
}

func remittanceEvent(typ events.Type, now time.Time, actor ledger.Address, r ledger.Remittance) []events.Event {
	return []events.Event{events.New(typ, now, actor, r.ID.String(), remittanceData(r))}
}

func (s *service) CreateRemittance(ctx context.Context, caller ledger.Address, req remittance.CreateRequest) (ledger.Remittance, error) {
	var out ledger.Remittance
	err := s.mutate(ctx, "create_remittance", func(c components, now time.Time) ([]events.Event, error) {
		var err error
		if out, err = c.remits.Create(ctx, caller, req, now); err != nil {
			return nil, err
		}
		return remittanceEvent(events.RemittanceCreated, now, caller, out), nil
	})
	return out, err
}

func (s *service) AcceptRemittance(ctx context.Context, caller ledger.Address, id uuid.UUID) (ledger.Remittance, error) {
	var out ledger.Remittance
	err := s.mutate(ctx, "accept_remittance", func(c components, now time.Time) ([]events.Event, error) {
		var err error
		if out, err = c.remits.Accept(ctx, caller, id, now); err != nil {
			return nil, err
		}
		return remittanceEvent(events.RemittanceAccepted, now, caller, out), nil
	})
	return out, err
}

func (s *service) Settle(ctx context.Context, caller ledger.Address, id uuid.UUID, ref string) (ledger.Remittance, error) {
	var out ledger.Remittance
	err := s.mutate(ctx, "settle", func(c components, now time.Time) ([]events.Event, error) {
		var err error
		if out, err = c.remits.Settle(ctx, caller, id, ref, now); err != nil {
			return nil, err
		}
		return remittanceEvent(events.RemittanceSettled, now, caller, out), nil
	})
	return out, err
}

func (s *service) Expire(ctx context.Context, caller ledger.Address, id uuid.UUID) (ledger.Remittance, error) {
	var out ledger.Remittance
	err := s.mutate(ctx, "expire", func(c components, now time.Time) ([]events.Event, error) {
		r, changed, err := c.remits.Expire(ctx, caller, id, now)
		if err != nil {
			return nil, err
		}
		out = r
		if !changed {
			return nil, nil
		}
		return remittanceEvent(events.RemittanceExpired, now, caller, out), nil
	})
	return out, err
}

func (s *service) Cancel(ctx context.Context, caller ledger.Address, id uuid.UUID) (ledger.Remittance, error) {
	var out ledger.Remittance
	err := s.mutate(ctx, "cancel", func(c components, now time.Time) ([]events.Event, error) {
		var err error
		if out, err = c.remits.Cancel(ctx, caller, id, now); err != nil {
			return nil, err
		}
		return remittanceEvent(events.RemittanceCancelled, now, caller, out), nil
	})
	return out, err
}

func (s *service) GetRemittance(ctx context.Context, id uuid.UUID) (ledger.Remittance, error) {
	var out ledger.Remittance
	err := s.view(ctx, "get_remittance", func(c components, _ time.Time) error {
		var err error
		out, err = c.remits.Get(ctx, id)
		return err
	})
	return out, err
}

func (s *service) ListRemittances(ctx context.Context, sender ledger.Address) ([]ledger.Remittance, error) {
	var out []ledger.Remittance
	err := s.view(ctx, "list_remittances", func(c components, _ time.Time) error {
		var err error
		out, err = c.remits.ListBySender(ctx, sender)
		return err
	})
	return out, err
}

func (s *service) AddAdmin(ctx context.Context, caller, newAdmin ledger.Address) error {
	return s.mutate(ctx, "add_admin", func(c components, now time.Time) ([]events.Event, error) {
		if err := c.admins.Add(ctx, caller, newAdmin); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.AdminAdded, now, caller, string(newAdmin), nil)}, nil
	})
}

func (s *service) RemoveAdmin(ctx context.Context, caller, target ledger.Address) error {
	return s.mutate(ctx, "remove_admin", func(c components, now time.Time) ([]events.Event, error) {
		if err := c.admins.Remove(ctx, caller, target); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.AdminRemoved, now, caller, string(target), nil)}, nil
	})
}

func (s *service) ListAdmins(ctx context.Context) ([]ledger.Address, error) {
	var out []ledger.Address
	err := s.view(ctx, "list_admins", func(c components, _ time.Time) error {
		var err error
		out, err = c.admins.List(ctx)
		return err
	})
	return out, err
}

func (s *service) RegisterAgent(ctx context.Context, caller, a ledger.Address) (ledger.Agent, error) {
	var out ledger.Agent
	err := s.mutate(ctx, "register_agent", func(c components, now time.Time) ([]events.Event, error) {
		var err error
		if out, err = c.agents.Register(ctx, caller, a, now); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.AgentRegistered, now, caller, string(a), nil)}, nil
	})
	return out, err
}

func (s *service) RemoveAgent(ctx context.Context, caller, a ledger.Address) (ledger.Agent, error) {
	var out ledger.Agent
	err := s.mutate(ctx, "remove_agent", func(c components, now time.Time) ([]events.Event, error) {
		var err error
		if out, err = c.agents.Remove(ctx, caller, a); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.AgentRemoved, now, caller, string(a), nil)}, nil
	})
	return out, err
}

func (s *service) ListAgents(ctx context.Context) ([]ledger.Agent, error) {
	var out []ledger.Agent
	err := s.view(ctx, "list_agents", func(c components, _ time.Time) error {
		var err error
		out, err = c.agents.List(ctx)
		return err
	})
	return out, err
}

func (s *service) WhitelistToken(ctx context.Context, caller ledger.Address, t ledger.Token) (ledger.Token, error) {
	var out ledger.Token
	err := s.mutate(ctx, "whitelist_token", func(c components, now time.Time) ([]events.Event, error) {
		var err error
		if out, err = c.tokens.Whitelist(ctx, caller, t); err != nil {
			return nil, err
		}
		data := map[string]any{"currency": out.Currency, "decimals": out.Decimals}
		return []events.Event{events.New(events.TokenWhitelisted, now, caller, out.Asset, data)}, nil
	})
	return out, err
}

func (s *service) DelistToken(ctx context.Context, caller ledger.Address, asset string) (ledger.Token, error) {
	var out ledger.Token
	err := s.mutate(ctx, "delist_token", func(c components, now time.Time) ([]events.Event, error) {
		var err error
		if out, err = c.tokens.Delist(ctx, caller, asset); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.TokenDelisted, now, caller, asset, nil)}, nil
	})
	return out, err
}

func (s *service) ListTokens(ctx context.Context) ([]ledger.Token, error) {
	var out []ledger.Token
	err := s.view(ctx, "list_tokens", func(c components, _ time.Time) error {
		var err error
		out, err = c.tokens.List(ctx)
		return err
	})
	return out, err
}

func (s *service) Token(ctx context.Context, asset string) (ledger.Token, bool, error) {
	var (
		out ledger.Token
		ok  bool
	)
	err := s.view(ctx, "get_token", func(c components, _ time.Time) error {
		var err error
		out, ok, err = c.tokens.Get(ctx, asset)
		return err
	})
	return out, ok, err
}

func (s *service) Pause(ctx context.Context, caller ledger.Address) error {
	return s.mutate(ctx, "pause", func(c components, now time.Time) ([]events.Event, error) {
		if err := c.gate.Pause(ctx, caller); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.LedgerPaused, now, caller, "ledger", nil)}, nil
	})
}

func (s *service) Unpause(ctx context.Context, caller ledger.Address) error {
	return s.mutate(ctx, "unpause", func(c components, now time.Time) ([]events.Event, error) {
		if err := c.gate.Unpause(ctx, caller); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.LedgerUnpaused, now, caller, "ledger", nil)}, nil
	})
}

func (s *service) SubmitMigrationBatch(ctx context.Context, caller ledger.Address, b migration.Batch) (ledger.MigrationRecord, error) {
	if err := s.store.View(ctx, func(tx Tx) error { return requireInitialized(ctx, tx) }); err != nil {
		observe("submit_migration", err)
		return ledger.MigrationRecord{}, err
	}
	now := s.now().UTC()
	rec, err := s.migrations.Submit(ctx, caller, b, now)
	observe("submit_migration", err)
	if err != nil {
		return ledger.MigrationRecord{}, err
	}
	data := map[string]any{"sequence": rec.Sequence, "hash": rec.Hash, "operations": rec.Operations}
	s.publish(ctx, []events.Event{events.New(events.MigrationApplied, now, caller, "migration", data)})
	return rec, nil
}

func (s *service) MigrationState(ctx context.Context) (ledger.MigrationState, error) {
	var st ledger.MigrationState
	err := s.view(ctx, "migration_state", func(c components, _ time.Time) error {
		var err error
		st, err = c.tx.MigrationState(ctx)
		return err
	})
	return st, err
}

func (s *service) MigrationRecords(ctx context.Context) ([]ledger.MigrationRecord, error) {
	var out []ledger.MigrationRecord
	err := s.view(ctx, "migration_records", func(c components, _ time.Time) error {
		var err error
		out, err = c.tx.ListMigrationRecords(ctx)
		return err
	})
	return out, err
}

func (s *service) RateLimitState(ctx context.Context, sender ledger.Address) (ledger.RateLimitState, error) {
	var st ledger.RateLimitState
	err := s.view(ctx, "rate_limit_state", func(c components, now time.Time) error {
		if err := address.Check(sender); err != nil {
			return err
		}
		var err error
		st, err = c.limiter.Get(ctx, sender, now)
		return err
	})
	return st, err
}
