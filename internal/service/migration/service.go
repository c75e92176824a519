// Package migration applies ordered, hash-verified data batches to the ledger.
//
// A batch is admitted, applied and, on failure, aborted in three separate units
// of work. While a batch is between admission and completion the migration
// state is marked in flight and further submissions are refused, except a
// resubmission of the in-flight batch itself, which resumes it.
package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinoosan/remitledger/internal/address"
	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/service/admin"
	"github.com/tinoosan/remitledger/internal/service/agent"
	"github.com/tinoosan/remitledger/internal/service/remittance"
	"github.com/tinoosan/remitledger/internal/service/token"
)

type Repo interface {
	MigrationState(ctx context.Context) (ledger.MigrationState, error)
	SaveMigrationState(ctx context.Context, st ledger.MigrationState) error
	MigrationRecord(ctx context.Context, seq uint64) (ledger.MigrationRecord, bool, error)
	SaveMigrationRecord(ctx context.Context, rec ledger.MigrationRecord) error
	ListMigrationRecords(ctx context.Context) ([]ledger.MigrationRecord, error)
}

// Tx is the transactional view a batch is applied through.
type Tx interface {
	Repo
	admin.Repo
	agent.Repo
	token.Repo
	remittance.Repo
}

type Store interface {
	Atomic(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

type boundStore[T Tx] struct {
	atomic func(context.Context, func(T) error) error
	view   func(context.Context, func(T) error) error
}

// Bind adapts a store whose transactions are a superset of Tx.
func Bind[T Tx](atomic, view func(context.Context, func(T) error) error) Store {
	return boundStore[T]{atomic: atomic, view: view}
}

func (b boundStore[T]) Atomic(ctx context.Context, fn func(Tx) error) error {
	return b.atomic(ctx, func(tx T) error { return fn(tx) })
}

func (b boundStore[T]) View(ctx context.Context, fn func(Tx) error) error {
	return b.view(ctx, func(tx T) error { return fn(tx) })
}

// Batch is a submitted migration batch.
type Batch struct {
	Sequence uint64
	Payload  []byte
	// Hash is the hex digest the submitter declares for Payload.
	Hash string
}

type Controller interface {
	Submit(ctx context.Context, caller ledger.Address, b Batch, now time.Time) (ledger.MigrationRecord, error)
	State(ctx context.Context) (ledger.MigrationState, error)
	Record(ctx context.Context, seq uint64) (ledger.MigrationRecord, bool, error)
	Records(ctx context.Context) ([]ledger.MigrationRecord, error)
	Hasher() Hasher
}

// Config bounds what a batch may import.
type Config struct {
	Hasher Hasher
	// MaxAmount caps an imported remittance in minor units, as for a new one.
	MaxAmount uint64
}

type controller struct {
	store  Store
	hasher Hasher
	max    uint64
}

func New(store Store, cfg Config) Controller {
	if cfg.Hasher == nil {
		cfg.Hasher = sha256Hasher{}
	}
	if cfg.MaxAmount == 0 {
		cfg.MaxAmount = remittance.DefaultMaxAmount
	}
	return &controller{store: store, hasher: cfg.Hasher, max: cfg.MaxAmount}
}

func (c *controller) Hasher() Hasher { return c.hasher }

func (c *controller) Submit(ctx context.Context, caller ledger.Address, b Batch, now time.Time) (ledger.MigrationRecord, error) {
	var (
		rec     ledger.MigrationRecord
		payload Payload
	)
	err := c.store.Atomic(ctx, func(tx Tx) error {
		var err error
		rec, payload, err = c.begin(ctx, tx, caller, b, now)
		return err
	})
	if err != nil {
		return ledger.MigrationRecord{}, err
	}

	// Once admitted, the batch is seen through even if the caller goes away;
	// otherwise the in-flight flag would outlive the request.
	ctx = context.WithoutCancel(ctx)
	var applied ledger.MigrationRecord
	applyErr := c.store.Atomic(ctx, func(tx Tx) error {
		var err error
		applied, err = c.apply(ctx, tx, rec, payload, now)
		return err
	})
	if applyErr == nil {
		return applied, nil
	}

	abortErr := c.store.Atomic(ctx, func(tx Tx) error {
		return c.abort(ctx, tx, rec)
	})
	if abortErr != nil {
		return ledger.MigrationRecord{}, errors.Join(applyErr, fmt.Errorf("abort migration %d: %w", rec.Sequence, abortErr))
	}
	return ledger.MigrationRecord{}, applyErr
}

func (c *controller) begin(ctx context.Context, tx Tx, caller ledger.Address, b Batch, now time.Time) (ledger.MigrationRecord, Payload, error) {
	if err := admin.New(tx).Require(ctx, caller, admin.ClassOperations); err != nil {
		return ledger.MigrationRecord{}, Payload{}, err
	}
	st, err := tx.MigrationState(ctx)
	if err != nil {
		return ledger.MigrationRecord{}, Payload{}, err
	}
	resume := false
	if st.InFlight {
		resume, err = c.resumable(ctx, tx, st, b)
		if err != nil {
			return ledger.MigrationRecord{}, Payload{}, err
		}
		if !resume {
			return ledger.MigrationRecord{}, Payload{}, errs.ErrMigrationInProgress
		}
	}
	if b.Sequence != st.Cursor+1 {
		return ledger.MigrationRecord{}, Payload{}, invalid("sequence %d does not follow cursor %d", b.Sequence, st.Cursor)
	}
	if !Verify(c.hasher, b.Payload, b.Hash) {
		return ledger.MigrationRecord{}, Payload{}, errs.ErrInvalidMigrationHash
	}
	p, err := Decode(b.Payload)
	if err != nil {
		return ledger.MigrationRecord{}, Payload{}, err
	}

	rec := ledger.MigrationRecord{
		Sequence:    b.Sequence,
		Hash:        strings.ToLower(strings.TrimSpace(b.Hash)),
		Status:      ledger.MigrationVerified,
		Operations:  len(p.Operations),
		SubmittedBy: caller,
		SubmittedAt: now.UTC(),
	}
	if err := tx.SaveMigrationRecord(ctx, rec); err != nil {
		return ledger.MigrationRecord{}, Payload{}, err
	}
	if resume {
		return rec, p, nil
	}
	st.InFlight = true
	st.InFlightSeq = b.Sequence
	if err := tx.SaveMigrationState(ctx, st); err != nil {
		return ledger.MigrationRecord{}, Payload{}, err
	}
	return rec, p, nil
}

// resumable reports whether b is a resubmission of the batch left in flight,
// for example after the process died between admission and application.
func (c *controller) resumable(ctx context.Context, tx Tx, st ledger.MigrationState, b Batch) (bool, error) {
	if b.Sequence != st.InFlightSeq {
		return false, nil
	}
	rec, ok, err := tx.MigrationRecord(ctx, b.Sequence)
	if err != nil {
		return false, err
	}
	if !ok || rec.Status != ledger.MigrationVerified {
		return false, nil
	}
	return rec.Hash == strings.ToLower(strings.TrimSpace(b.Hash)), nil
}

func (c *controller) apply(ctx context.Context, tx Tx, rec ledger.MigrationRecord, p Payload, now time.Time) (ledger.MigrationRecord, error) {
	st, err := tx.MigrationState(ctx)
	if err != nil {
		return ledger.MigrationRecord{}, err
	}
	if !st.InFlight || st.InFlightSeq != rec.Sequence {
		// A concurrent resubmission got here first.
		if st.Cursor >= rec.Sequence {
			return ledger.MigrationRecord{}, invalid("batch %d already applied", rec.Sequence)
		}
		return ledger.MigrationRecord{}, errs.ErrMigrationInProgress
	}
	for i, op := range p.Operations {
		if err := c.applyOp(ctx, tx, op, now); err != nil {
			return ledger.MigrationRecord{}, fmt.Errorf("batch %d operation %d (%s): %w", rec.Sequence, i, op.Kind, err)
		}
	}
	at := now.UTC()
	rec.Status = ledger.MigrationApplied
	rec.AppliedAt = &at
	if err := tx.SaveMigrationRecord(ctx, rec); err != nil {
		return ledger.MigrationRecord{}, err
	}
	st.Cursor = rec.Sequence
	st.InFlight = false
	st.InFlightSeq = 0
	if err := tx.SaveMigrationState(ctx, st); err != nil {
		return ledger.MigrationRecord{}, err
	}
	return rec, nil
}

// abort releases the in-flight flag held for rec. It leaves the state alone
// when the flag no longer belongs to rec.
func (c *controller) abort(ctx context.Context, tx Tx, rec ledger.MigrationRecord) error {
	st, err := tx.MigrationState(ctx)
	if err != nil {
		return err
	}
	if !st.InFlight || st.InFlightSeq != rec.Sequence {
		return nil
	}
	rec.Status = ledger.MigrationFailed
	if err := tx.SaveMigrationRecord(ctx, rec); err != nil {
		return err
	}
	st.InFlight = false
	st.InFlightSeq = 0
	return tx.SaveMigrationState(ctx, st)
}

func (c *controller) applyOp(ctx context.Context, tx Tx, op Operation, now time.Time) error {
	switch op.Kind {
	case OpRegisterAgent:
		a := ledger.Agent{Address: address.Normalize(op.Agent.Address), Active: true, RegisteredAt: now.UTC()}
		cur, ok, err := tx.Agent(ctx, a.Address)
		if err != nil {
			return err
		}
		if ok && cur.Active {
			return nil
		}
		return tx.SaveAgent(ctx, a)
	case OpWhitelistToken:
		t := op.Token.ledgerToken()
		cur, ok, err := tx.Token(ctx, t.Asset)
		if err != nil {
			return err
		}
		if ok && cur.Active {
			if strings.EqualFold(cur.Currency, t.Currency) && cur.Decimals == t.Decimals {
				return nil
			}
			return invalid("token %s is whitelisted as %s/%d", t.Asset, cur.Currency, cur.Decimals)
		}
		return tx.SaveToken(ctx, t)
	case OpImportRemittance:
		r := op.Remittance.ledgerRemittance(now)
		if r.Amount > c.max {
			return invalid("remittance %s amount exceeds %d", r.ID, c.max)
		}
		tok, ok, err := tx.Token(ctx, r.Asset)
		if err != nil {
			return err
		}
		if !ok || !tok.Active {
			return invalid("remittance %s asset %s is not whitelisted", r.ID, r.Asset)
		}
		ag, ok, err := tx.Agent(ctx, r.Agent)
		if err != nil {
			return err
		}
		if !ok || !ag.Active {
			return invalid("remittance %s agent is not registered", r.ID)
		}
		_, exists, err := tx.Remittance(ctx, r.ID)
		if err != nil {
			return err
		}
		if exists {
			return invalid("remittance %s already exists", r.ID)
		}
		if r.SettlementRef != "" {
			used, err := tx.SettlementRefUsed(ctx, r.SettlementRef)
			if err != nil {
				return err
			}
			if used {
				return invalid("settlement reference %q already used", r.SettlementRef)
			}
		}
		return tx.CreateRemittance(ctx, r)
	}
	return invalid("unknown operation kind %q", op.Kind)
}

func (c *controller) State(ctx context.Context) (ledger.MigrationState, error) {
	var st ledger.MigrationState
	err := c.store.View(ctx, func(tx Tx) error {
		var err error
		st, err = tx.MigrationState(ctx)
		return err
	})
	return st, err
}

func (c *controller) Record(ctx context.Context, seq uint64) (ledger.MigrationRecord, bool, error) {
	var (
		rec ledger.MigrationRecord
		ok  bool
	)
	err := c.store.View(ctx, func(tx Tx) error {
		var err error
		rec, ok, err = tx.MigrationRecord(ctx, seq)
		return err
	})
	return rec, ok, err
}

func (c *controller) Records(ctx context.Context) ([]ledger.MigrationRecord, error) {
	var out []ledger.MigrationRecord
	err := c.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListMigrationRecords(ctx)
		return err
	})
	return out, err
}
