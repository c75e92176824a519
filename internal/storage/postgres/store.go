// Package postgres provides a pgx-backed ledger store.
//
// Every Atomic unit runs in its own transaction and starts by locking the single
// instance row, so units of work are applied one at a time. View units run in
// read-only transactions and never take the lock.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinoosan/remitledger/db"
	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/service/contract"
)

// Store holds a pgx connection pool. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// Migrate applies the embedded schema files in name order. Each file is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	names, err := fs.Glob(db.Migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := fs.ReadFile(db.Migrations, name)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// Atomic runs fn in a transaction holding the instance lock.
func (s *Store) Atomic(ctx context.Context, fn func(contract.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{}, true, fn)
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(contract.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, lock bool, fn func(contract.Tx) error) error {
	ptx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = ptx.Rollback(ctx) }()
	if lock {
		if _, err := ptx.Exec(ctx, `select 1 from instance where id = 1 for update`); err != nil {
			return fmt.Errorf("lock instance: %w", err)
		}
	}
	if err := fn(&Tx{tx: ptx}); err != nil {
		return err
	}
	if err := ptx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Tx wraps a pgx.Tx and implements the ledger repositories.
type Tx struct{ tx pgx.Tx }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func toInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, errs.ErrOverflow
	}
	return int64(v), nil
}

// --- Instance ---

func (t *Tx) Initialized(ctx context.Context) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `select initialized from instance where id = 1`).Scan(&ok)
	return ok, err
}

func (t *Tx) MarkInitialized(ctx context.Context, at time.Time) error {
	_, err := t.tx.Exec(ctx, `update instance set initialized = true, initialized_at = $1 where id = 1`, at)
	return err
}

func (t *Tx) Paused(ctx context.Context) (bool, error) {
	var p bool
	err := t.tx.QueryRow(ctx, `select paused from instance where id = 1`).Scan(&p)
	return p, err
}

func (t *Tx) SetPaused(ctx context.Context, paused bool) error {
	_, err := t.tx.Exec(ctx, `update instance set paused = $1 where id = 1`, paused)
	return err
}

// --- Admins ---

func (t *Tx) IsAdmin(ctx context.Context, a ledger.Address) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `select exists(select 1 from admins where address = $1)`, string(a)).Scan(&ok)
	return ok, err
}

func (t *Tx) ListAdmins(ctx context.Context) ([]ledger.Address, error) {
	rows, err := t.tx.Query(ctx, `select address from admins order by address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Address, 0)
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, ledger.Address(a))
	}
	return out, rows.Err()
}

func (t *Tx) CountAdmins(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `select count(*) from admins`).Scan(&n)
	return n, err
}

func (t *Tx) AddAdmin(ctx context.Context, a ledger.Address) error {
	_, err := t.tx.Exec(ctx, `insert into admins (address) values ($1) on conflict (address) do nothing`, string(a))
	return err
}

func (t *Tx) RemoveAdmin(ctx context.Context, a ledger.Address) error {
	_, err := t.tx.Exec(ctx, `delete from admins where address = $1`, string(a))
	return err
}

// --- Agents ---

func (t *Tx) Agent(ctx context.Context, a ledger.Address) (ledger.Agent, bool, error) {
	var (
		ag   ledger.Agent
		addr string
	)
	err := t.tx.QueryRow(ctx, `select address, active, registered_at from agents where address = $1`, string(a)).
		Scan(&addr, &ag.Active, &ag.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Agent{}, false, nil
	}
	if err != nil {
		return ledger.Agent{}, false, err
	}
	ag.Address = ledger.Address(addr)
	ag.RegisteredAt = ag.RegisteredAt.UTC()
	return ag, true, nil
}

func (t *Tx) ListAgents(ctx context.Context) ([]ledger.Agent, error) {
	rows, err := t.tx.Query(ctx, `select address, active, registered_at from agents order by address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Agent, 0)
	for rows.Next() {
		var (
			ag   ledger.Agent
			addr string
		)
		if err := rows.Scan(&addr, &ag.Active, &ag.RegisteredAt); err != nil {
			return nil, err
		}
		ag.Address = ledger.Address(addr)
		ag.RegisteredAt = ag.RegisteredAt.UTC()
		out = append(out, ag)
	}
	return out, rows.Err()
}

func (t *Tx) SaveAgent(ctx context.Context, ag ledger.Agent) error {
	_, err := t.tx.Exec(ctx, `
		insert into agents (address, active, registered_at) values ($1, $2, $3)
		on conflict (address) do update set active = excluded.active, registered_at = excluded.registered_at
	`, string(ag.Address), ag.Active, ag.RegisteredAt)
	return err
}

// --- Tokens ---

func (t *Tx) Token(ctx context.Context, asset string) (ledger.Token, bool, error) {
	var tok ledger.Token
	err := t.tx.QueryRow(ctx, `select asset, currency, decimals, active from tokens where asset = $1`, asset).
		Scan(&tok.Asset, &tok.Currency, &tok.Decimals, &tok.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Token{}, false, nil
	}
	if err != nil {
		return ledger.Token{}, false, err
	}
	return tok, true, nil
}

func (t *Tx) ListTokens(ctx context.Context) ([]ledger.Token, error) {
	rows, err := t.tx.Query(ctx, `select asset, currency, decimals, active from tokens order by asset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Token, 0)
	for rows.Next() {
		var tok ledger.Token
		if err := rows.Scan(&tok.Asset, &tok.Currency, &tok.Decimals, &tok.Active); err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

func (t *Tx) SaveToken(ctx context.Context, tok ledger.Token) error {
	_, err := t.tx.Exec(ctx, `
		insert into tokens (asset, currency, decimals, active) values ($1, $2, $3, $4)
		on conflict (asset) do update set currency = excluded.currency, decimals = excluded.decimals, active = excluded.active
	`, tok.Asset, tok.Currency, tok.Decimals, tok.Active)
	return err
}

// --- Rate limits ---

func (t *Tx) RateLimitState(ctx context.Context, sender ledger.Address) (ledger.RateLimitState, bool, error) {
	var (
		st          ledger.RateLimitState
		count, sent int64
	)
	err := t.tx.QueryRow(ctx, `
		select window_start, window_count, day_start, day_amount from rate_limits where sender = $1
	`, string(sender)).Scan(&st.WindowStart, &count, &st.DayStart, &sent)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.RateLimitState{}, false, nil
	}
	if err != nil {
		return ledger.RateLimitState{}, false, err
	}
	st.Sender = sender
	st.WindowStart = st.WindowStart.UTC()
	st.DayStart = st.DayStart.UTC()
	st.WindowCount = uint32(count)
	st.DayAmount = uint64(sent)
	return st, true, nil
}

func (t *Tx) SaveRateLimitState(ctx context.Context, st ledger.RateLimitState) error {
	sent, err := toInt64(st.DayAmount)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		insert into rate_limits (sender, window_start, window_count, day_start, day_amount)
		values ($1, $2, $3, $4, $5)
		on conflict (sender) do update set
			window_start = excluded.window_start, window_count = excluded.window_count,
			day_start = excluded.day_start, day_amount = excluded.day_amount
	`, string(st.Sender), st.WindowStart, int64(st.WindowCount), st.DayStart, sent)
	return err
}

// --- Remittances ---

const remittanceCols = `id, sender, recipient, agent, asset, amount_minor, status, created_at, expires_at, updated_at, settlement_ref, settled_at`

func scanRemittance(row pgx.Row) (ledger.Remittance, error) {
	var (
		r                        ledger.Remittance
		sender, recipient, agent string
		status                   string
		amount                   int64
		ref                      *string
	)
	if err := row.Scan(&r.ID, &sender, &recipient, &agent, &r.Asset, &amount, &status,
		&r.CreatedAt, &r.ExpiresAt, &r.UpdatedAt, &ref, &r.SettledAt); err != nil {
		return ledger.Remittance{}, err
	}
	r.Sender, r.Recipient, r.Agent = ledger.Address(sender), ledger.Address(recipient), ledger.Address(agent)
	r.Amount = uint64(amount)
	r.Status = ledger.Status(status)
	r.CreatedAt, r.ExpiresAt, r.UpdatedAt = r.CreatedAt.UTC(), r.ExpiresAt.UTC(), r.UpdatedAt.UTC()
	if ref != nil {
		r.SettlementRef = *ref
	}
	if r.SettledAt != nil {
		at := r.SettledAt.UTC()
		r.SettledAt = &at
	}
	return r, nil
}

func nullableRef(ref string) *string {
	if ref == "" {
		return nil
	}
	return &ref
}

func (t *Tx) Remittance(ctx context.Context, id uuid.UUID) (ledger.Remittance, bool, error) {
	r, err := scanRemittance(t.tx.QueryRow(ctx, `select `+remittanceCols+` from remittances where id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Remittance{}, false, nil
	}
	if err != nil {
		return ledger.Remittance{}, false, err
	}
	return r, true, nil
}

func (t *Tx) RemittancesBySender(ctx context.Context, sender ledger.Address) ([]ledger.Remittance, error) {
	rows, err := t.tx.Query(ctx, `select `+remittanceCols+` from remittances where sender = $1 order by created_at, id`, string(sender))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Remittance, 0)
	for rows.Next() {
		r, err := scanRemittance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *Tx) CreateRemittance(ctx context.Context, r ledger.Remittance) error {
	amount, err := toInt64(r.Amount)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `insert into remittances (`+remittanceCols+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, string(r.Sender), string(r.Recipient), string(r.Agent), r.Asset, amount, string(r.Status),
		r.CreatedAt, r.ExpiresAt, r.UpdatedAt, nullableRef(r.SettlementRef), r.SettledAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert remittance %s: %w", r.ID, errs.ErrDuplicateSettlement)
	}
	return err
}

// UpdateRemittance writes the mutable columns. A settlement reference, once
// stored, is never overwritten.
func (t *Tx) UpdateRemittance(ctx context.Context, r ledger.Remittance) error {
	tag, err := t.tx.Exec(ctx, `
		update remittances
		set status = $2, updated_at = $3,
			settlement_ref = coalesce(settlement_ref, $4),
			settled_at = coalesce(settled_at, $5)
		where id = $1
	`, r.ID, string(r.Status), r.UpdatedAt, nullableRef(r.SettlementRef), r.SettledAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("settle %s: %w", r.ID, errs.ErrDuplicateSettlement)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrRemittanceNotFound
	}
	return nil
}

func (t *Tx) SettlementRefUsed(ctx context.Context, ref string) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `select exists(select 1 from remittances where settlement_ref = $1)`, ref).Scan(&ok)
	return ok, err
}

// --- Migrations ---

func (t *Tx) MigrationState(ctx context.Context) (ledger.MigrationState, error) {
	var (
		st          ledger.MigrationState
		cursor, seq int64
	)
	err := t.tx.QueryRow(ctx, `
		select migration_cursor, migration_in_flight, migration_in_flight_seq from instance where id = 1
	`).Scan(&cursor, &st.InFlight, &seq)
	st.Cursor, st.InFlightSeq = uint64(cursor), uint64(seq)
	return st, err
}

func (t *Tx) SaveMigrationState(ctx context.Context, st ledger.MigrationState) error {
	cursor, err := toInt64(st.Cursor)
	if err != nil {
		return err
	}
	seq, err := toInt64(st.InFlightSeq)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		update instance set migration_cursor = $1, migration_in_flight = $2, migration_in_flight_seq = $3 where id = 1
	`, cursor, st.InFlight, seq)
	return err
}

const batchCols = `sequence, hash, status, operations, submitted_by, submitted_at, applied_at`

func scanBatch(row pgx.Row) (ledger.MigrationRecord, error) {
	var (
		rec        ledger.MigrationRecord
		seq        int64
		status, by string
	)
	if err := row.Scan(&seq, &rec.Hash, &status, &rec.Operations, &by, &rec.SubmittedAt, &rec.AppliedAt); err != nil {
		return ledger.MigrationRecord{}, err
	}
	rec.Sequence = uint64(seq)
	rec.Status = ledger.MigrationStatus(status)
	rec.SubmittedBy = ledger.Address(by)
	rec.SubmittedAt = rec.SubmittedAt.UTC()
	return rec, nil
}

func (t *Tx) MigrationRecord(ctx context.Context, seq uint64) (ledger.MigrationRecord, bool, error) {
	s, err := toInt64(seq)
	if err != nil {
		return ledger.MigrationRecord{}, false, nil
	}
	rec, err := scanBatch(t.tx.QueryRow(ctx, `select `+batchCols+` from migration_batches where sequence = $1`, s))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.MigrationRecord{}, false, nil
	}
	if err != nil {
		return ledger.MigrationRecord{}, false, err
	}
	return rec, true, nil
}

func (t *Tx) SaveMigrationRecord(ctx context.Context, rec ledger.MigrationRecord) error {
	seq, err := toInt64(rec.Sequence)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `insert into migration_batches (`+batchCols+`)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (sequence) do update set
			hash = excluded.hash, status = excluded.status, operations = excluded.operations,
			submitted_by = excluded.submitted_by, submitted_at = excluded.submitted_at, applied_at = excluded.applied_at`,
		seq, rec.Hash, string(rec.Status), rec.Operations, string(rec.SubmittedBy), rec.SubmittedAt, rec.AppliedAt)
	return err
}

func (t *Tx) ListMigrationRecords(ctx context.Context) ([]ledger.MigrationRecord, error) {
	rows, err := t.tx.Query(ctx, `select `+batchCols+` from migration_batches order by sequence`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.MigrationRecord, 0)
	for rows.Next() {
		rec, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var (
	_ contract.Store = (*Store)(nil)
	_ contract.Tx    = (*Tx)(nil)
)
