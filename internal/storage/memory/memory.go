// Package memory provides an in-memory ledger store used for development and tests.
//
// A single mutex serializes units of work. Writes inside Atomic are recorded in
// an undo log and reverted in reverse order when the unit fails.
package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/service/contract"
)

var errReadOnly = errors.New("memory: write in read-only unit of work")

// remitKey orders a sender's remittances asc by (CreatedAt, ID).
type remitKey struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

type state struct {
	initialized   bool
	initializedAt time.Time
	paused        bool
	admins        map[ledger.Address]struct{}
	agents        map[ledger.Address]ledger.Agent
	tokens        map[string]ledger.Token
	limits        map[ledger.Address]ledger.RateLimitState
	remittances   map[uuid.UUID]ledger.Remittance
	// Per-sender sorted index for ordered listing.
	keysBySender map[ledger.Address][]remitKey
	// Settlement reference -> remittance.
	refs      map[string]uuid.UUID
	migration ledger.MigrationState
	batches   map[uint64]ledger.MigrationRecord
}

func newState() *state {
	return &state{
		admins:       make(map[ledger.Address]struct{}),
		agents:       make(map[ledger.Address]ledger.Agent),
		tokens:       make(map[string]ledger.Token),
		limits:       make(map[ledger.Address]ledger.RateLimitState),
		remittances:  make(map[uuid.UUID]ledger.Remittance),
		keysBySender: make(map[ledger.Address][]remitKey),
		refs:         make(map[string]uuid.UUID),
		batches:      make(map[uint64]ledger.MigrationRecord),
	}
}

// Store is guarded by an RWMutex: View units share the read lock, Atomic units
// hold the write lock for their whole duration.
type Store struct {
	mu sync.RWMutex
	st *state
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{st: newState()}
}

// Reset drops all state.
func (s *Store) Reset() {
	s.mu.Lock()
	s.st = newState()
	s.mu.Unlock()
}

// Atomic runs fn with exclusive access. Every write fn made is reverted when fn
// returns an error or panics.
func (s *Store) Atomic(ctx context.Context, fn func(contract.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Tx{st: s.st}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// View runs fn under the read lock. Writes fail.
func (s *Store) View(ctx context.Context, fn func(contract.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&Tx{st: s.st, readOnly: true})
}

// Tx is one unit of work over the store's state.
type Tx struct {
	st       *state
	readOnly bool
	undo     []func()
}

func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *Tx) onUndo(f func()) { tx.undo = append(tx.undo, f) }

func (tx *Tx) writable() error {
	if tx.readOnly {
		return errReadOnly
	}
	return nil
}

// put sets m[k] = v and records how to restore the previous entry.
func put[K comparable, V any](tx *Tx, m map[K]V, k K, v V) {
	prev, had := m[k]
	m[k] = v
	tx.onUndo(func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}

func del[K comparable, V any](tx *Tx, m map[K]V, k K) {
	prev, had := m[k]
	if !had {
		return
	}
	delete(m, k)
	tx.onUndo(func() { m[k] = prev })
}

// Instance

func (tx *Tx) Initialized(context.Context) (bool, error) { return tx.st.initialized, nil }

func (tx *Tx) MarkInitialized(_ context.Context, at time.Time) error {
	if err := tx.writable(); err != nil {
		return err
	}
	prev, prevAt := tx.st.initialized, tx.st.initializedAt
	tx.st.initialized, tx.st.initializedAt = true, at
	tx.onUndo(func() { tx.st.initialized, tx.st.initializedAt = prev, prevAt })
	return nil
}

// Admins

func (tx *Tx) IsAdmin(_ context.Context, a ledger.Address) (bool, error) {
	_, ok := tx.st.admins[a]
	return ok, nil
}

func (tx *Tx) ListAdmins(context.Context) ([]ledger.Address, error) {
	out := make([]ledger.Address, 0, len(tx.st.admins))
	for a := range tx.st.admins {
		out = append(out, a)
	}
	slices.Sort(out)
	return out, nil
}

func (tx *Tx) CountAdmins(context.Context) (int, error) { return len(tx.st.admins), nil }

func (tx *Tx) AddAdmin(_ context.Context, a ledger.Address) error {
	if err := tx.writable(); err != nil {
		return err
	}
	put(tx, tx.st.admins, a, struct{}{})
	return nil
}

func (tx *Tx) RemoveAdmin(_ context.Context, a ledger.Address) error {
	if err := tx.writable(); err != nil {
		return err
	}
	del(tx, tx.st.admins, a)
	return nil
}

// Agents

func (tx *Tx) Agent(_ context.Context, a ledger.Address) (ledger.Agent, bool, error) {
	ag, ok := tx.st.agents[a]
	return ag, ok, nil
}

func (tx *Tx) ListAgents(context.Context) ([]ledger.Agent, error) {
	out := make([]ledger.Agent, 0, len(tx.st.agents))
	for _, ag := range tx.st.agents {
		out = append(out, ag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (tx *Tx) SaveAgent(_ context.Context, ag ledger.Agent) error {
	if err := tx.writable(); err != nil {
		return err
	}
	put(tx, tx.st.agents, ag.Address, ag)
	return nil
}

// Tokens

func (tx *Tx) Token(_ context.Context, asset string) (ledger.Token, bool, error) {
	t, ok := tx.st.tokens[asset]
	return t, ok, nil
}

func (tx *Tx) ListTokens(context.Context) ([]ledger.Token, error) {
	out := make([]ledger.Token, 0, len(tx.st.tokens))
	for _, t := range tx.st.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (tx *Tx) SaveToken(_ context.Context, t ledger.Token) error {
	if err := tx.writable(); err != nil {
		return err
	}
	put(tx, tx.st.tokens, t.Asset, t)
	return nil
}

// Rate limits

func (tx *Tx) RateLimitState(_ context.Context, sender ledger.Address) (ledger.RateLimitState, bool, error) {
	st, ok := tx.st.limits[sender]
	return st, ok, nil
}

func (tx *Tx) SaveRateLimitState(_ context.Context, st ledger.RateLimitState) error {
	if err := tx.writable(); err != nil {
		return err
	}
	put(tx, tx.st.limits, st.Sender, st)
	return nil
}

// Pause

func (tx *Tx) Paused(context.Context) (bool, error) { return tx.st.paused, nil }

func (tx *Tx) SetPaused(_ context.Context, paused bool) error {
	if err := tx.writable(); err != nil {
		return err
	}
	prev := tx.st.paused
	tx.st.paused = paused
	tx.onUndo(func() { tx.st.paused = prev })
	return nil
}

// Remittances

func cloneRemittance(r ledger.Remittance) ledger.Remittance {
	if r.SettledAt != nil {
		at := *r.SettledAt
		r.SettledAt = &at
	}
	return r
}

func (tx *Tx) Remittance(_ context.Context, id uuid.UUID) (ledger.Remittance, bool, error) {
	r, ok := tx.st.remittances[id]
	if !ok {
		return ledger.Remittance{}, false, nil
	}
	return cloneRemittance(r), true, nil
}

func (tx *Tx) RemittancesBySender(_ context.Context, sender ledger.Address) ([]ledger.Remittance, error) {
	keys := tx.st.keysBySender[sender]
	out := make([]ledger.Remittance, 0, len(keys))
	for _, k := range keys {
		if r, ok := tx.st.remittances[k.ID]; ok {
			out = append(out, cloneRemittance(r))
		}
	}
	return out, nil
}

func (tx *Tx) CreateRemittance(_ context.Context, r ledger.Remittance) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, exists := tx.st.remittances[r.ID]; exists {
		return errDuplicateID
	}
	if r.SettlementRef != "" {
		if _, used := tx.st.refs[r.SettlementRef]; used {
			return errDuplicateRef
		}
		put(tx, tx.st.refs, r.SettlementRef, r.ID)
	}
	put(tx, tx.st.remittances, r.ID, cloneRemittance(r))
	tx.insertSenderIndex(r.Sender, remitKey{CreatedAt: r.CreatedAt, ID: r.ID})
	return nil
}

func (tx *Tx) UpdateRemittance(_ context.Context, r ledger.Remittance) error {
	if err := tx.writable(); err != nil {
		return err
	}
	cur, ok := tx.st.remittances[r.ID]
	if !ok {
		return errNotFound
	}
	if r.SettlementRef != cur.SettlementRef {
		if cur.SettlementRef != "" {
			return errRefImmutable
		}
		if _, used := tx.st.refs[r.SettlementRef]; used {
			return errDuplicateRef
		}
		put(tx, tx.st.refs, r.SettlementRef, r.ID)
	}
	put(tx, tx.st.remittances, r.ID, cloneRemittance(r))
	return nil
}

func (tx *Tx) SettlementRefUsed(_ context.Context, ref string) (bool, error) {
	_, ok := tx.st.refs[ref]
	return ok, nil
}

// insertSenderIndex inserts k into the per-sender sorted index, keeping order asc by (CreatedAt, ID).
func (tx *Tx) insertSenderIndex(sender ledger.Address, k remitKey) {
	keys := tx.st.keysBySender[sender]
	prev := slices.Clone(keys)
	had := keys != nil
	i := sort.Search(len(keys), func(i int) bool {
		if keys[i].CreatedAt.After(k.CreatedAt) {
			return true
		}
		if keys[i].CreatedAt.Equal(k.CreatedAt) {
			return keys[i].ID.String() > k.ID.String()
		}
		return false
	})
	tx.st.keysBySender[sender] = slices.Insert(keys, i, k)
	tx.onUndo(func() {
		if had {
			tx.st.keysBySender[sender] = prev
		} else {
			delete(tx.st.keysBySender, sender)
		}
	})
}

// Migrations

func (tx *Tx) MigrationState(context.Context) (ledger.MigrationState, error) {
	return tx.st.migration, nil
}

func (tx *Tx) SaveMigrationState(_ context.Context, st ledger.MigrationState) error {
	if err := tx.writable(); err != nil {
		return err
	}
	prev := tx.st.migration
	tx.st.migration = st
	tx.onUndo(func() { tx.st.migration = prev })
	return nil
}

func (tx *Tx) MigrationRecord(_ context.Context, seq uint64) (ledger.MigrationRecord, bool, error) {
	rec, ok := tx.st.batches[seq]
	return rec, ok, nil
}

func (tx *Tx) SaveMigrationRecord(_ context.Context, rec ledger.MigrationRecord) error {
	if err := tx.writable(); err != nil {
		return err
	}
	put(tx, tx.st.batches, rec.Sequence, rec)
	return nil
}

func (tx *Tx) ListMigrationRecords(context.Context) ([]ledger.MigrationRecord, error) {
	out := make([]ledger.MigrationRecord, 0, len(tx.st.batches))
	for _, rec := range tx.st.batches {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
