package contract_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/events"
	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/service/contract"
	"github.com/tinoosan/remitledger/internal/service/migration"
	"github.com/tinoosan/remitledger/internal/service/ratelimit"
	"github.com/tinoosan/remitledger/internal/service/remittance"
	"github.com/tinoosan/remitledger/internal/storage/memory"
)

func addr(c string) ledger.Address { return ledger.Address("G" + strings.Repeat(c, 55)) }

var (
	adminA   = addr("A")
	sender   = addr("S")
	recv     = addr("R")
	agentG   = addr("G")
	adminB   = addr("B")
	outsider = addr("X")
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recorder) Publish(_ context.Context, evs ...events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, evs...)
	return nil
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.got))
	for i, e := range r.got {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	svc   contract.Service
	store *memory.Store
	clk   *clock
	pub   *recorder
}

func newFixture(t *testing.T, cfg contract.Config) fixture {
	t.Helper()
	clk := &clock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	pub := &recorder{}
	store := memory.New()
	svc := contract.New(store, cfg, contract.WithClock(clk.Now), contract.WithPublisher(pub))
	return fixture{svc: svc, store: store, clk: clk, pub: pub}
}

// ready initializes the ledger with admin A, token USDC and agent G.
func ready(t *testing.T, cfg contract.Config) fixture {
	t.Helper()
	f := newFixture(t, cfg)
	ctx := context.Background()
	require.NoError(t, f.svc.Initialize(ctx, adminA))
	_, err := f.svc.WhitelistToken(ctx, adminA, ledger.Token{Asset: "USDC", Currency: "USD", Decimals: 6})
	require.NoError(t, err)
	_, err = f.svc.RegisterAgent(ctx, adminA, agentG)
	require.NoError(t, err)
	return f
}

func (f fixture) request(amount uint64, ttl time.Duration) remittance.CreateRequest {
	return remittance.CreateRequest{
		Sender: sender, Recipient: recv, Agent: agentG, Asset: "USDC",
		Amount: amount, ExpiresAt: f.clk.Now().Add(ttl),
	}
}

func TestInitialize_OnceOnly(t *testing.T) {
	f := newFixture(t, contract.Config{})
	ctx := context.Background()

	_, err := f.svc.ListAdmins(ctx)
	require.ErrorIs(t, err, errs.ErrNotInitialized)
	_, err = f.svc.CreateRemittance(ctx, sender, f.request(1, time.Hour))
	require.ErrorIs(t, err, errs.ErrNotInitialized)

	require.ErrorIs(t, f.svc.Initialize(ctx, "bogus"), errs.ErrInvalidAddress)
	require.NoError(t, f.svc.Initialize(ctx, adminA))
	require.ErrorIs(t, f.svc.Initialize(ctx, adminB), errs.ErrAlreadyInitialized)

	admins, err := f.svc.ListAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Address{adminA}, admins)

	st, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Initialized)
	assert.Equal(t, 1, st.Admins)
}

// Scenarios 1 and 2: create then settle once.
func TestCreateAndSettle(t *testing.T) {
	f := ready(t, contract.Config{})
	ctx := context.Background()

	r, err := f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.Equal(t, ledger.StatusCreated, r.Status)

	s, err := f.svc.Settle(ctx, agentG, r.ID, "ref1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSettled, s.Status)
	assert.Equal(t, "ref1", s.SettlementRef)

	_, err = f.svc.Settle(ctx, agentG, r.ID, "ref1")
	assert.ErrorIs(t, err, errs.ErrDuplicateSettlement)
	_, err = f.svc.Settle(ctx, agentG, r.ID, "ref2")
	assert.ErrorIs(t, err, errs.ErrDuplicateSettlement)

	got, err := f.svc.GetRemittance(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "ref1", got.SettlementRef)

	assert.Equal(t, []events.Type{
		events.LedgerInitialized, events.TokenWhitelisted, events.AgentRegistered,
		events.RemittanceCreated, events.RemittanceSettled,
	}, f.pub.types())
}

func TestSettle_ReferenceIsGloballyUnique(t *testing.T) {
	f := ready(t, contract.Config{})
	ctx := context.Background()
	a, err := f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	require.NoError(t, err)
	b, err := f.svc.CreateRemittance(ctx, sender, f.request(200, time.Hour))
	require.NoError(t, err)

	_, err = f.svc.Settle(ctx, agentG, a.ID, "shared")
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, agentG, b.ID, "shared")
	assert.ErrorIs(t, err, errs.ErrDuplicateSettlement)
}

// Scenario 3: expiry.
func TestExpire_ThenSettleFails(t *testing.T) {
	f := ready(t, contract.Config{})
	ctx := context.Background()
	r, err := f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	require.NoError(t, err)

	_, err = f.svc.Expire(ctx, outsider, r.ID)
	require.ErrorIs(t, err, errs.ErrInvalidStatus, "cannot expire before expiry")

	f.clk.Advance(time.Hour)
	_, err = f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	require.NoError(t, err)

	exp, err := f.svc.Expire(ctx, outsider, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusExpired, exp.Status)

	again, err := f.svc.Expire(ctx, outsider, r.ID)
	require.NoError(t, err, "expiring an expired remittance is a no-op")
	assert.Equal(t, ledger.StatusExpired, again.Status)

	_, err = f.svc.Settle(ctx, agentG, r.ID, "late")
	assert.ErrorIs(t, err, errs.ErrSettlementExpired)

	var expired int
	for _, typ := range f.pub.types() {
		if typ == events.RemittanceExpired {
			expired++
		}
	}
	assert.Equal(t, 1, expired)
}

func TestSettle_AtExpiryBoundaryFails(t *testing.T) {
	f := ready(t, contract.Config{})
	ctx := context.Background()
	r, err := f.svc.CreateRemittance(ctx, sender, f.request(100, time.Minute))
	require.NoError(t, err)
	f.clk.Advance(time.Minute)
	_, err = f.svc.Settle(ctx, agentG, r.ID, "ref")
	assert.ErrorIs(t, err, errs.ErrSettlementExpired)
}

func TestExpire_TerminalStatesRejected(t *testing.T) {
	f := ready(t, contract.Config{})
	ctx := context.Background()
	settled, err := f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, agentG, settled.ID, "done")
	require.NoError(t, err)
	cancelled, err := f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, sender, cancelled.ID)
	require.NoError(t, err)

	f.clk.Advance(2 * time.Hour)
	_, err = f.svc.Expire(ctx, outsider, settled.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidStatus)
	_, err = f.svc.Expire(ctx, outsider, cancelled.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidStatus)
}

func TestAcceptThenSettle(t *testing.T) {
	f := ready(t, contract.Config{})
	ctx := context.Background()
	r, err := f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	require.NoError(t, err)

	_, err = f.svc.AcceptRemittance(ctx, outsider, r.ID)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	p, err := f.svc.AcceptRemittance(ctx, agentG, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, p.Status)
	_, err = f.svc.AcceptRemittance(ctx, agentG, r.ID)
	require.ErrorIs(t, err, errs.ErrInvalidStatus)

	s, err := f.svc.Settle(ctx, agentG, r.ID, "P-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSettled, s.Status)
}

func TestCancel_SenderOrAdminOnly(t *testing.T) {
	f := ready(t, contract.Config{})
	ctx := context.Background()
	r1, err := f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	require.NoError(t, err)
	r2, err := f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, outsider, r1.ID)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	_, err = f.svc.Cancel(ctx, agentG, r1.ID)
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	c, err := f.svc.Cancel(ctx, sender, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, c.Status)
	_, err = f.svc.Cancel(ctx, sender, r1.ID)
	require.ErrorIs(t, err, errs.ErrInvalidStatus)

	_, err = f.svc.Cancel(ctx, adminA, r2.ID)
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, agentG, r2.ID, "x")
	assert.ErrorIs(t, err, errs.ErrInvalidStatus)
}

func TestCreate_Validation(t *testing.T) {
	f := ready(t, contract.Config{Remittance: remittance.Config{MaxAmount: 1000}})
	ctx := context.Background()

	bad := f.request(100, time.Hour)
	bad.Recipient = "nope"
	_, err := f.svc.CreateRemittance(ctx, sender, bad)
	assert.ErrorIs(t, err, errs.ErrInvalidAddress)

	_, err = f.svc.CreateRemittance(ctx, outsider, f.request(100, time.Hour))
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = f.svc.CreateRemittance(ctx, sender, f.request(0, time.Hour))
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = f.svc.CreateRemittance(ctx, sender, f.request(1001, time.Hour))
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)

	eur := f.request(100, time.Hour)
	eur.Asset = "EURC"
	_, err = f.svc.CreateRemittance(ctx, sender, eur)
	assert.ErrorIs(t, err, errs.ErrTokenNotWhitelisted)

	other := f.request(100, time.Hour)
	other.Agent = outsider
	_, err = f.svc.CreateRemittance(ctx, sender, other)
	assert.ErrorIs(t, err, errs.ErrAgentNotRegistered)

	_, err = f.svc.CreateRemittance(ctx, sender, f.request(100, 0))
	assert.ErrorIs(t, err, errs.ErrSettlementExpired)

	st, err := f.svc.RateLimitState(ctx, sender)
	require.NoError(t, err)
	assert.Zero(t, st.WindowCount, "rejected creates never count")
}

func TestCreate_DelistedTokenAndRemovedAgent(t *testing.T) {
	f := ready(t, contract.Config{})
	ctx := context.Background()
	r, err := f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	require.NoError(t, err)

	_, err = f.svc.DelistToken(ctx, adminA, "USDC")
	require.NoError(t, err)
	_, err = f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	assert.ErrorIs(t, err, errs.ErrTokenNotWhitelisted)

	_, err = f.svc.RemoveAgent(ctx, adminA, agentG)
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, agentG, r.ID, "ref")
	assert.ErrorIs(t, err, errs.ErrAgentNotRegistered)

	_, err = f.svc.RegisterAgent(ctx, adminA, agentG)
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, agentG, r.ID, "ref")
	assert.NoError(t, err)
}

// Scenario 4 and the admin set rules.
func TestAdmins(t *testing.T) {
	f := ready(t, contract.Config{})
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.RemoveAdmin(ctx, adminA, adminA), errs.ErrCannotRemoveLastAdmin)
	assert.ErrorIs(t, f.svc.AddAdmin(ctx, outsider, adminB), errs.ErrUnauthorized)
	assert.ErrorIs(t, f.svc.AddAdmin(ctx, adminA, "bad"), errs.ErrInvalidAddress)
	require.NoError(t, f.svc.AddAdmin(ctx, adminA, adminB))
	assert.ErrorIs(t, f.svc.AddAdmin(ctx, adminA, adminB), errs.ErrAdminAlreadyExists)
	assert.ErrorIs(t, f.svc.RemoveAdmin(ctx, adminA, outsider), errs.ErrAdminNotFound)

	require.NoError(t, f.svc.RemoveAdmin(ctx, adminB, adminA))
	assert.ErrorIs(t, f.svc.RemoveAdmin(ctx, adminB, adminB), errs.ErrCannotRemoveLastAdmin)
	_, err := f.svc.RegisterAgent(ctx, adminA, outsider)
	assert.ErrorIs(t, err, errs.ErrNotAdmin)

	admins, err := f.svc.ListAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Address{adminB}, admins)
}

func TestPause_BlocksOnlyCreate(t *testing.T) {
	f := ready(t, contract.Config{})
	ctx := context.Background()
	r, err := f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Pause(ctx, outsider), errs.ErrNotAdmin)
	require.NoError(t, f.svc.Pause(ctx, adminA))
	require.NoError(t, f.svc.Pause(ctx, adminA), "pause is idempotent")

	_, err = f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	assert.ErrorIs(t, err, errs.ErrContractPaused)
	_, err = f.svc.Settle(ctx, agentG, r.ID, "ok-while-paused")
	assert.NoError(t, err)

	require.NoError(t, f.svc.Unpause(ctx, adminA))
	_, err = f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	assert.NoError(t, err)
}

// Scenario 6: the rejected create leaves no record and no counter change.
func TestRateLimit_WindowCap(t *testing.T) {
	f := ready(t, contract.Config{RateLimit: ratelimit.Config{Window: time.Hour, MaxPerWindow: 10}})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := f.svc.CreateRemittance(ctx, sender, f.request(100, 2*time.Hour))
		require.NoError(t, err, "create %d", i+1)
	}
	_, err := f.svc.CreateRemittance(ctx, sender, f.request(100, 2*time.Hour))
	require.ErrorIs(t, err, errs.ErrRateLimitExceeded)

	list, err := f.svc.ListRemittances(ctx, sender)
	require.NoError(t, err)
	assert.Len(t, list, 10)
	st, err := f.svc.RateLimitState(ctx, sender)
	require.NoError(t, err)
	assert.EqualValues(t, 10, st.WindowCount)
	assert.EqualValues(t, 1000, st.DayAmount)

	f.clk.Advance(time.Hour)
	_, err = f.svc.CreateRemittance(ctx, sender, f.request(100, 2*time.Hour))
	assert.NoError(t, err, "a new window resets the count")
}

func TestRateLimit_DailyLimit(t *testing.T) {
	f := ready(t, contract.Config{RateLimit: ratelimit.Config{DailyLimit: 500}})
	ctx := context.Background()
	_, err := f.svc.CreateRemittance(ctx, sender, f.request(400, time.Hour))
	require.NoError(t, err)
	_, err = f.svc.CreateRemittance(ctx, sender, f.request(101, time.Hour))
	require.ErrorIs(t, err, errs.ErrDailySendLimitExceeded)
	_, err = f.svc.CreateRemittance(ctx, sender, f.request(100, time.Hour))
	require.NoError(t, err)
}

func TestUnknownRemittance(t *testing.T) {
	f := ready(t, contract.Config{})
	ctx := context.Background()
	_, err := f.svc.GetRemittance(ctx, uuid.New())
	assert.ErrorIs(t, err, errs.ErrRemittanceNotFound)
	_, err = f.svc.Settle(ctx, agentG, uuid.New(), "r")
	assert.ErrorIs(t, err, errs.ErrRemittanceNotFound)
}

func migrationBatch(t *testing.T, seq uint64, payload string) migration.Batch {
	t.Helper()
	h, err := migration.NewHasher(migration.AlgSHA256)
	require.NoError(t, err)
	return migration.Batch{Sequence: seq, Payload: []byte(payload), Hash: migration.HexSum(h, []byte(payload))}
}

// Scenario 5 and batch application.
func TestSubmitMigrationBatch(t *testing.T) {
	f := ready(t, contract.Config{})
	ctx := context.Background()
	payload := `{"operations":[{"kind":"whitelist_token","token":{"asset":"EURC","currency":"EUR","decimals":6}}]}`

	_, err := f.svc.SubmitMigrationBatch(ctx, adminA, migrationBatch(t, 2, payload))
	require.ErrorIs(t, err, errs.ErrInvalidMigrationBatch)
	_, err = f.svc.SubmitMigrationBatch(ctx, outsider, migrationBatch(t, 1, payload))
	require.ErrorIs(t, err, errs.ErrNotAdmin)

	bad := migrationBatch(t, 1, payload)
	bad.Hash = strings.Repeat("0", 64)
	_, err = f.svc.SubmitMigrationBatch(ctx, adminA, bad)
	require.ErrorIs(t, err, errs.ErrInvalidMigrationHash)

	rec, err := f.svc.SubmitMigrationBatch(ctx, adminA, migrationBatch(t, 1, payload))
	require.NoError(t, err)
	assert.Equal(t, ledger.MigrationApplied, rec.Status)

	st, err := f.svc.MigrationState(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.MigrationState{Cursor: 1}, st)

	_, err = f.svc.CreateRemittance(ctx, sender, remittance.CreateRequest{
		Sender: sender, Recipient: recv, Agent: agentG, Asset: "EURC", Amount: 5, ExpiresAt: f.clk.Now().Add(time.Hour),
	})
	assert.NoError(t, err)

	_, err = f.svc.SubmitMigrationBatch(ctx, adminA, migrationBatch(t, 1, payload))
	assert.ErrorIs(t, err, errs.ErrInvalidMigrationBatch, "applied sequence cannot be replayed")
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, ...events.Event) error { return errors.New("down") }

func TestPublishFailureDoesNotUndoCommit(t *testing.T) {
	store := memory.New()
	svc := contract.New(store, contract.Config{}, contract.WithPublisher(failingPublisher{}))
	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx, adminA))
	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Initialized)
}

func TestConcurrentCreatesRespectCap(t *testing.T) {
	f := ready(t, contract.Config{RateLimit: ratelimit.Config{MaxPerWindow: 5}})
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok, lim int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateRemittance(ctx, sender, f.request(1, time.Hour))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, errs.ErrRateLimitExceeded):
				lim++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, ok)
	assert.Equal(t, 15, lim)
}
