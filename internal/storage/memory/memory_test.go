package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/service/contract"
)

var (
	alice = ledger.Address("G" + strings.Repeat("A", 55))
	bob   = ledger.Address("G" + strings.Repeat("B", 55))
)

func remit(sender ledger.Address, at time.Time) ledger.Remittance {
	return ledger.Remittance{
		ID: uuid.New(), Sender: sender, Recipient: bob, Agent: bob, Asset: "USDC",
		Amount: 100, Status: ledger.StatusCreated, CreatedAt: at, ExpiresAt: at.Add(time.Hour), UpdatedAt: at,
	}
}

func TestAtomic_RollsBackEveryWriteOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.Atomic(ctx, func(tx contract.Tx) error {
		return tx.AddAdmin(ctx, alice)
	}))

	boom := errors.New("boom")
	r := remit(alice, now)
	err := s.Atomic(ctx, func(tx contract.Tx) error {
		require.NoError(t, tx.MarkInitialized(ctx, now))
		require.NoError(t, tx.RemoveAdmin(ctx, alice))
		require.NoError(t, tx.AddAdmin(ctx, bob))
		require.NoError(t, tx.SetPaused(ctx, true))
		require.NoError(t, tx.CreateRemittance(ctx, r))
		require.NoError(t, tx.SaveRateLimitState(ctx, ledger.RateLimitState{Sender: alice, WindowCount: 1}))
		require.NoError(t, tx.SaveMigrationState(ctx, ledger.MigrationState{InFlight: true, InFlightSeq: 1}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx contract.Tx) error {
		ok, _ := tx.Initialized(ctx)
		assert.False(t, ok)
		admins, _ := tx.ListAdmins(ctx)
		assert.Equal(t, []ledger.Address{alice}, admins)
		paused, _ := tx.Paused(ctx)
		assert.False(t, paused)
		_, found, _ := tx.Remittance(ctx, r.ID)
		assert.False(t, found)
		list, _ := tx.RemittancesBySender(ctx, alice)
		assert.Empty(t, list)
		_, found, _ = tx.RateLimitState(ctx, alice)
		assert.False(t, found)
		st, _ := tx.MigrationState(ctx)
		assert.Equal(t, ledger.MigrationState{}, st)
		return nil
	}))
}

func TestAtomic_RollsBackOnPanic(t *testing.T) {
	s := New()
	ctx := context.Background()
	assert.Panics(t, func() {
		_ = s.Atomic(ctx, func(tx contract.Tx) error {
			_ = tx.AddAdmin(ctx, alice)
			panic("boom")
		})
	})
	require.NoError(t, s.View(ctx, func(tx contract.Tx) error {
		n, _ := tx.CountAdmins(ctx)
		assert.Zero(t, n)
		return nil
	}))
}

func TestView_IsReadOnly(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.View(ctx, func(tx contract.Tx) error { return tx.AddAdmin(ctx, alice) })
	assert.ErrorIs(t, err, errReadOnly)
}

func TestRemittancesBySender_OrderedByCreation(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late, early, mid := remit(alice, base.Add(2*time.Minute)), remit(alice, base), remit(alice, base.Add(time.Minute))
	require.NoError(t, s.Atomic(ctx, func(tx contract.Tx) error {
		for _, r := range []ledger.Remittance{late, early, mid, remit(bob, base)} {
			if err := tx.CreateRemittance(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, s.View(ctx, func(tx contract.Tx) error {
		list, err := tx.RemittancesBySender(ctx, alice)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []uuid.UUID{early.ID, mid.ID, late.ID}, []uuid.UUID{list[0].ID, list[1].ID, list[2].ID})
		return nil
	}))
}

func TestUpdateRemittance_SettlementRefIndex(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	a, b := remit(alice, now), remit(alice, now)
	require.NoError(t, s.Atomic(ctx, func(tx contract.Tx) error {
		require.NoError(t, tx.CreateRemittance(ctx, a))
		require.NoError(t, tx.CreateRemittance(ctx, b))
		a.SettlementRef = "REF-1"
		a.Status = ledger.StatusSettled
		return tx.UpdateRemittance(ctx, a)
	}))
	err := s.Atomic(ctx, func(tx contract.Tx) error {
		used, _ := tx.SettlementRefUsed(ctx, "REF-1")
		assert.True(t, used)
		b.SettlementRef = "REF-1"
		return tx.UpdateRemittance(ctx, b)
	})
	assert.ErrorIs(t, err, errDuplicateRef)

	err = s.Atomic(ctx, func(tx contract.Tx) error {
		a.SettlementRef = "REF-2"
		return tx.UpdateRemittance(ctx, a)
	})
	assert.ErrorIs(t, err, errRefImmutable)
}

func TestRemittance_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	r := remit(alice, now)
	r.SettledAt = &now
	require.NoError(t, s.Atomic(ctx, func(tx contract.Tx) error { return tx.CreateRemittance(ctx, r) }))
	require.NoError(t, s.View(ctx, func(tx contract.Tx) error {
		got, _, _ := tx.Remittance(ctx, r.ID)
		*got.SettledAt = now.Add(time.Hour)
		again, _, _ := tx.Remittance(ctx, r.ID)
		assert.True(t, again.SettledAt.Equal(now))
		return nil
	}))
}
