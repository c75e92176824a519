package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/remitledger/internal/idempotency"
)

func TestIdempotencyStore_ReserveUntilExpiry(t *testing.T) {
	s := NewIdempotencyStore()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := s.Reserve(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Reserve(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second reservation loses")

	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, idempotency.Response{BodyHash: "a", Pending: true}, got)

	final := idempotency.Response{BodyHash: "a", Status: 201, Payload: []byte("{}")}
	require.NoError(t, s.Put(ctx, "k", final, time.Hour))
	got, _, _ = s.Get(ctx, "k")
	assert.Equal(t, final, got)

	now = now.Add(time.Hour)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyStore_ReservationExpiresAndReleases(t *testing.T) {
	s := NewIdempotencyStore()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := s.Reserve(ctx, "k", "a", time.Minute)
	require.True(t, ok)
	now = now.Add(time.Minute)
	ok, _ = s.Reserve(ctx, "k", "b", time.Minute)
	assert.True(t, ok, "abandoned reservation expires")

	require.NoError(t, s.Release(ctx, "k"))
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
	ok, _ = s.Reserve(ctx, "k", "c", time.Minute)
	assert.True(t, ok)
}
