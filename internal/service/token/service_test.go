package token

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/service/admin"
)

type mapRepo map[string]ledger.Token

func (m mapRepo) Token(_ context.Context, a string) (ledger.Token, bool, error) {
	t, ok := m[a]
	return t, ok, nil
}

func (m mapRepo) ListTokens(context.Context) ([]ledger.Token, error) {
	out := make([]ledger.Token, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	return out, nil
}

func (m mapRepo) SaveToken(_ context.Context, t ledger.Token) error {
	m[t.Asset] = t
	return nil
}

type allowAdmin ledger.Address

func (a allowAdmin) Require(_ context.Context, caller ledger.Address, _ admin.Class) error {
	if caller != ledger.Address(a) {
		return errs.ErrNotAdmin
	}
	return nil
}

const root = ledger.Address("ROOT")

func TestWhitelistLifecycle(t *testing.T) {
	repo := mapRepo{}
	svc := New(repo, allowAdmin(root))
	ctx := context.Background()
	usdc := ledger.Token{Asset: "USDC", Currency: "USD", Decimals: 6}

	_, err := svc.Whitelist(ctx, "someone", usdc)
	require.ErrorIs(t, err, errs.ErrNotAdmin)

	got, err := svc.Whitelist(ctx, root, usdc)
	require.NoError(t, err)
	assert.True(t, got.Active)
	_, err = svc.Whitelist(ctx, root, usdc)
	require.ErrorIs(t, err, errs.ErrTokenAlreadyWhitelisted)

	_, err = svc.Delist(ctx, root, "USDC")
	require.NoError(t, err)
	ok, err := svc.IsWhitelisted(ctx, "USDC")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = svc.Delist(ctx, root, "USDC")
	require.ErrorIs(t, err, errs.ErrTokenNotWhitelisted)
	_, err = svc.Delist(ctx, root, "NONE")
	require.ErrorIs(t, err, errs.ErrTokenNotWhitelisted)

	_, err = svc.Whitelist(ctx, root, usdc)
	require.NoError(t, err, "delisted tokens can be whitelisted again")
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Validate(ledger.Token{Asset: "usdc", Currency: "USD"}), errs.ErrInvalidAddress)
	assert.ErrorIs(t, Validate(ledger.Token{Asset: "USDC", Currency: "DOLLARS"}), errs.ErrInvalidAddress)
	assert.ErrorIs(t, Validate(ledger.Token{Asset: "USDC", Currency: "USD", Decimals: 19}), errs.ErrInvalidAmount)
	assert.NoError(t, Validate(ledger.Token{Asset: "USDC", Currency: "USD", Decimals: 18}))
}

func TestAmount(t *testing.T) {
	a, err := Amount(ledger.Token{Currency: "USD", Decimals: 6}, 2_500_000)
	require.NoError(t, err)
	assert.Equal(t, "USD", a.Curr().Code())
	assert.Equal(t, "2.500000", a.Decimal().String())

	_, err = Amount(ledger.Token{Currency: "USD", Decimals: 2}, math.MaxUint64)
	assert.ErrorIs(t, err, errs.ErrOverflow)
}
