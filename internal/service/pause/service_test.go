package pause

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/service/admin"
)

type flag struct{ v bool }

func (f *flag) Paused(context.Context) (bool, error) { return f.v, nil }
func (f *flag) SetPaused(_ context.Context, v bool) error {
	f.v = v
	return nil
}

type onlyAdmin ledger.Address

func (o onlyAdmin) Require(_ context.Context, caller ledger.Address, _ admin.Class) error {
	if caller != ledger.Address(o) {
		return errs.ErrNotAdmin
	}
	return nil
}

func TestGate(t *testing.T) {
	g := New(&flag{}, onlyAdmin("ROOT"))
	ctx := context.Background()
	require.NoError(t, g.Check(ctx))
	assert.ErrorIs(t, g.Pause(ctx, "OTHER"), errs.ErrNotAdmin)

	require.NoError(t, g.Pause(ctx, "ROOT"))
	require.NoError(t, g.Pause(ctx, "ROOT"))
	assert.ErrorIs(t, g.Check(ctx), errs.ErrContractPaused)
	paused, err := g.Paused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, g.Unpause(ctx, "ROOT"))
	require.NoError(t, g.Unpause(ctx, "ROOT"))
	assert.NoError(t, g.Check(ctx))
}
