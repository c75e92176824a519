package address

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/ledger"
)

func TestIsAddress(t *testing.T) {
	valid := "G" + strings.Repeat("A", 55)
	cases := []struct {
		in   string
		want bool
	}{
		{valid, true},
		{"C" + strings.Repeat("B", 55), true},
		{"G" + strings.Repeat("2", 55), true},
		{"X" + strings.Repeat("A", 55), false},
		{"G" + strings.Repeat("A", 54), false},
		{"G" + strings.Repeat("A", 56), false},
		{"G" + strings.Repeat("1", 55), false},
		{"g" + strings.Repeat("a", 55), false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsAddress(ledger.Address(tc.in)), "%q", tc.in)
	}
}

func TestNormalize(t *testing.T) {
	in := "  g" + strings.Repeat("a", 55) + "\n"
	got := Normalize(in)
	assert.True(t, IsAddress(got))
}

func TestCheck(t *testing.T) {
	ok := ledger.Address("G" + strings.Repeat("A", 55))
	assert.NoError(t, Check(ok, ok))
	assert.True(t, errors.Is(Check(ok, "nope"), errs.ErrInvalidAddress))
}

func TestAssetAndReference(t *testing.T) {
	assert.True(t, IsAsset("USDC"))
	assert.False(t, IsAsset("usdc"))
	assert.False(t, IsAsset("TOOLONGASSET1"))
	assert.NoError(t, CheckAsset("EURC"))
	assert.Error(t, CheckAsset(""))

	assert.True(t, IsReference("ref1"))
	assert.True(t, IsReference("bank:tx/2026-01-01.42"))
	assert.False(t, IsReference(""))
	assert.False(t, IsReference("has space"))
	assert.False(t, IsReference(strings.Repeat("r", 129)))
	assert.True(t, errors.Is(CheckReference("a b"), errs.ErrInvalidAddress))
}
