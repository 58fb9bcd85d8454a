package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("100")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(100)))

	_, err = ParseAmount(MaxAmount.String())
	assert.NoError(t, err)
}

func TestParseAmount_Rejects(t *testing.T) {
	cases := map[string]error{
		"-1":   ErrInvalidAmount,
		"1.5":  ErrInvalidAmount,
		"abc":  ErrInvalidAmount,
		"":     ErrInvalidAmount,
		MaxAmount.Add(decimal.NewFromInt(1)).String(): ErrOverflow,
	}
	for in, want := range cases {
		_, err := ParseAmount(in)
		assert.Truef(t, errors.Is(err, want), "%q: got %v, want %v", in, err, want)
	}

	_, err := ParseAmount(MaxAmount.Add(decimal.NewFromInt(1)).String())
	assert.ErrorIs(t, err, ErrInvalidAmount, "out of range input is a caller error")
}

func TestValidateAmount_Exponents(t *testing.T) {
	ok := []string{"0", "0e1000000000", "10e-1", "1e77", "115792089237316195423570985008687907853269984665640564039457584007913129639935"}
	for _, in := range ok {
		assert.NoErrorf(t, ValidateAmount(decimal.RequireFromString(in)), "%s", in)
	}

	cases := map[string]error{
		"1e78":          ErrOverflow,
		"12e77":         ErrOverflow,
		"1e1000000000":  ErrOverflow,
		"-1e1000000000": ErrInvalidAmount,
		"1e-1000000000": ErrInvalidAmount,
		"15e-1":         ErrInvalidAmount,
		"100e-3":        ErrInvalidAmount,
	}
	for in, want := range cases {
		start := time.Now()
		err := ValidateAmount(decimal.RequireFromString(in))
		elapsed := time.Since(start)

		assert.ErrorIsf(t, err, want, "%s", in)
		assert.ErrorIsf(t, err, ErrInvalidAmount, "%s", in)
		assert.Lessf(t, elapsed, 100*time.Millisecond, "%s took %s", in, elapsed)
		assert.Lessf(t, len(err.Error()), 100, "%s: error must not expand the value", in)
	}
}

func TestIncorrectPaymentError(t *testing.T) {
	var err error = &IncorrectPaymentError{Price: decimal.NewFromInt(100)}
	assert.ErrorIs(t, err, ErrIncorrectPayment)
	assert.Equal(t, "payment is not the same as the price 100", err.Error())

	var ipe *IncorrectPaymentError
	require.ErrorAs(t, err, &ipe)
	assert.True(t, ipe.Price.Equal(decimal.NewFromInt(100)))
}

func TestKeyOrdering(t *testing.T) {
	a := TradeKey{ItemID: "a", Trader: "z"}
	b := TradeKey{ItemID: "b", Trader: "a"}
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))

	o1 := OfferKey{ItemID: "x", Offerer: "alice"}
	o2 := OfferKey{ItemID: "x", Offerer: "bob"}
	assert.Equal(t, -1, o1.Compare(o2))
}
