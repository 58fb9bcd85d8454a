package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmount is 2^256 - 1, the largest amount a registry can move.
var MaxAmount = decimal.RequireFromString(
	"115792089237316195423570985008687907853269984665640564039457584007913129639935")

var maxAmountInt = MaxAmount.BigInt()

// maxAmountDigits is the number of decimal digits in MaxAmount.
const maxAmountDigits = 78

// ValidateAmount checks that d is an integer in [0, MaxAmount]. Amounts
// above the range match both ErrInvalidAmount and ErrOverflow.
//
// The check works on the coefficient and exponent directly. Comparing
// against MaxAmount with decimal.Cmp would rescale a value such as 1e9999999
// into a big.Int with that many digits.
func ValidateAmount(d decimal.Decimal) error {
	coef := d.Coefficient()
	switch coef.Sign() {
	case 0:
		return nil
	case -1:
		return fmt.Errorf("%w: amount is negative", ErrInvalidAmount)
	}

	digits := coef.String()
	trimmed := strings.TrimRight(digits, "0")
	exp := int64(d.Exponent()) + int64(len(digits)-len(trimmed))
	if exp < 0 {
		return fmt.Errorf("%w: amount is not an integer", ErrInvalidAmount)
	}
	if int64(len(trimmed))+exp > maxAmountDigits {
		return fmt.Errorf("%w: %w: amount exceeds 256 bits", ErrInvalidAmount, ErrOverflow)
	}

	n, _ := new(big.Int).SetString(trimmed, 10)
	n.Mul(n, new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil))
	if n.Cmp(maxAmountInt) > 0 {
		return fmt.Errorf("%w: %w: amount exceeds 256 bits", ErrInvalidAmount, ErrOverflow)
	}
	return nil
}

// ParseAmount parses a base-10 integer amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: not a number", ErrInvalidAmount)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}
