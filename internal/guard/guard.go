// Package guard holds the pure predicates every marketplace operation
// evaluates before touching the store. None of them has side effects.
package guard

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/swapmarket/internal/model"
)

// PaymentMatches fails with *model.IncorrectPaymentError unless actual
// equals expected exactly.
func PaymentMatches(expected, actual decimal.Decimal) error {
	if !actual.Equal(expected) {
		return &model.IncorrectPaymentError{Price: expected}
	}
	return nil
}

// IsAuthorized fails with model.ErrUnauthorized unless caller is the
// record's owner, offerer or trader.
func IsAuthorized(owner, caller model.Address) error {
	if owner == "" || owner != caller {
		return model.ErrUnauthorized
	}
	return nil
}

// IsTradeable fails with model.ErrNonTradeable when the listing does not
// accept trade proposals.
func IsTradeable(l *model.Listing) error {
	if l == nil || !l.Tradeable {
		return model.ErrNonTradeable
	}
	return nil
}
