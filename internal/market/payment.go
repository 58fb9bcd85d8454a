package market

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/swapmarket/internal/model"
)

// Payment settles an escrowed or forwarded amount of one payment kind.
type Payment interface {
	Kind() model.PaymentKind
	Settle(recipient model.Address, amount decimal.Decimal) Effect
}

type nativePayment struct {
	denom string
}

func (p nativePayment) Kind() model.PaymentKind { return model.PaymentNative }

func (p nativePayment) Settle(recipient model.Address, amount decimal.Decimal) Effect {
	return Effect{Kind: EffectNativeSend, Recipient: recipient, Amount: amount, Denom: p.denom}
}

type tokenPayment struct{}

func (tokenPayment) Kind() model.PaymentKind { return model.PaymentToken }

func (tokenPayment) Settle(recipient model.Address, amount decimal.Decimal) Effect {
	return Effect{Kind: EffectTokenTransfer, Recipient: recipient, Amount: amount}
}

// payment resolves the settlement variant for kind.
func (e *Engine) payment(kind model.PaymentKind) (Payment, error) {
	switch kind {
	case model.PaymentNative:
		return nativePayment{denom: e.denom}, nil
	case model.PaymentToken:
		return tokenPayment{}, nil
	}
	return nil, fmt.Errorf("%w: %q", model.ErrTypeNotSupported, kind)
}

// nativeFunds returns the single native coin attached to a call. Funds in
// another denomination are rejected; missing funds count as zero so that
// the caller sees the expected price.
func (e *Engine) nativeFunds(funds []model.Coin) (decimal.Decimal, error) {
	switch len(funds) {
	case 0:
		return decimal.Zero, nil
	case 1:
		if funds[0].Denom != e.denom {
			return decimal.Zero, fmt.Errorf("%w: denom %q", model.ErrTypeNotSupported, funds[0].Denom)
		}
		if err := model.ValidateAmount(funds[0].Amount); err != nil {
			return decimal.Zero, err
		}
		return funds[0].Amount, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %d coins attached", model.ErrTypeNotSupported, len(funds))
}
