// Package model defines the core domain types shared across the marketplace.
// All amounts use shopspring/decimal holding unsigned 256-bit integers,
// never float64 for money.
package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Address identifies an account: a user, a registry or the marketplace
// itself.
type Address string

func (a Address) String() string { return string(a) }

// Config is written once at instantiation and never mutated afterwards.
type Config struct {
	ItemRegistry  Address `json:"item_registry" db:"item_registry"`
	TokenRegistry Address `json:"token_registry" db:"token_registry"`
}

// Listing is one deposited item offered for sale. At most one Listing
// exists per item id.
type Listing struct {
	ItemID    string          `json:"item_id" db:"item_id"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Owner     Address         `json:"owner" db:"owner"`
	Tradeable bool            `json:"tradeable" db:"tradeable"` // accepts item-for-item proposals
}

// Trade is a standing proposal to swap the escrowed OfferedID for the
// listed AskedID.
type Trade struct {
	AskedID   string  `json:"asked_id" db:"asked_id"`
	OfferedID string  `json:"offered_id" db:"offered_id"`
	Trader    Address `json:"trader" db:"trader"`
}

// Key returns the composite key the trade is stored under.
func (t *Trade) Key() TradeKey {
	return TradeKey{ItemID: t.AskedID, Trader: t.Trader}
}

// PaymentKind tells how an escrowed payment was funded and therefore how
// it must be paid out.
type PaymentKind string

const (
	PaymentNative PaymentKind = "native"
	PaymentToken  PaymentKind = "token"
)

// Valid reports whether k is a known payment kind.
func (k PaymentKind) Valid() bool {
	return k == PaymentNative || k == PaymentToken
}

// Offer is a standing bid for a listed item, held in escrow.
type Offer struct {
	AskedID string          `json:"asked_id" db:"asked_id"`
	Offerer Address         `json:"offerer" db:"offerer"`
	Amount  decimal.Decimal `json:"amount_offered" db:"amount"`
	Kind    PaymentKind     `json:"amount_type" db:"kind"`
}

// Key returns the composite key the offer is stored under.
func (o *Offer) Key() OfferKey {
	return OfferKey{ItemID: o.AskedID, Offerer: o.Offerer}
}

// TradeKey orders trades by asked item, then trader.
type TradeKey struct {
	ItemID string
	Trader Address
}

// Compare returns -1, 0 or +1 following key order.
func (k TradeKey) Compare(o TradeKey) int {
	if c := strings.Compare(k.ItemID, o.ItemID); c != 0 {
		return c
	}
	return strings.Compare(string(k.Trader), string(o.Trader))
}

// OfferKey orders offers by asked item, then offerer.
type OfferKey struct {
	ItemID  string
	Offerer Address
}

// Compare returns -1, 0 or +1 following key order.
func (k OfferKey) Compare(o OfferKey) int {
	if c := strings.Compare(k.ItemID, o.ItemID); c != 0 {
		return c
	}
	return strings.Compare(string(k.Offerer), string(o.Offerer))
}

// Coin is an amount of native currency attached to a call.
type Coin struct {
	Denom  string          `json:"denom"`
	Amount decimal.Decimal `json:"amount"`
}
