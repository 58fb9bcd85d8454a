package market

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/swapmarket/internal/model"
)

// EffectKind tags an outbound call.
type EffectKind string

const (
	// EffectItemTransfer moves an item out of custody via the item registry.
	EffectItemTransfer EffectKind = "item_transfer"
	// EffectTokenTransfer moves fungible tokens via the token registry.
	EffectTokenTransfer EffectKind = "token_transfer"
	// EffectNativeSend moves native currency; it is never confirmed.
	EffectNativeSend EffectKind = "native_send"
	// EffectFundsAttached moves native funds attached to a call from the
	// caller into custody. It leads the batch of any call carrying funds.
	EffectFundsAttached EffectKind = "funds_attached"
)

// ConfirmTag names the settlement a deferred confirmation belongs to.
type ConfirmTag uint64

const (
	ConfirmNone    ConfirmTag = 0
	ConfirmListing ConfirmTag = 1
	ConfirmTrade   ConfirmTag = 2
	ConfirmOffer   ConfirmTag = 3
)

func (t ConfirmTag) String() string {
	switch t {
	case ConfirmNone:
		return "none"
	case ConfirmListing:
		return "listing"
	case ConfirmTrade:
		return "trade"
	case ConfirmOffer:
		return "offer"
	}
	return fmt.Sprintf("tag(%d)", uint64(t))
}

// Effect is one outbound call produced by an operation. Which fields are
// meaningful depends on Kind.
type Effect struct {
	Kind      EffectKind      `json:"kind"`
	From      model.Address   `json:"from,omitempty"` // set only for EffectFundsAttached
	Recipient model.Address   `json:"recipient"`
	ItemID    string          `json:"item_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Denom     string          `json:"denom,omitempty"`
	Confirm   ConfirmTag      `json:"confirm,omitempty"`
}

// TransferItem builds an item transfer requesting deferred confirmation
// under tag.
func TransferItem(recipient model.Address, itemID string, tag ConfirmTag) Effect {
	return Effect{Kind: EffectItemTransfer, Recipient: recipient, ItemID: itemID, Confirm: tag}
}

// Attribute is a key/value annotation on a Response.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is the result of one execution: audit attributes plus the
// ordered batch of outbound effects.
type Response struct {
	Action     string      `json:"action"`
	Attributes []Attribute `json:"attributes"`
	Effects    []Effect    `json:"effects"`
}

func newResponse(action string) *Response {
	return &Response{Action: action, Attributes: []Attribute{}, Effects: []Effect{}}
}

func (r *Response) attr(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

func (r *Response) effect(e ...Effect) *Response {
	r.Effects = append(r.Effects, e...)
	return r
}

// Attr returns the first attribute value under key.
func (r *Response) Attr(key string) (string, bool) {
	return LookupAttr(r.Attributes, key)
}

// LookupAttr returns the first value under key in attrs.
func LookupAttr(attrs []Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Confirmation is the deferred success/failure signal for one dispatched
// item transfer.
type Confirmation struct {
	Tag       ConfirmTag    `json:"tag"`
	ItemID    string        `json:"item_id"`
	Recipient model.Address `json:"recipient"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// ConfirmationFor builds the confirmation a registry raises for e.
func ConfirmationFor(e Effect, err error) Confirmation {
	c := Confirmation{Tag: e.Confirm, ItemID: e.ItemID, Recipient: e.Recipient, Success: err == nil}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}
