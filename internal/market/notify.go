package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/swapmarket/internal/guard"
	"github.com/atmx/swapmarket/internal/model"
	"github.com/atmx/swapmarket/internal/store"
)

// ItemDeposit is the item registry's notification that Sender moved ItemID
// into custody with an instruction attached.
type ItemDeposit struct {
	Sender model.Address   `json:"sender"`
	ItemID string          `json:"token_id"`
	Msg    json.RawMessage `json:"msg"`
}

// TokenDeposit is the token registry's notification that Sender moved
// Amount into custody with an instruction attached.
type TokenDeposit struct {
	Sender model.Address   `json:"sender"`
	Amount decimal.Decimal `json:"amount"`
	Msg    json.RawMessage `json:"msg"`
}

// ItemInstruction is the payload of an item deposit. Exactly one variant
// must be set.
type ItemInstruction struct {
	NewListing *NewListingMsg `json:"new_listing,omitempty"`
	NewTrade   *NewTradeMsg   `json:"new_trade,omitempty"`
}

// NewListingMsg lists the deposited item at Price.
type NewListingMsg struct {
	Price     decimal.Decimal `json:"price"`
	Tradeable bool            `json:"tradeable"`
}

// NewTradeMsg proposes the deposited item in exchange for Target.
type NewTradeMsg struct {
	Target string `json:"target"`
}

// TokenInstruction is the payload of a token deposit. Exactly one variant
// must be set.
type TokenInstruction struct {
	Buy   *BuyMsg   `json:"buy,omitempty"`
	Offer *OfferMsg `json:"offer,omitempty"`
}

// BuyMsg pays for listing ID with the deposited tokens.
type BuyMsg struct {
	ID string `json:"id"`
}

// OfferMsg bids the deposited tokens on Target.
type OfferMsg struct {
	Target       string          `json:"target"`
	OfferedPrice decimal.Decimal `json:"offered_price"`
}

// ReceiveItem routes an item deposit. caller is the authenticated party
// delivering the notification and must be the configured item registry;
// the depositor inside the payload is trusted only after that check.
func (e *Engine) ReceiveItem(ctx context.Context, tx store.Tx, caller model.Address, d ItemDeposit) (*Response, error) {
	cfg, err := tx.Config(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.ItemRegistry != caller {
		return nil, model.ErrUnauthorized
	}

	var ins ItemInstruction
	if err := decodeInstruction(d.Msg, &ins); err != nil {
		return nil, err
	}
	switch {
	case ins.NewListing != nil && ins.NewTrade == nil:
		return e.newListing(ctx, tx, d.Sender, d.ItemID, ins.NewListing.Price, ins.NewListing.Tradeable)
	case ins.NewTrade != nil && ins.NewListing == nil:
		return e.proposeTrade(ctx, tx, d.Sender, d.ItemID, ins.NewTrade.Target)
	}
	return nil, fmt.Errorf("%w: expected exactly one of new_listing, new_trade", model.ErrInvalidPayload)
}

// ReceiveTokens routes a token deposit. caller must be the configured
// token registry.
func (e *Engine) ReceiveTokens(ctx context.Context, tx store.Tx, caller model.Address, d TokenDeposit) (*Response, error) {
	cfg, err := tx.Config(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.TokenRegistry != caller {
		return nil, model.ErrUnauthorized
	}
	if err := model.ValidateAmount(d.Amount); err != nil {
		return nil, err
	}

	var ins TokenInstruction
	if err := decodeInstruction(d.Msg, &ins); err != nil {
		return nil, err
	}
	switch {
	case ins.Buy != nil && ins.Offer == nil:
		listing, err := tx.Listing(ctx, ins.Buy.ID)
		if err != nil {
			return nil, err
		}
		if err := guard.PaymentMatches(listing.Price, d.Amount); err != nil {
			return nil, err
		}
		return e.settleSale(ctx, tx, listing, d.Sender, tokenPayment{}, d.Amount)

	case ins.Offer != nil && ins.Buy == nil:
		if err := model.ValidateAmount(ins.Offer.OfferedPrice); err != nil {
			return nil, err
		}
		if err := guard.PaymentMatches(ins.Offer.OfferedPrice, d.Amount); err != nil {
			return nil, err
		}
		return e.placeOffer(ctx, tx, &model.Offer{
			AskedID: ins.Offer.Target,
			Offerer: d.Sender,
			Amount:  ins.Offer.OfferedPrice,
			Kind:    model.PaymentToken,
		})
	}
	return nil, fmt.Errorf("%w: expected exactly one of buy, offer", model.ErrInvalidPayload)
}

func decodeInstruction(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing msg", model.ErrInvalidPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidPayload, err)
	}
	return nil
}
