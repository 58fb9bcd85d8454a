// Package market implements the marketplace state machine: listings, offers
// and trades over escrowed items and payments.
//
// Every operation runs against a store.Tx and returns a Response whose
// Effects are the outbound calls that realize it. Guards run before any
// write, and the writes that retire a record are staged in the same
// operation that emits the calls compensating for it. The caller commits
// the Tx only once the whole effect batch has been dispatched.
package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/swapmarket/internal/guard"
	"github.com/atmx/swapmarket/internal/model"
	"github.com/atmx/swapmarket/internal/store"
)

// OwnerQuerier answers item ownership queries against the item registry.
type OwnerQuerier interface {
	OwnerOf(ctx context.Context, itemID string) (model.Address, error)
}

// Info describes who invoked an operation and what funds came with it.
type Info struct {
	Sender model.Address
	Funds  []model.Coin
}

// Engine executes marketplace operations. It holds no record state of its
// own; everything lives in the store passed to each call.
type Engine struct {
	self   model.Address
	denom  string
	owners OwnerQuerier
}

// NewEngine creates an engine whose custody account is self and whose
// native currency is denom.
func NewEngine(self model.Address, denom string, owners OwnerQuerier) *Engine {
	return &Engine{self: self, denom: denom, owners: owners}
}

// Self returns the marketplace custody address.
func (e *Engine) Self() model.Address { return e.self }

// Denom returns the accepted native denomination.
func (e *Engine) Denom() string { return e.denom }

// AttachedFunds returns the effects moving the funds attached to a call
// into custody.
func (e *Engine) AttachedFunds(info Info) []Effect {
	out := make([]Effect, 0, len(info.Funds))
	for _, c := range info.Funds {
		out = append(out, Effect{
			Kind:      EffectFundsAttached,
			From:      info.Sender,
			Recipient: e.self,
			Amount:    c.Amount,
			Denom:     c.Denom,
		})
	}
	return out
}

// Instantiate records the registry addresses and zeroes the listing
// counter. It succeeds once per store.
func (e *Engine) Instantiate(ctx context.Context, tx store.Tx, itemRegistry, tokenRegistry model.Address) (*Response, error) {
	if itemRegistry == "" || tokenRegistry == "" {
		return nil, fmt.Errorf("%w: registry addresses are required", model.ErrInvalidPayload)
	}
	cfg := &model.Config{ItemRegistry: itemRegistry, TokenRegistry: tokenRegistry}
	if err := tx.SaveConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return newResponse("instantiate").
		attr("item_registry", itemRegistry.String()).
		attr("token_registry", tokenRegistry.String()), nil
}

// --- Listings ---

// Buy purchases a listing with attached native currency.
func (e *Engine) Buy(ctx context.Context, tx store.Tx, info Info, itemID string) (*Response, error) {
	listing, err := tx.Listing(ctx, itemID)
	if err != nil {
		return nil, err
	}
	paid, err := e.nativeFunds(info.Funds)
	if err != nil {
		return nil, err
	}
	if err := guard.PaymentMatches(listing.Price, paid); err != nil {
		return nil, err
	}
	return e.settleSale(ctx, tx, listing, info.Sender, nativePayment{denom: e.denom}, paid)
}

// settleSale retires a bought listing: the seller is paid and the item
// goes to the buyer under listing confirmation.
func (e *Engine) settleSale(ctx context.Context, tx store.Tx, listing *model.Listing, buyer model.Address, pay Payment, amount decimal.Decimal) (*Response, error) {
	if err := e.removeListing(ctx, tx, listing.ItemID); err != nil {
		return nil, err
	}
	return newResponse("buy").
		attr("item", listing.ItemID).
		attr("seller", listing.Owner.String()).
		attr("buyer", buyer.String()).
		attr("payment", string(pay.Kind())).
		effect(
			pay.Settle(listing.Owner, amount),
			TransferItem(buyer, listing.ItemID, ConfirmListing),
		), nil
}

// CancelListing returns a listed item to its owner.
func (e *Engine) CancelListing(ctx context.Context, tx store.Tx, info Info, itemID string) (*Response, error) {
	listing, err := tx.Listing(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := guard.IsAuthorized(listing.Owner, info.Sender); err != nil {
		return nil, err
	}
	if err := e.removeListing(ctx, tx, itemID); err != nil {
		return nil, err
	}
	return newResponse("cancel listing").
		attr("item", itemID).
		effect(TransferItem(listing.Owner, itemID, ConfirmNone)), nil
}

// newListing creates the listing for a deposited item. An existing
// listing for the same item is replaced, leaving the counter unchanged.
func (e *Engine) newListing(ctx context.Context, tx store.Tx, owner model.Address, itemID string, price decimal.Decimal, tradeable bool) (*Response, error) {
	if itemID == "" {
		return nil, fmt.Errorf("%w: empty item id", model.ErrInvalidPayload)
	}
	if err := model.ValidateAmount(price); err != nil {
		return nil, err
	}

	resp := newResponse("new listing")
	_, err := tx.Listing(ctx, itemID)
	switch {
	case err == nil:
		if err := e.removeListing(ctx, tx, itemID); err != nil {
			return nil, err
		}
		resp.attr("replaced", "true")
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	listing := &model.Listing{ItemID: itemID, Price: price, Owner: owner, Tradeable: tradeable}
	if err := tx.PutListing(ctx, listing); err != nil {
		return nil, err
	}
	if err := tx.IncrementListingCount(ctx); err != nil {
		return nil, err
	}
	return resp.
		attr("item", itemID).
		attr("owner", owner.String()).
		attr("price", price.String()), nil
}

// removeListing deletes a listing and decrements the counter.
func (e *Engine) removeListing(ctx context.Context, tx store.Tx, itemID string) error {
	if err := tx.DeleteListing(ctx, itemID); err != nil {
		return err
	}
	return tx.DecrementListingCount(ctx)
}

// --- Offers ---

// Offer bids attached native currency on a listed item.
func (e *Engine) Offer(ctx context.Context, tx store.Tx, info Info, target string, offered decimal.Decimal) (*Response, error) {
	if err := model.ValidateAmount(offered); err != nil {
		return nil, err
	}
	paid, err := e.nativeFunds(info.Funds)
	if err != nil {
		return nil, err
	}
	if err := guard.PaymentMatches(offered, paid); err != nil {
		return nil, err
	}
	return e.placeOffer(ctx, tx, &model.Offer{
		AskedID: target,
		Offerer: info.Sender,
		Amount:  offered,
		Kind:    model.PaymentNative,
	})
}

// placeOffer escrows a bid. A previous bid by the same offerer on the same
// item is replaced and its escrow refunded in the same batch.
func (e *Engine) placeOffer(ctx context.Context, tx store.Tx, o *model.Offer) (*Response, error) {
	if o.AskedID == "" {
		return nil, fmt.Errorf("%w: empty target", model.ErrInvalidPayload)
	}
	pay, err := e.payment(o.Kind)
	if err != nil {
		return nil, err
	}

	resp := newResponse("offer").
		attr("item", o.AskedID).
		attr("offerer", o.Offerer.String()).
		attr("amount", o.Amount.String()).
		effect(pay.Settle(e.self, o.Amount))

	prev, err := tx.Offer(ctx, o.Key())
	switch {
	case err == nil:
		refund, err := e.payment(prev.Kind)
		if err != nil {
			return nil, err
		}
		resp.attr("replaced", prev.Amount.String()).
			effect(refund.Settle(prev.Offerer, prev.Amount))
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	if err := tx.PutOffer(ctx, o); err != nil {
		return nil, err
	}
	return resp, nil
}

// AcceptOffer sells a listing to a bidder: the escrowed payment goes to
// the seller and the item to the bidder under offer confirmation.
func (e *Engine) AcceptOffer(ctx context.Context, tx store.Tx, info Info, itemID string, offerer model.Address) (*Response, error) {
	offer, err := tx.Offer(ctx, model.OfferKey{ItemID: itemID, Offerer: offerer})
	if err != nil {
		return nil, err
	}
	listing, err := tx.Listing(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := guard.IsAuthorized(listing.Owner, info.Sender); err != nil {
		return nil, err
	}
	pay, err := e.payment(offer.Kind)
	if err != nil {
		return nil, err
	}

	if err := tx.DeleteOffer(ctx, offer.Key()); err != nil {
		return nil, err
	}
	if err := e.removeListing(ctx, tx, itemID); err != nil {
		return nil, err
	}
	return newResponse("accept offer").
		attr("item", itemID).
		attr("offerer", offer.Offerer.String()).
		attr("amount", offer.Amount.String()).
		effect(
			pay.Settle(listing.Owner, offer.Amount),
			TransferItem(offer.Offerer, itemID, ConfirmOffer),
		), nil
}

// CancelOffer withdraws the caller's own bid and refunds it.
func (e *Engine) CancelOffer(ctx context.Context, tx store.Tx, info Info, itemID string) (*Response, error) {
	offer, err := tx.Offer(ctx, model.OfferKey{ItemID: itemID, Offerer: info.Sender})
	if err != nil {
		return nil, err
	}
	if err := guard.IsAuthorized(offer.Offerer, info.Sender); err != nil {
		return nil, err
	}
	return e.refundOffer(ctx, tx, offer, "cancel offer")
}

// RejectOffer lets the listing owner turn down a bid; it is refunded.
func (e *Engine) RejectOffer(ctx context.Context, tx store.Tx, info Info, itemID string, offerer model.Address) (*Response, error) {
	offer, err := tx.Offer(ctx, model.OfferKey{ItemID: itemID, Offerer: offerer})
	if err != nil {
		return nil, err
	}
	listing, err := tx.Listing(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := guard.IsAuthorized(listing.Owner, info.Sender); err != nil {
		return nil, err
	}
	return e.refundOffer(ctx, tx, offer, "reject offer")
}

func (e *Engine) refundOffer(ctx context.Context, tx store.Tx, offer *model.Offer, action string) (*Response, error) {
	pay, err := e.payment(offer.Kind)
	if err != nil {
		return nil, err
	}
	if err := tx.DeleteOffer(ctx, offer.Key()); err != nil {
		return nil, err
	}
	return newResponse(action).
		attr("item", offer.AskedID).
		attr("offerer", offer.Offerer.String()).
		effect(pay.Settle(offer.Offerer, offer.Amount)), nil
}

// --- Trades ---

// proposeTrade records a deposited item as a swap proposal for askedID.
// The registry must report the item as owned by the trader or already in
// custody; a trader's earlier proposal for the same item is replaced and
// its offered item returned.
func (e *Engine) proposeTrade(ctx context.Context, tx store.Tx, trader model.Address, offeredID, askedID string) (*Response, error) {
	if offeredID == "" || askedID == "" {
		return nil, fmt.Errorf("%w: empty item id", model.ErrInvalidPayload)
	}
	owner, err := e.owners.OwnerOf(ctx, offeredID)
	if err != nil {
		return nil, fmt.Errorf("query owner of %s: %w", offeredID, err)
	}
	if owner != trader && owner != e.self {
		return nil, model.ErrUnauthorized
	}
	listing, err := tx.Listing(ctx, askedID)
	if err != nil {
		return nil, err
	}
	if err := guard.IsTradeable(listing); err != nil {
		return nil, err
	}

	trade := &model.Trade{AskedID: askedID, OfferedID: offeredID, Trader: trader}
	resp := newResponse("new trade").
		attr("asked", askedID).
		attr("offered", offeredID).
		attr("trader", trader.String())

	prev, err := tx.Trade(ctx, trade.Key())
	switch {
	case err == nil:
		if prev.OfferedID != offeredID {
			resp.attr("replaced", prev.OfferedID).
				effect(TransferItem(trader, prev.OfferedID, ConfirmNone))
		}
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	if err := tx.PutTrade(ctx, trade); err != nil {
		return nil, err
	}
	return resp, nil
}

// AcceptTrade swaps the listed item for the trader's escrowed item. If
// the offered item is itself listed, that listing is swept too.
func (e *Engine) AcceptTrade(ctx context.Context, tx store.Tx, info Info, itemID string, trader model.Address) (*Response, error) {
	trade, err := tx.Trade(ctx, model.TradeKey{ItemID: itemID, Trader: trader})
	if err != nil {
		return nil, err
	}
	listing, err := tx.Listing(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := guard.IsAuthorized(listing.Owner, info.Sender); err != nil {
		return nil, err
	}

	if err := tx.DeleteTrade(ctx, trade.Key()); err != nil {
		return nil, err
	}
	if err := e.removeListing(ctx, tx, trade.AskedID); err != nil {
		return nil, err
	}

	resp := newResponse("accept trade").
		attr("asked", trade.AskedID).
		attr("offered", trade.OfferedID).
		attr("trader", trade.Trader.String())

	_, err = tx.Listing(ctx, trade.OfferedID)
	switch {
	case err == nil:
		if err := e.removeListing(ctx, tx, trade.OfferedID); err != nil {
			return nil, err
		}
		resp.attr("swept", trade.OfferedID)
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	return resp.effect(
		TransferItem(trade.Trader, trade.AskedID, ConfirmTrade),
		TransferItem(listing.Owner, trade.OfferedID, ConfirmTrade),
	), nil
}

// CancelTrade withdraws the caller's own proposal and returns the
// offered item.
func (e *Engine) CancelTrade(ctx context.Context, tx store.Tx, info Info, itemID string) (*Response, error) {
	trade, err := tx.Trade(ctx, model.TradeKey{ItemID: itemID, Trader: info.Sender})
	if err != nil {
		return nil, err
	}
	if err := guard.IsAuthorized(trade.Trader, info.Sender); err != nil {
		return nil, err
	}
	if err := tx.DeleteTrade(ctx, trade.Key()); err != nil {
		return nil, err
	}
	return newResponse("cancel trade").
		attr("item", itemID).
		attr("offered", trade.OfferedID).
		effect(TransferItem(trade.Trader, trade.OfferedID, ConfirmNone)), nil
}
