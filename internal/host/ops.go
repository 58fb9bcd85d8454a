package host

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atmx/swapmarket/internal/market"
	"github.com/atmx/swapmarket/internal/model"
	"github.com/atmx/swapmarket/internal/store"
)

// Instantiate records the registry addresses and zeroes the listing counter.
func (h *Host) Instantiate(ctx context.Context, info market.Info, itemRegistry, tokenRegistry model.Address) (*Receipt, error) {
	return h.Execute(ctx, "instantiate", info, func(ctx context.Context, tx store.Tx) (*market.Response, error) {
		return h.engine.Instantiate(ctx, tx, itemRegistry, tokenRegistry)
	})
}

// Buy settles a listing against the native funds attached to info.
func (h *Host) Buy(ctx context.Context, info market.Info, itemID string) (*Receipt, error) {
	return h.Execute(ctx, "buy", info, func(ctx context.Context, tx store.Tx) (*market.Response, error) {
		return h.engine.Buy(ctx, tx, info, itemID)
	})
}

// CancelListing withdraws a listing and returns the item to its owner.
func (h *Host) CancelListing(ctx context.Context, info market.Info, itemID string) (*Receipt, error) {
	return h.Execute(ctx, "cancel_listing", info, func(ctx context.Context, tx store.Tx) (*market.Response, error) {
		return h.engine.CancelListing(ctx, tx, info, itemID)
	})
}

// Offer escrows a native-currency bid on itemID.
func (h *Host) Offer(ctx context.Context, info market.Info, itemID string, offered decimal.Decimal) (*Receipt, error) {
	return h.Execute(ctx, "offer", info, func(ctx context.Context, tx store.Tx) (*market.Response, error) {
		return h.engine.Offer(ctx, tx, info, itemID, offered)
	})
}

// AcceptOffer sells the listed item to offerer at the escrowed price.
func (h *Host) AcceptOffer(ctx context.Context, info market.Info, itemID string, offerer model.Address) (*Receipt, error) {
	return h.Execute(ctx, "accept_offer", info, func(ctx context.Context, tx store.Tx) (*market.Response, error) {
		return h.engine.AcceptOffer(ctx, tx, info, itemID, offerer)
	})
}

// CancelOffer withdraws the sender's own bid and refunds it.
func (h *Host) CancelOffer(ctx context.Context, info market.Info, itemID string) (*Receipt, error) {
	return h.Execute(ctx, "cancel_offer", info, func(ctx context.Context, tx store.Tx) (*market.Response, error) {
		return h.engine.CancelOffer(ctx, tx, info, itemID)
	})
}

// RejectOffer lets the listing owner refuse a bid, refunding the offerer.
func (h *Host) RejectOffer(ctx context.Context, info market.Info, itemID string, offerer model.Address) (*Receipt, error) {
	return h.Execute(ctx, "reject_offer", info, func(ctx context.Context, tx store.Tx) (*market.Response, error) {
		return h.engine.RejectOffer(ctx, tx, info, itemID, offerer)
	})
}

// AcceptTrade swaps the listed item for the item trader put up.
func (h *Host) AcceptTrade(ctx context.Context, info market.Info, itemID string, trader model.Address) (*Receipt, error) {
	return h.Execute(ctx, "accept_trade", info, func(ctx context.Context, tx store.Tx) (*market.Response, error) {
		return h.engine.AcceptTrade(ctx, tx, info, itemID, trader)
	})
}

// CancelTrade withdraws the sender's trade proposal and returns the offered item.
func (h *Host) CancelTrade(ctx context.Context, info market.Info, itemID string) (*Receipt, error) {
	return h.Execute(ctx, "cancel_trade", info, func(ctx context.Context, tx store.Tx) (*market.Response, error) {
		return h.engine.CancelTrade(ctx, tx, info, itemID)
	})
}

// ReceiveItem handles an item deposit notification. caller is the
// authenticated notifier, which must be the configured item registry.
func (h *Host) ReceiveItem(ctx context.Context, caller model.Address, d market.ItemDeposit) (*Receipt, error) {
	return h.Execute(ctx, "receive_item", market.Info{Sender: caller}, func(ctx context.Context, tx store.Tx) (*market.Response, error) {
		return h.engine.ReceiveItem(ctx, tx, caller, d)
	})
}

// ReceiveTokens handles a token deposit notification from the token
// registry.
func (h *Host) ReceiveTokens(ctx context.Context, caller model.Address, d market.TokenDeposit) (*Receipt, error) {
	return h.Execute(ctx, "receive_tokens", market.Info{Sender: caller}, func(ctx context.Context, tx store.Tx) (*market.Response, error) {
		return h.engine.ReceiveTokens(ctx, tx, caller, d)
	})
}
