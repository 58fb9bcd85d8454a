package market

import (
	"context"

	"github.com/atmx/swapmarket/internal/model"
	"github.com/atmx/swapmarket/internal/store"
)

// Queries are the read-only paged views. Filters are applied after the
// skip/take window, so a filtered page may hold fewer than Limit records
// even when more matches exist further on.
type Queries struct {
	store store.Store
}

// NewQueries creates the query surface over st.
func NewQueries(st store.Store) *Queries {
	return &Queries{store: st}
}

// Config returns the instantiation config.
func (q *Queries) Config(ctx context.Context) (*model.Config, error) {
	return q.store.Config(ctx)
}

func (q *Queries) GetListing(ctx context.Context, itemID string) (*model.Listing, error) {
	return q.store.Listing(ctx, itemID)
}

func (q *Queries) ListingCount(ctx context.Context) (uint64, error) {
	return q.store.ListingCount(ctx)
}

func (q *Queries) AllListings(ctx context.Context, page store.Page) ([]model.Listing, error) {
	return q.store.Listings(ctx, page)
}

func (q *Queries) ListingsBySeller(ctx context.Context, seller model.Address, page store.Page) ([]model.Listing, error) {
	all, err := q.store.Listings(ctx, page)
	if err != nil {
		return nil, err
	}
	return filter(all, func(l model.Listing) bool { return l.Owner == seller }), nil
}

func (q *Queries) GetTrade(ctx context.Context, itemID string, trader model.Address) (*model.Trade, error) {
	return q.store.Trade(ctx, model.TradeKey{ItemID: itemID, Trader: trader})
}

func (q *Queries) AllTrades(ctx context.Context, page store.Page) ([]model.Trade, error) {
	return q.store.Trades(ctx, page)
}

func (q *Queries) TradesByAddress(ctx context.Context, trader model.Address, page store.Page) ([]model.Trade, error) {
	all, err := q.store.Trades(ctx, page)
	if err != nil {
		return nil, err
	}
	return filter(all, func(t model.Trade) bool { return t.Trader == trader }), nil
}

func (q *Queries) TradesByItem(ctx context.Context, itemID string, page store.Page) ([]model.Trade, error) {
	all, err := q.store.Trades(ctx, page)
	if err != nil {
		return nil, err
	}
	return filter(all, func(t model.Trade) bool { return t.AskedID == itemID }), nil
}

func (q *Queries) GetOffer(ctx context.Context, itemID string, offerer model.Address) (*model.Offer, error) {
	return q.store.Offer(ctx, model.OfferKey{ItemID: itemID, Offerer: offerer})
}

func (q *Queries) AllOffers(ctx context.Context, page store.Page) ([]model.Offer, error) {
	return q.store.Offers(ctx, page)
}

func (q *Queries) OffersByAddress(ctx context.Context, offerer model.Address, page store.Page) ([]model.Offer, error) {
	all, err := q.store.Offers(ctx, page)
	if err != nil {
		return nil, err
	}
	return filter(all, func(o model.Offer) bool { return o.Offerer == offerer }), nil
}

func (q *Queries) OffersByItem(ctx context.Context, itemID string, page store.Page) ([]model.Offer, error) {
	all, err := q.store.Offers(ctx, page)
	if err != nil {
		return nil, err
	}
	return filter(all, func(o model.Offer) bool { return o.AskedID == itemID }), nil
}

func filter[T any](in []T, keep func(T) bool) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
