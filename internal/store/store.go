// Package store defines the persistence interface for the marketplace.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
//
// All writes go through a Tx. A Tx sees its own staged writes and nothing
// of it becomes visible until Commit; Rollback discards it.
package store

import (
	"context"

	"github.com/atmx/swapmarket/internal/model"
)

// DefaultLimit is the page size used when a caller does not pass one.
const DefaultLimit = 10

// Page is a skip/take window over a table in ascending key order.
type Page struct {
	FromIndex uint64
	Limit     uint64
}

// Normalize fills in the default limit.
func (p Page) Normalize() Page {
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	return p
}

// Reader is the point-lookup surface shared by Store and Tx. Lookups of
// an absent key return an error matching model.ErrNotFound.
type Reader interface {
	// Config returns the instantiation config.
	Config(ctx context.Context) (*model.Config, error)

	// Listing returns the listing for an item.
	Listing(ctx context.Context, itemID string) (*model.Listing, error)

	// Trade returns the trade at (asked item, trader).
	Trade(ctx context.Context, key model.TradeKey) (*model.Trade, error)

	// Offer returns the offer at (asked item, offerer).
	Offer(ctx context.Context, key model.OfferKey) (*model.Offer, error)

	// ListingCount returns the running listing counter.
	ListingCount(ctx context.Context) (uint64, error)
}

// Tx is one operation's unit of work.
type Tx interface {
	Reader

	// SaveConfig writes the config; fails with model.ErrConfigExists if
	// one is already present.
	SaveConfig(ctx context.Context, cfg *model.Config) error

	PutListing(ctx context.Context, l *model.Listing) error
	DeleteListing(ctx context.Context, itemID string) error

	PutTrade(ctx context.Context, t *model.Trade) error
	DeleteTrade(ctx context.Context, key model.TradeKey) error

	PutOffer(ctx context.Context, o *model.Offer) error
	DeleteOffer(ctx context.Context, key model.OfferKey) error

	// IncrementListingCount fails with model.ErrOverflow at the maximum.
	IncrementListingCount(ctx context.Context) error

	// DecrementListingCount fails with model.ErrUnderflow at zero.
	DecrementListingCount(ctx context.Context) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	Reader

	// Begin opens a transaction.
	Begin(ctx context.Context) (Tx, error)

	// --- Range scans in ascending key order ---

	Listings(ctx context.Context, page Page) ([]model.Listing, error)
	Trades(ctx context.Context, page Page) ([]model.Trade, error)
	Offers(ctx context.Context, page Page) ([]model.Offer, error)
}
