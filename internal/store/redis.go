package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/swapmarket/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for Config and Listings. Writes go to the primary store inside a
// transaction and invalidate the touched keys once it commits; reads check
// Redis first then fall back to the primary.
//
// Cache fills use SETNX so they never overwrite a newer entry. A reader
// that missed before a commit can still write the pre-commit row after the
// commit's invalidation, so each invalidation is repeated after
// invalidateDelay. That delay, not the TTL, bounds how long a stale
// listing stays visible.
//
// Trades, offers, the counter and range scans are not cached.
type CachedStore struct {
	primary         Store
	rdb             *redis.Client
	ttl             time.Duration
	invalidateDelay time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary:         primary,
		rdb:             rdb,
		ttl:             ttl,
		invalidateDelay: 500 * time.Millisecond,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Config(ctx context.Context) (*model.Config, error) {
	data, err := s.rdb.Get(ctx, configKey).Bytes()
	if err == nil {
		var cfg model.Config
		if json.Unmarshal(data, &cfg) == nil {
			return &cfg, nil
		}
	}

	cfg, err := s.primary.Config(ctx)
	if err != nil {
		return nil, err
	}
	// Config never changes once written.
	if data, err := json.Marshal(cfg); err == nil {
		s.rdb.SetNX(ctx, configKey, data, 0)
	}
	return cfg, nil
}

func (s *CachedStore) Listing(ctx context.Context, itemID string) (*model.Listing, error) {
	data, err := s.rdb.Get(ctx, listingKey(itemID)).Bytes()
	if err == nil {
		var l model.Listing
		if json.Unmarshal(data, &l) == nil {
			return &l, nil
		}
	}

	l, err := s.primary.Listing(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(l); err == nil {
		s.rdb.SetNX(ctx, listingKey(itemID), data, s.ttl)
	}
	return l, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) Trade(ctx context.Context, key model.TradeKey) (*model.Trade, error) {
	return s.primary.Trade(ctx, key)
}

func (s *CachedStore) Offer(ctx context.Context, key model.OfferKey) (*model.Offer, error) {
	return s.primary.Offer(ctx, key)
}

func (s *CachedStore) ListingCount(ctx context.Context) (uint64, error) {
	return s.primary.ListingCount(ctx)
}

func (s *CachedStore) Listings(ctx context.Context, page Page) ([]model.Listing, error) {
	return s.primary.Listings(ctx, page)
}

func (s *CachedStore) Trades(ctx context.Context, page Page) ([]model.Trade, error) {
	return s.primary.Trades(ctx, page)
}

func (s *CachedStore) Offers(ctx context.Context, page Page) ([]model.Offer, error) {
	return s.primary.Offers(ctx, page)
}

// --- Write-through (write to primary, invalidate cache on commit) ---

// Begin opens a primary transaction that remembers which listings it
// touched.
func (s *CachedStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.primary.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &cachedTx{Tx: tx, s: s, touched: make(map[string]struct{})}, nil
}

type cachedTx struct {
	Tx
	s       *CachedStore
	touched map[string]struct{}
}

func (t *cachedTx) PutListing(ctx context.Context, l *model.Listing) error {
	t.touched[l.ItemID] = struct{}{}
	return t.Tx.PutListing(ctx, l)
}

func (t *cachedTx) DeleteListing(ctx context.Context, itemID string) error {
	t.touched[itemID] = struct{}{}
	return t.Tx.DeleteListing(ctx, itemID)
}

func (t *cachedTx) Commit(ctx context.Context) error {
	if err := t.Tx.Commit(ctx); err != nil {
		return err
	}
	if len(t.touched) == 0 {
		return nil
	}
	keys := make([]string, 0, len(t.touched))
	for id := range t.touched {
		keys = append(keys, listingKey(id))
	}
	t.s.invalidate(ctx, keys)
	time.AfterFunc(t.s.invalidateDelay, func() {
		t.s.invalidate(context.Background(), keys)
	})
	return nil
}

// invalidate drops keys. A failed invalidation leaves stale entries until
// the TTL expires.
func (s *CachedStore) invalidate(ctx context.Context, keys []string) {
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("listing cache invalidation failed", "keys", len(keys), "err", err)
	}
}

// --- Cache helpers ---

const configKey = "marketplace:config"

func listingKey(id string) string { return fmt.Sprintf("listing:%s", id) }
