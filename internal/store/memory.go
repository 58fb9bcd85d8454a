package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/atmx/swapmarket/internal/model"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("store: transaction already committed or rolled back")

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	config   *model.Config
	listings map[string]model.Listing
	trades   map[model.TradeKey]model.Trade
	offers   map[model.OfferKey]model.Offer
	count    uint64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[string]model.Listing),
		trades:   make(map[model.TradeKey]model.Trade),
		offers:   make(map[model.OfferKey]model.Offer),
	}
}

func (s *MemoryStore) Config(_ context.Context) (*model.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return nil, fmt.Errorf("config: %w", model.ErrNotFound)
	}
	cfg := *s.config
	return &cfg, nil
}

func (s *MemoryStore) Listing(_ context.Context, itemID string) (*model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[itemID]
	if !ok {
		return nil, fmt.Errorf("listing %s: %w", itemID, model.ErrNotFound)
	}
	return &l, nil
}

func (s *MemoryStore) Trade(_ context.Context, key model.TradeKey) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[key]
	if !ok {
		return nil, fmt.Errorf("trade %s/%s: %w", key.ItemID, key.Trader, model.ErrNotFound)
	}
	return &t, nil
}

func (s *MemoryStore) Offer(_ context.Context, key model.OfferKey) (*model.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.offers[key]
	if !ok {
		return nil, fmt.Errorf("offer %s/%s: %w", key.ItemID, key.Offerer, model.ErrNotFound)
	}
	return &o, nil
}

func (s *MemoryStore) ListingCount(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count, nil
}

func (s *MemoryStore) Listings(_ context.Context, page Page) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.listings))
	for k := range s.listings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []model.Listing{}
	for _, k := range window(keys, page) {
		out = append(out, s.listings[k])
	}
	return out, nil
}

func (s *MemoryStore) Trades(_ context.Context, page Page) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]model.TradeKey, 0, len(s.trades))
	for k := range s.trades {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, model.TradeKey.Compare)

	out := []model.Trade{}
	for _, k := range window(keys, page) {
		out = append(out, s.trades[k])
	}
	return out, nil
}

func (s *MemoryStore) Offers(_ context.Context, page Page) ([]model.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]model.OfferKey, 0, len(s.offers))
	for k := range s.offers {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, model.OfferKey.Compare)

	out := []model.Offer{}
	for _, k := range window(keys, page) {
		out = append(out, s.offers[k])
	}
	return out, nil
}

// window applies the skip/take of page to sorted keys.
func window[K any](keys []K, page Page) []K {
	page = page.Normalize()
	if page.FromIndex >= uint64(len(keys)) {
		return nil
	}
	end := uint64(len(keys))
	if page.Limit < end-page.FromIndex {
		end = page.FromIndex + page.Limit
	}
	return keys[page.FromIndex:end]
}

// Begin opens a transaction staging writes in overlay maps. The caller
// is expected to serialize transactions; MemoryStore does not detect
// write conflicts between concurrent ones.
func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	s.mu.RLock()
	count := s.count
	s.mu.RUnlock()

	return &memoryTx{
		s:        s,
		listings: make(map[string]*model.Listing),
		trades:   make(map[model.TradeKey]*model.Trade),
		offers:   make(map[model.OfferKey]*model.Offer),
		count:    count,
	}, nil
}

// memoryTx stages writes; a nil map value marks a deletion.
type memoryTx struct {
	s        *MemoryStore
	config   *model.Config
	listings map[string]*model.Listing
	trades   map[model.TradeKey]*model.Trade
	offers   map[model.OfferKey]*model.Offer
	count    uint64
	done     bool
}

func (tx *memoryTx) Config(ctx context.Context) (*model.Config, error) {
	if tx.config != nil {
		cfg := *tx.config
		return &cfg, nil
	}
	return tx.s.Config(ctx)
}

func (tx *memoryTx) Listing(ctx context.Context, itemID string) (*model.Listing, error) {
	if l, ok := tx.listings[itemID]; ok {
		if l == nil {
			return nil, fmt.Errorf("listing %s: %w", itemID, model.ErrNotFound)
		}
		cp := *l
		return &cp, nil
	}
	return tx.s.Listing(ctx, itemID)
}

func (tx *memoryTx) Trade(ctx context.Context, key model.TradeKey) (*model.Trade, error) {
	if t, ok := tx.trades[key]; ok {
		if t == nil {
			return nil, fmt.Errorf("trade %s/%s: %w", key.ItemID, key.Trader, model.ErrNotFound)
		}
		cp := *t
		return &cp, nil
	}
	return tx.s.Trade(ctx, key)
}

func (tx *memoryTx) Offer(ctx context.Context, key model.OfferKey) (*model.Offer, error) {
	if o, ok := tx.offers[key]; ok {
		if o == nil {
			return nil, fmt.Errorf("offer %s/%s: %w", key.ItemID, key.Offerer, model.ErrNotFound)
		}
		cp := *o
		return &cp, nil
	}
	return tx.s.Offer(ctx, key)
}

func (tx *memoryTx) ListingCount(_ context.Context) (uint64, error) {
	return tx.count, nil
}

func (tx *memoryTx) SaveConfig(ctx context.Context, cfg *model.Config) error {
	if tx.done {
		return ErrTxDone
	}
	if _, err := tx.Config(ctx); err == nil {
		return model.ErrConfigExists
	}
	cp := *cfg
	tx.config = &cp
	return nil
}

func (tx *memoryTx) PutListing(_ context.Context, l *model.Listing) error {
	if tx.done {
		return ErrTxDone
	}
	cp := *l
	tx.listings[l.ItemID] = &cp
	return nil
}

func (tx *memoryTx) DeleteListing(_ context.Context, itemID string) error {
	if tx.done {
		return ErrTxDone
	}
	tx.listings[itemID] = nil
	return nil
}

func (tx *memoryTx) PutTrade(_ context.Context, t *model.Trade) error {
	if tx.done {
		return ErrTxDone
	}
	cp := *t
	tx.trades[t.Key()] = &cp
	return nil
}

func (tx *memoryTx) DeleteTrade(_ context.Context, key model.TradeKey) error {
	if tx.done {
		return ErrTxDone
	}
	tx.trades[key] = nil
	return nil
}

func (tx *memoryTx) PutOffer(_ context.Context, o *model.Offer) error {
	if tx.done {
		return ErrTxDone
	}
	cp := *o
	tx.offers[o.Key()] = &cp
	return nil
}

func (tx *memoryTx) DeleteOffer(_ context.Context, key model.OfferKey) error {
	if tx.done {
		return ErrTxDone
	}
	tx.offers[key] = nil
	return nil
}

func (tx *memoryTx) IncrementListingCount(_ context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	if tx.count == math.MaxUint64 {
		return fmt.Errorf("listing counter: %w", model.ErrOverflow)
	}
	tx.count++
	return nil
}

func (tx *memoryTx) DecrementListingCount(_ context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	if tx.count == 0 {
		return fmt.Errorf("listing counter: %w", model.ErrUnderflow)
	}
	tx.count--
	return nil
}

func (tx *memoryTx) Commit(_ context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.config != nil {
		s.config = tx.config
	}
	for k, l := range tx.listings {
		if l == nil {
			delete(s.listings, k)
		} else {
			s.listings[k] = *l
		}
	}
	for k, t := range tx.trades {
		if t == nil {
			delete(s.trades, k)
		} else {
			s.trades[k] = *t
		}
	}
	for k, o := range tx.offers {
		if o == nil {
			delete(s.offers, k)
		} else {
			s.offers[k] = *o
		}
	}
	s.count = tx.count
	return nil
}

func (tx *memoryTx) Rollback(_ context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	return nil
}
