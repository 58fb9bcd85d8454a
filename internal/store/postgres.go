package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/swapmarket/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Amounts are stored as NUMERIC(78,0), wide enough for 2^256-1. Keys are
// ordered with the "C" collation so range scans match byte order.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the marketplace tables if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) Config(ctx context.Context) (*model.Config, error) {
	return getConfig(ctx, s.pool)
}

func (s *PostgresStore) Listing(ctx context.Context, itemID string) (*model.Listing, error) {
	return getListing(ctx, s.pool, itemID)
}

func (s *PostgresStore) Trade(ctx context.Context, key model.TradeKey) (*model.Trade, error) {
	return getTrade(ctx, s.pool, key)
}

func (s *PostgresStore) Offer(ctx context.Context, key model.OfferKey) (*model.Offer, error) {
	return getOffer(ctx, s.pool, key)
}

func (s *PostgresStore) ListingCount(ctx context.Context) (uint64, error) {
	return getListingCount(ctx, s.pool)
}

func (s *PostgresStore) Listings(ctx context.Context, page Page) ([]model.Listing, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx,
		`SELECT item_id, price::TEXT, owner, tradeable
		 FROM listings ORDER BY item_id COLLATE "C"
		 OFFSET $1 LIMIT $2`, int64(page.FromIndex), int64(page.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Listing{}
	for rows.Next() {
		var l model.Listing
		var price, owner string
		if err := rows.Scan(&l.ItemID, &price, &owner, &l.Tradeable); err != nil {
			return nil, err
		}
		l.Owner = model.Address(owner)
		if l.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("listing %s price: %w", l.ItemID, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Trades(ctx context.Context, page Page) ([]model.Trade, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx,
		`SELECT asked_id, offered_id, trader
		 FROM trades ORDER BY asked_id COLLATE "C", trader COLLATE "C"
		 OFFSET $1 LIMIT $2`, int64(page.FromIndex), int64(page.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Trade{}
	for rows.Next() {
		var t model.Trade
		var trader string
		if err := rows.Scan(&t.AskedID, &t.OfferedID, &trader); err != nil {
			return nil, err
		}
		t.Trader = model.Address(trader)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Offers(ctx context.Context, page Page) ([]model.Offer, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx,
		`SELECT asked_id, offerer, amount::TEXT, kind
		 FROM offers ORDER BY asked_id COLLATE "C", offerer COLLATE "C"
		 OFFSET $1 LIMIT $2`, int64(page.FromIndex), int64(page.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Offer{}
	for rows.Next() {
		var o model.Offer
		var offerer, amount, kind string
		if err := rows.Scan(&o.AskedID, &offerer, &amount, &kind); err != nil {
			return nil, err
		}
		o.Offerer = model.Address(offerer)
		o.Kind = model.PaymentKind(kind)
		if o.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("offer %s/%s amount: %w", o.AskedID, offerer, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Begin opens a database transaction.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Config(ctx context.Context) (*model.Config, error) {
	return getConfig(ctx, t.tx)
}

func (t *postgresTx) Listing(ctx context.Context, itemID string) (*model.Listing, error) {
	return getListing(ctx, t.tx, itemID)
}

func (t *postgresTx) Trade(ctx context.Context, key model.TradeKey) (*model.Trade, error) {
	return getTrade(ctx, t.tx, key)
}

func (t *postgresTx) Offer(ctx context.Context, key model.OfferKey) (*model.Offer, error) {
	return getOffer(ctx, t.tx, key)
}

func (t *postgresTx) ListingCount(ctx context.Context) (uint64, error) {
	return getListingCount(ctx, t.tx)
}

func (t *postgresTx) SaveConfig(ctx context.Context, cfg *model.Config) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO marketplace_config (id, item_registry, token_registry)
		 VALUES (1, $1, $2) ON CONFLICT (id) DO NOTHING`,
		cfg.ItemRegistry.String(), cfg.TokenRegistry.String())
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrConfigExists
	}
	return nil
}

func (t *postgresTx) PutListing(ctx context.Context, l *model.Listing) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO listings (item_id, price, owner, tradeable)
		 VALUES ($1, $2::NUMERIC, $3, $4)
		 ON CONFLICT (item_id) DO UPDATE
		 SET price = EXCLUDED.price, owner = EXCLUDED.owner, tradeable = EXCLUDED.tradeable`,
		l.ItemID, l.Price.String(), l.Owner.String(), l.Tradeable)
	if err != nil {
		return fmt.Errorf("put listing %s: %w", l.ItemID, err)
	}
	return nil
}

func (t *postgresTx) DeleteListing(ctx context.Context, itemID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM listings WHERE item_id = $1`, itemID)
	return err
}

func (t *postgresTx) PutTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trades (asked_id, trader, offered_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (asked_id, trader) DO UPDATE SET offered_id = EXCLUDED.offered_id`,
		tr.AskedID, tr.Trader.String(), tr.OfferedID)
	if err != nil {
		return fmt.Errorf("put trade %s/%s: %w", tr.AskedID, tr.Trader, err)
	}
	return nil
}

func (t *postgresTx) DeleteTrade(ctx context.Context, key model.TradeKey) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM trades WHERE asked_id = $1 AND trader = $2`,
		key.ItemID, key.Trader.String())
	return err
}

func (t *postgresTx) PutOffer(ctx context.Context, o *model.Offer) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO offers (asked_id, offerer, amount, kind)
		 VALUES ($1, $2, $3::NUMERIC, $4)
		 ON CONFLICT (asked_id, offerer) DO UPDATE
		 SET amount = EXCLUDED.amount, kind = EXCLUDED.kind`,
		o.AskedID, o.Offerer.String(), o.Amount.String(), string(o.Kind))
	if err != nil {
		return fmt.Errorf("put offer %s/%s: %w", o.AskedID, o.Offerer, err)
	}
	return nil
}

func (t *postgresTx) DeleteOffer(ctx context.Context, key model.OfferKey) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM offers WHERE asked_id = $1 AND offerer = $2`,
		key.ItemID, key.Offerer.String())
	return err
}

func (t *postgresTx) IncrementListingCount(ctx context.Context) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE listing_counter SET value = value + 1
		 WHERE id = 1 AND value < 9223372036854775807`)
	if err != nil {
		return fmt.Errorf("increment listing counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("listing counter: %w", model.ErrOverflow)
	}
	return nil
}

func (t *postgresTx) DecrementListingCount(ctx context.Context) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE listing_counter SET value = value - 1 WHERE id = 1 AND value > 0`)
	if err != nil {
		return fmt.Errorf("decrement listing counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("listing counter: %w", model.ErrUnderflow)
	}
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// --- shared row readers ---

func getConfig(ctx context.Context, q querier) (*model.Config, error) {
	var item, token string
	err := q.QueryRow(ctx,
		`SELECT item_registry, token_registry FROM marketplace_config WHERE id = 1`).
		Scan(&item, &token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("config: %w", model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	return &model.Config{ItemRegistry: model.Address(item), TokenRegistry: model.Address(token)}, nil
}

func getListing(ctx context.Context, q querier, itemID string) (*model.Listing, error) {
	var l model.Listing
	var price, owner string
	err := q.QueryRow(ctx,
		`SELECT item_id, price::TEXT, owner, tradeable FROM listings WHERE item_id = $1`, itemID).
		Scan(&l.ItemID, &price, &owner, &l.Tradeable)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("listing %s: %w", itemID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get listing %s: %w", itemID, err)
	}
	l.Owner = model.Address(owner)
	if l.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("listing %s price: %w", itemID, err)
	}
	return &l, nil
}

func getTrade(ctx context.Context, q querier, key model.TradeKey) (*model.Trade, error) {
	t := model.Trade{AskedID: key.ItemID, Trader: key.Trader}
	err := q.QueryRow(ctx,
		`SELECT offered_id FROM trades WHERE asked_id = $1 AND trader = $2`,
		key.ItemID, key.Trader.String()).
		Scan(&t.OfferedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("trade %s/%s: %w", key.ItemID, key.Trader, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get trade %s/%s: %w", key.ItemID, key.Trader, err)
	}
	return &t, nil
}

func getOffer(ctx context.Context, q querier, key model.OfferKey) (*model.Offer, error) {
	o := model.Offer{AskedID: key.ItemID, Offerer: key.Offerer}
	var amount, kind string
	err := q.QueryRow(ctx,
		`SELECT amount::TEXT, kind FROM offers WHERE asked_id = $1 AND offerer = $2`,
		key.ItemID, key.Offerer.String()).
		Scan(&amount, &kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("offer %s/%s: %w", key.ItemID, key.Offerer, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get offer %s/%s: %w", key.ItemID, key.Offerer, err)
	}
	o.Kind = model.PaymentKind(kind)
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("offer %s/%s amount: %w", key.ItemID, key.Offerer, err)
	}
	return &o, nil
}

func getListingCount(ctx context.Context, q querier) (uint64, error) {
	var n int64
	err := q.QueryRow(ctx, `SELECT value FROM listing_counter WHERE id = 1`).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get listing count: %w", err)
	}
	return uint64(n), nil
}
