package registry_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/swapmarket/internal/host"
	"github.com/atmx/swapmarket/internal/market"
	"github.com/atmx/swapmarket/internal/model"
	"github.com/atmx/swapmarket/internal/registry"
	"github.com/atmx/swapmarket/internal/store"
)

const (
	self          model.Address = "marketplace"
	itemRegistry  model.Address = "item-registry"
	tokenRegistry model.Address = "token-registry"
	denom                       = "uxion"
)

func d(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

type world struct {
	ledger *registry.Ledger
	host   *host.Host
	st     *store.MemoryStore
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		ledger: registry.NewLedger(self, itemRegistry, tokenRegistry),
		st:     store.NewMemoryStore(),
	}
	engine := market.NewEngine(self, denom, w.ledger)
	w.host = host.New(w.st, engine, w.ledger, nil)
	_, err := w.host.Instantiate(context.Background(), market.Info{Sender: "admin"}, itemRegistry, tokenRegistry)
	require.NoError(t, err)
	return w
}

func (w *world) owner(t *testing.T, itemID string) model.Address {
	t.Helper()
	o, err := w.ledger.OwnerOf(context.Background(), itemID)
	require.NoError(t, err)
	return o
}

func (w *world) count(t *testing.T) uint64 {
	t.Helper()
	n, err := w.st.ListingCount(context.Background())
	require.NoError(t, err)
	return n
}

func coins(n int64) []model.Coin { return []model.Coin{{Denom: denom, Amount: d(n)}} }

func TestScenario_ListAndBuy(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	require.NoError(t, w.ledger.MintItem("X", "seller"))
	w.ledger.Fund("buyer", denom, d(200))

	_, err := w.ledger.SendItem(ctx, w.host, "seller", "X", []byte(`{"new_listing":{"price":"100","tradeable":false}}`))
	require.NoError(t, err)
	assert.Equal(t, self, w.owner(t, "X"))
	assert.Equal(t, uint64(1), w.count(t))

	_, err = w.host.Buy(ctx, market.Info{Sender: "buyer", Funds: coins(100)}, "X")
	require.NoError(t, err)

	assert.Equal(t, model.Address("buyer"), w.owner(t, "X"))
	assert.True(t, w.ledger.NativeBalance("seller", denom).Equal(d(100)))
	assert.True(t, w.ledger.NativeBalance("buyer", denom).Equal(d(100)))
	assert.True(t, w.ledger.NativeBalance(self, denom).IsZero())
	assert.Equal(t, uint64(0), w.count(t))
	_, err = w.st.Listing(ctx, "X")
	assert.ErrorIs(t, err, model.ErrNotFound)

	recs, err := w.host.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	op, _ := recs[0].Attr("operation")
	assert.Equal(t, "item listing", op)

	_, err = w.host.Buy(ctx, market.Info{Sender: "buyer", Funds: coins(100)}, "X")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.True(t, w.ledger.NativeBalance("buyer", denom).Equal(d(100)), "failed buy must not move funds")
}

func TestScenario_OfferAndReject(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	require.NoError(t, w.ledger.MintItem("Y", "owner"))
	w.ledger.Fund("bidder", denom, d(50))

	_, err := w.ledger.SendItem(ctx, w.host, "owner", "Y", []byte(`{"new_listing":{"price":"100","tradeable":false}}`))
	require.NoError(t, err)

	_, err = w.host.Offer(ctx, market.Info{Sender: "bidder", Funds: coins(50)}, "Y", d(50))
	require.NoError(t, err)
	assert.True(t, w.ledger.NativeBalance(self, denom).Equal(d(50)))
	assert.True(t, w.ledger.NativeBalance("bidder", denom).IsZero())
	_, err = w.st.Offer(ctx, model.OfferKey{ItemID: "Y", Offerer: "bidder"})
	require.NoError(t, err)

	_, err = w.host.RejectOffer(ctx, market.Info{Sender: "owner"}, "Y", "bidder")
	require.NoError(t, err)
	assert.True(t, w.ledger.NativeBalance("bidder", denom).Equal(d(50)))
	assert.True(t, w.ledger.NativeBalance(self, denom).IsZero())
	_, err = w.st.Offer(ctx, model.OfferKey{ItemID: "Y", Offerer: "bidder"})
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = w.st.Listing(ctx, "Y")
	assert.NoError(t, err)
	assert.Equal(t, self, w.owner(t, "Y"))
}

func TestScenario_TokenBuy(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	require.NoError(t, w.ledger.MintItem("X", "seller"))
	w.ledger.MintTokens("buyer", d(300))

	_, err := w.ledger.SendItem(ctx, w.host, "seller", "X", []byte(`{"new_listing":{"price":"300","tradeable":false}}`))
	require.NoError(t, err)

	_, err = w.ledger.SendTokens(ctx, w.host, "buyer", d(300), []byte(`{"buy":{"id":"X"}}`))
	require.NoError(t, err)
	assert.Equal(t, model.Address("buyer"), w.owner(t, "X"))
	assert.True(t, w.ledger.TokenBalance("seller").Equal(d(300)))
	assert.True(t, w.ledger.TokenBalance(self).IsZero())
}

func TestScenario_SwapSweepsOfferedListing(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	require.NoError(t, w.ledger.MintItem("A", "owner"))
	require.NoError(t, w.ledger.MintItem("B", "trader"))

	_, err := w.ledger.SendItem(ctx, w.host, "owner", "A", []byte(`{"new_listing":{"price":"10","tradeable":true}}`))
	require.NoError(t, err)
	_, err = w.ledger.SendItem(ctx, w.host, "trader", "B", []byte(`{"new_trade":{"target":"A"}}`))
	require.NoError(t, err)
	assert.Equal(t, self, w.owner(t, "B"))

	rec, err := w.host.AcceptTrade(ctx, market.Info{Sender: "owner"}, "A", "trader")
	require.NoError(t, err)
	assert.Len(t, rec.Effects, 2)
	assert.Equal(t, model.Address("trader"), w.owner(t, "A"))
	assert.Equal(t, model.Address("owner"), w.owner(t, "B"))
	assert.Equal(t, uint64(0), w.count(t))

	recs, err := w.host.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	first, _ := recs[0].Attr("item")
	second, _ := recs[1].Attr("item")
	assert.Equal(t, []string{"A", "B"}, []string{first, second})
}

func TestSendItem_RevertsOnRejectedNotification(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	require.NoError(t, w.ledger.MintItem("A", "owner"))
	require.NoError(t, w.ledger.MintItem("B", "trader"))

	_, err := w.ledger.SendItem(ctx, w.host, "owner", "A", []byte(`{"new_listing":{"price":"10","tradeable":false}}`))
	require.NoError(t, err)

	_, err = w.ledger.SendItem(ctx, w.host, "trader", "B", []byte(`{"new_trade":{"target":"A"}}`))
	assert.ErrorIs(t, err, model.ErrNonTradeable)
	assert.Equal(t, model.Address("trader"), w.owner(t, "B"))

	_, err = w.ledger.SendItem(ctx, w.host, "mallory", "B", []byte(`{"new_trade":{"target":"A"}}`))
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestSendTokens_RevertsOnRejectedNotification(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	require.NoError(t, w.ledger.MintItem("X", "seller"))
	w.ledger.MintTokens("buyer", d(100))
	_, err := w.ledger.SendItem(ctx, w.host, "seller", "X", []byte(`{"new_listing":{"price":"100","tradeable":false}}`))
	require.NoError(t, err)

	_, err = w.ledger.SendTokens(ctx, w.host, "buyer", d(90), []byte(`{"buy":{"id":"X"}}`))
	assert.ErrorIs(t, err, model.ErrIncorrectPayment)
	assert.True(t, w.ledger.TokenBalance("buyer").Equal(d(100)))
	assert.True(t, w.ledger.TokenBalance(self).IsZero())
}

func TestDispatch_AllOrNothing(t *testing.T) {
	l := registry.NewLedger(self, itemRegistry, tokenRegistry)
	ctx := context.Background()
	require.NoError(t, l.MintItem("X", self))
	l.Fund(self, denom, d(10))

	_, err := l.Dispatch(ctx, "b1", []market.Effect{
		market.TransferItem("buyer", "X", market.ConfirmListing),
		{Kind: market.EffectNativeSend, Recipient: "seller", Amount: d(11), Denom: denom},
	})
	require.Error(t, err)

	owner, err := l.OwnerOf(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, self, owner, "first effect must not apply when a later one fails")
	assert.True(t, l.NativeBalance(self, denom).Equal(d(10)))

	confs, err := l.Dispatch(ctx, "b2", []market.Effect{
		{Kind: market.EffectNativeSend, Recipient: "seller", Amount: d(10), Denom: denom},
		market.TransferItem("buyer", "X", market.ConfirmListing),
	})
	require.NoError(t, err)
	assert.Equal(t, []market.Confirmation{{
		Tag: market.ConfirmListing, ItemID: "X", Recipient: "buyer", Success: true,
	}}, confs)
}

func TestDispatch_FundsAttachedNeedBalance(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	require.NoError(t, w.ledger.MintItem("X", "seller"))
	w.ledger.Fund("buyer", denom, d(40))
	_, err := w.ledger.SendItem(ctx, w.host, "seller", "X", []byte(`{"new_listing":{"price":"100","tradeable":false}}`))
	require.NoError(t, err)

	_, err = w.host.Buy(ctx, market.Info{Sender: "buyer", Funds: coins(100)}, "X")
	require.ErrorIs(t, err, model.ErrDispatch)

	assert.Equal(t, self, w.owner(t, "X"))
	assert.Equal(t, uint64(1), w.count(t))
	assert.Zero(t, w.host.Pending())
	assert.True(t, w.ledger.NativeBalance("buyer", denom).Equal(d(40)))
}
