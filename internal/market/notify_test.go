package market_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/swapmarket/internal/market"
	"github.com/atmx/swapmarket/internal/model"
	"github.com/atmx/swapmarket/internal/store"
)

func TestInstantiate_Once(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(func(ctx context.Context, tx store.Tx) (*market.Response, error) {
		return e.engine.Instantiate(ctx, tx, "other-items", "other-tokens")
	})
	assert.ErrorIs(t, err, model.ErrConfigExists)

	cfg, err := e.st.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, itemRegistry, cfg.ItemRegistry)
	assert.Equal(t, tokenRegistry, cfg.TokenRegistry)
}

func TestReceiveItem_RejectsForeignCaller(t *testing.T) {
	e := newEnv(t)
	msg := json.RawMessage(`{"new_listing":{"price":"10","tradeable":false}}`)

	_, err := e.run(func(ctx context.Context, tx store.Tx) (*market.Response, error) {
		return e.engine.ReceiveItem(ctx, tx, tokenRegistry, market.ItemDeposit{Sender: "seller", ItemID: "X", Msg: msg})
	})
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	e.assertCounter(0)
}

func TestReceiveTokens_RejectsForeignCaller(t *testing.T) {
	e := newEnv(t)
	e.list("seller", "X", 100, false)
	msg := json.RawMessage(`{"buy":{"id":"X"}}`)

	_, err := e.run(func(ctx context.Context, tx store.Tx) (*market.Response, error) {
		return e.engine.ReceiveTokens(ctx, tx, "fake-token", market.TokenDeposit{Sender: "buyer", Amount: d(100), Msg: msg})
	})
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	e.assertCounter(1)
}

func TestReceiveItem_InvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		err  error
	}{
		{"empty", ``, model.ErrInvalidPayload},
		{"not json", `nope`, model.ErrInvalidPayload},
		{"no variant", `{}`, model.ErrInvalidPayload},
		{"both variants", `{"new_listing":{"price":"1","tradeable":true},"new_trade":{"target":"A"}}`, model.ErrInvalidPayload},
		{"unknown variant", `{"auction":{}}`, model.ErrInvalidPayload},
		{"negative price", `{"new_listing":{"price":"-5","tradeable":true}}`, model.ErrInvalidAmount},
		{"fractional price", `{"new_listing":{"price":"1.5","tradeable":true}}`, model.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			_, err := e.run(func(ctx context.Context, tx store.Tx) (*market.Response, error) {
				return e.engine.ReceiveItem(ctx, tx, itemRegistry, market.ItemDeposit{
					Sender: "seller", ItemID: "X", Msg: json.RawMessage(tt.msg),
				})
			})
			assert.ErrorIs(t, err, tt.err)
			e.assertCounter(0)
		})
	}
}

func TestReceiveTokens_InvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"no variant", `{}`},
		{"both variants", `{"buy":{"id":"X"},"offer":{"target":"X","offered_price":"5"}}`},
		{"unknown field", `{"buy":{"id":"X","extra":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			_, err := e.run(func(ctx context.Context, tx store.Tx) (*market.Response, error) {
				return e.engine.ReceiveTokens(ctx, tx, tokenRegistry, market.TokenDeposit{
					Sender: "buyer", Amount: d(5), Msg: json.RawMessage(tt.msg),
				})
			})
			assert.ErrorIs(t, err, model.ErrInvalidPayload)
		})
	}
}

func TestReceiveTokens_OfferAmountMustMatchDeposit(t *testing.T) {
	e := newEnv(t)
	_, err := e.sendTokens("bidder", 60, market.TokenInstruction{
		Offer: &market.OfferMsg{Target: "Y", OfferedPrice: d(50)},
	})
	assert.ErrorIs(t, err, model.ErrIncorrectPayment)

	offers, err := e.st.Offers(context.Background(), store.Page{})
	require.NoError(t, err)
	assert.Empty(t, offers)
}

func TestConfirm(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		tag       market.ConfirmTag
		operation string
	}{
		{market.ConfirmListing, "item listing"},
		{market.ConfirmTrade, "item trade"},
		{market.ConfirmOffer, "item price offer"},
	}
	for _, tt := range tests {
		t.Run(tt.tag.String(), func(t *testing.T) {
			resp, err := e.engine.Confirm(ctx, market.Confirmation{Tag: tt.tag, ItemID: "X", Recipient: "buyer", Success: true})
			require.NoError(t, err)
			op, _ := resp.Attr("operation")
			assert.Equal(t, tt.operation, op)
			outcome, _ := resp.Attr("outcome")
			assert.Equal(t, "confirmed", outcome)
			assert.Empty(t, resp.Effects)
		})
	}

	resp, err := e.engine.Confirm(ctx, market.Confirmation{Tag: market.ConfirmOffer, ItemID: "X", Error: "registry refused"})
	require.NoError(t, err)
	outcome, _ := resp.Attr("outcome")
	assert.Equal(t, "rejected", outcome)
	msg, ok := resp.Attr("error")
	assert.True(t, ok)
	assert.Equal(t, "registry refused", msg)

	for _, tag := range []market.ConfirmTag{market.ConfirmNone, 4, 99} {
		_, err := e.engine.Confirm(ctx, market.Confirmation{Tag: tag})
		assert.ErrorIs(t, err, model.ErrUnrecognizedConfirmation, "tag %d", tag)
	}
}

func TestQueries_FilterAfterWindow(t *testing.T) {
	e := newEnv(t)
	// Listing keys sort as a, b, c, d, e.
	e.list("alice", "a", 1, true)
	e.list("bob", "b", 1, true)
	e.list("alice", "c", 1, true)
	e.list("bob", "d", 1, true)
	e.list("alice", "e", 1, true)

	q := market.NewQueries(e.st)
	ctx := context.Background()

	n, err := q.ListingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)

	page, err := q.ListingsBySeller(ctx, "alice", store.Page{FromIndex: 0, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 1, "window [a b] holds a single alice listing")
	assert.Equal(t, "a", page[0].ItemID)

	page, err = q.ListingsBySeller(ctx, "alice", store.Page{FromIndex: 1, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].ItemID)

	all, err := q.AllListings(ctx, store.Page{FromIndex: 3})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "d", all[0].ItemID)

	empty, err := q.AllListings(ctx, store.Page{FromIndex: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestQueries_TradesAndOffers(t *testing.T) {
	e := newEnv(t)
	e.list("owner", "A", 100, true)
	e.list("owner", "B", 100, true)
	e.owners["t1"] = "trader1"
	e.owners["t2"] = "trader2"
	_, err := e.proposeTrade("trader1", "t1", "A")
	require.NoError(t, err)
	_, err = e.proposeTrade("trader2", "t2", "A")
	require.NoError(t, err)
	_, err = e.offerNative("bidder", "A", 10)
	require.NoError(t, err)
	_, err = e.offerNative("bidder", "B", 20)
	require.NoError(t, err)

	q := market.NewQueries(e.st)
	ctx := context.Background()

	tr, err := q.GetTrade(ctx, "A", "trader2")
	require.NoError(t, err)
	assert.Equal(t, "t2", tr.OfferedID)
	_, err = q.GetTrade(ctx, "B", "trader2")
	assert.ErrorIs(t, err, model.ErrNotFound)

	byItem, err := q.TradesByItem(ctx, "A", store.Page{})
	require.NoError(t, err)
	assert.Len(t, byItem, 2)

	byTrader, err := q.TradesByAddress(ctx, "trader1", store.Page{})
	require.NoError(t, err)
	require.Len(t, byTrader, 1)
	assert.Equal(t, "t1", byTrader[0].OfferedID)

	offers, err := q.OffersByAddress(ctx, "bidder", store.Page{})
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, "A", offers[0].AskedID)

	onB, err := q.OffersByItem(ctx, "B", store.Page{})
	require.NoError(t, err)
	require.Len(t, onB, 1)
	assert.True(t, onB[0].Amount.Equal(d(20)))

	o, err := q.GetOffer(ctx, "A", "bidder")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentNative, o.Kind)
}
