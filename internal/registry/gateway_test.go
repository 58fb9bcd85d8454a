package registry_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/swapmarket/internal/market"
	"github.com/atmx/swapmarket/internal/model"
	"github.com/atmx/swapmarket/internal/registry"
)

type fakeGateway struct {
	owners  map[string]string
	batches []map[string]any
	reject  string
}

func (f *fakeGateway) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/items/{itemID}/owner", func(w http.ResponseWriter, r *http.Request) {
		owner, ok := f.owners[chi.URLParam(r, "itemID")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"unknown item"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"owner": owner})
	})
	r.Post("/v1/batches", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.batches = append(f.batches, body)
		if f.reject != "" {
			json.NewEncoder(w).Encode(map[string]any{"id": body["id"], "accepted": false, "error": f.reject})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": body["id"], "accepted": true})
	})
	return r
}

func newGateway(t *testing.T, f *fakeGateway) *registry.Gateway {
	t.Helper()
	srv := httptest.NewServer(f.router())
	t.Cleanup(srv.Close)
	return registry.NewGateway(srv.URL+"/", 100, 5*time.Second)
}

func TestGateway_OwnerOf(t *testing.T) {
	g := newGateway(t, &fakeGateway{owners: map[string]string{"item 1": "alice"}})
	ctx := context.Background()

	owner, err := g.OwnerOf(ctx, "item 1")
	require.NoError(t, err)
	assert.Equal(t, model.Address("alice"), owner)

	_, err = g.OwnerOf(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGateway_DispatchSendsWholeBatch(t *testing.T) {
	f := &fakeGateway{}
	g := newGateway(t, f)

	effects := []market.Effect{
		{Kind: market.EffectNativeSend, Recipient: "seller", Amount: d(100), Denom: denom},
		market.TransferItem("buyer", "X", market.ConfirmListing),
	}
	confs, err := g.Dispatch(context.Background(), "batch-1", effects)
	require.NoError(t, err)
	assert.Empty(t, confs, "gateway confirmations arrive through the webhook")

	require.Len(t, f.batches, 1)
	assert.Equal(t, "batch-1", f.batches[0]["id"])
	sent, ok := f.batches[0]["effects"].([]any)
	require.True(t, ok)
	require.Len(t, sent, 2)
	first := sent[0].(map[string]any)
	assert.Equal(t, "native_send", first["kind"])
	assert.Equal(t, "100", first["amount"])
	second := sent[1].(map[string]any)
	assert.Equal(t, "X", second["item_id"])
	assert.EqualValues(t, 1, second["confirm"])
}

func TestGateway_DispatchRejected(t *testing.T) {
	g := newGateway(t, &fakeGateway{reject: "insufficient custody balance"})

	_, err := g.Dispatch(context.Background(), "batch-2", []market.Effect{
		market.TransferItem("buyer", "X", market.ConfirmNone),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient custody balance")
}

func TestGateway_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	g := registry.NewGateway(srv.URL, 100, time.Second)

	_, err := g.Dispatch(context.Background(), "batch-3", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestGateway_RateLimitHonorsContext(t *testing.T) {
	g := registry.NewGateway("http://127.0.0.1:0", 0.001, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.OwnerOf(ctx, "X")
	assert.Error(t, err)
}
