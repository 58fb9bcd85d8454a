package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/atmx/swapmarket/internal/market"
	"github.com/atmx/swapmarket/internal/metrics"
	"github.com/atmx/swapmarket/internal/model"
)

// Gateway talks to an external settlement gateway fronting the item and
// token registries. Batches are submitted whole; the gateway reports
// transfer confirmations later through the marketplace's webhook.
type Gateway struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewGateway creates a gateway client limited to rps requests per second.
func NewGateway(baseURL string, rps float64, timeout time.Duration) *Gateway {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// OwnerOf asks the gateway who owns itemID.
func (g *Gateway) OwnerOf(ctx context.Context, itemID string) (model.Address, error) {
	body, status, err := g.do(ctx, "owner", http.MethodGet, "/v1/items/"+url.PathEscape(itemID)+"/owner", nil)
	if err != nil {
		return "", err
	}
	switch {
	case status == http.StatusNotFound:
		return "", fmt.Errorf("item %s: %w", itemID, model.ErrNotFound)
	case status != http.StatusOK:
		return "", fmt.Errorf("owner of %s: gateway status %d: %s", itemID, status, gatewayError(body))
	}

	owner := gjson.GetBytes(body, "owner")
	if owner.Type != gjson.String || owner.Str == "" {
		return "", fmt.Errorf("owner of %s: malformed gateway response", itemID)
	}
	return model.Address(owner.Str), nil
}

type batchRequest struct {
	ID      string          `json:"id"`
	Effects []market.Effect `json:"effects"`
}

// Dispatch submits the batch. The gateway must accept or reject it as a
// whole; confirmations are never returned synchronously.
func (g *Gateway) Dispatch(ctx context.Context, batchID string, effects []market.Effect) ([]market.Confirmation, error) {
	payload, err := json.Marshal(batchRequest{ID: batchID, Effects: effects})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	body, status, err := g.do(ctx, "batches", http.MethodPost, "/v1/batches", payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("batch %s: gateway status %d: %s", batchID, status, gatewayError(body))
	}

	res := gjson.GetManyBytes(body, "accepted", "id")
	if !res[0].Bool() {
		return nil, fmt.Errorf("batch %s rejected: %s", batchID, gatewayError(body))
	}
	if id := res[1].String(); id != "" && id != batchID {
		return nil, fmt.Errorf("batch %s acknowledged as %s", batchID, id)
	}
	return nil, nil
}

func (g *Gateway) do(ctx context.Context, endpoint, method, path string, payload []byte) ([]byte, int, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("gateway rate limit: %w", err)
	}

	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rd)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, 0, fmt.Errorf("gateway %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	metrics.GatewayRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("gateway %s: read body: %w", endpoint, err)
	}
	return body, resp.StatusCode, nil
}

func gatewayError(body []byte) string {
	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return msg.String()
	}
	return strings.TrimSpace(string(body))
}
