// Package host runs marketplace operations one at a time. Each execution
// stages its writes in a store transaction, hands the resulting effect
// batch to a Dispatcher and commits only if the whole batch was accepted.
//
// Deferred confirmations returned by the dispatcher are queued and handled
// later as executions of their own.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/swapmarket/internal/market"
	"github.com/atmx/swapmarket/internal/metrics"
	"github.com/atmx/swapmarket/internal/model"
	"github.com/atmx/swapmarket/internal/store"
)

// Dispatcher delivers an effect batch to the registries. It applies all of
// the batch or none of it, and returns any confirmations it can produce
// immediately. Registries that confirm asynchronously return none and
// deliver them through Host.Confirm.
type Dispatcher interface {
	Dispatch(ctx context.Context, batchID string, effects []market.Effect) ([]market.Confirmation, error)
}

// Publisher receives every committed execution. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// Operation is one marketplace handler bound to its arguments.
type Operation func(ctx context.Context, tx store.Tx) (*market.Response, error)

// Receipt describes a committed execution.
type Receipt struct {
	BatchID    string             `json:"batch_id,omitempty"`
	Action     string             `json:"action"`
	Attributes []market.Attribute `json:"attributes"`
	Effects    []market.Effect    `json:"effects"`
}

// Attr returns the first attribute value under key.
func (r *Receipt) Attr(key string) (string, bool) {
	return market.LookupAttr(r.Attributes, key)
}

// Event is a Receipt as pushed to subscribers.
type Event struct {
	Type string    `json:"type"` // "operation" or "confirmation"
	At   time.Time `json:"at"`
	Receipt
}

// Host serializes executions against a single store. Use one Host per
// store; a second Host over the same store would break the ordering
// guarantees.
type Host struct {
	store      store.Store
	engine     *market.Engine
	dispatcher Dispatcher
	publisher  Publisher // optional

	mu      sync.Mutex
	pending []market.Confirmation
}

// New creates a host. Pass nil for pub if no event stream is needed.
func New(st store.Store, engine *market.Engine, d Dispatcher, pub Publisher) *Host {
	return &Host{store: st, engine: engine, dispatcher: d, publisher: pub}
}

// Engine returns the engine operations are run against.
func (h *Host) Engine() *market.Engine { return h.engine }

// Execute runs op under info. Funds attached in info are moved into
// custody as the head of the dispatched batch, so they move only if the
// operation succeeds.
func (h *Host) Execute(ctx context.Context, action string, info market.Info, op Operation) (*Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	rec, err := h.execute(ctx, info, op)
	metrics.OperationLatency.WithLabelValues(action).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OperationsTotal.WithLabelValues(action, "error").Inc()
		slog.Info("operation rejected", "action", action, "sender", info.Sender.String(), "err", err)
		return nil, err
	}
	metrics.OperationsTotal.WithLabelValues(action, "ok").Inc()

	args := []any{"action", rec.Action, "sender", info.Sender.String(), "effects", len(rec.Effects)}
	if rec.BatchID != "" {
		args = append(args, "batch", rec.BatchID)
	}
	for _, a := range rec.Attributes {
		args = append(args, a.Key, a.Value)
	}
	slog.Info("operation committed", args...)

	h.publish("operation", rec)
	return rec, nil
}

func (h *Host) execute(ctx context.Context, info market.Info, op Operation) (*Receipt, error) {
	tx, err := h.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	resp, err := op(ctx, tx)
	if err != nil {
		return nil, err
	}

	effects := append(h.engine.AttachedFunds(info), resp.Effects...)
	rec := &Receipt{Action: resp.Action, Attributes: resp.Attributes, Effects: effects}

	var confirmations []market.Confirmation
	if len(effects) > 0 {
		rec.BatchID = uuid.NewString()
		confirmations, err = h.dispatcher.Dispatch(ctx, rec.BatchID, effects)
		if err != nil {
			metrics.DispatchFailures.Inc()
			slog.Warn("dispatch failed", "action", resp.Action, "batch", rec.BatchID, "err", err)
			return nil, fmt.Errorf("%w: %w", model.ErrDispatch, err)
		}
		for _, e := range effects {
			metrics.EffectsDispatched.WithLabelValues(string(e.Kind)).Inc()
		}
	}

	if err := tx.Commit(ctx); err != nil {
		// The registries already applied the batch; nothing can take it back.
		metrics.CommitFailures.Inc()
		slog.Error("commit failed after dispatch", "action", resp.Action, "batch", rec.BatchID, "err", err)
		return nil, fmt.Errorf("commit: %w", err)
	}

	h.pending = append(h.pending, confirmations...)
	metrics.PendingConfirmations.Set(float64(len(h.pending)))
	if n, err := h.store.ListingCount(ctx); err == nil {
		metrics.ActiveListings.Set(float64(n))
	}
	return rec, nil
}

// Confirm handles one confirmation delivered by an asynchronous registry.
func (h *Host) Confirm(ctx context.Context, c market.Confirmation) (*Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.confirm(ctx, c)
}

func (h *Host) confirm(ctx context.Context, c market.Confirmation) (*Receipt, error) {
	resp, err := h.engine.Confirm(ctx, c)
	if err != nil {
		metrics.Confirmations.WithLabelValues(c.Tag.String(), "unrecognized").Inc()
		slog.Warn("confirmation rejected", "tag", uint64(c.Tag), "item", c.ItemID, "err", err)
		return nil, err
	}

	outcome, _ := resp.Attr("outcome")
	metrics.Confirmations.WithLabelValues(c.Tag.String(), outcome).Inc()
	if c.Success {
		slog.Info("transfer confirmed", "tag", c.Tag.String(), "item", c.ItemID, "recipient", c.Recipient.String())
	} else {
		slog.Error("transfer failed after commit", "tag", c.Tag.String(), "item", c.ItemID,
			"recipient", c.Recipient.String(), "err", c.Error)
	}

	rec := &Receipt{Action: resp.Action, Attributes: resp.Attributes, Effects: resp.Effects}
	h.publish("confirmation", rec)
	return rec, nil
}

// Drain handles every queued confirmation in the order it was queued.
// Confirmations that fail are dropped and their errors joined.
func (h *Host) Drain(ctx context.Context) ([]*Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var (
		out  []*Receipt
		errs []error
	)
	for len(h.pending) > 0 {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		c := h.pending[0]
		h.pending = h.pending[1:]
		rec, err := h.confirm(ctx, c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, rec)
	}
	metrics.PendingConfirmations.Set(float64(len(h.pending)))
	return out, errors.Join(errs...)
}

// Pending returns the number of queued confirmations.
func (h *Host) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Run drains the confirmation queue every interval until ctx is done.
func (h *Host) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.Drain(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("drain confirmations", "err", err)
			}
		}
	}
}

func (h *Host) publish(typ string, rec *Receipt) {
	if h.publisher == nil {
		return
	}
	h.publisher.Publish(Event{Type: typ, At: time.Now().UTC(), Receipt: *rec})
}
