// Package registry holds the marketplace's collaborators at the boundary:
// the registries that own items, tokens and native balances and carry out
// the effects the marketplace dispatches.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/swapmarket/internal/host"
	"github.com/atmx/swapmarket/internal/market"
	"github.com/atmx/swapmarket/internal/model"
)

// Receiver is notified when assets are sent to the marketplace.
type Receiver interface {
	ReceiveItem(ctx context.Context, caller model.Address, d market.ItemDeposit) (*host.Receipt, error)
	ReceiveTokens(ctx context.Context, caller model.Address, d market.TokenDeposit) (*host.Receipt, error)
}

// Ledger is an in-process item registry, token registry and bank in one.
// Dispatched batches are validated in full against a scratch copy of the
// balances and only then applied.
type Ledger struct {
	self          model.Address
	itemRegistry  model.Address
	tokenRegistry model.Address

	mu     sync.Mutex
	items  map[string]model.Address
	tokens map[model.Address]decimal.Decimal
	native map[model.Address]map[string]decimal.Decimal
}

// NewLedger creates a ledger. self is the marketplace custody address; the
// registry addresses are the identities the ledger notifies under.
func NewLedger(self, itemRegistry, tokenRegistry model.Address) *Ledger {
	return &Ledger{
		self:          self,
		itemRegistry:  itemRegistry,
		tokenRegistry: tokenRegistry,
		items:         make(map[string]model.Address),
		tokens:        make(map[model.Address]decimal.Decimal),
		native:        make(map[model.Address]map[string]decimal.Decimal),
	}
}

// --- Minting ---

// MintItem creates itemID owned by owner.
func (l *Ledger) MintItem(itemID string, owner model.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.items[itemID]; ok {
		return fmt.Errorf("item %s already exists", itemID)
	}
	l.items[itemID] = owner
	return nil
}

// MintTokens credits amount registry tokens to addr.
func (l *Ledger) MintTokens(addr model.Address, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[addr] = l.tokens[addr].Add(amount)
}

// Fund credits amount of native denom to addr.
func (l *Ledger) Fund(addr model.Address, denom string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.native[addr] == nil {
		l.native[addr] = make(map[string]decimal.Decimal)
	}
	l.native[addr][denom] = l.native[addr][denom].Add(amount)
}

// --- Queries ---

// OwnerOf returns the current owner of itemID.
func (l *Ledger) OwnerOf(_ context.Context, itemID string) (model.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.items[itemID]
	if !ok {
		return "", fmt.Errorf("item %s: %w", itemID, model.ErrNotFound)
	}
	return owner, nil
}

// TokenBalance returns addr's registry token balance.
func (l *Ledger) TokenBalance(addr model.Address) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens[addr]
}

// NativeBalance returns addr's balance of denom.
func (l *Ledger) NativeBalance(addr model.Address, denom string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.native[addr][denom]
}

// --- Dispatch ---

// Dispatch applies a whole effect batch or none of it, and confirms every
// item transfer that asked for confirmation.
func (l *Ledger) Dispatch(_ context.Context, batchID string, effects []market.Effect) ([]market.Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.snapshot()
	var out []market.Confirmation
	for i, e := range effects {
		if err := next.apply(l.self, e); err != nil {
			return nil, fmt.Errorf("batch %s effect %d (%s): %w", batchID, i, e.Kind, err)
		}
		if e.Kind == market.EffectItemTransfer && e.Confirm != market.ConfirmNone {
			out = append(out, market.ConfirmationFor(e, nil))
		}
	}
	l.items, l.tokens, l.native = next.items, next.tokens, next.native
	return out, nil
}

// balances is a mutable copy of the ledger state.
type balances struct {
	items  map[string]model.Address
	tokens map[model.Address]decimal.Decimal
	native map[model.Address]map[string]decimal.Decimal
}

func (l *Ledger) snapshot() *balances {
	b := &balances{
		items:  make(map[string]model.Address, len(l.items)),
		tokens: make(map[model.Address]decimal.Decimal, len(l.tokens)),
		native: make(map[model.Address]map[string]decimal.Decimal, len(l.native)),
	}
	for k, v := range l.items {
		b.items[k] = v
	}
	for k, v := range l.tokens {
		b.tokens[k] = v
	}
	for addr, denoms := range l.native {
		m := make(map[string]decimal.Decimal, len(denoms))
		for d, v := range denoms {
			m[d] = v
		}
		b.native[addr] = m
	}
	return b
}

func (b *balances) apply(self model.Address, e market.Effect) error {
	switch e.Kind {
	case market.EffectItemTransfer:
		owner, ok := b.items[e.ItemID]
		if !ok {
			return fmt.Errorf("item %s: %w", e.ItemID, model.ErrNotFound)
		}
		if owner != self {
			return fmt.Errorf("item %s is held by %s, not custody", e.ItemID, owner)
		}
		b.items[e.ItemID] = e.Recipient
		return nil

	case market.EffectTokenTransfer:
		if err := model.ValidateAmount(e.Amount); err != nil {
			return err
		}
		if b.tokens[self].LessThan(e.Amount) {
			return fmt.Errorf("custody token balance %s below %s", b.tokens[self], e.Amount)
		}
		b.tokens[self] = b.tokens[self].Sub(e.Amount)
		b.tokens[e.Recipient] = b.tokens[e.Recipient].Add(e.Amount)
		return nil

	case market.EffectNativeSend:
		return b.moveNative(self, e.Recipient, e.Denom, e.Amount)

	case market.EffectFundsAttached:
		return b.moveNative(e.From, e.Recipient, e.Denom, e.Amount)
	}
	return fmt.Errorf("unknown effect kind %q", e.Kind)
}

func (b *balances) moveNative(from, to model.Address, denom string, amount decimal.Decimal) error {
	if err := model.ValidateAmount(amount); err != nil {
		return err
	}
	have := b.native[from][denom]
	if have.LessThan(amount) {
		return fmt.Errorf("%s holds %s%s, needs %s", from, have, denom, amount)
	}
	if b.native[from] == nil {
		b.native[from] = make(map[string]decimal.Decimal)
	}
	if b.native[to] == nil {
		b.native[to] = make(map[string]decimal.Decimal)
	}
	b.native[from][denom] = have.Sub(amount)
	b.native[to][denom] = b.native[to][denom].Add(amount)
	return nil
}

// --- Sending to the marketplace ---

// SendItem moves itemID from sender into custody and notifies r with msg.
// If the notification fails the item goes back to sender.
func (l *Ledger) SendItem(ctx context.Context, r Receiver, sender model.Address, itemID string, msg []byte) (*host.Receipt, error) {
	l.mu.Lock()
	owner, ok := l.items[itemID]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("item %s: %w", itemID, model.ErrNotFound)
	}
	if owner != sender {
		l.mu.Unlock()
		return nil, fmt.Errorf("item %s: %w", itemID, model.ErrUnauthorized)
	}
	l.items[itemID] = l.self
	l.mu.Unlock()

	rec, err := r.ReceiveItem(ctx, l.itemRegistry, market.ItemDeposit{Sender: sender, ItemID: itemID, Msg: msg})
	if err != nil {
		l.mu.Lock()
		if l.items[itemID] == l.self {
			l.items[itemID] = sender
		}
		l.mu.Unlock()
		return nil, err
	}
	return rec, nil
}

// SendTokens moves amount tokens from sender into custody and notifies r
// with msg. If the notification fails the tokens go back to sender.
func (l *Ledger) SendTokens(ctx context.Context, r Receiver, sender model.Address, amount decimal.Decimal, msg []byte) (*host.Receipt, error) {
	if err := model.ValidateAmount(amount); err != nil {
		return nil, err
	}
	l.mu.Lock()
	if l.tokens[sender].LessThan(amount) {
		l.mu.Unlock()
		return nil, fmt.Errorf("%s token balance %s below %s", sender, l.tokens[sender], amount)
	}
	l.tokens[sender] = l.tokens[sender].Sub(amount)
	l.tokens[l.self] = l.tokens[l.self].Add(amount)
	l.mu.Unlock()

	rec, err := r.ReceiveTokens(ctx, l.tokenRegistry, market.TokenDeposit{Sender: sender, Amount: amount, Msg: msg})
	if err != nil {
		l.mu.Lock()
		l.tokens[l.self] = l.tokens[l.self].Sub(amount)
		l.tokens[sender] = l.tokens[sender].Add(amount)
		l.mu.Unlock()
		return nil, err
	}
	return rec, nil
}
