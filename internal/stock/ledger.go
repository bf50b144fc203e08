package stock

import (
	"fmt"
	"sort"
	"sync"

	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
)

// Entry is the ledger view of one product.
type Entry struct {
	ProductID string
	Available int
	Reserved  int
}

// ChangeHook runs after a successful decrement or restore, outside the ledger lock.
type ChangeHook func(productID string)

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithChangeHook registers a hook fired after stock changes for a product.
func WithChangeHook(fn ChangeHook) LedgerOption {
	return func(l *Ledger) {
		if fn != nil {
			l.hooks = append(l.hooks, fn)
		}
	}
}

// Ledger tracks the last known available quantity per product along with
// the quantity this session holds in its cart. It performs no deduplication:
// every call to Decrement or Restore is applied.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*Entry
	hooks   []ChangeHook
}

func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{entries: make(map[string]*Entry)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Seed records the available stock for a product the first time it is seen.
// It reports whether the value was stored.
func (l *Ledger) Seed(productID string, available int) bool {
	if available < 0 {
		available = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[productID]; ok {
		return false
	}
	l.entries[productID] = &Entry{ProductID: productID, Available: available}
	return true
}

// Set overwrites the available stock for a product, keeping its reservation.
func (l *Ledger) Set(productID string, available int) {
	if available < 0 {
		available = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.entries[productID]; ok {
		entry.Available = available
		return
	}
	l.entries[productID] = &Entry{ProductID: productID, Available: available}
}

// Available returns the tracked stock for a product.
func (l *Ledger) Available(productID string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[productID]
	if !ok {
		return 0, false
	}
	return entry.Available, true
}

// Decrement takes quantity units out of the available stock and returns the
// new level. A request larger than the current stock fails with OUT_OF_STOCK
// and leaves the stock unchanged.
func (l *Ledger) Decrement(productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "decrement quantity must be positive")
	}

	l.mu.Lock()
	entry, ok := l.entries[productID]
	if !ok {
		l.mu.Unlock()
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no stock tracked for product %s", productID))
	}
	if quantity > entry.Available {
		available := entry.Available
		l.mu.Unlock()
		return available, pkgerrors.New(pkgerrors.CodeOutOfStock, fmt.Sprintf("product %s: requested %d, available %d", productID, quantity, available)).
			WithDetails(map[string]any{"product_id": productID, "requested": quantity, "available": available})
	}
	entry.Available -= quantity
	entry.Reserved += quantity
	remaining := entry.Available
	l.mu.Unlock()

	l.fire(productID)
	return remaining, nil
}

// Restore returns quantity units to the available stock and returns the new level.
func (l *Ledger) Restore(productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "restore quantity must be positive")
	}

	l.mu.Lock()
	entry, ok := l.entries[productID]
	if !ok {
		l.mu.Unlock()
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no stock tracked for product %s", productID))
	}
	entry.Available += quantity
	entry.Reserved -= quantity
	if entry.Reserved < 0 {
		entry.Reserved = 0
	}
	available := entry.Available
	l.mu.Unlock()

	l.fire(productID)
	return available, nil
}

// Forget drops a product so the next lookup seeds it again.
func (l *Ledger) Forget(productID string) {
	l.mu.Lock()
	delete(l.entries, productID)
	l.mu.Unlock()
}

// Rebuild resets reservations from the cart contents. Available stock is kept.
func (l *Ledger) Rebuild(reserved map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		entry.Reserved = 0
	}
	for productID, qty := range reserved {
		if entry, ok := l.entries[productID]; ok {
			entry.Reserved = qty
		}
	}
}

// Reset drops every entry.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.entries = make(map[string]*Entry)
	l.mu.Unlock()
}

// Entries returns a copy of the ledger sorted by product id.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	out := make([]Entry, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, *entry)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (l *Ledger) fire(productID string) {
	for _, hook := range l.hooks {
		hook(productID)
	}
}
