package cart

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/cartsync/internal/catalog"
	"github.com/angelmondragon/cartsync/internal/notifications"
	"github.com/angelmondragon/cartsync/internal/session"
	"github.com/angelmondragon/cartsync/internal/stock"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"github.com/shopspring/decimal"
)

// Operation names used in logs, metrics and notifications.
const (
	OpInitialize    = "initialize"
	OpAddToCart     = "add_to_cart"
	OpRemoveLine    = "remove_from_cart"
	OpUpdateQty     = "update_quantity"
	OpClearCart     = "clear_cart"
	OpSessionChange = "session_change"
)

// Remote is the authoritative cart service. Mutations answer with the full
// server-side line list.
type Remote interface {
	GetCart(ctx context.Context, id session.Identity) ([]Line, error)
	AddItem(ctx context.Context, id session.Identity, productID ID, quantity int) ([]Line, error)
	RemoveItem(ctx context.Context, id session.Identity, lineID ID) ([]Line, error)
	UpdateQuantity(ctx context.Context, id session.Identity, lineID ID, quantity int) ([]Line, error)
	Clear(ctx context.Context, id session.Identity) error
}

// ProductLookup resolves products, usually through the product cache.
type ProductLookup interface {
	GetProductByID(ctx context.Context, id string) (*catalog.Product, error)
}

type productInvalidator interface {
	Invalidate(id string)
}

// SnapshotStore persists carts between runs. Load returns nil, nil when no
// snapshot exists.
type SnapshotStore interface {
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Delete(ctx context.Context, sessionID string) error
}

// EngineParams wires an Engine.
type EngineParams struct {
	Remote   Remote
	Products ProductLookup
	Ledger   *stock.Ledger
	Store    SnapshotStore
	Notifier notifications.Notifier
	Logger   *logger.Logger
	Metrics  *metrics.CartMetrics
	Clock    func() time.Time
}

// Engine owns the local view of one session's cart. Mutations run one at a
// time in request order; reads never block.
type Engine struct {
	remote   Remote
	products ProductLookup
	ledger   *stock.Ledger
	store    SnapshotStore
	notifier notifications.Notifier
	logg     *logger.Logger
	metrics  *metrics.CartMetrics
	now      func() time.Time

	queue    opQueue
	state    atomic.Pointer[Cart]
	identity atomic.Pointer[session.Identity]
	loading  atomic.Bool
}

func NewEngine(p EngineParams) (*Engine, error) {
	if p.Remote == nil {
		return nil, fmt.Errorf("remote cart service required")
	}
	if p.Products == nil {
		return nil, fmt.Errorf("product lookup required")
	}
	if p.Store == nil {
		return nil, fmt.Errorf("snapshot store required")
	}
	e := &Engine{
		remote:   p.Remote,
		products: p.Products,
		ledger:   p.Ledger,
		store:    p.Store,
		notifier: p.Notifier,
		logg:     p.Logger,
		metrics:  p.Metrics,
		now:      p.Clock,
	}
	if e.ledger == nil {
		e.ledger = stock.NewLedger()
	}
	if e.notifier == nil {
		e.notifier = notifications.Nop{}
	}
	if e.logg == nil {
		e.logg = logger.Nop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.state.Store(&Cart{Lines: []Line{}})
	e.identity.Store(&session.Identity{})
	return e, nil
}

// Cart returns a copy of the current cart.
func (e *Engine) Cart() Cart {
	return e.state.Load().clone()
}

// Lines returns a copy of the current lines in server order.
func (e *Engine) Lines() []Line {
	return cloneLines(e.state.Load().Lines)
}

// Total is the sum of quantity times unit price over the current lines.
func (e *Engine) Total() decimal.Decimal {
	return Total(e.state.Load().Lines)
}

// Count is the number of units in the cart.
func (e *Engine) Count() int {
	return Count(e.state.Load().Lines)
}

// Loading reports whether an operation is in flight.
func (e *Engine) Loading() bool {
	return e.loading.Load()
}

// Identity returns the session the cart currently belongs to.
func (e *Engine) Identity() session.Identity {
	return *e.identity.Load()
}

// Initialize loads the cart for id. Authenticated carts come from the cart
// service, anonymous ones from the snapshot store. On failure the cart is
// left empty.
func (e *Engine) Initialize(ctx context.Context, id session.Identity) error {
	if id.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	return e.run(ctx, OpInitialize, func(ctx context.Context) error {
		return e.load(ctx, OpInitialize, id)
	})
}

// AddToCart adds quantity units of a product. A quantity of zero means one.
// Nothing changes locally until the cart service confirms.
func (e *Engine) AddToCart(ctx context.Context, productID ID, quantity int) error {
	return e.run(ctx, OpAddToCart, func(ctx context.Context) error {
		if quantity == 0 {
			quantity = 1
		}
		if quantity < 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be at least 1")
		}
		if productID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		id, err := e.requireIdentity()
		if err != nil {
			return err
		}

		product, err := e.products.GetProductByID(ctx, productID.String())
		if err != nil {
			return err
		}
		if err := e.checkAvailable(productID.String(), product.AvailableStock, quantity); err != nil {
			return err
		}

		before := e.Cart()
		lines, err := e.remote.AddItem(ctx, id, productID, quantity)
		if err != nil {
			return err
		}
		e.commit(ctx, OpAddToCart, id, before, lines)
		return nil
	})
}

// RemoveFromCart removes a line. If the cart service still lists the line
// afterwards the call fails with CONFLICT and local state is kept.
func (e *Engine) RemoveFromCart(ctx context.Context, lineID ID) error {
	return e.run(ctx, OpRemoveLine, func(ctx context.Context) error {
		if lineID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "line id is required")
		}
		id, err := e.requireIdentity()
		if err != nil {
			return err
		}

		before := e.Cart()
		lines, err := e.remote.RemoveItem(ctx, id, lineID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if line.ID == lineID {
				return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("line %s still present after removal", lineID)).
					WithDetails(map[string]any{"line_id": lineID.String()})
			}
		}
		e.commit(ctx, OpRemoveLine, id, before, lines)
		return nil
	})
}

// UpdateQuantity sets the quantity of an existing line. The unit price in
// the answer of the cart service wins over the local one.
func (e *Engine) UpdateQuantity(ctx context.Context, lineID ID, quantity int) error {
	return e.run(ctx, OpUpdateQty, func(ctx context.Context) error {
		if quantity < 1 {
			return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be at least 1")
		}
		id, err := e.requireIdentity()
		if err != nil {
			return err
		}

		before := e.Cart()
		line, ok := before.Line(lineID)
		if !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("cart line %s not found", lineID))
		}
		if extra := quantity - line.Quantity; extra > 0 {
			if available, tracked := e.ledger.Available(line.ProductID.String()); tracked && extra > available {
				return outOfStock(line.ProductID.String(), extra, available)
			}
		}

		lines, err := e.remote.UpdateQuantity(ctx, id, lineID, quantity)
		if err != nil {
			return err
		}
		e.commit(ctx, OpUpdateQty, id, before, lines)
		return nil
	})
}

// ClearCart empties the cart and drops its snapshot. Clearing an empty cart succeeds.
func (e *Engine) ClearCart(ctx context.Context) error {
	return e.run(ctx, OpClearCart, func(ctx context.Context) error {
		id, err := e.requireIdentity()
		if err != nil {
			return err
		}
		before := e.Cart()
		if err := e.remote.Clear(ctx, id); err != nil {
			return err
		}
		e.commit(ctx, OpClearCart, id, before, []Line{})
		return nil
	})
}

// Details joins every line with its product for display. A product that
// cannot be resolved is logged and flagged Missing; it never fails the call.
func (e *Engine) Details(ctx context.Context) ([]LineDetail, error) {
	lines := e.Lines()
	out := make([]LineDetail, 0, len(lines))
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		detail := LineDetail{Line: line, Subtotal: line.Subtotal()}
		product, err := e.products.GetProductByID(ctx, line.ProductID.String())
		if err != nil || product == nil {
			detail.Missing = true
			logCtx := e.logg.WithFields(ctx, map[string]any{
				"line_id":    line.ID.String(),
				"product_id": line.ProductID.String(),
			})
			e.logg.Warn(logCtx, fmt.Sprintf("cart line references unresolvable product: %v", err))
		} else {
			detail.ProductName = product.Name
		}
		out = append(out, detail)
	}
	return out, nil
}

// OnSessionChange follows identity transitions. The previous session's
// snapshot is dropped. An authenticated next session is loaded from the
// cart service; an anonymous one starts empty. Carts are never merged.
func (e *Engine) OnSessionChange(ctx context.Context, prev, next session.Identity) error {
	if next.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	return e.run(ctx, OpSessionChange, func(ctx context.Context) error {
		if prev.SessionID != "" && prev.SessionID != next.SessionID {
			if err := e.store.Delete(ctx, prev.SessionID); err != nil {
				e.metrics.IncSnapshotError("delete")
				e.logg.Error(e.logg.WithSessionID(ctx, prev.SessionID), "failed to delete previous cart snapshot", err)
			}
		}
		e.ledger.Reset()

		if next.Authenticated {
			return e.load(ctx, OpSessionChange, next)
		}
		e.install(ctx, OpSessionChange, next, []Line{})
		return nil
	})
}

func (e *Engine) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	started := e.now()
	if err := e.queue.acquire(ctx); err != nil {
		return e.fail(ctx, op, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cart operation not started"))
	}
	defer e.queue.release()
	e.loading.Store(true)
	defer e.loading.Store(false)

	ctx = e.logg.WithOperation(ctx, op)
	if id := e.Identity(); !id.IsZero() {
		ctx = e.logg.WithSessionID(ctx, id.SessionID)
	}

	err := fn(ctx)
	e.metrics.ObserveDuration(op, e.now().Sub(started))
	if err != nil {
		return e.fail(ctx, op, err)
	}
	e.metrics.IncSuccess(op)
	return nil
}

func (e *Engine) fail(ctx context.Context, op string, err error) error {
	code := pkgerrors.CodeOf(err)
	e.metrics.IncFailure(op, string(code))
	if pkgerrors.MetadataFor(code).Retryable {
		e.logg.Error(ctx, "cart operation failed", err)
	} else {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "cart operation rejected")
	}
	e.notifier.Failed(ctx, notifications.FailureEvent(e.Identity().SessionID, op, err))
	return err
}

// load replaces the cart with the one stored for id. Must run inside the queue.
func (e *Engine) load(ctx context.Context, op string, id session.Identity) error {
	e.identity.Store(&id)

	var (
		lines []Line
		err   error
	)
	if id.Authenticated {
		lines, err = e.remote.GetCart(ctx, id)
	} else {
		lines, err = e.loadSnapshot(ctx, id.SessionID)
	}
	if err != nil {
		e.install(ctx, "", id, []Line{})
		return err
	}
	e.install(ctx, op, id, lines)
	if id.Authenticated {
		e.persist(ctx, e.Cart())
	}
	return nil
}

func (e *Engine) loadSnapshot(ctx context.Context, sessionID string) ([]Line, error) {
	snap, err := e.store.Load(ctx, sessionID)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeInternal) {
			// Unreadable payload: drop it and start empty.
			e.metrics.IncSnapshotError("decode")
			e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "discarding unreadable cart snapshot")
			if delErr := e.store.Delete(ctx, sessionID); delErr != nil {
				e.metrics.IncSnapshotError("delete")
			}
			return []Line{}, nil
		}
		e.metrics.IncSnapshotError("load")
		return nil, err
	}
	if snap == nil {
		return []Line{}, nil
	}
	return snap.Lines, nil
}

// install publishes lines as the cart of id without touching the stock
// ledger deltas. An empty op skips the change notification.
func (e *Engine) install(ctx context.Context, op string, id session.Identity, lines []Line) {
	e.identity.Store(&id)
	next := &Cart{SessionID: id.SessionID, Lines: cloneLines(lines), LastSyncedAt: e.now().UTC()}
	e.state.Store(next)
	e.ledger.Rebuild(quantitiesByProduct(next.Lines))
	e.metrics.SetCartSize(len(next.Lines), next.Count())
	if op != "" {
		e.notifier.Changed(ctx, notifications.ChangeEvent(id.SessionID, op, next.Count(), next.Total()))
	}
}

// commit publishes the confirmed server lines, writes the snapshot through
// and moves stock by the per-product difference.
func (e *Engine) commit(ctx context.Context, op string, id session.Identity, before Cart, lines []Line) {
	next := &Cart{SessionID: id.SessionID, Lines: cloneLines(lines), LastSyncedAt: e.now().UTC()}
	e.state.Store(next)
	e.metrics.SetCartSize(len(next.Lines), next.Count())
	e.persist(ctx, *next)
	e.adjustStock(ctx, before.Lines, next.Lines)
	e.notifier.Changed(ctx, notifications.ChangeEvent(id.SessionID, op, next.Count(), next.Total()))
}

// persist is best effort: the cart service already holds the truth, so a
// failed write is logged and counted but does not fail the operation.
func (e *Engine) persist(ctx context.Context, c Cart) {
	if len(c.Lines) == 0 {
		if err := e.store.Delete(ctx, c.SessionID); err != nil {
			e.metrics.IncSnapshotError("delete")
			e.logg.Error(ctx, "failed to delete cart snapshot", err)
		}
		return
	}
	if err := e.store.Save(ctx, NewSnapshot(c, e.now())); err != nil {
		e.metrics.IncSnapshotError("save")
		e.logg.Error(ctx, "failed to save cart snapshot", err)
	}
}

func (e *Engine) adjustStock(ctx context.Context, before, after []Line) {
	deltas := quantityDeltas(before, after)
	productIDs := make([]string, 0, len(deltas))
	for productID := range deltas {
		productIDs = append(productIDs, productID)
	}
	sort.Strings(productIDs)

	for _, productID := range productIDs {
		delta := deltas[productID]
		if delta < 0 {
			if _, err := e.ledger.Restore(productID, -delta); err != nil && !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
				e.logg.Warn(e.logg.WithField(ctx, "product_id", productID), err.Error())
			}
			continue
		}
		if _, tracked := e.ledger.Available(productID); !tracked {
			product, err := e.products.GetProductByID(ctx, productID)
			if err != nil {
				continue
			}
			e.ledger.Seed(productID, product.AvailableStock)
		}
		if _, err := e.ledger.Decrement(productID, delta); err != nil {
			// The cart service accepted more than we believed was left, so
			// our view is stale. Drop it and reseed on next access.
			e.ledger.Forget(productID)
			if inv, ok := e.products.(productInvalidator); ok {
				inv.Invalidate(productID)
			}
			e.logg.Warn(e.logg.WithField(ctx, "product_id", productID), "stock ledger out of date, dropped")
		}
	}
}

func (e *Engine) checkAvailable(productID string, productStock, quantity int) error {
	e.ledger.Seed(productID, productStock)
	available, tracked := e.ledger.Available(productID)
	if !tracked {
		available = productStock
	}
	if quantity > available {
		return outOfStock(productID, quantity, available)
	}
	return nil
}

func (e *Engine) requireIdentity() (session.Identity, error) {
	id := e.Identity()
	if id.IsZero() {
		return session.Identity{}, pkgerrors.New(pkgerrors.CodeValidation, "cart is not initialized")
	}
	return id, nil
}

func outOfStock(productID string, requested, available int) error {
	return pkgerrors.New(pkgerrors.CodeOutOfStock, fmt.Sprintf("product %s: requested %d, available %d", productID, requested, available)).
		WithDetails(map[string]any{"product_id": productID, "requested": requested, "available": available})
}
