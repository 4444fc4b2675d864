// Package inventory implements the per-product reservation engine:
// at-most-once reservation of stock per session with TTL expiry,
// allocation-on-commit, and concurrent-writer safety.
//
// Locking is a sync.Map of per-key *sync.Mutex acquired with
// LoadOrStore, keyed by product id so concurrent reserves on distinct
// products never contend.
package inventory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/stateset/agentic-checkout/internal/apierr"
	"github.com/stateset/agentic-checkout/internal/metrics"
)

// Status is a reservation's lifecycle state. Terminal on commit,
// release, or expiry; never resurrected.
type Status string

const (
	Held      Status = "held"
	Committed Status = "committed"
	Released  Status = "released"
	Expired   Status = "expired"
)

// Reservation is held per (product_id, session_id); a session may
// hold more than one reservation for the same product (additive).
type Reservation struct {
	ID        string
	ProductID string
	SessionID string
	Quantity  int64
	ExpiresAt time.Time
	Status    Status
	CreatedAt time.Time
}

// CatalogStore is the slice of the product catalog the engine needs:
// on-hand lookup for availability math and the on_hand deduction that
// commit performs.
type CatalogStore interface {
	OnHand(ctx context.Context, productID string) (int64, error)
	AdjustOnHand(ctx context.Context, productID string, delta int64) error
}

// Engine is the inventory reservation engine's public contract:
// reserve, release, commit, sweep.
type Engine struct {
	store        *MemoryStore
	catalog      CatalogStore
	productLocks sync.Map // productID -> *sync.Mutex
	logger       *slog.Logger
}

// New builds an Engine over an in-memory reservation store.
func New(catalog CatalogStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: NewMemoryStore(), catalog: catalog, logger: logger}
}

func (e *Engine) lockFor(productID string) *sync.Mutex {
	v, _ := e.productLocks.LoadOrStore(productID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// HeldQuantity implements catalog.Availability: the sum of
// not-yet-expired held reservation quantities for productID. Used by
// the catalog's CheckAvailable so stock math lives in one place.
func (e *Engine) HeldQuantity(productID string) int64 {
	var total int64
	for _, r := range e.store.listByProduct(productID) {
		if r.Status == Held && r.ExpiresAt.After(time.Now()) {
			total += r.Quantity
		}
	}
	return total
}

// HeldQuantityForSession sums sessionID's held (non-expired) quantity
// for productID. The checkout session's update diffing does not call
// it; it compares old and new line quantities instead.
func (e *Engine) HeldQuantityForSession(sessionID, productID string) int64 {
	var total int64
	now := time.Now()
	for _, r := range e.store.listBySessionProduct(sessionID, productID) {
		if r.Status == Held && r.ExpiresAt.After(now) {
			total += r.Quantity
		}
	}
	return total
}

// Reserve acquires the per-product scope, lazily expires stale holds,
// computes availability, and appends a new held reservation if
// there's room.
func (e *Engine) Reserve(ctx context.Context, sessionID, productID string, qty int64, ttl time.Duration) (Reservation, error) {
	if qty <= 0 {
		return Reservation{}, apierr.Invalid("invalid_quantity", "quantity must be positive", "quantity")
	}

	lock := e.lockFor(productID)
	lock.Lock()
	defer lock.Unlock()

	onHand, err := e.catalog.OnHand(ctx, productID)
	if err != nil {
		metrics.ReservationsTotal.WithLabelValues("not_found").Inc()
		return Reservation{}, err
	}

	now := time.Now()
	if expired := e.store.expireStaleLocked(productID, now); expired > 0 {
		metrics.ReservationsExpired.Add(float64(expired))
		metrics.ActiveReservations.Sub(float64(expired))
	}

	held := int64(0)
	for _, r := range e.store.listByProduct(productID) {
		if r.Status == Held {
			held += r.Quantity
		}
	}

	available := onHand - held
	if available < qty {
		metrics.ReservationsTotal.WithLabelValues("insufficient_stock").Inc()
		return Reservation{}, apierr.InsufficientStockf("insufficient_stock", "not enough stock available")
	}

	res := Reservation{
		ID:        reservationID(),
		ProductID: productID,
		SessionID: sessionID,
		Quantity:  qty,
		ExpiresAt: now.Add(ttl),
		Status:    Held,
		CreatedAt: now,
	}
	e.store.create(res)
	metrics.ReservationsTotal.WithLabelValues("reserved").Inc()
	metrics.ActiveReservations.Inc()
	return res, nil
}

// Release releases every held reservation for sessionID. Idempotent:
// releasing a session with no held reservations is a no-op success.
func (e *Engine) Release(ctx context.Context, sessionID string) error {
	for _, productID := range e.store.productsForSession(sessionID) {
		lock := e.lockFor(productID)
		lock.Lock()
		for _, r := range e.store.listBySessionProduct(sessionID, productID) {
			if r.Status == Held {
				e.store.setStatus(r.ID, Released)
				metrics.ActiveReservations.Dec()
			}
		}
		lock.Unlock()
	}
	return nil
}

// ReleaseProduct releases only sessionID's held reservations for
// productID, leaving reservations for the session's other products
// untouched. Used by the checkout session's update diffing, which
// must release removed/decreased lines before reserving increases
// without disturbing lines that didn't change.
func (e *Engine) ReleaseProduct(ctx context.Context, sessionID, productID string) error {
	lock := e.lockFor(productID)
	lock.Lock()
	defer lock.Unlock()
	for _, r := range e.store.listBySessionProduct(sessionID, productID) {
		if r.Status == Held {
			e.store.setStatus(r.ID, Released)
			metrics.ActiveReservations.Dec()
		}
	}
	return nil
}

// Commit transitions all held reservations for sessionID to committed
// and deducts quantity from each product's on_hand. It is atomic
// across the whole session: if any product has vanished from the
// catalog, the whole commit aborts and every reservation is left
// held so the caller can retry, release, or alert.
//
// Re-committing an already-committed session, and committing a
// session with zero held reservations, are both no-op successes.
func (e *Engine) Commit(ctx context.Context, sessionID string) error {
	products := e.store.productsForSession(sessionID)
	if len(products) == 0 {
		return nil
	}
	sort.Strings(products) // consistent lock order across products, deadlock-free

	var locks []*sync.Mutex
	for _, p := range products {
		l := e.lockFor(p)
		l.Lock()
		locks = append(locks, l)
	}
	defer func() {
		for _, l := range locks {
			l.Unlock()
		}
	}()

	pending := make(map[string][]Reservation) // productID -> held reservations to commit
	alreadyCommitted := true
	for _, p := range products {
		held := e.store.listBySessionProduct(sessionID, p)
		for _, r := range held {
			if r.Status == Committed {
				continue
			}
			if r.Status != Held {
				continue
			}
			alreadyCommitted = false
			pending[p] = append(pending[p], r)
		}
	}
	if alreadyCommitted {
		return nil
	}

	// Verify every product still exists before mutating anything.
	for p := range pending {
		if _, err := e.catalog.OnHand(ctx, p); err != nil {
			return err
		}
	}

	for p, reservations := range pending {
		var total int64
		for _, r := range reservations {
			total += r.Quantity
			e.store.setStatus(r.ID, Committed)
			metrics.ActiveReservations.Dec()
		}
		if total > 0 {
			if err := e.catalog.AdjustOnHand(ctx, p, -total); err != nil {
				// Funds-equivalent: on_hand already partially adjusted for
				// earlier products in this loop. The caller (settlement
				// pipeline) surfaces this as an internal error; manual
				// reconciliation is required since we cannot safely unwind
				// sibling products' on_hand without another vanished-product
				// race.
				e.logger.Error("inventory commit: on_hand adjustment failed after status transition",
					"session_id", sessionID, "product_id", p, "error", err)
				return apierr.Internalf("commit_adjust_failed", "failed to adjust on-hand inventory", err)
			}
		}
	}
	return nil
}

// Sweep marks any held reservation with expires_at <= now as expired.
// Intended to be called by a background ticker (see Sweeper).
func (e *Engine) Sweep(now time.Time) int {
	n := e.store.sweepExpired(now, e.lockFor)
	if n > 0 {
		metrics.ReservationsExpired.Add(float64(n))
		metrics.ActiveReservations.Sub(float64(n))
	}
	return n
}
