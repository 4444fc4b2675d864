package checkout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/stateset/agentic-checkout/internal/apierr"
	"github.com/stateset/agentic-checkout/internal/catalog"
	"github.com/stateset/agentic-checkout/internal/idempotency"
	"github.com/stateset/agentic-checkout/internal/idgen"
	"github.com/stateset/agentic-checkout/internal/inventory"
	"github.com/stateset/agentic-checkout/internal/logging"
	"github.com/stateset/agentic-checkout/internal/metrics"
	"github.com/stateset/agentic-checkout/internal/taxship"
)

// CatalogStore is the slice of the product catalog the checkout
// engine needs: price and currency lookups to freeze line items.
type CatalogStore interface {
	Get(ctx context.Context, productID string) (catalog.Product, error)
}

// InventoryEngine is the slice of the inventory reservation engine
// the checkout engine drives.
type InventoryEngine interface {
	Reserve(ctx context.Context, sessionID, productID string, qty int64, ttl time.Duration) (inventory.Reservation, error)
	Release(ctx context.Context, sessionID string) error
	ReleaseProduct(ctx context.Context, sessionID, productID string) error
	HeldQuantityForSession(sessionID, productID string) int64
	Commit(ctx context.Context, sessionID string) error
}

// Engine is the checkout session state machine's public contract:
// create, update, get, complete (driven externally by the settlement
// pipeline), cancel.
type Engine struct {
	sessions     sync.Map // id -> *Session, swapped atomically per update
	sessionLocks sync.Map // id -> *sync.Mutex

	catalog        CatalogStore
	inventory      InventoryEngine
	rateTable      taxship.RateTable
	shipping       taxship.ShippingProvider
	reservationTTL time.Duration
	idem           *idempotency.Store
	logger         *slog.Logger
}

// Config bundles Engine's construction-time dependencies, passed
// explicitly rather than resolved from package-level state.
type Config struct {
	Catalog        CatalogStore
	Inventory      InventoryEngine
	RateTable      taxship.RateTable
	Shipping       taxship.ShippingProvider
	ReservationTTL time.Duration
	Idempotency    *idempotency.Store
	Logger         *slog.Logger
}

func New(cfg Config) *Engine {
	if cfg.Shipping == nil {
		cfg.Shipping = taxship.ZeroShipping{}
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 15 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		catalog:        cfg.Catalog,
		inventory:      cfg.Inventory,
		rateTable:      cfg.RateTable,
		shipping:       cfg.Shipping,
		reservationTTL: cfg.ReservationTTL,
		idem:           cfg.Idempotency,
		logger:         cfg.Logger,
	}
}

// log returns the engine's logger enriched with the caller's request
// id, when the context carries one.
func (e *Engine) log(ctx context.Context) *slog.Logger {
	return logging.L(logging.WithLogger(ctx, e.logger))
}

// failIdem releases a reserved idempotency slot so a later retry with
// the same key re-executes instead of waiting on a result that will
// never arrive.
func (e *Engine) failIdem(operation, key string) {
	if key != "" && e.idem != nil {
		e.idem.Fail(operation, key)
	}
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	v, _ := e.sessionLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (e *Engine) load(id string) (*Session, bool) {
	v, ok := e.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

func clone(s *Session) *Session {
	cp := *s
	cp.Items = append([]LineItem(nil), s.Items...)
	cp.Messages = append([]Message(nil), s.Messages...)
	if s.Customer != nil {
		c := *s.Customer
		cp.Customer = &c
	}
	if s.Fulfillment != nil {
		f := *s.Fulfillment
		f.Options = append([]FulfillmentOption(nil), s.Fulfillment.Options...)
		cp.Fulfillment = &f
	}
	return &cp
}

// Get is a pure, lock-free read. It may observe any committed version.
func (e *Engine) Get(_ context.Context, id string) (Session, error) {
	s, ok := e.load(id)
	if !ok {
		return Session{}, apierr.NotFoundf("session_not_found", "checkout session not found")
	}
	return *clone(s), nil
}

func (e *Engine) toLineItems(ctx context.Context, items []ItemRequest) ([]LineItem, error) {
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, apierr.Invalid("invalid_quantity", "quantity must be positive", "items.quantity")
		}
		p, err := e.catalog.Get(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		out = append(out, LineItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: p.UnitPriceMinor,
			LineTotal: p.UnitPriceMinor * it.Quantity,
		})
	}
	return out, nil
}

func (e *Engine) recomputeTotals(s *Session) error {
	taxItems := make([]taxship.LineItem, len(s.Items))
	for i, it := range s.Items {
		taxItems[i] = taxship.LineItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPriceMinor: it.UnitPrice}
	}
	addr := taxship.Address{}
	if s.Customer != nil {
		addr = s.Customer.ShippingAddress
		if addr == (taxship.Address{}) {
			addr = s.Customer.BillingAddress
		}
	}
	var shipCharge int64
	if s.Fulfillment != nil {
		for _, opt := range s.Fulfillment.Options {
			if opt.ID == s.Fulfillment.SelectedID {
				shipCharge = opt.Price
				break
			}
		}
	}
	totals, err := taxship.ComputeTotals(taxItems, addr, e.rateTable, fixedShipping(shipCharge), 0)
	if err != nil {
		return apierr.Internalf("totals_compute_failed", "failed to compute totals", err)
	}
	s.Totals = totals
	return nil
}

type fixedShipping int64

func (f fixedShipping) Quote([]taxship.LineItem, taxship.Address) (int64, error) { return int64(f), nil }

// Create reserves inventory for each item and returns the new session.
// Any InsufficientStock hard-fails the whole create: no session is
// persisted and every reservation made during this attempt is
// released.
func (e *Engine) Create(ctx context.Context, items []ItemRequest, customer *Customer, idempotencyKey string) (Session, error) {
	if idempotencyKey != "" && e.idem != nil {
		if resp, ok := e.replayIfCached(ctx, "create", idempotencyKey); ok {
			return resp, nil
		}
	}

	id := idgen.WithPrefix("cs_")
	lineItems, err := e.toLineItems(ctx, items)
	if err != nil {
		e.failIdem("create", idempotencyKey)
		return Session{}, err
	}

	for _, it := range lineItems {
		if _, err := e.inventory.Reserve(ctx, id, it.ProductID, it.Quantity, e.reservationTTL); err != nil {
			_ = e.inventory.Release(ctx, id)
			e.failIdem("create", idempotencyKey)
			return Session{}, err
		}
	}

	now := time.Now()
	s := &Session{
		ID:        id,
		Status:    NotReadyForPayment,
		Items:     lineItems,
		Customer:  customer,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if err := e.recomputeTotals(s); err != nil {
		_ = e.inventory.Release(ctx, id)
		e.failIdem("create", idempotencyKey)
		return Session{}, err
	}
	s.Status = deriveStatus(NotReadyForPayment, s)

	e.sessions.Store(id, s)
	metrics.CheckoutSessionsTotal.WithLabelValues(string(s.Status)).Inc()
	e.log(ctx).Info("checkout session created", "session_id", id, "status", s.Status, "items", len(s.Items))

	result := *clone(s)
	if idempotencyKey != "" && e.idem != nil {
		e.cacheResponse(ctx, "create", idempotencyKey, result)
	}
	return result, nil
}

// Update applies patch to an existing non-terminal session. Item
// replacement diffs reservations product-by-product: removed or
// decreased lines are released before increases are reserved, so a
// decrease on one line can never spuriously fail an increase on
// another due to order.
func (e *Engine) Update(ctx context.Context, id string, patch Patch, idempotencyKey string) (Session, error) {
	if idempotencyKey != "" && e.idem != nil {
		if resp, ok := e.replayIfCached(ctx, "update:"+id, idempotencyKey); ok {
			return resp, nil
		}
	}

	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, ok := e.load(id)
	if !ok {
		e.failIdem("update:"+id, idempotencyKey)
		return Session{}, apierr.NotFoundf("session_not_found", "checkout session not found")
	}
	if current.Status.Terminal() {
		e.failIdem("update:"+id, idempotencyKey)
		return Session{}, apierr.InvalidOp("terminal_session", "session is in a terminal state and cannot be updated")
	}

	s := clone(current)

	if patch.Items != nil {
		newItems, err := e.toLineItems(ctx, patch.Items)
		if err != nil {
			e.failIdem("update:"+id, idempotencyKey)
			return Session{}, err
		}
		if err := e.diffReservations(ctx, id, s.Items, newItems); err != nil {
			e.failIdem("update:"+id, idempotencyKey)
			return Session{}, err
		}
		s.Items = newItems
	}
	if patch.Customer != nil {
		s.Customer = patch.Customer
	}
	if patch.Fulfillment != nil {
		s.Fulfillment = patch.Fulfillment
	}

	if err := e.recomputeTotals(s); err != nil {
		e.failIdem("update:"+id, idempotencyKey)
		return Session{}, err
	}
	s.Status = deriveStatus(s.Status, s)
	s.UpdatedAt = time.Now()
	s.Version++

	e.sessions.Store(id, s)

	result := *clone(s)
	if idempotencyKey != "" && e.idem != nil {
		e.cacheResponse(ctx, "update:"+id, idempotencyKey, result)
	}
	return result, nil
}

func (e *Engine) diffReservations(ctx context.Context, sessionID string, oldItems, newItems []LineItem) error {
	oldQty := map[string]int64{}
	for _, it := range oldItems {
		oldQty[it.ProductID] += it.Quantity
	}
	newQty := map[string]int64{}
	for _, it := range newItems {
		newQty[it.ProductID] += it.Quantity
	}

	// Release removed/decreased lines first.
	for productID, oq := range oldQty {
		nq := newQty[productID]
		if nq < oq {
			if err := e.inventory.ReleaseProduct(ctx, sessionID, productID); err != nil {
				return err
			}
			if nq > 0 {
				if _, err := e.inventory.Reserve(ctx, sessionID, productID, nq, e.reservationTTL); err != nil {
					return err
				}
			}
		}
	}
	// Then reserve new/increased lines.
	for productID, nq := range newQty {
		oq := oldQty[productID]
		if nq > oq {
			delta := nq - oq
			if oq == 0 {
				if _, err := e.inventory.Reserve(ctx, sessionID, productID, nq, e.reservationTTL); err != nil {
					return err
				}
				continue
			}
			if _, err := e.inventory.Reserve(ctx, sessionID, productID, delta, e.reservationTTL); err != nil {
				return err
			}
		}
	}
	// Fully removed lines with no replacement.
	for productID, oq := range oldQty {
		if oq > 0 {
			if _, present := newQty[productID]; !present {
				if err := e.inventory.ReleaseProduct(ctx, sessionID, productID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Cancel releases reservations and transitions to canceled. Idempotent:
// canceling an already-canceled session is a no-op success. Canceling
// a completed session is InvalidOperation — funds have already moved,
// so a completed session cannot be unwound here.
func (e *Engine) Cancel(ctx context.Context, id string, idempotencyKey string) (Session, error) {
	if idempotencyKey != "" && e.idem != nil {
		if resp, ok := e.replayIfCached(ctx, "cancel:"+id, idempotencyKey); ok {
			return resp, nil
		}
	}

	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, ok := e.load(id)
	if !ok {
		e.failIdem("cancel:"+id, idempotencyKey)
		return Session{}, apierr.NotFoundf("session_not_found", "checkout session not found")
	}
	if current.Status == Canceled {
		result := *clone(current)
		if idempotencyKey != "" && e.idem != nil {
			e.cacheResponse(ctx, "cancel:"+id, idempotencyKey, result)
		}
		return result, nil
	}
	if current.Status == Completed {
		e.failIdem("cancel:"+id, idempotencyKey)
		return Session{}, apierr.InvalidOp("completed_session", "completed sessions cannot be canceled")
	}

	if err := e.inventory.Release(ctx, id); err != nil {
		e.failIdem("cancel:"+id, idempotencyKey)
		return Session{}, err
	}

	s := clone(current)
	s.Status = Canceled
	s.UpdatedAt = time.Now()
	s.Version++
	e.sessions.Store(id, s)
	metrics.CheckoutSessionsTotal.WithLabelValues(string(Canceled)).Inc()
	e.log(ctx).Info("checkout session canceled", "session_id", id)

	result := *clone(s)
	if idempotencyKey != "" && e.idem != nil {
		e.cacheResponse(ctx, "cancel:"+id, idempotencyKey, result)
	}
	return result, nil
}

// BeginComplete transitions a ready_for_payment or in_progress session
// to in_progress. Called by the settlement pipeline at the start of
// complete; it rejects any other status.
func (e *Engine) BeginComplete(_ context.Context, id string) (Session, error) {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, ok := e.load(id)
	if !ok {
		return Session{}, apierr.NotFoundf("session_not_found", "checkout session not found")
	}
	if current.Status != ReadyForPayment && current.Status != InProgress {
		return Session{}, apierr.InvalidOp("invalid_state", "session is not ready for payment")
	}

	s := clone(current)
	s.Status = InProgress
	s.UpdatedAt = time.Now()
	s.Version++
	e.sessions.Store(id, s)
	return *clone(s), nil
}

// RevertToReadyForPayment backs a session out of in_progress with an
// attached error message rather than silently reporting success.
func (e *Engine) RevertToReadyForPayment(_ context.Context, id string, msg Message) (Session, error) {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, ok := e.load(id)
	if !ok {
		return Session{}, apierr.NotFoundf("session_not_found", "checkout session not found")
	}

	s := clone(current)
	s.Status = ReadyForPayment
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
	s.Version++
	e.sessions.Store(id, s)
	return *clone(s), nil
}

// FinalizeComplete transitions a session to completed and records its
// order permalink.
func (e *Engine) FinalizeComplete(ctx context.Context, id, orderPermalink string) (Session, error) {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	current, ok := e.load(id)
	if !ok {
		return Session{}, apierr.NotFoundf("session_not_found", "checkout session not found")
	}

	s := clone(current)
	s.Status = Completed
	s.Links.OrderPermalink = orderPermalink
	s.UpdatedAt = time.Now()
	s.Version++
	e.sessions.Store(id, s)
	metrics.CheckoutSessionsTotal.WithLabelValues(string(Completed)).Inc()
	e.log(ctx).Info("checkout session completed", "session_id", id, "order_permalink", orderPermalink)
	return *clone(s), nil
}

func (e *Engine) replayIfCached(ctx context.Context, operation, key string) (Session, bool) {
	status, cached, done := e.idem.CheckAndMark(operation, key)
	switch status {
	case idempotency.StatusCached:
		var s Session
		_ = json.Unmarshal(cached, &s)
		return s, true
	case idempotency.StatusInFlight:
		resp, err := e.idem.WaitForResult(ctx, operation, key, done)
		if err == nil {
			var s Session
			_ = json.Unmarshal(resp, &s)
			return s, true
		}
	}
	return Session{}, false
}

func (e *Engine) cacheResponse(_ context.Context, operation, key string, s Session) {
	raw, err := json.Marshal(s)
	if err != nil {
		e.idem.Fail(operation, key)
		return
	}
	e.idem.Complete(operation, key, raw)
}
