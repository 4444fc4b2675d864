// Package catalog provides product lookup and on-hand accounting.
// Availability checks delegate to the inventory engine rather than
// duplicating reservation math here.
package catalog

import (
	"context"
	"sync"

	"github.com/stateset/agentic-checkout/internal/apierr"
)

// Product is a sellable item. Mutated only by an out-of-scope admin
// path; this package exposes AdjustOnHand for that collaborator.
type Product struct {
	ID            string
	Name          string
	Description   string
	UnitPriceMinor int64
	Currency      string
	OnHand        int64
	WeightGrams   int64
	Active        bool
}

// Availability answers "how many of product_id can still be
// reserved", given the held reservations the inventory engine is
// currently tracking for it.
type Availability interface {
	HeldQuantity(productID string) int64
}

// Store is the catalog's CRUD surface: a thin seam over an in-memory
// map today, swappable for a database-backed implementation later.
type Store interface {
	Get(ctx context.Context, productID string) (Product, error)
	CheckAvailable(ctx context.Context, productID string, qty int64) (bool, error)
	AdjustOnHand(ctx context.Context, productID string, delta int64) error
}

// MemoryStore is an in-process catalog backed by a map.
type MemoryStore struct {
	mu           sync.RWMutex
	products     map[string]Product
	availability Availability
}

// NewMemoryStore seeds a catalog from products. availability may be
// nil until the inventory engine is constructed; SetAvailability
// wires it in afterward to break the catalog/inventory construction
// cycle.
func NewMemoryStore(products []Product, availability Availability) *MemoryStore {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return &MemoryStore{products: m, availability: availability}
}

// SetAvailability wires the inventory engine in after construction.
func (s *MemoryStore) SetAvailability(a Availability) {
	s.mu.Lock()
	s.availability = a
	s.mu.Unlock()
}

func (s *MemoryStore) Get(_ context.Context, productID string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok || !p.Active {
		return Product{}, apierr.NotFoundf("product_not_found", "product not found")
	}
	return p, nil
}

// CheckAvailable returns true iff on_hand − Σ held reservations for
// product ≥ qty.
func (s *MemoryStore) CheckAvailable(_ context.Context, productID string, qty int64) (bool, error) {
	s.mu.RLock()
	p, ok := s.products[productID]
	avail := s.availability
	s.mu.RUnlock()
	if !ok || !p.Active {
		return false, apierr.NotFoundf("product_not_found", "product not found")
	}
	held := int64(0)
	if avail != nil {
		held = avail.HeldQuantity(productID)
	}
	return p.OnHand-held >= qty, nil
}

// OnHand returns a product's current on_hand count, satisfying the
// inventory engine's CatalogStore dependency.
func (s *MemoryStore) OnHand(ctx context.Context, productID string) (int64, error) {
	p, err := s.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	return p.OnHand, nil
}

// AdjustOnHand changes on_hand by delta. Out-of-scope admin callers
// are expected to hold the same per-product lock discipline as the
// inventory engine; this method itself only guards the map.
func (s *MemoryStore) AdjustOnHand(_ context.Context, productID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return apierr.NotFoundf("product_not_found", "product not found")
	}
	p.OnHand += delta
	s.products[productID] = p
	return nil
}
