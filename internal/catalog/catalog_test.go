package catalog

import (
	"context"
	"testing"

	"github.com/stateset/agentic-checkout/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAvailability struct{ held map[string]int64 }

func (f fakeAvailability) HeldQuantity(productID string) int64 { return f.held[productID] }

func TestMemoryStore_Get(t *testing.T) {
	s := NewMemoryStore([]Product{{ID: "item_123", Name: "Widget", OnHand: 15, Active: true}}, nil)

	p, err := s.Get(context.Background(), "item_123")
	require.NoError(t, err)
	assert.Equal(t, "Widget", p.Name)
}

func TestMemoryStore_Get_NotFound(t *testing.T) {
	s := NewMemoryStore(nil, nil)

	_, err := s.Get(context.Background(), "missing")
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.NotFound, ae.Kind)
}

func TestMemoryStore_Get_InactiveIsNotFound(t *testing.T) {
	s := NewMemoryStore([]Product{{ID: "p1", OnHand: 5, Active: false}}, nil)

	_, err := s.Get(context.Background(), "p1")
	var ae *apierr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apierr.NotFound, ae.Kind)
}

func TestMemoryStore_CheckAvailable(t *testing.T) {
	avail := fakeAvailability{held: map[string]int64{"p1": 10}}
	s := NewMemoryStore([]Product{{ID: "p1", OnHand: 15, Active: true}}, avail)

	ok, err := s.CheckAvailable(context.Background(), "p1", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CheckAvailable(context.Background(), "p1", 6)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_AdjustOnHand(t *testing.T) {
	s := NewMemoryStore([]Product{{ID: "p1", OnHand: 15, Active: true}}, nil)

	err := s.AdjustOnHand(context.Background(), "p1", -2)
	require.NoError(t, err)

	p, err := s.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(13), p.OnHand)
}
