package memstore

import (
	"context"
	"errors"
	"testing"

	"perfume-store/internal/models"
	"perfume-store/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTxRestoresStateOnError(t *testing.T) {
	s := New()
	p := s.AddPerfume(models.Perfume{Name: "Oud", Price: decimal.NewFromInt(10), Inventory: 5})
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.DecrementInventory(ctx, p.ID, 3))
		require.NoError(t, s.CreateOrder(ctx, &models.Order{UserID: 1}))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 5, s.Inventory(p.ID))
	orders, _, _ := s.Counts()
	assert.Zero(t, orders)
}

func TestWithTxKeepsStateOnSuccess(t *testing.T) {
	s := New()
	p := s.AddPerfume(models.Perfume{Name: "Oud", Price: decimal.NewFromInt(10), Inventory: 5})

	err := s.WithTx(context.Background(), func(ctx context.Context) error {
		return s.DecrementInventory(ctx, p.ID, 5)
	})

	require.NoError(t, err)
	assert.Zero(t, s.Inventory(p.ID))
}

func TestDecrementInventoryNeverGoesNegative(t *testing.T) {
	s := New()
	p := s.AddPerfume(models.Perfume{Name: "Oud", Inventory: 1})

	err := s.DecrementInventory(context.Background(), p.ID, 2)

	assert.ErrorIs(t, err, store.ErrInsufficientInventory)
	assert.Equal(t, 1, s.Inventory(p.ID))
}

func TestUpsertCartItemMerges(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := s.AddPerfume(models.Perfume{Name: "Oud", Price: decimal.NewFromInt(10), Inventory: 5})
	cart := &models.Cart{ID: uuid.New()}
	require.NoError(t, s.CreateCart(ctx, cart))

	first, created, err := s.UpsertCartItem(ctx, cart.ID, p.ID, 1)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.UpsertCartItem(ctx, cart.ID, p.ID, 2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	items, err := s.GetCartItems(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
}
