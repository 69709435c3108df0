package inventory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func TestServiceProductAndStock(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := NewService(store, nil)

	err := svc.SetOnHand(ctx, "sku-1", 5)
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	require.NoError(t, svc.UpsertProduct(ctx, domain.Product{ID: "sku-1", Name: "Mug", Price: decimal.RequireFromString("10.00"), Active: true}))
	require.NoError(t, svc.SetOnHand(ctx, "sku-1", 5))

	level, err := svc.Level(ctx, "sku-1")
	require.NoError(t, err)
	require.EqualValues(t, 5, level.OnHand)
	require.EqualValues(t, 5, level.Available())

	_, err = store.Inventory().Reserve(ctx, "order-1", "sku-1", 3)
	require.NoError(t, err)
	require.ErrorIs(t, svc.SetOnHand(ctx, "sku-1", 2), domain.ErrStockBelowReserved)

	reservations, err := svc.Reservations(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, reservations, 1)
}

func TestServiceRejectsInvalidInput(t *testing.T) {
	svc := NewService(memory.NewStore(), nil)
	ctx := context.Background()

	require.Error(t, svc.UpsertProduct(ctx, domain.Product{ID: " ", Price: decimal.NewFromInt(1)}))
	require.Error(t, svc.UpsertProduct(ctx, domain.Product{ID: "sku", Price: decimal.Zero}))
	require.ErrorIs(t, svc.SetOnHand(ctx, "sku", -1), domain.ErrInvalidQuantity)
}
