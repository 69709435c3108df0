package cart

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func seedProduct(t *testing.T, store *memory.Store, id, price string, onHand int32) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Catalog().UpsertProduct(ctx, domain.Product{
		ID:     id,
		Name:   id,
		Price:  decimal.RequireFromString(price),
		Active: true,
	}))
	require.NoError(t, store.Inventory().SetOnHand(ctx, id, onHand))
}

func TestCaptureFreezesCurrentPrices(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedProduct(t, store, "sku-1", "10.00", 5)
	seedProduct(t, store, "sku-2", "2.50", 5)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Carts().AddItem(ctx, "user-1", "sku-2", 1, at))
	require.NoError(t, store.Carts().AddItem(ctx, "user-1", "sku-1", 2, at))

	snapshotter := NewSnapshotter(func() time.Time { return at })
	snapshot, err := snapshotter.Capture(ctx, store, "user-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", snapshot.UserID())
	require.Equal(t, at, snapshot.CapturedAt())

	lines := snapshot.Lines()
	require.Len(t, lines, 2)
	require.Equal(t, "sku-1", lines[0].ProductID)
	require.True(t, lines[0].Subtotal.Equal(decimal.RequireFromString("20.00")))
	require.True(t, snapshot.Subtotal().Equal(decimal.RequireFromString("22.50")))

	// Изменение цены после снимка не влияет на снимок.
	require.NoError(t, store.Catalog().UpsertProduct(ctx, domain.Product{ID: "sku-1", Price: decimal.RequireFromString("99"), Active: true}))
	require.True(t, snapshot.Lines()[0].UnitPrice.Equal(decimal.RequireFromString("10.00")))

	// Снимок не трогает ни корзину, ни склад.
	cartLines, err := store.Carts().Lines(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, cartLines, 2)
	level, err := store.Inventory().Level(ctx, "sku-1")
	require.NoError(t, err)
	require.EqualValues(t, 0, level.Reserved)
}

func TestCaptureErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedProduct(t, store, "sku-1", "10.00", 1)
	snapshotter := NewSnapshotter(nil)

	_, err := snapshotter.Capture(ctx, store, "user-1")
	require.ErrorIs(t, err, domain.ErrEmptyCart)

	_, err = snapshotter.Capture(ctx, store, "")
	require.ErrorIs(t, err, domain.ErrUserRequired)

	require.NoError(t, store.Carts().AddItem(ctx, "user-1", "sku-1", 2, time.Now()))
	_, err = snapshotter.Capture(ctx, store, "user-1")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	productID, ok := domain.InsufficientStockProduct(err)
	require.True(t, ok)
	require.Equal(t, "sku-1", productID)

	require.NoError(t, store.Carts().AddItem(ctx, "user-2", "ghost", 1, time.Now()))
	_, err = snapshotter.Capture(ctx, store, "user-2")
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	require.NoError(t, store.Catalog().UpsertProduct(ctx, domain.Product{ID: "sku-off", Price: decimal.NewFromInt(1), Active: false}))
	require.NoError(t, store.Inventory().SetOnHand(ctx, "sku-off", 10))
	require.NoError(t, store.Carts().AddItem(ctx, "user-3", "sku-off", 1, time.Now()))
	_, err = snapshotter.Capture(ctx, store, "user-3")
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestServiceGetComputesTotals(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedProduct(t, store, "sku-1", "10.00", 5)
	svc := NewService(store, domain.DefaultPricingPolicy(), nil)

	view, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, view.Lines)

	require.NoError(t, svc.AddItem(ctx, "user-1", "sku-1", 1))
	require.NoError(t, svc.AddItem(ctx, "user-1", "sku-1", 1))
	require.ErrorIs(t, svc.AddItem(ctx, "user-1", "ghost", 1), domain.ErrProductNotFound)
	require.ErrorIs(t, svc.AddItem(ctx, "user-1", "sku-1", 0), domain.ErrInvalidQuantity)

	view, err = svc.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	require.EqualValues(t, 2, view.Lines[0].Qty)
	require.Equal(t, "32.00", view.Totals.Total.StringFixed(2))

	require.NoError(t, svc.SetQuantity(ctx, "user-1", "sku-1", 3))
	require.ErrorIs(t, svc.SetQuantity(ctx, "user-1", "sku-1", 0), domain.ErrInvalidQuantity)
	require.NoError(t, svc.RemoveItem(ctx, "user-1", "sku-1"))

	view, err = svc.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, view.Lines)
}
