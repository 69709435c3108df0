package cart

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Source — репозитории, из которых собирается снимок. Подходит и domain.Tx, и domain.Store.
type Source interface {
	Carts() domain.CartRepository
	Catalog() domain.Catalog
	Inventory() domain.InventoryLedger
}

// Snapshotter замораживает корзину по текущим ценам.
type Snapshotter struct {
	now func() time.Time
}

// NewSnapshotter создаёт Snapshotter. now == nil означает time.Now().UTC().
func NewSnapshotter(now func() time.Time) *Snapshotter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Snapshotter{now: now}
}

// Capture читает корзину, проверяет товары и доступный остаток и возвращает снимок.
// Ничего не резервирует и корзину не меняет.
func (s *Snapshotter) Capture(ctx context.Context, src Source, userID string) (domain.Snapshot, error) {
	if userID == "" {
		return domain.Snapshot{}, domain.ErrUserRequired
	}

	cartLines, err := src.Carts().Lines(ctx, userID)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("read cart: %w", err)
	}

	quantities := make(map[string]int32, len(cartLines))
	for _, line := range cartLines {
		if line.Qty <= 0 {
			continue
		}
		quantities[line.ProductID] += line.Qty
	}
	if len(quantities) == 0 {
		return domain.Snapshot{}, domain.ErrEmptyCart
	}

	productIDs := make([]string, 0, len(quantities))
	for productID := range quantities {
		productIDs = append(productIDs, productID)
	}
	sort.Strings(productIDs)

	lines := make([]domain.SnapshotLine, 0, len(productIDs))
	for _, productID := range productIDs {
		qty := quantities[productID]

		product, err := src.Catalog().Product(ctx, productID)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("product %s: %w", productID, err)
		}
		if !product.Active {
			return domain.Snapshot{}, fmt.Errorf("product %s: %w", productID, domain.ErrProductNotFound)
		}

		level, err := src.Inventory().Level(ctx, productID)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("stock level %s: %w", productID, err)
		}
		if level.Available() < qty {
			return domain.Snapshot{}, &domain.InsufficientStockError{
				ProductID: productID,
				Requested: qty,
				Available: level.Available(),
			}
		}

		lines = append(lines, domain.SnapshotLine{
			ProductID: productID,
			Qty:       qty,
			UnitPrice: product.Price,
			Subtotal:  product.Price.Mul(decimal.NewFromInt32(qty)),
		})
	}

	return domain.NewSnapshot(userID, lines, s.now()), nil
}
