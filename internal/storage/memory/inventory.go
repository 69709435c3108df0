package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// inventoryLedger — in-memory леджер стока. Арифметика по товару идёт под блокировкой строки товара.
type inventoryLedger struct {
	tx *memTx
}

func (l inventoryLedger) Reserve(ctx context.Context, orderID, productID string, qty int32) (domain.ReservationToken, error) {
	if qty <= 0 {
		return domain.ReservationToken{}, domain.ErrInvalidQuantity
	}
	release, err := l.tx.lockRow(ctx, productKey(productID))
	if err != nil {
		return domain.ReservationToken{}, err
	}
	defer release()

	s := l.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	level, ok := s.stock[productID]
	if !ok {
		return domain.ReservationToken{}, &domain.InsufficientStockError{ProductID: productID, Requested: qty}
	}
	if level.Available() < qty {
		return domain.ReservationToken{}, &domain.InsufficientStockError{
			ProductID: productID,
			Requested: qty,
			Available: level.Available(),
		}
	}

	now := s.now()
	token := domain.ReservationToken{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		ProductID: productID,
		Qty:       qty,
	}
	level.Reserved += qty
	s.stock[productID] = level
	s.reservations[token.ID] = domain.Reservation{
		ReservationToken: token,
		Status:           domain.ReservationStatusReserved,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	l.tx.onRollback(func() {
		lv := s.stock[productID]
		lv.Reserved -= qty
		s.stock[productID] = lv
		delete(s.reservations, token.ID)
	})
	return token, nil
}

func (l inventoryLedger) Release(ctx context.Context, token domain.ReservationToken) error {
	return l.move(ctx, token, domain.ReservationStatusReserved, domain.ReservationStatusReleased, func(level *domain.StockLevel, qty int32) {
		level.Reserved -= qty
	})
}

func (l inventoryLedger) Consume(ctx context.Context, token domain.ReservationToken) error {
	return l.move(ctx, token, domain.ReservationStatusReserved, domain.ReservationStatusConsumed, func(level *domain.StockLevel, qty int32) {
		level.Reserved -= qty
		level.OnHand -= qty
	})
}

func (l inventoryLedger) Restock(ctx context.Context, token domain.ReservationToken) error {
	return l.move(ctx, token, domain.ReservationStatusConsumed, domain.ReservationStatusRestocked, func(level *domain.StockLevel, qty int32) {
		level.OnHand += qty
	})
}

// move переводит строку леджера from -> to. Строка в любом другом статусе остаётся как есть.
func (l inventoryLedger) move(
	ctx context.Context,
	token domain.ReservationToken,
	from, to domain.ReservationStatus,
	apply func(level *domain.StockLevel, qty int32),
) error {
	release, err := l.tx.lockRow(ctx, productKey(token.ProductID))
	if err != nil {
		return err
	}
	defer release()

	s := l.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.reservations[token.ID]
	if !ok || row.ProductID != token.ProductID {
		return domain.ErrReservationNotFound
	}
	if row.Status != from {
		return nil
	}

	prevRow := row
	prevLevel := s.stock[row.ProductID]

	level := prevLevel
	apply(&level, row.Qty)
	s.stock[row.ProductID] = level
	row.Status = to
	row.UpdatedAt = s.now()
	s.reservations[row.ID] = row

	l.tx.onRollback(func() {
		s.reservations[prevRow.ID] = prevRow
		s.stock[prevRow.ProductID] = prevLevel
	})
	return nil
}

func (l inventoryLedger) Level(ctx context.Context, productID string) (domain.StockLevel, error) {
	if err := l.tx.waitRow(ctx, productKey(productID)); err != nil {
		return domain.StockLevel{}, err
	}

	s := l.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	level, ok := s.stock[productID]
	if !ok {
		return domain.StockLevel{ProductID: productID}, nil
	}
	return level, nil
}

func (l inventoryLedger) SetOnHand(ctx context.Context, productID string, onHand int32) error {
	release, err := l.tx.lockRow(ctx, productKey(productID))
	if err != nil {
		return err
	}
	defer release()

	s := l.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.stock[productID]
	if onHand < prev.Reserved {
		return domain.ErrStockBelowReserved
	}
	s.stock[productID] = domain.StockLevel{ProductID: productID, OnHand: onHand, Reserved: prev.Reserved}

	l.tx.onRollback(func() {
		if existed {
			s.stock[productID] = prev
		} else {
			delete(s.stock, productID)
		}
	})
	return nil
}

func (l inventoryLedger) Reservations(_ context.Context, orderID string) ([]domain.Reservation, error) {
	s := l.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.Reservation, 0)
	for _, row := range s.reservations {
		if row.OrderID == orderID {
			result = append(result, row)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ProductID != result[j].ProductID {
			return result[i].ProductID < result[j].ProductID
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

var _ domain.InventoryLedger = inventoryLedger{}
