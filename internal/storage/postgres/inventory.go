package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type inventoryLedger struct {
	tx *pgTx
}

// Reserve блокирует строку остатка (SELECT ... FOR UPDATE), поэтому резервы одного товара линеаризуемы.
func (l inventoryLedger) Reserve(ctx context.Context, orderID, productID string, qty int32) (domain.ReservationToken, error) {
	if qty <= 0 {
		return domain.ReservationToken{}, domain.ErrInvalidQuantity
	}

	token := domain.ReservationToken{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		ProductID: productID,
		Qty:       qty,
	}

	err := l.tx.atomic(ctx, func(q querier) error {
		var onHand, reserved int32
		err := q.QueryRowContext(ctx, `
			SELECT on_hand, reserved
			FROM inventory_levels
			WHERE product_id = $1
			FOR UPDATE
		`, productID).Scan(&onHand, &reserved)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.InsufficientStockError{ProductID: productID, Requested: qty}
		}
		if err != nil {
			return fmt.Errorf("lock inventory level: %w", err)
		}

		if available := onHand - reserved; available < qty {
			return &domain.InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
		}

		now := l.tx.now()
		if _, err := q.ExecContext(ctx, `
			UPDATE inventory_levels
			SET reserved = reserved + $2, updated_at = $3
			WHERE product_id = $1
		`, productID, qty, now); err != nil {
			return fmt.Errorf("increase reserved: %w", err)
		}

		if _, err := q.ExecContext(ctx, `
			INSERT INTO inventory_reservations (id, order_id, product_id, qty, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$6)
		`, token.ID, orderID, productID, qty, string(domain.ReservationStatusReserved), now); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.ReservationToken{}, err
	}
	return token, nil
}

func (l inventoryLedger) Release(ctx context.Context, token domain.ReservationToken) error {
	return l.move(ctx, token, domain.ReservationStatusReserved, domain.ReservationStatusReleased, `
		UPDATE inventory_levels
		SET reserved = reserved - $2, updated_at = $3
		WHERE product_id = $1
	`)
}

func (l inventoryLedger) Consume(ctx context.Context, token domain.ReservationToken) error {
	return l.move(ctx, token, domain.ReservationStatusReserved, domain.ReservationStatusConsumed, `
		UPDATE inventory_levels
		SET reserved = reserved - $2, on_hand = on_hand - $2, updated_at = $3
		WHERE product_id = $1
	`)
}

func (l inventoryLedger) Restock(ctx context.Context, token domain.ReservationToken) error {
	return l.move(ctx, token, domain.ReservationStatusConsumed, domain.ReservationStatusRestocked, `
		UPDATE inventory_levels
		SET on_hand = on_hand + $2, updated_at = $3
		WHERE product_id = $1
	`)
}

// move переводит строку резерва from -> to и применяет levelSQL к остатку.
// Порядок блокировок: остаток товара, затем строка резерва, как и в Reserve.
func (l inventoryLedger) move(ctx context.Context, token domain.ReservationToken, from, to domain.ReservationStatus, levelSQL string) error {
	return l.tx.atomic(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, `
			SELECT 1 FROM inventory_levels WHERE product_id = $1 FOR UPDATE
		`, token.ProductID); err != nil {
			return fmt.Errorf("lock inventory level: %w", err)
		}

		var (
			productID string
			qty       int32
			status    string
		)
		err := q.QueryRowContext(ctx, `
			SELECT product_id, qty, status
			FROM inventory_reservations
			WHERE id = $1
			FOR UPDATE
		`, token.ID).Scan(&productID, &qty, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrReservationNotFound
		}
		if err != nil {
			return fmt.Errorf("lock reservation: %w", err)
		}
		if productID != token.ProductID {
			return domain.ErrReservationNotFound
		}
		if domain.ReservationStatus(status) != from {
			return nil
		}

		now := l.tx.now()
		if _, err := q.ExecContext(ctx, `
			UPDATE inventory_reservations
			SET status = $2, updated_at = $3
			WHERE id = $1
		`, token.ID, string(to), now); err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		if _, err := q.ExecContext(ctx, levelSQL, productID, qty, now); err != nil {
			return fmt.Errorf("update inventory level: %w", err)
		}
		return nil
	})
}

func (l inventoryLedger) Level(ctx context.Context, productID string) (domain.StockLevel, error) {
	level := domain.StockLevel{ProductID: productID}
	err := l.tx.q.QueryRowContext(ctx, `
		SELECT on_hand, reserved
		FROM inventory_levels
		WHERE product_id = $1
	`, productID).Scan(&level.OnHand, &level.Reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return level, nil
	}
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("select inventory level: %w", err)
	}
	return level, nil
}

func (l inventoryLedger) SetOnHand(ctx context.Context, productID string, onHand int32) error {
	_, err := l.tx.q.ExecContext(ctx, `
		INSERT INTO inventory_levels (product_id, on_hand, reserved, updated_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (product_id) DO UPDATE
		SET on_hand = EXCLUDED.on_hand, updated_at = EXCLUDED.updated_at
	`, productID, onHand, l.tx.now())
	if err != nil {
		if isCheckViolation(err) {
			return domain.ErrStockBelowReserved
		}
		return fmt.Errorf("set on hand: %w", err)
	}
	return nil
}

func (l inventoryLedger) Reservations(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	return loadReservations(ctx, l.tx.q, orderID)
}

func loadReservations(ctx context.Context, q querier, orderID string) ([]domain.Reservation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, qty, status, created_at, updated_at
		FROM inventory_reservations
		WHERE order_id = $1
		ORDER BY product_id, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Reservation, 0)
	for rows.Next() {
		var (
			row    domain.Reservation
			status string
		)
		if err := rows.Scan(&row.ID, &row.OrderID, &row.ProductID, &row.Qty, &status, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		row.Status = domain.ReservationStatus(status)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return result, nil
}

var _ domain.InventoryLedger = inventoryLedger{}
