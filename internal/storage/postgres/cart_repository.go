package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type cartRepository struct {
	tx *pgTx
}

// lockCart создаёт строку корзины при необходимости и блокирует её до конца транзакции,
// чтобы оформление заказа и правки корзины не перемешивались.
func lockCart(ctx context.Context, q querier, userID string, now time.Time) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO carts (user_id, updated_at) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, now); err != nil {
		return fmt.Errorf("ensure cart: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		SELECT 1 FROM carts WHERE user_id = $1 FOR UPDATE
	`, userID); err != nil {
		return fmt.Errorf("lock cart: %w", err)
	}
	return nil
}

func (r cartRepository) Lines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	var lines []domain.CartLine
	err := r.tx.atomic(ctx, func(q querier) error {
		if err := lockCart(ctx, q, userID, r.tx.now()); err != nil {
			return err
		}

		rows, err := q.QueryContext(ctx, `
			SELECT product_id, qty, added_at
			FROM cart_items
			WHERE user_id = $1
			ORDER BY added_at, product_id
		`, userID)
		if err != nil {
			return fmt.Errorf("select cart items: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var line domain.CartLine
			if err := rows.Scan(&line.ProductID, &line.Qty, &line.AddedAt); err != nil {
				return fmt.Errorf("scan cart item: %w", err)
			}
			lines = append(lines, line)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r cartRepository) AddItem(ctx context.Context, userID, productID string, qty int32, at time.Time) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return r.tx.atomic(ctx, func(q querier) error {
		if err := lockCart(ctx, q, userID, r.tx.now()); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO cart_items (user_id, product_id, qty, added_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, product_id) DO UPDATE
			SET qty = cart_items.qty + EXCLUDED.qty
		`, userID, productID, qty, at); err != nil {
			return fmt.Errorf("add cart item: %w", err)
		}
		return r.touch(ctx, q, userID)
	})
}

func (r cartRepository) SetQuantity(ctx context.Context, userID, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return r.tx.atomic(ctx, func(q querier) error {
		if err := lockCart(ctx, q, userID, r.tx.now()); err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `
			UPDATE cart_items SET qty = $3
			WHERE user_id = $1 AND product_id = $2
		`, userID, productID, qty)
		if err != nil {
			return fmt.Errorf("update cart item: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return domain.ErrProductNotFound
		}
		return r.touch(ctx, q, userID)
	})
}

func (r cartRepository) RemoveItem(ctx context.Context, userID, productID string) error {
	return r.tx.atomic(ctx, func(q querier) error {
		if err := lockCart(ctx, q, userID, r.tx.now()); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `
			DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2
		`, userID, productID); err != nil {
			return fmt.Errorf("remove cart item: %w", err)
		}
		return r.touch(ctx, q, userID)
	})
}

func (r cartRepository) Clear(ctx context.Context, userID string) error {
	return r.tx.atomic(ctx, func(q querier) error {
		if err := lockCart(ctx, q, userID, r.tx.now()); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return r.touch(ctx, q, userID)
	})
}

func (r cartRepository) touch(ctx context.Context, q querier, userID string) error {
	if _, err := q.ExecContext(ctx, `UPDATE carts SET updated_at = $2 WHERE user_id = $1`, userID, r.tx.now()); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}

var _ domain.CartRepository = cartRepository{}
