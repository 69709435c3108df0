package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type cartRepository struct {
	tx *memTx
}

func (r cartRepository) Lines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	release, err := r.tx.lockRow(ctx, cartKey(userID))
	if err != nil {
		return nil, err
	}
	defer release()

	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.CartLine(nil), s.carts[userID]...), nil
}

func (r cartRepository) AddItem(ctx context.Context, userID, productID string, qty int32, at time.Time) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return r.mutate(ctx, userID, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		for i := range lines {
			if lines[i].ProductID == productID {
				lines[i].Qty += qty
				return lines, nil
			}
		}
		return append(lines, domain.CartLine{ProductID: productID, Qty: qty, AddedAt: at}), nil
	})
}

func (r cartRepository) SetQuantity(ctx context.Context, userID, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return r.mutate(ctx, userID, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		for i := range lines {
			if lines[i].ProductID == productID {
				lines[i].Qty = qty
				return lines, nil
			}
		}
		return nil, domain.ErrProductNotFound
	})
}

func (r cartRepository) RemoveItem(ctx context.Context, userID, productID string) error {
	return r.mutate(ctx, userID, func(lines []domain.CartLine) ([]domain.CartLine, error) {
		out := lines[:0]
		for _, line := range lines {
			if line.ProductID != productID {
				out = append(out, line)
			}
		}
		return out, nil
	})
}

func (r cartRepository) Clear(ctx context.Context, userID string) error {
	return r.mutate(ctx, userID, func([]domain.CartLine) ([]domain.CartLine, error) {
		return nil, nil
	})
}

func (r cartRepository) mutate(ctx context.Context, userID string, fn func([]domain.CartLine) ([]domain.CartLine, error)) error {
	release, err := r.tx.lockRow(ctx, cartKey(userID))
	if err != nil {
		return err
	}
	defer release()

	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := append([]domain.CartLine(nil), s.carts[userID]...)
	next, err := fn(append([]domain.CartLine(nil), prev...))
	if err != nil {
		return err
	}
	if len(next) == 0 {
		delete(s.carts, userID)
	} else {
		s.carts[userID] = next
	}

	r.tx.onRollback(func() {
		if len(prev) == 0 {
			delete(s.carts, userID)
		} else {
			s.carts[userID] = prev
		}
	})
	return nil
}

var _ domain.CartRepository = cartRepository{}
