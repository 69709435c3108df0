package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// orderRepository — in-memory реализация OrderRepository с индексами по ключу и handle.
type orderRepository struct {
	tx *memTx
}

// Create сохраняет новый заказ, если ID и ключ идемпотентности ещё не заняты.
func (r orderRepository) Create(ctx context.Context, order domain.Order) error {
	release, err := r.tx.lockRow(ctx, orderKey(order.ID))
	if err != nil {
		return err
	}
	defer release()

	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	if order.IdempotencyKey != "" {
		if _, exists := s.orderByKey[order.IdempotencyKey]; exists {
			return domain.ErrOrderAlreadyExists
		}
	}

	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	s.orders[order.ID] = order.Clone()
	if order.IdempotencyKey != "" {
		s.orderByKey[order.IdempotencyKey] = order.ID
	}
	if order.HasAuthorization() {
		s.orderByHandle[order.Authorization.Handle] = order.ID
	}

	r.tx.onRollback(func() {
		delete(s.orders, order.ID)
		if order.IdempotencyKey != "" {
			delete(s.orderByKey, order.IdempotencyKey)
		}
		if order.HasAuthorization() {
			delete(s.orderByHandle, order.Authorization.Handle)
		}
	})
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, дождавшись чужих незавершённых изменений.
func (r orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := r.tx.waitRow(ctx, orderKey(id)); err != nil {
		return domain.Order{}, err
	}
	return r.load(id)
}

func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	release, err := r.tx.lockRow(ctx, orderKey(id))
	if err != nil {
		return domain.Order{}, err
	}
	defer release()
	return r.load(id)
}

func (r orderRepository) GetByHandleForUpdate(ctx context.Context, handle string) (domain.Order, error) {
	s := r.tx.store
	s.mu.Lock()
	id, ok := s.orderByHandle[handle]
	s.mu.Unlock()
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	order, err := r.GetForUpdate(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	// Handle мог смениться, пока ждали блокировку.
	if !order.HasAuthorization() || order.Authorization.Handle != handle {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (r orderRepository) GetByIdempotencyKey(ctx context.Context, key string) (domain.Order, error) {
	s := r.tx.store
	s.mu.Lock()
	id, ok := s.orderByKey[key]
	s.mu.Unlock()
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

func (r orderRepository) LockIdempotencyKey(ctx context.Context, key string) error {
	release, err := r.tx.lockRow(ctx, idemKey(key))
	if err != nil {
		return err
	}
	release()
	return nil
}

// ListByUser возвращает заказы пользователя, ограничивая выборку limit (если >0).
func (r orderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	return r.list(limit, func(o domain.Order) bool { return o.UserID == userID }, func(a, b domain.Order) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

func (r orderRepository) ListStale(_ context.Context, status domain.OrderStatus, before time.Time, limit int) ([]domain.Order, error) {
	return r.list(limit, func(o domain.Order) bool {
		return o.Status == status && o.UpdatedAt.Before(before)
	}, func(a, b domain.Order) bool {
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r orderRepository) Save(ctx context.Context, order domain.Order) error {
	release, err := r.tx.lockRow(ctx, orderKey(order.ID))
	if err != nil {
		return err
	}
	defer release()

	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}

	next := order.Clone()
	next.Version++
	s.orders[order.ID] = next
	if current.HasAuthorization() {
		delete(s.orderByHandle, current.Authorization.Handle)
	}
	if next.HasAuthorization() {
		s.orderByHandle[next.Authorization.Handle] = next.ID
	}

	r.tx.onRollback(func() {
		if next.HasAuthorization() {
			delete(s.orderByHandle, next.Authorization.Handle)
		}
		s.orders[current.ID] = current
		if current.HasAuthorization() {
			s.orderByHandle[current.Authorization.Handle] = current.ID
		}
	})
	return nil
}

func (r orderRepository) load(id string) (domain.Order, error) {
	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (r orderRepository) list(limit int, match func(domain.Order) bool, less func(a, b domain.Order) bool) ([]domain.Order, error) {
	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if match(order) {
			result = append(result, order.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.OrderRepository = orderRepository{}
