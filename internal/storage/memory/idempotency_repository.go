package memory

import (
	"context"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// processedEventRepository — журнал обработанных событий шлюза.
type processedEventRepository struct {
	tx *memTx
}

// Claim захватывает строку события до конца транзакции, поэтому параллельная доставка
// того же события дождётся commit и увидит запись.
func (r processedEventRepository) Claim(ctx context.Context, event domain.ProcessedEvent) (bool, error) {
	event.EventID = strings.TrimSpace(event.EventID)
	if event.EventID == "" {
		return false, domain.ErrEventIDRequired
	}

	release, err := r.tx.lockRow(ctx, eventKey(event.EventID))
	if err != nil {
		return false, err
	}
	defer release()

	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.EventID]; exists {
		return false, nil
	}

	now := s.now()
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = now
	}
	if event.ExpiresAt.IsZero() {
		event.ExpiresAt = now.Add(7 * 24 * time.Hour)
	}
	s.events[event.EventID] = event

	r.tx.onRollback(func() {
		delete(s.events, event.EventID)
	})
	return true, nil
}

func (r processedEventRepository) Resolve(ctx context.Context, eventID, orderID string, result domain.EventResult) error {
	release, err := r.tx.lockRow(ctx, eventKey(eventID))
	if err != nil {
		return err
	}
	defer release()

	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.events[eventID]
	if !ok {
		return domain.ErrEventNotFound
	}
	next := prev
	next.OrderID = orderID
	next.Result = result
	s.events[eventID] = next

	r.tx.onRollback(func() {
		s.events[eventID] = prev
	})
	return nil
}

func (r processedEventRepository) Get(ctx context.Context, eventID string) (domain.ProcessedEvent, error) {
	if err := r.tx.waitRow(ctx, eventKey(eventID)); err != nil {
		return domain.ProcessedEvent{}, err
	}

	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[eventID]
	if !ok {
		return domain.ProcessedEvent{}, domain.ErrEventNotFound
	}
	return event, nil
}

func (r processedEventRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	s := r.tx.store
	if before.IsZero() {
		before = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, event := range s.events {
		if event.ExpiresAt.After(before) {
			continue
		}

		delete(s.events, id)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}

	return removed, nil
}

var _ domain.ProcessedEventRepository = processedEventRepository{}
