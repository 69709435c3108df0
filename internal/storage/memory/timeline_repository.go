package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// timelineRepository хранит события в памяти (для разработки/тестов).
type timelineRepository struct {
	tx *memTx
}

// Append добавляет событие в хранилище.
func (r timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	prevLen := len(s.timeline[event.OrderID])
	events := append(s.timeline[event.OrderID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	s.timeline[event.OrderID] = events

	r.tx.onRollback(func() {
		current := s.timeline[event.OrderID]
		kept := make([]domain.TimelineEvent, 0, prevLen)
		removed := false
		for _, ev := range current {
			if !removed && ev == event {
				removed = true
				continue
			}
			kept = append(kept, ev)
		}
		s.timeline[event.OrderID] = kept
	})
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.timeline[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = timelineRepository{}
