package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	seq        int64
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// outboxRepository — in-memory хранилище transactional outbox.
type outboxRepository struct {
	tx *memTx
}

// Enqueue сохраняет событие со статусом `pending` в рамках текущей транзакции.
func (r outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := s.now()
	s.outboxSeq++
	s.outbox[msg.ID] = &outboxRecord{
		msg:       msg,
		seq:       s.outboxSeq,
		status:    outboxStatusPending,
		createdAt: now,
		updatedAt: now,
	}

	id := msg.ID
	r.tx.onRollback(func() {
		delete(s.outbox, id)
	})
	return msg, nil
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке записи.
func (r outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	records := r.pending()
	if len(records) > limit {
		records = records[:limit]
	}
	result := make([]domain.OutboxMessage, 0, len(records))
	for _, rec := range records {
		result = append(result, rec.msg)
	}
	return result, nil
}

func (r outboxRepository) Stats(context.Context) (domain.OutboxStats, error) {
	records := r.pending()
	stats := domain.OutboxStats{PendingCount: len(records)}
	for _, rec := range records {
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.mark(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, outboxStatusFailed)
}

func (r outboxRepository) mark(id, status string) error {
	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = s.now()
	return nil
}

func (r outboxRepository) pending() []outboxRecord {
	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]outboxRecord, 0)
	for _, rec := range s.outbox {
		if rec.status == outboxStatusPending {
			result = append(result, *rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

// PendingOutbox возвращает копию всех сообщений со статусом `pending` (используется в тестах).
func (s *Store) PendingOutbox() []domain.OutboxMessage {
	records := outboxRepository{tx: s.auto}.pending()
	result := make([]domain.OutboxMessage, 0, len(records))
	for _, rec := range records {
		result = append(result, rec.msg)
	}
	return result
}

var _ domain.OutboxRepository = outboxRepository{}
