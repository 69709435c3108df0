package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type cancellationQueue struct {
	tx *memTx
}

func (q cancellationQueue) Enqueue(_ context.Context, job domain.UpstreamCancellation) error {
	s := q.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cancellationByHandle[job.Handle]; exists {
		return nil
	}
	now := s.now()
	if job.Status == "" {
		job.Status = domain.CancellationStatusPending
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = now
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	stored := job
	s.cancellations[job.ID] = &stored
	s.cancellationByHandle[job.Handle] = job.ID

	q.tx.onRollback(func() {
		delete(s.cancellations, job.ID)
		delete(s.cancellationByHandle, job.Handle)
	})
	return nil
}

func (q cancellationQueue) GetByHandle(_ context.Context, handle string) (domain.UpstreamCancellation, error) {
	s := q.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.cancellationByHandle[handle]
	if !ok {
		return domain.UpstreamCancellation{}, domain.ErrCancellationNotFound
	}
	return *s.cancellations[id], nil
}

func (q cancellationQueue) LeaseDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]domain.UpstreamCancellation, error) {
	if limit <= 0 {
		limit = 50
	}

	s := q.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*domain.UpstreamCancellation, 0)
	for _, job := range s.cancellations {
		if job.Status == domain.CancellationStatusPending && !job.NextAttemptAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		}
		return due[i].ID < due[j].ID
	})
	if len(due) > limit {
		due = due[:limit]
	}

	result := make([]domain.UpstreamCancellation, 0, len(due))
	for _, job := range due {
		job.NextAttemptAt = now.Add(lease)
		job.UpdatedAt = now
		result = append(result, *job)
	}
	return result, nil
}

func (q cancellationQueue) MarkDone(_ context.Context, id string) error {
	return q.update(id, func(job *domain.UpstreamCancellation) {
		job.Status = domain.CancellationStatusDone
		job.LastError = ""
	})
}

func (q cancellationQueue) Reschedule(_ context.Context, id string, attempts int, next time.Time, lastErr string) error {
	return q.update(id, func(job *domain.UpstreamCancellation) {
		job.Attempts = attempts
		job.NextAttemptAt = next
		job.LastError = lastErr
	})
}

func (q cancellationQueue) MarkStuck(_ context.Context, id string, attempts int, lastErr string) error {
	return q.update(id, func(job *domain.UpstreamCancellation) {
		job.Status = domain.CancellationStatusStuck
		job.Attempts = attempts
		job.LastError = lastErr
	})
}

func (q cancellationQueue) Stats(context.Context) (domain.CancellationStats, error) {
	s := q.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats domain.CancellationStats
	for _, job := range s.cancellations {
		switch job.Status {
		case domain.CancellationStatusPending:
			stats.Pending++
		case domain.CancellationStatusStuck:
			stats.Stuck++
		}
	}
	return stats, nil
}

func (q cancellationQueue) update(id string, fn func(job *domain.UpstreamCancellation)) error {
	s := q.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.cancellations[id]
	if !ok {
		return domain.ErrCancellationNotFound
	}
	prev := *job
	fn(job)
	job.UpdatedAt = s.now()

	q.tx.onRollback(func() {
		*job = prev
	})
	return nil
}

// CancellationJobs возвращает копии всех задач отмены (используется в тестах).
func (s *Store) CancellationJobs() []domain.UpstreamCancellation {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.UpstreamCancellation, 0, len(s.cancellations))
	for _, job := range s.cancellations {
		result = append(result, *job)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

var _ domain.CancellationQueue = cancellationQueue{}
