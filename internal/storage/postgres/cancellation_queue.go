package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type cancellationQueue struct {
	tx *pgTx
}

func (q cancellationQueue) Enqueue(ctx context.Context, job domain.UpstreamCancellation) error {
	now := q.tx.now()
	if job.Status == "" {
		job.Status = domain.CancellationStatusPending
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = now
	}

	if _, err := q.tx.q.ExecContext(ctx, `
		INSERT INTO upstream_cancellations (id, order_id, handle, status, attempts, next_attempt_at, last_error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		ON CONFLICT (handle) DO NOTHING
	`, job.ID, job.OrderID, job.Handle, string(job.Status), job.Attempts, job.NextAttemptAt, job.LastError, now); err != nil {
		return fmt.Errorf("enqueue upstream cancellation: %w", err)
	}
	return nil
}

func (q cancellationQueue) GetByHandle(ctx context.Context, handle string) (domain.UpstreamCancellation, error) {
	var (
		job    domain.UpstreamCancellation
		status string
	)
	err := q.tx.q.QueryRowContext(ctx, `
		SELECT id, order_id, handle, status, attempts, next_attempt_at, last_error, created_at, updated_at
		FROM upstream_cancellations
		WHERE handle = $1
	`, handle).Scan(&job.ID, &job.OrderID, &job.Handle, &status, &job.Attempts,
		&job.NextAttemptAt, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UpstreamCancellation{}, domain.ErrCancellationNotFound
	}
	if err != nil {
		return domain.UpstreamCancellation{}, fmt.Errorf("select upstream cancellation: %w", err)
	}
	job.Status = domain.CancellationStatus(status)
	return job, nil
}

// LeaseDue сдвигает next_attempt_at выбранных задач на lease; SKIP LOCKED не даёт двум воркерам взять одну задачу.
func (q cancellationQueue) LeaseDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.UpstreamCancellation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := q.tx.q.QueryContext(ctx, `
		UPDATE upstream_cancellations
		SET next_attempt_at = $2, updated_at = $1
		WHERE id IN (
			SELECT id
			FROM upstream_cancellations
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, order_id, handle, status, attempts, next_attempt_at, last_error, created_at, updated_at
	`, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("lease upstream cancellations: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.UpstreamCancellation, 0)
	for rows.Next() {
		var (
			job    domain.UpstreamCancellation
			status string
		)
		if err := rows.Scan(&job.ID, &job.OrderID, &job.Handle, &status, &job.Attempts,
			&job.NextAttemptAt, &job.LastError, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan upstream cancellation: %w", err)
		}
		job.Status = domain.CancellationStatus(status)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upstream cancellations: %w", err)
	}
	return jobs, nil
}

func (q cancellationQueue) MarkDone(ctx context.Context, id string) error {
	return q.exec(ctx, `
		UPDATE upstream_cancellations
		SET status = 'done', last_error = '', updated_at = $2
		WHERE id = $1
	`, id, q.tx.now())
}

func (q cancellationQueue) Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	return q.exec(ctx, `
		UPDATE upstream_cancellations
		SET attempts = $3, next_attempt_at = $4, last_error = $5, updated_at = $2
		WHERE id = $1
	`, id, q.tx.now(), attempts, next, lastErr)
}

func (q cancellationQueue) MarkStuck(ctx context.Context, id string, attempts int, lastErr string) error {
	return q.exec(ctx, `
		UPDATE upstream_cancellations
		SET status = 'stuck', attempts = $3, last_error = $4, updated_at = $2
		WHERE id = $1
	`, id, q.tx.now(), attempts, lastErr)
}

func (q cancellationQueue) Stats(ctx context.Context) (domain.CancellationStats, error) {
	var stats domain.CancellationStats
	if err := q.tx.q.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'stuck')
		FROM upstream_cancellations
	`).Scan(&stats.Pending, &stats.Stuck); err != nil {
		return domain.CancellationStats{}, fmt.Errorf("upstream cancellation stats: %w", err)
	}
	return stats, nil
}

func (q cancellationQueue) exec(ctx context.Context, query string, args ...any) error {
	res, err := q.tx.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update upstream cancellation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCancellationNotFound
	}
	return nil
}

var _ domain.CancellationQueue = cancellationQueue{}
