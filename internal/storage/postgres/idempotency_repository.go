package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type processedEventRepository struct {
	tx *pgTx
}

// Claim вставляет событие через ON CONFLICT DO NOTHING. Параллельная вставка того же
// event_id ждёт commit первой транзакции и затем получает 0 строк.
func (r processedEventRepository) Claim(ctx context.Context, event domain.ProcessedEvent) (bool, error) {
	event.EventID = strings.TrimSpace(event.EventID)
	if event.EventID == "" {
		return false, domain.ErrEventIDRequired
	}

	now := r.tx.now()
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = now
	}
	if event.ExpiresAt.IsZero() {
		event.ExpiresAt = now.Add(7 * 24 * time.Hour)
	}

	res, err := r.tx.q.ExecContext(ctx, `
		INSERT INTO processed_gateway_events (event_id, handle, order_id, outcome, result, processed_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.Handle, event.OrderID, string(event.Outcome), string(event.Result), event.ProcessedAt, event.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("claim gateway event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r processedEventRepository) Resolve(ctx context.Context, eventID, orderID string, result domain.EventResult) error {
	res, err := r.tx.q.ExecContext(ctx, `
		UPDATE processed_gateway_events
		SET order_id = $2, result = $3
		WHERE event_id = $1
	`, eventID, orderID, string(result))
	if err != nil {
		return fmt.Errorf("resolve gateway event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

func (r processedEventRepository) Get(ctx context.Context, eventID string) (domain.ProcessedEvent, error) {
	var (
		event   domain.ProcessedEvent
		outcome string
		result  string
	)
	err := r.tx.q.QueryRowContext(ctx, `
		SELECT event_id, handle, order_id, outcome, result, processed_at, expires_at
		FROM processed_gateway_events
		WHERE event_id = $1
	`, eventID).Scan(&event.EventID, &event.Handle, &event.OrderID, &outcome, &result, &event.ProcessedAt, &event.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProcessedEvent{}, domain.ErrEventNotFound
	}
	if err != nil {
		return domain.ProcessedEvent{}, fmt.Errorf("select gateway event: %w", err)
	}
	event.Outcome = domain.GatewayOutcome(outcome)
	event.Result = domain.EventResult(result)
	return event, nil
}

func (r processedEventRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.tx.now()
	}
	if limit <= 0 {
		limit = 1000
	}

	res, err := r.tx.q.ExecContext(ctx, `
		DELETE FROM processed_gateway_events
		WHERE event_id IN (
			SELECT event_id
			FROM processed_gateway_events
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired gateway events: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

var _ domain.ProcessedEventRepository = processedEventRepository{}
