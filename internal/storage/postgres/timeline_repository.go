package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type timelineRepository struct {
	tx *pgTx
}

func (r timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = r.tx.now()
	}

	if _, err := r.tx.q.ExecContext(ctx, `
		INSERT INTO order_timeline (order_id, event_type, reason, occurred_at)
		VALUES ($1, $2, $3, $4)
	`, event.OrderID, event.Type, event.Reason, event.Occurred); err != nil {
		return fmt.Errorf("insert timeline event: %w", err)
	}
	return nil
}

func (r timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	rows, err := r.tx.q.QueryContext(ctx, `
		SELECT order_id, event_type, reason, occurred_at
		FROM order_timeline
		WHERE order_id = $1
		ORDER BY occurred_at, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.OrderID, &event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return events, nil
}

var _ domain.TimelineRepository = timelineRepository{}
