package domain

import (
	"context"
	"time"
)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// GatewayResultApplier применяет результат провайдера к заказу. Реализуется OrderService.
type GatewayResultApplier interface {
	ApplyGatewayResult(ctx context.Context, handle string, outcome GatewayOutcome, eventID string) (ApplyResult, error)
}

// ApplyResult — итог применения события шлюза.
type ApplyResult struct {
	OrderID string
	Status  OrderStatus
	Result  EventResult
}
