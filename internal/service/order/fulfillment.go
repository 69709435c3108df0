package order

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

var fulfillmentEvents = map[domain.OrderStatus]struct {
	from      domain.OrderStatus
	eventType string
}{
	domain.OrderStatusShipped:   {from: domain.OrderStatusProcessing, eventType: domain.EventOrderShipped},
	domain.OrderStatusDelivered: {from: domain.OrderStatusShipped, eventType: domain.EventOrderDelivered},
}

// AdvanceFulfillment выполняет операторские переходы PROCESSING→SHIPPED→DELIVERED.
// Любой другой переход, в том числе через шаг, отклоняется.
func (s *Service) AdvanceFulfillment(ctx context.Context, orderID string, next domain.OrderStatus) (order domain.Order, err error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "AdvanceFulfillment", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.String("status", string(next)),
	))
	defer func() { s.finish(span, "advance_fulfillment", started, err) }()

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		current, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		step, ok := fulfillmentEvents[next]
		if !ok || current.Status != step.from {
			return &domain.InvalidTransitionError{From: current.Status, To: next}
		}
		if err := s.TransitionInTx(ctx, tx, &current, next, step.eventType, ReasonFulfillment); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrder(orderID, err)
	}
	return order, nil
}
