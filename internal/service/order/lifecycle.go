package order

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Причины, попадающие в timeline и outbox.
const (
	ReasonPaymentSucceeded = "payment succeeded"
	ReasonPaymentFailed    = "payment failed"
	ReasonPaymentRefunded  = "payment refunded"
	ReasonUserCancelled    = "cancelled by user"
	ReasonExpired          = "payment window expired"
	ReasonFulfillment      = "fulfillment update"
)

type orderEventPayload struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	Total      string    `json:"total"`
	Currency   string    `json:"currency"`
	Handle     string    `json:"handle,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TransitionInTx переводит заблокированный заказ в next внутри транзакции tx:
// двигает резервы, сохраняет заказ, пишет timeline и outbox.
// order должен быть прочитан через GetForUpdate/GetByHandleForUpdate в той же транзакции.
func (s *Service) TransitionInTx(ctx context.Context, tx domain.Tx, order *domain.Order, next domain.OrderStatus, eventType, reason string) error {
	from := order.Status
	now := s.now()
	if err := order.Transition(next, now); err != nil {
		return err
	}

	if err := settleReservations(ctx, tx.Inventory(), order.Reservations, from, next); err != nil {
		return fmt.Errorf("settle reservations: %w", err)
	}

	if err := tx.Orders().Save(ctx, *order); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	order.Version++

	if err := s.recordEvent(ctx, tx, *order, eventType, reason); err != nil {
		return err
	}

	s.metrics.RecordTransition(string(from), string(next))
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     from,
		"to":       next,
		"reason":   reason,
	}).Info("Order status changed")
	return nil
}

// settleReservations выполняет действие над резервами, которое сопровождает переход.
// Товары обходятся по возрастанию id, как и при резервировании.
func settleReservations(ctx context.Context, ledger domain.InventoryLedger, tokens []domain.ReservationToken, from, to domain.OrderStatus) error {
	var apply func(context.Context, domain.ReservationToken) error
	switch {
	case from == domain.OrderStatusPending && to == domain.OrderStatusProcessing:
		apply = ledger.Consume
	case from == domain.OrderStatusPending && to == domain.OrderStatusCancelled:
		apply = ledger.Release
	case from == domain.OrderStatusProcessing && to == domain.OrderStatusCancelled:
		apply = ledger.Restock
	default:
		return nil
	}

	sorted := append([]domain.ReservationToken(nil), tokens...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ProductID != sorted[j].ProductID {
			return sorted[i].ProductID < sorted[j].ProductID
		}
		return sorted[i].ID < sorted[j].ID
	})

	for _, token := range sorted {
		if err := apply(ctx, token); err != nil {
			return fmt.Errorf("product %s: %w", token.ProductID, err)
		}
	}
	return nil
}

func (s *Service) recordEvent(ctx context.Context, tx domain.Tx, order domain.Order, eventType, reason string) error {
	now := s.now()
	if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     eventType,
		Reason:   reason,
		Occurred: now,
	}); err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}
	s.metrics.RecordTimelineEvent()

	payload := orderEventPayload{
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Total:      order.Totals.Total.StringFixed(2),
		Currency:   order.Currency,
		Reason:     reason,
		OccurredAt: now,
	}
	if order.HasAuthorization() {
		payload.Handle = order.Authorization.Handle
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       body,
	}); err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}
	s.metrics.RecordOutboxEvent()
	return nil
}
