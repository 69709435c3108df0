package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// ApplyGatewayResult — единственная точка, где результат шлюза меняет заказ.
//
// Событие сначала фиксируется в журнале по eventID в той же транзакции, что и переход,
// поэтому повторная доставка ничего не меняет. Заказ ищется по handle под блокировкой
// строки. Если заказа с таким handle нет, транзакция откатывается вместе с записью
// журнала и шлюз сможет доставить событие повторно. Переход, недопустимый из текущего
// статуса, логируется и фиксируется как ignored.
func (s *Service) ApplyGatewayResult(ctx context.Context, handle string, outcome domain.GatewayOutcome, eventID string) (result domain.ApplyResult, err error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "ApplyGatewayResult", trace.WithAttributes(
		attribute.String("handle", handle),
		attribute.String("event_id", eventID),
		attribute.String("outcome", string(outcome)),
	))
	defer func() { s.finish(span, "apply_gateway_result", started, err) }()

	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.ApplyResult{}, domain.ErrEventIDRequired
	}
	if handle == "" {
		return domain.ApplyResult{}, fmt.Errorf("%w: empty handle", domain.ErrMalformedEvent)
	}

	logger := s.logger.WithFields(log.Fields{
		"handle":   handle,
		"event_id": eventID,
		"outcome":  outcome,
	})

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		now := s.now()
		claimed, err := tx.ProcessedEvents().Claim(ctx, domain.ProcessedEvent{
			EventID:     eventID,
			Handle:      handle,
			Outcome:     outcome,
			ProcessedAt: now,
			ExpiresAt:   now.Add(s.retention),
		})
		if err != nil {
			return fmt.Errorf("claim event: %w", err)
		}
		if !claimed {
			result, err = s.duplicateResult(ctx, tx, eventID)
			return err
		}

		order, err := tx.Orders().GetByHandleForUpdate(ctx, handle)
		if errors.Is(err, domain.ErrOrderNotFound) {
			var orphaned bool
			result, orphaned, err = s.orphanResult(ctx, tx, handle)
			if err != nil {
				return err
			}
			if orphaned {
				logger.WithField("order_id", result.OrderID).Info("Gateway result for orphaned authorization ignored")
				return tx.ProcessedEvents().Resolve(ctx, eventID, result.OrderID, result.Result)
			}
			err = domain.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("order for handle %s: %w", handle, err)
		}

		applied, err := s.applyOutcome(ctx, tx, &order, outcome)
		if err != nil {
			return err
		}

		result = domain.ApplyResult{OrderID: order.ID, Status: order.Status, Result: domain.EventResultIgnored}
		if applied {
			result.Result = domain.EventResultApplied
		}
		return tx.ProcessedEvents().Resolve(ctx, eventID, order.ID, result.Result)
	})
	if err != nil {
		logger.WithError(err).Warn("Gateway result not applied")
		return domain.ApplyResult{}, err
	}

	s.metrics.RecordGatewayEvent(string(outcome), string(result.Result))
	span.SetAttributes(attribute.String("order_id", result.OrderID), attribute.String("result", string(result.Result)))
	logger.WithFields(log.Fields{
		"order_id": result.OrderID,
		"status":   result.Status,
		"result":   result.Result,
	}).Info("Gateway result processed")
	return result, nil
}

// applyOutcome возвращает true, если событие изменило заказ.
func (s *Service) applyOutcome(ctx context.Context, tx domain.Tx, order *domain.Order, outcome domain.GatewayOutcome) (bool, error) {
	var (
		next      domain.OrderStatus
		eventType string
		reason    string
	)
	switch outcome {
	case domain.GatewayOutcomeSucceeded:
		next, eventType, reason = domain.OrderStatusProcessing, domain.EventPaymentSucceeded, ReasonPaymentSucceeded
	case domain.GatewayOutcomeFailed, domain.GatewayOutcomeCanceled:
		next, eventType, reason = domain.OrderStatusCancelled, domain.EventPaymentFailed, ReasonPaymentFailed
	case domain.GatewayOutcomeRefunded:
		next, eventType, reason = domain.OrderStatusCancelled, domain.EventPaymentRefunded, ReasonPaymentRefunded
	default:
		return false, nil
	}

	// Отказ оплаты отменяет только неоплаченный заказ, возврат отменяет только оплаченный.
	required := domain.OrderStatusPending
	if outcome == domain.GatewayOutcomeRefunded {
		required = domain.OrderStatusProcessing
	}
	if order.Status != required {
		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"status":   order.Status,
			"outcome":  outcome,
		}).WithError(&domain.InvalidTransitionError{From: order.Status, To: next}).
			Warn("Gateway result ignored for current order status")
		return false, nil
	}

	if err := s.TransitionInTx(ctx, tx, order, next, eventType, reason); err != nil {
		return false, err
	}
	return true, nil
}

// orphanResult распознаёт handle авторизации, проигравшей гонку за привязку к заказу.
// Такие авторизации известны только очереди отмен.
func (s *Service) orphanResult(ctx context.Context, tx domain.Tx, handle string) (domain.ApplyResult, bool, error) {
	job, err := tx.Cancellations().GetByHandle(ctx, handle)
	if errors.Is(err, domain.ErrCancellationNotFound) {
		return domain.ApplyResult{}, false, nil
	}
	if err != nil {
		return domain.ApplyResult{}, false, fmt.Errorf("cancellation for handle %s: %w", handle, err)
	}

	result := domain.ApplyResult{OrderID: job.OrderID, Result: domain.EventResultIgnored}
	order, err := tx.Orders().Get(ctx, job.OrderID)
	switch {
	case err == nil:
		result.Status = order.Status
	case !errors.Is(err, domain.ErrOrderNotFound):
		return domain.ApplyResult{}, false, err
	}
	return result, true, nil
}

func (s *Service) duplicateResult(ctx context.Context, tx domain.Tx, eventID string) (domain.ApplyResult, error) {
	result := domain.ApplyResult{Result: domain.EventResultDuplicate}

	record, err := tx.ProcessedEvents().Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			return result, nil
		}
		return domain.ApplyResult{}, fmt.Errorf("load processed event: %w", err)
	}
	result.OrderID = record.OrderID
	if record.OrderID == "" {
		return result, nil
	}

	order, err := tx.Orders().Get(ctx, record.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return result, nil
		}
		return domain.ApplyResult{}, err
	}
	result.Status = order.Status
	return result, nil
}
