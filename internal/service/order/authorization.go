package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// AttachAuthorizationHandle привязывает авторизацию к заказу PENDING без авторизации.
// В остальных случаях ничего не меняет и возвращает attached=false.
func (s *Service) AttachAuthorizationHandle(ctx context.Context, orderID string, auth domain.Authorization) (order domain.Order, attached bool, err error) {
	if auth.Handle == "" {
		return domain.Order{}, false, fmt.Errorf("%w: empty handle", domain.ErrAuthorizationMissing)
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		current, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		order = current
		if current.HasAuthorization() || current.Status != domain.OrderStatusPending {
			return nil
		}

		now := s.now()
		auth.AttachedAt = now
		current.Authorization = &auth
		current.UpdatedAt = now
		if err := tx.Orders().Save(ctx, current); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		current.Version++
		if err := s.recordEvent(ctx, tx, current, domain.EventAuthorizationAttached, ""); err != nil {
			return err
		}
		order = current
		attached = true
		return nil
	})
	if err != nil {
		return domain.Order{}, false, wrapOrder(orderID, err)
	}

	logger := s.logger.WithFields(log.Fields{"order_id": orderID, "handle": auth.Handle})
	if attached {
		logger.Info("Payment authorization attached")
	} else {
		logger.Debug("Payment authorization attach skipped")
	}
	return order, attached, nil
}

// RequestAuthorization открывает авторизацию у шлюза на сумму заказа и привязывает её.
// Повторный вызов возвращает уже привязанную авторизацию. Если параллельный запрос успел
// привязать другую, лишняя авторизация ставится в очередь на отмену.
func (s *Service) RequestAuthorization(ctx context.Context, orderID, userID string) (order domain.Order, err error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "RequestAuthorization", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer func() { s.finish(span, "request_authorization", started, err) }()

	order, err = s.Get(ctx, orderID, userID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.HasAuthorization() {
		return order, nil
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, &domain.InvalidTransitionError{From: order.Status, To: domain.OrderStatusProcessing}
	}

	auth, err := s.gateway.CreateAuthorization(ctx, domain.AuthorizationRequest{
		OrderID:  order.ID,
		Amount:   order.Totals.Total,
		Currency: order.Currency,
	})
	s.metrics.RecordGatewayCall("create_authorization", err)
	if err != nil {
		return domain.Order{}, wrapOrder(orderID, fmt.Errorf("create authorization: %w", err))
	}

	order, attached, err := s.AttachAuthorizationHandle(ctx, orderID, auth)
	if err != nil {
		s.scheduleOrphanCancel(ctx, orderID, auth.Handle)
		return domain.Order{}, err
	}
	if !attached && (!order.HasAuthorization() || order.Authorization.Handle != auth.Handle) {
		s.scheduleOrphanCancel(ctx, orderID, auth.Handle)
	}
	return order, nil
}

func (s *Service) scheduleOrphanCancel(ctx context.Context, orderID, handle string) {
	now := s.now()
	err := s.store.Cancellations().Enqueue(ctx, domain.UpstreamCancellation{
		ID:            uuid.NewString(),
		OrderID:       orderID,
		Handle:        handle,
		Status:        domain.CancellationStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	logger := s.logger.WithFields(log.Fields{"order_id": orderID, "handle": handle})
	if err != nil {
		logger.WithError(err).Error("Failed to schedule cancellation of orphaned authorization")
		return
	}
	logger.Warn("Orphaned authorization scheduled for cancellation")
}

// ConfirmAuthorization спрашивает у шлюза итог авторизации и применяет его так же,
// как вебхук. Идентификатор события синтетический, поэтому повторный confirm с тем же
// итогом не применяется дважды, а вебхук с тем же итогом будет проигнорирован по статусу.
func (s *Service) ConfirmAuthorization(ctx context.Context, orderID, userID string) (order domain.Order, err error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "ConfirmAuthorization", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer func() { s.finish(span, "confirm_authorization", started, err) }()

	order, err = s.Get(ctx, orderID, userID)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.HasAuthorization() {
		return domain.Order{}, wrapOrder(orderID, domain.ErrAuthorizationMissing)
	}
	if order.Status != domain.OrderStatusPending {
		return order, nil
	}

	handle := order.Authorization.Handle
	outcome, err := s.gateway.ConfirmAuthorization(ctx, handle)
	s.metrics.RecordGatewayCall("confirm_authorization", err)
	if err != nil {
		return domain.Order{}, wrapOrder(orderID, fmt.Errorf("confirm authorization: %w", err))
	}

	if outcome == domain.GatewayOutcomeCanceled {
		outcome = domain.GatewayOutcomeFailed
	}
	if outcome != domain.GatewayOutcomeSucceeded && outcome != domain.GatewayOutcomeFailed {
		return order, nil
	}

	if _, err := s.ApplyGatewayResult(ctx, handle, outcome, ConfirmEventID(handle, outcome)); err != nil {
		return domain.Order{}, err
	}
	return s.store.Orders().Get(ctx, orderID)
}

// ConfirmEventID строит идентификатор события для результата, полученного через confirm.
func ConfirmEventID(handle string, outcome domain.GatewayOutcome) string {
	return fmt.Sprintf("confirm:%s:%s", handle, outcome)
}
