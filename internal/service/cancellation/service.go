package cancellation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/order"
)

// Transitioner применяет переход заказа внутри транзакции. Реализуется order.Service.
type Transitioner interface {
	TransitionInTx(ctx context.Context, tx domain.Tx, order *domain.Order, next domain.OrderStatus, eventType, reason string) error
}

// Service отменяет неоплаченные заказы. Отмена локальная и авторитетная: резервы
// снимаются сразу, а отмена авторизации у шлюза уходит в durable-очередь.
type Service struct {
	store   domain.Store
	orders  Transitioner
	now     func() time.Time
	logger  *log.Entry
	metrics *metrics.CheckoutMetrics
	tracer  trace.Tracer
	wake    func()
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithWakeup задаёт функцию, будящую воркер отмен после коммита.
func WithWakeup(wake func()) Option {
	return func(s *Service) {
		s.wake = wake
	}
}

// NewService создаёт сервис отмены.
func NewService(store domain.Store, orders Transitioner, opts ...Option) *Service {
	s := &Service{
		store:  store,
		orders: orders,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.New().WithField("component", "cancellation-service"),
		tracer: otel.Tracer("github.com/vladislavdragonenkov/checkout/internal/service/cancellation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cancel отменяет заказ пользователя. Допустимо только из PENDING; уже отменённый
// заказ возвращается без изменений. Чужой заказ неотличим от несуществующего.
func (s *Service) Cancel(ctx context.Context, orderID, userID string) (domain.Order, error) {
	return s.cancel(ctx, orderID, userID, true, order.ReasonUserCancelled)
}

// Expire отменяет заказ по истечении окна оплаты, без проверки владельца.
func (s *Service) Expire(ctx context.Context, orderID string) (domain.Order, error) {
	return s.cancel(ctx, orderID, "", false, order.ReasonExpired)
}

func (s *Service) cancel(ctx context.Context, orderID, userID string, checkOwner bool, reason string) (result domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "cancellation.Cancel", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.String("reason", reason),
	))
	started := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration("cancel_order", time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var queued bool
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		current, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if checkOwner && !current.OwnedBy(userID) {
			return domain.ErrOrderNotFound
		}

		switch current.Status {
		case domain.OrderStatusCancelled:
			result = current
			return nil
		case domain.OrderStatusPending:
		default:
			return &domain.InvalidTransitionError{From: current.Status, To: domain.OrderStatusCancelled}
		}

		if err := s.orders.TransitionInTx(ctx, tx, &current, domain.OrderStatusCancelled, domain.EventOrderCancelled, reason); err != nil {
			return err
		}

		if current.HasAuthorization() {
			now := s.now()
			if err := tx.Cancellations().Enqueue(ctx, domain.UpstreamCancellation{
				ID:            uuid.NewString(),
				OrderID:       current.ID,
				Handle:        current.Authorization.Handle,
				Status:        domain.CancellationStatusPending,
				NextAttemptAt: now,
				CreatedAt:     now,
				UpdatedAt:     now,
			}); err != nil {
				return fmt.Errorf("enqueue upstream cancellation: %w", err)
			}
			queued = true
		}
		result = current
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("Order cancellation rejected")
		return domain.Order{}, fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	if queued && s.wake != nil {
		s.wake()
	}
	return result, nil
}
