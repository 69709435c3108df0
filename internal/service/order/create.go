package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// CreateOrderRequest — параметры оформления заказа.
type CreateOrderRequest struct {
	UserID          string
	ShippingAddress string
	BillingAddress  string
	IdempotencyKey  string
}

func (r CreateOrderRequest) validate() error {
	if err := requireField(r.UserID, domain.ErrUserRequired); err != nil {
		return err
	}
	if err := requireField(r.ShippingAddress, domain.ErrAddressRequired); err != nil {
		return err
	}
	if err := requireField(r.BillingAddress, domain.ErrAddressRequired); err != nil {
		return err
	}
	return requireField(r.IdempotencyKey, domain.ErrIdempotencyKeyRequired)
}

// CreateOrder превращает корзину в заказ PENDING в одной транзакции: снимок, резервы,
// расчёт суммы, сохранение, очистка корзины. Повтор с тем же ключом возвращает
// существующий заказ без повторного резервирования. К шлюзу не обращается.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (order domain.Order, err error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "CreateOrder", trace.WithAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("idempotency_key", req.IdempotencyKey),
	))
	defer func() { s.finish(span, "create_order", started, err) }()

	if err := req.validate(); err != nil {
		return domain.Order{}, err
	}

	var replayed bool
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Orders().LockIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
			return fmt.Errorf("lock idempotency key: %w", err)
		}

		existing, err := tx.Orders().GetByIdempotencyKey(ctx, req.IdempotencyKey)
		switch {
		case err == nil:
			if existing.UserID != req.UserID {
				return domain.ErrIdempotencyKeyConflict
			}
			order = existing
			replayed = true
			return nil
		case !errors.Is(err, domain.ErrOrderNotFound):
			return fmt.Errorf("lookup idempotency key: %w", err)
		}

		snapshot, err := s.snapshotter.Capture(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		orderID := uuid.NewString()
		tokens, err := s.reserveAll(ctx, tx.Inventory(), orderID, snapshot.Lines())
		if err != nil {
			return err
		}

		now := s.now()
		order = domain.Order{
			ID:              orderID,
			UserID:          req.UserID,
			Status:          domain.OrderStatusPending,
			IdempotencyKey:  req.IdempotencyKey,
			ShippingAddress: req.ShippingAddress,
			BillingAddress:  req.BillingAddress,
			Lines:           snapshot.OrderLines(),
			Totals:          s.pricing.Compute(snapshot.Subtotal()),
			Currency:        s.currency,
			Reservations:    tokens,
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := tx.Carts().Clear(ctx, req.UserID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return s.recordEvent(ctx, tx, order, domain.EventOrderCreated, "")
	})
	if err != nil {
		s.metrics.RecordOrderCreateFailure(failureReason(err))
		s.logger.WithError(err).WithFields(log.Fields{
			"user_id":         req.UserID,
			"idempotency_key": req.IdempotencyKey,
		}).Warn("Order creation failed")
		return domain.Order{}, err
	}

	span.SetAttributes(attribute.String("order_id", order.ID), attribute.Bool("replayed", replayed))
	logger := s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"total":    order.Totals.Total.StringFixed(2),
	})
	if replayed {
		logger.Info("Order creation replayed by idempotency key")
		return order, nil
	}
	s.metrics.RecordOrderCreated()
	logger.Info("Order created")
	return order, nil
}

// reserveAll резервирует строки по порядку. При ошибке снимает уже взятые резервы,
// даже если транзакция всё равно откатится.
func (s *Service) reserveAll(ctx context.Context, ledger domain.InventoryLedger, orderID string, lines []domain.SnapshotLine) ([]domain.ReservationToken, error) {
	tokens := make([]domain.ReservationToken, 0, len(lines))
	for _, line := range lines {
		token, err := ledger.Reserve(ctx, orderID, line.ProductID, line.Qty)
		if err != nil {
			for i := len(tokens) - 1; i >= 0; i-- {
				if relErr := ledger.Release(ctx, tokens[i]); relErr != nil {
					s.logger.WithError(relErr).WithFields(log.Fields{
						"order_id":   orderID,
						"product_id": tokens[i].ProductID,
					}).Warn("Failed to release reservation after partial reserve")
				}
			}
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}
