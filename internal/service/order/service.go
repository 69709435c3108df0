package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
)

const tracerName = "github.com/vladislavdragonenkov/checkout/internal/service/order"

// DefaultEventRetention — сколько хранится запись об обработанном событии шлюза.
const DefaultEventRetention = 7 * 24 * time.Hour

// Options настраивает Service.
type Options struct {
	Pricing        domain.PricingPolicy
	Currency       string
	EventRetention time.Duration
	Now            func() time.Time
	Logger         *log.Entry
	Metrics        *metrics.CheckoutMetrics
}

// Service — транзакционное ядро заказа: создание из корзины, авторизация оплаты
// и единственная точка применения результатов шлюза.
type Service struct {
	store       domain.Store
	gateway     domain.PaymentGateway
	snapshotter *cart.Snapshotter
	pricing     domain.PricingPolicy
	currency    string
	retention   time.Duration
	now         func() time.Time
	logger      *log.Entry
	metrics     *metrics.CheckoutMetrics
	tracer      trace.Tracer
}

// NewService создаёт сервис заказов.
func NewService(store domain.Store, gateway domain.PaymentGateway, opts Options) *Service {
	if opts.Pricing == (domain.PricingPolicy{}) {
		opts.Pricing = domain.DefaultPricingPolicy()
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.EventRetention <= 0 {
		opts.EventRetention = DefaultEventRetention
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = log.New().WithField("component", "order-service")
	}

	return &Service{
		store:       store,
		gateway:     gateway,
		snapshotter: cart.NewSnapshotter(opts.Now),
		pricing:     opts.Pricing,
		currency:    strings.ToLower(opts.Currency),
		retention:   opts.EventRetention,
		now:         opts.Now,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tracer:      otel.Tracer(tracerName),
	}
}

// Get возвращает заказ пользователя. Чужой заказ неотличим от несуществующего.
func (s *Service) Get(ctx context.Context, orderID, userID string) (domain.Order, error) {
	order, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.OwnedBy(userID) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// Lookup возвращает заказ без проверки владельца (операторские сценарии).
func (s *Service) Lookup(ctx context.Context, orderID string) (domain.Order, error) {
	return s.store.Orders().Get(ctx, orderID)
}

// List возвращает заказы пользователя, новые первыми.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	return s.store.Orders().ListByUser(ctx, userID, limit)
}

// Timeline возвращает историю заказа пользователя.
func (s *Service) Timeline(ctx context.Context, orderID, userID string) ([]domain.TimelineEvent, error) {
	if _, err := s.Get(ctx, orderID, userID); err != nil {
		return nil, err
	}
	return s.store.Timeline().List(ctx, orderID)
}

func (s *Service) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "order."+name, opts...)
}

func (s *Service) finish(span trace.Span, operation string, started time.Time, err error) {
	s.metrics.RecordOperationDuration(operation, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, domain.ErrIdempotencyKeyConflict):
		return "idempotency_conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

func requireField(value string, err error) error {
	if strings.TrimSpace(value) == "" {
		return err
	}
	return nil
}

func wrapOrder(orderID string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("order %s: %w", orderID, err)
}
