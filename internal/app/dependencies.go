package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/cancellation"
	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
	"github.com/vladislavdragonenkov/checkout/internal/service/idempotency"
	"github.com/vladislavdragonenkov/checkout/internal/service/inventory"
	"github.com/vladislavdragonenkov/checkout/internal/service/order"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
	"github.com/vladislavdragonenkov/checkout/internal/storage/rediscache"
)

// Dependencies содержит собранный граф сервисов приложения.
type Dependencies struct {
	Store   domain.Store
	Gateway domain.PaymentGateway
	Metrics *metrics.CheckoutMetrics

	Inventory    *inventory.Service
	Carts        *cart.Service
	Orders       *order.Service
	Cancellation *cancellation.Service
	CancelWorker *cancellation.Worker
	Sweeper      *cancellation.ExpirySweeper
	Webhooks     *webhook.Reconciler
	Retention    *idempotency.RetentionWorker

	// EventCache задан, только если настроен Redis.
	EventCache *rediscache.EventCache

	redis  *redis.Client
	logger *log.Entry
}

// NewDependencies открывает хранилище и собирает сервисы поверх него.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return buildDependencies(store, buildGateway(cfg, logger), cfg, logger), nil
}

// buildDependencies собирает сервисы над готовыми хранилищем и шлюзом.
func buildDependencies(store domain.Store, gateway domain.PaymentGateway, cfg Config, logger *log.Entry) *Dependencies {
	checkoutMetrics := metrics.NewCheckoutMetrics()

	deps := &Dependencies{
		Store:   store,
		Gateway: gateway,
		Metrics: checkoutMetrics,
		logger:  logger,
	}

	deps.Inventory = inventory.NewService(store, logger.WithField("service", "inventory"))
	deps.Carts = cart.NewService(store, cfg.Pricing, logger.WithField("service", "cart"))
	deps.Orders = order.NewService(store, gateway, order.Options{
		Pricing:        cfg.Pricing,
		Currency:       cfg.Currency,
		EventRetention: cfg.EventRetention,
		Logger:         logger.WithField("service", "order"),
		Metrics:        checkoutMetrics,
	})

	deps.CancelWorker = cancellation.NewWorker(store.Cancellations(), gateway,
		cancellation.WithWorkerLogger(logger.WithField("worker", "upstream-cancel")),
		cancellation.WithWorkerMetrics(checkoutMetrics),
		cancellation.WithPollInterval(cfg.CancelPollInterval),
		cancellation.WithRetry(payment.DefaultRetryConfig()),
	)
	deps.Cancellation = cancellation.NewService(store, deps.Orders,
		cancellation.WithLogger(logger.WithField("service", "cancellation")),
		cancellation.WithMetrics(checkoutMetrics),
		cancellation.WithWakeup(deps.CancelWorker.Wake),
	)
	deps.Sweeper = cancellation.NewExpirySweeper(store.Orders(), deps.Cancellation, cancellation.SweeperConfig{
		Window:      cfg.PaymentWindow,
		Interval:    cfg.ExpirySweepInterval,
		BatchSize:   cfg.ExpiryBatchSize,
		Parallelism: cfg.ExpiryParallelism,
		Logger:      logger.WithField("worker", "expiry-sweeper"),
		Metrics:     checkoutMetrics,
	})

	deps.Retention = idempotency.NewRetentionWorker(store.ProcessedEvents(),
		idempotency.WithLogger(logger.WithField("worker", "event-retention")),
		idempotency.WithInterval(cfg.EventCleanupInterval),
		idempotency.WithBatchSize(cfg.EventCleanupBatchSize),
	)

	webhookCfg := webhook.Config{
		Verifier: gateway,
		Applier:  deps.Orders,
		Secret:   cfg.WebhookSecret,
		Logger:   logger.WithField("component", "webhook-reconciler"),
		Metrics:  checkoutMetrics,
	}
	if cfg.Gateway == GatewayStripe {
		webhookCfg.Decoder = webhook.DecoderFunc(payment.DecodeStripeEvent)
	}
	if cfg.RedisAddr != "" {
		deps.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		deps.EventCache = rediscache.NewEventCache(deps.redis, cfg.WebhookCacheTTL)
		webhookCfg.Cache = deps.EventCache
		logger.WithField("redis_addr", cfg.RedisAddr).Info("webhook event cache enabled")
	}
	deps.Webhooks = webhook.NewReconciler(webhookCfg)

	return deps
}

// buildGateway создаёт клиента платёжного провайдера под предохранителем.
func buildGateway(cfg Config, logger *log.Entry) domain.PaymentGateway {
	var gateway domain.PaymentGateway
	switch cfg.Gateway {
	case GatewayStripe:
		opts := []payment.StripeOption{payment.WithStripeLogger(logger.WithField("gateway", "stripe"))}
		if cfg.StripeBackendURL != "" {
			opts = append(opts, payment.WithStripeBackendURL(cfg.StripeBackendURL))
		}
		gateway = payment.NewStripeGateway(cfg.StripeSecretKey, opts...)
	default:
		logger.Warn("using fake payment gateway")
		gateway = payment.NewFakeGateway()
	}

	breaker := payment.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, logger.WithField("component", "gateway-breaker"))
	return payment.NewBreakerGateway(gateway, breaker)
}

// Close освобождает хранилище и клиентов.
func (d *Dependencies) Close() error {
	var errs []error
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := d.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}
