package cancellation

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

const (
	// DefaultPaymentWindow — сколько заказ может ждать оплату в PENDING.
	DefaultPaymentWindow = 30 * time.Minute

	defaultSweepInterval = time.Minute
	defaultSweepBatch    = 100
	defaultParallelism   = 4
)

// ExpirySweeper отменяет заказы, застрявшие в PENDING дольше окна оплаты.
type ExpirySweeper struct {
	orders      domain.OrderRepository
	canceler    *Service
	window      time.Duration
	interval    time.Duration
	batchSize   int
	parallelism int
	now         func() time.Time
	logger      *log.Entry
	metrics     *metrics.CheckoutMetrics
}

// SweeperConfig задаёт параметры ExpirySweeper.
type SweeperConfig struct {
	Window      time.Duration
	Interval    time.Duration
	BatchSize   int
	Parallelism int
	Now         func() time.Time
	Logger      *log.Entry
	Metrics     *metrics.CheckoutMetrics
}

// NewExpirySweeper создаёт sweeper.
func NewExpirySweeper(orders domain.OrderRepository, canceler *Service, cfg SweeperConfig) *ExpirySweeper {
	if cfg.Window <= 0 {
		cfg.Window = DefaultPaymentWindow
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatch
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithField("component", "expiry-sweeper")
	}

	return &ExpirySweeper{
		orders:      orders,
		canceler:    canceler,
		window:      cfg.Window,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		parallelism: cfg.Parallelism,
		now:         cfg.Now,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// Run периодически отменяет просроченные заказы до отмены ctx.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce обрабатывает одну пачку просроченных заказов и возвращает число отменённых.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	cutoff := s.now().Add(-s.window)
	stale, err := s.orders.ListStale(ctx, domain.OrderStatusPending, cutoff, s.batchSize)
	if err != nil {
		s.logger.WithError(err).Warn("failed to list expired orders")
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		expired   int
		semaphore = make(chan struct{}, s.parallelism)
	)

	for _, candidate := range stale {
		select {
		case <-ctx.Done():
			wg.Wait()
			return expired
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			cancelled, err := s.canceler.Expire(ctx, orderID)
			if err != nil {
				// Оплата могла прийти между выборкой и блокировкой заказа.
				if errors.Is(err, domain.ErrInvalidTransition) {
					return
				}
				s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to expire order")
				return
			}
			if cancelled.Status != domain.OrderStatusCancelled {
				return
			}

			mu.Lock()
			expired++
			mu.Unlock()
			s.metrics.RecordOrderExpired()
		}(candidate.ID)
	}

	wg.Wait()
	if expired > 0 {
		s.logger.WithFields(log.Fields{"expired": expired, "cutoff": cutoff}).Info("Expired pending orders cancelled")
	}
	return expired
}
