package cancellation

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultBatchSize    = 50
	defaultLease        = 30 * time.Second
	defaultCallTimeout  = 10 * time.Second
)

// WorkerOptions задаёт параметры воркера отмен.
type WorkerOptions struct {
	Logger       *log.Entry
	Metrics      *metrics.CheckoutMetrics
	PollInterval time.Duration
	BatchSize    int
	Lease        time.Duration
	CallTimeout  time.Duration
	Retry        payment.RetryConfig
	Now          func() time.Time
}

// WorkerOption настраивает Worker.
type WorkerOption func(*WorkerOptions)

// WithWorkerLogger задаёт logger.
func WithWorkerLogger(logger *log.Entry) WorkerOption {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithWorkerMetrics задаёт метрики.
func WithWorkerMetrics(m *metrics.CheckoutMetrics) WorkerOption {
	return func(opts *WorkerOptions) {
		opts.Metrics = m
	}
}

// WithPollInterval задаёт частоту опроса очереди.
func WithPollInterval(interval time.Duration) WorkerOption {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithRetry задаёт backoff и число попыток до статуса stuck.
func WithRetry(cfg payment.RetryConfig) WorkerOption {
	return func(opts *WorkerOptions) {
		opts.Retry = cfg
	}
}

// WithWorkerClock подменяет источник времени.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(opts *WorkerOptions) {
		opts.Now = now
	}
}

// Worker доводит до шлюза отмены авторизаций. UpstreamUnavailable повторяется с
// экспоненциальной задержкой; после MaxAttempts или отказа шлюза задача становится stuck.
type Worker struct {
	queue       domain.CancellationQueue
	gateway     domain.PaymentGateway
	logger      *log.Entry
	metrics     *metrics.CheckoutMetrics
	interval    time.Duration
	batchSize   int
	lease       time.Duration
	callTimeout time.Duration
	retry       payment.RetryConfig
	now         func() time.Time
	wake        chan struct{}
}

// NewWorker создаёт воркер отмен.
func NewWorker(queue domain.CancellationQueue, gateway domain.PaymentGateway, options ...WorkerOption) *Worker {
	opts := WorkerOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		Lease:        defaultLease,
		CallTimeout:  defaultCallTimeout,
		Retry:        payment.DefaultRetryConfig(),
		Now:          func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "upstream-cancel-worker")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Lease <= 0 {
		opts.Lease = defaultLease
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = payment.DefaultRetryConfig().MaxAttempts
	}

	return &Worker{
		queue:       queue,
		gateway:     gateway,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		interval:    opts.PollInterval,
		batchSize:   opts.BatchSize,
		lease:       opts.Lease,
		callTimeout: opts.CallTimeout,
		retry:       opts.Retry,
		now:         opts.Now,
		wake:        make(chan struct{}, 1),
	}
}

// Wake просит воркер обработать очередь, не дожидаясь тика.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run обрабатывает очередь до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.queue == nil || w.gateway == nil {
		w.logger.Warn("upstream cancel worker is disabled: queue or gateway is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		case <-w.wake:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce берёт готовые задачи и делает по одной попытке для каждой.
// Возвращает число обработанных задач.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.refreshBacklogMetrics(ctx)

	jobs, err := w.queue.LeaseDue(ctx, w.now(), w.lease, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to lease upstream cancellations")
		return 0
	}

	for i, job := range jobs {
		if ctx.Err() != nil {
			return i
		}
		w.attempt(ctx, job)
	}
	return len(jobs)
}

func (w *Worker) attempt(ctx context.Context, job domain.UpstreamCancellation) {
	logger := w.logger.WithFields(log.Fields{
		"job_id":   job.ID,
		"order_id": job.OrderID,
		"handle":   job.Handle,
	})

	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	outcome, err := w.gateway.CancelAuthorization(callCtx, job.Handle)
	cancel()
	w.metrics.RecordGatewayCall("cancel_authorization", err)

	attempts := job.Attempts + 1
	switch {
	case err == nil:
		if markErr := w.queue.MarkDone(ctx, job.ID); markErr != nil {
			logger.WithError(markErr).Warn("failed to mark upstream cancellation done")
			return
		}
		w.metrics.RecordUpstreamCancellation("done")
		logger.WithField("outcome", outcome).Info("Authorization canceled upstream")

	case errors.Is(err, domain.ErrUpstreamUnavailable) && attempts < w.retry.MaxAttempts:
		next := w.now().Add(w.retry.Delay(attempts))
		if markErr := w.queue.Reschedule(ctx, job.ID, attempts, next, err.Error()); markErr != nil {
			logger.WithError(markErr).Warn("failed to reschedule upstream cancellation")
			return
		}
		w.metrics.RecordUpstreamCancellation("retry")
		logger.WithError(err).WithFields(log.Fields{
			"attempt":         attempts,
			"next_attempt_at": next,
		}).Warn("Upstream cancellation failed, will retry")

	default:
		if markErr := w.queue.MarkStuck(ctx, job.ID, attempts, err.Error()); markErr != nil {
			logger.WithError(markErr).Warn("failed to mark upstream cancellation stuck")
			return
		}
		w.metrics.RecordUpstreamCancellation("stuck")
		logger.WithError(err).WithField("attempt", attempts).
			Error("Upstream cancellation is stuck, operator action required")
	}
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	stats, err := w.queue.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect upstream cancellation stats")
		return
	}
	w.metrics.SetCancellationBacklog(stats.Pending, stats.Stuck)
}
