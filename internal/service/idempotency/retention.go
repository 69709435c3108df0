package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultRetentionInterval  = 10 * time.Minute
	defaultRetentionBatchSize = 500
)

var (
	eventCleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_processed_events_cleanup_runs_total",
		Help: "Total number of processed gateway event cleanup runs grouped by result.",
	}, []string{"result"})
	eventCleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_processed_events_cleanup_deleted_total",
		Help: "Total number of pruned processed gateway events.",
	})
	eventCleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_processed_events_cleanup_last_deleted",
		Help: "Number of processed gateway events pruned during the last run.",
	})
)

// Ledger — часть журнала событий шлюза, нужная для очистки.
type Ledger interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

var _ Ledger = (domain.ProcessedEventRepository)(nil)

// RetentionOption настраивает RetentionWorker.
type RetentionOption func(*RetentionWorker)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) RetentionOption {
	return func(w *RetentionWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval задает интервал между циклами очистки.
func WithInterval(interval time.Duration) RetentionOption {
	return func(w *RetentionWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задает размер одной порции удаления.
func WithBatchSize(batchSize int) RetentionOption {
	return func(w *RetentionWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) RetentionOption {
	return func(w *RetentionWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// RetentionWorker удаляет записи об обработанных событиях шлюза,
// срок хранения которых истёк. Пока запись жива, повторная доставка
// события распознаётся как дубликат.
type RetentionWorker struct {
	ledger    Ledger
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewRetentionWorker создает воркер очистки журнала событий.
func NewRetentionWorker(ledger Ledger, options ...RetentionOption) *RetentionWorker {
	w := &RetentionWorker{
		ledger:    ledger,
		logger:    log.WithField("component", "processed-events-retention"),
		interval:  defaultRetentionInterval,
		batchSize: defaultRetentionBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run запускает периодическую очистку до отмены ctx.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.ledger == nil {
		w.logger.Warn("processed events retention is disabled: ledger is nil")
		return
	}

	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *RetentionWorker) runOnce(ctx context.Context) {
	deleted, err := w.Prune(ctx, w.now())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		eventCleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("processed events cleanup failed")
		return
	}

	eventCleanupRunsTotal.WithLabelValues("ok").Inc()
	eventCleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("processed events pruned")
	}
}

// Prune удаляет записи с ExpiresAt <= before порциями batchSize.
func (w *RetentionWorker) Prune(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.ledger.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted > 0 {
			eventCleanupDeletedTotal.Add(float64(deleted))
		}
		if deleted < w.batchSize {
			return total, nil
		}
	}
}
