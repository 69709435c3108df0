package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// SignatureVerifier проверяет подпись вебхука. domain.PaymentGateway ему удовлетворяет.
type SignatureVerifier interface {
	VerifyWebhookSignature(payload []byte, signature, secret string) bool
}

// EventCache — необязательный быстрый путь дедупликации.
type EventCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string) error
}

// Ack — подтверждение обработки доставки.
type Ack struct {
	EventID string
	Type    domain.GatewayEventType
	OrderID string
	Status  domain.OrderStatus
	Result  domain.EventResult
}

// Config задаёт зависимости Reconciler.
type Config struct {
	Verifier SignatureVerifier
	Applier  domain.GatewayResultApplier
	Decoder  Decoder
	Secret   string
	Cache    EventCache
	Logger   *log.Entry
	Metrics  *metrics.CheckoutMetrics
}

// Reconciler принимает асинхронные события шлюза и применяет их к заказам.
type Reconciler struct {
	verifier SignatureVerifier
	applier  domain.GatewayResultApplier
	decoder  Decoder
	secret   string
	cache    EventCache
	logger   *log.Entry
	metrics  *metrics.CheckoutMetrics
	tracer   trace.Tracer
}

// NewReconciler создаёт Reconciler. Без Decoder используется JSONDecoder.
func NewReconciler(cfg Config) *Reconciler {
	if cfg.Decoder == nil {
		cfg.Decoder = JSONDecoder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New().WithField("component", "webhook-reconciler")
	}
	return &Reconciler{
		verifier: cfg.Verifier,
		applier:  cfg.Applier,
		decoder:  cfg.Decoder,
		secret:   cfg.Secret,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   otel.Tracer("github.com/vladislavdragonenkov/checkout/internal/service/webhook"),
	}
}

// Handle проверяет подпись, разбирает событие и применяет его через ApplyGatewayResult
// с ключом дедупликации event id. Неверная подпись не трогает состояние.
// Неизвестные типы событий подтверждаются без изменений.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) (ack Ack, err error) {
	ctx, span := r.tracer.Start(ctx, "webhook.Handle")
	started := time.Now()
	defer func() {
		r.metrics.RecordOperationDuration("webhook_handle", time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if r.verifier == nil || !r.verifier.VerifyWebhookSignature(payload, signature, r.secret) {
		r.metrics.RecordWebhookRejected("invalid_signature")
		sum := sha256.Sum256(payload)
		r.logger.WithFields(log.Fields{
			"payload_sha256":    hex.EncodeToString(sum[:]),
			"payload_bytes":     len(payload),
			"signature_present": signature != "",
		}).Warn("Webhook rejected: invalid signature")
		return Ack{}, domain.ErrInvalidSignature
	}

	event, err := r.decoder.DecodeEvent(payload)
	if err != nil {
		r.metrics.RecordWebhookRejected("malformed")
		r.logger.WithError(err).Warn("Webhook rejected: malformed event")
		return Ack{}, err
	}

	span.SetAttributes(
		attribute.String("event_id", event.EventID),
		attribute.String("event_type", string(event.Type)),
		attribute.String("handle", event.Handle),
	)
	ack = Ack{EventID: event.EventID, Type: event.Type}
	logger := r.logger.WithFields(log.Fields{
		"event_id":   event.EventID,
		"event_type": event.Type,
		"handle":     event.Handle,
	})

	outcome, known := event.Type.Outcome()
	if !known {
		ack.Result = domain.EventResultIgnored
		logger.Debug("Webhook event type is not handled, acknowledged")
		return ack, nil
	}

	if r.seen(ctx, event.EventID, logger) {
		ack.Result = domain.EventResultDuplicate
		logger.Debug("Webhook event already applied (cache)")
		return ack, nil
	}

	result, err := r.applier.ApplyGatewayResult(ctx, event.Handle, outcome, event.EventID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			logger.Warn("Webhook event references unknown authorization, gateway will redeliver")
		}
		return Ack{}, err
	}

	ack.OrderID = result.OrderID
	ack.Status = result.Status
	ack.Result = result.Result
	r.remember(ctx, event.EventID, logger)
	return ack, nil
}

func (r *Reconciler) seen(ctx context.Context, eventID string, logger *log.Entry) bool {
	if r.cache == nil {
		return false
	}
	seen, err := r.cache.Seen(ctx, eventID)
	if err != nil {
		logger.WithError(err).Warn("Event cache lookup failed, falling back to ledger")
		return false
	}
	return seen
}

func (r *Reconciler) remember(ctx context.Context, eventID string, logger *log.Entry) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Remember(ctx, eventID); err != nil {
		logger.WithError(err).Warn("Failed to remember event in cache")
	}
}
