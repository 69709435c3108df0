package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Типы событий Stripe, которые влияют на заказы.
const (
	stripeEventIntentSucceeded = "payment_intent.succeeded"
	stripeEventIntentFailed    = "payment_intent.payment_failed"
	stripeEventIntentCanceled  = "payment_intent.canceled"
	stripeEventChargeRefunded  = "charge.refunded"
)

// StripeGateway реализует PaymentGateway поверх PaymentIntents.
type StripeGateway struct {
	api    *client.API
	logger *log.Entry
}

// StripeOption настраивает StripeGateway.
type StripeOption func(*stripeOptions)

type stripeOptions struct {
	backends *stripe.Backends
	logger   *log.Entry
}

// WithStripeBackendURL направляет API-вызовы на другой адрес (stripe-mock, тесты).
func WithStripeBackendURL(url string) StripeOption {
	return func(o *stripeOptions) {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(url),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		})
		o.backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
}

// WithStripeLogger задаёт логгер адаптера.
func WithStripeLogger(logger *log.Entry) StripeOption {
	return func(o *stripeOptions) {
		o.logger = logger
	}
}

// NewStripeGateway создаёт адаптер с секретным ключом API.
func NewStripeGateway(secretKey string, opts ...StripeOption) *StripeGateway {
	options := stripeOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = log.New().WithField("component", "stripe-gateway")
	}

	api := &client.API{}
	api.Init(secretKey, options.backends)

	return &StripeGateway{api: api, logger: options.logger}
}

func (g *StripeGateway) CreateAuthorization(ctx context.Context, req domain.AuthorizationRequest) (domain.Authorization, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(domain.ToMinorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("auth:" + req.OrderID)
	params.AddMetadata("order_id", req.OrderID)

	intent, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return domain.Authorization{}, g.mapError("create_authorization", err)
	}

	return domain.Authorization{Handle: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// ConfirmAuthorization читает PaymentIntent и при необходимости подтверждает его на сервере.
// Отказ карты считается результатом, а не ошибкой.
func (g *StripeGateway) ConfirmAuthorization(ctx context.Context, handle string) (domain.GatewayOutcome, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := g.api.PaymentIntents.Get(handle, params)
	if err != nil {
		return "", g.mapError("confirm_authorization", err)
	}

	if intent.Status == stripe.PaymentIntentStatusRequiresConfirmation {
		confirm := &stripe.PaymentIntentConfirmParams{}
		confirm.Context = ctx
		intent, err = g.api.PaymentIntents.Confirm(handle, confirm)
		if err != nil {
			var stripeErr *stripe.Error
			if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
				return domain.GatewayOutcomeFailed, nil
			}
			return "", g.mapError("confirm_authorization", err)
		}
	}

	return outcomeFromIntent(intent.Status), nil
}

func (g *StripeGateway) CancelAuthorization(ctx context.Context, handle string) (domain.GatewayOutcome, error) {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	params.SetIdempotencyKey("cancel:" + handle)

	intent, err := g.api.PaymentIntents.Cancel(handle, params)
	if err != nil {
		return "", g.mapError("cancel_authorization", err)
	}
	return outcomeFromIntent(intent.Status), nil
}

// VerifyWebhookSignature проверяет заголовок Stripe-Signature.
func (g *StripeGateway) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	if secret == "" {
		return false
	}
	return webhook.ValidatePayload(payload, signature, secret) == nil
}

// DecodeEvent переводит событие Stripe в GatewayEvent.
// Неизвестные типы возвращаются как есть, у них нет Outcome.
func (g *StripeGateway) DecodeEvent(payload []byte) (domain.GatewayEvent, error) {
	return DecodeStripeEvent(payload)
}

// DecodeStripeEvent разбирает тело вебхука Stripe.
func DecodeStripeEvent(payload []byte) (domain.GatewayEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.GatewayEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if event.ID == "" {
		return domain.GatewayEvent{}, domain.ErrEventIDRequired
	}

	result := domain.GatewayEvent{EventID: event.ID, Raw: payload}
	var object map[string]interface{}
	if event.Data != nil {
		object = event.Data.Object
	}

	switch string(event.Type) {
	case stripeEventIntentSucceeded:
		result.Type = domain.GatewayEventAuthorizationSucceeded
		result.Handle = stringField(object, "id")
	case stripeEventIntentFailed, stripeEventIntentCanceled:
		result.Type = domain.GatewayEventAuthorizationFailed
		result.Handle = stringField(object, "id")
	case stripeEventChargeRefunded:
		result.Type = domain.GatewayEventAuthorizationRefunded
		result.Handle = stringField(object, "payment_intent")
	default:
		result.Type = domain.GatewayEventType(event.Type)
		return result, nil
	}

	if result.Handle == "" {
		return domain.GatewayEvent{}, fmt.Errorf("%w: event %s has no payment intent", domain.ErrMalformedEvent, event.ID)
	}
	return result, nil
}

func stringField(object map[string]interface{}, key string) string {
	switch v := object[key].(type) {
	case string:
		return v
	case map[string]interface{}:
		id, _ := v["id"].(string)
		return id
	default:
		return ""
	}
}

func outcomeFromIntent(status stripe.PaymentIntentStatus) domain.GatewayOutcome {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.GatewayOutcomeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return domain.GatewayOutcomeCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return domain.GatewayOutcomeFailed
	default:
		return domain.GatewayOutcomePending
	}
}

func (g *StripeGateway) mapError(operation string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		g.logger.WithError(err).WithField("operation", operation).Warn("Stripe request failed")
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}

	logger := g.logger.WithFields(log.Fields{
		"operation":   operation,
		"status_code": stripeErr.HTTPStatusCode,
		"code":        stripeErr.Code,
		"request_id":  stripeErr.RequestID,
	})

	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
		logger.Warn("Stripe temporarily unavailable")
		return fmt.Errorf("%w: %s", domain.ErrUpstreamUnavailable, stripeErr.Msg)
	case stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState:
		logger.Info("Payment intent is not cancelable")
		return fmt.Errorf("%w: %s", domain.ErrAuthorizationNotCancelable, stripeErr.Msg)
	default:
		logger.Error("Stripe rejected request")
		return fmt.Errorf("stripe %s: %w", operation, err)
	}
}

var _ domain.PaymentGateway = (*StripeGateway)(nil)
