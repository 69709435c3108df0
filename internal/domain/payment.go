package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// GatewayOutcome — результат операции у платёжного провайдера.
type GatewayOutcome string

const (
	// GatewayOutcomeSucceeded — авторизация подтверждена, деньги получены.
	GatewayOutcomeSucceeded GatewayOutcome = "succeeded"
	// GatewayOutcomeFailed — провайдер отклонил оплату.
	GatewayOutcomeFailed GatewayOutcome = "failed"
	// GatewayOutcomePending — итог ещё неизвестен (например, ждём 3DS).
	GatewayOutcomePending GatewayOutcome = "pending"
	// GatewayOutcomeCanceled — авторизация отменена у провайдера.
	GatewayOutcomeCanceled GatewayOutcome = "canceled"
	// GatewayOutcomeRefunded — средства возвращены покупателю.
	GatewayOutcomeRefunded GatewayOutcome = "refunded"
)

// AuthorizationRequest — параметры создания авторизации.
type AuthorizationRequest struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
}

// PaymentGateway описывает внешний платёжный процессор.
type PaymentGateway interface {
	// CreateAuthorization открывает авторизацию на сумму заказа.
	CreateAuthorization(ctx context.Context, req AuthorizationRequest) (Authorization, error)
	// ConfirmAuthorization запрашивает итог авторизации у провайдера.
	ConfirmAuthorization(ctx context.Context, handle string) (GatewayOutcome, error)
	// CancelAuthorization отменяет авторизацию; временные сбои возвращают ErrUpstreamUnavailable.
	CancelAuthorization(ctx context.Context, handle string) (GatewayOutcome, error)
	// VerifyWebhookSignature сверяет подпись тела вебхука в постоянное время.
	VerifyWebhookSignature(payload []byte, signature, secret string) bool
}

// GatewayEventType — тип асинхронного события провайдера.
type GatewayEventType string

const (
	GatewayEventAuthorizationSucceeded GatewayEventType = "authorization.succeeded"
	GatewayEventAuthorizationFailed    GatewayEventType = "authorization.failed"
	GatewayEventAuthorizationRefunded  GatewayEventType = "authorization.refunded"
)

// Outcome сопоставляет тип события с результатом. false — тип не влияет на заказы.
func (t GatewayEventType) Outcome() (GatewayOutcome, bool) {
	switch t {
	case GatewayEventAuthorizationSucceeded:
		return GatewayOutcomeSucceeded, true
	case GatewayEventAuthorizationFailed:
		return GatewayOutcomeFailed, true
	case GatewayEventAuthorizationRefunded:
		return GatewayOutcomeRefunded, true
	default:
		return "", false
	}
}

// GatewayEvent — разобранный вебхук провайдера.
type GatewayEvent struct {
	EventID string
	Type    GatewayEventType
	Handle  string
	Raw     []byte
}
