package domain

import "time"

// Типы событий жизненного цикла, общие для timeline и outbox.
const (
	EventOrderCreated          = "OrderCreated"
	EventAuthorizationAttached = "AuthorizationAttached"
	EventPaymentSucceeded      = "PaymentSucceeded"
	EventPaymentFailed         = "PaymentFailed"
	EventPaymentRefunded       = "PaymentRefunded"
	EventOrderShipped          = "OrderShipped"
	EventOrderDelivered        = "OrderDelivered"
	EventOrderCancelled        = "OrderCancelled"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
