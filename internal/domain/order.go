package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа. Значения видны клиентам как есть.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, сток зарезервирован, ждём результат оплаты.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusProcessing — оплата подтверждена, резервы списаны.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered — заказ доставлен.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled — заказ отменён (пользователем, отказом оплаты или возвратом).
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRefunded — зарезервированное значение протокола, переходами ядра не достигается.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса нет исходящих переходов.
func (s OrderStatus) IsTerminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

// CanTransitionTo проверяет наличие ребра в графе статусов.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range orderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// OrderLine — позиция заказа, зафиксированная из снимка корзины.
type OrderLine struct {
	ProductID string
	Qty       int32
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// Authorization — непрозрачный handle авторизации у платёжного провайдера.
type Authorization struct {
	Handle       string
	ClientSecret string
	AttachedAt   time.Time
}

// Order агрегирует состояние заказа.
type Order struct {
	ID              string
	UserID          string
	Status          OrderStatus
	IdempotencyKey  string
	ShippingAddress string
	BillingAddress  string
	Lines           []OrderLine
	Totals          Totals
	Currency        string
	Authorization   *Authorization
	Reservations    []ReservationToken
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Transition переводит заказ в новый статус, если это допускает граф.
func (o *Order) Transition(next OrderStatus, at time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{From: o.Status, To: next}
	}
	o.Status = next
	o.UpdatedAt = at
	return nil
}

// OwnedBy проверяет принадлежность заказа пользователю.
func (o *Order) OwnedBy(userID string) bool {
	return userID != "" && o.UserID == userID
}

// HasAuthorization сообщает, привязан ли к заказу handle провайдера.
func (o *Order) HasAuthorization() bool {
	return o.Authorization != nil && o.Authorization.Handle != ""
}

// Clone возвращает глубокую копию, чтобы хранилища не делили срезы с вызывающим кодом.
func (o Order) Clone() Order {
	out := o
	out.Lines = append([]OrderLine(nil), o.Lines...)
	out.Reservations = append([]ReservationToken(nil), o.Reservations...)
	if o.Authorization != nil {
		auth := *o.Authorization
		out.Authorization = &auth
	}
	return out
}
