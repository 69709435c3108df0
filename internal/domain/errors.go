package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUserRequired — не передан идентификатор пользователя.
	ErrUserRequired = errors.New("user_id is required")
	// ErrAddressRequired — не заполнен адрес доставки или плательщика.
	ErrAddressRequired = errors.New("shipping and billing address are required")
	// ErrIdempotencyKeyRequired — CreateOrder вызван без ключа идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyKeyConflict — ключ уже использован другим пользователем.
	ErrIdempotencyKeyConflict = errors.New("idempotency key reused with different request")
	// ErrEmptyCart — в корзине нет ни одной позиции.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidQuantity — количество в корзине или резерве должно быть >= 1.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrProductNotFound — товар отсутствует в каталоге или снят с продажи.
	ErrProductNotFound = errors.New("product not found")
	// ErrInvalidPrice — цена товара должна быть положительной.
	ErrInvalidPrice = errors.New("product price must be positive")
	// ErrInsufficientStock — базовая ошибка нехватки стока, конкретика в InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrReservationNotFound — токен резерва неизвестен леджеру.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrStockBelowReserved — остаток нельзя опустить ниже уже зарезервированного.
	ErrStockBelowReserved = errors.New("on hand stock cannot be lower than reserved")
	// ErrOrderNotFound возвращается, если заказ не найден или принадлежит другому пользователю.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists — повторная вставка заказа с тем же ID или ключом.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrInvalidTransition — базовая ошибка недопустимого перехода, конкретика в InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrAuthorizationMissing — у заказа ещё нет платёжной авторизации.
	ErrAuthorizationMissing = errors.New("order has no payment authorization")
	// ErrAuthorizationNotCancelable — провайдер отказался отменять авторизацию (деньги уже списаны).
	ErrAuthorizationNotCancelable = errors.New("payment authorization cannot be canceled")
	// ErrUpstreamUnavailable — временная ошибка платёжного провайдера, можно повторить.
	ErrUpstreamUnavailable = errors.New("payment gateway unavailable")
	// ErrInvalidSignature — подпись вебхука не прошла проверку.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent — тело вебхука не удалось разобрать.
	ErrMalformedEvent = errors.New("malformed gateway event")
	// ErrEventIDRequired — событие шлюза без идентификатора нельзя дедуплицировать.
	ErrEventIDRequired = errors.New("gateway event id is required")
	// ErrEventNotFound — событие отсутствует в журнале обработанных.
	ErrEventNotFound = errors.New("processed event not found")
	// ErrCancellationNotFound — задача отмены авторизации не найдена.
	ErrCancellationNotFound = errors.New("upstream cancellation not found")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// InsufficientStockError сообщает, какого товара не хватило.
type InsufficientStockError struct {
	ProductID string
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// Is позволяет сравнивать через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InvalidTransitionError описывает отвергнутый переход статуса.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition %s -> %s", e.From, e.To)
}

// Is позволяет сравнивать через errors.Is(err, ErrInvalidTransition).
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// InsufficientStockProduct достаёт идентификатор товара из ошибки нехватки стока.
func InsufficientStockProduct(err error) (string, bool) {
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		return stockErr.ProductID, true
	}
	return "", false
}
