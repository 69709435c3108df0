package domain

import "time"

// EventResult описывает, чем закончилась обработка события шлюза.
type EventResult string

const (
	// EventResultApplied — событие изменило заказ.
	EventResultApplied EventResult = "applied"
	// EventResultIgnored — событие записано, но переход недопустим или тип неизвестен.
	EventResultIgnored EventResult = "ignored"
	// EventResultDuplicate — событие уже обрабатывалось ранее.
	EventResultDuplicate EventResult = "duplicate"
)

// Valid проверяет, что результат относится к поддерживаемым значениям.
func (r EventResult) Valid() bool {
	switch r {
	case EventResultApplied, EventResultIgnored, EventResultDuplicate:
		return true
	default:
		return false
	}
}

// ProcessedEvent — запись журнала обработанных событий шлюза; уникальна по EventID.
type ProcessedEvent struct {
	EventID     string
	Handle      string
	OrderID     string
	Outcome     GatewayOutcome
	Result      EventResult
	ProcessedAt time.Time
	ExpiresAt   time.Time
}
