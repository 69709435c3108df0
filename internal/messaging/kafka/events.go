package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "checkout.order.events"
	TopicGatewayEvents   = "checkout.gateway.events"
	TopicDeadLetterQueue = "checkout.dlq"
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	// HeaderSignature несёт подпись провайдера для событий, пересланных из вебхука в топик.
	HeaderSignature = "x-gateway-signature"
)

// OrderEnvelope — сообщение о смене статуса заказа в TopicOrderEvents.
type OrderEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// OrderStatusPayload — полезная нагрузка OrderEnvelope.
type OrderStatusPayload struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	Total      string    `json:"total"`
	Currency   string    `json:"currency"`
	Handle     string    `json:"handle,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DeadLetter — сообщение, отправленное консьюмером в DLQ.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	Signature         string    `json:"signature,omitempty"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}

// ParseOrderEnvelope разбирает сообщение из TopicOrderEvents.
func ParseOrderEnvelope(message *sarama.ConsumerMessage) (OrderEnvelope, OrderStatusPayload, error) {
	var envelope OrderEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return OrderEnvelope{}, OrderStatusPayload{}, fmt.Errorf("failed to unmarshal order envelope: %w", err)
	}
	var payload OrderStatusPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return envelope, OrderStatusPayload{}, fmt.Errorf("failed to unmarshal order payload: %w", err)
	}
	return envelope, payload, nil
}

// ParseDeadLetter разбирает сообщение из TopicDeadLetterQueue.
func ParseDeadLetter(message *sarama.ConsumerMessage) (DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(message.Value, &letter); err != nil {
		return DeadLetter{}, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	return letter, nil
}

// HeaderValue возвращает значение заголовка или пустую строку.
func HeaderValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
