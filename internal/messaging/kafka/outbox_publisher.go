package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный topic.
// Ключ сообщения — id заказа, поэтому события одного заказа попадают в одну партицию по порядку.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Publish отправляет сообщение, завернув его в OrderEnvelope.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka outbox publisher is not initialized")
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	return p.producer.PublishJSON(ctx, p.topic, key, OrderEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   p.now(),
	}, map[string]string{HeaderEventType: msg.EventType})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
