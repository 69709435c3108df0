package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
)

// WebhookHandler — приёмник событий шлюза. Реализуется webhook.Reconciler.
type WebhookHandler interface {
	Handle(ctx context.Context, payload []byte, signature string) (webhook.Ack, error)
}

// GatewayEventHandler принимает события провайдера, пересланные в TopicGatewayEvents.
// Тело сообщения — исходный payload вебхука, подпись лежит в HeaderSignature.
// Ошибки подписи и формата не исправятся повтором и помечаются как Permanent.
func GatewayEventHandler(handler WebhookHandler, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "gateway-event-consumer")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		ack, err := handler.Handle(ctx, message.Value, HeaderValue(message, HeaderSignature))
		if err != nil {
			if errors.Is(err, domain.ErrInvalidSignature) ||
				errors.Is(err, domain.ErrMalformedEvent) ||
				errors.Is(err, domain.ErrEventIDRequired) {
				return Permanent(err)
			}
			return err
		}

		logger.WithFields(log.Fields{
			"event_id": ack.EventID,
			"order_id": ack.OrderID,
			"result":   ack.Result,
			"offset":   message.Offset,
		}).Debug("gateway event consumed")
		return nil
	}
}
