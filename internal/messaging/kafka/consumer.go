package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// permanentError помечает ошибку, которую бессмысленно повторять.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent оборачивает ошибку обработчика: сообщение сразу уходит в DLQ без повторов.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent сообщает, помечена ли ошибка как неповторяемая.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDLQ задает producer для Dead Letter Queue.
func WithDLQ(producer *Producer) ConsumerOption {
	return func(c *Consumer) { c.dlqProducer = producer }
}

// WithDLQTopic переопределяет топик DLQ.
func WithDLQTopic(topic string) ConsumerOption {
	return func(c *Consumer) {
		if topic != "" {
			c.dlqTopic = topic
		}
	}
}

// WithMaxRetries задает число попыток обработки одного сообщения.
func WithMaxRetries(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay задает паузу между попытками.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithConsumerLogger задает logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Consumer читает топики через consumer group с повторами и DLQ.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	dlqTopic    string
	maxRetries  int
	retryDelay  time.Duration
}

// NewConsumer создает consumer group.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, topics, handler, opts...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		consumer:   group,
		topics:     topics,
		handler:    handler,
		logger:     log.WithField("component", "kafka-consumer"),
		dlqTopic:   TopicDeadLetterQueue,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start запускает чтение в фоне.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume завершается при каждом rebalance
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает consumer group и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения партиции. Сообщение, которое не удалось
// ни обработать, ни отправить в DLQ, не коммитится: сессия завершается,
// и после rebalance оно будет прочитано заново.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessage(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(fields).Error("message processing failed")
				return err
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage выполняет обработчик с повторами и при исчерпании попыток
// отправляет сообщение в DLQ.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempts := c.maxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	attempt := 0
	for attempt < attempts {
		attempt++
		err = c.handler(ctx, message)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || attempt == attempts {
			break
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"topic":   message.Topic,
			"attempt": attempt,
		}).Warn("message processing failed, will retry")

		if c.retryDelay > 0 {
			timer := time.NewTimer(c.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	if c.dlqProducer == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(ctx, message, err, c.getRetryCount(message)+attempt); dlqErr != nil {
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":    message.Topic,
		"offset":   message.Offset,
		"attempts": attempt,
	}).Warn("message sent to DLQ")
	return nil
}

// getRetryCount читает число прошлых попыток из заголовков (для переигранных из DLQ сообщений).
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	count, err := strconv.Atoi(HeaderValue(message, HeaderRetryCount))
	if err != nil {
		return 0
	}
	return count
}

func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, processingErr error, retries int) error {
	failedAt := time.Now().UTC()
	letter := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		Signature:         HeaderValue(message, HeaderSignature),
		ErrorMessage:      processingErr.Error(),
		FailedAt:          failedAt,
		RetryCount:        retries,
	}
	return c.dlqProducer.PublishJSON(ctx, c.dlqTopic, string(message.Key), letter, map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  processingErr.Error(),
		HeaderFailedAt:      failedAt.Format(time.RFC3339),
		HeaderRetryCount:    strconv.Itoa(retries),
	})
}
