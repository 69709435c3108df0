package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

const (
	kindAll     = "all"
	kindGateway = "gateway"
	kindOutbox  = "outbox"
)

type config struct {
	brokers       []string
	sourceTopic   string
	outboxTopic   string
	kind          string
	limit         int
	maxRetryCount int
	execute       bool
	fromNewest    bool
	idleTimeout   time.Duration
}

// replayMessage — восстановленное исходное сообщение и топик, куда его вернуть.
type replayMessage struct {
	kind    string
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

// outboxDeadLetter — тело DLQ-записи outbox-воркера внутри kafka.OrderEnvelope.
type outboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// partitionReader — открытое чтение одной партиции.
type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// dlqSource даёт метаданные DLQ-топика и чтение партиции с заданного оффсета.
type dlqSource interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error)
	Close() error
}

// replaySink публикует восстановленные сообщения; в боевом режиме это *kafka.Producer.
type replaySink interface {
	Send(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
	Close() error
}

type saramaSource struct {
	client   sarama.Client
	consumer sarama.Consumer
}

func (s saramaSource) Partitions(topic string) ([]int32, error) { return s.client.Partitions(topic) }

func (s saramaSource) GetOffset(topic string, partition int32, at int64) (int64, error) {
	return s.client.GetOffset(topic, partition, at)
}

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

func (s saramaSource) Close() error {
	return errors.Join(s.consumer.Close(), s.client.Close())
}

// connect открывает источник DLQ и, только в режиме execute, producer для повторной публикации.
var connect = func(cfg config) (dlqSource, replaySink, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	src := saramaSource{client: client, consumer: consumer}
	if !cfg.execute {
		return src, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers)
	if err != nil {
		_ = src.Close()
		return nil, nil, err
	}
	return src, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseFlags(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseFlags(args []string, getenv func(string) string) (config, error) {
	cfg := config{}
	var brokers string

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokers, "brokers", getenv("CHECKOUT_KAFKA_BROKERS"), "comma-separated Kafka brokers")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "dead letter topic to read")
	fs.StringVar(&cfg.outboxTopic, "outbox-topic", kafka.TopicOrderEvents, "topic for dead-lettered order events")
	fs.StringVar(&cfg.kind, "kind", kindAll, "replay only this kind: all, gateway or outbox")
	fs.IntVar(&cfg.limit, "limit", 100, "stop after this many dead letters")
	fs.IntVar(&cfg.maxRetryCount, "max-retry-count", 0, "leave gateway letters that already failed this many times (0 disables)")
	fs.BoolVar(&cfg.execute, "execute", false, "publish replays instead of listing them")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "read the newest letters of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", 2*time.Second, "give up on a partition after this long without messages")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}
	cfg.kind = strings.ToLower(strings.TrimSpace(cfg.kind))
	return cfg, cfg.validate()
}

func (c config) validate() error {
	var problems []error
	if len(c.brokers) == 0 {
		problems = append(problems, errors.New("no kafka brokers: set -brokers or CHECKOUT_KAFKA_BROKERS"))
	}
	if strings.TrimSpace(c.sourceTopic) == "" || strings.TrimSpace(c.outboxTopic) == "" {
		problems = append(problems, errors.New("source and outbox topics must be set"))
	}
	if !slices.Contains([]string{kindAll, kindGateway, kindOutbox}, c.kind) {
		problems = append(problems, fmt.Errorf("unknown kind %q", c.kind))
	}
	if c.limit <= 0 || c.maxRetryCount < 0 || c.idleTimeout <= 0 {
		problems = append(problems, errors.New("limit and idle-timeout must be positive, max-retry-count non-negative"))
	}
	return errors.Join(problems...)
}

func run(ctx context.Context, cfg config) (tally, error) {
	src, sink, err := connect(cfg)
	if err != nil {
		return tally{}, err
	}
	defer func() {
		if sink != nil {
			_ = sink.Close()
		}
		_ = src.Close()
	}()

	r := &replayer{cfg: cfg, src: src, sink: sink}
	total, err := r.run(ctx)
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"kind":         cfg.kind,
		"execute":      cfg.execute,
		"scanned":      total.scanned,
		"replayed":     total.replayed,
		"skipped":      total.skipped,
	}).Info("dlq replay finished")
	return total, err
}

// tally — счётчики прохода по DLQ. replayed в dry-run означает «был бы опубликован».
type tally struct {
	scanned  int
	replayed int
	skipped  int
}

type replayer struct {
	cfg  config
	src  dlqSource
	sink replaySink
}

func (r *replayer) run(ctx context.Context) (tally, error) {
	if r.cfg.execute && r.sink == nil {
		return tally{}, errors.New("execute mode needs a producer")
	}
	partitions, err := r.src.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return tally{}, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	var total tally
	for _, partition := range partitions {
		budget := r.cfg.limit - total.scanned
		if budget <= 0 {
			break
		}
		got, err := r.scan(ctx, partition, budget)
		total.scanned += got.scanned
		total.replayed += got.replayed
		total.skipped += got.skipped
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// bounds возвращает [from, until) для чтения партиции. until фиксируется на старте,
// чтобы повторно опубликованные в тот же топик сообщения не читались снова.
func (r *replayer) bounds(partition int32, budget int) (from, until int64, err error) {
	oldest, err := r.src.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	until, err = r.src.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	from = oldest
	if r.cfg.fromNewest {
		from = max(until-int64(budget), oldest)
	}
	return from, until, nil
}

func (r *replayer) scan(ctx context.Context, partition int32, budget int) (tally, error) {
	var got tally
	from, until, err := r.bounds(partition, budget)
	if err != nil || from >= until {
		return got, err
	}

	reader, err := r.src.ConsumePartition(r.cfg.sourceTopic, partition, from)
	if err != nil {
		return got, fmt.Errorf("read partition %d: %w", partition, err)
	}
	defer func() { _ = reader.Close() }()

	for got.scanned < budget {
		msg, err := r.next(ctx, reader)
		if err != nil {
			return got, fmt.Errorf("partition %d: %w", partition, err)
		}
		if msg == nil || msg.Offset >= until {
			return got, nil
		}

		got.scanned++
		replayed, err := r.consider(ctx, msg)
		if err != nil {
			return got, err
		}
		if replayed {
			got.replayed++
		} else {
			got.skipped++
		}
		if msg.Offset+1 >= until {
			break
		}
	}
	return got, nil
}

// next ждёт следующее сообщение не дольше idleTimeout. nil без ошибки — партиция затихла.
func (r *replayer) next(ctx context.Context, reader partitionReader) (*sarama.ConsumerMessage, error) {
	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	errs := reader.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-idle.C:
			return nil, nil
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if cerr != nil {
				return nil, cerr
			}
		case msg := <-reader.Messages():
			return msg, nil
		}
	}
}

// consider решает судьбу одной DLQ-записи. true — запись опубликована (или была бы в dry-run).
func (r *replayer) consider(ctx context.Context, msg *sarama.ConsumerMessage) (bool, error) {
	entry := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, ok, err := decodeDeadLetter(msg, r.cfg.outboxTopic)
	switch {
	case err != nil:
		entry.WithError(err).Warn("dead letter cannot be replayed")
		return false, nil
	case !ok:
		entry.Debug("not a dead letter, skipped")
		return false, nil
	case r.cfg.kind != kindAll && r.cfg.kind != replay.kind:
		return false, nil
	}

	entry = entry.WithFields(log.Fields{"kind": replay.kind, "target_topic": replay.topic, "key": replay.key})
	if r.cfg.maxRetryCount > 0 && replay.kind == kindGateway {
		retries, _ := strconv.Atoi(replay.headers[kafka.HeaderRetryCount])
		if retries >= r.cfg.maxRetryCount {
			entry.WithField("retry_count", retries).Warn("dead letter exhausted its retry budget")
			return false, nil
		}
	}

	if !r.cfg.execute {
		entry.Info("would replay dead letter")
		return true, nil
	}
	if err := r.sink.Send(ctx, replay.topic, replay.key, replay.value, replay.headers); err != nil {
		return false, fmt.Errorf("replay offset %d of partition %d: %w", msg.Offset, msg.Partition, err)
	}
	entry.Info("dead letter replayed")
	return true, nil
}

// decodeDeadLetter понимает две формы DLQ-записей: kafka.DeadLetter консьюмера событий
// шлюза и kafka.OrderEnvelope с outboxDeadLetter от outbox-воркера. ok=false — чужое сообщение.
func decodeDeadLetter(msg *sarama.ConsumerMessage, outboxTopic string) (replayMessage, bool, error) {
	if letter, err := kafka.ParseDeadLetter(msg); err == nil && letter.OriginalValue != "" {
		replay := replayMessage{
			kind:    kindGateway,
			topic:   coalesce(strings.TrimSpace(letter.OriginalTopic), kafka.TopicGatewayEvents),
			key:     letter.OriginalKey,
			value:   []byte(letter.OriginalValue),
			headers: map[string]string{kafka.HeaderRetryCount: strconv.Itoa(letter.RetryCount)},
		}
		if letter.Signature != "" {
			replay.headers[kafka.HeaderSignature] = letter.Signature
		}
		return replay, true, nil
	}

	var envelope kafka.OrderEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, false, nil
	}
	var letter outboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return replayMessage{}, false, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(letter.Payload) == 0 {
		return replayMessage{}, false, errors.New("outbox dead letter carries no event payload")
	}

	restored := kafka.OrderEnvelope{
		ID:            coalesce(letter.OutboxID, envelope.ID),
		AggregateType: coalesce(letter.AggregateType, envelope.AggregateType),
		AggregateID:   coalesce(letter.AggregateID, envelope.AggregateID),
		EventType:     coalesce(letter.EventType, envelope.EventType),
		Payload:       letter.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(restored)
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("encode order envelope: %w", err)
	}
	return replayMessage{
		kind:    kindOutbox,
		topic:   outboxTopic,
		key:     coalesce(restored.AggregateID, restored.ID),
		value:   value,
		headers: map[string]string{kafka.HeaderEventType: restored.EventType},
	}, true, nil
}

func coalesce(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
