package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/cancellation"
	"github.com/vladislavdragonenkov/checkout/internal/transport/httpapi"
)

const (
	// StorageDriverMemory хранит данные в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres использует PostgreSQL.
	StorageDriverPostgres = "postgres"

	// GatewayFake — встроенный шлюз для локального запуска и тестов.
	GatewayFake = "fake"
	// GatewayStripe — Stripe PaymentIntents.
	GatewayStripe = "stripe"

	// StripeSignatureHeader — заголовок подписи вебхуков Stripe.
	StripeSignatureHeader = "Stripe-Signature"
)

// Переменные окружения сервиса.
const (
	EnvHTTPAddr    = "CHECKOUT_HTTP_ADDR"
	EnvGRPCAddr    = "CHECKOUT_GRPC_ADDR"
	EnvMetricsAddr = "CHECKOUT_METRICS_ADDR"
	EnvLogLevel    = "CHECKOUT_LOG_LEVEL"

	EnvStorageDriver       = "CHECKOUT_STORAGE_DRIVER"
	EnvPostgresDSN         = "CHECKOUT_POSTGRES_DSN"
	EnvPostgresAutoMigrate = "CHECKOUT_POSTGRES_AUTO_MIGRATE"

	EnvKafkaBrokers       = "CHECKOUT_KAFKA_BROKERS"
	EnvKafkaOrderTopic    = "CHECKOUT_KAFKA_ORDER_TOPIC"
	EnvKafkaGatewayTopic  = "CHECKOUT_KAFKA_GATEWAY_TOPIC"
	EnvKafkaDLQTopic      = "CHECKOUT_KAFKA_DLQ_TOPIC"
	EnvKafkaConsumerGroup = "CHECKOUT_KAFKA_CONSUMER_GROUP"

	EnvRedisAddr       = "CHECKOUT_REDIS_ADDR"
	EnvWebhookCacheTTL = "CHECKOUT_WEBHOOK_CACHE_TTL"

	EnvGateway          = "CHECKOUT_GATEWAY"
	EnvStripeSecretKey  = "CHECKOUT_STRIPE_SECRET_KEY"
	EnvStripeBackendURL = "CHECKOUT_STRIPE_BACKEND_URL"
	EnvWebhookSecret    = "CHECKOUT_WEBHOOK_SECRET"
	EnvSignatureHeader  = "CHECKOUT_WEBHOOK_SIGNATURE_HEADER"
	EnvAdminToken       = "CHECKOUT_ADMIN_TOKEN"

	EnvCurrency              = "CHECKOUT_CURRENCY"
	EnvTaxRate               = "CHECKOUT_TAX_RATE"
	EnvFreeShippingThreshold = "CHECKOUT_FREE_SHIPPING_THRESHOLD"
	EnvFlatShippingFee       = "CHECKOUT_FLAT_SHIPPING_FEE"

	EnvPaymentWindow       = "CHECKOUT_PAYMENT_WINDOW"
	EnvExpirySweepInterval = "CHECKOUT_EXPIRY_SWEEP_INTERVAL"
	EnvExpiryBatchSize     = "CHECKOUT_EXPIRY_BATCH_SIZE"
	EnvExpiryParallelism   = "CHECKOUT_EXPIRY_PARALLELISM"
	EnvCancelPollInterval  = "CHECKOUT_CANCEL_POLL_INTERVAL"

	EnvBreakerMaxFailures  = "CHECKOUT_BREAKER_MAX_FAILURES"
	EnvBreakerResetTimeout = "CHECKOUT_BREAKER_RESET_TIMEOUT"

	EnvOutboxPollInterval = "CHECKOUT_OUTBOX_POLL_INTERVAL"
	EnvOutboxBatchSize    = "CHECKOUT_OUTBOX_BATCH_SIZE"
	EnvOutboxMaxAttempts  = "CHECKOUT_OUTBOX_MAX_ATTEMPTS"
	EnvOutboxRetryDelay   = "CHECKOUT_OUTBOX_RETRY_DELAY"

	EnvEventRetention        = "CHECKOUT_EVENT_RETENTION"
	EnvEventCleanupInterval  = "CHECKOUT_EVENT_CLEANUP_INTERVAL"
	EnvEventCleanupBatchSize = "CHECKOUT_EVENT_CLEANUP_BATCH_SIZE"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// KafkaBrokers — список брокеров через запятую. Пустое значение отключает Kafka.
	KafkaBrokers       string
	KafkaOrderTopic    string
	KafkaGatewayTopic  string
	KafkaDLQTopic      string
	KafkaConsumerGroup string

	// RedisAddr включает кэш дедупликации вебхуков.
	RedisAddr       string
	WebhookCacheTTL time.Duration

	Gateway          string
	StripeSecretKey  string
	StripeBackendURL string
	WebhookSecret    string
	SignatureHeader  string
	AdminToken       string

	Currency string
	Pricing  domain.PricingPolicy

	PaymentWindow       time.Duration
	ExpirySweepInterval time.Duration
	ExpiryBatchSize     int
	ExpiryParallelism   int
	CancelPollInterval  time.Duration

	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	EventRetention        time.Duration
	EventCleanupInterval  time.Duration
	EventCleanupBatchSize int
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaOrderTopic:    kafka.TopicOrderEvents,
		KafkaGatewayTopic:  kafka.TopicGatewayEvents,
		KafkaDLQTopic:      kafka.TopicDeadLetterQueue,
		KafkaConsumerGroup: "checkout-gateway-events",

		WebhookCacheTTL: 24 * time.Hour,

		Gateway:         GatewayFake,
		SignatureHeader: httpapi.DefaultSignatureHeader,

		Currency: "usd",
		Pricing:  domain.DefaultPricingPolicy(),

		PaymentWindow:       cancellation.DefaultPaymentWindow,
		ExpirySweepInterval: time.Minute,
		ExpiryBatchSize:     100,
		ExpiryParallelism:   4,
		CancelPollInterval:  5 * time.Second,

		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		EventRetention:        7 * 24 * time.Hour,
		EventCleanupInterval:  time.Hour,
		EventCleanupBatchSize: 500,
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%s is required for storage driver %q", EnvPostgresDSN, c.StorageDriver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}

	switch c.Gateway {
	case GatewayFake:
	case GatewayStripe:
		if c.StripeSecretKey == "" {
			return fmt.Errorf("%s is required for gateway %q", EnvStripeSecretKey, c.Gateway)
		}
	default:
		return fmt.Errorf("unknown payment gateway %q", c.Gateway)
	}

	if c.WebhookSecret == "" {
		return fmt.Errorf("%s is required", EnvWebhookSecret)
	}
	return nil
}

// KafkaBrokerList разбирает KafkaBrokers.
func (c Config) KafkaBrokerList() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// EnvLookup совместим с os.LookupEnv.
type EnvLookup func(key string) (string, bool)

// ConfigFromEnv читает конфигурацию из окружения процесса.
func ConfigFromEnv() (Config, []string) {
	return LoadConfig(os.LookupEnv)
}

// LoadConfig накладывает переменные окружения на DefaultConfig.
// Некорректные значения не роняют запуск: остаётся значение по умолчанию, а в ответ
// добавляется предупреждение.
func LoadConfig(lookup EnvLookup) (Config, []string) {
	cfg := DefaultConfig()
	r := envReader{lookup: lookup}

	r.str(EnvHTTPAddr, &cfg.HTTPAddr)
	r.str(EnvGRPCAddr, &cfg.GRPCAddr)
	r.str(EnvMetricsAddr, &cfg.MetricsAddr)
	r.str(EnvLogLevel, &cfg.LogLevel)

	if r.str(EnvStorageDriver, &cfg.StorageDriver) {
		cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	}
	r.str(EnvPostgresDSN, &cfg.PostgresDSN)
	r.boolean(EnvPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	r.str(EnvKafkaBrokers, &cfg.KafkaBrokers)
	r.str(EnvKafkaOrderTopic, &cfg.KafkaOrderTopic)
	r.str(EnvKafkaGatewayTopic, &cfg.KafkaGatewayTopic)
	r.str(EnvKafkaDLQTopic, &cfg.KafkaDLQTopic)
	r.str(EnvKafkaConsumerGroup, &cfg.KafkaConsumerGroup)

	r.str(EnvRedisAddr, &cfg.RedisAddr)
	r.duration(EnvWebhookCacheTTL, &cfg.WebhookCacheTTL, positive)

	if r.str(EnvGateway, &cfg.Gateway) {
		cfg.Gateway = strings.ToLower(cfg.Gateway)
	}
	r.str(EnvStripeSecretKey, &cfg.StripeSecretKey)
	r.str(EnvStripeBackendURL, &cfg.StripeBackendURL)
	r.str(EnvWebhookSecret, &cfg.WebhookSecret)
	if !r.str(EnvSignatureHeader, &cfg.SignatureHeader) && cfg.Gateway == GatewayStripe {
		cfg.SignatureHeader = StripeSignatureHeader
	}
	r.str(EnvAdminToken, &cfg.AdminToken)

	if r.str(EnvCurrency, &cfg.Currency) {
		cfg.Currency = strings.ToLower(cfg.Currency)
	}
	r.money(EnvTaxRate, &cfg.Pricing.TaxRate)
	r.money(EnvFreeShippingThreshold, &cfg.Pricing.FreeShippingThreshold)
	r.money(EnvFlatShippingFee, &cfg.Pricing.FlatShippingFee)

	r.duration(EnvPaymentWindow, &cfg.PaymentWindow, positive)
	r.duration(EnvExpirySweepInterval, &cfg.ExpirySweepInterval, positive)
	r.integer(EnvExpiryBatchSize, &cfg.ExpiryBatchSize)
	r.integer(EnvExpiryParallelism, &cfg.ExpiryParallelism)
	r.duration(EnvCancelPollInterval, &cfg.CancelPollInterval, positive)

	r.integer(EnvBreakerMaxFailures, &cfg.BreakerMaxFailures)
	r.duration(EnvBreakerResetTimeout, &cfg.BreakerResetTimeout, positive)

	r.duration(EnvOutboxPollInterval, &cfg.OutboxPollInterval, positive)
	r.integer(EnvOutboxBatchSize, &cfg.OutboxBatchSize)
	r.integer(EnvOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	r.duration(EnvOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative)

	r.duration(EnvEventRetention, &cfg.EventRetention, positive)
	r.duration(EnvEventCleanupInterval, &cfg.EventCleanupInterval, positive)
	r.integer(EnvEventCleanupBatchSize, &cfg.EventCleanupBatchSize)

	return cfg, r.warnings
}

func positive(d time.Duration) bool    { return d > 0 }
func nonNegative(d time.Duration) bool { return d >= 0 }

type envReader struct {
	lookup   EnvLookup
	warnings []string
}

func (r *envReader) raw(key string) (string, bool) {
	value, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (r *envReader) warn(key, value string, err error) {
	r.warnings = append(r.warnings, fmt.Sprintf("%s=%q ignored: %v", key, value, err))
}

func (r *envReader) str(key string, dst *string) bool {
	value, ok := r.raw(key)
	if ok {
		*dst = value
	}
	return ok
}

func (r *envReader) boolean(key string, dst *bool) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := parseBool(value)
	if err != nil {
		r.warn(key, value, err)
		return
	}
	*dst = parsed
}

func (r *envReader) integer(key string, dst *int) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err == nil && parsed <= 0 {
		err = fmt.Errorf("must be > 0")
	}
	if err != nil {
		r.warn(key, value, err)
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration, valid func(time.Duration) bool) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err == nil && !valid(parsed) {
		err = fmt.Errorf("out of range")
	}
	if err != nil {
		r.warn(key, value, err)
		return
	}
	*dst = parsed
}

func (r *envReader) money(key string, dst *decimal.Decimal) {
	value, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := decimal.NewFromString(value)
	if err == nil && parsed.IsNegative() {
		err = fmt.Errorf("must be >= 0")
	}
	if err != nil {
		r.warn(key, value, err)
		return
	}
	*dst = parsed
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", value)
	}
}
