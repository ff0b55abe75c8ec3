package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/messaging/kafka"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса сверки.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// WebhookSecret — секрет подписи Razorpay. Пустой секрет не мешает старту,
	// но все webhook будут отклоняться (fail closed).
	WebhookSecret   string
	RegistrationTTL time.Duration
	// LinkWindow — срок на создание сущности после оплаты, затем ORPHANED.
	LinkWindow    time.Duration
	TxMaxAttempts int
	TxTimeout     time.Duration

	KafkaBrokers           []string
	KafkaClientID          string
	KafkaConsumerGroup     string
	KafkaEventsTopic       string
	KafkaRegistrationTopic string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	StatusCacheTTL time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	ExpiryInterval  time.Duration
	ExpiryBatchSize int

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:               ":8080",
		GRPCAddr:               ":50051",
		MetricsAddr:            ":9090",
		StorageDriver:          StorageDriverMemory,
		PostgresAutoMigrate:    true,
		RegistrationTTL:        30 * time.Minute,
		LinkWindow:             24 * time.Hour,
		TxMaxAttempts:          3,
		TxTimeout:              10 * time.Second,
		KafkaClientID:          "donation-reconciler",
		KafkaConsumerGroup:     "donation-reconciler",
		KafkaEventsTopic:       kafka.TopicPaymentEvents,
		KafkaRegistrationTopic: kafka.TopicRegistrationEvents,
		StatusCacheTTL:         5 * time.Second,
		OutboxPollInterval:     time.Second,
		OutboxBatchSize:        100,
		OutboxMaxAttempts:      5,
		OutboxRetryDelay:       500 * time.Millisecond,
		ExpiryInterval:         30 * time.Second,
		ExpiryBatchSize:        100,
		ShutdownTimeout:        5 * time.Second,
	}
}

// Validate проверяет согласованность настроек до старта зависимостей.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc addr is required"))
	}
	if c.MetricsAddr == "" {
		errs = append(errs, errors.New("metrics addr is required"))
	}
	if c.RegistrationTTL < 0 {
		errs = append(errs, errors.New("registration ttl must be non-negative"))
	}
	if c.LinkWindow < 0 {
		errs = append(errs, errors.New("link window must be non-negative"))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaConsumerGroup == "" {
		errs = append(errs, errors.New("kafka consumer group is required when brokers are set"))
	}

	return errors.Join(errs...)
}

// ParseBrokers разбирает список брокеров через запятую, пропуская пустые элементы.
func ParseBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
