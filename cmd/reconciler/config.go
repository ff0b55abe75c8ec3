package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/app"
)

const (
	envHTTPAddr            = "RECON_HTTP_ADDR"
	envGRPCAddr            = "RECON_GRPC_ADDR"
	envMetricsAddr         = "RECON_METRICS_ADDR"
	envStorageDriver       = "RECON_STORAGE_DRIVER"
	envPostgresDSN         = "RECON_POSTGRES_DSN"
	envPostgresAutoMigrate = "RECON_POSTGRES_AUTO_MIGRATE"
	envWebhookSecret       = "RECON_WEBHOOK_SECRET"
	envRegistrationTTL     = "RECON_REGISTRATION_TTL"
	envLinkWindow          = "RECON_LINK_WINDOW"
	envTxMaxAttempts       = "RECON_TX_MAX_ATTEMPTS"
	envTxTimeout           = "RECON_TX_TIMEOUT"
	envKafkaBrokers        = "RECON_KAFKA_BROKERS"
	envKafkaClientID       = "RECON_KAFKA_CLIENT_ID"
	envKafkaConsumerGroup  = "RECON_KAFKA_CONSUMER_GROUP"
	envRedisAddr           = "RECON_REDIS_ADDR"
	envRedisPassword       = "RECON_REDIS_PASSWORD"
	envRedisDB             = "RECON_REDIS_DB"
	envStatusCacheTTL      = "RECON_STATUS_CACHE_TTL"
	envOutboxPollInterval  = "RECON_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize     = "RECON_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts   = "RECON_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay    = "RECON_OUTBOX_RETRY_DELAY"
	envExpiryInterval      = "RECON_EXPIRY_INTERVAL"
	envExpiryBatchSize     = "RECON_EXPIRY_BATCH_SIZE"
	envShutdownTimeout     = "RECON_SHUTDOWN_TIMEOUT"
)

type envLookup func(key string) (string, bool)

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не роняют старт: остаётся дефолт, а ошибка уходит в warnings.
func readConfigFromEnv(lookup envLookup) (app.Config, []error) {
	cfg := app.DefaultConfig()
	var warnings []error

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Errorf("%s=%q: %w", key, raw, err))
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, msg string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, msg)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, msg string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, msg)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	// Секрет не тримим: пробелы могут быть его частью.
	if v, ok := lookup(envWebhookSecret); ok {
		cfg.WebhookSecret = v
	}
	duration(envRegistrationTTL, &cfg.RegistrationTTL, positiveDuration, "must be > 0")
	duration(envLinkWindow, &cfg.LinkWindow, positiveDuration, "must be > 0")
	integer(envTxMaxAttempts, &cfg.TxMaxAttempts, positive, "must be > 0")
	duration(envTxTimeout, &cfg.TxTimeout, positiveDuration, "must be > 0")

	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = app.ParseBrokers(v)
	}
	str(envKafkaClientID, &cfg.KafkaClientID)
	str(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)

	str(envRedisAddr, &cfg.RedisAddr)
	if v, ok := lookup(envRedisPassword); ok {
		cfg.RedisPassword = v
	}
	integer(envRedisDB, &cfg.RedisDB, nonNegative, "must be >= 0")
	duration(envStatusCacheTTL, &cfg.StatusCacheTTL, positiveDuration, "must be > 0")

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	duration(envExpiryInterval, &cfg.ExpiryInterval, positiveDuration, "must be > 0")
	integer(envExpiryBatchSize, &cfg.ExpiryBatchSize, positive, "must be > 0")
	duration(envShutdownTimeout, &cfg.ShutdownTimeout, positiveDuration, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, errors.New("invalid boolean value")
	}
}

func parseInt(raw string, valid func(int) bool, msg string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("invalid value: %s", msg)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, msg string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %w", err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("invalid value: %s", msg)
	}
	return value, nil
}
