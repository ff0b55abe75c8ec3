package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

const (
	defaultTTL       = 5 * time.Second
	defaultKeyPrefix = "recon:status:"
	// Значение-заглушка после инвалидации: до истечения TTL запись считается
	// промахом и не может быть перезаписана через Set.
	tombstone = "-"
)

// StatusCache кэширует ответы getPaymentStatus для частого опроса из UI.
// Источником истины остаётся Store: ошибки кэша не должны ломать запрос.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (domain.PendingRegistration, bool, error)
	Set(ctx context.Context, reg domain.PendingRegistration) error
	Invalidate(ctx context.Context, orderIDs ...string) error
}

// Noop — кэш, который ничего не хранит.
type Noop struct{}

func (Noop) Get(context.Context, string) (domain.PendingRegistration, bool, error) {
	return domain.PendingRegistration{}, false, nil
}

func (Noop) Set(context.Context, domain.PendingRegistration) error { return nil }

func (Noop) Invalidate(context.Context, ...string) error { return nil }

// RedisOptions задаёт параметры Redis-кэша.
type RedisOptions struct {
	TTL       time.Duration
	KeyPrefix string
	Logger    *log.Entry
}

// Option настраивает Redis.
type Option func(*RedisOptions)

// WithTTL задаёт время жизни записи.
func WithTTL(ttl time.Duration) Option {
	return func(opts *RedisOptions) {
		opts.TTL = ttl
	}
}

// WithKeyPrefix задаёт префикс ключей.
func WithKeyPrefix(prefix string) Option {
	return func(opts *RedisOptions) {
		opts.KeyPrefix = prefix
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *RedisOptions) {
		opts.Logger = logger
	}
}

// Redis — read-through кэш статусов регистраций в Redis.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *log.Entry
}

// cachedRegistration — формат значения в Redis.
type cachedRegistration struct {
	OrderID            string    `json:"order_id"`
	IntendedEntityType string    `json:"intended_entity_type,omitempty"`
	Status             string    `json:"status"`
	LinkedEntityID     string    `json:"linked_entity_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// NewRedis создаёт кэш поверх готового клиента. Жизненным циклом клиента
// управляет вызывающий.
func NewRedis(client redis.UniversalClient, options ...Option) *Redis {
	opts := RedisOptions{
		TTL:       defaultTTL,
		KeyPrefix: defaultKeyPrefix,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "status-cache")
	}

	return &Redis{
		client: client,
		ttl:    opts.TTL,
		prefix: opts.KeyPrefix,
		logger: opts.Logger,
	}
}

// Get возвращает закэшированную регистрацию; found=false при промахе.
func (c *Redis) Get(ctx context.Context, orderID string) (domain.PendingRegistration, bool, error) {
	raw, err := c.client.Get(ctx, c.key(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PendingRegistration{}, false, nil
	}
	if err != nil {
		return domain.PendingRegistration{}, false, fmt.Errorf("redis get %s: %w", orderID, err)
	}
	if string(raw) == tombstone {
		return domain.PendingRegistration{}, false, nil
	}

	var cached cachedRegistration
	if err := json.Unmarshal(raw, &cached); err != nil {
		// Битую запись удаляем и считаем промахом.
		c.logger.WithError(err).WithField("order_id", orderID).Warn("dropping undecodable cache entry")
		_ = c.client.Del(ctx, c.key(orderID)).Err()
		return domain.PendingRegistration{}, false, nil
	}

	return domain.PendingRegistration{
		OrderID:            cached.OrderID,
		IntendedEntityType: domain.EntityType(cached.IntendedEntityType),
		Status:             domain.RegistrationStatus(cached.Status),
		LinkedEntityID:     cached.LinkedEntityID,
		CreatedAt:          cached.CreatedAt,
		UpdatedAt:          cached.UpdatedAt,
		ExpiresAt:          cached.ExpiresAt,
	}, true, nil
}

// Set сохраняет регистрацию на TTL, только если ключ свободен. Снимок,
// прочитанный до коммита, не перетирает ни свежую запись, ни заглушку
// инвалидации.
func (c *Redis) Set(ctx context.Context, reg domain.PendingRegistration) error {
	raw, err := json.Marshal(cachedRegistration{
		OrderID:            reg.OrderID,
		IntendedEntityType: string(reg.IntendedEntityType),
		Status:             string(reg.Status),
		LinkedEntityID:     reg.LinkedEntityID,
		CreatedAt:          reg.CreatedAt,
		UpdatedAt:          reg.UpdatedAt,
		ExpiresAt:          reg.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal cached registration: %w", err)
	}
	if err := c.client.SetNX(ctx, c.key(reg.OrderID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx %s: %w", reg.OrderID, err)
	}
	return nil
}

// Invalidate заменяет записи заказов заглушкой после изменения их состояния.
func (c *Redis) Invalidate(ctx context.Context, orderIDs ...string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range orderIDs {
			pipe.Set(ctx, c.key(id), tombstone, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis (используется health-check).
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) key(orderID string) string {
	return c.prefix + orderID
}

var (
	_ StatusCache = Noop{}
	_ StatusCache = (*Redis)(nil)
)
