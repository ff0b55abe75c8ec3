package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/cache"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/metrics"
)

const (
	defaultTxTimeout = 10 * time.Second
	cacheOpTimeout   = 500 * time.Millisecond
)

// Options задаёт параметры Engine.
type Options struct {
	Logger      *log.Entry
	Metrics     *metrics.ReconcileMetrics
	Retry       RetryConfig
	Clock       func() time.Time
	StatusCache cache.StatusCache
	DefaultTTL  time.Duration
	LinkWindow  time.Duration
	TxTimeout   time.Duration
}

// Option настраивает Engine.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики. По умолчанию метрики не пишутся.
func WithMetrics(m *metrics.ReconcileMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithRetryConfig задаёт политику повторов при конфликте транзакций.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(opts *Options) {
		opts.Retry = cfg
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// WithStatusCache включает кэш для GetPaymentStatus.
func WithStatusCache(c cache.StatusCache) Option {
	return func(opts *Options) {
		opts.StatusCache = c
	}
}

// WithDefaultTTL задаёт срок ожидания оплаты, если вызывающий не передал свой.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.DefaultTTL = ttl
	}
}

// WithLinkWindow задаёт срок ожидания сущности после оплаты.
func WithLinkWindow(window time.Duration) Option {
	return func(opts *Options) {
		opts.LinkWindow = window
	}
}

// WithTxTimeout ограничивает время одной транзакции сверки.
func WithTxTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.TxTimeout = timeout
	}
}

// Engine — конечный автомат сверки платежей с ожидающими регистрациями.
// Engine не хранит состояния между вызовами: всё лежит в Store, поэтому
// экземпляров может быть сколько угодно.
type Engine struct {
	store      domain.Store
	cache      cache.StatusCache
	logger     *log.Entry
	metrics    *metrics.ReconcileMetrics
	retry      RetryConfig
	now        func() time.Time
	defaultTTL time.Duration
	linkWindow time.Duration
	txTimeout  time.Duration
}

// NewEngine создаёт Engine поверх store.
func NewEngine(store domain.Store, options ...Option) *Engine {
	opts := Options{
		Retry:      DefaultRetryConfig(),
		DefaultTTL: domain.DefaultRegistrationTTL,
		LinkWindow: domain.DefaultLinkWindow,
		TxTimeout:  defaultTxTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reconcile-engine")
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	statusCache := opts.StatusCache
	if statusCache == nil {
		statusCache = cache.Noop{}
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = domain.DefaultRegistrationTTL
	}
	if opts.LinkWindow <= 0 {
		opts.LinkWindow = domain.DefaultLinkWindow
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = defaultTxTimeout
	}

	return &Engine{
		store:      store,
		cache:      statusCache,
		logger:     logger,
		metrics:    opts.Metrics,
		retry:      opts.Retry.normalized(),
		now:        clock,
		defaultTTL: opts.DefaultTTL,
		linkWindow: opts.LinkWindow,
		txTimeout:  opts.TxTimeout,
	}
}

// runTx выполняет fn в транзакции с повтором при конфликте. Контекст вызывающего
// отвязывается от отмены: медленный ответ шлюзу не должен прерывать уже
// начатую транзакцию, время ограничено только txTimeout.
func (e *Engine) runTx(ctx context.Context, operation, orderID string, fn func(ctx context.Context, tx domain.Tx) error) error {
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.txTimeout)
	defer cancel()

	return e.executeWithRetry(txCtx, operation, orderID, func() error {
		return e.store.WithinTx(txCtx, fn)
	})
}

// invalidate сбрасывает кэш статусов после коммита.
func (e *Engine) invalidate(ctx context.Context, orderIDs ...string) {
	if len(orderIDs) == 0 {
		return
	}
	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()
	if err := e.cache.Invalidate(cacheCtx, orderIDs...); err != nil {
		e.logger.WithError(err).WithField("order_ids", orderIDs).Warn("failed to invalidate status cache")
	}
}

// registrationEvent — payload событий outbox.
type registrationEvent struct {
	OrderID            string    `json:"order_id"`
	Status             string    `json:"status"`
	IntendedEntityType string    `json:"intended_entity_type,omitempty"`
	LinkedEntityID     string    `json:"linked_entity_id,omitempty"`
	PaymentID          string    `json:"payment_id,omitempty"`
	AmountMinor        int64     `json:"amount_minor,omitempty"`
	Currency           string    `json:"currency,omitempty"`
	PaymentStatus      string    `json:"payment_status,omitempty"`
	EventID            string    `json:"event_id,omitempty"`
	Reason             string    `json:"reason,omitempty"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// change описывает одно изменение регистрации: запись в timeline и событие outbox.
type change struct {
	reg      domain.PendingRegistration
	payment  *domain.PaymentRecord
	eventID  string
	timeline string
	outbox   string
	reason   string
	occurred time.Time
}

func (e *Engine) record(ctx context.Context, tx domain.Tx, c change) error {
	if c.timeline != "" {
		if err := tx.AppendTimeline(ctx, domain.TimelineEvent{
			OrderID:  c.reg.OrderID,
			Type:     c.timeline,
			Reason:   c.reason,
			Occurred: c.occurred,
		}); err != nil {
			return fmt.Errorf("append timeline: %w", err)
		}
	}
	if c.outbox == "" {
		return nil
	}

	payload := registrationEvent{
		OrderID:            c.reg.OrderID,
		Status:             string(c.reg.Status),
		IntendedEntityType: string(c.reg.IntendedEntityType),
		LinkedEntityID:     c.reg.LinkedEntityID,
		EventID:            c.eventID,
		Reason:             c.reason,
		OccurredAt:         c.occurred,
	}
	if c.payment != nil {
		payload.PaymentID = c.payment.PaymentID
		payload.AmountMinor = c.payment.AmountMinor
		payload.Currency = c.payment.Currency
		payload.PaymentStatus = string(c.payment.Status)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	if err := tx.EnqueueOutbox(ctx, domain.OutboxMessage{
		AggregateType: domain.OutboxAggregateRegistration,
		AggregateID:   c.reg.OrderID,
		EventType:     c.outbox,
		Payload:       raw,
		CreatedAt:     c.occurred,
	}); err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}
	return nil
}
