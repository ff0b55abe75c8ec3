package domain

import (
	"context"
	"time"
)

// Store — долговременное транзакционное хранилище сверки.
// Engine не держит состояния в памяти: вся координация идёт через Store.
type Store interface {
	// WithinTx выполняет fn в одной транзакции. Ошибка fn откатывает все изменения.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetRegistration(ctx context.Context, orderID string) (PendingRegistration, error)
	ListRegistrationsByStatus(ctx context.Context, status RegistrationStatus, limit int) ([]PendingRegistration, error)
	GetPaymentByOrder(ctx context.Context, orderID string) (PaymentRecord, error)
	GetEvent(ctx context.Context, eventID string) (GatewayEvent, error)
	ListAnomalies(ctx context.Context, limit int) ([]Anomaly, error)
	ListTimeline(ctx context.Context, orderID string) ([]TimelineEvent, error)
	Ping(ctx context.Context) error
}

// Tx — операции внутри одной транзакции. Чтения *ForUpdate блокируют строку
// до конца транзакции, поэтому конкурентные доставки не видят устаревшее состояние.
type Tx interface {
	// RecordEventIfNew атомарно вставляет событие по event_id.
	// Для уже существующего event_id возвращает сохранённую запись и isNew=false.
	RecordEventIfNew(ctx context.Context, event GatewayEvent) (stored GatewayEvent, isNew bool, err error)
	SetEventStatus(ctx context.Context, eventID string, status ProcessingStatus) error

	GetRegistrationForUpdate(ctx context.Context, orderID string) (PendingRegistration, error)
	// CreateRegistration возвращает created=false, если order_id уже занят.
	CreateRegistration(ctx context.Context, reg PendingRegistration) (created bool, err error)
	UpdateRegistration(ctx context.Context, reg PendingRegistration) error
	// ListRegistrationsDue блокирует до limit регистраций в status с expires_at <= before.
	ListRegistrationsDue(ctx context.Context, status RegistrationStatus, before time.Time, limit int) ([]PendingRegistration, error)

	// GetPaymentByOrderForUpdate блокирует первый по времени платёж заказа.
	GetPaymentByOrderForUpdate(ctx context.Context, orderID string) (PaymentRecord, error)
	GetPaymentForUpdate(ctx context.Context, paymentID string) (PaymentRecord, error)
	// InsertPayment возвращает created=false, если payment_id уже записан.
	InsertPayment(ctx context.Context, payment PaymentRecord) (created bool, err error)
	UpdatePayment(ctx context.Context, payment PaymentRecord) error

	RecordAnomaly(ctx context.Context, anomaly Anomaly) error
	AppendTimeline(ctx context.Context, event TimelineEvent) error
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; повторная публикация того же ID допустима.
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxRepository отдаёт накопленные события воркеру публикации.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// Типы доменных событий, публикуемых через outbox.
const (
	OutboxAggregateRegistration = "registration"

	OutboxEventAwaitingLink   = "registration.awaiting_link"
	OutboxEventCompleted      = "registration.completed"
	OutboxEventExpired        = "registration.expired"
	OutboxEventOrphaned       = "payment.orphaned"
	OutboxEventAmountMismatch = "payment.amount_mismatch"
	OutboxEventRefundPending  = "payment.refund_pending"
)
