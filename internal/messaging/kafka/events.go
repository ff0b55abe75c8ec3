package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-playground/validator/v10"
)

// Topics для Kafka.
const (
	// Исходящие события сверки из transactional outbox.
	TopicPaymentEvents = "ngo.payments.events"
	// Входящие события о созданных доменных сущностях.
	TopicRegistrationEvents = "ngo.registration.events"
	// Сообщения, которые не удалось обработать или опубликовать.
	TopicDeadLetterQueue = "ngo.payments.dlq"
)

// Kafka headers.
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// EventTypeEntityCreated — доменный сервис создал сущность по оплаченному заказу.
// Исходящее registration.completed публикует сама сверка, на вход оно не принимается.
const EventTypeEntityCreated = "registration.entity_created"

var validate = validator.New()

// RegistrationEvent — входящее сообщение о создании доменной сущности.
type RegistrationEvent struct {
	EventType  string    `json:"event_type" validate:"required,eq=registration.entity_created"`
	OrderID    string    `json:"order_id" validate:"required,max=64"`
	EntityID   string    `json:"entity_id" validate:"required,max=128"`
	EntityType string    `json:"entity_type,omitempty" validate:"omitempty,oneof=MEMBER VOLUNTEER DONATION"`
	OccurredAt time.Time `json:"occurred_at"`
}

// OutboxEnvelope — формат исходящих событий сверки.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// ParseRegistrationEvent разбирает и проверяет RegistrationEvent.
func ParseRegistrationEvent(message *sarama.ConsumerMessage) (*RegistrationEvent, error) {
	var event RegistrationEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registration event: %w", err)
	}
	event.OrderID = strings.TrimSpace(event.OrderID)
	event.EntityID = strings.TrimSpace(event.EntityID)
	event.EntityType = strings.ToUpper(strings.TrimSpace(event.EntityType))
	if err := validate.Struct(event); err != nil {
		return nil, fmt.Errorf("invalid registration event: %w", err)
	}
	return &event, nil
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
