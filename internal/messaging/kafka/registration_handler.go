package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

// Linker привязывает созданную сущность к заказу.
type Linker interface {
	LinkRegistration(ctx context.Context, orderID, entityID string) (domain.LinkOutcome, error)
}

// NewRegistrationHandler возвращает handler для TopicRegistrationEvents.
//
// Отказы привязки (нет регистрации, истекла, конфликт) не повторяются:
// заказ остаётся оператору, offset фиксируется. Битые сообщения уходят в DLQ,
// ошибки хранилища повторяются.
func NewRegistrationHandler(linker Linker, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "registration-consumer")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseRegistrationEvent(message)
		if err != nil {
			return Permanent(err)
		}

		entry := logger.WithFields(log.Fields{
			"order_id":  event.OrderID,
			"entity_id": event.EntityID,
			"offset":    message.Offset,
		})

		outcome, err := linker.LinkRegistration(ctx, event.OrderID, event.EntityID)
		switch {
		case err == nil:
			entry.WithField("outcome", outcome).Debug("registration event applied")
			return nil
		case domain.IsLinkRejection(err):
			entry.WithError(err).Warn("registration event rejected, left for manual reconciliation")
			return nil
		case errors.Is(err, domain.ErrOrderIDRequired), errors.Is(err, domain.ErrEntityIDRequired):
			return Permanent(err)
		default:
			return err
		}
	}
}
