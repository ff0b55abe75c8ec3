package razorpay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

// GatewayName — имя шлюза в сохранённых событиях и метриках.
const GatewayName = "razorpay"

const paymentStatusCaptured = "captured"

var validate = validator.New()

// webhookEnvelope — верхний уровень тела webhook.
type webhookEnvelope struct {
	ID        string `json:"id"`
	Event     string `json:"event" validate:"required"`
	CreatedAt int64  `json:"created_at" validate:"gte=0"`
	// payload проверяется отдельно: его схема зависит от типа события.
	Payload webhookPayload `json:"payload" validate:"-"`
}

type webhookPayload struct {
	Payment *paymentWrapper `json:"payment"`
}

type paymentWrapper struct {
	Entity *paymentEntity `json:"entity" validate:"required"`
}

// paymentEntity — сущность payload.payment.entity.
type paymentEntity struct {
	ID       string `json:"id" validate:"required,max=64"`
	OrderID  string `json:"order_id" validate:"required,max=64"`
	Amount   *int64 `json:"amount" validate:"required,gte=0"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
	Status   string `json:"status" validate:"required"`
}

// ParseEvent проверяет схему тела и переводит его в GatewayEvent.
// Вызывается только после успешной проверки подписи.
//
// event_id берётся из заголовка X-Razorpay-Event-Id, затем из поля id тела;
// если нет обоих, он выводится из имени события и payment_id, чтобы повторные
// доставки одного и того же платежа всё равно совпадали.
func ParseEvent(rawBody []byte, eventIDHeader string, receivedAt time.Time) (domain.GatewayEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return domain.GatewayEvent{}, fmt.Errorf("%w: decode body: %v", domain.ErrInvalidPayload, err)
	}
	if err := validate.Struct(env); err != nil {
		return domain.GatewayEvent{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	eventType := domain.EventTypeFromGateway(env.Event)
	event := domain.GatewayEvent{
		GatewayName:    env.Event,
		Type:           eventType,
		RawPayload:     append([]byte(nil), rawBody...),
		ReceivedAt:     receivedAt.UTC(),
		SignatureValid: true,
		Status:         domain.ProcessingStatusReceived,
	}

	if eventType.CarriesPayment() {
		entity, err := paymentFrom(env)
		if err != nil {
			return domain.GatewayEvent{}, err
		}
		if eventType.IsCapture() && entity.Status != paymentStatusCaptured {
			return domain.GatewayEvent{}, fmt.Errorf("%w: %s with payment status %q", domain.ErrInvalidPayload, env.Event, entity.Status)
		}
		event.OrderID = entity.OrderID
		event.PaymentID = entity.ID
		event.AmountMinor = *entity.Amount
		event.Currency = strings.ToUpper(entity.Currency)
	} else if env.Payload.Payment != nil && env.Payload.Payment.Entity != nil {
		// Для прочих событий платёж необязателен, но полезен для аудита.
		event.OrderID = env.Payload.Payment.Entity.OrderID
		event.PaymentID = env.Payload.Payment.Entity.ID
	}

	event.EventID = resolveEventID(eventIDHeader, env, event.PaymentID)
	if errs := event.Validate(); len(errs) > 0 {
		return domain.GatewayEvent{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, errs[0])
	}

	return event, nil
}

func paymentFrom(env webhookEnvelope) (*paymentEntity, error) {
	if env.Payload.Payment == nil {
		return nil, fmt.Errorf("%w: %s without payload.payment", domain.ErrInvalidPayload, env.Event)
	}
	if err := validate.Struct(env.Payload.Payment); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if err := validate.Struct(env.Payload.Payment.Entity); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return env.Payload.Payment.Entity, nil
}

func resolveEventID(header string, env webhookEnvelope, paymentID string) string {
	if id := strings.TrimSpace(header); id != "" {
		return id
	}
	if id := strings.TrimSpace(env.ID); id != "" {
		return id
	}
	if paymentID == "" {
		return ""
	}
	return env.Event + ":" + paymentID
}
