package domain

import "time"

// EventType — нормализованный тип события платёжного шлюза.
type EventType string

const (
	// Платёж списан (payment.captured).
	EventTypePaymentCaptured EventType = "PAYMENT_CAPTURED"
	// Заказ шлюза полностью оплачен (order.paid).
	EventTypeOrderPaid EventType = "ORDER_PAID"
	// Попытка оплаты не удалась (payment.failed).
	EventTypePaymentFailed EventType = "PAYMENT_FAILED"
	// Любое другое событие, не влияющее на сверку.
	EventTypeOther EventType = "OTHER"
)

// EventTypeFromGateway переводит имя события шлюза в EventType.
func EventTypeFromGateway(name string) EventType {
	switch name {
	case "payment.captured":
		return EventTypePaymentCaptured
	case "order.paid":
		return EventTypeOrderPaid
	case "payment.failed":
		return EventTypePaymentFailed
	default:
		return EventTypeOther
	}
}

// IsCapture сообщает, что событие подтверждает поступление денег.
func (t EventType) IsCapture() bool {
	return t == EventTypePaymentCaptured || t == EventTypeOrderPaid
}

// CarriesPayment сообщает, что в payload события обязана быть сущность платежа.
func (t EventType) CarriesPayment() bool {
	return t.IsCapture() || t == EventTypePaymentFailed
}

// ProcessingStatus описывает, чем закончилась обработка доставки webhook.
type ProcessingStatus string

const (
	// Событие сохранено, обработка ещё не завершена.
	ProcessingStatusReceived ProcessingStatus = "RECEIVED"
	// Событие применено к состоянию сверки.
	ProcessingStatusProcessed ProcessingStatus = "PROCESSED"
	// Платёж из события уже был учтён ранее.
	ProcessingStatusIgnoredDuplicate ProcessingStatus = "IGNORED_DUPLICATE"
	// Подпись не прошла проверку.
	ProcessingStatusIgnoredInvalidSignature ProcessingStatus = "IGNORED_INVALID_SIGNATURE"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case ProcessingStatusReceived,
		ProcessingStatusProcessed,
		ProcessingStatusIgnoredDuplicate,
		ProcessingStatusIgnoredInvalidSignature:
		return true
	default:
		return false
	}
}

// CanTransitionTo разрешает ровно один переход из RECEIVED в финальный статус.
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	return s == ProcessingStatusReceived && next.Valid() && next != ProcessingStatusReceived
}

// GatewayEvent — одна принятая доставка webhook.
type GatewayEvent struct {
	// EventID назначается шлюзом и глобально уникален.
	EventID string
	// Исходное имя события, например "payment.captured".
	GatewayName string
	Type        EventType
	OrderID     string
	PaymentID   string
	// Сумма в минимальных единицах валюты (пайсы).
	AmountMinor int64
	Currency    string
	// RawPayload хранит тело запроса байт в байт для аудита.
	RawPayload     []byte
	ReceivedAt     time.Time
	SignatureValid bool
	Status         ProcessingStatus
}

// Validate проверяет поля, без которых событие нельзя сохранить или сверить.
func (e *GatewayEvent) Validate() []error {
	var errs []error

	if e.EventID == "" {
		errs = append(errs, ErrEventIDRequired)
	}
	if e.Type.CarriesPayment() {
		if e.OrderID == "" {
			errs = append(errs, ErrOrderIDRequired)
		}
		if e.PaymentID == "" {
			errs = append(errs, ErrPaymentIDRequired)
		}
	}
	if e.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	return errs
}
