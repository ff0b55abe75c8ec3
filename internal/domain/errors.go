package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора заказа шлюза.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего идентификатора события шлюза.
	ErrEventIDRequired = errors.New("event_id is required")
	// Ошибка отсутствующего идентификатора платежа.
	ErrPaymentIDRequired = errors.New("payment_id is required")
	// Ошибка отсутствующего идентификатора доменной сущности (member/volunteer/donation).
	ErrEntityIDRequired = errors.New("entity_id is required")
	// Ошибка неизвестного типа регистрируемой сущности.
	ErrEntityTypeInvalid = errors.New("intended_entity_type must be one of MEMBER, VOLUNTEER, DONATION")
	// Ошибка отрицательной суммы платежа.
	ErrAmountNegative = errors.New("amount_minor_units must be non-negative")
	// Ошибка слишком длинного срока ожидания оплаты.
	ErrTTLTooLong = errors.New("ttl_seconds must not exceed 30 days")

	// Подпись webhook не совпала, payload отклоняется до любых изменений.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// Секрет не настроен, верификация невозможна (fail closed).
	ErrVerificationUnavailable = errors.New("webhook verification unavailable: secret is not configured")
	// Тело webhook не прошло валидацию схемы.
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// Сумма повторного capture не совпадает с сохранённым платежом.
	ErrAmountMismatch = errors.New("payment amount mismatch")
	// Для order_id нет ожидающей регистрации (или она ORPHANED).
	ErrNoPendingRegistration = errors.New("no pending registration for order")
	// Регистрация истекла до оплаты.
	ErrRegistrationExpired = errors.New("pending registration expired")
	// Для order_id уже есть регистрация с другими параметрами.
	ErrRegistrationExists = errors.New("pending registration already exists")
	// К заказу уже привязана другая доменная сущность.
	ErrLinkConflict = errors.New("order is already linked to another entity")
	// Недопустимый переход конечного автомата.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrRegistrationNotFound возвращается хранилищем, если регистрации нет.
	ErrRegistrationNotFound = errors.New("pending registration not found")
	// ErrPaymentNotFound возвращается хранилищем, если платёжной записи нет.
	ErrPaymentNotFound = errors.New("payment record not found")
	// ErrEventNotFound возвращается хранилищем, если события шлюза нет.
	ErrEventNotFound = errors.New("gateway event not found")

	// Временная ошибка хранилища, вызывающий должен повторить попытку.
	ErrPersistence = errors.New("persistence failure")
	// Транзакция прервана конфликтом сериализации, можно повторить.
	ErrTxConflict = errors.New("transaction conflict")
	// Ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsPersistenceFailure проверяет, является ли ошибка временной ошибкой хранилища.
func IsPersistenceFailure(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrTxConflict)
}

// IsTxConflict проверяет, можно ли повторить транзакцию целиком.
func IsTxConflict(err error) bool {
	return errors.Is(err, ErrTxConflict)
}

// IsLinkRejection сообщает, что привязку нельзя выполнить автоматически
// и вызывающий должен перейти к ручной сверке.
func IsLinkRejection(err error) bool {
	return errors.Is(err, ErrNoPendingRegistration) ||
		errors.Is(err, ErrRegistrationExpired) ||
		errors.Is(err, ErrLinkConflict)
}
