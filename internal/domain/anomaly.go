package domain

import "time"

// AnomalyKind — класс нарушения целостности, найденного при сверке.
type AnomalyKind string

const (
	// Повторный capture пришёл с другой суммой.
	AnomalyKindAmountMismatch AnomalyKind = "AMOUNT_MISMATCH"
	// По уже оплаченному заказу списан второй платёж с другим payment_id.
	AnomalyKindDuplicatePayment AnomalyKind = "DUPLICATE_PAYMENT"
)

// Anomaly фиксирует расхождение для оператора. Состояние сверки при этом не меняется.
type Anomaly struct {
	ID                  string
	Kind                AnomalyKind
	OrderID             string
	EventID             string
	PaymentID           string
	ExpectedAmountMinor int64
	ActualAmountMinor   int64
	DetectedAt          time.Time
}
