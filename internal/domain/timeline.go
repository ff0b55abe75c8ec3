package domain

import "time"

// TimelineEvent описывает переход в жизненном цикле регистрации (аудит для оператора).
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// Типы событий timeline.
const (
	TimelineRegistrationCreated = "RegistrationCreated"
	TimelineStatusChanged       = "RegistrationStatusChanged"
	TimelineEntityLinked        = "EntityLinked"
	TimelinePaymentCaptured     = "PaymentCaptured"
	TimelineAmountMismatch      = "AmountMismatch"
	TimelineRefundPending       = "RefundPending"
)
