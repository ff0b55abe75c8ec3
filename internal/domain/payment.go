package domain

import (
	"fmt"
	"time"
)

// ReconciliationStatus описывает, связан ли платёж с доменной сущностью.
type ReconciliationStatus string

const (
	// Деньги получены, сущность не привязана.
	ReconciliationStatusUnlinked ReconciliationStatus = "UNLINKED"
	// Платёж привязан к сущности.
	ReconciliationStatusLinked ReconciliationStatus = "LINKED"
	// Оператор решил вернуть деньги.
	ReconciliationStatusRefundPending ReconciliationStatus = "REFUND_PENDING"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s ReconciliationStatus) Valid() bool {
	switch s {
	case ReconciliationStatusUnlinked, ReconciliationStatusLinked, ReconciliationStatusRefundPending:
		return true
	default:
		return false
	}
}

// PaymentRecord — финансовый факт списания, независимый от UI-сценария.
// На один payment_id существует ровно одна запись.
type PaymentRecord struct {
	PaymentID   string
	OrderID     string
	AmountMinor int64
	Currency    string
	CapturedAt  time.Time
	Status      ReconciliationStatus
	// DomainEntityRef пуст, пока платёж не привязан.
	DomainEntityRef string
	UpdatedAt       time.Time
}

// NewPaymentRecord создаёт непривязанную запись по событию capture.
func NewPaymentRecord(event GatewayEvent, now time.Time) PaymentRecord {
	return PaymentRecord{
		PaymentID:   event.PaymentID,
		OrderID:     event.OrderID,
		AmountMinor: event.AmountMinor,
		Currency:    event.Currency,
		CapturedAt:  event.ReceivedAt,
		Status:      ReconciliationStatusUnlinked,
		UpdatedAt:   now,
	}
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *PaymentRecord) Validate() []error {
	var errs []error

	switch {
	case p.PaymentID == "":
		errs = append(errs, ErrPaymentIDRequired)
	case p.OrderID == "":
		errs = append(errs, ErrOrderIDRequired)
	case p.AmountMinor < 0:
		errs = append(errs, ErrAmountNegative)
	}

	return errs
}

// MarkLinked привязывает платёж к сущности.
func (p *PaymentRecord) MarkLinked(entityID string, now time.Time) error {
	if entityID == "" {
		return ErrEntityIDRequired
	}
	switch p.Status {
	case ReconciliationStatusLinked:
		if p.DomainEntityRef != entityID {
			return fmt.Errorf("%w: payment %s linked to %s", ErrLinkConflict, p.PaymentID, p.DomainEntityRef)
		}
		return nil
	case ReconciliationStatusRefundPending:
		return fmt.Errorf("%w: payment %s is pending refund", ErrInvalidTransition, p.PaymentID)
	}
	p.Status = ReconciliationStatusLinked
	p.DomainEntityRef = entityID
	p.UpdatedAt = now
	return nil
}

// MarkRefundPending помечает непривязанный платёж к возврату.
func (p *PaymentRecord) MarkRefundPending(now time.Time) error {
	switch p.Status {
	case ReconciliationStatusRefundPending:
		return nil
	case ReconciliationStatusLinked:
		return fmt.Errorf("%w: payment %s is already linked", ErrInvalidTransition, p.PaymentID)
	}
	p.Status = ReconciliationStatusRefundPending
	p.UpdatedAt = now
	return nil
}
