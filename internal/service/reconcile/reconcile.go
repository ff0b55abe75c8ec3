package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

// Reconcile применяет событие шлюза к ledger. Все изменения выполняются в одной
// транзакции вместе с записью события, поэтому при ошибке хранилища доставка
// считается необработанной и повтор шлюза безопасен.
//
// Для AMOUNT_MISMATCH изменения (событие и аномалия) уже зафиксированы,
// а возвращаемая ошибка оборачивает domain.ErrAmountMismatch.
func (e *Engine) Reconcile(ctx context.Context, event domain.GatewayEvent) (domain.ReconciliationOutcome, error) {
	if errs := event.Validate(); len(errs) > 0 {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidPayload, errors.Join(errs...))
	}
	if event.Status == "" {
		event.Status = domain.ProcessingStatusReceived
	}

	logger := e.logger.WithFields(log.Fields{
		"event_id":   event.EventID,
		"event_type": event.Type,
		"order_id":   event.OrderID,
		"payment_id": event.PaymentID,
	})

	started := e.now()
	var outcome domain.ReconciliationOutcome
	err := e.runTx(ctx, "reconcile", event.OrderID, func(ctx context.Context, tx domain.Tx) error {
		var err error
		outcome, err = e.reconcileTx(ctx, tx, event)
		return err
	})
	if err != nil {
		logger.WithError(err).Error("failed to reconcile gateway event")
		return "", err
	}

	e.metrics.RecordReconcile(string(outcome), e.now().Sub(started))
	if outcome != domain.OutcomeDuplicateIgnored && outcome != domain.OutcomeIgnoredIrrelevant {
		e.invalidate(ctx, event.OrderID)
	}

	switch outcome {
	case domain.OutcomeAmountMismatch:
		e.metrics.RecordAnomaly()
		logger.WithField("amount_minor", event.AmountMinor).Error("payment amount mismatch recorded for operator review")
		return outcome, fmt.Errorf("%w: order %s event %s", domain.ErrAmountMismatch, event.OrderID, event.EventID)
	case domain.OutcomeOrphanedPayment:
		logger.Warn("orphaned payment recorded for manual reconciliation")
	default:
		logger.WithField("outcome", outcome).Info("gateway event reconciled")
	}
	return outcome, nil
}

func (e *Engine) reconcileTx(ctx context.Context, tx domain.Tx, event domain.GatewayEvent) (domain.ReconciliationOutcome, error) {
	now := e.now()

	_, isNew, err := tx.RecordEventIfNew(ctx, event)
	if err != nil {
		return "", fmt.Errorf("record gateway event: %w", err)
	}
	if !isNew {
		return domain.OutcomeDuplicateIgnored, nil
	}
	if !event.Type.IsCapture() {
		return domain.OutcomeIgnoredIrrelevant, e.finishEvent(ctx, tx, event.EventID, domain.ProcessingStatusProcessed)
	}

	reg, err := tx.GetRegistrationForUpdate(ctx, event.OrderID)
	if errors.Is(err, domain.ErrRegistrationNotFound) {
		orphan := domain.NewOrphanedRegistration(event.OrderID, now)
		created, err := tx.CreateRegistration(ctx, orphan)
		if err != nil {
			return "", fmt.Errorf("create orphaned registration: %w", err)
		}
		if created {
			return e.recordOrphan(ctx, tx, event, orphan, domain.TimelineRegistrationCreated, "payment captured for unknown order")
		}
		// Регистрацию создали конкурентно: перечитываем под блокировкой.
		reg, err = tx.GetRegistrationForUpdate(ctx, event.OrderID)
	}
	if err != nil {
		return "", fmt.Errorf("load registration: %w", err)
	}

	switch reg.Status {
	case domain.RegistrationStatusAwaitingPayment:
		return e.captureAwaitingPayment(ctx, tx, event, reg)

	case domain.RegistrationStatusAwaitingRegistration:
		return e.captureAgain(ctx, tx, event, reg, domain.OutcomeAlreadyAwaitingLink)

	case domain.RegistrationStatusCompleted:
		return e.captureAgain(ctx, tx, event, reg, domain.OutcomeAlreadyLinked)

	case domain.RegistrationStatusExpired:
		if err := reg.Transition(domain.RegistrationStatusOrphaned, now); err != nil {
			return "", err
		}
		if err := tx.UpdateRegistration(ctx, reg); err != nil {
			return "", fmt.Errorf("update registration: %w", err)
		}
		return e.recordOrphan(ctx, tx, event, reg, domain.TimelineStatusChanged, "payment captured after registration expired")

	case domain.RegistrationStatusOrphaned:
		payment := domain.NewPaymentRecord(event, now)
		created, err := e.ensurePayment(ctx, tx, payment)
		if err != nil {
			return "", err
		}
		if !created {
			return domain.OutcomeOrphanedPayment, e.finishEvent(ctx, tx, event.EventID, domain.ProcessingStatusIgnoredDuplicate)
		}
		if err := e.record(ctx, tx, change{
			reg:      reg,
			payment:  &payment,
			eventID:  event.EventID,
			timeline: domain.TimelinePaymentCaptured,
			outbox:   domain.OutboxEventOrphaned,
			reason:   "additional payment captured for orphaned order",
			occurred: now,
		}); err != nil {
			return "", err
		}
		return domain.OutcomeOrphanedPayment, e.finishEvent(ctx, tx, event.EventID, domain.ProcessingStatusProcessed)

	default:
		return "", fmt.Errorf("%w: registration %s in unknown status %q", domain.ErrInvalidTransition, reg.OrderID, reg.Status)
	}
}

// captureAwaitingPayment обрабатывает первую оплату заказа. Если сущность уже
// привязана (регистрация завершилась раньше webhook), связка закрывается сразу.
func (e *Engine) captureAwaitingPayment(ctx context.Context, tx domain.Tx, event domain.GatewayEvent, reg domain.PendingRegistration) (domain.ReconciliationOutcome, error) {
	now := e.now()
	payment := domain.NewPaymentRecord(event, now)

	outcome := domain.OutcomeAwaitingDomainLink
	next := domain.RegistrationStatusAwaitingRegistration
	outboxEvent := domain.OutboxEventAwaitingLink
	if reg.LinkedEntityID != "" {
		if err := payment.MarkLinked(reg.LinkedEntityID, now); err != nil {
			return "", err
		}
		outcome = domain.OutcomeLinked
		next = domain.RegistrationStatusCompleted
		outboxEvent = domain.OutboxEventCompleted
	}

	if _, err := e.ensurePayment(ctx, tx, payment); err != nil {
		return "", err
	}
	if err := reg.Transition(next, now); err != nil {
		return "", err
	}
	if next == domain.RegistrationStatusAwaitingRegistration {
		// После оплаты срок считается заново: на создание сущности даётся linkWindow.
		reg.ExpiresAt = now.Add(e.linkWindow)
	}
	if err := tx.UpdateRegistration(ctx, reg); err != nil {
		return "", fmt.Errorf("update registration: %w", err)
	}
	if err := e.record(ctx, tx, change{
		reg:      reg,
		payment:  &payment,
		eventID:  event.EventID,
		timeline: domain.TimelinePaymentCaptured,
		outbox:   outboxEvent,
		reason:   fmt.Sprintf("payment %s captured, status %s", payment.PaymentID, reg.Status),
		occurred: now,
	}); err != nil {
		return "", err
	}

	return outcome, e.finishEvent(ctx, tx, event.EventID, domain.ProcessingStatusProcessed)
}

// captureAgain обрабатывает capture для уже оплаченного заказа. Повтор того же
// payment_id с другой суммой фиксируется как AMOUNT_MISMATCH. Новый payment_id
// означает повторное списание: платёж сохраняется UNLINKED и выносится оператору
// как аномалия DUPLICATE_PAYMENT. Состояние регистрации не меняется.
func (e *Engine) captureAgain(ctx context.Context, tx domain.Tx, event domain.GatewayEvent, reg domain.PendingRegistration, unchanged domain.ReconciliationOutcome) (domain.ReconciliationOutcome, error) {
	now := e.now()

	known, err := tx.GetPaymentForUpdate(ctx, event.PaymentID)
	switch {
	case err == nil:
		if known.AmountMinor != event.AmountMinor {
			return e.recordAmountMismatch(ctx, tx, event, reg, known)
		}
		return unchanged, e.finishEvent(ctx, tx, event.EventID, domain.ProcessingStatusIgnoredDuplicate)
	case !errors.Is(err, domain.ErrPaymentNotFound):
		return "", fmt.Errorf("load payment: %w", err)
	}

	first, err := tx.GetPaymentByOrderForUpdate(ctx, event.OrderID)
	if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
		return "", fmt.Errorf("load payment: %w", err)
	}
	payment := domain.NewPaymentRecord(event, now)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		// Заказ оплачен, но записи платежа нет: этот платёж и есть оплата заказа.
		if reg.Status == domain.RegistrationStatusCompleted {
			if err := payment.MarkLinked(reg.LinkedEntityID, now); err != nil {
				return "", err
			}
		}
		if _, err := e.ensurePayment(ctx, tx, payment); err != nil {
			return "", err
		}
		if err := e.record(ctx, tx, change{
			reg:      reg,
			timeline: domain.TimelinePaymentCaptured,
			reason:   fmt.Sprintf("payment %s captured, status %s", payment.PaymentID, reg.Status),
			occurred: now,
		}); err != nil {
			return "", err
		}
		return unchanged, e.finishEvent(ctx, tx, event.EventID, domain.ProcessingStatusProcessed)
	}

	return e.recordDuplicatePayment(ctx, tx, event, reg, first, payment, unchanged)
}

// recordDuplicatePayment сохраняет второе списание по заказу и выносит его оператору.
func (e *Engine) recordDuplicatePayment(ctx context.Context, tx domain.Tx, event domain.GatewayEvent, reg domain.PendingRegistration, first, payment domain.PaymentRecord, unchanged domain.ReconciliationOutcome) (domain.ReconciliationOutcome, error) {
	now := e.now()

	if _, err := e.ensurePayment(ctx, tx, payment); err != nil {
		return "", err
	}
	if err := tx.RecordAnomaly(ctx, domain.Anomaly{
		ID:                  uuid.NewString(),
		Kind:                domain.AnomalyKindDuplicatePayment,
		OrderID:             event.OrderID,
		EventID:             event.EventID,
		PaymentID:           event.PaymentID,
		ExpectedAmountMinor: first.AmountMinor,
		ActualAmountMinor:   event.AmountMinor,
		DetectedAt:          now,
	}); err != nil {
		return "", fmt.Errorf("record anomaly: %w", err)
	}

	e.logger.WithFields(log.Fields{
		"order_id":         event.OrderID,
		"payment_id":       event.PaymentID,
		"first_payment_id": first.PaymentID,
	}).Warn("additional payment captured for already paid order")
	if err := e.record(ctx, tx, change{
		reg:      reg,
		payment:  &payment,
		eventID:  event.EventID,
		timeline: domain.TimelinePaymentCaptured,
		outbox:   domain.OutboxEventOrphaned,
		reason:   fmt.Sprintf("additional payment %s captured, first payment %s", payment.PaymentID, first.PaymentID),
		occurred: now,
	}); err != nil {
		return "", err
	}
	return unchanged, e.finishEvent(ctx, tx, event.EventID, domain.ProcessingStatusProcessed)
}

func (e *Engine) recordAmountMismatch(ctx context.Context, tx domain.Tx, event domain.GatewayEvent, reg domain.PendingRegistration, existing domain.PaymentRecord) (domain.ReconciliationOutcome, error) {
	now := e.now()
	anomaly := domain.Anomaly{
		ID:                  uuid.NewString(),
		Kind:                domain.AnomalyKindAmountMismatch,
		OrderID:             event.OrderID,
		EventID:             event.EventID,
		PaymentID:           event.PaymentID,
		ExpectedAmountMinor: existing.AmountMinor,
		ActualAmountMinor:   event.AmountMinor,
		DetectedAt:          now,
	}
	if err := tx.RecordAnomaly(ctx, anomaly); err != nil {
		return "", fmt.Errorf("record anomaly: %w", err)
	}

	reported := domain.NewPaymentRecord(event, now)
	if err := e.record(ctx, tx, change{
		reg:      reg,
		payment:  &reported,
		eventID:  event.EventID,
		timeline: domain.TimelineAmountMismatch,
		outbox:   domain.OutboxEventAmountMismatch,
		reason:   fmt.Sprintf("expected %d, gateway reported %d", existing.AmountMinor, event.AmountMinor),
		occurred: now,
	}); err != nil {
		return "", err
	}

	return domain.OutcomeAmountMismatch, e.finishEvent(ctx, tx, event.EventID, domain.ProcessingStatusProcessed)
}

func (e *Engine) recordOrphan(ctx context.Context, tx domain.Tx, event domain.GatewayEvent, reg domain.PendingRegistration, timeline, reason string) (domain.ReconciliationOutcome, error) {
	now := e.now()
	payment := domain.NewPaymentRecord(event, now)
	if _, err := e.ensurePayment(ctx, tx, payment); err != nil {
		return "", err
	}
	if err := e.record(ctx, tx, change{
		reg:      reg,
		payment:  &payment,
		eventID:  event.EventID,
		timeline: timeline,
		outbox:   domain.OutboxEventOrphaned,
		reason:   reason,
		occurred: now,
	}); err != nil {
		return "", err
	}
	return domain.OutcomeOrphanedPayment, e.finishEvent(ctx, tx, event.EventID, domain.ProcessingStatusProcessed)
}

// ensurePayment создаёт запись платежа, если payment_id ещё не встречался.
func (e *Engine) ensurePayment(ctx context.Context, tx domain.Tx, payment domain.PaymentRecord) (bool, error) {
	if errs := payment.Validate(); len(errs) > 0 {
		return false, fmt.Errorf("%w: %w", domain.ErrInvalidPayload, errors.Join(errs...))
	}
	created, err := tx.InsertPayment(ctx, payment)
	if err != nil {
		return false, fmt.Errorf("insert payment: %w", err)
	}
	return created, nil
}

func (e *Engine) finishEvent(ctx context.Context, tx domain.Tx, eventID string, status domain.ProcessingStatus) error {
	if err := tx.SetEventStatus(ctx, eventID, status); err != nil {
		return fmt.Errorf("set event status: %w", err)
	}
	return nil
}
