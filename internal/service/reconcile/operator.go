package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

const defaultListLimit = 100

// OrphanView — осиротевшая регистрация вместе с её платежом.
type OrphanView struct {
	Registration domain.PendingRegistration
	Payment      *domain.PaymentRecord
}

// RegistrationDetails — полная картина заказа для оператора.
type RegistrationDetails struct {
	Registration domain.PendingRegistration
	Payment      *domain.PaymentRecord
	Timeline     []domain.TimelineEvent
}

// ListOrphans возвращает платежи, ожидающие ручной сверки.
func (e *Engine) ListOrphans(ctx context.Context, limit int) ([]OrphanView, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	regs, err := e.store.ListRegistrationsByStatus(ctx, domain.RegistrationStatusOrphaned, limit)
	if err != nil {
		return nil, fmt.Errorf("list orphaned registrations: %w", err)
	}

	views := make([]OrphanView, 0, len(regs))
	for _, reg := range regs {
		payment, err := e.optionalPayment(ctx, reg.OrderID)
		if err != nil {
			return nil, err
		}
		views = append(views, OrphanView{Registration: reg, Payment: payment})
	}
	return views, nil
}

// ListAnomalies возвращает зафиксированные расхождения сумм.
func (e *Engine) ListAnomalies(ctx context.Context, limit int) ([]domain.Anomaly, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	anomalies, err := e.store.ListAnomalies(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	return anomalies, nil
}

// Details возвращает регистрацию, платёж и timeline заказа.
func (e *Engine) Details(ctx context.Context, orderID string) (RegistrationDetails, error) {
	reg, err := e.store.GetRegistration(ctx, orderID)
	if err != nil {
		return RegistrationDetails{}, err
	}
	payment, err := e.optionalPayment(ctx, orderID)
	if err != nil {
		return RegistrationDetails{}, err
	}
	timeline, err := e.store.ListTimeline(ctx, orderID)
	if err != nil {
		return RegistrationDetails{}, fmt.Errorf("list timeline: %w", err)
	}
	return RegistrationDetails{Registration: reg, Payment: payment, Timeline: timeline}, nil
}

// ManualLink — ручная привязка осиротевшего платежа к сущности оператором.
func (e *Engine) ManualLink(ctx context.Context, orderID, entityID string) (domain.LinkOutcome, error) {
	orderID = strings.TrimSpace(orderID)
	entityID = strings.TrimSpace(entityID)
	if orderID == "" {
		return "", domain.ErrOrderIDRequired
	}
	if entityID == "" {
		return "", domain.ErrEntityIDRequired
	}

	var outcome domain.LinkOutcome
	err := e.runTx(ctx, "manual_link", orderID, func(ctx context.Context, tx domain.Tx) error {
		now := e.now()
		reg, err := tx.GetRegistrationForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load registration: %w", err)
		}

		switch reg.Status {
		case domain.RegistrationStatusOrphaned:
		case domain.RegistrationStatusCompleted:
			if reg.LinkedEntityID != entityID {
				return fmt.Errorf("%w: order %s linked to %s", domain.ErrLinkConflict, orderID, reg.LinkedEntityID)
			}
			outcome = domain.LinkOutcomeAlreadyLinked
			return nil
		default:
			return fmt.Errorf("%w: manual link requires ORPHANED registration, order %s is %s", domain.ErrInvalidTransition, orderID, reg.Status)
		}

		payment, err := tx.GetPaymentByOrderForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		if err := e.complete(ctx, tx, &reg, &payment, entityID, "linked manually by operator", now); err != nil {
			return err
		}
		outcome = domain.LinkOutcomeLinked
		return nil
	})
	if err != nil {
		return "", err
	}

	e.invalidate(ctx, orderID)
	e.logger.WithFields(log.Fields{
		"order_id":  orderID,
		"entity_id": entityID,
		"outcome":   outcome,
	}).Info("orphaned payment linked manually")
	return outcome, nil
}

// MarkRefundPending помечает платёж осиротевшего заказа к возврату.
// Сам возврат выполняется вне сервиса.
func (e *Engine) MarkRefundPending(ctx context.Context, orderID string) (domain.PaymentRecord, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.PaymentRecord{}, domain.ErrOrderIDRequired
	}

	var result domain.PaymentRecord
	err := e.runTx(ctx, "mark_refund_pending", orderID, func(ctx context.Context, tx domain.Tx) error {
		now := e.now()
		reg, err := tx.GetRegistrationForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load registration: %w", err)
		}
		if reg.Status != domain.RegistrationStatusOrphaned {
			return fmt.Errorf("%w: refund requires ORPHANED registration, order %s is %s", domain.ErrInvalidTransition, orderID, reg.Status)
		}

		payment, err := tx.GetPaymentByOrderForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		if payment.Status == domain.ReconciliationStatusRefundPending {
			result = payment
			return nil
		}
		if err := payment.MarkRefundPending(now); err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		result = payment
		return e.record(ctx, tx, change{
			reg:      reg,
			payment:  &payment,
			timeline: domain.TimelineRefundPending,
			outbox:   domain.OutboxEventRefundPending,
			reason:   "refund requested by operator",
			occurred: now,
		})
	})
	if err != nil {
		return domain.PaymentRecord{}, err
	}

	e.invalidate(ctx, orderID)
	e.logger.WithFields(log.Fields{
		"order_id":   orderID,
		"payment_id": result.PaymentID,
	}).Info("orphaned payment marked for refund")
	return result, nil
}

func (e *Engine) optionalPayment(ctx context.Context, orderID string) (*domain.PaymentRecord, error) {
	payment, err := e.store.GetPaymentByOrder(ctx, orderID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", orderID, err)
	}
	return &payment, nil
}
