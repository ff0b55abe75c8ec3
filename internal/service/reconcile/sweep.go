package reconcile

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

const defaultSweepBatch = 100

// SweepResult — итог одного прохода expiry sweep.
type SweepResult struct {
	Expired  int
	Orphaned int
}

// ExpireDue переводит просроченные регистрации: AWAITING_PAYMENT → EXPIRED,
// AWAITING_REGISTRATION (деньги получены, сущность не создана) → ORPHANED.
// Финансовые записи не удаляются и не меняются.
func (e *Engine) ExpireDue(ctx context.Context, batchSize int) (SweepResult, error) {
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}

	var (
		result  SweepResult
		touched []string
	)
	err := e.runTx(ctx, "expire_due", "", func(ctx context.Context, tx domain.Tx) error {
		result = SweepResult{}
		touched = touched[:0]
		now := e.now()

		unpaid, err := tx.ListRegistrationsDue(ctx, domain.RegistrationStatusAwaitingPayment, now, batchSize)
		if err != nil {
			return fmt.Errorf("list unpaid registrations: %w", err)
		}
		for _, reg := range unpaid {
			if err := e.sweepOne(ctx, tx, reg, domain.RegistrationStatusExpired, domain.OutboxEventExpired, nil, "payment not received before expiry"); err != nil {
				return err
			}
			result.Expired++
			touched = append(touched, reg.OrderID)
		}

		unlinked, err := tx.ListRegistrationsDue(ctx, domain.RegistrationStatusAwaitingRegistration, now, batchSize)
		if err != nil {
			return fmt.Errorf("list unlinked registrations: %w", err)
		}
		for _, reg := range unlinked {
			payment, err := tx.GetPaymentByOrderForUpdate(ctx, reg.OrderID)
			if err != nil {
				return fmt.Errorf("load payment %s: %w", reg.OrderID, err)
			}
			if err := e.sweepOne(ctx, tx, reg, domain.RegistrationStatusOrphaned, domain.OutboxEventOrphaned, &payment, "payment captured but registration never completed"); err != nil {
				return err
			}
			result.Orphaned++
			touched = append(touched, reg.OrderID)
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}

	e.invalidate(ctx, touched...)
	e.metrics.RecordSweep(string(domain.RegistrationStatusExpired), result.Expired)
	e.metrics.RecordSweep(string(domain.RegistrationStatusOrphaned), result.Orphaned)
	if result.Expired > 0 || result.Orphaned > 0 {
		e.logger.WithFields(log.Fields{
			"expired":  result.Expired,
			"orphaned": result.Orphaned,
		}).Info("expiry sweep moved registrations")
	}
	return result, nil
}

func (e *Engine) sweepOne(ctx context.Context, tx domain.Tx, reg domain.PendingRegistration, next domain.RegistrationStatus, outboxEvent string, payment *domain.PaymentRecord, reason string) error {
	now := e.now()
	if err := reg.Transition(next, now); err != nil {
		return err
	}
	if err := tx.UpdateRegistration(ctx, reg); err != nil {
		return fmt.Errorf("update registration %s: %w", reg.OrderID, err)
	}
	return e.record(ctx, tx, change{
		reg:      reg,
		payment:  payment,
		timeline: domain.TimelineStatusChanged,
		outbox:   outboxEvent,
		reason:   reason,
		occurred: now,
	})
}
