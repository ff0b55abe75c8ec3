package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

// CreatePendingRegistration заводит ожидающую регистрацию при выдаче заказа клиенту.
// Повторный вызов с тем же типом сущности идемпотентен. Если оплата по заказу
// пришла раньше (осиротевший платёж), регистрация принимает её и сразу
// переходит в AWAITING_REGISTRATION.
func (e *Engine) CreatePendingRegistration(ctx context.Context, orderID string, entityType domain.EntityType, ttl time.Duration) (domain.PendingRegistration, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.PendingRegistration{}, domain.ErrOrderIDRequired
	}
	if !entityType.Valid() {
		return domain.PendingRegistration{}, domain.ErrEntityTypeInvalid
	}
	if ttl > domain.MaxRegistrationTTL {
		return domain.PendingRegistration{}, domain.ErrTTLTooLong
	}
	if ttl <= 0 {
		ttl = e.defaultTTL
	}

	var result domain.PendingRegistration
	err := e.runTx(ctx, "create_registration", orderID, func(ctx context.Context, tx domain.Tx) error {
		now := e.now()
		reg := domain.NewPendingRegistration(orderID, entityType, ttl, now)

		created, err := tx.CreateRegistration(ctx, reg)
		if err != nil {
			return fmt.Errorf("create registration: %w", err)
		}
		if created {
			result = reg
			return e.record(ctx, tx, change{
				reg:      reg,
				timeline: domain.TimelineRegistrationCreated,
				reason:   fmt.Sprintf("awaiting payment for %s", entityType),
				occurred: now,
			})
		}

		existing, err := tx.GetRegistrationForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load registration: %w", err)
		}

		switch {
		case existing.Adoptable():
			payment, err := tx.GetPaymentByOrderForUpdate(ctx, orderID)
			if err != nil {
				return fmt.Errorf("load payment: %w", err)
			}
			if payment.Status == domain.ReconciliationStatusRefundPending {
				return fmt.Errorf("%w: order %s payment is pending refund", domain.ErrRegistrationExists, orderID)
			}
			existing.IntendedEntityType = entityType
			existing.ExpiresAt = now.Add(e.linkWindow)
			if err := existing.Transition(domain.RegistrationStatusAwaitingRegistration, now); err != nil {
				return err
			}
			if err := tx.UpdateRegistration(ctx, existing); err != nil {
				return fmt.Errorf("update registration: %w", err)
			}
			result = existing
			return e.record(ctx, tx, change{
				reg:      existing,
				payment:  &payment,
				timeline: domain.TimelineStatusChanged,
				outbox:   domain.OutboxEventAwaitingLink,
				reason:   fmt.Sprintf("orphaned payment adopted by %s registration", entityType),
				occurred: now,
			})
		case existing.IntendedEntityType == entityType:
			result = existing
			return nil
		default:
			return fmt.Errorf("%w: order %s is %s for %s", domain.ErrRegistrationExists, orderID, existing.Status, existing.IntendedEntityType)
		}
	})
	if err != nil {
		return domain.PendingRegistration{}, err
	}

	e.invalidate(ctx, orderID)
	e.logger.WithFields(log.Fields{
		"order_id":    orderID,
		"entity_type": entityType,
		"status":      result.Status,
		"expires_at":  result.ExpiresAt,
	}).Info("pending registration ready")
	return result, nil
}

// LinkRegistration привязывает созданную доменную сущность к заказу.
// Порядок относительно webhook не важен: кто пришёл вторым, тот и завершает связку.
func (e *Engine) LinkRegistration(ctx context.Context, orderID, entityID string) (domain.LinkOutcome, error) {
	orderID = strings.TrimSpace(orderID)
	entityID = strings.TrimSpace(entityID)
	if orderID == "" {
		return "", domain.ErrOrderIDRequired
	}
	if entityID == "" {
		return "", domain.ErrEntityIDRequired
	}

	logger := e.logger.WithFields(log.Fields{
		"order_id":  orderID,
		"entity_id": entityID,
	})

	var outcome domain.LinkOutcome
	err := e.runTx(ctx, "link_registration", orderID, func(ctx context.Context, tx domain.Tx) error {
		var err error
		outcome, err = e.linkTx(ctx, tx, orderID, entityID)
		return err
	})
	if err != nil {
		e.metrics.RecordLink(linkErrorLabel(err))
		if domain.IsLinkRejection(err) {
			logger.WithError(err).Warn("registration link rejected, manual reconciliation required")
		} else {
			logger.WithError(err).Error("failed to link registration")
		}
		return "", err
	}

	e.metrics.RecordLink(string(outcome))
	if outcome != domain.LinkOutcomeAlreadyLinked {
		e.invalidate(ctx, orderID)
	}
	logger.WithField("outcome", outcome).Info("registration linked")
	return outcome, nil
}

func (e *Engine) linkTx(ctx context.Context, tx domain.Tx, orderID, entityID string) (domain.LinkOutcome, error) {
	now := e.now()

	reg, err := tx.GetRegistrationForUpdate(ctx, orderID)
	if errors.Is(err, domain.ErrRegistrationNotFound) {
		return "", fmt.Errorf("%w: order %s", domain.ErrNoPendingRegistration, orderID)
	}
	if err != nil {
		return "", fmt.Errorf("load registration: %w", err)
	}

	switch reg.Status {
	case domain.RegistrationStatusOrphaned:
		return "", fmt.Errorf("%w: order %s is orphaned", domain.ErrNoPendingRegistration, orderID)

	case domain.RegistrationStatusExpired:
		return "", fmt.Errorf("%w: order %s expired at %s", domain.ErrRegistrationExpired, orderID, reg.ExpiresAt.Format(time.RFC3339))

	case domain.RegistrationStatusCompleted:
		if reg.LinkedEntityID != entityID {
			return "", fmt.Errorf("%w: order %s linked to %s", domain.ErrLinkConflict, orderID, reg.LinkedEntityID)
		}
		return domain.LinkOutcomeAlreadyLinked, nil

	case domain.RegistrationStatusAwaitingPayment:
		changed, err := reg.Link(entityID, now)
		if err != nil {
			return "", err
		}
		if !changed {
			return domain.LinkOutcomeAwaitingPaymentStill, nil
		}
		if err := tx.UpdateRegistration(ctx, reg); err != nil {
			return "", fmt.Errorf("update registration: %w", err)
		}
		return domain.LinkOutcomeAwaitingPaymentStill, e.record(ctx, tx, change{
			reg:      reg,
			timeline: domain.TimelineEntityLinked,
			reason:   fmt.Sprintf("entity %s registered before payment", entityID),
			occurred: now,
		})

	case domain.RegistrationStatusAwaitingRegistration:
		payment, err := tx.GetPaymentByOrderForUpdate(ctx, orderID)
		if err != nil {
			return "", fmt.Errorf("load payment: %w", err)
		}
		if err := e.complete(ctx, tx, &reg, &payment, entityID, "entity registered after payment", now); err != nil {
			return "", err
		}
		return domain.LinkOutcomeLinked, nil

	default:
		return "", fmt.Errorf("%w: registration %s in unknown status %q", domain.ErrInvalidTransition, orderID, reg.Status)
	}
}

// complete связывает регистрацию и платёж с сущностью и переводит регистрацию в COMPLETED.
func (e *Engine) complete(ctx context.Context, tx domain.Tx, reg *domain.PendingRegistration, payment *domain.PaymentRecord, entityID, reason string, now time.Time) error {
	if _, err := reg.Link(entityID, now); err != nil {
		return err
	}
	if err := payment.MarkLinked(entityID, now); err != nil {
		return err
	}
	if err := reg.Transition(domain.RegistrationStatusCompleted, now); err != nil {
		return err
	}
	if err := tx.UpdatePayment(ctx, *payment); err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if err := tx.UpdateRegistration(ctx, *reg); err != nil {
		return fmt.Errorf("update registration: %w", err)
	}
	return e.record(ctx, tx, change{
		reg:      *reg,
		payment:  payment,
		timeline: domain.TimelineEntityLinked,
		outbox:   domain.OutboxEventCompleted,
		reason:   reason,
		occurred: now,
	})
}

// GetPaymentStatus возвращает регистрацию для опроса из UI; found=false, если
// заказа нет. Ошибки кэша не влияют на ответ.
func (e *Engine) GetPaymentStatus(ctx context.Context, orderID string) (domain.PendingRegistration, bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.PendingRegistration{}, false, domain.ErrOrderIDRequired
	}

	if reg, found, err := e.cache.Get(ctx, orderID); err != nil {
		e.logger.WithError(err).WithField("order_id", orderID).Warn("status cache read failed")
	} else if found {
		return reg, true, nil
	}

	reg, err := e.store.GetRegistration(ctx, orderID)
	if errors.Is(err, domain.ErrRegistrationNotFound) {
		return domain.PendingRegistration{}, false, nil
	}
	if err != nil {
		return domain.PendingRegistration{}, false, fmt.Errorf("get registration: %w", err)
	}

	if err := e.cache.Set(ctx, reg); err != nil {
		e.logger.WithError(err).WithField("order_id", orderID).Warn("status cache write failed")
	}
	return reg, true, nil
}

func linkErrorLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoPendingRegistration):
		return "no_pending_registration"
	case errors.Is(err, domain.ErrRegistrationExpired):
		return "expired"
	case errors.Is(err, domain.ErrLinkConflict):
		return "conflict"
	case domain.IsPersistenceFailure(err):
		return "persistence_failure"
	default:
		return "error"
	}
}
