package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

// SQLSTATE коды, при которых транзакцию можно повторить целиком.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// classify переводит ошибку драйвера в доменную. Доменные ошибки из fn
// и отмена контекста возвращаются как есть.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) || errors.Is(err, context.Canceled) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return wrap(domain.ErrTxConflict, op, err)
		}
	}
	return wrap(domain.ErrPersistence, op, err)
}

func wrap(kind error, op string, err error) error {
	if op == "" {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return fmt.Errorf("%w: %s: %w", kind, op, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrPersistence,
		domain.ErrTxConflict,
		domain.ErrInvalidTransition,
		domain.ErrInvalidPayload,
		domain.ErrRegistrationNotFound,
		domain.ErrPaymentNotFound,
		domain.ErrEventNotFound,
		domain.ErrRegistrationExists,
		domain.ErrNoPendingRegistration,
		domain.ErrRegistrationExpired,
		domain.ErrLinkConflict,
		domain.ErrEntityIDRequired,
		domain.ErrOrderIDRequired,
		domain.ErrOutboxPublish,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateUniqueViolation
	}
	return false
}
