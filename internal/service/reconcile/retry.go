package reconcile

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

// RetryConfig конфигурация повторов транзакции при конфликте сериализации.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  20 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	return c
}

// executeWithRetry повторяет fn, пока она возвращает ErrTxConflict.
// Остальные ошибки (включая ErrPersistence) сразу уходят вызывающему:
// повтор доставки обеспечивает шлюз.
func (e *Engine) executeWithRetry(ctx context.Context, operation, orderID string, fn func() error) error {
	var lastErr error
	delay := e.retry.InitialDelay

	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				e.logger.WithFields(log.Fields{
					"operation": operation,
					"order_id":  orderID,
					"attempt":   attempt,
				}).Info("transaction succeeded after retry")
			}
			return nil
		}

		lastErr = err
		if !domain.IsTxConflict(err) || attempt == e.retry.MaxAttempts {
			break
		}

		e.metrics.RecordTxRetry()
		e.logger.WithFields(log.Fields{
			"operation": operation,
			"order_id":  orderID,
			"attempt":   attempt,
			"delay":     delay,
		}).WithError(err).Warn("transaction conflict, retrying")

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		delay = time.Duration(float64(delay) * e.retry.BackoffFactor)
		if delay > e.retry.MaxDelay {
			delay = e.retry.MaxDelay
		}
	}

	return lastErr
}
