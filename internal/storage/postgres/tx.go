package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

const (
	selectRegistrationSQL = `
		SELECT order_id, intended_entity_type, status, linked_entity_id,
		       created_at, updated_at, expires_at
		FROM pending_registrations`

	selectPaymentSQL = `
		SELECT payment_id, order_id, amount_minor, currency, status,
		       domain_entity_ref, captured_at, updated_at
		FROM payment_records`

	selectEventSQL = `
		SELECT event_id, gateway_name, event_type, order_id, payment_id,
		       amount_minor, currency, raw_payload, signature_valid, status, received_at
		FROM gateway_events`
)

type rowScanner interface {
	Scan(dest ...any) error
}

// pgTx реализует domain.Tx поверх *sql.Tx.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) RecordEventIfNew(ctx context.Context, event domain.GatewayEvent) (domain.GatewayEvent, bool, error) {
	if event.Status == "" {
		event.Status = domain.ProcessingStatusReceived
	}
	now := time.Now().UTC()

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO gateway_events (
			event_id, gateway_name, event_type, order_id, payment_id, amount_minor,
			currency, raw_payload, signature_valid, status, received_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (event_id) DO NOTHING
	`,
		event.EventID, event.GatewayName, string(event.Type), event.OrderID, event.PaymentID, event.AmountMinor,
		event.Currency, event.RawPayload, event.SignatureValid, string(event.Status), event.ReceivedAt, now,
	)
	if err != nil {
		return domain.GatewayEvent{}, false, classify("insert gateway event", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return domain.GatewayEvent{}, false, classify("rows affected for gateway event", err)
	}
	if inserted == 1 {
		return event, true, nil
	}

	// Конфликт по event_id: ждём коммита конкурентной вставки и читаем её.
	stored, err := scanEvent(t.tx.QueryRowContext(ctx, selectEventSQL+` WHERE event_id = $1 FOR UPDATE`, event.EventID))
	if err != nil {
		return domain.GatewayEvent{}, false, classify("select duplicate gateway event", err)
	}
	return stored, false, nil
}

func (t *pgTx) SetEventStatus(ctx context.Context, eventID string, status domain.ProcessingStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE gateway_events
		SET status = $2, updated_at = $3
		WHERE event_id = $1 AND status = $4
	`, eventID, string(status), time.Now().UTC(), string(domain.ProcessingStatusReceived))
	if err != nil {
		return classify("update gateway event status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("rows affected for gateway event status", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: gateway event %s is not RECEIVED", domain.ErrInvalidTransition, eventID)
	}
	return nil
}

func (t *pgTx) GetRegistrationForUpdate(ctx context.Context, orderID string) (domain.PendingRegistration, error) {
	reg, err := scanRegistration(t.tx.QueryRowContext(ctx, selectRegistrationSQL+` WHERE order_id = $1 FOR UPDATE`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingRegistration{}, domain.ErrRegistrationNotFound
	}
	if err != nil {
		return domain.PendingRegistration{}, classify("select registration for update", err)
	}
	return reg, nil
}

func (t *pgTx) CreateRegistration(ctx context.Context, reg domain.PendingRegistration) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO pending_registrations (
			order_id, intended_entity_type, status, linked_entity_id,
			created_at, updated_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (order_id) DO NOTHING
	`,
		reg.OrderID, string(reg.IntendedEntityType), string(reg.Status), reg.LinkedEntityID,
		reg.CreatedAt, reg.UpdatedAt, reg.ExpiresAt,
	)
	if err != nil {
		return false, classify("insert registration", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, classify("rows affected for registration", err)
	}
	return inserted == 1, nil
}

func (t *pgTx) UpdateRegistration(ctx context.Context, reg domain.PendingRegistration) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE pending_registrations
		SET intended_entity_type = $2,
		    status = $3,
		    linked_entity_id = $4,
		    updated_at = $5,
		    expires_at = $6
		WHERE order_id = $1
	`,
		reg.OrderID, string(reg.IntendedEntityType), string(reg.Status), reg.LinkedEntityID,
		reg.UpdatedAt, reg.ExpiresAt,
	)
	if err != nil {
		return classify("update registration", err)
	}
	return expectAffected(res, domain.ErrRegistrationNotFound)
}

func (t *pgTx) ListRegistrationsDue(ctx context.Context, status domain.RegistrationStatus, before time.Time, limit int) ([]domain.PendingRegistration, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	// SKIP LOCKED: строки, которые сейчас сверяются webhook, подождут следующего прохода.
	rows, err := t.tx.QueryContext(ctx, selectRegistrationSQL+`
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at, order_id
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, string(status), before, limit)
	if err != nil {
		return nil, classify("list due registrations", err)
	}
	return collectRegistrations(rows)
}

func (t *pgTx) GetPaymentByOrderForUpdate(ctx context.Context, orderID string) (domain.PaymentRecord, error) {
	payment, err := scanPayment(t.tx.QueryRowContext(ctx, selectPaymentSQL+`
		WHERE order_id = $1
		ORDER BY seq
		LIMIT 1
		FOR UPDATE
	`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PaymentRecord{}, domain.ErrPaymentNotFound
	}
	if err != nil {
		return domain.PaymentRecord{}, classify("select payment for update", err)
	}
	return payment, nil
}

func (t *pgTx) GetPaymentForUpdate(ctx context.Context, paymentID string) (domain.PaymentRecord, error) {
	payment, err := scanPayment(t.tx.QueryRowContext(ctx, selectPaymentSQL+`
		WHERE payment_id = $1
		FOR UPDATE
	`, paymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PaymentRecord{}, domain.ErrPaymentNotFound
	}
	if err != nil {
		return domain.PaymentRecord{}, classify("select payment by id for update", err)
	}
	return payment, nil
}

func (t *pgTx) InsertPayment(ctx context.Context, payment domain.PaymentRecord) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO payment_records (
			payment_id, order_id, amount_minor, currency, status,
			domain_entity_ref, captured_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (payment_id) DO NOTHING
	`,
		payment.PaymentID, payment.OrderID, payment.AmountMinor, payment.Currency, string(payment.Status),
		payment.DomainEntityRef, payment.CapturedAt, payment.UpdatedAt,
	)
	if err != nil {
		return false, classify("insert payment", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, classify("rows affected for payment", err)
	}
	return inserted == 1, nil
}

func (t *pgTx) UpdatePayment(ctx context.Context, payment domain.PaymentRecord) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE payment_records
		SET status = $2,
		    domain_entity_ref = $3,
		    updated_at = $4
		WHERE payment_id = $1
	`, payment.PaymentID, string(payment.Status), payment.DomainEntityRef, payment.UpdatedAt)
	if err != nil {
		return classify("update payment", err)
	}
	return expectAffected(res, domain.ErrPaymentNotFound)
}

func (t *pgTx) RecordAnomaly(ctx context.Context, anomaly domain.Anomaly) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO reconciliation_anomalies (
			id, kind, order_id, event_id, payment_id,
			expected_amount_minor, actual_amount_minor, detected_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		anomaly.ID, string(anomaly.Kind), anomaly.OrderID, anomaly.EventID, anomaly.PaymentID,
		anomaly.ExpectedAmountMinor, anomaly.ActualAmountMinor, anomaly.DetectedAt,
	)
	if err != nil {
		return classify("insert anomaly", err)
	}
	return nil
}

func (t *pgTx) AppendTimeline(ctx context.Context, event domain.TimelineEvent) error {
	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO registration_timeline (order_id, event_type, reason, occurred_at)
		VALUES ($1,$2,$3,$4)
	`, event.OrderID, event.Type, event.Reason, occurred)
	if err != nil {
		return classify("append timeline", err)
	}
	return nil
}

func (t *pgTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	return enqueueOutbox(ctx, t.tx, msg)
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("rows affected", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func scanRegistration(row rowScanner) (domain.PendingRegistration, error) {
	var (
		reg        domain.PendingRegistration
		entityType string
		status     string
	)
	if err := row.Scan(&reg.OrderID, &entityType, &status, &reg.LinkedEntityID,
		&reg.CreatedAt, &reg.UpdatedAt, &reg.ExpiresAt); err != nil {
		return domain.PendingRegistration{}, err
	}
	reg.IntendedEntityType = domain.EntityType(entityType)
	reg.Status = domain.RegistrationStatus(status)
	reg.CreatedAt = reg.CreatedAt.UTC()
	reg.UpdatedAt = reg.UpdatedAt.UTC()
	reg.ExpiresAt = reg.ExpiresAt.UTC()
	return reg, nil
}

func collectRegistrations(rows *sql.Rows) ([]domain.PendingRegistration, error) {
	defer rows.Close()

	regs := make([]domain.PendingRegistration, 0)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, classify("scan registration", err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate registrations", err)
	}
	return regs, nil
}

func scanPayment(row rowScanner) (domain.PaymentRecord, error) {
	var (
		payment domain.PaymentRecord
		status  string
	)
	if err := row.Scan(&payment.PaymentID, &payment.OrderID, &payment.AmountMinor, &payment.Currency,
		&status, &payment.DomainEntityRef, &payment.CapturedAt, &payment.UpdatedAt); err != nil {
		return domain.PaymentRecord{}, err
	}
	payment.Status = domain.ReconciliationStatus(status)
	payment.CapturedAt = payment.CapturedAt.UTC()
	payment.UpdatedAt = payment.UpdatedAt.UTC()
	return payment, nil
}

func scanEvent(row rowScanner) (domain.GatewayEvent, error) {
	var (
		event     domain.GatewayEvent
		eventType string
		status    string
	)
	if err := row.Scan(&event.EventID, &event.GatewayName, &eventType, &event.OrderID, &event.PaymentID,
		&event.AmountMinor, &event.Currency, &event.RawPayload, &event.SignatureValid, &status,
		&event.ReceivedAt); err != nil {
		return domain.GatewayEvent{}, err
	}
	event.Type = domain.EventType(eventType)
	event.Status = domain.ProcessingStatus(status)
	event.ReceivedAt = event.ReceivedAt.UTC()
	return event, nil
}

var _ domain.Tx = (*pgTx)(nil)
