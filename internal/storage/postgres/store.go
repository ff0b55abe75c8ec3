package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	opTimeout        = 5 * time.Second
	defaultListLimit = 100
)

// Store — PostgreSQL-реализация domain.Store.
type Store struct {
	db *sql.DB
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithinTx выполняет fn в транзакции READ COMMITTED. Сериализация по заказу
// обеспечивается блокировками строк (SELECT ... FOR UPDATE) и уникальными ключами.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	if s == nil || s.db == nil {
		return fmt.Errorf("%w: postgres store is not initialized", domain.ErrPersistence)
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return classify("", err)
	}
	if err = sqlTx.Commit(); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

// GetRegistration возвращает регистрацию без блокировки.
func (s *Store) GetRegistration(ctx context.Context, orderID string) (domain.PendingRegistration, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	reg, err := scanRegistration(s.db.QueryRowContext(ctx, selectRegistrationSQL+` WHERE order_id = $1`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingRegistration{}, domain.ErrRegistrationNotFound
	}
	if err != nil {
		return domain.PendingRegistration{}, classify("select registration", err)
	}
	return reg, nil
}

// ListRegistrationsByStatus возвращает регистрации в статусе, старые первыми.
func (s *Store) ListRegistrationsByStatus(ctx context.Context, status domain.RegistrationStatus, limit int) ([]domain.PendingRegistration, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, selectRegistrationSQL+`
		WHERE status = $1
		ORDER BY created_at, order_id
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, classify("list registrations", err)
	}
	return collectRegistrations(rows)
}

// GetPaymentByOrder возвращает первый платёж по заказу.
func (s *Store) GetPaymentByOrder(ctx context.Context, orderID string) (domain.PaymentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	payment, err := scanPayment(s.db.QueryRowContext(ctx, selectPaymentSQL+`
		WHERE order_id = $1
		ORDER BY seq
		LIMIT 1
	`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PaymentRecord{}, domain.ErrPaymentNotFound
	}
	if err != nil {
		return domain.PaymentRecord{}, classify("select payment", err)
	}
	return payment, nil
}

// GetEvent возвращает сохранённое событие шлюза.
func (s *Store) GetEvent(ctx context.Context, eventID string) (domain.GatewayEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	event, err := scanEvent(s.db.QueryRowContext(ctx, selectEventSQL+` WHERE event_id = $1`, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GatewayEvent{}, domain.ErrEventNotFound
	}
	if err != nil {
		return domain.GatewayEvent{}, classify("select gateway event", err)
	}
	return event, nil
}

// ListAnomalies возвращает аномалии, новые первыми.
func (s *Store) ListAnomalies(ctx context.Context, limit int) ([]domain.Anomaly, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, order_id, event_id, payment_id,
		       expected_amount_minor, actual_amount_minor, detected_at
		FROM reconciliation_anomalies
		ORDER BY detected_at DESC, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, classify("list anomalies", err)
	}
	defer rows.Close()

	anomalies := make([]domain.Anomaly, 0)
	for rows.Next() {
		var (
			a    domain.Anomaly
			kind string
		)
		if err := rows.Scan(&a.ID, &kind, &a.OrderID, &a.EventID, &a.PaymentID,
			&a.ExpectedAmountMinor, &a.ActualAmountMinor, &a.DetectedAt); err != nil {
			return nil, classify("scan anomaly", err)
		}
		a.Kind = domain.AnomalyKind(kind)
		a.DetectedAt = a.DetectedAt.UTC()
		anomalies = append(anomalies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate anomalies", err)
	}
	return anomalies, nil
}

// ListTimeline возвращает историю заказа в хронологическом порядке.
func (s *Store) ListTimeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, event_type, reason, occurred_at
		FROM registration_timeline
		WHERE order_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, classify("list timeline", err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.OrderID, &event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, classify("scan timeline event", err)
		}
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate timeline events", err)
	}
	return events, nil
}

var _ domain.Store = (*Store)(nil)
