package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

// state — полный снимок данных сверки. Транзакция работает с копией снимка
// и подменяет его целиком при коммите, поэтому откат ничего не оставляет.
type state struct {
	events         map[string]domain.GatewayEvent
	registrations  map[string]domain.PendingRegistration
	payments       map[string]domain.PaymentRecord
	paymentByOrder map[string]string
	anomalies      []domain.Anomaly
	timeline       map[string][]domain.TimelineEvent
	outbox         map[string]outboxRecord
	outboxSeq      int64
}

func newState() *state {
	return &state{
		events:         make(map[string]domain.GatewayEvent),
		registrations:  make(map[string]domain.PendingRegistration),
		payments:       make(map[string]domain.PaymentRecord),
		paymentByOrder: make(map[string]string),
		timeline:       make(map[string][]domain.TimelineEvent),
		outbox:         make(map[string]outboxRecord),
	}
}

func (s *state) clone() *state {
	c := &state{
		events:         make(map[string]domain.GatewayEvent, len(s.events)),
		registrations:  make(map[string]domain.PendingRegistration, len(s.registrations)),
		payments:       make(map[string]domain.PaymentRecord, len(s.payments)),
		paymentByOrder: make(map[string]string, len(s.paymentByOrder)),
		anomalies:      append([]domain.Anomaly(nil), s.anomalies...),
		timeline:       make(map[string][]domain.TimelineEvent, len(s.timeline)),
		outbox:         make(map[string]outboxRecord, len(s.outbox)),
		outboxSeq:      s.outboxSeq,
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.registrations {
		c.registrations[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.paymentByOrder {
		c.paymentByOrder[k] = v
	}
	for k, v := range s.timeline {
		c.timeline[k] = append([]domain.TimelineEvent(nil), v...)
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	return c
}

// Store — in-memory реализация domain.Store для локальной разработки и тестов.
// Транзакции выполняются строго последовательно, что эквивалентно
// сериализуемой изоляции.
type Store struct {
	txMu sync.Mutex

	mu    sync.RWMutex
	state *state

	commitMu   sync.Mutex
	commitErrs []error
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{state: newState()}
}

// FailNextCommit заставляет следующий коммит завершиться ошибкой err.
// Используется в тестах для имитации сбоя хранилища.
func (s *Store) FailNextCommit(err error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.commitErrs = append(s.commitErrs, err)
}

func (s *Store) takeCommitErr() error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if len(s.commitErrs) == 0 {
		return nil
	}
	err := s.commitErrs[0]
	s.commitErrs = s.commitErrs[1:]
	return err
}

// WithinTx выполняет fn над копией состояния и публикует её только при успехе.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	working := s.state.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &memoryTx{st: working}); err != nil {
		return err
	}
	if err := s.takeCommitErr(); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = working
	s.mu.Unlock()
	return nil
}

// mutate применяет изменение вне пользовательской транзакции (outbox-воркер).
func (s *Store) mutate(fn func(st *state) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

// GetRegistration возвращает регистрацию или ErrRegistrationNotFound.
func (s *Store) GetRegistration(_ context.Context, orderID string) (domain.PendingRegistration, error) {
	var (
		reg domain.PendingRegistration
		ok  bool
	)
	s.read(func(st *state) { reg, ok = st.registrations[orderID] })
	if !ok {
		return domain.PendingRegistration{}, domain.ErrRegistrationNotFound
	}
	return reg, nil
}

// ListRegistrationsByStatus возвращает регистрации в статусе, самые старые первыми.
func (s *Store) ListRegistrationsByStatus(_ context.Context, status domain.RegistrationStatus, limit int) ([]domain.PendingRegistration, error) {
	var result []domain.PendingRegistration
	s.read(func(st *state) {
		for _, reg := range st.registrations {
			if reg.Status == status {
				result = append(result, reg)
			}
		}
	})
	sortRegistrations(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetPaymentByOrder возвращает первый платёж по заказу.
func (s *Store) GetPaymentByOrder(_ context.Context, orderID string) (domain.PaymentRecord, error) {
	var (
		payment domain.PaymentRecord
		ok      bool
	)
	s.read(func(st *state) { payment, ok = st.paymentForOrder(orderID) })
	if !ok {
		return domain.PaymentRecord{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

// GetEvent возвращает событие шлюза по event_id.
func (s *Store) GetEvent(_ context.Context, eventID string) (domain.GatewayEvent, error) {
	var (
		event domain.GatewayEvent
		ok    bool
	)
	s.read(func(st *state) { event, ok = st.events[eventID] })
	if !ok {
		return domain.GatewayEvent{}, domain.ErrEventNotFound
	}
	return cloneEvent(event), nil
}

// ListAnomalies возвращает аномалии, свежие первыми.
func (s *Store) ListAnomalies(_ context.Context, limit int) ([]domain.Anomaly, error) {
	var result []domain.Anomaly
	s.read(func(st *state) {
		result = make([]domain.Anomaly, 0, len(st.anomalies))
		for i := len(st.anomalies) - 1; i >= 0; i-- {
			result = append(result, st.anomalies[i])
		}
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListTimeline возвращает события регистрации в хронологическом порядке.
func (s *Store) ListTimeline(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	var result []domain.TimelineEvent
	s.read(func(st *state) {
		events := st.timeline[orderID]
		result = make([]domain.TimelineEvent, len(events))
		copy(result, events)
	})
	return result, nil
}

// Ping всегда успешен для in-memory хранилища.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (st *state) paymentForOrder(orderID string) (domain.PaymentRecord, bool) {
	id, ok := st.paymentByOrder[orderID]
	if !ok {
		return domain.PaymentRecord{}, false
	}
	payment, ok := st.payments[id]
	return payment, ok
}

// memoryTx реализует domain.Tx над рабочей копией состояния.
type memoryTx struct {
	st *state
}

func (t *memoryTx) RecordEventIfNew(_ context.Context, event domain.GatewayEvent) (domain.GatewayEvent, bool, error) {
	if existing, ok := t.st.events[event.EventID]; ok {
		return cloneEvent(existing), false, nil
	}
	if event.Status == "" {
		event.Status = domain.ProcessingStatusReceived
	}
	event = cloneEvent(event)
	t.st.events[event.EventID] = event
	return cloneEvent(event), true, nil
}

func (t *memoryTx) SetEventStatus(_ context.Context, eventID string, status domain.ProcessingStatus) error {
	event, ok := t.st.events[eventID]
	if !ok {
		return domain.ErrEventNotFound
	}
	if !event.Status.CanTransitionTo(status) {
		return domain.ErrInvalidTransition
	}
	event.Status = status
	t.st.events[eventID] = event
	return nil
}

func (t *memoryTx) GetRegistrationForUpdate(_ context.Context, orderID string) (domain.PendingRegistration, error) {
	reg, ok := t.st.registrations[orderID]
	if !ok {
		return domain.PendingRegistration{}, domain.ErrRegistrationNotFound
	}
	return reg, nil
}

func (t *memoryTx) CreateRegistration(_ context.Context, reg domain.PendingRegistration) (bool, error) {
	if _, exists := t.st.registrations[reg.OrderID]; exists {
		return false, nil
	}
	t.st.registrations[reg.OrderID] = reg
	return true, nil
}

func (t *memoryTx) UpdateRegistration(_ context.Context, reg domain.PendingRegistration) error {
	if _, ok := t.st.registrations[reg.OrderID]; !ok {
		return domain.ErrRegistrationNotFound
	}
	t.st.registrations[reg.OrderID] = reg
	return nil
}

func (t *memoryTx) ListRegistrationsDue(_ context.Context, status domain.RegistrationStatus, before time.Time, limit int) ([]domain.PendingRegistration, error) {
	var result []domain.PendingRegistration
	for _, reg := range t.st.registrations {
		if reg.Status == status && !reg.ExpiresAt.After(before) {
			result = append(result, reg)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpiresAt.Equal(result[j].ExpiresAt) {
			return result[i].ExpiresAt.Before(result[j].ExpiresAt)
		}
		return result[i].OrderID < result[j].OrderID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (t *memoryTx) GetPaymentByOrderForUpdate(_ context.Context, orderID string) (domain.PaymentRecord, error) {
	payment, ok := t.st.paymentForOrder(orderID)
	if !ok {
		return domain.PaymentRecord{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (t *memoryTx) GetPaymentForUpdate(_ context.Context, paymentID string) (domain.PaymentRecord, error) {
	payment, ok := t.st.payments[paymentID]
	if !ok {
		return domain.PaymentRecord{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (t *memoryTx) InsertPayment(_ context.Context, payment domain.PaymentRecord) (bool, error) {
	if _, exists := t.st.payments[payment.PaymentID]; exists {
		return false, nil
	}
	t.st.payments[payment.PaymentID] = payment
	if _, ok := t.st.paymentByOrder[payment.OrderID]; !ok {
		t.st.paymentByOrder[payment.OrderID] = payment.PaymentID
	}
	return true, nil
}

func (t *memoryTx) UpdatePayment(_ context.Context, payment domain.PaymentRecord) error {
	if _, ok := t.st.payments[payment.PaymentID]; !ok {
		return domain.ErrPaymentNotFound
	}
	t.st.payments[payment.PaymentID] = payment
	return nil
}

func (t *memoryTx) RecordAnomaly(_ context.Context, anomaly domain.Anomaly) error {
	t.st.anomalies = append(t.st.anomalies, anomaly)
	return nil
}

func (t *memoryTx) AppendTimeline(_ context.Context, event domain.TimelineEvent) error {
	events := append(t.st.timeline[event.OrderID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	t.st.timeline[event.OrderID] = events
	return nil
}

func (t *memoryTx) EnqueueOutbox(_ context.Context, msg domain.OutboxMessage) error {
	t.st.enqueueOutbox(msg, time.Now().UTC())
	return nil
}

func sortRegistrations(regs []domain.PendingRegistration) {
	sort.Slice(regs, func(i, j int) bool {
		if !regs[i].CreatedAt.Equal(regs[j].CreatedAt) {
			return regs[i].CreatedAt.Before(regs[j].CreatedAt)
		}
		return regs[i].OrderID < regs[j].OrderID
	})
}

func cloneEvent(event domain.GatewayEvent) domain.GatewayEvent {
	if event.RawPayload != nil {
		event.RawPayload = append([]byte(nil), event.RawPayload...)
	}
	return event
}

var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*memoryTx)(nil)
)
