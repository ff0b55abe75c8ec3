package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultRegistrationTTL — время, в течение которого ждём оплату по выданному заказу.
const DefaultRegistrationTTL = 30 * time.Minute

// MaxRegistrationTTL ограничивает срок, который клиент может запросить явно.
const MaxRegistrationTTL = 30 * 24 * time.Hour

// DefaultLinkWindow — время на создание сущности после получения оплаты.
// По истечении регистрация уходит в ORPHANED.
const DefaultLinkWindow = 24 * time.Hour

// EntityType — тип доменной сущности, ради которой создан заказ шлюза.
type EntityType string

const (
	EntityTypeMember    EntityType = "MEMBER"
	EntityTypeVolunteer EntityType = "VOLUNTEER"
	EntityTypeDonation  EntityType = "DONATION"
)

// ParseEntityType разбирает тип сущности без учёта регистра.
func ParseEntityType(raw string) (EntityType, error) {
	t := EntityType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", ErrEntityTypeInvalid
	}
	return t, nil
}

// Valid проверяет, что тип относится к поддерживаемым значениям.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeMember, EntityTypeVolunteer, EntityTypeDonation:
		return true
	default:
		return false
	}
}

// RegistrationStatus описывает жизненный цикл ожидающей регистрации.
type RegistrationStatus string

const (
	// Заказ выдан клиенту, оплаты ещё нет.
	RegistrationStatusAwaitingPayment RegistrationStatus = "AWAITING_PAYMENT"
	// Деньги получены, сущность ещё не создана.
	RegistrationStatusAwaitingRegistration RegistrationStatus = "AWAITING_REGISTRATION"
	// Платёж и сущность связаны.
	RegistrationStatusCompleted RegistrationStatus = "COMPLETED"
	// Деньги есть, сопоставить не с чем; нужна ручная сверка.
	RegistrationStatusOrphaned RegistrationStatus = "ORPHANED"
	// Оплата не пришла до expires_at.
	RegistrationStatusExpired RegistrationStatus = "EXPIRED"
)

var registrationTransitions = map[RegistrationStatus][]RegistrationStatus{
	RegistrationStatusAwaitingPayment: {
		RegistrationStatusAwaitingRegistration,
		RegistrationStatusCompleted,
		RegistrationStatusExpired,
	},
	RegistrationStatusAwaitingRegistration: {
		RegistrationStatusCompleted,
		RegistrationStatusOrphaned,
	},
	// Оплата пришла после истечения.
	RegistrationStatusExpired: {
		RegistrationStatusOrphaned,
	},
	// Ручная привязка оператором либо усыновление осиротевшего платежа регистрацией.
	RegistrationStatusOrphaned: {
		RegistrationStatusCompleted,
		RegistrationStatusAwaitingRegistration,
	},
	RegistrationStatusCompleted: nil,
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s RegistrationStatus) Valid() bool {
	_, ok := registrationTransitions[s]
	return ok
}

// CanTransitionTo сообщает, допустим ли переход s -> next.
func (s RegistrationStatus) CanTransitionTo(next RegistrationStatus) bool {
	for _, allowed := range registrationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PendingRegistration связывает заказ шлюза с ещё не созданной доменной сущностью.
type PendingRegistration struct {
	OrderID            string
	IntendedEntityType EntityType
	Status             RegistrationStatus
	// LinkedEntityID выставляется один раз и больше не перезаписывается.
	LinkedEntityID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
}

// NewPendingRegistration создаёт регистрацию в статусе AWAITING_PAYMENT.
func NewPendingRegistration(orderID string, entityType EntityType, ttl time.Duration, now time.Time) PendingRegistration {
	if ttl <= 0 {
		ttl = DefaultRegistrationTTL
	}
	return PendingRegistration{
		OrderID:            orderID,
		IntendedEntityType: entityType,
		Status:             RegistrationStatusAwaitingPayment,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(ttl),
	}
}

// NewOrphanedRegistration фиксирует платёж по неизвестному order_id.
func NewOrphanedRegistration(orderID string, now time.Time) PendingRegistration {
	return PendingRegistration{
		OrderID:   orderID,
		Status:    RegistrationStatusOrphaned,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now,
	}
}

// Validate проверяет инварианты регистрации.
func (r *PendingRegistration) Validate() []error {
	var errs []error

	if r.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	// У осиротевшего платежа тип сущности неизвестен.
	if r.Status != RegistrationStatusOrphaned && !r.IntendedEntityType.Valid() {
		errs = append(errs, ErrEntityTypeInvalid)
	}
	if !r.Status.Valid() {
		errs = append(errs, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, r.Status))
	}

	return errs
}

// Transition переводит регистрацию в next, если переход разрешён.
func (r *PendingRegistration) Transition(next RegistrationStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: registration %s %s -> %s", ErrInvalidTransition, r.OrderID, r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = now
	return nil
}

// Link запоминает сущность. Повторная привязка той же сущности ничего не меняет,
// попытка привязать другую возвращает ErrLinkConflict.
func (r *PendingRegistration) Link(entityID string, now time.Time) (changed bool, err error) {
	if entityID == "" {
		return false, ErrEntityIDRequired
	}
	switch r.LinkedEntityID {
	case "":
		r.LinkedEntityID = entityID
		r.UpdatedAt = now
		return true, nil
	case entityID:
		return false, nil
	default:
		return false, fmt.Errorf("%w: order %s linked to %s", ErrLinkConflict, r.OrderID, r.LinkedEntityID)
	}
}

// ExpiredAt сообщает, что срок ожидания истёк к моменту now.
func (r *PendingRegistration) ExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Adoptable сообщает, что осиротевший платёж ещё не принадлежит ни одному сценарию
// регистрации и может быть принят вновь созданной регистрацией.
func (r *PendingRegistration) Adoptable() bool {
	return r.Status == RegistrationStatusOrphaned && r.IntendedEntityType == "" && r.LinkedEntityID == ""
}
