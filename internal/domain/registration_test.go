package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

func TestParseEntityType(t *testing.T) {
	cases := []struct {
		raw     string
		want    domain.EntityType
		wantErr bool
	}{
		{raw: "MEMBER", want: domain.EntityTypeMember},
		{raw: " volunteer ", want: domain.EntityTypeVolunteer},
		{raw: "Donation", want: domain.EntityTypeDonation},
		{raw: "trustee", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := domain.ParseEntityType(tc.raw)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrEntityTypeInvalid) {
					t.Fatalf("expected ErrEntityTypeInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestNewPendingRegistration_DefaultTTL(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	reg := domain.NewPendingRegistration("order_abc123", domain.EntityTypeMember, 0, now)

	if reg.Status != domain.RegistrationStatusAwaitingPayment {
		t.Fatalf("expected status %s, got %s", domain.RegistrationStatusAwaitingPayment, reg.Status)
	}
	if want := now.Add(domain.DefaultRegistrationTTL); !reg.ExpiresAt.Equal(want) {
		t.Fatalf("expected expires_at %s, got %s", want, reg.ExpiresAt)
	}
	if errs := reg.Validate(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestRegistrationStatus_Transitions(t *testing.T) {
	cases := []struct {
		from domain.RegistrationStatus
		to   domain.RegistrationStatus
		want bool
	}{
		{domain.RegistrationStatusAwaitingPayment, domain.RegistrationStatusAwaitingRegistration, true},
		{domain.RegistrationStatusAwaitingPayment, domain.RegistrationStatusExpired, true},
		{domain.RegistrationStatusAwaitingPayment, domain.RegistrationStatusCompleted, true},
		{domain.RegistrationStatusAwaitingRegistration, domain.RegistrationStatusCompleted, true},
		{domain.RegistrationStatusAwaitingRegistration, domain.RegistrationStatusOrphaned, true},
		{domain.RegistrationStatusAwaitingRegistration, domain.RegistrationStatusAwaitingPayment, false},
		{domain.RegistrationStatusExpired, domain.RegistrationStatusOrphaned, true},
		{domain.RegistrationStatusExpired, domain.RegistrationStatusAwaitingPayment, false},
		{domain.RegistrationStatusOrphaned, domain.RegistrationStatusCompleted, true},
		{domain.RegistrationStatusCompleted, domain.RegistrationStatusOrphaned, false},
		{domain.RegistrationStatusCompleted, domain.RegistrationStatusExpired, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
				t.Fatalf("CanTransitionTo = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPendingRegistration_TransitionRejectsInvalid(t *testing.T) {
	now := time.Now().UTC()
	reg := domain.NewPendingRegistration("order-1", domain.EntityTypeVolunteer, time.Minute, now)
	reg.Status = domain.RegistrationStatusCompleted

	err := reg.Transition(domain.RegistrationStatusExpired, now)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if reg.Status != domain.RegistrationStatusCompleted {
		t.Fatalf("status must not change on rejected transition, got %s", reg.Status)
	}
}

func TestPendingRegistration_LinkIsWriteOnce(t *testing.T) {
	now := time.Now().UTC()
	reg := domain.NewPendingRegistration("order-1", domain.EntityTypeMember, time.Minute, now)

	changed, err := reg.Link("member_42", now)
	if err != nil || !changed {
		t.Fatalf("first link: changed=%v err=%v", changed, err)
	}

	changed, err = reg.Link("member_42", now)
	if err != nil || changed {
		t.Fatalf("repeated link must be a no-op: changed=%v err=%v", changed, err)
	}

	_, err = reg.Link("member_43", now)
	if !errors.Is(err, domain.ErrLinkConflict) {
		t.Fatalf("expected ErrLinkConflict, got %v", err)
	}
	if reg.LinkedEntityID != "member_42" {
		t.Fatalf("linked entity must not be overwritten, got %s", reg.LinkedEntityID)
	}
}

func TestPendingRegistration_Adoptable(t *testing.T) {
	now := time.Now().UTC()

	orphan := domain.NewOrphanedRegistration("order-x", now)
	if !orphan.Adoptable() {
		t.Fatal("fresh orphan must be adoptable")
	}
	if errs := orphan.Validate(); len(errs) != 0 {
		t.Fatalf("orphan without entity type must be valid, got %v", errs)
	}

	swept := domain.NewPendingRegistration("order-y", domain.EntityTypeDonation, time.Minute, now)
	swept.Status = domain.RegistrationStatusOrphaned
	if swept.Adoptable() {
		t.Fatal("orphan produced by the sweep already belongs to a registration flow")
	}
}

func TestPendingRegistration_ExpiredAt(t *testing.T) {
	now := time.Now().UTC()
	reg := domain.NewPendingRegistration("order-1", domain.EntityTypeMember, time.Minute, now)

	if reg.ExpiredAt(now) {
		t.Fatal("registration must not be expired right after creation")
	}
	if !reg.ExpiredAt(now.Add(time.Minute)) {
		t.Fatal("registration must be expired exactly at expires_at")
	}
}
