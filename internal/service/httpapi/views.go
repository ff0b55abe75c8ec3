package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/service/reconcile"
)

type registrationView struct {
	OrderID            string    `json:"order_id"`
	IntendedEntityType string    `json:"intended_entity_type,omitempty"`
	Status             string    `json:"status"`
	LinkedEntityID     string    `json:"linked_entity_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

type paymentView struct {
	PaymentID       string    `json:"payment_id"`
	OrderID         string    `json:"order_id"`
	AmountMinor     int64     `json:"amount_minor_units"`
	Currency        string    `json:"currency"`
	CapturedAt      time.Time `json:"captured_at"`
	Status          string    `json:"reconciliation_status"`
	DomainEntityRef string    `json:"domain_entity_ref,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type anomalyView struct {
	ID                  string    `json:"id"`
	Kind                string    `json:"kind"`
	OrderID             string    `json:"order_id"`
	EventID             string    `json:"event_id"`
	PaymentID           string    `json:"payment_id"`
	ExpectedAmountMinor int64     `json:"expected_amount_minor_units"`
	ActualAmountMinor   int64     `json:"actual_amount_minor_units"`
	DetectedAt          time.Time `json:"detected_at"`
}

type timelineView struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason"`
	Occurred time.Time `json:"occurred_at"`
}

type orphanView struct {
	Registration registrationView `json:"registration"`
	Payment      *paymentView     `json:"payment,omitempty"`
}

type detailsView struct {
	Registration registrationView `json:"registration"`
	Payment      *paymentView     `json:"payment,omitempty"`
	Timeline     []timelineView   `json:"timeline"`
}

func toRegistrationView(reg domain.PendingRegistration) registrationView {
	return registrationView{
		OrderID:            reg.OrderID,
		IntendedEntityType: string(reg.IntendedEntityType),
		Status:             string(reg.Status),
		LinkedEntityID:     reg.LinkedEntityID,
		CreatedAt:          reg.CreatedAt,
		UpdatedAt:          reg.UpdatedAt,
		ExpiresAt:          reg.ExpiresAt,
	}
}

func toPaymentView(payment *domain.PaymentRecord) *paymentView {
	if payment == nil {
		return nil
	}
	return &paymentView{
		PaymentID:       payment.PaymentID,
		OrderID:         payment.OrderID,
		AmountMinor:     payment.AmountMinor,
		Currency:        payment.Currency,
		CapturedAt:      payment.CapturedAt,
		Status:          string(payment.Status),
		DomainEntityRef: payment.DomainEntityRef,
		UpdatedAt:       payment.UpdatedAt,
	}
}

func toAnomalyViews(anomalies []domain.Anomaly) []anomalyView {
	views := make([]anomalyView, 0, len(anomalies))
	for _, a := range anomalies {
		views = append(views, anomalyView{
			ID:                  a.ID,
			Kind:                string(a.Kind),
			OrderID:             a.OrderID,
			EventID:             a.EventID,
			PaymentID:           a.PaymentID,
			ExpectedAmountMinor: a.ExpectedAmountMinor,
			ActualAmountMinor:   a.ActualAmountMinor,
			DetectedAt:          a.DetectedAt,
		})
	}
	return views
}

func toOrphanViews(orphans []reconcile.OrphanView) []orphanView {
	views := make([]orphanView, 0, len(orphans))
	for _, o := range orphans {
		views = append(views, orphanView{
			Registration: toRegistrationView(o.Registration),
			Payment:      toPaymentView(o.Payment),
		})
	}
	return views
}

func toDetailsView(details reconcile.RegistrationDetails) detailsView {
	timeline := make([]timelineView, 0, len(details.Timeline))
	for _, item := range details.Timeline {
		timeline = append(timeline, timelineView{Type: item.Type, Reason: item.Reason, Occurred: item.Occurred})
	}
	return detailsView{
		Registration: toRegistrationView(details.Registration),
		Payment:      toPaymentView(details.Payment),
		Timeline:     timeline,
	}
}
