package razorpay

import (
	"encoding/json"
	"time"
)

// PaymentEvent описывает минимальное тело webhook с сущностью платежа.
// Используется нагрузочным клиентом и тестами для формирования доставок.
type PaymentEvent struct {
	ID          string
	Event       string
	OrderID     string
	PaymentID   string
	AmountMinor int64
	Currency    string
	Status      string
	CreatedAt   time.Time
}

// Encode сериализует событие в формат тела webhook Razorpay.
func (e PaymentEvent) Encode() ([]byte, error) {
	status := e.Status
	if status == "" {
		status = paymentStatusCaptured
	}
	currency := e.Currency
	if currency == "" {
		currency = "INR"
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	body := map[string]any{
		"entity":     "event",
		"event":      e.Event,
		"contains":   []string{"payment"},
		"created_at": createdAt.Unix(),
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       e.PaymentID,
					"entity":   "payment",
					"order_id": e.OrderID,
					"amount":   e.AmountMinor,
					"currency": currency,
					"status":   status,
				},
			},
		},
	}
	if e.ID != "" {
		body["id"] = e.ID
	}
	return json.Marshal(body)
}
