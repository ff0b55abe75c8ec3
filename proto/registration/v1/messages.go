// Package registrationv1 описывает gRPC-контракт сервиса регистраций.
// Сообщения кодируются JSON-кодеком (см. codec.go), поэтому это обычные структуры.
package registrationv1

import "time"

// Registration — ожидающая регистрация заказа.
type Registration struct {
	OrderId            string    `json:"order_id"`
	IntendedEntityType string    `json:"intended_entity_type,omitempty"`
	Status             string    `json:"status"`
	LinkedEntityId     string    `json:"linked_entity_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

func (x *Registration) GetOrderId() string {
	if x == nil {
		return ""
	}
	return x.OrderId
}

func (x *Registration) GetStatus() string {
	if x == nil {
		return ""
	}
	return x.Status
}

type CreatePendingRegistrationRequest struct {
	OrderId            string `json:"order_id" validate:"required,max=64"`
	IntendedEntityType string `json:"intended_entity_type" validate:"required"`
	TtlSeconds         int64  `json:"ttl_seconds" validate:"gte=0,lte=2592000"`
}

func (x *CreatePendingRegistrationRequest) GetOrderId() string {
	if x == nil {
		return ""
	}
	return x.OrderId
}

type CreatePendingRegistrationResponse struct {
	Registration *Registration `json:"registration"`
}

func (x *CreatePendingRegistrationResponse) GetRegistration() *Registration {
	if x == nil {
		return nil
	}
	return x.Registration
}

type LinkRegistrationRequest struct {
	OrderId  string `json:"order_id" validate:"required,max=64"`
	EntityId string `json:"entity_id" validate:"required,max=64"`
}

func (x *LinkRegistrationRequest) GetOrderId() string {
	if x == nil {
		return ""
	}
	return x.OrderId
}

type LinkRegistrationResponse struct {
	OrderId string `json:"order_id"`
	Outcome string `json:"outcome"`
}

func (x *LinkRegistrationResponse) GetOutcome() string {
	if x == nil {
		return ""
	}
	return x.Outcome
}

type GetPaymentStatusRequest struct {
	OrderId string `json:"order_id" validate:"required,max=64"`
}

func (x *GetPaymentStatusRequest) GetOrderId() string {
	if x == nil {
		return ""
	}
	return x.OrderId
}

type GetPaymentStatusResponse struct {
	Registration *Registration `json:"registration"`
}

func (x *GetPaymentStatusResponse) GetRegistration() *Registration {
	if x == nil {
		return nil
	}
	return x.Registration
}
