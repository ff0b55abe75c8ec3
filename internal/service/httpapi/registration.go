package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
)

type createRegistrationRequest struct {
	OrderID            string `json:"order_id" binding:"required,max=64"`
	IntendedEntityType string `json:"intended_entity_type" binding:"required"`
	TTLSeconds         int64  `json:"ttl_seconds" binding:"gte=0,lte=2592000"`
}

type linkRequest struct {
	EntityID string `json:"entity_id" binding:"required,max=64"`
}

type linkResponse struct {
	OrderID string `json:"order_id"`
	Outcome string `json:"outcome"`
}

// CreateRegistration заводит ожидающую регистрацию перед переходом к оплате.
func (h *Handler) CreateRegistration(c *gin.Context) {
	var req createRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	entityType := domain.EntityType(strings.ToUpper(strings.TrimSpace(req.IntendedEntityType)))
	ttl := time.Duration(req.TTLSeconds) * time.Second

	reg, err := h.engine.CreatePendingRegistration(c.Request.Context(), req.OrderID, entityType, ttl)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRegistrationView(reg))
}

// GetRegistration отдаёт статус регистрации для опроса из UI.
func (h *Handler) GetRegistration(c *gin.Context) {
	reg, found, err := h.engine.GetPaymentStatus(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if !found {
		writeError(c, http.StatusNotFound, domain.ErrRegistrationNotFound)
		return
	}
	c.JSON(http.StatusOK, toRegistrationView(reg))
}

// LinkRegistration привязывает созданную сущность к заказу.
func (h *Handler) LinkRegistration(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	orderID := c.Param("order_id")
	outcome, err := h.engine.LinkRegistration(c.Request.Context(), orderID, req.EntityID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, linkResponse{OrderID: orderID, Outcome: string(outcome)})
}

// statusFor переводит ошибку домена в HTTP-код.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrOrderIDRequired),
		errors.Is(err, domain.ErrEntityIDRequired),
		errors.Is(err, domain.ErrEntityTypeInvalid),
		errors.Is(err, domain.ErrTTLTooLong),
		errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRegistrationNotFound),
		errors.Is(err, domain.ErrNoPendingRegistration),
		errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRegistrationExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrRegistrationExists),
		errors.Is(err, domain.ErrLinkConflict),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case domain.IsPersistenceFailure(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(c *gin.Context, err error) {
	writeError(c, statusFor(err), err)
}

func writeError(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
