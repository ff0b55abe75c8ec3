package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const maxListLimit = 1000

// ListOrphans отдаёт платежи, ожидающие ручного решения.
func (h *Handler) ListOrphans(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	orphans, err := h.engine.ListOrphans(c.Request.Context(), limit)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orphans": toOrphanViews(orphans)})
}

// ListAnomalies отдаёт зафиксированные расхождения сумм.
func (h *Handler) ListAnomalies(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	anomalies, err := h.engine.ListAnomalies(c.Request.Context(), limit)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": toAnomalyViews(anomalies)})
}

// RegistrationDetails отдаёт регистрацию, платёж и timeline заказа.
func (h *Handler) RegistrationDetails(c *gin.Context) {
	details, err := h.engine.Details(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDetailsView(details))
}

// ManualLink привязывает осиротевший платёж к сущности вручную.
func (h *Handler) ManualLink(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	orderID := c.Param("order_id")
	outcome, err := h.engine.ManualLink(c.Request.Context(), orderID, req.EntityID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, linkResponse{OrderID: orderID, Outcome: string(outcome)})
}

// MarkRefundPending помечает осиротевший платёж к возврату.
func (h *Handler) MarkRefundPending(c *gin.Context) {
	payment, err := h.engine.MarkRefundPending(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentView(&payment))
}

func parseLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > maxListLimit {
		return 0, fmt.Errorf("limit must be an integer in [1, %d]", maxListLimit)
	}
	return limit, nil
}
