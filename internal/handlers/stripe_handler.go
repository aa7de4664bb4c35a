package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pos-ledger/internal/services"
	"pos-ledger/internal/utils"
)

type StripeHandler struct {
	checkout *services.CheckoutService
}

// NewStripeHandler returns a handler that answers 503 when checkout is nil.
func NewStripeHandler(checkout *services.CheckoutService) *StripeHandler {
	return &StripeHandler{checkout: checkout}
}

func (h *StripeHandler) PayByCard(c *gin.Context) {
	if h.checkout == nil {
		c.JSON(http.StatusServiceUnavailable, utils.ErrorResponse("Card payments are not configured", ""))
		return
	}

	var req services.CardPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	result, err := h.checkout.PayByCard(c.Request.Context(), c.Param("rid"), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, utils.SuccessResponse("Card payment recorded", result))
}
