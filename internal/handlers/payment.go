package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pos-ledger/internal/models"
	"pos-ledger/internal/services"
	"pos-ledger/internal/utils"
)

type PaymentHandler struct {
	ledger *services.LedgerService
}

func NewPaymentHandler(ledger *services.LedgerService) *PaymentHandler {
	return &PaymentHandler{ledger: ledger}
}

func (h *PaymentHandler) RecordPayment(c *gin.Context) {
	var req models.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	result, err := h.ledger.RecordPayment(c.Request.Context(), c.Param("rid"), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, utils.SuccessResponse("Payment recorded", result))
}

func (h *PaymentHandler) RecordItemPayment(c *gin.Context) {
	var req models.RecordItemPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	result, err := h.ledger.RecordItemPayment(c.Request.Context(), c.Param("rid"), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, utils.SuccessResponse("Item payment recorded", result))
}

func (h *PaymentHandler) ListPayments(c *gin.Context) {
	payments, err := h.ledger.ListPayments(c.Request.Context(), c.Param("rid"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Payments retrieved", payments))
}
