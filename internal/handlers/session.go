package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pos-ledger/internal/models"
	"pos-ledger/internal/services"
	"pos-ledger/internal/split"
	"pos-ledger/internal/utils"
)

type SessionHandler struct {
	ledger *services.LedgerService
}

func NewSessionHandler(ledger *services.LedgerService) *SessionHandler {
	return &SessionHandler{ledger: ledger}
}

func (h *SessionHandler) OpenSession(c *gin.Context) {
	var req models.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	session, err := h.ledger.OpenSession(c.Request.Context(), c.Param("rid"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, utils.SuccessResponse("Session opened", session))
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.ledger.GetSession(c.Request.Context(), c.Param("rid"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Session retrieved", session))
}

func (h *SessionHandler) AddItems(c *gin.Context) {
	var req models.AddItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	session, err := h.ledger.AddItems(c.Request.Context(), c.Param("rid"), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Items added", session))
}

func (h *SessionHandler) RemoveItem(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Row index must be a number", err.Error()))
		return
	}

	session, err := h.ledger.RemoveItem(c.Request.Context(), c.Param("rid"), c.Param("id"), index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Item removed", session))
}

func (h *SessionHandler) CancelSession(c *gin.Context) {
	session, err := h.ledger.CancelSession(c.Request.Context(), c.Param("rid"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Session cancelled", session))
}

// Quote previews a split. Rejected quotes still carry the computed figures.
func (h *SessionHandler) Quote(c *gin.Context) {
	var req split.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	quote, err := h.ledger.Quote(c.Request.Context(), c.Param("rid"), c.Param("id"), req)
	var valErr *split.ValidationError
	if errors.As(err, &valErr) {
		resp := utils.ErrorResponse(valErr.Message, valErr.Code)
		resp.Data = quote
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Quote calculated", quote))
}
