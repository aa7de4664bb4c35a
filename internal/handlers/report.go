package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pos-ledger/internal/services"
	"pos-ledger/internal/utils"
)

const defaultShiftLength = 24 * time.Hour

type ReportHandler struct {
	shifts *services.ShiftService
}

func NewReportHandler(shifts *services.ShiftService) *ReportHandler {
	return &ReportHandler{shifts: shifts}
}

// ShiftReport takes RFC3339 from/to query parameters. Without them it covers
// the last 24 hours.
func (h *ReportHandler) ShiftReport(c *gin.Context) {
	to := time.Now().UTC()
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid 'to' timestamp", err.Error()))
			return
		}
		to = t
	}
	from := to.Add(-defaultShiftLength)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid 'from' timestamp", err.Error()))
			return
		}
		from = t
	}

	report, err := h.shifts.Report(c.Request.Context(), c.Param("rid"), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Shift report generated", report))
}
