package handlers

import (
	"io"

	"github.com/gin-gonic/gin"

	"pos-ledger/internal/live"
	"pos-ledger/internal/models"
	"pos-ledger/internal/services"
)

type StreamHandler struct {
	ledger *services.LedgerService
	hub    *live.Hub
}

func NewStreamHandler(ledger *services.LedgerService, hub *live.Hub) *StreamHandler {
	return &StreamHandler{ledger: ledger, hub: hub}
}

// Stream pushes the current session, then every committed change, as
// server-sent events. It ends when the session closes or is cancelled.
func (h *StreamHandler) Stream(c *gin.Context) {
	sessionID := c.Param("id")

	events, cancel := h.hub.Subscribe(sessionID)
	defer cancel()

	session, err := h.ledger.GetSession(c.Request.Context(), c.Param("rid"), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("session", session)
	if !session.IsOpen() {
		c.Writer.Flush()
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(event.Type, event)
			return event.Type != models.EventSessionClosed && event.Type != models.EventSessionCancelled
		}
	})
}
