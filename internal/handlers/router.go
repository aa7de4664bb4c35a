package handlers

import "github.com/gin-gonic/gin"

type Handlers struct {
	Session *SessionHandler
	Payment *PaymentHandler
	Stripe  *StripeHandler
	Report  *ReportHandler
	Stream  *StreamHandler
}

// Register mounts the ledger API under r.
func (h *Handlers) Register(r gin.IRouter) {
	restaurant := r.Group("/restaurants/:rid")
	{
		restaurant.GET("/reports/shift", h.Report.ShiftReport)

		sessions := restaurant.Group("/sessions")
		{
			sessions.POST("", h.Session.OpenSession)
			sessions.GET("/:id", h.Session.GetSession)
			sessions.POST("/:id/items", h.Session.AddItems)
			sessions.DELETE("/:id/items/:index", h.Session.RemoveItem)
			sessions.POST("/:id/cancel", h.Session.CancelSession)
			sessions.POST("/:id/quote", h.Session.Quote)

			sessions.POST("/:id/payments", h.Payment.RecordPayment)
			sessions.GET("/:id/payments", h.Payment.ListPayments)
			sessions.POST("/:id/item-payments", h.Payment.RecordItemPayment)
			sessions.POST("/:id/card-payments", h.Stripe.PayByCard)

			sessions.GET("/:id/stream", h.Stream.Stream)
		}
	}
}
