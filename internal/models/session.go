package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CounterTableID marks counter/pickup sessions that hold no physical table.
const CounterTableID = "counter"

type SessionStatus string

const (
	SessionActive         SessionStatus = "active"
	SessionPartialPayment SessionStatus = "partial_payment"
	SessionClosed         SessionStatus = "closed"
	SessionCancelled      SessionStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// Session is one open tab against a table or the counter.
type Session struct {
	bun.BaseModel `bun:"table:sessions"`

	ID           string `json:"id" bun:"id,pk"`
	RestaurantID string `json:"restaurant_id" bun:"restaurant_id"`
	TableID      string `json:"table_id" bun:"table_id"`

	Items []OrderItem `json:"items" bun:"items,type:json"`

	Subtotal   float64 `json:"subtotal" bun:"subtotal"`
	Tax        float64 `json:"tax" bun:"tax"`
	Total      float64 `json:"total" bun:"total"`
	AmountPaid float64 `json:"amount_paid" bun:"amount_paid"`
	// RemainingAmount is nil on legacy documents; Remaining derives it then.
	RemainingAmount  *float64          `json:"remaining_amount,omitempty" bun:"remaining_amount"`
	TipTotal         float64            `json:"tip_total" bun:"tip_total"`
	PaymentBreakdown map[string]float64 `json:"payment_breakdown,omitempty" bun:"payment_breakdown,type:json"`

	Status        SessionStatus `json:"status" bun:"status"`
	PaymentStatus PaymentStatus `json:"payment_status,omitempty" bun:"payment_status"`

	OpenedBy  string     `json:"opened_by,omitempty" bun:"opened_by"`
	CreatedAt time.Time  `json:"created_at" bun:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bun:"updated_at"`
	EndTime   *time.Time `json:"end_time,omitempty" bun:"end_time"`
	Version   int64      `json:"version" bun:"version"`
}

// Remaining returns the stored remaining amount, or total - amount_paid when absent.
func (s *Session) Remaining() float64 {
	if s.RemainingAmount != nil {
		return *s.RemainingAmount
	}
	return ClampRemaining(s.Total, s.AmountPaid)
}

func (s *Session) HasPhysicalTable() bool {
	return s.TableID != "" && s.TableID != CounterTableID
}

// IsOpen reports whether the session still accepts items and payments.
func (s *Session) IsOpen() bool {
	return s.Status == SessionActive || s.Status == SessionPartialPayment
}

// Reprice recomputes the aggregate money fields from the rows and re-derives status.
func (s *Session) Reprice() {
	totals := CalculateTotals(s.Items)
	s.Subtotal = totals.Subtotal
	s.Tax = totals.Tax
	s.Total = totals.Total
	remaining := ClampRemaining(s.Total, s.AmountPaid)
	s.RemainingAmount = &remaining
	if s.Status != SessionCancelled {
		s.Status, s.PaymentStatus = DeriveStatus(s.AmountPaid, s.Total)
	}
}

// Clone returns a deep copy so stores can stage mutations without aliasing.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Items != nil {
		c.Items = make([]OrderItem, len(s.Items))
		for i, item := range s.Items {
			c.Items[i] = item
			if item.Modifiers != nil {
				c.Items[i].Modifiers = append([]Modifier(nil), item.Modifiers...)
			}
			if item.PaymentIDs != nil {
				c.Items[i].PaymentIDs = append([]string(nil), item.PaymentIDs...)
			}
		}
	}
	if s.RemainingAmount != nil {
		r := *s.RemainingAmount
		c.RemainingAmount = &r
	}
	if s.PaymentBreakdown != nil {
		c.PaymentBreakdown = make(map[string]float64, len(s.PaymentBreakdown))
		for k, v := range s.PaymentBreakdown {
			c.PaymentBreakdown[k] = v
		}
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	return &c
}

func ClampRemaining(total, amountPaid float64) float64 {
	r := SumMoney(total, -amountPaid)
	if r < 0 {
		return 0
	}
	return r
}

// DeriveStatus maps paid/total onto the session and payment status.
func DeriveStatus(amountPaid, total float64) (SessionStatus, PaymentStatus) {
	switch {
	case (total > 0 || amountPaid > 0) && RoundMoney(amountPaid) >= RoundMoney(total):
		return SessionClosed, PaymentPaid
	case amountPaid > 0:
		return SessionPartialPayment, PaymentPartial
	default:
		return SessionActive, PaymentPending
	}
}
