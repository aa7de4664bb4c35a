package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentMethod string

const (
	MethodCash   PaymentMethod = "cash"
	MethodCard   PaymentMethod = "card"
	MethodStripe PaymentMethod = "stripe"
	MethodOther  PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodStripe, MethodOther:
		return true
	}
	return false
}

// PaymentItem is the part of an itemized payment settled against one row.
type PaymentItem struct {
	ItemID       string  `json:"item_id"`
	RowID        string  `json:"row_id,omitempty"`
	QuantityPaid int     `json:"quantity_paid"`
	Price        float64 `json:"price"`
	Amount       float64 `json:"amount"`
}

// Payment is an immutable record in the session's payment log.
// Amount is the bill portion; Tip never counts towards amount_paid.
type Payment struct {
	bun.BaseModel `bun:"table:session_payments"`

	PaymentID    string        `json:"payment_id" bun:"payment_id,pk"`
	SessionID    string        `json:"session_id" bun:"session_id"`
	RestaurantID string        `json:"restaurant_id" bun:"restaurant_id"`
	Amount       float64       `json:"amount" bun:"amount"`
	Tip          float64       `json:"tip" bun:"tip"`
	Method       PaymentMethod `json:"method" bun:"method"`
	CreatedBy    string        `json:"created_by" bun:"created_by"`
	Items        []PaymentItem `json:"items,omitempty" bun:"items,type:json"`
	ExternalRef  string        `json:"external_ref,omitempty" bun:"external_ref"`
	CreatedAt    time.Time     `json:"created_at" bun:"created_at"`
}

// ItemPaymentLine asks to settle Quantity units of ItemID at Price each.
type ItemPaymentLine struct {
	ItemID   string  `json:"item_id" binding:"required"`
	Quantity int     `json:"quantity" binding:"required,gt=0"`
	Price    float64 `json:"price" binding:"gte=0"`
}

type RecordPaymentRequest struct {
	Amount    float64       `json:"amount" binding:"required,gt=0"`
	Tip       float64       `json:"tip" binding:"gte=0"`
	Method    PaymentMethod `json:"method" binding:"required"`
	CreatedBy string        `json:"created_by" binding:"required"`

	// ExternalRef links the payment to a processor transaction, if any.
	ExternalRef string `json:"external_ref,omitempty"`
}

type RecordItemPaymentRequest struct {
	Items       []ItemPaymentLine `json:"items" binding:"required,min=1,dive"`
	Tip         float64           `json:"tip" binding:"gte=0"`
	Method      PaymentMethod     `json:"method" binding:"required"`
	CreatedBy   string            `json:"created_by" binding:"required"`
	ExternalRef string            `json:"external_ref,omitempty"`
}

type OpenSessionRequest struct {
	TableID  string `json:"table_id" binding:"required"`
	OpenedBy string `json:"opened_by" binding:"required"`
}

type NewOrderItem struct {
	ItemID    string     `json:"item_id" binding:"required"`
	Name      string     `json:"name" binding:"required"`
	Quantity  int        `json:"quantity" binding:"required,gt=0"`
	Price     float64    `json:"price" binding:"gte=0"`
	Modifiers []Modifier `json:"modifiers,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

type AddItemsRequest struct {
	Items   []NewOrderItem `json:"items" binding:"required,min=1,dive"`
	AddedBy string         `json:"added_by"`
}
