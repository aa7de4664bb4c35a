package models

import (
	"errors"
	"time"
)

var ErrRowIndexOutOfRange = errors.New("order row index out of range")

type Modifier struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// OrderItem is one row of a session. Adding the same product twice creates two rows,
// each tracking its own paid_quantity.
type OrderItem struct {
	RowID        string     `json:"row_id"`
	ItemID       string     `json:"item_id"`
	Name         string     `json:"name"`
	Quantity     int        `json:"quantity"`
	Price        float64    `json:"price"`
	Modifiers    []Modifier `json:"modifiers,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	PaidQuantity int        `json:"paid_quantity"`
	PaymentIDs   []string   `json:"payment_ids,omitempty"`
	AddedBy      string     `json:"added_by,omitempty"`
	AddedAt      time.Time  `json:"added_at"`
}

// UnitPrice is the price of a single unit including modifier surcharges.
func (i OrderItem) UnitPrice() float64 {
	values := make([]float64, 0, len(i.Modifiers)+1)
	values = append(values, i.Price)
	for _, m := range i.Modifiers {
		values = append(values, m.Price)
	}
	return SumMoney(values...)
}

func (i OrderItem) LineTotal() float64 {
	return MulMoney(i.UnitPrice(), i.Quantity)
}

func (i OrderItem) UnpaidQuantity() int {
	if i.PaidQuantity >= i.Quantity {
		return 0
	}
	return i.Quantity - i.PaidQuantity
}

// IsUnitPaid reports whether the virtual unit-slot at unitIndex is settled.
// Paid units are always the lowest indices of the row.
func (i OrderItem) IsUnitPaid(unitIndex int) bool {
	return unitIndex < i.PaidQuantity
}

type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
}

func CalculateTotals(items []OrderItem) Totals {
	lines := make([]float64, 0, len(items))
	for _, item := range items {
		lines = append(lines, item.LineTotal())
	}
	subtotal := SumMoney(lines...)
	tax := RoundMoney(subtotal * TaxRate)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    SumMoney(subtotal, tax),
	}
}

// RemoveRow returns a copy of items without the row at index, plus the recomputed totals.
func RemoveRow(items []OrderItem, index int) ([]OrderItem, Totals, error) {
	if index < 0 || index >= len(items) {
		return items, CalculateTotals(items), ErrRowIndexOutOfRange
	}
	rows := make([]OrderItem, 0, len(items)-1)
	rows = append(rows, items[:index]...)
	rows = append(rows, items[index+1:]...)
	return rows, CalculateTotals(rows), nil
}
