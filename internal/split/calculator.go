// Package split derives the amount to charge now against a session's live balance.
// It has no side effects; callers pass the latest committed session snapshot.
package split

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"pos-ledger/internal/models"
)

type Mode string

const (
	ModeFull   Mode = "full"
	ModeItems  Mode = "items"
	ModeEqual  Mode = "equal"
	ModeCustom Mode = "custom"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeFull, ModeItems, ModeEqual, ModeCustom:
		return true
	}
	return false
}

// ValidationError is a client-recoverable rejection of a proposed charge.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var (
	ErrExceedsRemaining = &ValidationError{Code: "amount_exceeds_remaining", Message: "amount exceeds remaining balance"}
	ErrNothingToCharge  = &ValidationError{Code: "nothing_to_charge", Message: "must select items or enter an amount"}
	ErrEmptySelection   = &ValidationError{Code: "empty_selection", Message: "must select at least one unpaid item"}
	ErrUnknownMode      = &ValidationError{Code: "unknown_mode", Message: "unknown split mode"}
)

// UnitRef addresses one virtual unit-slot: unit Unit (0-based) of row Row.
type UnitRef struct {
	Row  int `json:"row"`
	Unit int `json:"unit"`
}

type Request struct {
	Mode         Mode      `json:"mode"`
	Selection    []UnitRef `json:"selection,omitempty"`
	SplitCount   int       `json:"split_count,omitempty"`
	SplitInput   string    `json:"split_input,omitempty"` // raw divisor as typed; used when SplitCount is 0
	CustomAmount string    `json:"custom_amount,omitempty"`
	TipPercent   float64   `json:"tip_percent,omitempty"`
	CustomTip    string    `json:"custom_tip,omitempty"`
}

// Quote is the proposed charge. Amount is the bill portion; Charge adds the tip.
type Quote struct {
	Mode      Mode                     `json:"mode"`
	Amount    float64                  `json:"amount"`
	Tip       float64                  `json:"tip"`
	Charge    float64                  `json:"charge"`
	Remaining float64                  `json:"remaining"`
	Units     []UnitRef                `json:"units,omitempty"`
	Available []UnitRef                `json:"available,omitempty"`
	Lines     []models.ItemPaymentLine `json:"lines,omitempty"`
}

// Calculate computes the quote for req. On a validation error the partially
// filled quote is still returned so callers can show what was computed.
func Calculate(session *models.Session, req Request) (Quote, error) {
	remaining := session.Remaining()
	q := Quote{Mode: req.Mode, Remaining: remaining}

	switch req.Mode {
	case ModeFull:
		q.Amount = remaining
	case ModeItems:
		q.Available = UnpaidUnits(session.Items)
		q.Units = ReconcileSelection(session.Items, req.Selection)
		if len(q.Units) == 0 {
			return q, ErrEmptySelection
		}
		q.Amount, q.Lines = priceUnits(session.Items, q.Units)
	case ModeEqual:
		count := req.SplitCount
		if count == 0 && req.SplitInput != "" {
			count = ParseSplitCount(req.SplitInput)
		}
		q.Amount = EqualShare(remaining, count)
	case ModeCustom:
		q.Amount = ParseAmount(req.CustomAmount)
	default:
		return q, ErrUnknownMode
	}

	q.Tip = ComputeTip(q.Amount, req.TipPercent, req.CustomTip)
	q.Charge = models.SumMoney(q.Amount, q.Tip)

	if q.Amount <= 0 {
		return q, ErrNothingToCharge
	}
	if q.Amount > models.SumMoney(remaining, models.MoneyEpsilon) {
		return q, ErrExceedsRemaining
	}
	return q, nil
}

// ReconcileSelection drops unit-slots that are out of range, duplicated, or
// already paid (unit index below the row's paid_quantity).
func ReconcileSelection(rows []models.OrderItem, selected []UnitRef) []UnitRef {
	seen := make(map[UnitRef]bool, len(selected))
	out := make([]UnitRef, 0, len(selected))
	for _, ref := range selected {
		if ref.Row < 0 || ref.Row >= len(rows) {
			continue
		}
		row := rows[ref.Row]
		if ref.Unit < 0 || ref.Unit >= row.Quantity || row.IsUnitPaid(ref.Unit) {
			continue
		}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

// UnpaidUnits lists every selectable unit-slot in row order.
func UnpaidUnits(rows []models.OrderItem) []UnitRef {
	var out []UnitRef
	for r, row := range rows {
		for u := row.PaidQuantity; u < row.Quantity; u++ {
			out = append(out, UnitRef{Row: r, Unit: u})
		}
	}
	return out
}

func priceUnits(rows []models.OrderItem, units []UnitRef) (float64, []models.ItemPaymentLine) {
	type key struct {
		itemID string
		price  float64
	}
	index := make(map[key]int)
	var lines []models.ItemPaymentLine
	prices := make([]float64, 0, len(units))

	for _, ref := range units {
		row := rows[ref.Row]
		unit := row.UnitPrice()
		prices = append(prices, unit)

		k := key{itemID: row.ItemID, price: unit}
		if i, ok := index[k]; ok {
			lines[i].Quantity++
			continue
		}
		index[k] = len(lines)
		lines = append(lines, models.ItemPaymentLine{ItemID: row.ItemID, Quantity: 1, Price: unit})
	}
	return models.SumMoney(prices...), lines
}

// EqualShare divides remaining by splitCount; counts below 1 divide by 1.
func EqualShare(remaining float64, splitCount int) float64 {
	if splitCount < 1 {
		splitCount = 1
	}
	share, _ := decimal.NewFromFloat(remaining).
		Div(decimal.NewFromInt(int64(splitCount))).
		Round(2).
		Float64()
	return share
}

// ParseSplitCount reads a user-entered divisor; anything unparsable or below 1 becomes 1.
func ParseSplitCount(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// ParseAmount reads a user-entered decimal; invalid, empty or negative input is 0.
func ParseAmount(raw string) float64 {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if raw == "" {
		return 0
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return 0
	}
	f, _ := d.Round(2).Float64()
	return f
}

// ComputeTip returns the custom tip when one is entered, else percent of amount.
// Tips are never checked against the remaining balance.
func ComputeTip(amount, percent float64, custom string) float64 {
	if strings.TrimSpace(custom) != "" {
		return ParseAmount(custom)
	}
	if percent <= 0 || amount <= 0 {
		return 0
	}
	tip, _ := decimal.NewFromFloat(amount).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100)).
		Round(2).
		Float64()
	return tip
}
