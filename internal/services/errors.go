package services

import (
	"errors"
	"fmt"

	"pos-ledger/internal/redis"
)

var (
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInvalidTip         = errors.New("tip cannot be negative")
	ErrInvalidMethod      = errors.New("unknown payment method")
	ErrInvalidQuantity    = errors.New("quantity must be greater than zero")
	ErrInvalidPrice       = errors.New("price cannot be negative")
	ErrNoItems            = errors.New("no items given")
	ErrNothingOwed        = errors.New("session has no remaining balance")
	ErrSessionNotPayable  = errors.New("session is closed or cancelled and cannot take payments")
	ErrSessionNotOpen     = errors.New("session is not open")
	ErrTableOccupied      = errors.New("table already has an open session")
	ErrRowPartiallyPaid   = errors.New("row has paid units and cannot be removed")
	ErrRemovalBelowPaid   = errors.New("removing the row would drop the total below the amount already paid")
	ErrSessionHasPayments = errors.New("session has recorded payments and cannot be cancelled")
	ErrSubmitInProgress   = redis.ErrSubmitInProgress
)

// ReconciliationError rejects an itemized payment that does not fit the
// session's state at transaction time. Nothing is written when it is returned.
type ReconciliationError struct {
	Amount    float64
	Remaining float64

	// Set when the rejection is about units rather than money.
	ItemID    string
	Requested int
	Unpaid    int

	// Set when no row of ItemID is priced at Price.
	PriceMismatch bool
	Price         float64
}

func (e *ReconciliationError) Error() string {
	if e.PriceMismatch {
		return fmt.Sprintf("cannot pay %s at %.2f: no row is priced at that amount", e.ItemID, e.Price)
	}
	if e.ItemID != "" {
		return fmt.Sprintf("cannot pay %d units of %s: only %d unpaid", e.Requested, e.ItemID, e.Unpaid)
	}
	return fmt.Sprintf("itemized payment of %.2f exceeds remaining balance of %.2f", e.Amount, e.Remaining)
}

// IsValidation reports whether err is a client input error.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidTip),
		errors.Is(err, ErrInvalidMethod),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrNoItems):
		return true
	}
	return false
}
