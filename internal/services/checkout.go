package services

import (
	"context"
	"errors"
	"fmt"

	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
	"pos-ledger/internal/split"
)

var ErrChargeNotCompleted = errors.New("card charge did not complete")

// CardProcessor charges, cancels and refunds tokenized cards.
type CardProcessor interface {
	Charge(ctx context.Context, req *models.CardChargeRequest) (*models.CardChargeResult, error)
	Cancel(ctx context.Context, transactionID string) error
	Refund(ctx context.Context, transactionID string, amount float64) error
}

type CardPaymentRequest struct {
	split.Request
	Token     string `json:"token" binding:"required"`
	Currency  string `json:"currency,omitempty"`
	CreatedBy string `json:"created_by" binding:"required"`
}

type CardPaymentResult struct {
	*PaymentResult
	Quote  split.Quote              `json:"quote"`
	Charge *models.CardChargeResult `json:"charge"`
}

// CheckoutService runs the guest card flow: quote against the live balance,
// charge bill portion plus tip, then record with method stripe.
type CheckoutService struct {
	ledger    *LedgerService
	processor CardProcessor
	log       *logger.Logger
}

func NewCheckoutService(ledger *LedgerService, processor CardProcessor, log *logger.Logger) *CheckoutService {
	return &CheckoutService{ledger: ledger, processor: processor, log: log}
}

// PayByCard charges the card and records the payment. A charge that does not
// succeed outright is cancelled. When recording fails after a successful
// charge, the charge is refunded and the recorder error returned.
func (s *CheckoutService) PayByCard(ctx context.Context, restaurantID, sessionID string, req *CardPaymentRequest) (*CardPaymentResult, error) {
	quote, err := s.ledger.Quote(ctx, restaurantID, sessionID, req.Request)
	if err != nil {
		return nil, err
	}

	charge, err := s.processor.Charge(ctx, &models.CardChargeRequest{
		SessionID:    sessionID,
		RestaurantID: restaurantID,
		Amount:       quote.Charge,
		Currency:     req.Currency,
		Token:        req.Token,
		Description:  fmt.Sprintf("Session %s (%s split)", sessionID, quote.Mode),
		Metadata:     map[string]string{"split_mode": string(quote.Mode)},
	})
	if err != nil {
		return nil, err
	}
	if charge.Status != models.ChargeSucceeded {
		s.log.LogPayment("DECLINED", sessionID, fmt.Sprintf("Charge %s ended %s, cancelling", charge.TransactionID, charge.Status))
		// A pending intent can still capture later; nothing is recorded for it.
		if cancelErr := s.processor.Cancel(ctx, charge.TransactionID); cancelErr != nil {
			s.log.Error("CHECKOUT", fmt.Sprintf("Cancel of %s failed, manual action needed: %v", charge.TransactionID, cancelErr))
		}
		return nil, fmt.Errorf("%w: %s", ErrChargeNotCompleted, charge.Status)
	}

	var result *PaymentResult
	if quote.Mode == split.ModeItems {
		result, err = s.ledger.RecordItemPayment(ctx, restaurantID, sessionID, &models.RecordItemPaymentRequest{
			Items:       quote.Lines,
			Tip:         quote.Tip,
			Method:      models.MethodStripe,
			CreatedBy:   req.CreatedBy,
			ExternalRef: charge.TransactionID,
		})
	} else {
		result, err = s.ledger.RecordPayment(ctx, restaurantID, sessionID, &models.RecordPaymentRequest{
			Amount:      quote.Amount,
			Tip:         quote.Tip,
			Method:      models.MethodStripe,
			CreatedBy:   req.CreatedBy,
			ExternalRef: charge.TransactionID,
		})
	}
	if err != nil {
		s.log.Warn("CHECKOUT", fmt.Sprintf("Recording charge %s failed, refunding: %v", charge.TransactionID, err))
		if refundErr := s.processor.Refund(ctx, charge.TransactionID, charge.Amount); refundErr != nil {
			s.log.Error("CHECKOUT", fmt.Sprintf("Refund of %s failed, manual action needed: %v", charge.TransactionID, refundErr))
		}
		return nil, err
	}

	// The amount recorder caps at the live balance; give back what was not booked.
	if excess := models.SumMoney(quote.Amount, -result.Payment.Amount); excess > 0 {
		s.log.LogPayment("PARTIAL_REFUND", charge.TransactionID, fmt.Sprintf("Balance moved since quote, refunding %.2f", excess))
		if err := s.processor.Refund(ctx, charge.TransactionID, excess); err != nil {
			s.log.Error("CHECKOUT", fmt.Sprintf("Refund of excess on %s failed: %v", charge.TransactionID, err))
		}
	}

	return &CardPaymentResult{PaymentResult: result, Quote: quote, Charge: charge}, nil
}
