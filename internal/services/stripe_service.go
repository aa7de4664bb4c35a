package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
)

var (
	ErrStripeAPIError         = errors.New("stripe API error")
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
)

// StripeService charges guest cards through Stripe PaymentIntents.
type StripeService struct {
	client   *client.API
	currency string
	log      *logger.Logger
}

func NewStripeService(secretKey, currency string, log *logger.Logger) (*StripeService, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(secretKey, nil)
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeService{client: sc, currency: currency, log: log}, nil
}

// toCents converts an amount in currency units to Stripe's smallest unit.
func toCents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart()
}

func fromCents(cents int64) float64 {
	f, _ := decimal.New(cents, -2).Float64()
	return f
}

func (s *StripeService) Charge(ctx context.Context, req *models.CardChargeRequest) (*models.CardChargeResult, error) {
	if req.Token == "" {
		return nil, fmt.Errorf("%w: no payment method provided", ErrStripeAPIError)
	}
	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}

	s.log.LogPayment("CHARGE", req.SessionID, fmt.Sprintf("Charging %.2f %s to card", req.Amount, currency))

	metadata := map[string]string{
		"session_id":    req.SessionID,
		"restaurant_id": req.RestaurantID,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(toCents(req.Amount)),
		Currency:           stripe.String(currency),
		PaymentMethod:      stripe.String(req.Token),
		Description:        stripe.String(req.Description),
		Metadata:           metadata,
		ConfirmationMethod: stripe.String("manual"),
		Confirm:            stripe.Bool(true),
		PaymentMethodTypes: []*string{stripe.String("card")},
	}

	pi, err := s.client.PaymentIntents.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create payment intent: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}
	s.log.LogPayment("STRIPE", req.SessionID, fmt.Sprintf("Payment intent created: %s (%s)", pi.ID, pi.Status))

	result := &models.CardChargeResult{
		TransactionID: pi.ID,
		Status:        chargeStatus(pi.Status),
		Amount:        fromCents(pi.Amount),
		Currency:      string(pi.Currency),
		PaymentMethod: req.Token,
		Created:       pi.Created,
	}

	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		charge, err := s.client.Charges.Get(pi.LatestCharge.ID, nil)
		if err == nil && charge.ReceiptURL != "" {
			result.ReceiptURL = charge.ReceiptURL
		}
	}
	return result, nil
}

func chargeStatus(status stripe.PaymentIntentStatus) models.ChargeStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return models.ChargeSucceeded
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresAction:
		return models.ChargePending
	default:
		return models.ChargeFailed
	}
}

// Cancel voids the PaymentIntent behind transactionID so it can no longer capture.
func (s *StripeService) Cancel(ctx context.Context, transactionID string) error {
	s.log.LogPayment("CANCEL", transactionID, "Cancelling payment intent")

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	pi, err := s.client.PaymentIntents.Cancel(transactionID, params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Cancel failed: %v", err))
		return fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}

	s.log.LogPayment("CANCEL", transactionID, fmt.Sprintf("Payment intent now %s", pi.Status))
	return nil
}

// Refund returns amount of the charge behind transactionID to the card.
func (s *StripeService) Refund(ctx context.Context, transactionID string, amount float64) error {
	s.log.LogPayment("REFUND", transactionID, fmt.Sprintf("Refunding %.2f", amount))

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(transactionID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if amount > 0 {
		params.Amount = stripe.Int64(toCents(amount))
	}

	refund, err := s.client.Refunds.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Refund failed: %v", err))
		return fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}

	s.log.LogPayment("REFUND", transactionID, fmt.Sprintf("Refund successful, refund ID: %s", refund.ID))
	return nil
}
