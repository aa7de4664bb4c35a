package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
	"pos-ledger/internal/split"
	"pos-ledger/internal/storage"
)

type MockCardProcessor struct {
	mock.Mock
}

func (m *MockCardProcessor) Charge(ctx context.Context, req *models.CardChargeRequest) (*models.CardChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CardChargeResult), args.Error(1)
}

func (m *MockCardProcessor) Cancel(ctx context.Context, transactionID string) error {
	args := m.Called(ctx, transactionID)
	return args.Error(0)
}

func (m *MockCardProcessor) Refund(ctx context.Context, transactionID string, amount float64) error {
	args := m.Called(ctx, transactionID, amount)
	return args.Error(0)
}

func newCheckout(t *testing.T) (*CheckoutService, *LedgerService, *storage.InMemoryStore, *MockCardProcessor) {
	store := storage.NewInMemoryStore()
	ledger := NewLedgerService(store, nil, nil, nil, "ledger-test", logger.NewNop())
	processor := new(MockCardProcessor)
	return NewCheckoutService(ledger, processor, logger.NewNop()), ledger, store, processor
}

func succeeded(amount float64) *models.CardChargeResult {
	return &models.CardChargeResult{TransactionID: "pi_123", Status: models.ChargeSucceeded, Amount: amount, Currency: "mxn"}
}

func TestPayByCardFullWithTip(t *testing.T) {
	checkout, ledger, store, processor := newCheckout(t)
	s := openTab(t, ledger, "t1", models.NewOrderItem{ItemID: "steak", Name: "Steak", Quantity: 1, Price: 100})

	processor.On("Charge", mock.Anything, mock.MatchedBy(func(req *models.CardChargeRequest) bool {
		return req.Amount == 127.6 && req.Token == "pm_card_visa" && req.SessionID == s.ID
	})).Return(succeeded(127.6), nil)

	res, err := checkout.PayByCard(context.Background(), rid, s.ID, &CardPaymentRequest{
		Request:   split.Request{Mode: split.ModeFull, TipPercent: 10},
		Token:     "pm_card_visa",
		CreatedBy: "guest",
	})
	require.NoError(t, err)

	assert.Equal(t, 116.0, res.Payment.Amount)
	assert.Equal(t, 11.6, res.Payment.Tip)
	assert.Equal(t, models.MethodStripe, res.Payment.Method)
	assert.Equal(t, "pi_123", res.Payment.ExternalRef)
	assert.Equal(t, models.SessionClosed, res.Session.Status)
	assert.True(t, res.TableReleased)

	after, _ := store.GetSession(context.Background(), rid, s.ID)
	assert.Equal(t, 116.0, after.PaymentBreakdown["stripe"])
	processor.AssertExpectations(t)
	processor.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
}

func TestPayByCardItemsUsesItemizedRecorder(t *testing.T) {
	checkout, ledger, _, processor := newCheckout(t)
	s := openTab(t, ledger, "t1",
		models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 2, Price: 20},
		models.NewOrderItem{ItemID: "beer", Name: "Beer", Quantity: 1, Price: 40},
	)

	processor.On("Charge", mock.Anything, mock.Anything).Return(succeeded(40), nil)

	res, err := checkout.PayByCard(context.Background(), rid, s.ID, &CardPaymentRequest{
		Request:   split.Request{Mode: split.ModeItems, Selection: []split.UnitRef{{Row: 0, Unit: 0}, {Row: 0, Unit: 1}}},
		Token:     "pm_card_visa",
		CreatedBy: "guest",
	})
	require.NoError(t, err)

	assert.Equal(t, 40.0, res.Payment.Amount)
	require.Len(t, res.Payment.Items, 1)
	assert.Equal(t, 2, res.Payment.Items[0].QuantityPaid)
	assert.Equal(t, 2, res.Session.Items[0].PaidQuantity)
	assert.Equal(t, models.SessionPartialPayment, res.Session.Status)
}

func TestPayByCardQuoteRejectionSkipsCharge(t *testing.T) {
	checkout, ledger, _, processor := newCheckout(t)
	s := openTab(t, ledger, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})

	_, err := checkout.PayByCard(context.Background(), rid, s.ID, &CardPaymentRequest{
		Request:   split.Request{Mode: split.ModeCustom, CustomAmount: "500"},
		Token:     "pm_card_visa",
		CreatedBy: "guest",
	})
	assert.ErrorIs(t, err, split.ErrExceedsRemaining)
	processor.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}

func TestPayByCardDeclined(t *testing.T) {
	checkout, ledger, store, processor := newCheckout(t)
	s := openTab(t, ledger, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})

	processor.On("Charge", mock.Anything, mock.Anything).
		Return(&models.CardChargeResult{TransactionID: "pi_9", Status: models.ChargeFailed}, nil)
	processor.On("Cancel", mock.Anything, "pi_9").Return(nil)

	_, err := checkout.PayByCard(context.Background(), rid, s.ID, &CardPaymentRequest{
		Request: split.Request{Mode: split.ModeFull}, Token: "pm_declined", CreatedBy: "guest",
	})
	assert.ErrorIs(t, err, ErrChargeNotCompleted)

	after, _ := store.GetSession(context.Background(), rid, s.ID)
	assert.Equal(t, 0.0, after.AmountPaid)
	processor.AssertExpectations(t)
}

func TestPayByCardPendingChargeIsCancelled(t *testing.T) {
	checkout, ledger, store, processor := newCheckout(t)
	s := openTab(t, ledger, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})

	processor.On("Charge", mock.Anything, mock.Anything).
		Return(&models.CardChargeResult{TransactionID: "pi_pending", Status: models.ChargePending, Amount: 11.6}, nil)
	processor.On("Cancel", mock.Anything, "pi_pending").Return(errors.New("stripe unreachable"))

	_, err := checkout.PayByCard(context.Background(), rid, s.ID, &CardPaymentRequest{
		Request: split.Request{Mode: split.ModeFull}, Token: "pm_card_3ds", CreatedBy: "guest",
	})
	assert.ErrorIs(t, err, ErrChargeNotCompleted)

	after, _ := store.GetSession(context.Background(), rid, s.ID)
	assert.Equal(t, 0.0, after.AmountPaid)
	processor.AssertCalled(t, "Cancel", mock.Anything, "pi_pending")
	processor.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
}

func TestPayByCardProcessorError(t *testing.T) {
	checkout, ledger, _, processor := newCheckout(t)
	s := openTab(t, ledger, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})

	processor.On("Charge", mock.Anything, mock.Anything).Return(nil, ErrStripeAPIError)

	_, err := checkout.PayByCard(context.Background(), rid, s.ID, &CardPaymentRequest{
		Request: split.Request{Mode: split.ModeFull}, Token: "pm_card_visa", CreatedBy: "guest",
	})
	assert.ErrorIs(t, err, ErrStripeAPIError)
}

func TestPayByCardRefundsWhenRecordingFails(t *testing.T) {
	checkout, ledger, store, processor := newCheckout(t)
	s := openTab(t, ledger, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})
	ctx := context.Background()

	// Another device settles the tab between quote and record.
	processor.On("Charge", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		_, err := ledger.RecordPayment(ctx, rid, s.ID, pay(11.6))
		require.NoError(t, err)
	}).Return(succeeded(11.6), nil)
	processor.On("Refund", mock.Anything, "pi_123", 11.6).Return(nil)

	_, err := checkout.PayByCard(ctx, rid, s.ID, &CardPaymentRequest{
		Request: split.Request{Mode: split.ModeFull}, Token: "pm_card_visa", CreatedBy: "guest",
	})
	assert.ErrorIs(t, err, ErrSessionNotPayable)
	processor.AssertExpectations(t)

	payments, _ := store.ListPayments(ctx, rid, s.ID)
	assert.Len(t, payments, 1)
}

func TestPayByCardRefundsCappedExcess(t *testing.T) {
	checkout, ledger, _, processor := newCheckout(t)
	s := openTab(t, ledger, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})
	ctx := context.Background()

	processor.On("Charge", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		_, err := ledger.RecordPayment(ctx, rid, s.ID, pay(5))
		require.NoError(t, err)
	}).Return(succeeded(11.6), nil)
	processor.On("Refund", mock.Anything, "pi_123", 5.0).Return(nil)

	res, err := checkout.PayByCard(ctx, rid, s.ID, &CardPaymentRequest{
		Request: split.Request{Mode: split.ModeFull}, Token: "pm_card_visa", CreatedBy: "guest",
	})
	require.NoError(t, err)
	assert.Equal(t, 6.6, res.Payment.Amount)
	processor.AssertExpectations(t)
}

func TestToCents(t *testing.T) {
	assert.Equal(t, int64(11660), toCents(116.6))
	assert.Equal(t, int64(1), toCents(0.005))
	assert.Equal(t, 116.6, fromCents(11660))
	assert.False(t, errors.Is(ErrStripeAPIError, ErrStripeClientInitFailed))
}
