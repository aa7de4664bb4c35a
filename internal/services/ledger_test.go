package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
	"pos-ledger/internal/storage"
)

const rid = "rest-1"

type recordingSink struct {
	mu     sync.Mutex
	events []*models.SessionEvent
}

func (r *recordingSink) Publish(event *models.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeGuard struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released int
}

func (g *fakeGuard) Acquire(ctx context.Context, sessionID, clientID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	key := sessionID + ":" + clientID
	if g.held[key] {
		return "", ErrSubmitInProgress
	}
	if g.held == nil {
		g.held = make(map[string]bool)
	}
	g.held[key] = true
	return "tok", nil
}

func (g *fakeGuard) Release(ctx context.Context, sessionID, clientID, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, sessionID+":"+clientID)
	g.released++
	return nil
}

func newLedger() (*LedgerService, *storage.InMemoryStore, *recordingSink) {
	store := storage.NewInMemoryStore()
	sink := &recordingSink{}
	return NewLedgerService(store, nil, sink, nil, "ledger-test", logger.NewNop()), store, sink
}

// openTab opens a session on tableID with one row of each given item.
func openTab(t *testing.T, svc *LedgerService, tableID string, items ...models.NewOrderItem) *models.Session {
	t.Helper()
	ctx := context.Background()

	s, err := svc.OpenSession(ctx, rid, &models.OpenSessionRequest{TableID: tableID, OpenedBy: "waiter"})
	require.NoError(t, err)
	if len(items) == 0 {
		return s
	}
	s, err = svc.AddItems(ctx, rid, s.ID, &models.AddItemsRequest{Items: items, AddedBy: "waiter"})
	require.NoError(t, err)
	return s
}

func pay(amount float64) *models.RecordPaymentRequest {
	return &models.RecordPaymentRequest{Amount: amount, Method: models.MethodCash, CreatedBy: "cashier"}
}

func TestOpenSessionOccupiesTable(t *testing.T) {
	svc, store, sink := newLedger()
	s := openTab(t, svc, "t1")

	assert.Equal(t, models.SessionActive, s.Status)
	assert.Equal(t, 0.0, s.Remaining())

	table, err := store.GetTable(context.Background(), rid, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TableOccupied, table.Status)
	require.NotNil(t, table.ActiveSessionID)
	assert.Equal(t, s.ID, *table.ActiveSessionID)
	assert.Equal(t, []string{models.EventSessionOpened}, sink.types())
	assert.Equal(t, "ledger-test", sink.events[0].Origin)
}

func TestOpenSessionRejectsOccupiedTable(t *testing.T) {
	svc, _, _ := newLedger()
	openTab(t, svc, "t1")

	_, err := svc.OpenSession(context.Background(), rid, &models.OpenSessionRequest{TableID: "t1", OpenedBy: "waiter"})
	assert.ErrorIs(t, err, ErrTableOccupied)
}

func TestOpenSessionTakesOverStaleTable(t *testing.T) {
	svc, store, _ := newLedger()
	stale := "gone"
	require.NoError(t, store.SaveTable(context.Background(), &models.Table{
		ID: "t1", RestaurantID: rid, Status: models.TableOccupied, ActiveSessionID: &stale,
	}))

	s := openTab(t, svc, "t1")

	table, _ := store.GetTable(context.Background(), rid, "t1")
	assert.Equal(t, s.ID, *table.ActiveSessionID)
}

func TestCounterSessionNeverTouchesTables(t *testing.T) {
	svc, store, _ := newLedger()
	s := openTab(t, svc, models.CounterTableID, models.NewOrderItem{ItemID: "coffee", Name: "Coffee", Quantity: 1, Price: 50})

	res, err := svc.RecordPayment(context.Background(), rid, s.ID, pay(s.Total))
	require.NoError(t, err)
	assert.Equal(t, models.SessionClosed, res.Session.Status)
	assert.False(t, res.TableReleased)

	_, err = store.GetTable(context.Background(), rid, models.CounterTableID)
	assert.ErrorIs(t, err, storage.ErrTableNotFound)
}

func TestAddItemsAppendsRowsAndReprices(t *testing.T) {
	svc, _, _ := newLedger()
	s := openTab(t, svc, "t1",
		models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 2, Price: 25},
		models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 25},
	)

	require.Len(t, s.Items, 2)
	assert.NotEqual(t, s.Items[0].RowID, s.Items[1].RowID)
	assert.Equal(t, 75.0, s.Subtotal)
	assert.Equal(t, 12.0, s.Tax)
	assert.Equal(t, 87.0, s.Total)
	assert.Equal(t, 87.0, s.Remaining())
}

func TestAddItemsValidation(t *testing.T) {
	svc, _, _ := newLedger()
	s := openTab(t, svc, "t1")
	ctx := context.Background()

	_, err := svc.AddItems(ctx, rid, s.ID, &models.AddItemsRequest{})
	assert.ErrorIs(t, err, ErrNoItems)

	_, err = svc.AddItems(ctx, rid, s.ID, &models.AddItemsRequest{Items: []models.NewOrderItem{{ItemID: "x", Quantity: 0}}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.AddItems(ctx, rid, "missing", &models.AddItemsRequest{Items: []models.NewOrderItem{{ItemID: "x", Quantity: 1}}})
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestRecordPaymentPartialKeepsTableOccupied(t *testing.T) {
	svc, store, _ := newLedger()
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "steak", Name: "Steak", Quantity: 1, Price: 100})

	res, err := svc.RecordPayment(context.Background(), rid, s.ID, pay(50))
	require.NoError(t, err)

	assert.Equal(t, models.SessionPartialPayment, res.Session.Status)
	assert.Equal(t, models.PaymentPartial, res.Session.PaymentStatus)
	assert.Equal(t, 50.0, res.Session.AmountPaid)
	assert.Equal(t, 66.0, res.Session.Remaining())
	assert.Nil(t, res.Session.EndTime)
	assert.False(t, res.TableReleased)

	table, _ := store.GetTable(context.Background(), rid, "t1")
	assert.Equal(t, models.TableOccupied, table.Status)
}

func TestRecordPaymentClosingReleasesTable(t *testing.T) {
	svc, store, sink := newLedger()
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "steak", Name: "Steak", Quantity: 1, Price: 100})
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, rid, s.ID, pay(16))
	require.NoError(t, err)
	res, err := svc.RecordPayment(ctx, rid, s.ID, &models.RecordPaymentRequest{Amount: 100, Method: models.MethodCard, CreatedBy: "cashier"})
	require.NoError(t, err)

	assert.Equal(t, models.SessionClosed, res.Session.Status)
	assert.Equal(t, models.PaymentPaid, res.Session.PaymentStatus)
	assert.Equal(t, 0.0, res.Session.Remaining())
	assert.NotNil(t, res.Session.EndTime)
	assert.True(t, res.TableReleased)
	assert.Equal(t, map[string]float64{"cash": 16, "card": 100}, res.Session.PaymentBreakdown)

	table, _ := store.GetTable(ctx, rid, "t1")
	assert.Equal(t, models.TableAvailable, table.Status)
	assert.Nil(t, table.ActiveSessionID)

	assert.Equal(t, models.EventSessionClosed, sink.types()[len(sink.types())-1])
	assert.True(t, sink.events[len(sink.events)-1].TableRelease)
}

func TestRecordPaymentClampsToRemaining(t *testing.T) {
	svc, store, _ := newLedger()
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "steak", Name: "Steak", Quantity: 1, Price: 100})
	ctx := context.Background()

	res, err := svc.RecordPayment(ctx, rid, s.ID, pay(s.Remaining()+50))
	require.NoError(t, err)

	assert.Equal(t, 116.0, res.Payment.Amount)
	assert.Equal(t, 0.0, res.Session.Remaining())
	assert.Equal(t, res.Session.Total, res.Session.AmountPaid)

	payments, _ := store.ListPayments(ctx, rid, s.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, 116.0, payments[0].Amount)
}

func TestRecordPaymentUsesDerivedRemainingForLegacySession(t *testing.T) {
	svc, store, _ := newLedger()
	legacy := &models.Session{
		ID: "legacy", RestaurantID: rid, TableID: models.CounterTableID,
		Total: 200, AmountPaid: 150, Status: models.SessionPartialPayment,
	}
	store.PutSession(legacy)

	res, err := svc.RecordPayment(context.Background(), rid, "legacy", pay(80))
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.Payment.Amount)
	assert.Equal(t, models.SessionClosed, res.Session.Status)
}

func TestTipNeverCountsTowardsBalance(t *testing.T) {
	svc, _, _ := newLedger()
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "steak", Name: "Steak", Quantity: 1, Price: 100})

	req := pay(10)
	req.Tip = 500
	res, err := svc.RecordPayment(context.Background(), rid, s.ID, req)
	require.NoError(t, err)

	assert.Equal(t, 10.0, res.Session.AmountPaid)
	assert.Equal(t, 106.0, res.Session.Remaining())
	assert.Equal(t, 500.0, res.Session.TipTotal)
	assert.Equal(t, 500.0, res.Payment.Tip)
	assert.Equal(t, 10.0, res.Session.PaymentBreakdown["cash"])
}

func TestRecordPaymentValidation(t *testing.T) {
	svc, _, _ := newLedger()
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "steak", Name: "Steak", Quantity: 1, Price: 100})
	ctx := context.Background()

	tests := []struct {
		name string
		req  *models.RecordPaymentRequest
		err  error
	}{
		{"zero amount", pay(0), ErrInvalidAmount},
		{"negative amount", pay(-5), ErrInvalidAmount},
		{"negative tip", &models.RecordPaymentRequest{Amount: 5, Tip: -1, Method: models.MethodCash}, ErrInvalidTip},
		{"bad method", &models.RecordPaymentRequest{Amount: 5, Method: "barter"}, ErrInvalidMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordPayment(ctx, rid, s.ID, tt.req)
			assert.ErrorIs(t, err, tt.err)
			assert.True(t, IsValidation(err))
		})
	}

	_, err := svc.RecordPayment(ctx, rid, "missing", pay(5))
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestPaymentsRejectedOnClosedAndCancelledSessions(t *testing.T) {
	svc, _, _ := newLedger()
	ctx := context.Background()

	closed := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "steak", Name: "Steak", Quantity: 1, Price: 100})
	_, err := svc.RecordPayment(ctx, rid, closed.ID, pay(closed.Total))
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, rid, closed.ID, pay(1))
	assert.ErrorIs(t, err, ErrSessionNotPayable)

	cancelled := openTab(t, svc, "t2", models.NewOrderItem{ItemID: "steak", Name: "Steak", Quantity: 1, Price: 100})
	_, err = svc.CancelSession(ctx, rid, cancelled.ID)
	require.NoError(t, err)
	_, err = svc.RecordItemPayment(ctx, rid, cancelled.ID, &models.RecordItemPaymentRequest{
		Items: []models.ItemPaymentLine{{ItemID: "steak", Quantity: 1, Price: 100}}, Method: models.MethodCash,
	})
	assert.ErrorIs(t, err, ErrSessionNotPayable)
}

func TestRecordPaymentSubCentAmountIsInvalid(t *testing.T) {
	svc, store, _ := newLedger()
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})

	_, err := svc.RecordPayment(context.Background(), rid, s.ID, pay(0.004))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.True(t, IsValidation(err))

	payments, _ := store.ListPayments(context.Background(), rid, s.ID)
	assert.Empty(t, payments)
}

func TestRecordPaymentOnZeroBalance(t *testing.T) {
	svc, _, _ := newLedger()
	s := openTab(t, svc, "t1")

	_, err := svc.RecordPayment(context.Background(), rid, s.ID, pay(10))
	assert.ErrorIs(t, err, ErrNothingOwed)
}

func TestConcurrentPaymentsNeverDoubleCredit(t *testing.T) {
	svc, store, _ := newLedger()
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 10, Price: 10})
	require.Equal(t, 116.0, s.Total)
	ctx := context.Background()

	// five tacos itemized at 10.00 plus five 13.20 cash payments settle 116.00 exactly

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = svc.RecordPayment(ctx, rid, s.ID, &models.RecordPaymentRequest{
					Amount: 13.2, Method: models.MethodCash, CreatedBy: fmt.Sprintf("device-%d", i),
				})
			} else {
				_, err = svc.RecordItemPayment(ctx, rid, s.ID, &models.RecordItemPaymentRequest{
					Items:     []models.ItemPaymentLine{{ItemID: "taco", Quantity: 1, Price: 10}},
					Method:    models.MethodCard,
					CreatedBy: fmt.Sprintf("device-%d", i),
				})
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	final, err := store.GetSession(ctx, rid, s.ID)
	require.NoError(t, err)
	assert.Equal(t, final.Total, final.AmountPaid)
	assert.Equal(t, 0.0, final.Remaining())
	assert.Equal(t, models.SessionClosed, final.Status)

	payments, _ := store.ListPayments(ctx, rid, s.ID)
	assert.Len(t, payments, n)
	amounts := make([]float64, 0, n)
	for _, p := range payments {
		amounts = append(amounts, p.Amount)
	}
	assert.Equal(t, final.AmountPaid, models.SumMoney(amounts...))
}

func TestItemPaymentFillsEarliestRowsFirst(t *testing.T) {
	svc, store, _ := newLedger()
	s := &models.Session{
		ID: "s-fill", RestaurantID: rid, TableID: "t9",
		Items: []models.OrderItem{
			{RowID: "A", ItemID: "taco", Quantity: 2, Price: 10, PaidQuantity: 1, PaymentIDs: []string{"pay_old"}},
			{RowID: "B", ItemID: "taco", Quantity: 1, Price: 10},
		},
		AmountPaid: 14.8,
		Status:     models.SessionPartialPayment,
	}
	s.Reprice()
	store.PutSession(s)

	res, err := svc.RecordItemPayment(context.Background(), rid, s.ID, &models.RecordItemPaymentRequest{
		Items:     []models.ItemPaymentLine{{ItemID: "taco", Quantity: 2, Price: 10}},
		Method:    models.MethodCash,
		CreatedBy: "guest",
	})
	require.NoError(t, err)

	rows := res.Session.Items
	assert.Equal(t, 2, rows[0].PaidQuantity)
	assert.Equal(t, 1, rows[1].PaidQuantity)
	assert.Equal(t, []string{"pay_old", res.Payment.PaymentID}, rows[0].PaymentIDs)
	assert.Equal(t, []string{res.Payment.PaymentID}, rows[1].PaymentIDs)

	require.Len(t, res.Payment.Items, 2)
	assert.Equal(t, "A", res.Payment.Items[0].RowID)
	assert.Equal(t, 1, res.Payment.Items[0].QuantityPaid)
	assert.Equal(t, "B", res.Payment.Items[1].RowID)
	assert.Equal(t, 20.0, res.Payment.Amount)
	assert.Equal(t, models.SessionClosed, res.Session.Status)
}

func TestItemPaymentRejectsOverRemaining(t *testing.T) {
	svc, store, _ := newLedger()
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 3, Price: 10})
	ctx := context.Background()
	_, err := svc.RecordPayment(ctx, rid, s.ID, pay(10))
	require.NoError(t, err)
	before, _ := store.GetSession(ctx, rid, s.ID)

	// remaining is 24.80; ask for 24.82
	_, err = svc.RecordItemPayment(ctx, rid, s.ID, &models.RecordItemPaymentRequest{
		Items:  []models.ItemPaymentLine{{ItemID: "taco", Quantity: 2, Price: 12.41}},
		Method: models.MethodCash,
	})

	var recErr *ReconciliationError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, 24.82, recErr.Amount)
	assert.Equal(t, 24.8, recErr.Remaining)
	assert.Contains(t, err.Error(), "24.82")
	assert.Contains(t, err.Error(), "24.80")

	after, _ := store.GetSession(ctx, rid, s.ID)
	assert.Equal(t, before.AmountPaid, after.AmountPaid)
	assert.Equal(t, 0, after.Items[0].PaidQuantity)
	payments, _ := store.ListPayments(ctx, rid, s.ID)
	assert.Len(t, payments, 1)
}

func TestItemPaymentWithinEpsilonIsAccepted(t *testing.T) {
	svc, _, _ := newLedger()
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})
	ctx := context.Background()

	// leaves 9.99 owed against a 10.00 taco
	_, err := svc.RecordPayment(ctx, rid, s.ID, pay(1.61))
	require.NoError(t, err)

	res, err := svc.RecordItemPayment(ctx, rid, s.ID, &models.RecordItemPaymentRequest{
		Items:  []models.ItemPaymentLine{{ItemID: "taco", Quantity: 1, Price: 10}},
		Method: models.MethodCash,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionClosed, res.Session.Status)
	assert.Equal(t, 0.0, res.Session.Remaining())
}

func TestPaidUnitsCannotBeChargedAgain(t *testing.T) {
	svc, store, _ := newLedger()
	s := openTab(t, svc, "t1",
		models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 2, Price: 10},
		models.NewOrderItem{ItemID: "beer", Name: "Beer", Quantity: 5, Price: 40},
	)
	ctx := context.Background()

	_, err := svc.RecordItemPayment(ctx, rid, s.ID, &models.RecordItemPaymentRequest{
		Items:  []models.ItemPaymentLine{{ItemID: "taco", Quantity: 2, Price: 10}},
		Method: models.MethodCash,
	})
	require.NoError(t, err)

	_, err = svc.RecordItemPayment(ctx, rid, s.ID, &models.RecordItemPaymentRequest{
		Items:  []models.ItemPaymentLine{{ItemID: "taco", Quantity: 1, Price: 10}},
		Method: models.MethodCash,
	})
	var recErr *ReconciliationError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, "taco", recErr.ItemID)
	assert.Equal(t, 0, recErr.Unpaid)

	after, _ := store.GetSession(ctx, rid, s.ID)
	assert.Equal(t, 2, after.Items[0].PaidQuantity)
	assert.Equal(t, 20.0, after.AmountPaid)
}

func TestItemPaymentValidation(t *testing.T) {
	svc, _, _ := newLedger()
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})
	ctx := context.Background()

	_, err := svc.RecordItemPayment(ctx, rid, s.ID, &models.RecordItemPaymentRequest{Method: models.MethodCash})
	assert.ErrorIs(t, err, ErrNoItems)

	_, err = svc.RecordItemPayment(ctx, rid, s.ID, &models.RecordItemPaymentRequest{
		Items: []models.ItemPaymentLine{{ItemID: "taco", Quantity: 0, Price: 10}}, Method: models.MethodCash,
	})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.RecordItemPayment(ctx, rid, s.ID, &models.RecordItemPaymentRequest{
		Items: []models.ItemPaymentLine{{ItemID: "taco", Quantity: 1, Price: 0}}, Method: models.MethodCash,
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRemoveItem(t *testing.T) {
	svc, _, _ := newLedger()
	s := openTab(t, svc, "t1",
		models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10},
		models.NewOrderItem{ItemID: "beer", Name: "Beer", Quantity: 1, Price: 40},
	)
	ctx := context.Background()

	s, err := svc.RemoveItem(ctx, rid, s.ID, 1)
	require.NoError(t, err)
	require.Len(t, s.Items, 1)
	assert.Equal(t, 11.6, s.Total)

	_, err = svc.RemoveItem(ctx, rid, s.ID, 5)
	assert.ErrorIs(t, err, models.ErrRowIndexOutOfRange)

	_, err = svc.RecordItemPayment(ctx, rid, s.ID, &models.RecordItemPaymentRequest{
		Items: []models.ItemPaymentLine{{ItemID: "taco", Quantity: 1, Price: 10}}, Method: models.MethodCash,
	})
	require.NoError(t, err)
	_, err = svc.RemoveItem(ctx, rid, s.ID, 0)
	assert.ErrorIs(t, err, ErrRowPartiallyPaid)
}

func TestRemovingLastUnpaidRowClosesSession(t *testing.T) {
	svc, store, _ := newLedger()
	s := openTab(t, svc, "t1",
		models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10},
		models.NewOrderItem{ItemID: "beer", Name: "Beer", Quantity: 1, Price: 40},
	)
	ctx := context.Background()
	_, err := svc.RecordItemPayment(ctx, rid, s.ID, &models.RecordItemPaymentRequest{
		Items: []models.ItemPaymentLine{{ItemID: "taco", Quantity: 1, Price: 10}}, Method: models.MethodCash,
	})
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, rid, s.ID, pay(1.6))
	require.NoError(t, err)

	s, err = svc.RemoveItem(ctx, rid, s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SessionClosed, s.Status)
	assert.NotNil(t, s.EndTime)

	table, _ := store.GetTable(ctx, rid, "t1")
	assert.Equal(t, models.TableAvailable, table.Status)
}

func TestRemoveItemCannotDropTotalBelowAmountPaid(t *testing.T) {
	svc, store, _ := newLedger()
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, rid, s.ID, pay(5))
	require.NoError(t, err)

	_, err = svc.RemoveItem(ctx, rid, s.ID, 0)
	assert.ErrorIs(t, err, ErrRemovalBelowPaid)

	after, _ := store.GetSession(ctx, rid, s.ID)
	require.Len(t, after.Items, 1)
	assert.Equal(t, 11.6, after.Total)
	assert.Equal(t, models.SessionPartialPayment, after.Status)

	// the tab can still be settled and frees its table
	res, err := svc.RecordPayment(ctx, rid, s.ID, pay(6.6))
	require.NoError(t, err)
	assert.Equal(t, models.SessionClosed, res.Session.Status)
	table, _ := store.GetTable(ctx, rid, "t1")
	assert.Equal(t, models.TableAvailable, table.Status)
}

func TestItemPaymentRejectsWrongUnitPrice(t *testing.T) {
	svc, store, _ := newLedger()
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "steak", Name: "Steak", Quantity: 1, Price: 100})
	ctx := context.Background()

	_, err := svc.RecordItemPayment(ctx, rid, s.ID, &models.RecordItemPaymentRequest{
		Items:  []models.ItemPaymentLine{{ItemID: "steak", Quantity: 1, Price: 0.01}},
		Method: models.MethodCash,
	})
	var recErr *ReconciliationError
	require.True(t, errors.As(err, &recErr))
	assert.True(t, recErr.PriceMismatch)
	assert.Equal(t, "steak", recErr.ItemID)
	assert.Contains(t, err.Error(), "0.01")

	after, _ := store.GetSession(ctx, rid, s.ID)
	assert.Equal(t, 0, after.Items[0].PaidQuantity)
	assert.Equal(t, 0.0, after.AmountPaid)
	payments, _ := store.ListPayments(ctx, rid, s.ID)
	assert.Empty(t, payments)
}

func TestItemPaymentMatchesRowsByUnitPrice(t *testing.T) {
	svc, _, _ := newLedger()
	s := openTab(t, svc, "t1",
		models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10},
		models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10, Modifiers: []models.Modifier{{Name: "cheese", Price: 5}}},
	)
	ctx := context.Background()

	res, err := svc.RecordItemPayment(ctx, rid, s.ID, &models.RecordItemPaymentRequest{
		Items:  []models.ItemPaymentLine{{ItemID: "taco", Quantity: 1, Price: 15}},
		Method: models.MethodCash,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Session.Items[0].PaidQuantity)
	assert.Equal(t, 1, res.Session.Items[1].PaidQuantity)

	// only the plain taco is left, so a second cheese taco has nowhere to go
	_, err = svc.RecordItemPayment(ctx, rid, s.ID, &models.RecordItemPaymentRequest{
		Items:  []models.ItemPaymentLine{{ItemID: "taco", Quantity: 1, Price: 15}},
		Method: models.MethodCash,
	})
	var recErr *ReconciliationError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, 1, recErr.Requested)
	assert.Equal(t, 0, recErr.Unpaid)
}

func TestCancelSession(t *testing.T) {
	svc, store, sink := newLedger()
	ctx := context.Background()

	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})
	cancelled, err := svc.CancelSession(ctx, rid, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.EndTime)
	table, _ := store.GetTable(ctx, rid, "t1")
	assert.Equal(t, models.TableAvailable, table.Status)
	assert.Contains(t, sink.types(), models.EventSessionCancelled)

	_, err = svc.CancelSession(ctx, rid, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotOpen)

	paid := openTab(t, svc, "t2", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})
	_, err = svc.RecordPayment(ctx, rid, paid.ID, pay(1))
	require.NoError(t, err)
	_, err = svc.CancelSession(ctx, rid, paid.ID)
	assert.ErrorIs(t, err, ErrSessionHasPayments)
}

func TestClosingLeavesReassignedTableAlone(t *testing.T) {
	svc, store, _ := newLedger()
	ctx := context.Background()
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})

	other := "someone-else"
	require.NoError(t, store.SaveTable(ctx, &models.Table{
		ID: "t1", RestaurantID: rid, Status: models.TableOccupied, ActiveSessionID: &other,
	}))

	res, err := svc.RecordPayment(ctx, rid, s.ID, pay(s.Total))
	require.NoError(t, err)
	assert.False(t, res.TableReleased)

	table, _ := store.GetTable(ctx, rid, "t1")
	assert.Equal(t, models.TableOccupied, table.Status)
	assert.Equal(t, other, *table.ActiveSessionID)
}

func TestSubmitGuard(t *testing.T) {
	store := storage.NewInMemoryStore()
	guard := &fakeGuard{}
	svc := NewLedgerService(store, nil, nil, guard, "ledger-test", logger.NewNop())
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})
	ctx := context.Background()

	guard.held = map[string]bool{s.ID + ":cashier": true}
	_, err := svc.RecordPayment(ctx, rid, s.ID, pay(1))
	assert.ErrorIs(t, err, ErrSubmitInProgress)

	guard.held = nil
	_, err = svc.RecordPayment(ctx, rid, s.ID, pay(1))
	require.NoError(t, err)
	assert.Equal(t, 1, guard.released)

	guard.err = errors.New("redis down")
	_, err = svc.RecordPayment(ctx, rid, s.ID, pay(1))
	assert.NoError(t, err)
}

type failingProducer struct{ calls int }

func (p *failingProducer) PublishSessionEvent(*models.SessionEvent) error {
	p.calls++
	return errors.New("broker unavailable")
}

func TestPublishFailureDoesNotFailPayment(t *testing.T) {
	producer := &failingProducer{}
	svc := NewLedgerService(storage.NewInMemoryStore(), producer, nil, nil, "ledger-test", logger.NewNop())
	s := openTab(t, svc, "t1", models.NewOrderItem{ItemID: "taco", Name: "Taco", Quantity: 1, Price: 10})

	_, err := svc.RecordPayment(context.Background(), rid, s.ID, pay(1))
	require.NoError(t, err)
	assert.Equal(t, 3, producer.calls)
}
