package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
	"pos-ledger/internal/split"
	"pos-ledger/internal/storage"
	"pos-ledger/internal/utils"
)

// EventSink receives committed session events for local live subscribers.
type EventSink interface {
	Publish(event *models.SessionEvent)
}

// EventProducer forwards committed session events to other instances.
type EventProducer interface {
	PublishSessionEvent(event *models.SessionEvent) error
}

// SubmitGuard rejects a second in-flight submission from the same client.
type SubmitGuard interface {
	Acquire(ctx context.Context, sessionID, clientID string) (string, error)
	Release(ctx context.Context, sessionID, clientID, token string) error
}

type LedgerService struct {
	store      storage.Store
	producer   EventProducer
	hub        EventSink
	guard      SubmitGuard
	instanceID string
	log        *logger.Logger
	now        func() time.Time
}

// NewLedgerService wires the ledger. producer, hub and guard may be nil.
func NewLedgerService(store storage.Store, producer EventProducer, hub EventSink, guard SubmitGuard, instanceID string, log *logger.Logger) *LedgerService {
	return &LedgerService{
		store:      store,
		producer:   producer,
		hub:        hub,
		guard:      guard,
		instanceID: instanceID,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// PaymentResult is the committed outcome of a recorder call.
type PaymentResult struct {
	Payment       *models.Payment `json:"payment"`
	Session       *models.Session `json:"session"`
	TableReleased bool            `json:"table_released"`
}

func (s *LedgerService) GetSession(ctx context.Context, restaurantID, sessionID string) (*models.Session, error) {
	return s.store.GetSession(ctx, restaurantID, sessionID)
}

func (s *LedgerService) ListPayments(ctx context.Context, restaurantID, sessionID string) ([]*models.Payment, error) {
	if _, err := s.store.GetSession(ctx, restaurantID, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListPayments(ctx, restaurantID, sessionID)
}

// Quote runs the split calculator against the latest committed balance.
func (s *LedgerService) Quote(ctx context.Context, restaurantID, sessionID string, req split.Request) (split.Quote, error) {
	session, err := s.store.GetSession(ctx, restaurantID, sessionID)
	if err != nil {
		return split.Quote{}, err
	}
	return split.Calculate(session, req)
}

func (s *LedgerService) OpenSession(ctx context.Context, restaurantID string, req *models.OpenSessionRequest) (*models.Session, error) {
	now := s.now()
	session := &models.Session{
		ID:           utils.GenerateUUID(),
		RestaurantID: restaurantID,
		TableID:      req.TableID,
		Items:        []models.OrderItem{},
		OpenedBy:     req.OpenedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	session.Reprice()

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if session.HasPhysicalTable() {
			if err := s.occupyTable(ctx, tx, session, now); err != nil {
				return err
			}
		}
		return tx.SaveSession(ctx, session)
	})
	if err != nil {
		s.log.Error("LEDGER", fmt.Sprintf("Failed to open session on table %s: %v", req.TableID, err))
		return nil, err
	}

	s.log.LogProcess("SESSION", fmt.Sprintf("Opened session %s on table %s", session.ID, session.TableID))
	s.publish(models.EventSessionOpened, session, nil, false)
	return s.store.GetSession(ctx, restaurantID, session.ID)
}

func (s *LedgerService) occupyTable(ctx context.Context, tx storage.Tx, session *models.Session, now time.Time) error {
	table, err := tx.GetTable(ctx, session.RestaurantID, session.TableID)
	if errors.Is(err, storage.ErrTableNotFound) {
		table = &models.Table{ID: session.TableID, RestaurantID: session.RestaurantID, Name: session.TableID}
	} else if err != nil {
		return err
	}

	if table.Status == models.TableOccupied && table.ActiveSessionID != nil && *table.ActiveSessionID != session.ID {
		holder, err := tx.GetSession(ctx, session.RestaurantID, *table.ActiveSessionID)
		switch {
		case err == nil && holder.IsOpen():
			return ErrTableOccupied
		case err != nil && !errors.Is(err, storage.ErrSessionNotFound):
			return err
		}
		s.log.Warn("LEDGER", fmt.Sprintf("Table %s still referenced finished session %s, taking it over",
			table.ID, *table.ActiveSessionID))
	}

	id := session.ID
	table.Status = models.TableOccupied
	table.ActiveSessionID = &id
	table.UpdatedAt = now
	return tx.SaveTable(ctx, table)
}

// AddItems appends one new row per entry. Repeated products are never merged
// into existing rows.
func (s *LedgerService) AddItems(ctx context.Context, restaurantID, sessionID string, req *models.AddItemsRequest) (*models.Session, error) {
	if len(req.Items) == 0 {
		return nil, ErrNoItems
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if item.Price < 0 {
			return nil, ErrInvalidPrice
		}
	}

	var committed *models.Session
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		session, err := tx.GetSession(ctx, restaurantID, sessionID)
		if err != nil {
			return err
		}
		if !session.IsOpen() {
			return ErrSessionNotOpen
		}

		now := s.now()
		for _, item := range req.Items {
			session.Items = append(session.Items, models.OrderItem{
				RowID:     utils.GenerateUUID(),
				ItemID:    item.ItemID,
				Name:      item.Name,
				Quantity:  item.Quantity,
				Price:     item.Price,
				Modifiers: item.Modifiers,
				Notes:     item.Notes,
				AddedBy:   req.AddedBy,
				AddedAt:   now,
			})
		}
		session.Reprice()
		session.UpdatedAt = now

		committed = session
		return tx.SaveSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	s.log.LogProcess("SESSION", fmt.Sprintf("Added %d rows to session %s, total now %.2f", len(req.Items), sessionID, committed.Total))
	s.publish(models.EventItemsChanged, committed, nil, false)
	return committed, nil
}

// RemoveItem drops the row at rowIndex. Rows with any paid unit stay, and so
// does any row whose removal would leave the total below amount_paid.
func (s *LedgerService) RemoveItem(ctx context.Context, restaurantID, sessionID string, rowIndex int) (*models.Session, error) {
	var (
		committed *models.Session
		released  bool
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		session, err := tx.GetSession(ctx, restaurantID, sessionID)
		if err != nil {
			return err
		}
		if !session.IsOpen() {
			return ErrSessionNotOpen
		}
		if rowIndex >= 0 && rowIndex < len(session.Items) && session.Items[rowIndex].PaidQuantity > 0 {
			return ErrRowPartiallyPaid
		}

		rows, _, err := models.RemoveRow(session.Items, rowIndex)
		if err != nil {
			return err
		}
		session.Items = rows
		session.Reprice()
		if session.Total < models.SumMoney(session.AmountPaid, -models.MoneyEpsilon) {
			return ErrRemovalBelowPaid
		}

		now := s.now()
		session.UpdatedAt = now
		if session.Status == models.SessionClosed {
			// Removing the last unpaid row can settle the bill.
			session.EndTime = &now
			if released, err = s.releaseTable(ctx, tx, session, now); err != nil {
				return err
			}
		}

		committed = session
		return tx.SaveSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	s.log.LogProcess("SESSION", fmt.Sprintf("Removed row %d from session %s", rowIndex, sessionID))
	eventType := models.EventItemsChanged
	if committed.Status == models.SessionClosed {
		eventType = models.EventSessionClosed
	}
	s.publish(eventType, committed, nil, released)
	return committed, nil
}

func (s *LedgerService) CancelSession(ctx context.Context, restaurantID, sessionID string) (*models.Session, error) {
	var (
		committed *models.Session
		released  bool
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		session, err := tx.GetSession(ctx, restaurantID, sessionID)
		if err != nil {
			return err
		}
		if !session.IsOpen() {
			return ErrSessionNotOpen
		}
		if session.AmountPaid > 0 || hasPaidRows(session.Items) {
			return ErrSessionHasPayments
		}

		now := s.now()
		session.Status = models.SessionCancelled
		session.UpdatedAt = now
		session.EndTime = &now
		if released, err = s.releaseTable(ctx, tx, session, now); err != nil {
			return err
		}

		committed = session
		return tx.SaveSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	s.log.LogProcess("SESSION", fmt.Sprintf("Cancelled session %s", sessionID))
	s.publish(models.EventSessionCancelled, committed, nil, released)
	return committed, nil
}

// RecordPayment appends an amount-based payment. An amount above the live
// remaining balance is capped to it; the tip is stored as given.
func (s *LedgerService) RecordPayment(ctx context.Context, restaurantID, sessionID string, req *models.RecordPaymentRequest) (*PaymentResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Tip < 0 {
		return nil, ErrInvalidTip
	}
	if !req.Method.Valid() {
		return nil, ErrInvalidMethod
	}

	release, err := s.acquire(ctx, sessionID, req.CreatedBy)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &PaymentResult{}
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		session, err := tx.GetSession(ctx, restaurantID, sessionID)
		if err != nil {
			return err
		}
		if !session.IsOpen() {
			return ErrSessionNotPayable
		}

		actual := models.RoundMoney(req.Amount)
		if actual <= 0 {
			return ErrInvalidAmount
		}
		remaining := session.Remaining()
		if actual > remaining {
			s.log.LogPayment("CLAMP", sessionID, fmt.Sprintf("Requested %.2f exceeds remaining %.2f, capping", req.Amount, remaining))
			actual = remaining
		}
		if actual <= 0 {
			return ErrNothingOwed
		}

		now := s.now()
		payment := &models.Payment{
			PaymentID:    utils.GenerateID("pay"),
			SessionID:    sessionID,
			RestaurantID: restaurantID,
			Amount:       actual,
			Tip:          models.RoundMoney(req.Tip),
			Method:       req.Method,
			CreatedBy:    req.CreatedBy,
			ExternalRef:  req.ExternalRef,
			CreatedAt:    now,
		}
		return s.commitPayment(ctx, tx, session, payment, result)
	})
	if err != nil {
		s.log.Error("PAYMENT", fmt.Sprintf("Payment on session %s failed: %v", sessionID, err))
		return nil, err
	}

	s.afterPayment(result)
	return result, nil
}

// RecordItemPayment settles specific units. Unlike RecordPayment it never
// caps: a request larger than the remaining balance, for more units than are
// unpaid, or at a price no unpaid unit carries, is rejected with a
// ReconciliationError.
func (s *LedgerService) RecordItemPayment(ctx context.Context, restaurantID, sessionID string, req *models.RecordItemPaymentRequest) (*PaymentResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrNoItems
	}
	if req.Tip < 0 {
		return nil, ErrInvalidTip
	}
	if !req.Method.Valid() {
		return nil, ErrInvalidMethod
	}

	lineTotals := make([]float64, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if line.Price < 0 {
			return nil, ErrInvalidPrice
		}
		lineTotals = append(lineTotals, models.MulMoney(line.Price, line.Quantity))
	}
	itemsTotal := models.SumMoney(lineTotals...)
	if itemsTotal <= 0 {
		return nil, ErrInvalidAmount
	}

	release, err := s.acquire(ctx, sessionID, req.CreatedBy)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &PaymentResult{}
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		session, err := tx.GetSession(ctx, restaurantID, sessionID)
		if err != nil {
			return err
		}
		if !session.IsOpen() {
			return ErrSessionNotPayable
		}

		remaining := session.Remaining()
		if itemsTotal > models.SumMoney(remaining, models.MoneyEpsilon) {
			return &ReconciliationError{Amount: itemsTotal, Remaining: remaining}
		}

		order, requested := requestedByItem(req.Items)
		unpaid := unpaidByItem(session.Items)
		for _, itemID := range order {
			if requested[itemID] > unpaid[itemID] {
				return &ReconciliationError{
					Amount:    itemsTotal,
					Remaining: remaining,
					ItemID:    itemID,
					Requested: requested[itemID],
					Unpaid:    unpaid[itemID],
				}
			}
		}

		now := s.now()
		payment := &models.Payment{
			PaymentID:    utils.GenerateID("pay"),
			SessionID:    sessionID,
			RestaurantID: restaurantID,
			Amount:       itemsTotal,
			Tip:          models.RoundMoney(req.Tip),
			Method:       req.Method,
			CreatedBy:    req.CreatedBy,
			ExternalRef:  req.ExternalRef,
			CreatedAt:    now,
		}

		for _, line := range req.Items {
			if !carriesPrice(session.Items, line) {
				return &ReconciliationError{
					Amount:        itemsTotal,
					Remaining:     remaining,
					ItemID:        line.ItemID,
					PriceMismatch: true,
					Price:         line.Price,
				}
			}
		}

		allocated, leftover := AllocateUnits(session.Items, req.Items, payment.PaymentID)
		for _, itemID := range order {
			if leftover[itemID] > 0 {
				// Enough units overall, but not enough at the requested prices.
				return &ReconciliationError{
					Amount:    itemsTotal,
					Remaining: remaining,
					ItemID:    itemID,
					Requested: requested[itemID],
					Unpaid:    requested[itemID] - leftover[itemID],
				}
			}
		}
		payment.Items = allocated

		return s.commitPayment(ctx, tx, session, payment, result)
	})
	if err != nil {
		var recErr *ReconciliationError
		if errors.As(err, &recErr) {
			s.log.LogPayment("REJECT", sessionID, recErr.Error())
		} else {
			s.log.Error("PAYMENT", fmt.Sprintf("Itemized payment on session %s failed: %v", sessionID, err))
		}
		return nil, err
	}

	s.afterPayment(result)
	return result, nil
}

// commitPayment applies payment to session inside tx and fills result.
func (s *LedgerService) commitPayment(ctx context.Context, tx storage.Tx, session *models.Session, payment *models.Payment, result *PaymentResult) error {
	now := payment.CreatedAt

	session.AmountPaid = models.SumMoney(session.AmountPaid, payment.Amount)
	remaining := models.ClampRemaining(session.Total, session.AmountPaid)
	session.RemainingAmount = &remaining
	session.Status, session.PaymentStatus = models.DeriveStatus(session.AmountPaid, session.Total)
	session.TipTotal = models.SumMoney(session.TipTotal, payment.Tip)
	if session.PaymentBreakdown == nil {
		session.PaymentBreakdown = make(map[string]float64)
	}
	method := string(payment.Method)
	session.PaymentBreakdown[method] = models.SumMoney(session.PaymentBreakdown[method], payment.Amount)
	session.UpdatedAt = now

	released := false
	if session.Status == models.SessionClosed {
		session.EndTime = &now
		if remaining <= models.MoneyEpsilon {
			var err error
			if released, err = s.releaseTable(ctx, tx, session, now); err != nil {
				return err
			}
		}
	}

	if err := tx.AddPayment(ctx, payment); err != nil {
		return err
	}
	if err := tx.SaveSession(ctx, session); err != nil {
		return err
	}

	result.Payment = payment
	result.Session = session
	result.TableReleased = released
	return nil
}

// releaseTable frees the session's table when it still points at this session.
// Counter sessions hold no table and are skipped.
func (s *LedgerService) releaseTable(ctx context.Context, tx storage.Tx, session *models.Session, now time.Time) (bool, error) {
	if !session.HasPhysicalTable() {
		return false, nil
	}

	table, err := tx.GetTable(ctx, session.RestaurantID, session.TableID)
	if errors.Is(err, storage.ErrTableNotFound) {
		s.log.Warn("LEDGER", fmt.Sprintf("Table %s for session %s not found, nothing to release", session.TableID, session.ID))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if table.ActiveSessionID != nil && *table.ActiveSessionID != session.ID {
		s.log.Warn("LEDGER", fmt.Sprintf("Table %s now belongs to session %s, leaving it occupied", table.ID, *table.ActiveSessionID))
		return false, nil
	}

	table.Status = models.TableAvailable
	table.ActiveSessionID = nil
	table.UpdatedAt = now
	if err := tx.SaveTable(ctx, table); err != nil {
		return false, err
	}
	return true, nil
}

func (s *LedgerService) afterPayment(result *PaymentResult) {
	p := result.Payment
	s.log.LogPayment("RECORDED", p.PaymentID, fmt.Sprintf("Session %s: %.2f via %s (tip %.2f), remaining %.2f",
		p.SessionID, p.Amount, p.Method, p.Tip, result.Session.Remaining()))

	eventType := models.EventPaymentRecorded
	if result.Session.Status == models.SessionClosed {
		eventType = models.EventSessionClosed
		s.log.LogPayment("CLOSED", result.Session.ID, fmt.Sprintf("Session settled, table released: %t", result.TableReleased))
	}
	s.publish(eventType, result.Session, p, result.TableReleased)
}

// acquire takes the submit guard for clientID. A guard outage is logged and
// ignored; the transaction alone keeps the ledger consistent.
func (s *LedgerService) acquire(ctx context.Context, sessionID, clientID string) (func(), error) {
	if s.guard == nil || clientID == "" {
		return func() {}, nil
	}

	token, err := s.guard.Acquire(ctx, sessionID, clientID)
	if errors.Is(err, ErrSubmitInProgress) {
		s.log.LogSecurity("DUPLICATE_SUBMIT", fmt.Sprintf("client %s on session %s", clientID, sessionID))
		return nil, err
	}
	if err != nil {
		s.log.Warn("LEDGER", fmt.Sprintf("Submit guard unavailable: %v", err))
		return func() {}, nil
	}

	return func() {
		if err := s.guard.Release(context.Background(), sessionID, clientID, token); err != nil {
			s.log.Warn("LEDGER", fmt.Sprintf("Failed to release submit guard for %s: %v", sessionID, err))
		}
	}, nil
}

func (s *LedgerService) publish(eventType string, session *models.Session, payment *models.Payment, released bool) {
	event := &models.SessionEvent{
		Type:         eventType,
		Origin:       s.instanceID,
		SessionID:    session.ID,
		RestaurantID: session.RestaurantID,
		Session:      session.Clone(),
		Payment:      payment,
		TableRelease: released,
		Timestamp:    s.now(),
	}

	if s.hub != nil {
		s.hub.Publish(event)
	}
	if s.producer != nil {
		if err := s.producer.PublishSessionEvent(event); err != nil {
			s.log.Warn("KAFKA", fmt.Sprintf("Failed to publish %s for session %s: %v", eventType, session.ID, err))
		}
	}
}

func hasPaidRows(rows []models.OrderItem) bool {
	for _, row := range rows {
		if row.PaidQuantity > 0 {
			return true
		}
	}
	return false
}
