package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"pos-ledger/internal/models"
)

type docKey struct {
	restaurantID string
	id           string
}

// InMemoryStore keeps documents in maps. Transactions are serialized, so a
// read-modify-write inside RunInTx can never lose an update.
type InMemoryStore struct {
	mutex    sync.RWMutex
	txMutex  sync.Mutex
	sessions map[docKey]*models.Session
	payments map[docKey][]*models.Payment
	tables   map[docKey]*models.Table
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[docKey]*models.Session),
		payments: make(map[docKey][]*models.Payment),
		tables:   make(map[docKey]*models.Table),
	}
}

func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.txMutex.Lock()
	defer s.txMutex.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:    s,
		sessions: make(map[docKey]*models.Session),
		tables:   make(map[docKey]*models.Table),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	for k, session := range tx.sessions {
		session.Version++
		s.sessions[k] = session
	}
	for _, p := range tx.payments {
		k := docKey{p.RestaurantID, p.SessionID}
		s.payments[k] = append(s.payments[k], p)
	}
	for k, table := range tx.tables {
		s.tables[k] = table
	}
	return nil
}

func (s *InMemoryStore) GetSession(ctx context.Context, restaurantID, sessionID string) (*models.Session, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	session, ok := s.sessions[docKey{restaurantID, sessionID}]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *InMemoryStore) ListPayments(ctx context.Context, restaurantID, sessionID string) ([]*models.Payment, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	list := s.payments[docKey{restaurantID, sessionID}]
	out := make([]*models.Payment, 0, len(list))
	for _, p := range list {
		c := *p
		c.Items = append([]models.PaymentItem(nil), p.Items...)
		out = append(out, &c)
	}
	return out, nil
}

func (s *InMemoryStore) ListClosedSessions(ctx context.Context, restaurantID string, from, to time.Time) ([]*models.Session, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var out []*models.Session
	for k, session := range s.sessions {
		if k.restaurantID != restaurantID || session.Status != models.SessionClosed {
			continue
		}
		if inWindow(closedAt(session), from, to) {
			out = append(out, session.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return closedAt(out[i]).Before(closedAt(out[j])) })
	return out, nil
}

func (s *InMemoryStore) GetTable(ctx context.Context, restaurantID, tableID string) (*models.Table, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	table, ok := s.tables[docKey{restaurantID, tableID}]
	if !ok {
		return nil, ErrTableNotFound
	}
	return cloneTable(table), nil
}

func (s *InMemoryStore) SaveTable(ctx context.Context, table *models.Table) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SaveTable(ctx, table)
	})
}

// PutSession seeds a session outside a transaction, e.g. legacy fixtures.
func (s *InMemoryStore) PutSession(session *models.Session) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sessions[docKey{session.RestaurantID, session.ID}] = session.Clone()
}

func (s *InMemoryStore) HealthCheck(ctx context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }

type memoryTx struct {
	store    *InMemoryStore
	sessions map[docKey]*models.Session
	tables   map[docKey]*models.Table
	payments []*models.Payment
}

func (tx *memoryTx) GetSession(ctx context.Context, restaurantID, sessionID string) (*models.Session, error) {
	k := docKey{restaurantID, sessionID}
	if staged, ok := tx.sessions[k]; ok {
		return staged.Clone(), nil
	}
	return tx.store.GetSession(ctx, restaurantID, sessionID)
}

func (tx *memoryTx) SaveSession(ctx context.Context, session *models.Session) error {
	tx.sessions[docKey{session.RestaurantID, session.ID}] = session.Clone()
	return nil
}

func (tx *memoryTx) AddPayment(ctx context.Context, payment *models.Payment) error {
	c := *payment
	c.Items = append([]models.PaymentItem(nil), payment.Items...)
	tx.payments = append(tx.payments, &c)
	return nil
}

func (tx *memoryTx) GetTable(ctx context.Context, restaurantID, tableID string) (*models.Table, error) {
	k := docKey{restaurantID, tableID}
	if staged, ok := tx.tables[k]; ok {
		return cloneTable(staged), nil
	}
	return tx.store.GetTable(ctx, restaurantID, tableID)
}

func (tx *memoryTx) SaveTable(ctx context.Context, table *models.Table) error {
	tx.tables[docKey{table.RestaurantID, table.ID}] = cloneTable(table)
	return nil
}

func cloneTable(t *models.Table) *models.Table {
	c := *t
	if t.ActiveSessionID != nil {
		id := *t.ActiveSessionID
		c.ActiveSessionID = &id
	}
	return &c
}
