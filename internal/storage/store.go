package storage

import (
	"context"
	"errors"
	"time"

	"pos-ledger/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTableNotFound   = errors.New("table not found")
	ErrTxConflict      = errors.New("transaction conflict: retries exhausted")
)

// Tx is the unit of work handed to RunInTx. Documents read through a Tx stay
// locked against other transactions until it commits or aborts.
type Tx interface {
	GetSession(ctx context.Context, restaurantID, sessionID string) (*models.Session, error)
	SaveSession(ctx context.Context, session *models.Session) error
	AddPayment(ctx context.Context, payment *models.Payment) error
	GetTable(ctx context.Context, restaurantID, tableID string) (*models.Table, error)
	SaveTable(ctx context.Context, table *models.Table) error
}

type Store interface {
	// RunInTx runs fn atomically. Returning an error from fn discards every write.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetSession(ctx context.Context, restaurantID, sessionID string) (*models.Session, error)
	ListPayments(ctx context.Context, restaurantID, sessionID string) ([]*models.Payment, error)
	ListClosedSessions(ctx context.Context, restaurantID string, from, to time.Time) ([]*models.Session, error)

	GetTable(ctx context.Context, restaurantID, tableID string) (*models.Table, error)
	SaveTable(ctx context.Context, table *models.Table) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// closedAt is the instant a closed session counts towards a shift.
func closedAt(s *models.Session) time.Time {
	if s.EndTime != nil {
		return *s.EndTime
	}
	return s.UpdatedAt
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
