package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"pos-ledger/internal/config"
	"pos-ledger/internal/logger"
	"pos-ledger/internal/models"
)

const (
	errLockDeadlock    = 1213
	errLockWaitTimeout = 1205
)

type MySQLStore struct {
	db        *sql.DB
	log       *logger.Logger
	txRetries int
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewMySQLStore(cfg config.DatabaseConfig, log *logger.Logger) (*MySQLStore, error) {
	log.LogDatabase("CONNECT", "mysql", fmt.Sprintf("Connecting to MySQL at %s:%s", cfg.Host, cfg.Port))

	dsn := DSN(cfg)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Error("DATABASE", "Failed to open MySQL connection: "+err.Error())
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Error("DATABASE", "Failed to ping MySQL: "+err.Error())
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &MySQLStore{db: db, log: log, txRetries: cfg.TxRetries}
	if err := store.initTables(ctx); err != nil {
		log.Error("DATABASE", "Failed to initialize tables: "+err.Error())
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	log.LogDatabase("SUCCESS", "mysql", "MySQL connection established and tables initialized")
	return store, nil
}

func DSN(cfg config.DatabaseConfig) string {
	c := mysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = cfg.Host + ":" + cfg.Port
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

func (s *MySQLStore) initTables(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	s.log.LogDatabase("MIGRATE", "mysql", "sessions, session_payments and restaurant_tables ready")
	return nil
}

// Schema holds the DDL applied at startup and by cmd/migrate.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
        id VARCHAR(64) NOT NULL,
        restaurant_id VARCHAR(64) NOT NULL,
        table_id VARCHAR(64) NOT NULL,
        items JSON NOT NULL,
        subtotal DECIMAL(12,2) NOT NULL DEFAULT 0,
        tax DECIMAL(12,2) NOT NULL DEFAULT 0,
        total DECIMAL(12,2) NOT NULL DEFAULT 0,
        amount_paid DECIMAL(12,2) NOT NULL DEFAULT 0,
        remaining_amount DECIMAL(12,2) NULL,
        tip_total DECIMAL(12,2) NOT NULL DEFAULT 0,
        payment_breakdown JSON NULL,
        status VARCHAR(32) NOT NULL,
        payment_status VARCHAR(32) NOT NULL DEFAULT '',
        opened_by VARCHAR(128) NOT NULL DEFAULT '',
        created_at TIMESTAMP(3) NOT NULL,
        updated_at TIMESTAMP(3) NOT NULL,
        end_time TIMESTAMP(3) NULL,
        version BIGINT NOT NULL DEFAULT 0,
        PRIMARY KEY (restaurant_id, id),
        INDEX idx_sessions_status_end (restaurant_id, status, end_time)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS session_payments (
        payment_id VARCHAR(64) PRIMARY KEY,
        session_id VARCHAR(64) NOT NULL,
        restaurant_id VARCHAR(64) NOT NULL,
        amount DECIMAL(12,2) NOT NULL,
        tip DECIMAL(12,2) NOT NULL DEFAULT 0,
        method VARCHAR(32) NOT NULL,
        created_by VARCHAR(128) NOT NULL,
        items JSON NULL,
        external_ref VARCHAR(128) NOT NULL DEFAULT '',
        created_at TIMESTAMP(3) NOT NULL,
        INDEX idx_payments_session (restaurant_id, session_id, created_at)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS restaurant_tables (
        id VARCHAR(64) NOT NULL,
        restaurant_id VARCHAR(64) NOT NULL,
        name VARCHAR(128) NOT NULL DEFAULT '',
        status VARCHAR(32) NOT NULL,
        active_session_id VARCHAR(64) NULL,
        updated_at TIMESTAMP(3) NOT NULL,
        PRIMARY KEY (restaurant_id, id)
    ) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

// RunInTx retries fn when InnoDB reports a deadlock or lock wait timeout.
// Each attempt re-reads fresh state, so retries never apply a stale increment.
func (s *MySQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 0; attempt <= s.txRetries; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		s.log.Warn("DATABASE", fmt.Sprintf("Transaction conflict (attempt %d/%d): %v", attempt+1, s.txRetries+1, err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
	return ErrTxConflict
}

func (s *MySQLStore) runOnce(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(ctx, &mysqlTx{q: sqlTx, log: s.log}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == errLockDeadlock || mysqlErr.Number == errLockWaitTimeout
	}
	return false
}

func (s *MySQLStore) GetSession(ctx context.Context, restaurantID, sessionID string) (*models.Session, error) {
	s.log.LogDatabase("SELECT", "sessions", fmt.Sprintf("Fetching session %s", sessionID))
	return getSession(ctx, s.db, restaurantID, sessionID, false)
}

func (s *MySQLStore) ListPayments(ctx context.Context, restaurantID, sessionID string) ([]*models.Payment, error) {
	s.log.LogDatabase("SELECT", "session_payments", fmt.Sprintf("Listing payments for session %s", sessionID))

	rows, err := s.db.QueryContext(ctx, `
    SELECT payment_id, session_id, restaurant_id, amount, tip, method, created_by, items, external_ref, created_at
    FROM session_payments
    WHERE restaurant_id = ? AND session_id = ?
    ORDER BY created_at ASC
    `, restaurantID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p := &models.Payment{}
		var items sql.NullString
		if err := rows.Scan(&p.PaymentID, &p.SessionID, &p.RestaurantID, &p.Amount, &p.Tip, &p.Method,
			&p.CreatedBy, &items, &p.ExternalRef, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if items.Valid && items.String != "" {
			if err := json.Unmarshal([]byte(items.String), &p.Items); err != nil {
				return nil, fmt.Errorf("failed to decode payment items: %w", err)
			}
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return payments, nil
}

func (s *MySQLStore) ListClosedSessions(ctx context.Context, restaurantID string, from, to time.Time) ([]*models.Session, error) {
	s.log.LogDatabase("SELECT", "sessions", fmt.Sprintf("Listing closed sessions for %s between %s and %s",
		restaurantID, from.Format(time.RFC3339), to.Format(time.RFC3339)))

	rows, err := s.db.QueryContext(ctx, sessionColumns+`
    FROM sessions
    WHERE restaurant_id = ? AND status = ?
      AND COALESCE(end_time, updated_at) >= ? AND COALESCE(end_time, updated_at) < ?
    ORDER BY COALESCE(end_time, updated_at) ASC
    `, restaurantID, models.SessionClosed, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sessions, nil
}

func (s *MySQLStore) GetTable(ctx context.Context, restaurantID, tableID string) (*models.Table, error) {
	return getTable(ctx, s.db, restaurantID, tableID, false)
}

func (s *MySQLStore) SaveTable(ctx context.Context, table *models.Table) error {
	return saveTable(ctx, s.db, table)
}

func (s *MySQLStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *MySQLStore) Close() error {
	s.log.LogDatabase("CLOSE", "mysql", "Closing MySQL connection")
	return s.db.Close()
}

type mysqlTx struct {
	q   queryer
	log *logger.Logger
}

func (tx *mysqlTx) GetSession(ctx context.Context, restaurantID, sessionID string) (*models.Session, error) {
	tx.log.LogDatabase("LOCK", "sessions", fmt.Sprintf("SELECT ... FOR UPDATE session %s", sessionID))
	return getSession(ctx, tx.q, restaurantID, sessionID, true)
}

func (tx *mysqlTx) SaveSession(ctx context.Context, s *models.Session) error {
	items, err := json.Marshal(s.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}
	var breakdown any
	if s.PaymentBreakdown != nil {
		b, err := json.Marshal(s.PaymentBreakdown)
		if err != nil {
			return fmt.Errorf("failed to encode payment breakdown: %w", err)
		}
		breakdown = string(b)
	}
	var remaining any
	if s.RemainingAmount != nil {
		remaining = *s.RemainingAmount
	}
	var endTime any
	if s.EndTime != nil {
		endTime = *s.EndTime
	}

	_, err = tx.q.ExecContext(ctx, `
    INSERT INTO sessions (
        id, restaurant_id, table_id, items, subtotal, tax, total, amount_paid, remaining_amount,
        tip_total, payment_breakdown, status, payment_status, opened_by, created_at, updated_at, end_time, version
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
    ON DUPLICATE KEY UPDATE
        items = VALUES(items), subtotal = VALUES(subtotal), tax = VALUES(tax), total = VALUES(total),
        amount_paid = VALUES(amount_paid), remaining_amount = VALUES(remaining_amount),
        tip_total = VALUES(tip_total), payment_breakdown = VALUES(payment_breakdown),
        status = VALUES(status), payment_status = VALUES(payment_status),
        updated_at = VALUES(updated_at), end_time = VALUES(end_time), version = version + 1
    `,
		s.ID, s.RestaurantID, s.TableID, string(items), s.Subtotal, s.Tax, s.Total, s.AmountPaid, remaining,
		s.TipTotal, breakdown, s.Status, s.PaymentStatus, s.OpenedBy, s.CreatedAt, s.UpdatedAt, endTime,
	)
	if err != nil {
		tx.log.Error("DATABASE", fmt.Sprintf("Failed to save session %s: %v", s.ID, err))
		return fmt.Errorf("failed to save session: %w", err)
	}
	tx.log.LogDatabase("UPSERT", "sessions", fmt.Sprintf("Session %s saved (status %s)", s.ID, s.Status))
	return nil
}

func (tx *mysqlTx) AddPayment(ctx context.Context, p *models.Payment) error {
	var items any
	if len(p.Items) > 0 {
		b, err := json.Marshal(p.Items)
		if err != nil {
			return fmt.Errorf("failed to encode payment items: %w", err)
		}
		items = string(b)
	}

	_, err := tx.q.ExecContext(ctx, `
    INSERT INTO session_payments (
        payment_id, session_id, restaurant_id, amount, tip, method, created_by, items, external_ref, created_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, p.PaymentID, p.SessionID, p.RestaurantID, p.Amount, p.Tip, p.Method, p.CreatedBy, items, p.ExternalRef, p.CreatedAt)
	if err != nil {
		tx.log.Error("DATABASE", fmt.Sprintf("Failed to save payment %s: %v", p.PaymentID, err))
		return fmt.Errorf("failed to save payment: %w", err)
	}
	tx.log.LogDatabase("INSERT", "session_payments", fmt.Sprintf("Payment %s appended to session %s", p.PaymentID, p.SessionID))
	return nil
}

func (tx *mysqlTx) GetTable(ctx context.Context, restaurantID, tableID string) (*models.Table, error) {
	return getTable(ctx, tx.q, restaurantID, tableID, true)
}

func (tx *mysqlTx) SaveTable(ctx context.Context, table *models.Table) error {
	return saveTable(ctx, tx.q, table)
}

const sessionColumns = `
    SELECT id, restaurant_id, table_id, items, subtotal, tax, total, amount_paid, remaining_amount,
           tip_total, payment_breakdown, status, payment_status, opened_by, created_at, updated_at, end_time, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func getSession(ctx context.Context, q queryer, restaurantID, sessionID string, forUpdate bool) (*models.Session, error) {
	query := sessionColumns + ` FROM sessions WHERE restaurant_id = ? AND id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	session, err := scanSession(q.QueryRowContext(ctx, query, restaurantID, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

func scanSession(row rowScanner) (*models.Session, error) {
	s := &models.Session{}
	var (
		items     string
		remaining sql.NullFloat64
		breakdown sql.NullString
		endTime   sql.NullTime
	)
	err := row.Scan(&s.ID, &s.RestaurantID, &s.TableID, &items, &s.Subtotal, &s.Tax, &s.Total, &s.AmountPaid,
		&remaining, &s.TipTotal, &breakdown, &s.Status, &s.PaymentStatus, &s.OpenedBy, &s.CreatedAt,
		&s.UpdatedAt, &endTime, &s.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(items), &s.Items); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}
	if remaining.Valid {
		r := remaining.Float64
		s.RemainingAmount = &r
	}
	if breakdown.Valid && breakdown.String != "" {
		if err := json.Unmarshal([]byte(breakdown.String), &s.PaymentBreakdown); err != nil {
			return nil, fmt.Errorf("failed to decode payment breakdown: %w", err)
		}
	}
	if endTime.Valid {
		t := endTime.Time
		s.EndTime = &t
	}
	return s, nil
}

func getTable(ctx context.Context, q queryer, restaurantID, tableID string, forUpdate bool) (*models.Table, error) {
	query := `SELECT id, restaurant_id, name, status, active_session_id, updated_at
    FROM restaurant_tables WHERE restaurant_id = ? AND id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	t := &models.Table{}
	var active sql.NullString
	err := q.QueryRowContext(ctx, query, restaurantID, tableID).
		Scan(&t.ID, &t.RestaurantID, &t.Name, &t.Status, &active, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTableNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get table: %w", err)
	}
	if active.Valid {
		id := active.String
		t.ActiveSessionID = &id
	}
	return t, nil
}

func saveTable(ctx context.Context, q queryer, t *models.Table) error {
	var active any
	if t.ActiveSessionID != nil {
		active = *t.ActiveSessionID
	}
	_, err := q.ExecContext(ctx, `
    INSERT INTO restaurant_tables (id, restaurant_id, name, status, active_session_id, updated_at)
    VALUES (?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE
        name = VALUES(name), status = VALUES(status),
        active_session_id = VALUES(active_session_id), updated_at = VALUES(updated_at)
    `, t.ID, t.RestaurantID, t.Name, t.Status, active, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save table: %w", err)
	}
	return nil
}
