package storage

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"

	"pos-ledger/internal/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db",
		Port:     "3306",
		Username: "pos",
		Password: "secret",
		Database: "ledger",
	})

	assert.True(t, strings.HasPrefix(dsn, "pos:secret@tcp(db:3306)/ledger?"))
	assert.Contains(t, dsn, "parseTime=true")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&mysql.MySQLError{Number: errLockDeadlock}))
	assert.True(t, isRetryable(fmt.Errorf("failed to save session: %w", &mysql.MySQLError{Number: errLockWaitTimeout})))
	assert.False(t, isRetryable(&mysql.MySQLError{Number: 1062}))
	assert.False(t, isRetryable(errors.New("connection refused")))
}
