package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/cim-backend/pkg/config"
	"github.com/angelmondragon/cim-backend/pkg/logger"
)

type ledgerRow struct {
	ID   int
	Note string
}

func openSQLite(t *testing.T) (*gorm.DB, *Client) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:dbclient_"+uuid.NewString()+"?mode=memory&cache=shared"), GormConfig())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&ledgerRow{}))
	return conn, NewFromConn(conn)
}

func rowCount(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&ledgerRow{}).Count(&n).Error)
	return n
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	conn, client := openSQLite(t)

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return tx.Create(&ledgerRow{Note: "kept"}).Error
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, rowCount(t, conn))
}

func TestWithTxRollsBackAndReturnsCallbackError(t *testing.T) {
	conn, client := openSQLite(t)
	insufficient := errors.New("insufficient stock")

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&ledgerRow{Note: "discarded"}).Error)
		return insufficient
	})
	assert.Same(t, insufficient, err)
	assert.Zero(t, rowCount(t, conn))
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	conn, client := openSQLite(t)

	assert.PanicsWithValue(t, "mid-settlement", func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&ledgerRow{Note: "panicked"}).Error)
			panic("mid-settlement")
		})
	})
	assert.Zero(t, rowCount(t, conn))
}

func TestPingAndClose(t *testing.T) {
	_, client := openSQLite(t)
	require.NoError(t, client.Ping(context.Background()))
	require.NoError(t, client.Close())
	assert.Error(t, client.Ping(context.Background()))
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{}, nil)
	assert.ErrorContains(t, err, "DSN is required")
}

func TestQueryLoggerWritesOnlyFailedAndSlowStatements(t *testing.T) {
	var buf bytes.Buffer
	q := &queryLogger{
		logg: logger.New(logger.Options{ServiceName: "db-test", Output: &buf}),
		slow: 100 * time.Millisecond,
	}
	stmt := func() (string, int64) { return "UPDATE products SET available_weight = available_weight - 1", 1 }
	ctx := context.Background()

	q.Trace(ctx, time.Now(), stmt, nil)
	q.Trace(ctx, time.Now(), stmt, gorm.ErrRecordNotFound)
	assert.Zero(t, buf.Len())

	q.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	assert.Contains(t, buf.String(), "slow query")
	assert.Contains(t, buf.String(), "available_weight")

	buf.Reset()
	q.Trace(ctx, time.Now(), stmt, errors.New("deadlock detected"))
	assert.Contains(t, buf.String(), "query failed")
	assert.Contains(t, buf.String(), "deadlock detected")
}

func TestViolationHelpersFallBackToMessage(t *testing.T) {
	checkErr := errors.New("CHECK constraint failed: chk_products_available_weight")
	assert.True(t, IsCheckViolation(checkErr, ""))
	assert.True(t, IsCheckViolation(checkErr, "chk_products_available_weight"))
	assert.False(t, IsCheckViolation(checkErr, "other_constraint"))
	assert.False(t, IsForeignKeyViolation(checkErr, ""))
	assert.True(t, IsForeignKeyViolation(errors.New("FOREIGN KEY constraint failed"), ""))
	assert.False(t, IsCheckViolation(nil, ""))
}
