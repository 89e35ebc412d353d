package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var fastPolicy = RetryPolicy{
	MaxRetries:      2,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "pq unique", err: &pq.Error{Code: "23505"}, want: true},
		{name: "wrapped pq unique", err: fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), want: true},
		{name: "pq other", err: &pq.Error{Code: "23503"}, want: false},
		{name: "sqlite message", err: errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)"), want: true},
		{name: "postgres message", err: errors.New(`ERROR: duplicate key value violates unique constraint "users_email_key"`), want: true},
		{name: "unrelated", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "bad conn", err: driver.ErrBadConn, want: true},
		{name: "connection refused", err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED), want: true},
		{name: "net op error", err: &net.OpError{Op: "dial", Err: errors.New("refused")}, want: true},
		{name: "pq connection failure", err: &pq.Error{Code: "08006"}, want: true},
		{name: "pq admin shutdown", err: &pq.Error{Code: "57P01"}, want: true},
		{name: "pq serialization failure", err: &pq.Error{Code: "40001"}, want: true},
		{name: "pq unique violation", err: &pq.Error{Code: "23505"}, want: false},
		{name: "no rows", err: sql.ErrNoRows, want: false},
		{name: "plain", err: errors.New("syntax error"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := fastPolicy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &pq.Error{Code: "08006"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustedReportsUnavailable(t *testing.T) {
	t.Parallel()

	calls := 0
	err := fastPolicy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return driver.ErrBadConn
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, calls)
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0
	err := fastPolicy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, calls)
}

func TestRetry_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fastPolicy.Do(ctx, func(ctx context.Context) error {
		return driver.ErrBadConn
	})

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRetry_WithSQLMock(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM keystores`).WillReturnError(&pq.Error{Code: "57P01"})
	mock.ExpectExec(`DELETE FROM keystores`).WillReturnResult(sqlmock.NewResult(0, 1))

	err = fastPolicy.Do(context.Background(), func(ctx context.Context) error {
		_, err := db.ExecContext(ctx, "DELETE FROM keystores WHERE id = $1", "k1")
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_SQLite(t *testing.T) {
	t.Parallel()

	sqlDB, err := sql.Open(sqliteshim.ShimName, "file:migrate_test?mode=memory&cache=shared")
	require.NoError(t, err)
	defer sqlDB.Close()
	sqlDB.SetMaxOpenConns(1)

	ctx := context.Background()

	applied, err := Migrate(ctx, sqlDB, goose.DialectSQLite3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, applied)

	again, err := Migrate(ctx, sqlDB, goose.DialectSQLite3)
	require.NoError(t, err)
	assert.Empty(t, again)

	version, err := MigrationStatus(ctx, sqlDB, goose.DialectSQLite3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}
