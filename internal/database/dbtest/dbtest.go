// Package dbtest opens migrated in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/redmonkez12/go-keystore-auth/internal/database"
)

// New returns a bun.DB over a private in-memory SQLite database with the
// production schema applied. The database is closed when the test ends.
func New(tb testing.TB) *bun.DB {
	tb.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString())

	sqlDB, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if _, err := database.Migrate(context.Background(), sqlDB, goose.DialectSQLite3); err != nil {
		sqlDB.Close()
		tb.Fatalf("migrate sqlite: %v", err)
	}

	db := bun.NewDB(sqlDB, sqlitedialect.New())
	tb.Cleanup(func() {
		db.Close()
	})

	return db
}
