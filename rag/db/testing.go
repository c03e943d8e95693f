package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

// NewTestDB opens a migrated database in a per-test temp directory and closes it on cleanup.
func NewTestDB(tb testing.TB) *sql.DB {
	tb.Helper()

	conn, err := ConnectToDB(filepath.Join(tb.TempDir(), "test.db"), zerolog.New(zerolog.Nop()))
	if err != nil {
		tb.Fatalf("failed to open test database: %v", err)
	}
	tb.Cleanup(func() { conn.Close() })

	if _, err := Migrate(context.Background(), conn); err != nil {
		tb.Fatalf("failed to migrate test database: %v", err)
	}
	return conn
}
