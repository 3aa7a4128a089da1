// Package sqlitetest in-memory SQLite для тестов других пакетов.
package sqlitetest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dreschagin/visual-regression/internal/infrastructure/persistence/sqlite"
)

// OpenMemory открывает in-memory базу, закрываемую по t.Cleanup.
// Одно соединение: каждое соединение к ":memory:" создает отдельную базу.
func OpenMemory(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), sqlite.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("sqlitetest.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
