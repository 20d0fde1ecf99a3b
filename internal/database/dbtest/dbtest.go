// Package dbtest opens throwaway databases for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"approvals/internal/database"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a migrated in-memory SQLite database private to t.
// A single connection is used so concurrent callers queue on it instead of
// hitting SQLITE_BUSY.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("dbtest.Open() failed: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("dbtest.Open() failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("dbtest.Open() migrate failed: %v", err)
	}
	return db
}
