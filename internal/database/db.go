package database

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"

	"approvals/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the workflow tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.ApprovalRequest{},
		&model.AuditLog{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	slog.Debug("database schema migrated")
	return nil
}

// DSN assembles a postgres connection URL from its parts, escaping the
// credentials and database name.
func DSN(host, port, user, password, name, sslMode string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + name,
	}
	if sslMode != "" {
		u.RawQuery = url.Values{"sslmode": {sslMode}}.Encode()
	}
	return u.String()
}
