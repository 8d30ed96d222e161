// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"context"
	"time"
)

// AlertStore defines the persistence interface the alert lifecycle
// manager depends on. Each call runs in its own transaction; there is no
// cross-call transaction spanning multiple alerts.
type AlertStore interface {
	// CreateAlert inserts a new alert and returns its store-assigned id.
	CreateAlert(ctx context.Context, alert *Alert) (int64, error)

	// GetAlert retrieves an alert by id.
	GetAlert(ctx context.Context, alertID int64) (*Alert, error)

	// OpenAlert returns the open alert for a transaction, if any.
	// Used for optional open-alert deduplication.
	OpenAlert(ctx context.Context, transactionID string) (*Alert, error)

	// ListOpenAlerts returns open alerts ordered by priority ascending,
	// then recency descending.
	ListOpenAlerts(ctx context.Context, limit int) ([]*Alert, error)

	// UpdateAlertStatus transitions an alert and sets or clears the
	// resolution timestamp depending on the new status.
	UpdateAlertStatus(ctx context.Context, alertID int64, status, resolution, notes string) error

	// AlertStatistics returns alert counts grouped by (status, severity).
	AlertStatistics(ctx context.Context) ([]AlertStat, error)

	// Score record audit trail
	SaveScoreRecord(ctx context.Context, rec *ScoreRecord) error
	GetScoreRecord(ctx context.Context, transactionID string) (*ScoreRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoreConfig holds configuration for alert store initialization.
type StoreConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
