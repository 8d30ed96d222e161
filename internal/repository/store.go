// Package repository provides the SQL-backed alert store.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLStore implements domain.AlertStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates an alert store based on configuration.
func New(cfg domain.StoreConfig) (domain.AlertStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range Schemas(s.driver) {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// CreateAlert inserts a new alert and returns its assigned id.
func (s *SQLStore) CreateAlert(ctx context.Context, alert *domain.Alert) (int64, error) {
	if alert.TransactionID == "" {
		return 0, fmt.Errorf("%w: transaction id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO alerts (
			transaction_id, alert_type, severity, priority, score,
			status, resolution, investigation_notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if s.driver == "postgres" {
		var id int64
		err := s.db.QueryRowContext(ctx, s.rebind(query)+" RETURNING alert_id",
			alert.TransactionID, alert.AlertType, alert.Severity, alert.Priority,
			alert.Score, alert.Status, alert.Resolution, alert.Notes, alert.CreatedAt,
		).Scan(&id)
		return id, err
	}

	result, err := s.db.ExecContext(ctx, query,
		alert.TransactionID, alert.AlertType, alert.Severity, alert.Priority,
		alert.Score, alert.Status, alert.Resolution, alert.Notes, alert.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const alertColumns = `
	alert_id, transaction_id, alert_type, severity, priority, score,
	status, resolution, investigation_notes, created_at, resolved_at
`

func scanAlert(row interface{ Scan(...any) error }) (*domain.Alert, error) {
	var a domain.Alert
	var resolution, notes sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.TransactionID, &a.AlertType, &a.Severity, &a.Priority,
		&a.Score, &a.Status, &resolution, &notes, &a.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Resolution = resolution.String
	a.Notes = notes.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	return &a, nil
}

// GetAlert retrieves an alert by id.
func (s *SQLStore) GetAlert(ctx context.Context, alertID int64) (*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE alert_id = ?`

	alert, err := scanAlert(s.db.QueryRowContext(ctx, s.rebind(query), alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// OpenAlert returns the most recent open alert for a transaction.
func (s *SQLStore) OpenAlert(ctx context.Context, transactionID string) (*domain.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE transaction_id = ? AND status = 'OPEN'
		ORDER BY created_at DESC
		LIMIT 1
	`

	alert, err := scanAlert(s.db.QueryRowContext(ctx, s.rebind(query), transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// ListOpenAlerts returns open alerts, most urgent first, recent before
// old within the same priority.
func (s *SQLStore) ListOpenAlerts(ctx context.Context, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE status = 'OPEN'
		ORDER BY priority ASC, created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// UpdateAlertStatus transitions an alert to a new status. Terminal
// statuses stamp resolved_at; moving back to a non-terminal status is
// rejected by the transition table.
func (s *SQLStore) UpdateAlertStatus(ctx context.Context, alertID int64, status, resolution, notes string) error {
	current, err := s.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}

	if !domain.ValidTransition(current.Status, status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, status)
	}

	var resolvedAt any
	if domain.TerminalStatus(status) {
		resolvedAt = time.Now().UTC()
	}

	query := `
		UPDATE alerts
		SET status = ?, resolution = ?, investigation_notes = ?, resolved_at = ?
		WHERE alert_id = ?
	`

	_, err = s.db.ExecContext(ctx, s.rebind(query), status, resolution, notes, resolvedAt, alertID)
	return err
}

// AlertStatistics returns alert counts grouped by status and severity.
func (s *SQLStore) AlertStatistics(ctx context.Context) ([]domain.AlertStat, error) {
	query := `
		SELECT status, severity, COUNT(*)
		FROM alerts
		GROUP BY status, severity
		ORDER BY status, severity
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []domain.AlertStat
	for rows.Next() {
		var st domain.AlertStat
		if err := rows.Scan(&st.Status, &st.Severity, &st.Count); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// SaveScoreRecord stores the audit record for a scored transaction.
func (s *SQLStore) SaveScoreRecord(ctx context.Context, rec *domain.ScoreRecord) error {
	isAnomaly := 0
	if rec.IsAnomaly {
		isAnomaly = 1
	}

	query := `
		INSERT INTO score_records (
			id, transaction_id, user_id, amount,
			isolation_score, density_score, anomaly_score,
			risk_level, priority, is_anomaly, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		rec.ID, rec.TransactionID, rec.UserID, rec.Amount,
		rec.IsolationScore, rec.DensityScore, rec.AnomalyScore,
		rec.RiskLevel, rec.Priority, isAnomaly, rec.Timestamp,
	)
	return err
}

// GetScoreRecord retrieves the most recent score record for a
// transaction.
func (s *SQLStore) GetScoreRecord(ctx context.Context, transactionID string) (*domain.ScoreRecord, error) {
	query := `
		SELECT id, transaction_id, user_id, amount,
			   isolation_score, density_score, anomaly_score,
			   risk_level, priority, is_anomaly, timestamp
		FROM score_records
		WHERE transaction_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var rec domain.ScoreRecord
	var isAnomaly int

	err := s.db.QueryRowContext(ctx, s.rebind(query), transactionID).Scan(
		&rec.ID, &rec.TransactionID, &rec.UserID, &rec.Amount,
		&rec.IsolationScore, &rec.DensityScore, &rec.AnomalyScore,
		&rec.RiskLevel, &rec.Priority, &isAnomaly, &rec.Timestamp,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.IsAnomaly = isAnomaly == 1
	return &rec, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
