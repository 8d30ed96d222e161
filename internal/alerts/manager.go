// Package alerts manages the alert lifecycle: raising alerts for
// high-risk transactions and moving them through investigation states.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Manager decides when a scored transaction becomes an alert and
// exposes the lifecycle operations to the API layer.
type Manager struct {
	store  domain.AlertStore
	bus    domain.EventBus
	filter *policy.Filter
	dedupe bool
	logger *slog.Logger
}

// NewManager creates an alert manager. The policy filter may be nil,
// meaning every candidate above the severity gate raises an alert.
func NewManager(store domain.AlertStore, bus domain.EventBus, filter *policy.Filter, dedupe bool) *Manager {
	return &Manager{
		store:  store,
		bus:    bus,
		filter: filter,
		dedupe: dedupe,
		logger: slog.Default().With("component", "alerts"),
	}
}

// Raise creates an alert for a scored transaction when the risk level
// warrants one. Returns nil when no alert is warranted or the policy
// suppresses it. A storage failure is logged and the alert is returned
// with a zero id: scoring must not fail because alerting did.
func (m *Manager) Raise(ctx context.Context, tx *domain.Transaction, rec *domain.ScoreRecord) *domain.Alert {
	if !scoring.ShouldAlert(rec.RiskLevel) {
		return nil
	}

	if m.filter != nil && !m.filter.Admit(tx, rec) {
		m.logger.Debug("alert suppressed by policy",
			"transaction_id", rec.TransactionID,
			"risk_level", rec.RiskLevel,
		)
		return nil
	}

	if m.dedupe {
		existing, err := m.store.OpenAlert(ctx, rec.TransactionID)
		if err == nil && existing != nil {
			m.logger.Debug("open alert already exists",
				"transaction_id", rec.TransactionID,
				"alert_id", existing.ID,
			)
			return existing
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			m.logger.Warn("open alert lookup failed",
				"transaction_id", rec.TransactionID,
				"error", err,
			)
		}
	}

	alert := &domain.Alert{
		TransactionID: rec.TransactionID,
		AlertType:     domain.AlertTypeModelBased,
		Severity:      rec.RiskLevel,
		Priority:      rec.Priority,
		Score:         rec.AnomalyScore,
		Status:        domain.AlertOpen,
		CreatedAt:     time.Now().UTC(),
	}

	id, err := m.store.CreateAlert(ctx, alert)
	if err != nil {
		m.logger.Error("failed to persist alert",
			"transaction_id", rec.TransactionID,
			"severity", rec.RiskLevel,
			"error", err,
		)
		return alert
	}
	alert.ID = id

	m.logger.Info("alert created",
		"alert_id", id,
		"transaction_id", rec.TransactionID,
		"severity", rec.RiskLevel,
		"priority", rec.Priority,
		"score", rec.AnomalyScore,
	)

	m.publish(ctx, alert)
	return alert
}

// publish emits the alert-created event, best effort.
func (m *Manager) publish(ctx context.Context, alert *domain.Alert) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, domain.TopicAlertCreated, payload); err != nil {
		m.logger.Warn("failed to publish alert event",
			"alert_id", alert.ID,
			"error", err,
		)
	}
}

// Get retrieves an alert by id.
func (m *Manager) Get(ctx context.Context, alertID int64) (*domain.Alert, error) {
	return m.store.GetAlert(ctx, alertID)
}

// ListOpen returns open alerts, most urgent first.
func (m *Manager) ListOpen(ctx context.Context, limit int) ([]*domain.Alert, error) {
	return m.store.ListOpenAlerts(ctx, limit)
}

// Update transitions an alert to a new status and returns the updated
// alert.
func (m *Manager) Update(ctx context.Context, alertID int64, status, resolution, notes string) (*domain.Alert, error) {
	if err := m.store.UpdateAlertStatus(ctx, alertID, status, resolution, notes); err != nil {
		return nil, err
	}

	m.logger.Info("alert updated",
		"alert_id", alertID,
		"status", status,
	)

	return m.store.GetAlert(ctx, alertID)
}

// Statistics returns alert counts grouped by status and severity.
func (m *Manager) Statistics(ctx context.Context) ([]domain.AlertStat, error) {
	return m.store.AlertStatistics(ctx)
}
