package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Detector runs the full scoring pipeline for transactions: feature
// derivation, ensemble scoring, risk classification, persistence and
// alerting.
type Detector struct {
	registry *Registry
	store    domain.AlertStore
	cache    domain.Cache
	bus      domain.EventBus
	alerts   *alerts.Manager
	scoreTTL time.Duration
	logger   *slog.Logger
}

// NewDetector wires the pipeline. Store, cache, bus and alert manager
// may each be nil for reduced deployments (the trainer scores without
// any of them).
func NewDetector(registry *Registry, store domain.AlertStore, cache domain.Cache, bus domain.EventBus, am *alerts.Manager, scoreTTL time.Duration) *Detector {
	if scoreTTL <= 0 {
		scoreTTL = time.Hour
	}
	return &Detector{
		registry: registry,
		store:    store,
		cache:    cache,
		bus:      bus,
		alerts:   am,
		scoreTTL: scoreTTL,
		logger:   slog.Default().With("component", "pipeline"),
	}
}

// Registry exposes the loaded model set.
func (d *Detector) Registry() *Registry { return d.registry }

// Result pairs a score record with the alert it raised, if any.
type Result struct {
	Record *domain.ScoreRecord `json:"record"`
	Alert  *domain.Alert       `json:"alert,omitempty"`
}

// Detect scores a single transaction. User-level aggregates degrade to
// single-transaction defaults since there is no batch context.
func (d *Detector) Detect(ctx context.Context, tx *domain.Transaction) (*Result, error) {
	results, failures := d.DetectBatch(ctx, []*domain.Transaction{tx})
	if len(failures) > 0 {
		return nil, fmt.Errorf("detect %s: %s", failures[0].TransactionID, failures[0].Error)
	}
	return results[0], nil
}

// DetectBatch scores a batch of transactions together, so per-user
// aggregates and velocity gaps see the whole batch. A failure on one
// record does not abort the rest.
func (d *Detector) DetectBatch(ctx context.Context, txs []*domain.Transaction) ([]*Result, []domain.BatchFailure) {
	if len(txs) == 0 {
		return nil, nil
	}

	rows, err := d.registry.Deriver.Derive(txs)
	if err != nil {
		failures := make([]domain.BatchFailure, len(txs))
		for i, tx := range txs {
			failures[i] = domain.BatchFailure{TransactionID: tx.ID, Error: err.Error()}
		}
		return nil, failures
	}

	var results []*Result
	var failures []domain.BatchFailure
	for i, tx := range txs {
		res, err := d.scoreOne(ctx, tx, rows[i])
		if err != nil {
			d.logger.Warn("failed to score transaction",
				"transaction_id", tx.ID,
				"error", err,
			)
			failures = append(failures, domain.BatchFailure{TransactionID: tx.ID, Error: err.Error()})
			continue
		}
		results = append(results, res)
	}
	return results, failures
}

// scoreOne evaluates one derived row end to end.
func (d *Detector) scoreOne(ctx context.Context, tx *domain.Transaction, row []float64) (*Result, error) {
	comp, err := d.registry.Ensemble.Evaluate(row)
	if err != nil {
		return nil, err
	}

	level := scoring.Classify(comp.Fused)
	rec := &domain.ScoreRecord{
		ID:             uuid.New().String(),
		TransactionID:  tx.ID,
		UserID:         tx.UserID,
		Amount:         tx.Amount,
		IsolationScore: comp.IsolationScore,
		DensityScore:   comp.DensityScore,
		AnomalyScore:   comp.Fused,
		RiskLevel:      level,
		Priority:       level.Priority(),
		IsAnomaly:      d.registry.Scorer.IsAnomaly(comp.Fused),
		Timestamp:      time.Now().UTC(),
	}

	d.persist(ctx, rec)
	d.publishScored(ctx, rec)

	res := &Result{Record: rec}
	if d.alerts != nil {
		res.Alert = d.alerts.Raise(ctx, tx, rec)
	}

	d.logger.Debug("transaction scored",
		"transaction_id", tx.ID,
		"score", rec.AnomalyScore,
		"risk_level", rec.RiskLevel,
		"is_anomaly", rec.IsAnomaly,
	)

	return res, nil
}

// persist writes the record to the store and cache, best effort.
// Scoring output is still returned to the caller when storage is down.
func (d *Detector) persist(ctx context.Context, rec *domain.ScoreRecord) {
	if d.store != nil {
		if err := d.store.SaveScoreRecord(ctx, rec); err != nil {
			d.logger.Error("failed to persist score record",
				"transaction_id", rec.TransactionID,
				"error", err,
			)
		}
	}
	if d.cache != nil {
		if err := d.cache.SetScore(ctx, rec, d.scoreTTL); err != nil {
			d.logger.Warn("failed to cache score record",
				"transaction_id", rec.TransactionID,
				"error", err,
			)
		}
	}
}

func (d *Detector) publishScored(ctx context.Context, rec *domain.ScoreRecord) {
	if d.bus == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := d.bus.Publish(ctx, domain.TopicTransactionScored, payload); err != nil {
		d.logger.Warn("failed to publish scored event",
			"transaction_id", rec.TransactionID,
			"error", err,
		)
	}
}

// GetScore returns the score record for a transaction, cache first.
func (d *Detector) GetScore(ctx context.Context, transactionID string) (*domain.ScoreRecord, error) {
	if d.cache != nil {
		rec, err := d.cache.GetScore(ctx, transactionID)
		if err == nil && rec != nil {
			return rec, nil
		}
	}

	if d.store == nil {
		return nil, domain.ErrNotFound
	}
	rec, err := d.store.GetScoreRecord(ctx, transactionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get score record: %w", err)
	}

	if d.cache != nil {
		_ = d.cache.SetScore(ctx, rec, d.scoreTTL)
	}
	return rec, nil
}
