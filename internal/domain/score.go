package domain

import (
	"time"
)

// RiskLevel is the ordinal classification of an anomaly score.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
	RiskNormal   RiskLevel = "NORMAL"
)

// Priority returns the investigation priority for a risk level.
// Lower number means more urgent: CRITICAL=1 ... NORMAL=5.
func (r RiskLevel) Priority() int {
	switch r {
	case RiskCritical:
		return 1
	case RiskHigh:
		return 2
	case RiskMedium:
		return 3
	case RiskLow:
		return 4
	default:
		return 5
	}
}

// ScoreRecord is the complete scoring result for one transaction.
// Created once per scored transaction; never mutated.
type ScoreRecord struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	UserID        string    `json:"userId,omitempty"`
	Amount        float64   `json:"amount"`

	// Per-estimator scores, exposed for observability.
	IsolationScore float64 `json:"isolationScore"`
	DensityScore   float64 `json:"densityScore"`

	// Fused score in [0,1].
	AnomalyScore float64 `json:"anomalyScore"`

	RiskLevel RiskLevel `json:"riskLevel"`
	Priority  int       `json:"priority"`

	// IsAnomaly is the threshold-based flag (anomaly threshold on the
	// ensemble score). It is independent of the estimators' own
	// contamination-based predictions.
	IsAnomaly bool `json:"isAnomaly"`

	Timestamp time.Time `json:"timestamp"`
}

// BatchFailure reports a single record that could not be scored.
// Remaining records in the batch are unaffected.
type BatchFailure struct {
	TransactionID string `json:"transactionId"`
	Error         string `json:"error"`
}
