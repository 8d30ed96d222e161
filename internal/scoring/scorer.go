// Package scoring maps fused anomaly scores to risk levels and the
// anomaly decision, optionally governed by a calibrated threshold.
package scoring

import "github.com/opensource-finance/kestrel/internal/domain"

// Tier boundaries for risk classification. The anomaly decision
// defaults to the MEDIUM boundary unless a calibrated threshold is
// loaded.
const (
	CriticalBoundary = 0.90
	HighBoundary     = 0.75
	MediumBoundary   = 0.50
	LowBoundary      = 0.25
)

// Classify maps a fused score in [0,1] to a risk level.
func Classify(score float64) domain.RiskLevel {
	switch {
	case score >= CriticalBoundary:
		return domain.RiskCritical
	case score >= HighBoundary:
		return domain.RiskHigh
	case score >= MediumBoundary:
		return domain.RiskMedium
	case score >= LowBoundary:
		return domain.RiskLow
	default:
		return domain.RiskNormal
	}
}

// Scorer carries the anomaly decision threshold. Tier boundaries stay
// fixed; only the binary is-anomaly cut moves with calibration.
type Scorer struct {
	threshold *Threshold
}

// NewScorer returns a scorer using the default MEDIUM boundary. Pass a
// calibrated threshold to govern the anomaly decision instead.
func NewScorer(t *Threshold) *Scorer {
	return &Scorer{threshold: t}
}

// Cut returns the active anomaly decision threshold.
func (s *Scorer) Cut() float64 {
	if s.threshold != nil {
		return s.threshold.Threshold
	}
	return MediumBoundary
}

// Threshold returns the loaded calibration record, or nil.
func (s *Scorer) Threshold() *Threshold { return s.threshold }

// IsAnomaly reports whether a fused score crosses the decision cut.
func (s *Scorer) IsAnomaly(score float64) bool {
	return score >= s.Cut()
}

// ShouldAlert reports whether a risk level warrants an alert. Only the
// two highest tiers raise alerts.
func ShouldAlert(level domain.RiskLevel) bool {
	return level == domain.RiskCritical || level == domain.RiskHigh
}
