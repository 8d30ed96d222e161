package domain

import (
	"time"
)

// Alert status values. An alert is never deleted; it moves through the
// lifecycle and keeps its full audit trail.
const (
	AlertOpen          = "OPEN"
	AlertInvestigating = "INVESTIGATING"
	AlertResolved      = "RESOLVED"
	AlertFalsePositive = "FALSE_POSITIVE"
)

// AlertTypeModelBased marks alerts raised by the scoring pipeline.
const AlertTypeModelBased = "MODEL_BASED"

// Alert is an investigation alert raised for a high-risk transaction.
type Alert struct {
	ID            int64      `json:"alertId"`
	TransactionID string     `json:"transactionId"`
	AlertType     string     `json:"alertType"`
	Severity      RiskLevel  `json:"severity"`
	Priority      int        `json:"priority"`
	Score         float64    `json:"score"`
	Status        string     `json:"status"`
	Resolution    string     `json:"resolution,omitempty"`
	Notes         string     `json:"investigationNotes,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
}

// AlertStat is one row of the grouped alert statistics.
type AlertStat struct {
	Status   string    `json:"status"`
	Severity RiskLevel `json:"severity"`
	Count    int64     `json:"count"`
}

// TerminalStatus reports whether a status ends the alert lifecycle.
func TerminalStatus(status string) bool {
	return status == AlertResolved || status == AlertFalsePositive
}

// ValidTransition reports whether an alert may move from one status to
// another. Terminal states are immutable; OPEN may jump straight to a
// terminal state without passing through INVESTIGATING.
func ValidTransition(from, to string) bool {
	switch from {
	case AlertOpen:
		return to == AlertInvestigating || to == AlertResolved || to == AlertFalsePositive
	case AlertInvestigating:
		return to == AlertResolved || to == AlertFalsePositive
	default:
		return false
	}
}
