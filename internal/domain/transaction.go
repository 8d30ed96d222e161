package domain

import (
	"time"
)

// Transaction represents an incoming transaction to be scored.
// Immutable once received; the outcome label is unknown at inference time.
type Transaction struct {
	// Core identifiers
	ID     string `json:"transactionId"`
	UserID string `json:"userId"`

	// Financial details
	Amount float64 `json:"amount"`

	// Categorical attributes
	MerchantCategory string `json:"merchantCategory"`
	LocationCity     string `json:"locationCity"`
	DeviceType       string `json:"deviceType"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`

	// Known outcome for training fixtures; always false at inference.
	IsFraud bool `json:"isFraud,omitempty"`
}

// TransactionRequest is the API request payload for anomaly detection.
type TransactionRequest struct {
	TransactionID    string  `json:"transactionId"`
	UserID           string  `json:"userId"`
	Amount           float64 `json:"amount"`
	MerchantCategory string  `json:"merchantCategory"`
	LocationCity     string  `json:"locationCity"`
	DeviceType       string  `json:"deviceType"`
	Timestamp        string  `json:"timestamp,omitempty"` // RFC 3339; defaults to now
}

// ToTransaction converts a request to a Transaction domain object.
// A missing or unparseable timestamp falls back to the current time.
func (r *TransactionRequest) ToTransaction() *Transaction {
	ts := time.Now().UTC()
	if r.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
			ts = parsed.UTC()
		}
	}
	return &Transaction{
		ID:               r.TransactionID,
		UserID:           r.UserID,
		Amount:           r.Amount,
		MerchantCategory: r.MerchantCategory,
		LocationCity:     r.LocationCity,
		DeviceType:       r.DeviceType,
		Timestamp:        ts,
	}
}
