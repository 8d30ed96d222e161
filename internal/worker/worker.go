// Package worker provides async transaction scoring from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Worker consumes ingested transactions from the EventBus and runs
// them through the detection pipeline. Scored and alert events are
// published by the pipeline itself.
type Worker struct {
	bus      domain.EventBus
	detector *pipeline.Detector

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *slog.Logger
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, detector *pipeline.Detector) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		detector: detector,
		ctx:      ctx,
		cancel:   cancel,
		logger:   slog.Default().With("component", "worker"),
	}
}

// Start subscribes to the transaction ingestion topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

// handleMessage scores one ingested transaction.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.TransactionRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.logger.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if req.TransactionID == "" || req.UserID == "" {
		w.logger.Error("transaction message missing identifiers",
			"message_id", msg.ID,
		)
		return domain.ErrInvalidInput
	}

	result, err := w.detector.Detect(ctx, req.ToTransaction())
	if err != nil {
		w.logger.Error("async scoring failed",
			"transaction_id", req.TransactionID,
			"error", err,
		)
		return err
	}

	w.logger.Info("transaction scored",
		"transaction_id", result.Record.TransactionID,
		"risk_level", result.Record.RiskLevel,
		"score", result.Record.AnomalyScore,
		"alerted", result.Alert != nil,
	)
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
