package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/estimator"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/synth"
)

func newTestDetector(t *testing.T, eventBus domain.EventBus) *pipeline.Detector {
	t.Helper()

	dir := t.TempDir()

	gen := synth.NewGenerator(42)
	txs := gen.Dataset(300, 0)

	deriver := feature.NewDeriver(nil)
	rows, err := deriver.Fit(txs)
	if err != nil {
		t.Fatalf("fit deriver: %v", err)
	}

	ens := estimator.NewEnsemble(
		estimator.NewIsolationForest(estimator.IsolationConfig{TreeCount: 50, SampleSize: 128, Seed: 42}),
		estimator.NewLocalOutlierFactor(estimator.DensityConfig{Neighbors: 20}),
		0.6, 0.4,
	)
	if err := ens.Fit(rows); err != nil {
		t.Fatalf("fit ensemble: %v", err)
	}
	if err := pipeline.Save(dir, deriver.Vocabulary(), ens, nil); err != nil {
		t.Fatalf("save models: %v", err)
	}

	reg, err := pipeline.Load(domain.DetectionConfig{
		ModelDir:        dir,
		IsolationWeight: 0.6,
		DensityWeight:   0.4,
	})
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	return pipeline.NewDetector(reg, nil, nil, eventBus, nil, 0)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestWorkerScoresIngestedTransactions(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	detector := newTestDetector(t, eventBus)
	w := NewWorker(eventBus, detector)

	if err := w.Start(); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	defer w.Stop()

	// Count scored events emitted by the pipeline.
	var scored atomic.Int64
	_, err := eventBus.Subscribe(context.Background(), domain.TopicTransactionScored,
		func(ctx context.Context, msg *domain.Message) error {
			var rec domain.ScoreRecord
			if err := json.Unmarshal(msg.Payload, &rec); err != nil {
				t.Errorf("decode scored event: %v", err)
				return err
			}
			if rec.TransactionID == "TXN_ASYNC_001" {
				scored.Add(1)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe scored: %v", err)
	}

	req := domain.TransactionRequest{
		TransactionID:    "TXN_ASYNC_001",
		UserID:           "USER_0001",
		Amount:           55.0,
		MerchantCategory: "grocery",
		LocationCity:     "Mumbai",
		DeviceType:       "mobile",
		Timestamp:        "2025-02-01T12:00:00Z",
	}
	payload, _ := json.Marshal(req)

	if err := eventBus.Publish(context.Background(), domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return scored.Load() == 1 }) {
		t.Fatalf("scored events %d, want 1", scored.Load())
	}
}

func TestWorkerRejectsMalformedMessages(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	detector := newTestDetector(t, eventBus)
	w := NewWorker(eventBus, detector)

	if err := w.Start(); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	defer w.Stop()

	msg := &domain.Message{ID: "m1", Payload: []byte("{not json")}
	if err := w.handleMessage(context.Background(), msg); err == nil {
		t.Error("expected error for malformed payload")
	}

	// Missing identifiers are rejected before scoring.
	payload, _ := json.Marshal(domain.TransactionRequest{Amount: 10})
	msg = &domain.Message{ID: "m2", Payload: payload}
	if err := w.handleMessage(context.Background(), msg); err == nil {
		t.Error("expected error for missing identifiers")
	}
}

func TestWorkerLifecycle(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	detector := newTestDetector(t, eventBus)
	w := NewWorker(eventBus, detector)

	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 1 {
		t.Errorf("subscriptions %d, want 1", stats.SubscriptionCount)
	}
	if len(stats.Topics) != 1 || stats.Topics[0] != domain.TopicTransactionIngested {
		t.Errorf("topics %v, want [%s]", stats.Topics, domain.TopicTransactionIngested)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if w.GetStats().SubscriptionCount != 0 {
		t.Error("subscriptions not cleared after stop")
	}
}
