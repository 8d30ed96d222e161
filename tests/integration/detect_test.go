//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel anomaly
// detection engine.
//
// These tests verify the COMPLETE scoring pipeline:
//
//	Transaction → Features → Ensemble → Risk Level → Alert
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. TRANSACTION: A payment with user, amount, merchant category, city,
//    device type and timestamp.
//
// 2. FEATURES: 18 numeric features derived per transaction, including
//    amount transforms, time-of-day flags, per-user aggregates and
//    vocabulary codes for the categorical attributes.
//
// 3. ENSEMBLE: Two unsupervised estimators fused with a 0.6/0.4 weighting:
//    - Isolation forest (partition depth)
//    - Local outlier factor (neighborhood density)
//
// 4. RISK LEVEL: The fused score maps to a tier:
//    - ≥ 0.90 CRITICAL, ≥ 0.75 HIGH, ≥ 0.50 MEDIUM, ≥ 0.25 LOW, else NORMAL
//
// 5. ALERT: CRITICAL and HIGH transactions raise an OPEN alert that moves
//    through INVESTIGATING to RESOLVED or FALSE_POSITIVE.
//
// The full stack runs in-process: synthetic training data fits the models,
// artifacts round-trip through a temp dir, and requests go through the
// real chi router against a SQLite store, LRU cache and channel bus.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/estimator"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/synth"
)

type stack struct {
	server   *httptest.Server
	detector *pipeline.Detector
	store    domain.AlertStore
}

// newStack trains models on synthetic data and wires the full service.
func newStack(t *testing.T) *stack {
	t.Helper()

	modelDir := t.TempDir()

	gen := synth.NewGenerator(42)
	train := gen.Dataset(1000, 50)

	deriver := feature.NewDeriver(nil)
	rows, err := deriver.Fit(train)
	if err != nil {
		t.Fatalf("fit deriver: %v", err)
	}

	ens := estimator.NewEnsemble(
		estimator.NewIsolationForest(estimator.IsolationConfig{
			TreeCount:  100,
			SampleSize: 256,
			Seed:       42,
		}),
		estimator.NewLocalOutlierFactor(estimator.DensityConfig{Neighbors: 20}),
		0.6, 0.4,
	)
	if err := ens.Fit(rows); err != nil {
		t.Fatalf("fit ensemble: %v", err)
	}

	// Calibrate against the labeled training set.
	scores := make([]float64, len(rows))
	labels := make([]bool, len(rows))
	for i, row := range rows {
		s, err := ens.Score(row)
		if err != nil {
			t.Fatalf("score row %d: %v", i, err)
		}
		scores[i] = s
		labels[i] = train[i].IsFraud
	}
	threshold, err := scoring.Calibrate(scores, labels, 0.7)
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}

	if err := pipeline.Save(modelDir, deriver.Vocabulary(), ens, threshold); err != nil {
		t.Fatalf("save artifacts: %v", err)
	}

	// Reload from disk, exactly as the server binary does.
	registry, err := pipeline.Load(domain.DetectionConfig{
		ModelDir:        modelDir,
		IsolationWeight: 0.6,
		DensityWeight:   0.4,
	})
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	store, err := repository.New(domain.StoreConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "integration.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	lru := cache.NewLRUCache(1024)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	filter, err := policy.NewFilter("")
	if err != nil {
		t.Fatalf("build filter: %v", err)
	}

	manager := alerts.NewManager(store, eventBus, filter, true)
	detector := pipeline.NewDetector(registry, store, lru, eventBus, manager, 0)

	srv := api.NewServer(domain.ServerConfig{Host: "127.0.0.1", Port: 0}, detector, manager, store, lru, "integration")
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &stack{server: ts, detector: detector, store: store}
}

func (s *stack) detect(t *testing.T, req domain.TransactionRequest) *domain.ScoreRecord {
	t.Helper()

	body, _ := json.Marshal(req)
	resp, err := http.Post(s.server.URL+"/detect", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post detect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detect status %d, want 200", resp.StatusCode)
	}

	var out struct {
		Record *domain.ScoreRecord `json:"record"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode detect response: %v", err)
	}
	if out.Record == nil {
		t.Fatal("detect response missing record")
	}
	return out.Record
}

// TestNightOutlierScoresHigherThanDaytime verifies the core detection
// property: a 2am transaction 50x the usual amount scores well above a
// small daytime purchase.
func TestNightOutlierScoresHigherThanDaytime(t *testing.T) {
	s := newStack(t)

	daytime := s.detect(t, domain.TransactionRequest{
		TransactionID:    "TXN_IT_DAY",
		UserID:           "USER_0010",
		Amount:           42.0,
		MerchantCategory: "grocery",
		LocationCity:     "Mumbai",
		DeviceType:       "mobile",
		Timestamp:        "2025-03-01T14:00:00Z",
	})

	night := s.detect(t, domain.TransactionRequest{
		TransactionID:    "TXN_IT_NIGHT",
		UserID:           "USER_0010",
		Amount:           2100.0,
		MerchantCategory: "electronics",
		LocationCity:     "Unknown",
		DeviceType:       "web",
		Timestamp:        "2025-03-02T02:00:00Z",
	})

	if night.AnomalyScore <= daytime.AnomalyScore {
		t.Errorf("night outlier score %.4f not above daytime score %.4f",
			night.AnomalyScore, daytime.AnomalyScore)
	}
	if daytime.RiskLevel == domain.RiskCritical {
		t.Errorf("routine daytime purchase classified CRITICAL (score %.4f)", daytime.AnomalyScore)
	}
}

// TestBatchAlertGating scores a mixed batch and verifies alerts are
// raised only for CRITICAL/HIGH records.
func TestBatchAlertGating(t *testing.T) {
	s := newStack(t)

	gen := synth.NewGenerator(777)
	txs := append(gen.NormalTransactions(100), gen.FraudTransactions(5)...)

	reqs := make([]domain.TransactionRequest, len(txs))
	for i, tx := range txs {
		reqs[i] = domain.TransactionRequest{
			TransactionID:    tx.ID,
			UserID:           tx.UserID,
			Amount:           tx.Amount,
			MerchantCategory: tx.MerchantCategory,
			LocationCity:     tx.LocationCity,
			DeviceType:       tx.DeviceType,
			Timestamp:        tx.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	body, _ := json.Marshal(reqs)
	resp, err := http.Post(s.server.URL+"/detect/batch", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post batch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch status %d, want 200", resp.StatusCode)
	}

	var out struct {
		Results []struct {
			Record *domain.ScoreRecord `json:"record"`
			Alert  *domain.Alert       `json:"alert"`
		} `json:"results"`
		Failures []domain.BatchFailure `json:"failures"`
		Count    int                   `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode batch response: %v", err)
	}
	if len(out.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", out.Failures)
	}
	if out.Count != len(txs) {
		t.Fatalf("scored %d, want %d", out.Count, len(txs))
	}

	for _, r := range out.Results {
		alertable := r.Record.RiskLevel == domain.RiskCritical || r.Record.RiskLevel == domain.RiskHigh
		if alertable && r.Alert == nil {
			t.Errorf("%s is %s but raised no alert", r.Record.TransactionID, r.Record.RiskLevel)
		}
		if !alertable && r.Alert != nil {
			t.Errorf("%s is %s but raised alert %d", r.Record.TransactionID, r.Record.RiskLevel, r.Alert.ID)
		}
	}

	// Every raised alert is visible through the store.
	open, err := s.store.ListOpenAlerts(context.Background(), 0)
	if err != nil {
		t.Fatalf("list open alerts: %v", err)
	}
	raised := 0
	for _, r := range out.Results {
		if r.Alert != nil {
			raised++
		}
	}
	if len(open) != raised {
		t.Errorf("store has %d open alerts, responses raised %d", len(open), raised)
	}
}

// TestAlertLifecycleOverHTTP walks an alert from OPEN to RESOLVED via the
// public API.
func TestAlertLifecycleOverHTTP(t *testing.T) {
	s := newStack(t)

	// Score an obvious outlier to raise an alert.
	rec := s.detect(t, domain.TransactionRequest{
		TransactionID:    "TXN_IT_LIFECYCLE",
		UserID:           "USER_0099",
		Amount:           5000.0,
		MerchantCategory: "jewelry",
		LocationCity:     "International",
		DeviceType:       "web",
		Timestamp:        "2025-03-05T03:00:00Z",
	})

	if rec.RiskLevel != domain.RiskCritical && rec.RiskLevel != domain.RiskHigh {
		t.Skipf("outlier scored %s (%.4f), no alert to exercise", rec.RiskLevel, rec.AnomalyScore)
	}

	alert, err := s.store.OpenAlert(context.Background(), "TXN_IT_LIFECYCLE")
	if err != nil {
		t.Fatalf("open alert lookup: %v", err)
	}

	put := func(status, resolution string) int {
		body, _ := json.Marshal(map[string]string{
			"status":     status,
			"resolution": resolution,
		})
		req, _ := http.NewRequest(http.MethodPut,
			fmt.Sprintf("%s/alerts/%d", s.server.URL, alert.ID), bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("put alert: %v", err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	if code := put(domain.AlertInvestigating, ""); code != http.StatusOK {
		t.Fatalf("investigate status %d, want 200", code)
	}
	if code := put(domain.AlertResolved, "confirmed fraud"); code != http.StatusOK {
		t.Fatalf("resolve status %d, want 200", code)
	}
	// Terminal alerts cannot be reopened.
	if code := put(domain.AlertOpen, ""); code != http.StatusConflict {
		t.Errorf("reopen status %d, want 409", code)
	}

	final, err := s.store.GetAlert(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if final.Status != domain.AlertResolved {
		t.Errorf("final status %q, want RESOLVED", final.Status)
	}
	if final.ResolvedAt == nil {
		t.Error("resolved alert missing resolved_at")
	}
}

// TestScoreCaching verifies GET /scores serves the persisted record for
// previously scored transactions and 404s for unknown ones.
func TestScoreCaching(t *testing.T) {
	s := newStack(t)

	rec := s.detect(t, domain.TransactionRequest{
		TransactionID:    "TXN_IT_CACHE",
		UserID:           "USER_0042",
		Amount:           60.0,
		MerchantCategory: "restaurant",
		LocationCity:     "Delhi",
		DeviceType:       "mobile",
		Timestamp:        "2025-03-01T12:00:00Z",
	})

	resp, err := http.Get(s.server.URL + "/scores/TXN_IT_CACHE")
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get score status %d, want 200", resp.StatusCode)
	}

	var stored domain.ScoreRecord
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		t.Fatalf("decode score: %v", err)
	}
	if stored.AnomalyScore != rec.AnomalyScore {
		t.Errorf("stored score %.6f, want %.6f", stored.AnomalyScore, rec.AnomalyScore)
	}

	missing, err := http.Get(s.server.URL + "/scores/TXN_NEVER_SEEN")
	if err != nil {
		t.Fatalf("get missing score: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing score status %d, want 404", missing.StatusCode)
	}
}
