package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/estimator"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/synth"
)

// trainModels fits a small model set on synthetic data and saves it.
func trainModels(t *testing.T, dir string) {
	t.Helper()

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

	if err := Save(dir, deriver.Vocabulary(), ens, nil); err != nil {
		t.Fatalf("save models: %v", err)
	}
}

func detectionConfig(dir string) domain.DetectionConfig {
	return domain.DetectionConfig{
		ModelDir:        dir,
		IsolationWeight: 0.6,
		DensityWeight:   0.4,
	}
}

func TestRegistryLoad(t *testing.T) {
	dir := t.TempDir()
	trainModels(t, dir)

	reg, err := Load(detectionConfig(dir))
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	info := reg.Info()
	if info.FeatureCount != feature.Count {
		t.Errorf("feature count %d, want %d", info.FeatureCount, feature.Count)
	}
	if info.TreeCount != 50 || info.Neighbors != 20 {
		t.Errorf("model hyperparameters not preserved: %+v", info)
	}
	if info.DecisionCut != 0.5 {
		t.Errorf("uncalibrated decision cut %f, want 0.5", info.DecisionCut)
	}
	if len(info.Categories) == 0 || len(info.Devices) == 0 {
		t.Error("vocabulary missing from model info")
	}
}

func TestRegistryLoadMissingArtifacts(t *testing.T) {
	if _, err := Load(detectionConfig(t.TempDir())); err == nil {
		t.Fatal("expected error for empty model dir")
	}
}

func TestDetectEndToEnd(t *testing.T) {
	dir := t.TempDir()
	trainModels(t, dir)

	reg, err := Load(detectionConfig(dir))
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	tmpFile, err := os.CreateTemp("", "kestrel-pipeline-*.db")
	if err != nil {
		t.Fatalf("temp db: %v", err)
	}
	tmpFile.Close()
	defer os.Remove(tmpFile.Name())

	store, err := repository.New(domain.StoreConfig{Driver: "sqlite", SQLitePath: tmpFile.Name()})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()

	c := cache.NewLRUCache(100)
	defer c.Close()
	b := bus.NewChannelBus(10)
	defer b.Close()
	am := alerts.NewManager(store, b, nil, false)

	det := NewDetector(reg, store, c, b, am, time.Hour)

	ctx := context.Background()
	tx := &domain.Transaction{
		ID:               "TXN_PIPE_1",
		UserID:           "USER_0001",
		Amount:           150,
		MerchantCategory: "grocery",
		LocationCity:     "Mumbai",
		DeviceType:       "mobile",
		Timestamp:        time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC),
	}

	res, err := det.Detect(ctx, tx)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	rec := res.Record

	if rec.TransactionID != tx.ID {
		t.Errorf("record transaction id %s", rec.TransactionID)
	}
	if rec.AnomalyScore < 0 || rec.AnomalyScore > 1 {
		t.Errorf("score %f outside [0,1]", rec.AnomalyScore)
	}
	if rec.Priority != rec.RiskLevel.Priority() {
		t.Errorf("priority %d inconsistent with level %s", rec.Priority, rec.RiskLevel)
	}
	if rec.ID == "" {
		t.Error("expected record id")
	}

	// record must be retrievable via cache and store
	got, err := det.GetScore(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("retrieved record %s, want %s", got.ID, rec.ID)
	}

	// store-only retrieval after cache flush
	c.Close()
	stored, err := store.GetScoreRecord(ctx, tx.ID)
	if err != nil {
		t.Fatalf("store lookup: %v", err)
	}
	if stored.AnomalyScore != rec.AnomalyScore {
		t.Errorf("stored score %f, want %f", stored.AnomalyScore, rec.AnomalyScore)
	}
}

func TestDetectBatch(t *testing.T) {
	dir := t.TempDir()
	trainModels(t, dir)

	reg, err := Load(detectionConfig(dir))
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	det := NewDetector(reg, nil, nil, nil, nil, time.Hour)

	gen := synth.NewGenerator(7)
	txs := gen.Dataset(20, 2)

	results, failures := det.DetectBatch(context.Background(), txs)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if len(results) != len(txs) {
		t.Fatalf("expected %d results, got %d", len(txs), len(results))
	}

	for _, res := range results {
		if res.Record.AnomalyScore < 0 || res.Record.AnomalyScore > 1 {
			t.Errorf("score %f outside [0,1]", res.Record.AnomalyScore)
		}
	}
}

func TestDetectBatchEmpty(t *testing.T) {
	dir := t.TempDir()
	trainModels(t, dir)

	reg, err := Load(detectionConfig(dir))
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	det := NewDetector(reg, nil, nil, nil, nil, time.Hour)

	results, failures := det.DetectBatch(context.Background(), nil)
	if results != nil || failures != nil {
		t.Errorf("expected nil results for empty batch, got %v / %v", results, failures)
	}
}

func TestGetScoreNotFound(t *testing.T) {
	dir := t.TempDir()
	trainModels(t, dir)

	reg, err := Load(detectionConfig(dir))
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	det := NewDetector(reg, nil, nil, nil, nil, time.Hour)

	if _, err := det.GetScore(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestArtifactFilesOnDisk(t *testing.T) {
	dir := t.TempDir()
	trainModels(t, dir)

	for _, name := range []string{VocabularyFile, estimator.IsolationFile, estimator.DensityFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing artifact %s: %v", name, err)
		}
	}
}
