package estimator

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// cluster generates n points around the origin plus a far outlier at
// the end, in dim dimensions.
func clusterWithOutlier(n, dim int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, 0, n+1)
	for i := 0; i < n; i++ {
		row := make([]float64, dim)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		rows = append(rows, row)
	}
	outlier := make([]float64, dim)
	for j := range outlier {
		outlier[j] = 25
	}
	return append(rows, outlier)
}

func TestStandardScaler(t *testing.T) {
	s := &StandardScaler{}
	if err := s.Fit([][]float64{{1, 5}, {3, 5}}); err != nil {
		t.Fatalf("fit: %v", err)
	}
	out, err := s.Transform([]float64{3, 5})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if math.Abs(out[0]-1) > 1e-9 {
		t.Errorf("column 0: got %f, want 1", out[0])
	}
	// constant column shifts to zero instead of dividing by zero
	if out[1] != 0 {
		t.Errorf("constant column: got %f, want 0", out[1])
	}

	if _, err := s.Transform([]float64{1}); !errors.Is(err, domain.ErrFeatureMismatch) {
		t.Errorf("expected ErrFeatureMismatch, got %v", err)
	}
}

func TestBoundsNormalize(t *testing.T) {
	tests := []struct {
		name   string
		bounds Bounds
		raw    float64
		want   float64
	}{
		{"midpoint", Bounds{Min: 0, Max: 2}, 1, 0.5},
		{"clamp high", Bounds{Min: 0, Max: 1}, 5, 1},
		{"clamp low", Bounds{Min: 0, Max: 1}, -5, 0},
		{"degenerate", Bounds{Min: 3, Max: 3}, 3, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.bounds.Normalize(tt.raw); got != tt.want {
				t.Errorf("got %f, want %f", got, tt.want)
			}
		})
	}
}

func TestIsolationForestSeparatesOutlier(t *testing.T) {
	rows := clusterWithOutlier(300, 4, 42)
	f := NewIsolationForest(IsolationConfig{TreeCount: 100, SampleSize: 128, Contamination: 0.05, Seed: 42})
	if err := f.Fit(rows); err != nil {
		t.Fatalf("fit: %v", err)
	}

	inlier, err := f.Score(rows[0])
	if err != nil {
		t.Fatalf("score inlier: %v", err)
	}
	outlier, err := f.Score(rows[len(rows)-1])
	if err != nil {
		t.Fatalf("score outlier: %v", err)
	}
	if outlier <= inlier {
		t.Errorf("outlier score %f not above inlier score %f", outlier, inlier)
	}

	pred, err := f.Predict(rows[len(rows)-1])
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if pred != -1 {
		t.Errorf("outlier prediction: got %d, want -1", pred)
	}
}

func TestIsolationForestNotFitted(t *testing.T) {
	f := NewIsolationForest(IsolationConfig{})
	if _, err := f.Score([]float64{1}); !errors.Is(err, domain.ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
}

func TestLocalOutlierFactorSeparatesOutlier(t *testing.T) {
	rows := clusterWithOutlier(150, 4, 7)
	l := NewLocalOutlierFactor(DensityConfig{Neighbors: 20, Contamination: 0.05})
	if err := l.Fit(rows); err != nil {
		t.Fatalf("fit: %v", err)
	}

	inlier, err := l.Score(rows[0])
	if err != nil {
		t.Fatalf("score inlier: %v", err)
	}
	outlier, err := l.Score(rows[len(rows)-1])
	if err != nil {
		t.Fatalf("score outlier: %v", err)
	}
	if outlier <= inlier {
		t.Errorf("outlier score %f not above inlier score %f", outlier, inlier)
	}
}

func TestLocalOutlierFactorClampsNeighbors(t *testing.T) {
	l := NewLocalOutlierFactor(DensityConfig{Neighbors: 20})
	if err := l.Fit([][]float64{{1}, {2}, {3}}); err != nil {
		t.Fatalf("fit small batch: %v", err)
	}
	if l.Neighbors != 2 {
		t.Errorf("neighbors clamped to %d, want 2", l.Neighbors)
	}
	if _, err := l.Score([]float64{2}); err != nil {
		t.Errorf("score after clamped fit: %v", err)
	}
}

func TestLocalOutlierFactorNeedsTwoRows(t *testing.T) {
	l := NewLocalOutlierFactor(DensityConfig{Neighbors: 20})
	err := l.Fit([][]float64{{1}})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestIsolationForestRecordsEffectiveSampleSize(t *testing.T) {
	rows := clusterWithOutlier(40, 3, 9)
	f := NewIsolationForest(IsolationConfig{TreeCount: 20, SampleSize: 256, Seed: 9})
	if err := f.Fit(rows); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if f.SampleSize != len(rows) {
		t.Errorf("sample size %d, want effective %d", f.SampleSize, len(rows))
	}
	if _, err := f.Score(rows[0]); err != nil {
		t.Errorf("score after clamped fit: %v", err)
	}
}

// stubIsolation returns a minimal fitted forest whose raw score is
// always 1, so cutoff placement alone decides the prediction.
func stubIsolation(cutoff float64) *IsolationForest {
	return &IsolationForest{
		Trees:  []*treeNode{{Size: 1}},
		Scaler: &StandardScaler{Means: []float64{0}, Stds: []float64{1}},
		Bounds: Bounds{Min: 0, Max: 2},
		Cutoff: cutoff,
	}
}

// stubDensity returns a minimal fitted model whose raw score for the
// origin is 1.
func stubDensity(cutoff float64) *LocalOutlierFactor {
	return &LocalOutlierFactor{
		Neighbors: 1,
		Points:    [][]float64{{0}},
		KDist:     []float64{1},
		LRD:       []float64{1},
		Scaler:    &StandardScaler{Means: []float64{0}, Stds: []float64{1}},
		Bounds:    Bounds{Min: 0, Max: 2},
		Cutoff:    cutoff,
	}
}

func TestEnsembleANDRule(t *testing.T) {
	tests := []struct {
		name      string
		isoCutoff float64
		denCutoff float64
		wantAnom  bool
	}{
		{"both flag", 0.5, 0.5, true},
		{"only isolation flags", 0.5, 2.0, false},
		{"only density flags", 2.0, 0.5, false},
		{"neither flags", 2.0, 2.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEnsemble(stubIsolation(tt.isoCutoff), stubDensity(tt.denCutoff), 0.6, 0.4)
			c, err := e.Evaluate([]float64{0})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if c.Anomalous != tt.wantAnom {
				t.Errorf("anomalous: got %v, want %v", c.Anomalous, tt.wantAnom)
			}
		})
	}
}

func TestEnsembleWeighting(t *testing.T) {
	e := NewEnsemble(stubIsolation(2), stubDensity(2), 0.6, 0.4)
	// both members produce raw score 1 against bounds [0,2] -> 0.5 each
	score, err := e.Score([]float64{0})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if math.Abs(score-0.5) > 1e-9 {
		t.Errorf("fused score: got %f, want 0.5", score)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	rows := clusterWithOutlier(120, 3, 99)
	e := NewEnsemble(
		NewIsolationForest(IsolationConfig{TreeCount: 50, SampleSize: 64, Seed: 1}),
		NewLocalOutlierFactor(DensityConfig{Neighbors: 15}),
		0.6, 0.4,
	)
	if err := e.Fit(rows); err != nil {
		t.Fatalf("fit: %v", err)
	}

	dir := t.TempDir()
	if err := e.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	iso, err := LoadIsolationForest(dir, 3)
	if err != nil {
		t.Fatalf("load isolation: %v", err)
	}
	den, err := LoadLocalOutlierFactor(dir, 3)
	if err != nil {
		t.Fatalf("load density: %v", err)
	}
	loaded := NewEnsemble(iso, den, 0.6, 0.4)

	for _, x := range [][]float64{rows[0], rows[len(rows)-1]} {
		want, err := e.Score(x)
		if err != nil {
			t.Fatalf("score original: %v", err)
		}
		got, err := loaded.Score(x)
		if err != nil {
			t.Fatalf("score loaded: %v", err)
		}
		if got != want {
			t.Errorf("reload drift: got %v, want %v", got, want)
		}
	}

	if _, err := LoadIsolationForest(dir, 99); !errors.Is(err, domain.ErrFeatureMismatch) {
		t.Errorf("expected ErrFeatureMismatch on width disagreement, got %v", err)
	}
}
