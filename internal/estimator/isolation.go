package estimator

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// treeNode is a node of an isolation tree. Leaves carry the sample
// count reaching them so path lengths can be extended by c(n).
type treeNode struct {
	Feature int       `json:"f"`
	Split   float64   `json:"s"`
	Size    int       `json:"n"`
	Left    *treeNode `json:"l,omitempty"`
	Right   *treeNode `json:"r,omitempty"`
}

// IsolationForest isolates points by recursive random splits. Points
// that isolate in few splits score close to 1; deeply buried points
// score close to 0. Exported fields persist to the model artifact.
type IsolationForest struct {
	TreeCount  int             `json:"treeCount"`
	SampleSize int             `json:"sampleSize"`
	Features   int             `json:"features"`
	Trees      []*treeNode     `json:"trees"`
	Scaler     *StandardScaler `json:"scaler"`
	Bounds     Bounds          `json:"bounds"`
	Cutoff     float64         `json:"cutoff"`

	contamination float64
	maxDepth      int
	rng           *rand.Rand
}

// IsolationConfig holds fit-time hyperparameters.
type IsolationConfig struct {
	TreeCount     int
	SampleSize    int
	Contamination float64
	Seed          int64
}

// NewIsolationForest creates an unfitted forest. Zero-valued config
// fields fall back to 100 trees, 256 samples, 5% contamination.
func NewIsolationForest(cfg IsolationConfig) *IsolationForest {
	if cfg.TreeCount <= 0 {
		cfg.TreeCount = 100
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 256
	}
	if cfg.Contamination <= 0 {
		cfg.Contamination = 0.05
	}
	return &IsolationForest{
		TreeCount:     cfg.TreeCount,
		SampleSize:    cfg.SampleSize,
		Scaler:        &StandardScaler{},
		contamination: cfg.Contamination,
		rng:           rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Fit builds the forest on the training matrix and freezes the score
// normalization bounds and the contamination cutoff.
func (f *IsolationForest) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return fmt.Errorf("isolation fit: %w: empty matrix", domain.ErrInvalidInput)
	}
	if err := f.Scaler.Fit(rows); err != nil {
		return fmt.Errorf("isolation fit: %w", err)
	}
	scaled, err := f.Scaler.TransformAll(rows)
	if err != nil {
		return fmt.Errorf("isolation fit: %w", err)
	}

	f.Features = len(rows[0])
	// Keep the effective subsample size so rawScore normalizes path
	// lengths by c(n) for the n the trees were actually built on.
	if len(scaled) < f.SampleSize {
		f.SampleSize = len(scaled)
	}
	f.maxDepth = int(math.Ceil(math.Log2(float64(f.SampleSize))))

	f.Trees = make([]*treeNode, f.TreeCount)
	for i := range f.Trees {
		f.Trees[i] = f.buildTree(f.sample(scaled, f.SampleSize), 0)
	}

	raw := make([]float64, len(scaled))
	for i, x := range scaled {
		raw[i] = f.rawScore(x)
	}
	f.Bounds = boundsOf(raw)
	f.Cutoff = quantile(raw, 1-f.contamination)
	return nil
}

// sample draws n points without replacement.
func (f *IsolationForest) sample(data [][]float64, n int) [][]float64 {
	if n >= len(data) {
		return data
	}
	out := make([][]float64, n)
	for i, idx := range f.rng.Perm(len(data))[:n] {
		out[i] = data[idx]
	}
	return out
}

func (f *IsolationForest) buildTree(data [][]float64, depth int) *treeNode {
	node := &treeNode{Size: len(data)}
	if len(data) <= 1 || depth >= f.maxDepth {
		return node
	}

	feat := f.rng.Intn(len(data[0]))
	minVal, maxVal := data[0][feat], data[0][feat]
	for _, row := range data[1:] {
		if row[feat] < minVal {
			minVal = row[feat]
		}
		if row[feat] > maxVal {
			maxVal = row[feat]
		}
	}
	if minVal == maxVal {
		return node
	}

	node.Feature = feat
	node.Split = minVal + f.rng.Float64()*(maxVal-minVal)

	left := make([][]float64, 0, len(data)/2)
	right := make([][]float64, 0, len(data)/2)
	for _, row := range data {
		if row[feat] < node.Split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	node.Left = f.buildTree(left, depth+1)
	node.Right = f.buildTree(right, depth+1)
	return node
}

// pathLength traverses a tree, extending leaf depth by the expected
// path length of the samples that stopped there.
func pathLength(node *treeNode, x []float64, depth float64) float64 {
	if node.Left == nil && node.Right == nil {
		return depth + avgPathNorm(float64(node.Size))
	}
	if x[node.Feature] < node.Split {
		return pathLength(node.Left, x, depth+1)
	}
	return pathLength(node.Right, x, depth+1)
}

// rawScore computes s(x) = 2^(-E[h(x)]/c(sampleSize)) on an already
// scaled vector. Higher means more anomalous.
func (f *IsolationForest) rawScore(x []float64) float64 {
	var total float64
	for _, tree := range f.Trees {
		total += pathLength(tree, x, 0)
	}
	avg := total / float64(len(f.Trees))
	c := avgPathNorm(float64(f.SampleSize))
	if c <= 0 {
		c = 1
	}
	return math.Pow(2, -avg/c)
}

// Score returns the normalized anomaly score in [0,1].
func (f *IsolationForest) Score(x []float64) (float64, error) {
	raw, err := f.raw(x)
	if err != nil {
		return 0, err
	}
	return f.Bounds.Normalize(raw), nil
}

// Predict returns -1 when the raw score exceeds the contamination
// cutoff established at fit time, +1 otherwise.
func (f *IsolationForest) Predict(x []float64) (int, error) {
	raw, err := f.raw(x)
	if err != nil {
		return 0, err
	}
	if raw >= f.Cutoff {
		return -1, nil
	}
	return 1, nil
}

func (f *IsolationForest) raw(x []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("isolation: %w", domain.ErrNotFitted)
	}
	scaled, err := f.Scaler.Transform(x)
	if err != nil {
		return 0, fmt.Errorf("isolation: %w", err)
	}
	return f.rawScore(scaled), nil
}
