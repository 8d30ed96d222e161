// Package estimator implements the unsupervised anomaly estimators:
// an isolation forest, a local outlier factor model in novelty mode,
// and the weighted ensemble that fuses them.
package estimator

import (
	"math"
	"sort"
)

// Estimator scores a single feature vector. Score returns a normalized
// anomaly score in [0,1] where higher means more anomalous. Predict
// returns -1 for anomalous and +1 for normal, using the contamination
// cutoff frozen at fit time.
type Estimator interface {
	Fit(rows [][]float64) error
	Score(x []float64) (float64, error)
	Predict(x []float64) (int, error)
}

// Bounds holds the min/max of raw training scores, frozen at fit time
// so serving-time normalization never drifts with traffic.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Normalize maps a raw score into [0,1] using the stored bounds.
// Degenerate bounds (max == min) map everything to 0.5; out-of-range
// raw scores clamp to the edges.
func (b Bounds) Normalize(raw float64) float64 {
	if b.Max <= b.Min {
		return 0.5
	}
	v := (raw - b.Min) / (b.Max - b.Min)
	return math.Min(1, math.Max(0, v))
}

// boundsOf computes min/max over raw training scores.
func boundsOf(scores []float64) Bounds {
	b := Bounds{Min: scores[0], Max: scores[0]}
	for _, s := range scores[1:] {
		if s < b.Min {
			b.Min = s
		}
		if s > b.Max {
			b.Max = s
		}
	}
	return b
}

// quantile returns the q-th quantile (0..1) of the values using linear
// interpolation between order statistics.
func quantile(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// avgPathNorm is c(n): the expected path length of an unsuccessful
// search in a binary search tree of n nodes, used to normalize
// isolation depths.
func avgPathNorm(n float64) float64 {
	if n <= 1 {
		return 0
	}
	const eulerMascheroni = 0.5772156649
	return 2*(math.Log(n-1)+eulerMascheroni) - 2*(n-1)/n
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
