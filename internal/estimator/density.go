package estimator

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LocalOutlierFactor scores how much sparser a point's neighborhood is
// than its neighbors' neighborhoods. Fitted in novelty mode: the
// training points, their k-distances and their local reachability
// densities persist to the artifact so new points score against a
// frozen reference set.
type LocalOutlierFactor struct {
	Neighbors int             `json:"neighbors"`
	Features  int             `json:"features"`
	Points    [][]float64     `json:"points"`
	KDist     []float64       `json:"kDistances"`
	LRD       []float64       `json:"lrd"`
	Scaler    *StandardScaler `json:"scaler"`
	Bounds    Bounds          `json:"bounds"`
	Cutoff    float64         `json:"cutoff"`

	contamination float64
}

// DensityConfig holds fit-time hyperparameters.
type DensityConfig struct {
	Neighbors     int
	Contamination float64
}

// NewLocalOutlierFactor creates an unfitted model. Zero-valued config
// fields fall back to 20 neighbors, 5% contamination.
func NewLocalOutlierFactor(cfg DensityConfig) *LocalOutlierFactor {
	if cfg.Neighbors <= 0 {
		cfg.Neighbors = 20
	}
	if cfg.Contamination <= 0 {
		cfg.Contamination = 0.05
	}
	return &LocalOutlierFactor{
		Neighbors:     cfg.Neighbors,
		Scaler:        &StandardScaler{},
		contamination: cfg.Contamination,
	}
}

type neighbor struct {
	idx  int
	dist float64
}

// Fit stores the scaled training points and precomputes each point's
// k-distance and local reachability density, then freezes the
// normalization bounds and contamination cutoff from the training LOF
// distribution.
func (l *LocalOutlierFactor) Fit(rows [][]float64) error {
	if len(rows) < 2 {
		return fmt.Errorf("density fit: %w: need at least 2 rows, got %d",
			domain.ErrInvalidInput, len(rows))
	}
	// Every point needs k distinct neighbors, so k clamps to n-1 on
	// small batches. The clamped value persists with the model.
	if len(rows) <= l.Neighbors {
		l.Neighbors = len(rows) - 1
	}
	if err := l.Scaler.Fit(rows); err != nil {
		return fmt.Errorf("density fit: %w", err)
	}
	scaled, err := l.Scaler.TransformAll(rows)
	if err != nil {
		return fmt.Errorf("density fit: %w", err)
	}

	l.Features = len(rows[0])
	l.Points = scaled
	n := len(scaled)
	k := l.Neighbors

	nearest := make([][]neighbor, n)
	l.KDist = make([]float64, n)
	for i := range scaled {
		nbrs := make([]neighbor, 0, n-1)
		for j := range scaled {
			if i == j {
				continue
			}
			nbrs = append(nbrs, neighbor{idx: j, dist: euclidean(scaled[i], scaled[j])})
		}
		sort.Slice(nbrs, func(a, b int) bool { return nbrs[a].dist < nbrs[b].dist })
		nearest[i] = nbrs[:k]
		l.KDist[i] = nbrs[k-1].dist
	}

	l.LRD = make([]float64, n)
	for i := range scaled {
		l.LRD[i] = reachDensity(nearest[i], l.KDist)
	}

	lof := make([]float64, n)
	for i := range scaled {
		var sum float64
		for _, nb := range nearest[i] {
			sum += l.LRD[nb.idx]
		}
		lof[i] = sum / float64(k) / l.LRD[i]
	}

	l.Bounds = boundsOf(lof)
	l.Cutoff = quantile(lof, 1-l.contamination)
	return nil
}

// reachDensity computes the local reachability density given a point's
// k nearest neighbors: k divided by the summed reachability distances,
// where reach(i,j) = max(kDistance(j), d(i,j)).
func reachDensity(nbrs []neighbor, kDist []float64) float64 {
	var sum float64
	for _, nb := range nbrs {
		reach := nb.dist
		if kDist[nb.idx] > reach {
			reach = kDist[nb.idx]
		}
		sum += reach
	}
	if sum == 0 {
		sum = 1e-10
	}
	return float64(len(nbrs)) / sum
}

// rawScore computes the LOF of an already scaled query point against
// the frozen training set. Values near 1 mean the point sits in a
// neighborhood as dense as its neighbors'; larger values mean sparser.
func (l *LocalOutlierFactor) rawScore(x []float64) float64 {
	nbrs := make([]neighbor, len(l.Points))
	for j, p := range l.Points {
		nbrs[j] = neighbor{idx: j, dist: euclidean(x, p)}
	}
	sort.Slice(nbrs, func(a, b int) bool { return nbrs[a].dist < nbrs[b].dist })
	nbrs = nbrs[:l.Neighbors]

	lrdQ := reachDensity(nbrs, l.KDist)
	var sum float64
	for _, nb := range nbrs {
		sum += l.LRD[nb.idx]
	}
	return sum / float64(l.Neighbors) / lrdQ
}

// Score returns the normalized anomaly score in [0,1].
func (l *LocalOutlierFactor) Score(x []float64) (float64, error) {
	raw, err := l.raw(x)
	if err != nil {
		return 0, err
	}
	return l.Bounds.Normalize(raw), nil
}

// Predict returns -1 when the LOF exceeds the contamination cutoff,
// +1 otherwise.
func (l *LocalOutlierFactor) Predict(x []float64) (int, error) {
	raw, err := l.raw(x)
	if err != nil {
		return 0, err
	}
	if raw >= l.Cutoff {
		return -1, nil
	}
	return 1, nil
}

func (l *LocalOutlierFactor) raw(x []float64) (float64, error) {
	if len(l.Points) == 0 {
		return 0, fmt.Errorf("density: %w", domain.ErrNotFitted)
	}
	scaled, err := l.Scaler.Transform(x)
	if err != nil {
		return 0, fmt.Errorf("density: %w", err)
	}
	return l.rawScore(scaled), nil
}
