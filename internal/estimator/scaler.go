package estimator

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// StandardScaler centers each column to zero mean and unit variance.
// Each estimator owns its own scaler so their fits stay independent.
type StandardScaler struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// Fit computes per-column mean and standard deviation. Constant columns
// get a standard deviation of 1 so transforming them is a no-op shift.
func (s *StandardScaler) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return fmt.Errorf("scaler fit: %w: empty matrix", domain.ErrInvalidInput)
	}
	width := len(rows[0])
	n := float64(len(rows))

	s.Means = make([]float64, width)
	s.Stds = make([]float64, width)

	for _, row := range rows {
		if len(row) != width {
			return fmt.Errorf("scaler fit: %w: ragged matrix", domain.ErrFeatureMismatch)
		}
		for j, v := range row {
			s.Means[j] += v
		}
	}
	for j := range s.Means {
		s.Means[j] /= n
	}

	for _, row := range rows {
		for j, v := range row {
			d := v - s.Means[j]
			s.Stds[j] += d * d
		}
	}
	for j := range s.Stds {
		s.Stds[j] = math.Sqrt(s.Stds[j] / n)
		if s.Stds[j] == 0 {
			s.Stds[j] = 1
		}
	}
	return nil
}

// Transform scales a single vector with the fitted parameters.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(s.Means) == 0 {
		return nil, fmt.Errorf("scaler: %w", domain.ErrNotFitted)
	}
	if len(x) != len(s.Means) {
		return nil, fmt.Errorf("scaler: %w: got %d columns, want %d",
			domain.ErrFeatureMismatch, len(x), len(s.Means))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Means[j]) / s.Stds[j]
	}
	return out, nil
}

// TransformAll scales every row of a matrix.
func (s *StandardScaler) TransformAll(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}
