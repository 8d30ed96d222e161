package scoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ThresholdFile is the calibration artifact name within a model
// directory.
const ThresholdFile = "threshold.json"

// Threshold records a calibrated anomaly decision cut and the
// precision/recall it achieved on the calibration set.
type Threshold struct {
	Threshold         float64 `json:"threshold"`
	TargetRecall      float64 `json:"targetRecall"`
	AchievedRecall    float64 `json:"achievedRecall"`
	AchievedPrecision float64 `json:"achievedPrecision"`
}

// EvalReport summarizes binary classification quality at a threshold.
type EvalReport struct {
	TruePositives  int     `json:"truePositives"`
	FalsePositives int     `json:"falsePositives"`
	TrueNegatives  int     `json:"trueNegatives"`
	FalseNegatives int     `json:"falseNegatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Evaluate computes the confusion matrix and derived metrics for
// scores against labels at the given threshold.
func Evaluate(scores []float64, labels []bool, threshold float64) EvalReport {
	var r EvalReport
	for i, s := range scores {
		pred := s >= threshold
		switch {
		case pred && labels[i]:
			r.TruePositives++
		case pred && !labels[i]:
			r.FalsePositives++
		case !pred && labels[i]:
			r.FalseNegatives++
		default:
			r.TrueNegatives++
		}
	}
	if tp := float64(r.TruePositives); tp > 0 {
		r.Precision = tp / float64(r.TruePositives+r.FalsePositives)
		r.Recall = tp / float64(r.TruePositives+r.FalseNegatives)
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	return r
}

// Calibrate scans candidate thresholds over the score distribution and
// picks the one maximizing F1 among thresholds whose recall meets
// targetRecall. When no threshold reaches the target, the global F1
// maximum wins so the record still reflects the best available cut.
func Calibrate(scores []float64, labels []bool, targetRecall float64) (*Threshold, error) {
	if len(scores) == 0 || len(scores) != len(labels) {
		return nil, fmt.Errorf("calibrate: %w: %d scores, %d labels",
			domain.ErrInvalidInput, len(scores), len(labels))
	}
	positives := 0
	for _, l := range labels {
		if l {
			positives++
		}
	}
	if positives == 0 {
		return nil, fmt.Errorf("calibrate: %w: no positive labels", domain.ErrInvalidInput)
	}

	candidates := append([]float64(nil), scores...)
	sort.Float64s(candidates)

	var best, bestAny *Threshold
	var bestF1, bestAnyF1 float64
	for _, cut := range candidates {
		r := Evaluate(scores, labels, cut)
		rec := &Threshold{
			Threshold:         cut,
			TargetRecall:      targetRecall,
			AchievedRecall:    r.Recall,
			AchievedPrecision: r.Precision,
		}
		if r.F1 > bestAnyF1 {
			bestAny, bestAnyF1 = rec, r.F1
		}
		if r.Recall >= targetRecall && r.F1 > bestF1 {
			best, bestF1 = rec, r.F1
		}
	}
	if best == nil {
		best = bestAny
	}
	if best == nil {
		return nil, fmt.Errorf("calibrate: %w: no usable threshold", domain.ErrInvalidInput)
	}
	return best, nil
}

// SaveThreshold writes the calibration record into a model directory.
func SaveThreshold(dir string, t *Threshold) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal threshold: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ThresholdFile), data, 0o644); err != nil {
		return fmt.Errorf("write threshold: %w", err)
	}
	return nil
}

// LoadThreshold reads the calibration record from a model directory.
// A missing file is not an error: calibration is optional and the
// scorer falls back to the default boundary.
func LoadThreshold(dir string) (*Threshold, error) {
	data, err := os.ReadFile(filepath.Join(dir, ThresholdFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read threshold: %w", err)
	}
	t := &Threshold{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("decode threshold: %w", err)
	}
	return t, nil
}
