// Package pipeline wires the feature deriver, the estimators and the
// scorer into the detection service, loading fitted artifacts from a
// model directory.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/estimator"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// VocabularyFile is the categorical vocabulary artifact name.
const VocabularyFile = "vocabulary.json"

// Registry holds the fitted model set loaded from one model
// directory. It is immutable after load; a new training run produces a
// new directory and a new registry.
type Registry struct {
	Deriver  *feature.Deriver
	Ensemble *estimator.Ensemble
	Scorer   *scoring.Scorer

	ModelDir string
	LoadedAt time.Time
}

// Load restores a complete model set from cfg.ModelDir, validating
// that every artifact agrees on the feature width the deriver emits.
func Load(cfg domain.DetectionConfig) (*Registry, error) {
	vocab, err := loadVocabulary(cfg.ModelDir)
	if err != nil {
		return nil, err
	}

	iso, err := estimator.LoadIsolationForest(cfg.ModelDir, feature.Count)
	if err != nil {
		return nil, err
	}
	den, err := estimator.LoadLocalOutlierFactor(cfg.ModelDir, feature.Count)
	if err != nil {
		return nil, err
	}

	threshold, err := scoring.LoadThreshold(cfg.ModelDir)
	if err != nil {
		return nil, err
	}

	return &Registry{
		Deriver:  feature.NewDeriver(vocab),
		Ensemble: estimator.NewEnsemble(iso, den, cfg.IsolationWeight, cfg.DensityWeight),
		Scorer:   scoring.NewScorer(threshold),
		ModelDir: cfg.ModelDir,
		LoadedAt: time.Now().UTC(),
	}, nil
}

// Save writes the complete model set into dir: vocabulary, both
// estimators, and the optional calibrated threshold.
func Save(dir string, vocab *feature.Vocabulary, ens *estimator.Ensemble, threshold *scoring.Threshold) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("model dir: %w", err)
	}

	data, err := json.MarshalIndent(vocab, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal vocabulary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, VocabularyFile), data, 0o644); err != nil {
		return fmt.Errorf("write vocabulary: %w", err)
	}

	if err := ens.Save(dir); err != nil {
		return err
	}

	if threshold != nil {
		return scoring.SaveThreshold(dir, threshold)
	}
	return nil
}

func loadVocabulary(dir string) (*feature.Vocabulary, error) {
	data, err := os.ReadFile(filepath.Join(dir, VocabularyFile))
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	vocab := feature.NewVocabulary()
	if err := json.Unmarshal(data, vocab); err != nil {
		return nil, fmt.Errorf("decode vocabulary: %w", err)
	}
	return vocab, nil
}

// ModelInfo describes the loaded model set for the info endpoint.
type ModelInfo struct {
	ModelDir        string             `json:"modelDir"`
	LoadedAt        time.Time          `json:"loadedAt"`
	FeatureCount    int                `json:"featureCount"`
	FeatureNames    []string           `json:"featureNames"`
	TreeCount       int                `json:"treeCount"`
	SampleSize      int                `json:"sampleSize"`
	Neighbors       int                `json:"neighbors"`
	IsolationWeight float64            `json:"isolationWeight"`
	DensityWeight   float64            `json:"densityWeight"`
	Categories      []string           `json:"categories"`
	Cities          []string           `json:"cities"`
	Devices         []string           `json:"devices"`
	Threshold       *scoring.Threshold `json:"threshold,omitempty"`
	DecisionCut     float64            `json:"decisionCut"`
}

// Info reports the loaded model set.
func (r *Registry) Info() ModelInfo {
	vocab := r.Deriver.Vocabulary()
	return ModelInfo{
		ModelDir:        r.ModelDir,
		LoadedAt:        r.LoadedAt,
		FeatureCount:    feature.Count,
		FeatureNames:    feature.Names,
		TreeCount:       r.Ensemble.Isolation.TreeCount,
		SampleSize:      r.Ensemble.Isolation.SampleSize,
		Neighbors:       r.Ensemble.Density.Neighbors,
		IsolationWeight: r.Ensemble.IsolationWeight,
		DensityWeight:   r.Ensemble.DensityWeight,
		Categories:      feature.Values(vocab.Categories),
		Cities:          feature.Values(vocab.Cities),
		Devices:         feature.Values(vocab.Devices),
		Threshold:       r.Scorer.Threshold(),
		DecisionCut:     r.Scorer.Cut(),
	}
}
