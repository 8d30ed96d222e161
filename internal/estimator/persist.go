package estimator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Artifact file names within a model directory.
const (
	IsolationFile = "isolation.json"
	DensityFile   = "density.json"
)

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Save writes both fitted members to dir, creating it if needed.
func (e *Ensemble) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("model dir: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, IsolationFile), e.Isolation); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, DensityFile), e.Density)
}

// LoadIsolationForest restores a fitted forest from a model directory,
// rejecting artifacts whose feature width disagrees with wantFeatures.
func LoadIsolationForest(dir string, wantFeatures int) (*IsolationForest, error) {
	f := &IsolationForest{}
	if err := readJSON(filepath.Join(dir, IsolationFile), f); err != nil {
		return nil, err
	}
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("isolation artifact: %w", domain.ErrNotFitted)
	}
	if f.Features != wantFeatures {
		return nil, fmt.Errorf("isolation artifact: %w: trained on %d features, deriver emits %d",
			domain.ErrFeatureMismatch, f.Features, wantFeatures)
	}
	return f, nil
}

// LoadLocalOutlierFactor restores a fitted density model from a model
// directory with the same feature-width validation.
func LoadLocalOutlierFactor(dir string, wantFeatures int) (*LocalOutlierFactor, error) {
	l := &LocalOutlierFactor{}
	if err := readJSON(filepath.Join(dir, DensityFile), l); err != nil {
		return nil, err
	}
	if len(l.Points) == 0 {
		return nil, fmt.Errorf("density artifact: %w", domain.ErrNotFitted)
	}
	if l.Features != wantFeatures {
		return nil, fmt.Errorf("density artifact: %w: trained on %d features, deriver emits %d",
			domain.ErrFeatureMismatch, l.Features, wantFeatures)
	}
	return l, nil
}
