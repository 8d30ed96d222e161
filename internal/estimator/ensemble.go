package estimator

import "fmt"

// Ensemble fuses the isolation forest and the density model into one
// anomaly score. Scores blend by fixed weights; binary predictions use
// an AND rule so a point counts as anomalous only when both members
// agree.
type Ensemble struct {
	Isolation       *IsolationForest
	Density         *LocalOutlierFactor
	IsolationWeight float64
	DensityWeight   float64
}

// NewEnsemble builds the ensemble with the given member weights. Zero
// weights fall back to the 0.6/0.4 default split.
func NewEnsemble(iso *IsolationForest, den *LocalOutlierFactor, isoWeight, denWeight float64) *Ensemble {
	if isoWeight <= 0 && denWeight <= 0 {
		isoWeight, denWeight = 0.6, 0.4
	}
	return &Ensemble{
		Isolation:       iso,
		Density:         den,
		IsolationWeight: isoWeight,
		DensityWeight:   denWeight,
	}
}

// Fit trains both members on the same matrix.
func (e *Ensemble) Fit(rows [][]float64) error {
	if err := e.Isolation.Fit(rows); err != nil {
		return fmt.Errorf("ensemble fit: %w", err)
	}
	if err := e.Density.Fit(rows); err != nil {
		return fmt.Errorf("ensemble fit: %w", err)
	}
	return nil
}

// Components holds the per-member and fused results for one vector.
type Components struct {
	IsolationScore float64
	DensityScore   float64
	Fused          float64
	Anomalous      bool
}

// Evaluate scores a vector through both members and fuses the results.
func (e *Ensemble) Evaluate(x []float64) (Components, error) {
	isoScore, err := e.Isolation.Score(x)
	if err != nil {
		return Components{}, err
	}
	denScore, err := e.Density.Score(x)
	if err != nil {
		return Components{}, err
	}
	isoPred, err := e.Isolation.Predict(x)
	if err != nil {
		return Components{}, err
	}
	denPred, err := e.Density.Predict(x)
	if err != nil {
		return Components{}, err
	}

	return Components{
		IsolationScore: isoScore,
		DensityScore:   denScore,
		Fused:          e.IsolationWeight*isoScore + e.DensityWeight*denScore,
		Anomalous:      isoPred+denPred < 0,
	}, nil
}

// Score returns the fused anomaly score in [0,1].
func (e *Ensemble) Score(x []float64) (float64, error) {
	c, err := e.Evaluate(x)
	if err != nil {
		return 0, err
	}
	return c.Fused, nil
}

// Predict applies the AND rule over member predictions.
func (e *Ensemble) Predict(x []float64) (int, error) {
	c, err := e.Evaluate(x)
	if err != nil {
		return 0, err
	}
	if c.Anomalous {
		return -1, nil
	}
	return 1, nil
}
