// Kestrel training tool - fits and calibrates the detection models.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0
//
// Usage:
//   go run cmd/train/main.go -out ./models [-normal 2000] [-fraud 100]
//
// This tool:
//   1. Generates a labeled synthetic transaction dataset
//   2. Fits the feature deriver, isolation forest and density estimator
//   3. Calibrates the anomaly threshold against a recall target
//   4. Writes the model artifacts for the kestrel server to load
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/opensource-finance/kestrel/internal/estimator"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/synth"
)

func main() {
	out := flag.String("out", "./models", "Output directory for model artifacts")
	nNormal := flag.Int("normal", 2000, "Number of normal transactions to generate")
	nFraud := flag.Int("fraud", 100, "Number of fraudulent transactions to generate")
	seed := flag.Int64("seed", 42, "Random seed for data generation and training")
	trees := flag.Int("trees", 100, "Isolation forest tree count")
	sampleSize := flag.Int("sample-size", 256, "Isolation forest subsample size per tree")
	neighbors := flag.Int("neighbors", 20, "Density estimator neighbor count")
	contamination := flag.Float64("contamination", 0.05, "Expected anomaly fraction")
	isoWeight := flag.Float64("iso-weight", 0.6, "Isolation forest weight in the ensemble")
	denWeight := flag.Float64("den-weight", 0.4, "Density estimator weight in the ensemble")
	targetRecall := flag.Float64("target-recall", 0.8, "Minimum recall for threshold calibration")
	calibrate := flag.Bool("calibrate", true, "Calibrate the anomaly threshold on labels")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL MODEL TRAINING                 ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
	fmt.Printf("\nOutput dir:    %s\n", *out)
	fmt.Printf("Dataset:       %d normal / %d fraud (seed %d)\n", *nNormal, *nFraud, *seed)
	fmt.Printf("Forest:        %d trees, subsample %d\n", *trees, *sampleSize)
	fmt.Printf("Density:       %d neighbors\n", *neighbors)
	fmt.Printf("Contamination: %.3f\n", *contamination)
	fmt.Printf("Weights:       %.2f isolation / %.2f density\n", *isoWeight, *denWeight)
	fmt.Println()

	// 1. Generate labeled dataset
	gen := synth.NewGenerator(*seed)
	txs := gen.Dataset(*nNormal, *nFraud)
	slog.Info("dataset generated", "transactions", len(txs))

	// 2. Fit feature deriver and derive training matrix
	deriver := feature.NewDeriver(nil)
	rows, err := deriver.Fit(txs)
	if err != nil {
		fatal("fit features", err)
	}
	slog.Info("features derived", "rows", len(rows), "features", feature.Count)

	// 3. Fit the ensemble
	ens := estimator.NewEnsemble(
		estimator.NewIsolationForest(estimator.IsolationConfig{
			TreeCount:     *trees,
			SampleSize:    *sampleSize,
			Contamination: *contamination,
			Seed:          *seed,
		}),
		estimator.NewLocalOutlierFactor(estimator.DensityConfig{
			Neighbors:     *neighbors,
			Contamination: *contamination,
		}),
		*isoWeight, *denWeight,
	)
	if err := ens.Fit(rows); err != nil {
		fatal("fit ensemble", err)
	}
	slog.Info("ensemble fitted")

	// 4. Score the training set
	scores := make([]float64, len(rows))
	labels := make([]bool, len(rows))
	for i, row := range rows {
		s, err := ens.Score(row)
		if err != nil {
			fatal("score training set", err)
		}
		scores[i] = s
		labels[i] = txs[i].IsFraud
	}

	// 5. Calibrate the decision threshold
	var threshold *scoring.Threshold
	cut := scoring.NewScorer(nil).Cut()
	if *calibrate && *nFraud > 0 {
		threshold, err = scoring.Calibrate(scores, labels, *targetRecall)
		if err != nil {
			fatal("calibrate threshold", err)
		}
		cut = threshold.Threshold
		fmt.Printf("Calibrated threshold: %.4f (target recall %.2f, achieved %.2f, precision %.2f)\n",
			threshold.Threshold, threshold.TargetRecall,
			threshold.AchievedRecall, threshold.AchievedPrecision)
	} else {
		fmt.Printf("Calibration skipped, default threshold %.2f\n", cut)
	}

	// 6. Report training-set quality
	report := scoring.Evaluate(scores, labels, cut)
	fmt.Println("\nTraining-set confusion matrix:")
	fmt.Printf("                 Predicted+   Predicted-\n")
	fmt.Printf("  Actual fraud   %10d   %10d\n", report.TruePositives, report.FalseNegatives)
	fmt.Printf("  Actual normal  %10d   %10d\n", report.FalsePositives, report.TrueNegatives)
	fmt.Printf("\n  Precision: %.4f\n", report.Precision)
	fmt.Printf("  Recall:    %.4f\n", report.Recall)
	fmt.Printf("  F1 score:  %.4f\n", report.F1)

	// 7. Persist artifacts
	if err := pipeline.Save(*out, deriver.Vocabulary(), ens, threshold); err != nil {
		fatal("save artifacts", err)
	}

	fmt.Printf("\nModel artifacts written to %s\n", *out)
	fmt.Println("Start the server with: KESTREL_MODEL_DIR=" + *out + " kestrel")
}

func fatal(stage string, err error) {
	slog.Error(stage, "error", err)
	os.Exit(1)
}
