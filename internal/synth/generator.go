// Package synth generates synthetic transaction fixtures for training
// and tests.
package synth

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Generator produces deterministic synthetic transaction batches for a
// fixed seed.
type Generator struct {
	rng  *rand.Rand
	seed int64
	base time.Time
}

// NewGenerator creates a generator seeded for reproducibility.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng:  rand.New(rand.NewSource(seed)),
		seed: seed,
		base: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var (
	normalCategories = []string{"grocery", "restaurant", "gas", "retail", "entertainment"}
	fraudCategories  = []string{"electronics", "jewelry", "online", "international"}
	normalCities     = []string{"Mumbai", "Delhi", "Bangalore", "Hyderabad", "Chennai"}
	fraudCities      = []string{"Unknown", "International", "Delhi", "Mumbai"}
)

// NormalTransactions generates transactions following normal patterns:
// daytime hours, moderate lognormal amounts, common categories.
func (g *Generator) NormalTransactions(n int) []*domain.Transaction {
	txs := make([]*domain.Transaction, 0, n)
	for i := 0; i < n; i++ {
		ts := g.base.AddDate(0, 0, g.rng.Intn(30)).
			Add(time.Duration(6+g.rng.Intn(16)) * time.Hour).
			Add(time.Duration(g.rng.Intn(60)) * time.Minute)

		txs = append(txs, &domain.Transaction{
			ID:               fmt.Sprintf("TXN_%06d", i),
			UserID:           fmt.Sprintf("USER_%04d", 1+g.rng.Intn(999)),
			Amount:           g.lognormal(3.5, 1.2),
			MerchantCategory: normalCategories[g.rng.Intn(len(normalCategories))],
			LocationCity:     normalCities[g.rng.Intn(len(normalCities))],
			DeviceType:       g.deviceType(),
			Timestamp:        ts,
			IsFraud:          false,
		})
	}
	return txs
}

// FraudTransactions generates transactions following fraud patterns:
// late-night hours, large amounts, unusual categories and locations.
func (g *Generator) FraudTransactions(n int) []*domain.Transaction {
	txs := make([]*domain.Transaction, 0, n)
	for i := 0; i < n; i++ {
		ts := g.base.AddDate(0, 0, g.rng.Intn(30)).
			Add(time.Duration(g.rng.Intn(6)) * time.Hour).
			Add(time.Duration(g.rng.Intn(60)) * time.Minute)

		device := "web"
		if g.rng.Float64() >= 0.8 {
			device = "mobile"
		}

		txs = append(txs, &domain.Transaction{
			ID:               fmt.Sprintf("TXN_FRAUD_%06d", i),
			UserID:           fmt.Sprintf("USER_%04d", 1+g.rng.Intn(999)),
			Amount:           g.lognormal(5.5, 1.5),
			MerchantCategory: fraudCategories[g.rng.Intn(len(fraudCategories))],
			LocationCity:     fraudCities[g.rng.Intn(len(fraudCities))],
			DeviceType:       device,
			Timestamp:        ts,
			IsFraud:          true,
		})
	}
	return txs
}

// Dataset generates a shuffled mix of normal and fraudulent transactions.
func (g *Generator) Dataset(nNormal, nFraud int) []*domain.Transaction {
	txs := append(g.NormalTransactions(nNormal), g.FraudTransactions(nFraud)...)
	g.rng.Shuffle(len(txs), func(i, j int) {
		txs[i], txs[j] = txs[j], txs[i]
	})
	return txs
}

// lognormal samples exp(N(mu, sigma)).
func (g *Generator) lognormal(mu, sigma float64) float64 {
	return math.Exp(mu + sigma*g.rng.NormFloat64())
}

// deviceType samples mobile/web/pos with 0.6/0.3/0.1 weights.
func (g *Generator) deviceType() string {
	r := g.rng.Float64()
	switch {
	case r < 0.6:
		return "mobile"
	case r < 0.9:
		return "web"
	default:
		return "pos"
	}
}
