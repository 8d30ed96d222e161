// Package feature derives the fixed numeric feature matrix the
// estimators consume from raw transactions.
package feature

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Count is the width of the derived feature vector. Estimators validate
// against it when loading persisted artifacts.
const Count = 18

// Names lists the derived columns in vector order.
var Names = []string{
	"amount",
	"amount_log",
	"amount_sqrt",
	"hour",
	"day_of_week",
	"is_weekend",
	"is_night",
	"user_avg_amount",
	"user_std_amount",
	"user_txn_count",
	"amount_vs_user_avg",
	"amount_deviation",
	"hours_since_prev",
	"merchant_category_code",
	"location_city_code",
	"device_type_code",
	"amount_x_hour",
	"amount_x_night",
}

// Deriver turns transactions into feature vectors. Categorical codes
// come from a vocabulary frozen at fit time; user-level aggregates are
// computed over the batch being derived.
type Deriver struct {
	vocab *Vocabulary
}

// NewDeriver creates a deriver over an existing vocabulary. Pass a
// fitted vocabulary when serving, or NewVocabulary() before Fit.
func NewDeriver(vocab *Vocabulary) *Deriver {
	if vocab == nil {
		vocab = NewVocabulary()
	}
	return &Deriver{vocab: vocab}
}

// Vocabulary returns the deriver's vocabulary for persistence.
func (d *Deriver) Vocabulary() *Vocabulary { return d.vocab }

// Fit registers every categorical value in the batch, assigning codes
// in first-seen order, then derives the feature matrix.
func (d *Deriver) Fit(txs []*domain.Transaction) ([][]float64, error) {
	for _, tx := range txs {
		assign(d.vocab.Categories, tx.MerchantCategory)
		assign(d.vocab.Cities, tx.LocationCity)
		assign(d.vocab.Devices, tx.DeviceType)
	}
	return d.Derive(txs)
}

// userStats holds per-user aggregates over a single batch.
type userStats struct {
	mean  float64
	std   float64
	count float64
}

// Derive computes the feature matrix for a batch using the fitted
// vocabulary. Values unseen at fit time encode as -1.
func (d *Deriver) Derive(txs []*domain.Transaction) ([][]float64, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", domain.ErrInvalidInput)
	}

	stats := batchUserStats(txs)
	gaps := hoursSincePrev(txs)

	rows := make([][]float64, len(txs))
	for i, tx := range txs {
		us := stats[tx.UserID]
		hour := float64(tx.Timestamp.Hour())
		weekday := float64(tx.Timestamp.Weekday())
		isWeekend := 0.0
		if wd := tx.Timestamp.Weekday(); wd == 0 || wd == 6 {
			isWeekend = 1
		}
		// Night means the small hours only: 00:00 through 05:59.
		isNight := 0.0
		if tx.Timestamp.Hour() < 6 {
			isNight = 1
		}

		rows[i] = []float64{
			tx.Amount,
			math.Log1p(tx.Amount),
			math.Sqrt(tx.Amount),
			hour,
			weekday,
			isWeekend,
			isNight,
			us.mean,
			us.std,
			us.count,
			tx.Amount / (us.mean + 1),
			(tx.Amount - us.mean) / (us.std + 1),
			gaps[i],
			d.vocab.CategoryCode(tx.MerchantCategory),
			d.vocab.CityCode(tx.LocationCity),
			d.vocab.DeviceCode(tx.DeviceType),
			tx.Amount * hour,
			tx.Amount * isNight,
		}
	}
	return rows, nil
}

// batchUserStats computes mean, sample standard deviation and count of
// amounts per user within the batch.
func batchUserStats(txs []*domain.Transaction) map[string]userStats {
	sums := make(map[string][]float64)
	for _, tx := range txs {
		sums[tx.UserID] = append(sums[tx.UserID], tx.Amount)
	}

	out := make(map[string]userStats, len(sums))
	for user, amounts := range sums {
		n := float64(len(amounts))
		var sum float64
		for _, a := range amounts {
			sum += a
		}
		mean := sum / n

		var std float64
		if len(amounts) > 1 {
			var ss float64
			for _, a := range amounts {
				ss += (a - mean) * (a - mean)
			}
			std = math.Sqrt(ss / (n - 1))
		}
		out[user] = userStats{mean: mean, std: std, count: n}
	}
	return out
}

// hoursSincePrev returns, for each transaction, the hours elapsed since
// the same user's previous transaction in the batch. A user's first
// transaction gets 24.
func hoursSincePrev(txs []*domain.Transaction) []float64 {
	byUser := make(map[string][]int)
	for i, tx := range txs {
		byUser[tx.UserID] = append(byUser[tx.UserID], i)
	}

	gaps := make([]float64, len(txs))
	for _, idxs := range byUser {
		order := append([]int(nil), idxs...)
		sort.Slice(order, func(a, b int) bool {
			return txs[order[a]].Timestamp.Before(txs[order[b]].Timestamp)
		})
		for k, idx := range order {
			if k == 0 {
				gaps[idx] = 24
				continue
			}
			prev := txs[order[k-1]]
			gaps[idx] = txs[idx].Timestamp.Sub(prev.Timestamp).Hours()
		}
	}
	return gaps
}
