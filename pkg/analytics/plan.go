package analytics

import "math"

// Stratum tracks one label's population, quota, and running sample state.
type Stratum struct {
	Population  int64
	Quota       int64
	Sampled     int64
	SumQuantity float64
	SumValue    float64
}

// StrataPlan maps each stratum to its population and planned sample quota.
//
// Quotas use sqrt-weighted importance sampling: stratum s with population
// n_s gets weight w_s = sqrt(n_s), and quota_s = max(1, round(target *
// w_s / sum(w))). Relative to naive proportional sampling this
// under-samples very large strata and over-samples rare ones, trading a
// small bias on totals in extremely skewed distributions for guaranteed
// non-zero coverage of every non-empty stratum. Callers that need pure
// proportional sampling should build their own plan with w_s = n_s; the
// trade-off is deliberate, not incidental.
//
// The sum of quotas tracks the requested target but may slightly exceed
// or fall short of it because each stratum rounds independently and is
// floored at 1.
type StrataPlan struct {
	TotalRows int64
	// Target is the requested sample size, max(1, round(N * fraction)).
	Target int64
	Strata map[string]*Stratum
	// RowsSkipped counts unparseable rows encountered during the draw.
	RowsSkipped int64
}

// BuildPlan computes per-stratum quotas from pass-1 population counts.
func BuildPlan(counts map[string]int64, total int64, fraction float64) *StrataPlan {
	target := int64(math.Round(float64(total) * fraction))
	if target < 1 {
		target = 1
	}

	var weightSum float64
	for _, n := range counts {
		weightSum += math.Sqrt(float64(n))
	}

	strata := make(map[string]*Stratum, len(counts))
	for label, n := range counts {
		if n <= 0 {
			continue
		}
		quota := int64(math.Round(float64(target) * math.Sqrt(float64(n)) / weightSum))
		if quota < 1 {
			quota = 1
		}
		if quota > n {
			quota = n
		}
		strata[label] = &Stratum{Population: n, Quota: quota}
	}

	return &StrataPlan{TotalRows: total, Target: target, Strata: strata}
}
