// Package analytics implements the two-pass stratified-sampling estimator.
//
// Pass 1 scans only the label column of the output table and sizes each
// stratum. A sampling plan then assigns per-stratum quotas using
// sqrt-weighted importance sampling. Pass 2 re-scans the table in row
// order, keeps rows until each stratum's quota is met, and reweights the
// sampled sums by per-stratum expansion factors to estimate dataset-wide
// totals. Summarizing a table far larger than memory therefore costs one
// column scan plus a bounded second scan.
package analytics

import (
	"context"
	"io"
	"math"
	"os"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/strataflow/strataflow/pkg/audit"
	"github.com/strataflow/strataflow/pkg/flowerrors"
	"github.com/strataflow/strataflow/pkg/table"
)

// Result is the estimator's output, consumable as a presentation payload
// by the reporting collaborator.
type Result struct {
	TotalRows int64 `json:"total_rows"`
	// SampleSize is the number of rows actually drawn, which may differ
	// slightly from the requested target due to per-stratum rounding.
	SampleSize int64 `json:"sample_size"`
	// SampleFraction is the realized fraction, SampleSize/TotalRows.
	SampleFraction float64 `json:"sample_fraction"`
	DistinctStrata int     `json:"distinct_strata"`
	// EstimatedTotalQuantity and EstimatedTotalValue are the reweighted
	// dataset-wide totals.
	EstimatedTotalQuantity int64   `json:"estimated_total_quantity"`
	EstimatedTotalValue    float64 `json:"estimated_total_value"`
	// MemoryRSSBytes is the process resident set size at estimation
	// time. Purely informational.
	MemoryRSSBytes uint64 `json:"memory_rss_bytes"`
	// Seed is echoed from the request. The current draw is deterministic
	// (see Estimate), so the seed does not yet influence it.
	Seed int64 `json:"seed"`
	// RowsSkipped counts unparseable data rows ignored by pass 2.
	RowsSkipped int64 `json:"rows_skipped,omitempty"`
}

// Estimator computes sampled aggregate estimates over an output table.
type Estimator struct {
	sep   rune
	audit *audit.Handle
	log   *zap.Logger
}

// NewEstimator creates an estimator reading tables delimited by sep.
func NewEstimator(sep rune, h *audit.Handle) *Estimator {
	return &Estimator{
		sep:   sep,
		audit: h,
		log:   h.Logger().With(zap.String("component", "analytics")),
	}
}

// Estimate runs both passes over the table at tablePath.
//
// Failure modes are typed so callers cannot mistake "nothing to estimate"
// for "estimated zero": a missing or unreadable table yields an error
// matching flowerrors.ErrSourceUnavailable, and a table with a header but
// no rows yields flowerrors.ErrEmptySample.
//
// The pass-2 draw is first-seen-until-quota: a deterministic approximation
// of simple random sampling that is biased toward rows appearing earlier
// in the table when the table is not in random order. This matches the
// established observable behavior and is kept intentionally; seed is
// recorded in the Result for a future randomized draw.
func (e *Estimator) Estimate(ctx context.Context, tablePath string, sampleFraction float64, seed int64) (*Result, error) {
	if sampleFraction <= 0 || sampleFraction > 1 {
		return nil, flowerrors.Newf(flowerrors.ErrorTypeValidation,
			"sample fraction must be in (0, 1], got %v", sampleFraction)
	}
	if _, err := os.Stat(tablePath); err != nil {
		return nil, flowerrors.Wrap(flowerrors.ErrSourceUnavailable, flowerrors.ErrorTypeAnalytics,
			"output table not readable").WithDetail("path", tablePath)
	}

	// Pass 1: stratum sizing over the label column only.
	counts, total, err := table.CountLabels(tablePath, e.sep)
	if err != nil {
		return nil, flowerrors.Wrap(flowerrors.ErrSourceUnavailable, flowerrors.ErrorTypeAnalytics,
			"output table not readable").WithDetail("path", tablePath).WithDetail("cause", err.Error())
	}
	if total == 0 {
		return nil, flowerrors.Wrap(flowerrors.ErrEmptySample, flowerrors.ErrorTypeAnalytics,
			"output table has no data rows").WithDetail("path", tablePath)
	}

	plan := BuildPlan(counts, total, sampleFraction)
	e.log.Debug("sampling plan built",
		zap.Int64("total_rows", total),
		zap.Int64("target", plan.Target),
		zap.Int("strata", len(plan.Strata)))

	// Pass 2: stratified draw in original row order.
	if err := e.draw(ctx, tablePath, plan); err != nil {
		return nil, err
	}

	res := e.reweight(plan, seed)
	res.MemoryRSSBytes = processRSS()

	e.audit.Event("analytics_done", map[string]interface{}{
		"total_rows":      res.TotalRows,
		"sample_size":     res.SampleSize,
		"distinct_strata": res.DistinctStrata,
		"estimated_qty":   res.EstimatedTotalQuantity,
		"estimated_value": res.EstimatedTotalValue,
	})
	return res, nil
}

// draw fills each stratum's sample by scanning rows in order until every
// quota is met or the table is exhausted.
func (e *Estimator) draw(ctx context.Context, tablePath string, plan *StrataPlan) error {
	s, err := table.OpenScanner(tablePath, e.sep)
	if err != nil {
		return flowerrors.Wrap(flowerrors.ErrSourceUnavailable, flowerrors.ErrorTypeAnalytics,
			"output table not readable").WithDetail("path", tablePath)
	}
	defer s.Close()

	remaining := len(plan.Strata)
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return flowerrors.Wrap(err, flowerrors.ErrorTypeAnalytics, "estimation canceled")
		}

		row, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Unparseable rows are skipped, not fatal; pass 1 counted
			// them toward their stratum so expansion stays honest.
			plan.RowsSkipped++
			continue
		}

		st, ok := plan.Strata[row.Label]
		if !ok || st.Sampled >= st.Quota {
			continue
		}
		st.Sampled++
		st.SumQuantity += row.Quantity
		st.SumValue += row.Value
		if st.Sampled == st.Quota {
			remaining--
		}
	}
	return nil
}

// reweight applies per-stratum expansion factors and sums across strata.
func (e *Estimator) reweight(plan *StrataPlan, seed int64) *Result {
	var (
		sampleSize int64
		totalQty   float64
		totalVal   float64
	)
	for _, st := range plan.Strata {
		sampleSize += st.Sampled
		if st.Sampled == 0 {
			continue
		}
		expansion := float64(st.Population) / float64(st.Sampled)
		totalQty += st.SumQuantity * expansion
		totalVal += st.SumValue * expansion
	}

	return &Result{
		TotalRows:              plan.TotalRows,
		SampleSize:             sampleSize,
		SampleFraction:         float64(sampleSize) / float64(plan.TotalRows),
		DistinctStrata:         len(plan.Strata),
		EstimatedTotalQuantity: int64(math.Round(totalQty)),
		EstimatedTotalValue:    totalVal,
		Seed:                   seed,
		RowsSkipped:            plan.RowsSkipped,
	}
}

// processRSS probes the current process resident set size. Best effort;
// zero when the probe fails.
func processRSS() uint64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return 0
	}
	return mem.RSS
}
