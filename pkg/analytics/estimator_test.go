package analytics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataflow/strataflow/pkg/flowerrors"
	"github.com/strataflow/strataflow/pkg/testutil"
)

func writeTable(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.csv")
	content := "id,timestamp,quantity,value,product\n"
	if len(lines) > 0 {
		content += strings.Join(lines, "\n") + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// uniformRows emits n rows for one label, all with the same quantity and
// value, so any unbiased stratified estimate recovers the totals exactly.
func uniformRows(label string, n int, qty int, value float64) []string {
	rows := make([]string, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, fmt.Sprintf("%d,%d,%d,%.2f,%s", i, i*10, qty, value, label))
	}
	return rows
}

func TestBuildPlanQuotas(t *testing.T) {
	counts := map[string]int64{"big": 900, "small": 100}
	plan := BuildPlan(counts, 1000, 0.1)

	assert.Equal(t, int64(100), plan.Target)
	require.Len(t, plan.Strata, 2)

	big := plan.Strata["big"]
	small := plan.Strata["small"]

	// sqrt weights: sqrt(900)=30, sqrt(100)=10 -> quotas 75 and 25.
	assert.Equal(t, int64(75), big.Quota)
	assert.Equal(t, int64(25), small.Quota)
	assert.Equal(t, int64(900), big.Population)
	assert.Equal(t, int64(100), small.Population)
}

func TestBuildPlanFloorsAndCaps(t *testing.T) {
	counts := map[string]int64{"huge": 100000, "singleton": 1}
	plan := BuildPlan(counts, 100001, 0.001)

	// Every non-empty stratum gets at least one row, and never more rows
	// than it has.
	assert.GreaterOrEqual(t, plan.Strata["singleton"].Quota, int64(1))
	assert.LessOrEqual(t, plan.Strata["singleton"].Quota, int64(1))
	assert.LessOrEqual(t, plan.Strata["huge"].Quota, int64(100000))
}

func TestBuildPlanTinyFractionStillSamples(t *testing.T) {
	plan := BuildPlan(map[string]int64{"only": 10}, 10, 0.0001)
	assert.Equal(t, int64(1), plan.Target)
	assert.Equal(t, int64(1), plan.Strata["only"].Quota)
}

func TestEstimateUniformStrataIsExact(t *testing.T) {
	var rows []string
	rows = append(rows, uniformRows("alpha", 60, 2, 5.00)...)
	rows = append(rows, uniformRows("beta", 40, 3, 7.50)...)
	path := writeTable(t, rows)

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	est := NewEstimator(',', testutil.TestHandle(t))
	res, err := est.Estimate(ctx, path, 0.1, 42)
	require.NoError(t, err)

	// Within each stratum every row is identical, so expansion-factor
	// reweighting must recover the true totals exactly.
	assert.Equal(t, int64(100), res.TotalRows)
	assert.Equal(t, 2, res.DistinctStrata)
	assert.Equal(t, int64(60*2+40*3), res.EstimatedTotalQuantity)
	assert.InDelta(t, 60*5.00+40*7.50, res.EstimatedTotalValue, 1e-6)
	assert.Equal(t, int64(42), res.Seed)
	assert.Greater(t, res.SampleSize, int64(0))
	assert.Less(t, res.SampleSize, int64(100))
	assert.InDelta(t, float64(res.SampleSize)/100, res.SampleFraction, 1e-9)
}

func TestEstimateSkewedStrataCoversRareStratum(t *testing.T) {
	// Heavy skew: the rare stratum is four orders of magnitude smaller
	// than the common one. sqrt weighting must still give it a non-zero
	// quota, and uniform per-stratum rows make the reweighted totals
	// exact, so a missed rare stratum would show up as a wrong total.
	var rows []string
	rows = append(rows, uniformRows("common", 10000, 2, 1.00)...)
	rows = append(rows, uniformRows("rare", 10, 7, 3.50)...)
	path := writeTable(t, rows)

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	est := NewEstimator(',', testutil.TestHandle(t))
	res, err := est.Estimate(ctx, path, 0.01, 42)
	require.NoError(t, err)

	assert.Equal(t, int64(10010), res.TotalRows)
	assert.Equal(t, 2, res.DistinctStrata)
	assert.Greater(t, res.SampleSize, int64(0))
	assert.Less(t, res.SampleSize, int64(200))

	// True totals: 10000*2 + 10*7 = 20070 and 10000*1.00 + 10*3.50 =
	// 10035. The rare stratum contributes the trailing 70/35; an estimate
	// that sampled only the common stratum could not land on these.
	assert.Equal(t, int64(20070), res.EstimatedTotalQuantity)
	assert.InDelta(t, 10035.0, res.EstimatedTotalValue, 1e-6)
}

func TestEstimateFullFractionSamplesEverything(t *testing.T) {
	path := writeTable(t, []string{
		"1,10,2,5.00,alpha",
		"2,20,4,1.25,alpha",
		"3,30,6,3.75,beta",
	})

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	est := NewEstimator(',', testutil.TestHandle(t))
	res, err := est.Estimate(ctx, path, 1, 7)
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.TotalRows)
	assert.Equal(t, int64(3), res.SampleSize)
	assert.Equal(t, int64(12), res.EstimatedTotalQuantity)
	assert.InDelta(t, 10.0, res.EstimatedTotalValue, 1e-9)
}

func TestEstimateSkipsUnparseableRows(t *testing.T) {
	path := writeTable(t, []string{
		"1,10,2,5.00,alpha",
		"2,20,junk,5.00,alpha",
		"3,30,2,5.00,alpha",
	})

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	est := NewEstimator(',', testutil.TestHandle(t))
	res, err := est.Estimate(ctx, path, 1, 0)
	require.NoError(t, err)

	// The bad row counted toward alpha's population in pass 1 but could
	// not be drawn, so the estimate expands the two good rows.
	assert.Equal(t, int64(3), res.TotalRows)
	assert.Equal(t, int64(2), res.SampleSize)
	assert.Equal(t, int64(1), res.RowsSkipped)
	assert.Equal(t, int64(6), res.EstimatedTotalQuantity)
}

func TestEstimateEmptyTable(t *testing.T) {
	path := writeTable(t, nil)

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	est := NewEstimator(',', testutil.TestHandle(t))
	_, err := est.Estimate(ctx, path, 0.5, 0)
	assert.ErrorIs(t, err, flowerrors.ErrEmptySample)
}

func TestEstimateMissingTable(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	est := NewEstimator(',', testutil.TestHandle(t))
	_, err := est.Estimate(ctx, filepath.Join(t.TempDir(), "nope.csv"), 0.5, 0)
	assert.ErrorIs(t, err, flowerrors.ErrSourceUnavailable)
}

func TestEstimateRejectsBadFraction(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	est := NewEstimator(',', testutil.TestHandle(t))
	for _, frac := range []float64{0, -1, 1.5} {
		_, err := est.Estimate(ctx, "ignored", frac, 0)
		require.Error(t, err, "fraction %v", frac)
		assert.True(t, flowerrors.IsType(err, flowerrors.ErrorTypeValidation))
	}
}
