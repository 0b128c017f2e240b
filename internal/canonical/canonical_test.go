package canonical_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raceops/courseflow/internal/binning"
	"github.com/raceops/courseflow/internal/canonical"
	"github.com/raceops/courseflow/internal/fault"
)

func bin(seg string, j, k int, kmStart, kmEnd, areal float64) binning.Bin {
	return binning.Bin{
		SegID: seg, J: j, K: k,
		KmStart: kmStart, KmEnd: kmEnd,
		TStartS: float64(k) * 30, TEndS: float64(k+1) * 30,
		Concurrent: 1, ArealPM2: areal,
	}
}

func TestAggregate_LengthWeightedMean(t *testing.T) {
	t.Parallel()

	// Two bins of different length in the same window: the mean weights by
	// bin length, not by bin count.
	bins := []binning.Bin{
		bin("A1", 0, 3, 0.0, 0.1, 0.5),
		bin("A1", 1, 3, 0.1, 0.15, 0.2),
	}

	windows := canonical.Aggregate(bins)
	require.Len(t, windows, 1)

	w := windows[0]
	assert.Equal(t, "A1", w.SegID)
	assert.Equal(t, 3, w.K)
	assert.Equal(t, 2, w.NBins)
	assert.InDelta(t, 0.5, w.DensityPeak, 1e-12)
	assert.InDelta(t, (0.5*0.1+0.2*0.05)/0.15, w.DensityMean, 1e-12)
	assert.InDelta(t, 90.0, w.TStartS, 1e-12)
	assert.InDelta(t, 120.0, w.TEndS, 1e-12)
}

func TestAggregate_SortedBySegmentThenWindow(t *testing.T) {
	t.Parallel()

	bins := []binning.Bin{
		bin("B2", 0, 1, 0, 0.1, 0.3),
		bin("A1", 0, 5, 0, 0.1, 0.1),
		bin("A1", 0, 2, 0, 0.1, 0.2),
		bin("B2", 0, 0, 0, 0.1, 0.4),
	}

	windows := canonical.Aggregate(bins)
	require.Len(t, windows, 4)

	for i := 1; i < len(windows); i++ {
		prev, cur := windows[i-1], windows[i]
		inOrder := prev.SegID < cur.SegID ||
			(prev.SegID == cur.SegID && prev.K < cur.K)
		assert.True(t, inOrder, "windows out of order at %d", i)
	}
}

func TestAggregate_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, canonical.Aggregate(nil))
}

func TestReconcile_CleanPass(t *testing.T) {
	t.Parallel()

	bins := []binning.Bin{
		bin("A1", 0, 0, 0.0, 0.1, 0.8),
		bin("A1", 1, 0, 0.1, 0.2, 0.4),
		bin("A1", 0, 1, 0.0, 0.1, 0.6),
		bin("B2", 0, 0, 0.0, 0.05, 1.2),
	}

	windows := canonical.Aggregate(bins)

	maxRelErr, err := canonical.Reconcile(windows, bins)
	require.NoError(t, err)
	assert.Zero(t, maxRelErr, "peaks recomputed from the same bins must match exactly")
}

func TestReconcile_DivergenceFails(t *testing.T) {
	t.Parallel()

	bins := []binning.Bin{
		bin("A1", 0, 0, 0.0, 0.1, 0.8),
	}

	windows := canonical.Aggregate(bins)
	windows[0].DensityPeak *= 1.05

	maxRelErr, err := canonical.Reconcile(windows, bins)
	require.Error(t, err)
	assert.Equal(t, fault.KindReconcile, fault.KindOf(err))
	assert.Greater(t, maxRelErr, canonical.ReconcileTolerance)
}

func TestReconcile_WithinTolerancePasses(t *testing.T) {
	t.Parallel()

	bins := []binning.Bin{
		bin("A1", 0, 0, 0.0, 0.1, 0.8),
	}

	windows := canonical.Aggregate(bins)
	windows[0].DensityPeak *= 1.01

	maxRelErr, err := canonical.Reconcile(windows, bins)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, maxRelErr, 1e-9)
}

func TestReconcile_MissingWindowFails(t *testing.T) {
	t.Parallel()

	bins := []binning.Bin{
		bin("A1", 0, 0, 0.0, 0.1, 0.8),
		bin("A1", 0, 1, 0.0, 0.1, 0.6),
	}

	windows := canonical.Aggregate(bins)

	_, err := canonical.Reconcile(windows[:1], bins)
	require.Error(t, err)
	assert.Equal(t, fault.KindReconcile, fault.KindOf(err))
}
