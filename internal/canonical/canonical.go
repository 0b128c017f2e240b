// Package canonical collapses a day's bins into per-(segment, window)
// aggregates and reconciles them against independently recomputed peaks.
// Everything downstream of the pipeline (reports, manifests) reads these
// windows, never the raw bins.
package canonical

import (
	"math"
	"sort"

	"github.com/raceops/courseflow/internal/binning"
	"github.com/raceops/courseflow/internal/fault"
)

// ReconcileTolerance is the maximum tolerated relative error between the
// canonical density peak and the recomputed reference peak.
const ReconcileTolerance = 0.02

// reconcileEpsilon floors the denominator of the relative error so that
// zero-density windows compare exactly.
const reconcileEpsilon = 1e-9

// SegmentWindow is the canonical aggregate of one segment over one time
// window.
type SegmentWindow struct {
	SegID string
	K     int

	// TStartS and TEndS are the window bounds in seconds after midnight.
	TStartS float64
	TEndS   float64

	// DensityMean is the length-weighted mean areal density over the
	// occupied bins of the window.
	DensityMean float64
	// DensityPeak is the maximum areal density across the window's bins.
	DensityPeak float64
	// NBins counts the occupied bins contributing to the window.
	NBins int
}

type windowKey struct {
	segID string
	k     int
}

type windowAcc struct {
	window   SegmentWindow
	weighted float64
	lengthKm float64
}

// Aggregate groups bins by (seg_id, k) and returns one SegmentWindow per
// occupied window, sorted (seg_id, k). Window bounds are taken from the
// bins, which carry the effective post-coarsening grid.
func Aggregate(bins []binning.Bin) []SegmentWindow {
	acc := make(map[windowKey]*windowAcc)

	for _, b := range bins {
		key := windowKey{segID: b.SegID, k: b.K}

		w, ok := acc[key]
		if !ok {
			w = &windowAcc{window: SegmentWindow{
				SegID:   b.SegID,
				K:       b.K,
				TStartS: b.TStartS,
				TEndS:   b.TEndS,
			}}
			acc[key] = w
		}

		length := b.KmEnd - b.KmStart

		w.window.NBins++
		w.weighted += b.ArealPM2 * length
		w.lengthKm += length

		if b.ArealPM2 > w.window.DensityPeak {
			w.window.DensityPeak = b.ArealPM2
		}
	}

	windows := make([]SegmentWindow, 0, len(acc))

	for _, w := range acc {
		if w.lengthKm > 0 {
			w.window.DensityMean = w.weighted / w.lengthKm
		}

		windows = append(windows, w.window)
	}

	sort.Slice(windows, func(i, j int) bool {
		if windows[i].SegID != windows[j].SegID {
			return windows[i].SegID < windows[j].SegID
		}

		return windows[i].K < windows[j].K
	})

	return windows
}

// Reconcile recomputes the per-window peak density directly from the bins
// and compares it against the canonical windows. Returns the maximum
// relative error observed; an error above ReconcileTolerance, or a window
// present on only one side, fails with a ReconcileError. The caller keeps
// the bins on disk for diagnosis either way.
func Reconcile(windows []SegmentWindow, bins []binning.Bin) (float64, error) {
	reference := make(map[windowKey]float64, len(windows))

	for _, b := range bins {
		key := windowKey{segID: b.SegID, k: b.K}

		cur, ok := reference[key]
		if !ok || b.ArealPM2 > cur {
			reference[key] = b.ArealPM2
		}
	}

	if len(reference) != len(windows) {
		return 0, fault.Reconcile("window count mismatch: canonical %d, recomputed %d",
			len(windows), len(reference))
	}

	maxRelErr := 0.0

	for _, w := range windows {
		peak, ok := reference[windowKey{segID: w.SegID, k: w.K}]
		if !ok {
			return 0, fault.Reconcile("window (%s, k=%d) missing from recomputed reference", w.SegID, w.K)
		}

		relErr := math.Abs(w.DensityPeak-peak) / math.Max(peak, reconcileEpsilon)
		if relErr > maxRelErr {
			maxRelErr = relErr
		}
	}

	if maxRelErr > ReconcileTolerance {
		return maxRelErr, fault.Reconcile("density peak divergence %.6f exceeds tolerance %.2f",
			maxRelErr, ReconcileTolerance)
	}

	return maxRelErr, nil
}
