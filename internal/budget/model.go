// Package budget maps a per-day bin budget to a coarsening schedule. The
// binning engine asks for the first grid resolution whose estimated bin count
// fits under the ceiling; the schedule widens time windows before distance
// bins because temporal coarsening loses less operational detail.
package budget

import "math"

// Step is one coarsening rung expressed as multipliers over the requested
// grid widths.
type Step struct {
	DtMult int
	DxMult int
}

// IsBase reports whether the step leaves the requested grid untouched.
func (s Step) IsBase() bool {
	return s.DtMult == 1 && s.DxMult == 1
}

// Schedule returns the coarsening rungs in application order: temporal first
// (Δt → 2Δt → 4Δt), then spatial (Δx → 2Δx) at the coarsest time grid.
func Schedule() []Step {
	return []Step{
		{DtMult: 1, DxMult: 1},
		{DtMult: 2, DxMult: 1},
		{DtMult: 4, DxMult: 1},
		{DtMult: 4, DxMult: 2},
	}
}

// NextTemporal returns the next rung that widens only the time grid relative
// to cur, used when a soft timeout fires mid-run. The second result is false
// when cur is already at the coarsest temporal rung.
func NextTemporal(cur Step) (Step, bool) {
	for _, step := range Schedule() {
		if step.DxMult == cur.DxMult && step.DtMult > cur.DtMult {
			return step, true
		}
	}

	return cur, false
}

// Grid describes one segment's contribution to the bin estimate.
type Grid struct {
	// LengthKm is the spatial extent the segment's bins cover.
	LengthKm float64
	// Windows is the number of occupied-horizon time windows at the base Δt.
	Windows int
}

// Estimate returns the bin count the given grids would produce at the step's
// resolution. Segments shorter than the (possibly coarsened) Δx still cost
// one bin per window.
func Estimate(grids []Grid, dxKm float64, step Step) int {
	total := 0

	for _, g := range grids {
		spatial := int(math.Ceil(g.LengthKm / (dxKm * float64(step.DxMult))))
		if spatial < 1 {
			spatial = 1
		}

		windows := (g.Windows + step.DtMult - 1) / step.DtMult
		total += spatial * windows
	}

	return total
}

// Fit returns the first rung of the schedule whose estimate fits under
// maxBins. The second result is false when even the coarsest rung exceeds
// the ceiling.
func Fit(grids []Grid, dxKm float64, maxBins int) (Step, bool) {
	for _, step := range Schedule() {
		if Estimate(grids, dxKm, step) <= maxBins {
			return step, true
		}
	}

	return Step{}, false
}
