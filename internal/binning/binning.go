// Package binning grids runner presence over (segment × distance bin × time
// window) for one day and classifies each occupied cell by level of service.
// All computation is a pure function of the day plan, the course, and the
// participant set; only occupied bins are emitted.
package binning

import (
	"time"

	"github.com/raceops/courseflow/internal/budget"
	"github.com/raceops/courseflow/internal/dayplan"
	"github.com/raceops/courseflow/internal/rulebook"
)

// Flag reasons attached to bins or skipped segments.
const (
	// FlagShortSegment marks a segment shorter than Δx, covered by a single
	// full-length bin.
	FlagShortSegment = "short_segment"

	// FlagWidthMissing marks a segment skipped for missing or zero width.
	FlagWidthMissing = "width_missing"
)

// Params controls the grid resolution and the coarsening budget.
type Params struct {
	// DxKm is the requested distance bin width.
	DxKm float64
	// DtS is the requested time window width in seconds.
	DtS float64
	// MaxBins is the per-day coarsening ceiling.
	MaxBins int
	// SoftTimeout triggers temporal coarsening when the day's binning
	// exceeds it. Zero disables the soft ceiling.
	SoftTimeout time.Duration
	// Workers bounds the segment fan-out. Zero or one runs sequentially.
	Workers int
}

// Bin is one occupied (segment, distance bin, time window) cell.
type Bin struct {
	SegID string
	J     int
	K     int

	KmStart float64
	KmEnd   float64
	// TStartS and TEndS are the window bounds in seconds after midnight.
	TStartS float64
	TEndS   float64

	Concurrent      int
	ArealPM2        float64
	RatePerMPerMin  float64
	FlowUtilization float64
	LOS             rulebook.LOS
	Severity        rulebook.Severity
	FlagReason      string
}

// SegmentSkip records a segment excluded from binning and why.
type SegmentSkip struct {
	SegID  string
	Reason string
}

// Meta describes the effective grid after coarsening plus the skip counters.
type Meta struct {
	// Step is the coarsening rung the day settled on.
	Step budget.Step
	// DxKm and DtS are the effective widths after coarsening.
	DxKm float64
	DtS  float64
	// Timeline is the effective global grid of the day.
	Timeline dayplan.Timeline
	// SkippedRunners counts runners dropped for non-positive pace.
	SkippedRunners int
	// SkippedSegments lists segments that produced no bins and why.
	SkippedSegments []SegmentSkip
	// SoftTimeoutFired reports whether the soft ceiling forced coarsening.
	SoftTimeoutFired bool
}

// Result bundles a day's bins with the grid metadata.
type Result struct {
	Bins []Bin
	Meta Meta
}
