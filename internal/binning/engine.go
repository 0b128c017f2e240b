package binning

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/raceops/courseflow/internal/budget"
	"github.com/raceops/courseflow/internal/course"
	"github.com/raceops/courseflow/internal/dayplan"
	"github.com/raceops/courseflow/internal/fault"
	"github.com/raceops/courseflow/internal/participants"
	"github.com/raceops/courseflow/internal/rulebook"
)

const (
	metersPerKm      = 1000.0
	secondsPerMinute = 60.0
)

// BinDay produces the complete set of occupied bins for every segment used
// by any event of the plan. Deterministic for fixed inputs: bins are sorted
// (seg_id, j, k) and worker count never changes the result. Coarsening
// rebuilds the grid and re-maps every runner; old bins are never summed.
func BinDay(
	ctx context.Context,
	plan *dayplan.DayPlan,
	crs *course.Course,
	ps *participants.ParticipantSet,
	rb *rulebook.Rulebook,
	params Params,
) (*Result, error) {
	if params.DxKm <= 0 || params.DtS <= 0 || params.MaxBins <= 0 {
		return nil, fault.Config("bin widths and max_bins must be positive")
	}

	for _, ev := range plan.Events {
		if len(crs.SegmentsUsedBy([]string{ev.Name})) == 0 {
			return nil, fault.Data("event %q has no segment span in the course", ev.Name).WithDay(plan.Day)
		}
	}

	baseTimeline, err := dayplan.BuildTimeline(plan, crs, ps, params.DtS)
	if err != nil {
		return nil, err
	}

	grids := estimateGrids(plan, crs, baseTimeline)

	step, ok := budget.Fit(grids, params.DxKm, params.MaxBins)
	if !ok {
		return nil, fault.Budget("estimated bin count exceeds max_bins %d even at the coarsest grid",
			params.MaxBins).WithDay(plan.Day)
	}

	softFired := false

	for {
		_, canCoarsen := budget.NextTemporal(step)

		result, timedOut, runErr := computeDay(ctx, plan, crs, ps, rb, params, step, canCoarsen)
		if runErr != nil {
			return nil, runErr
		}

		if timedOut {
			// Soft ceiling: widen the time grid and redo the full mapping.
			step, _ = budget.NextTemporal(step)
			softFired = true

			continue
		}

		result.Meta.SoftTimeoutFired = softFired

		return result, nil
	}
}

// estimateGrids sizes each usable segment's grid for the budget fit.
func estimateGrids(plan *dayplan.DayPlan, crs *course.Course, tl dayplan.Timeline) []budget.Grid {
	events := plan.EventNames()
	grids := make([]budget.Grid, 0, len(plan.Segments))

	for _, segID := range plan.Segments {
		seg, ok := crs.Segment(segID)
		if !ok || seg.WidthM <= 0 {
			continue
		}

		grids = append(grids, budget.Grid{
			LengthKm: seg.LengthKm(events),
			Windows:  tl.Windows,
		})
	}

	return grids
}

// segResult is one segment's contribution, merged in plan order.
type segResult struct {
	bins []Bin
	skip *SegmentSkip
}

func computeDay(
	ctx context.Context,
	plan *dayplan.DayPlan,
	crs *course.Course,
	ps *participants.ParticipantSet,
	rb *rulebook.Rulebook,
	params Params,
	step budget.Step,
	canCoarsen bool,
) (*Result, bool, error) {
	dx := params.DxKm * float64(step.DxMult)
	dt := params.DtS * float64(step.DtMult)

	tl, err := dayplan.BuildTimeline(plan, crs, ps, dt)
	if err != nil {
		return nil, false, err
	}

	workers := params.Workers
	if workers < 1 {
		workers = 1
	}

	var deadline time.Time
	if params.SoftTimeout > 0 && canCoarsen {
		deadline = time.Now().Add(params.SoftTimeout)
	}

	results := make([]segResult, len(plan.Segments))
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup

	timedOut := false

	for i, segID := range plan.Segments {
		if ctx.Err() != nil {
			break
		}

		// Segment boundaries are the only suspension points: soft timeout
		// and cancellation are both observed here, never inside a segment.
		if !deadline.IsZero() && time.Now().After(deadline) {
			timedOut = true

			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(i int, segID string) {
			defer wg.Done()
			defer func() { <-sem }()

			results[i] = binSegment(plan, crs, ps, rb, segID, tl, dx, dt)
		}(i, segID)
	}

	wg.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, false, fault.Wrap(fault.KindTimeout, ctxErr, "day deadline exceeded during binning").WithDay(plan.Day)
		}

		return nil, false, ctxErr
	}

	if timedOut {
		return nil, true, nil
	}

	meta := Meta{
		Step:           step,
		DxKm:           dx,
		DtS:            dt,
		Timeline:       tl,
		SkippedRunners: countSkippedRunners(plan, ps),
	}

	var bins []Bin

	for _, res := range results {
		bins = append(bins, res.bins...)

		if res.skip != nil {
			meta.SkippedSegments = append(meta.SkippedSegments, *res.skip)
		}
	}

	// Per-segment slices are already (j, k) sorted; plan.Segments is sorted
	// by id, so the concatenation is (seg_id, j, k) ordered.
	return &Result{Bins: bins, Meta: meta}, false, nil
}

// countSkippedRunners counts the day's runners dropped for non-positive pace.
func countSkippedRunners(plan *dayplan.DayPlan, ps *participants.ParticipantSet) int {
	skipped := 0

	for _, ev := range plan.Events {
		for _, p := range ps.ForEvent(ev.Name) {
			if p.PaceMinPerKm <= 0 {
				skipped++
			}
		}
	}

	return skipped
}

// cell keys one (distance bin, time window) pair within a segment.
type cell struct {
	j int
	k int
}

func binSegment(
	plan *dayplan.DayPlan,
	crs *course.Course,
	ps *participants.ParticipantSet,
	rb *rulebook.Rulebook,
	segID string,
	tl dayplan.Timeline,
	dxKm, dtS float64,
) segResult {
	seg, ok := crs.Segment(segID)
	if !ok {
		return segResult{skip: &SegmentSkip{SegID: segID, Reason: "unknown_segment"}}
	}

	if seg.WidthM <= 0 {
		return segResult{skip: &SegmentSkip{SegID: segID, Reason: FlagWidthMissing}}
	}

	events := plan.EventNames()
	lengthKm := seg.LengthKm(events)

	baseKm, used := seg.BaseKm(events)
	if !used || lengthKm <= 0 {
		return segResult{skip: &SegmentSkip{SegID: segID, Reason: "no_event_span"}}
	}

	short := lengthKm < dxKm
	nBins := int(math.Ceil(lengthKm / dxKm))

	if nBins < 1 {
		nBins = 1
	}

	counts := make(map[cell]int)

	for _, ev := range plan.Events {
		sp, usedBy := seg.SpanOf(ev.Name)
		if !usedBy {
			continue
		}

		k0 := tl.FirstIndexOf(ev)

		for _, p := range ps.ForEvent(ev.Name) {
			if p.PaceMinPerKm <= 0 {
				continue
			}

			placeRunner(counts, p, ev, sp, tl, k0, dxKm, lengthKm, nBins)
		}
	}

	widthEff := seg.WidthEffectiveM()
	thresholds := rb.ThresholdsFor(seg.Class)
	capacity := rb.CapacityFor(seg.Class)

	cells := make([]cell, 0, len(counts))
	for c := range counts {
		cells = append(cells, c)
	}

	sort.Slice(cells, func(a, b int) bool {
		if cells[a].j != cells[b].j {
			return cells[a].j < cells[b].j
		}

		return cells[a].k < cells[b].k
	})

	bins := make([]Bin, 0, len(cells))

	for _, c := range cells {
		n := counts[c]

		relStart := float64(c.j) * dxKm
		relEnd := math.Min(relStart+dxKm, lengthKm)

		binLenM := (relEnd - relStart) * metersPerKm
		areal := float64(n) / (binLenM * widthEff)
		rate := (float64(n) / (dtS / secondsPerMinute)) / widthEff
		util := rate / capacity
		los := thresholds.Classify(areal)

		flag := ""
		if short {
			flag = FlagShortSegment
		}

		bins = append(bins, Bin{
			SegID:           segID,
			J:               c.j,
			K:               c.k,
			KmStart:         baseKm + relStart,
			KmEnd:           baseKm + relEnd,
			TStartS:         tl.WindowStartS(c.k),
			TEndS:           tl.WindowEndS(c.k),
			Concurrent:      n,
			ArealPM2:        areal,
			RatePerMPerMin:  rate,
			FlowUtilization: util,
			LOS:             los,
			Severity:        rulebook.SeverityOf(los, util),
			FlagReason:      flag,
		})
	}

	return segResult{bins: bins}
}

// placeRunner marks every (j, k) cell whose km interval the runner's
// continuous position trace crosses during window k. Times come from the
// runner's absolute clock (event start + offset + pace·km), never from the
// day anchor; the anchor only fixes the grid origin.
func placeRunner(
	counts map[cell]int,
	p participants.Participant,
	ev dayplan.Event,
	sp course.Span,
	tl dayplan.Timeline,
	k0 int,
	dxKm, lengthKm float64,
	nBins int,
) {
	clockS := ev.StartS() + p.StartOffsetS
	paceS := p.PaceSPerKm()

	exitKm := sp.ToKm
	if p.DistanceKm > 0 && p.DistanceKm < exitKm {
		exitKm = p.DistanceKm
	}

	if exitKm <= sp.FromKm {
		return
	}

	for j := range nBins {
		relStart := float64(j) * dxKm
		relEnd := math.Min(relStart+dxKm, lengthKm)

		kmA := sp.FromKm + relStart
		kmB := math.Min(sp.FromKm+relEnd, exitKm)

		if kmA >= exitKm {
			break
		}

		tIn := clockS + paceS*kmA
		tOut := clockS + paceS*kmB

		if tOut <= tIn {
			continue
		}

		kFirst := tl.Index(tIn)
		if kFirst < k0 {
			kFirst = k0
		}

		// Last window whose start precedes tOut; the presence interval is
		// half-open, so an exit exactly on a boundary excludes that window.
		kLast := int(math.Ceil((tOut-tl.T0S)/tl.DtS)) - 1
		if kLast > tl.Windows-1 {
			kLast = tl.Windows - 1
		}

		for k := kFirst; k <= kLast; k++ {
			counts[cell{j: j, k: k}]++
		}
	}
}
