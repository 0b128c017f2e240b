package dayplan

import (
	"math"

	"github.com/raceops/courseflow/internal/course"
	"github.com/raceops/courseflow/internal/fault"
	"github.com/raceops/courseflow/internal/participants"
)

// Timeline is one day's uniform global time grid. Window k covers the
// half-open interval [T0S + k*DtS, T0S + (k+1)*DtS) in seconds after
// midnight.
type Timeline struct {
	T0S     float64
	DtS     float64
	Windows int
}

// WindowStartS returns the start of window k in seconds after midnight.
func (tl Timeline) WindowStartS(k int) float64 {
	return tl.T0S + float64(k)*tl.DtS
}

// WindowEndS returns the end of window k in seconds after midnight.
func (tl Timeline) WindowEndS(k int) float64 {
	return tl.T0S + float64(k+1)*tl.DtS
}

// Index maps an absolute clock time to its window index. Times before the
// anchor map to negative indices; callers clamp per the event's first index.
func (tl Timeline) Index(tS float64) int {
	return int(math.Floor((tS - tl.T0S) / tl.DtS))
}

// FirstIndexOf returns k0(e), the first window an event's runners may occupy.
func (tl Timeline) FirstIndexOf(ev Event) int {
	return int(math.Floor((ev.StartS() - tl.T0S) / tl.DtS))
}

// BuildTimeline derives a day's grid: t0 is the earliest event start and the
// horizon covers the last runner's exit from the furthest segment their
// event uses. Runners with non-positive pace do not extend the horizon; the
// binning engine drops them.
func BuildTimeline(plan *DayPlan, crs *course.Course, ps *participants.ParticipantSet, dtS float64) (Timeline, error) {
	if dtS <= 0 {
		return Timeline{}, fault.Config("window width must be positive, got %g", dtS)
	}

	t0 := plan.AnchorS()
	horizon := t0

	for _, ev := range plan.Events {
		exitKm := maxExitKm(crs, ev.Name)

		for _, p := range ps.ForEvent(ev.Name) {
			if p.PaceMinPerKm <= 0 {
				continue
			}

			exit := ev.StartS() + p.StartOffsetS + p.PaceSPerKm()*exitKm
			if exit > horizon {
				horizon = exit
			}
		}
	}

	windows := int(math.Ceil((horizon - t0) / dtS))
	if windows < 1 {
		windows = 1
	}

	return Timeline{T0S: t0, DtS: dtS, Windows: windows}, nil
}

// maxExitKm returns the furthest to_km across all segments the event uses.
func maxExitKm(crs *course.Course, event string) float64 {
	exit := 0.0

	for i := range crs.SegmentCount() {
		seg := crs.SegmentAt(i)

		sp, ok := seg.SpanOf(event)
		if !ok {
			continue
		}

		if sp.ToKm > exit {
			exit = sp.ToKm
		}
	}

	return exit
}
