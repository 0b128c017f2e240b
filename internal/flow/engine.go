package flow

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/raceops/courseflow/internal/course"
	"github.com/raceops/courseflow/internal/dayplan"
	"github.com/raceops/courseflow/internal/fault"
	"github.com/raceops/courseflow/internal/participants"
)

// FlowDay analyzes every flow pair whose two events run on the plan's day.
// Summaries come back sorted (seg_id, flow.csv row index); audits sorted
// (seg_id, runner_id_a, runner_id_b). Every requested event must appear in
// at least one pair on its day; there are no synthetic fallback pairs.
func FlowDay(
	ctx context.Context,
	plan *dayplan.DayPlan,
	crs *course.Course,
	ps *participants.ParticipantSet,
	params Params,
) ([]Summary, []Audit, error) {
	params = params.withDefaults()

	pairs := dayPairs(plan, crs)

	if err := requireAllEventsPaired(plan, pairs); err != nil {
		return nil, nil, err
	}

	store := newAuditStore(params.SpillThreshold)
	summaries := make([]Summary, 0, len(pairs))

	for _, pair := range pairs {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, nil, fault.Wrap(fault.KindTimeout, ctxErr, "day deadline exceeded during flow analysis").WithDay(plan.Day)
			}

			return nil, nil, ctxErr
		}

		summary, rows, err := analyzePair(plan, ps, pair, params)
		if err != nil {
			return nil, nil, err
		}

		summaries = append(summaries, summary)

		if err := store.Append(rows...); err != nil {
			return nil, nil, err
		}
	}

	audits, err := store.Collect()
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(audits, func(i, j int) bool {
		if audits[i].SegID != audits[j].SegID {
			return audits[i].SegID < audits[j].SegID
		}

		if audits[i].RunnerA != audits[j].RunnerA {
			return audits[i].RunnerA < audits[j].RunnerA
		}

		return audits[i].RunnerB < audits[j].RunnerB
	})

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].SegID != summaries[j].SegID {
			return summaries[i].SegID < summaries[j].SegID
		}

		return summaries[i].RowIndex < summaries[j].RowIndex
	})

	return summaries, audits, nil
}

// dayPairs selects the flow pairs whose two events both run on the plan's
// day. Pairs touching events outside the request are inert.
func dayPairs(plan *dayplan.DayPlan, crs *course.Course) []course.FlowPair {
	var pairs []course.FlowPair

	for _, pair := range crs.Pairs() {
		_, okA := plan.Event(pair.EventA)
		_, okB := plan.Event(pair.EventB)

		if okA && okB {
			pairs = append(pairs, pair)
		}
	}

	return pairs
}

func requireAllEventsPaired(plan *dayplan.DayPlan, pairs []course.FlowPair) error {
	paired := make(map[string]bool, len(plan.Events))

	for _, pair := range pairs {
		paired[pair.EventA] = true
		paired[pair.EventB] = true
	}

	for _, ev := range plan.Events {
		if !paired[ev.Name] {
			return fault.Config("event %q has no flow pair on day %q", ev.Name, plan.Day).WithDay(plan.Day)
		}
	}

	return nil
}

// zonePresence is one runner's traversal of a conflict zone.
type zonePresence struct {
	runnerID string
	entryKm  float64
	exitKm   float64
	entryT   float64
	exitT    float64
}

func analyzePair(
	plan *dayplan.DayPlan,
	ps *participants.ParticipantSet,
	pair course.FlowPair,
	params Params,
) (Summary, []Audit, error) {
	evA, _ := plan.Event(pair.EventA)
	evB, _ := plan.Event(pair.EventB)

	fromA, toA := snapZone(pair.FromKmA, pair.ToKmA)
	fromB, toB := snapZone(pair.FromKmB, pair.ToKmB)

	sideA := zoneTraversals(ps.ForEvent(pair.EventA), evA, fromA, toA)
	sideB := zoneTraversals(ps.ForEvent(pair.EventB), evB, fromB, toB)

	summary := Summary{
		SegID:    pair.SegID,
		EventA:   pair.EventA,
		EventB:   pair.EventB,
		RowIndex: pair.RowIndex,
		FlowType: pair.Type,
		FromKmA:  fromA,
		ToKmA:    toA,
		FromKmB:  fromB,
		ToKmB:    toB,
	}

	var audits []Audit

	involvedA := make(map[string]bool)
	involvedB := make(map[string]bool)
	rawA := make(map[string]bool)
	rawB := make(map[string]bool)
	strictA := make(map[string]bool)
	strictB := make(map[string]bool)

	// Traversals are runner-id sorted on both sides, so pair iteration is
	// (runner_id_a, runner_id_b) lexicographic by construction.
	for _, a := range sideA {
		for _, b := range sideB {
			row, realized := pairOverlap(a, b, pair, params)
			if !realized {
				continue
			}

			if err := checkOverlapConsistency(pair, a, b, fromA, toA, fromB, toB, row); err != nil {
				return Summary{}, nil, err.WithDay(plan.Day)
			}

			audits = append(audits, row)
			summary.Encounters++
			involvedA[a.runnerID] = true
			involvedB[b.runnerID] = true

			if row.PassFlagRaw {
				// entry_delta < 0: the A runner entered first and exited
				// later, so the A side was overtaken.
				if row.EntryDeltaS < 0 {
					rawA[a.runnerID] = true

					if row.PassFlagStrict {
						strictA[a.runnerID] = true
					}
				} else {
					rawB[b.runnerID] = true

					if row.PassFlagStrict {
						strictB[b.runnerID] = true
					}
				}
			}
		}
	}

	summary.ParticipantsA = len(involvedA)
	summary.ParticipantsB = len(involvedB)
	summary.CopresenceA = summary.Encounters
	summary.CopresenceB = summary.Encounters
	summary.HasConvergence = summary.Encounters > 0

	summary.OvertakingARaw = len(rawA)
	summary.OvertakingBRaw = len(rawB)
	summary.OvertakingAStrict = len(strictA)
	summary.OvertakingBStrict = len(strictB)

	// Strict-first publication: a zero strict count zeroes the published
	// raw count, suppressing phantom overtakes from numerical jitter.
	summary.OvertakingA = summary.OvertakingARaw
	if summary.OvertakingAStrict == 0 {
		summary.OvertakingA = 0
	}

	summary.OvertakingB = summary.OvertakingBRaw
	if summary.OvertakingBStrict == 0 {
		summary.OvertakingB = 0
	}

	return summary, audits, nil
}

// checkOverlapConsistency rejects realized overlaps that contradict the
// pair's declared flow_type. A none pair declares no expected interaction,
// so any realized overlap means the declaration is stale. Under counterflow
// the two sides enter the shared zone from opposite ends, so an encounter
// needs their covered stretches to meet; runners whose race distance ends
// short of the meeting point cannot have crossed.
func checkOverlapConsistency(pair course.FlowPair, a, b zonePresence, fromA, toA, fromB, toB float64, row Audit) *fault.Error {
	switch pair.Type {
	case course.FlowNone:
		return fault.Data("flow pair row %d on %s: declared none but runners %s/%s share %.1fs in the zone",
			pair.RowIndex, pair.SegID, a.runnerID, b.runnerID, row.OverlapDwellS).WithSegment(pair.SegID)

	case course.FlowCounterflow:
		covered := zoneFraction(a, fromA, toA) + zoneFraction(b, fromB, toB)
		if covered < 1 {
			return fault.Data("flow pair row %d on %s: counterflow runners %s/%s stop short of each other in the zone",
				pair.RowIndex, pair.SegID, a.runnerID, b.runnerID).WithSegment(pair.SegID)
		}
	}

	return nil
}

// zoneFraction is the share of the conflict zone a traversal covers from
// its own entry end.
func zoneFraction(p zonePresence, fromKm, toKm float64) float64 {
	if toKm <= fromKm {
		return 0
	}

	return (p.exitKm - p.entryKm) / (toKm - fromKm)
}

// snapZone normalizes a conflict zone whose length is within tolerance of
// the nominal 100 m to exactly 100 m.
func snapZone(fromKm, toKm float64) (float64, float64) {
	lengthM := (toKm - fromKm) * 1000

	if math.Abs(lengthM-nominalZoneM) <= snapEpsilon*nominalZoneM && lengthM != nominalZoneM {
		toKm = fromKm + nominalZoneM/1000
	}

	return fromKm, toKm
}

// zoneTraversals computes each runner's conflict zone entry and exit from
// pace and absolute start clock. Runners who never reach the zone, or with
// non-positive pace, are absent.
func zoneTraversals(runners []participants.Participant, ev dayplan.Event, fromKm, toKm float64) []zonePresence {
	out := make([]zonePresence, 0, len(runners))

	for _, p := range runners {
		if p.PaceMinPerKm <= 0 {
			continue
		}

		exitKm := toKm
		if p.DistanceKm > 0 && p.DistanceKm < exitKm {
			exitKm = p.DistanceKm
		}

		if exitKm <= fromKm {
			continue
		}

		clock := ev.StartS() + p.StartOffsetS
		pace := p.PaceSPerKm()

		out = append(out, zonePresence{
			runnerID: p.RunnerID,
			entryKm:  fromKm,
			exitKm:   exitKm,
			entryT:   clock + pace*fromKm,
			exitT:    clock + pace*exitKm,
		})
	}

	return out
}

// pairOverlap decides whether two traversals realize an overlap and builds
// the audit row.
func pairOverlap(a, b zonePresence, pair course.FlowPair, params Params) (Audit, bool) {
	overlapStart := math.Max(a.entryT, b.entryT)
	overlapEnd := math.Min(a.exitT, b.exitT)

	dwell := overlapEnd - overlapStart
	if dwell <= 0 {
		return Audit{}, false
	}

	// Snap near-threshold dwell to exactly the threshold.
	if math.Abs(dwell-params.MinOverlapDwellS) <= snapEpsilon*params.MinOverlapDwellS {
		dwell = params.MinOverlapDwellS
	}

	if dwell < params.MinOverlapDwellS {
		return Audit{}, false
	}

	entryDelta := a.entryT - b.entryT
	exitDelta := a.exitT - b.exitT
	gain := exitDelta - entryDelta

	entrySign := sign(entryDelta)
	exitSign := sign(exitDelta)
	orderFlip := entrySign != 0 && exitSign != 0 && entrySign != exitSign

	raw := orderFlip
	strict := raw && dwell >= params.MinOverlapDwellS && math.Abs(gain) >= params.StrictGainS

	return Audit{
		SegID:            pair.SegID,
		EventA:           pair.EventA,
		EventB:           pair.EventB,
		RunnerA:          a.runnerID,
		RunnerB:          b.runnerID,
		EntryKmA:         a.entryKm,
		ExitKmA:          a.exitKm,
		EntryTimeA:       a.entryT,
		ExitTimeA:        a.exitT,
		EntryKmB:         b.entryKm,
		ExitKmB:          b.exitKm,
		EntryTimeB:       b.entryT,
		ExitTimeB:        b.exitT,
		OverlapDwellS:    dwell,
		EntryDeltaS:      entryDelta,
		ExitDeltaS:       exitDelta,
		RelOrderEntry:    tieBreak(entrySign, a.runnerID, b.runnerID),
		RelOrderExit:     tieBreak(exitSign, a.runnerID, b.runnerID),
		OrderFlip:        orderFlip,
		DirectionalGainS: gain,
		PassFlagRaw:      raw,
		PassFlagStrict:   strict,
		InConflictZone:   true,
		FlowType:         pair.Type,
	}, true
}

func sign(v float64) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}

// tieBreak resolves a zero delta: the numerically larger runner id wins the
// later position.
func tieBreak(s int, runnerA, runnerB string) int {
	if s != 0 {
		return s
	}

	if runnerA > runnerB {
		return 1
	}

	return -1
}
