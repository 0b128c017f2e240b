// Package flow enumerates pairwise runner encounters between events sharing
// a segment, classifies them against the declared flow pair, counts unique
// overtakers under raw and strict semantics, and emits one audit row per
// realized overlap.
package flow

import (
	"github.com/raceops/courseflow/internal/course"
)

// Default thresholds applied when Params fields are zero.
const (
	DefaultMinOverlapDwellS = 5.0
	DefaultStrictGainS      = 2.0
)

// snapEpsilon is the relative tolerance for snapping near-threshold values:
// dwell within ±ε of the dwell threshold becomes exactly the threshold, and a
// conflict zone within ±ε·100 m of 100 m becomes exactly 100 m. This keeps
// pass decisions identical across platforms despite floating-point drift.
const snapEpsilon = 1e-6

// nominalZoneM is the nominal conflict zone length in meters.
const nominalZoneM = 100.0

// Params controls the encounter thresholds.
type Params struct {
	// MinOverlapDwellS is the minimum co-presence duration for an overlap
	// to count as an encounter.
	MinOverlapDwellS float64
	// StrictGainS is the minimum |directional gain| for a strict pass.
	StrictGainS float64
	// SpillThreshold is the number of audit rows held in memory before
	// spilling to compressed temp blocks. Zero uses the default.
	SpillThreshold int
}

func (p Params) withDefaults() Params {
	if p.MinOverlapDwellS == 0 {
		p.MinOverlapDwellS = DefaultMinOverlapDwellS
	}

	if p.StrictGainS == 0 {
		p.StrictGainS = DefaultStrictGainS
	}

	return p
}

// Audit is one realized overlap between a runner of event A and a runner of
// event B within the pair's conflict zone.
type Audit struct {
	SegID   string
	EventA  string
	EventB  string
	RunnerA string
	RunnerB string

	EntryKmA   float64
	ExitKmA    float64
	EntryTimeA float64
	ExitTimeA  float64
	EntryKmB   float64
	ExitKmB    float64
	EntryTimeB float64
	ExitTimeB  float64

	OverlapDwellS float64
	EntryDeltaS   float64
	ExitDeltaS    float64

	// RelOrderEntry and RelOrderExit are ±1; zero deltas tie-break to the
	// numerically larger runner id.
	RelOrderEntry int
	RelOrderExit  int
	OrderFlip     bool

	DirectionalGainS float64
	PassFlagRaw      bool
	PassFlagStrict   bool
	InConflictZone   bool
	FlowType         course.FlowType
}

// Summary is one flow pair's aggregate row.
type Summary struct {
	SegID  string
	EventA string
	EventB string

	// RowIndex preserves flow.csv order for deterministic emission.
	RowIndex int

	FlowType course.FlowType

	// Encounters counts overlap pairs meeting the dwell threshold.
	Encounters int
	// ParticipantsA and ParticipantsB count distinct runners of each event
	// involved in at least one encounter.
	ParticipantsA int
	ParticipantsB int
	// CopresenceA and CopresenceB count co-presence pairs attributed per
	// side. Under counter-flow both equal Encounters.
	CopresenceA int
	CopresenceB int

	// OvertakingA and OvertakingB are the published unique overtaker
	// counts after the strict-first gate.
	OvertakingA int
	OvertakingB int
	// Raw and strict components backing the published values.
	OvertakingARaw    int
	OvertakingBRaw    int
	OvertakingAStrict int
	OvertakingBStrict int

	HasConvergence bool

	// Conflict zone bounds in each event's kilometrage.
	FromKmA float64
	ToKmA   float64
	FromKmB float64
	ToKmB   float64
}
