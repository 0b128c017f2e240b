// Package participants loads and normalizes per-event participant records.
// The resulting ParticipantSet is immutable and shared read-only across all
// day pipelines.
package participants

import (
	"sort"

	"github.com/raceops/courseflow/internal/fault"
)

// Participant is one runner of one event.
type Participant struct {
	RunnerID     string
	Event        string
	PaceMinPerKm float64
	DistanceKm   float64
	StartOffsetS float64
	Day          string
}

// PaceSPerKm returns the pace in seconds per kilometer.
func (p Participant) PaceSPerKm() float64 {
	return p.PaceMinPerKm * 60
}

// ParticipantSet groups participants by event. Within each event the slice
// is sorted by runner id for deterministic iteration.
type ParticipantSet struct {
	byEvent map[string][]Participant
	total   int
}

// NewSet assembles a ParticipantSet from per-event record lists.
// Runner ids must be unique across all events within a run.
func NewSet(lists ...[]Participant) (*ParticipantSet, error) {
	byEvent := make(map[string][]Participant, len(lists))
	seen := make(map[string]string)
	total := 0

	for _, list := range lists {
		for _, p := range list {
			if other, dup := seen[p.RunnerID]; dup {
				return nil, fault.Data("runner_id %q appears in both %q and %q", p.RunnerID, other, p.Event)
			}

			seen[p.RunnerID] = p.Event
			byEvent[p.Event] = append(byEvent[p.Event], p)
			total++
		}
	}

	for ev := range byEvent {
		runners := byEvent[ev]
		sort.Slice(runners, func(i, j int) bool {
			return runners[i].RunnerID < runners[j].RunnerID
		})
	}

	return &ParticipantSet{byEvent: byEvent, total: total}, nil
}

// ForEvent returns the event's participants sorted by runner id.
// The caller must not modify the returned slice.
func (ps *ParticipantSet) ForEvent(event string) []Participant {
	return ps.byEvent[event]
}

// Total returns the number of participants across all events.
func (ps *ParticipantSet) Total() int {
	return ps.total
}

// Events returns the sorted event names present in the set.
func (ps *ParticipantSet) Events() []string {
	events := make([]string, 0, len(ps.byEvent))
	for ev := range ps.byEvent {
		events = append(events, ev)
	}

	sort.Strings(events)

	return events
}
