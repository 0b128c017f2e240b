// Package dayplan groups the requested events into independent per-day plans
// and builds each day's global time grid. Every downstream engine works on
// exactly one DayPlan; nothing crosses day boundaries past this point.
package dayplan

import (
	"math"
	"sort"

	"github.com/raceops/courseflow/internal/course"
	"github.com/raceops/courseflow/internal/fault"
	"github.com/raceops/courseflow/internal/participants"
)

// Event is one runtime event of the analysis request.
type Event struct {
	Name         string
	Day          string
	StartTimeMin float64
	DurationMin  float64
}

// StartS returns the event start in seconds after midnight.
func (e Event) StartS() float64 {
	return e.StartTimeMin * 60
}

// DayPlan is the unit of pipeline work: the events of one day plus the
// subset of segments any of them uses.
type DayPlan struct {
	Day      string
	Events   []Event
	Segments []string
}

// Event returns the named event of the plan.
func (dp *DayPlan) Event(name string) (Event, bool) {
	for _, ev := range dp.Events {
		if ev.Name == name {
			return ev, true
		}
	}

	return Event{}, false
}

// EventNames returns the plan's event names in sorted order.
func (dp *DayPlan) EventNames() []string {
	names := make([]string, len(dp.Events))
	for i, ev := range dp.Events {
		names[i] = ev.Name
	}

	return names
}

// AnchorS returns the day anchor t0 in seconds after midnight: the earliest
// event start of the day.
func (dp *DayPlan) AnchorS() float64 {
	anchor := math.Inf(1)
	for _, ev := range dp.Events {
		if ev.StartS() < anchor {
			anchor = ev.StartS()
		}
	}

	return anchor
}

// Partition groups events by day tag and resolves each day's segment subset.
// Cross-day flow pairs and participants tagged with a different day than
// their event are rejected here, before any binning starts.
func Partition(events []Event, crs *course.Course, ps *participants.ParticipantSet) ([]DayPlan, error) {
	if len(events) == 0 {
		return nil, fault.Config("no events to partition")
	}

	dayOf := make(map[string]string, len(events))
	byDay := make(map[string][]Event)

	for _, ev := range events {
		dayOf[ev.Name] = ev.Day
		byDay[ev.Day] = append(byDay[ev.Day], ev)
	}

	for _, pair := range crs.Pairs() {
		dayA, okA := dayOf[pair.EventA]
		dayB, okB := dayOf[pair.EventB]

		if !okA || !okB {
			// Pairs for events outside the request are inert.
			continue
		}

		if dayA != dayB {
			return nil, fault.Config("flow pair %s/%s/%s crosses days %q and %q",
				pair.SegID, pair.EventA, pair.EventB, dayA, dayB)
		}
	}

	for _, ev := range events {
		for _, p := range ps.ForEvent(ev.Name) {
			if p.Day != ev.Day {
				return nil, fault.Data("runner %q is tagged day %q but event %q runs on %q",
					p.RunnerID, p.Day, ev.Name, ev.Day)
			}
		}
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}

	sort.Strings(days)

	plans := make([]DayPlan, 0, len(days))

	for _, day := range days {
		dayEvents := byDay[day]
		sort.Slice(dayEvents, func(i, j int) bool {
			return dayEvents[i].Name < dayEvents[j].Name
		})

		plans = append(plans, DayPlan{
			Day:      day,
			Events:   dayEvents,
			Segments: crs.SegmentsUsedBy(eventNames(dayEvents)),
		})
	}

	return plans, nil
}

func eventNames(events []Event) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}

	return names
}
