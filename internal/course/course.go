// Package course holds the immutable course model: segments, per-event
// distance spans, and flow pair definitions. The model is loaded once from
// the static course files and shared read-only across all day pipelines.
package course

import (
	"sort"

	"github.com/raceops/courseflow/internal/fault"
)

// kmPerDegreeEquator converts kilometers to equatorial degrees for
// synthesized polylines.
const kmPerDegreeEquator = 111.32

// SchemaClass categorizes a segment for rulebook lookups.
type SchemaClass string

const (
	// ClassStartCorral marks a start corral segment.
	ClassStartCorral SchemaClass = "start_corral"
	// ClassOnCourseNarrow marks a narrow on-course segment.
	ClassOnCourseNarrow SchemaClass = "on_course_narrow"
	// ClassOnCourseOpen marks an open on-course segment.
	ClassOnCourseOpen SchemaClass = "on_course_open"
)

// FlowType is the declared interaction type of a flow pair.
type FlowType string

const (
	// FlowOvertake marks same-direction passing.
	FlowOvertake FlowType = "overtake"
	// FlowMerge marks converging routes.
	FlowMerge FlowType = "merge"
	// FlowCounterflow marks opposite-direction traffic.
	FlowCounterflow FlowType = "counterflow"
	// FlowParallel marks side-by-side traffic without interaction.
	FlowParallel FlowType = "parallel"
	// FlowNone marks a declared non-interaction, used to register an event
	// on a segment without expecting encounters.
	FlowNone FlowType = "none"
)

// ValidFlowType reports whether ft is one of the declared interaction types.
func ValidFlowType(ft FlowType) bool {
	switch ft {
	case FlowOvertake, FlowMerge, FlowCounterflow, FlowParallel, FlowNone:
		return true
	default:
		return false
	}
}

// LatLon is a geographic coordinate of the segment polyline.
type LatLon struct {
	Lat float64
	Lon float64
}

// Span is an event's distance interval over a segment, in that event's
// kilometrage.
type Span struct {
	FromKm float64
	ToKm   float64
}

// LengthKm returns the span length.
func (sp Span) LengthKm() float64 {
	return sp.ToKm - sp.FromKm
}

// Segment is one course segment. Spans map event names to that event's
// distance interval over the segment. Immutable after load.
type Segment struct {
	ID            string
	Label         string
	WidthM        float64
	Class         SchemaClass
	Bidirectional bool
	Geometry      []LatLon
	Spans         map[string]Span
}

// UsedBy reports whether the event has both span bounds defined for this segment.
func (s *Segment) UsedBy(event string) bool {
	_, ok := s.Spans[event]

	return ok
}

// SpanOf returns the event's span over this segment.
func (s *Segment) SpanOf(event string) (Span, bool) {
	sp, ok := s.Spans[event]

	return sp, ok
}

// WidthEffectiveM returns the usable width: half the physical width for
// bidirectional segments, the full width otherwise.
func (s *Segment) WidthEffectiveM() float64 {
	if s.Bidirectional {
		return s.WidthM / 2
	}

	return s.WidthM
}

// BaseKm returns the minimum from_km across the given events' spans.
// Bin kilometrage labels for the segment start here. Returns false when no
// given event uses the segment.
func (s *Segment) BaseKm(events []string) (float64, bool) {
	base := 0.0
	found := false

	for _, ev := range events {
		sp, ok := s.Spans[ev]
		if !ok {
			continue
		}

		if !found || sp.FromKm < base {
			base = sp.FromKm
		}

		found = true
	}

	return base, found
}

// LengthKm returns the longest span length across the given events.
// This is the shared physical extent the bin grid covers.
func (s *Segment) LengthKm(events []string) float64 {
	length := 0.0

	for _, ev := range events {
		sp, ok := s.Spans[ev]
		if !ok {
			continue
		}

		if sp.LengthKm() > length {
			length = sp.LengthKm()
		}
	}

	return length
}

// FlowPair declares that two events interact on a segment. The a/b ordering
// is semantic, set by the course designer, and never derived.
type FlowPair struct {
	SegID   string
	EventA  string
	EventB  string
	FromKmA float64
	ToKmA   float64
	FromKmB float64
	ToKmB   float64
	Type    FlowType
	Notes   string

	// RowIndex is the zero-based position of the pair in flow.csv.
	// Flow summaries are ordered by (seg_id, RowIndex).
	RowIndex int
}

// Course is the arena of segments plus the flow pair table. Segments are
// referenced by index; lookups by id go through an index map.
type Course struct {
	segments []Segment
	byID     map[string]int
	events   []string
	pairs    []FlowPair
}

// New assembles a Course from parsed segments and flow pairs, validating
// that every pair references a known segment and that both events use it.
func New(segments []Segment, pairs []FlowPair) (*Course, error) {
	byID := make(map[string]int, len(segments))
	eventSet := make(map[string]struct{})

	for i, seg := range segments {
		if _, dup := byID[seg.ID]; dup {
			return nil, fault.Config("duplicate seg_id %q in segments file", seg.ID)
		}

		byID[seg.ID] = i

		for ev := range seg.Spans {
			eventSet[ev] = struct{}{}
		}

		// Segments without surveyed geometry get a synthesized straight
		// west-east polyline so bins can always emit polygons.
		if len(seg.Geometry) < 2 {
			length := 0.0
			for _, sp := range seg.Spans {
				if sp.LengthKm() > length {
					length = sp.LengthKm()
				}
			}

			segments[i].Geometry = []LatLon{{}, {Lon: length / kmPerDegreeEquator}}
		}
	}

	for _, pair := range pairs {
		idx, ok := byID[pair.SegID]
		if !ok {
			return nil, fault.Config("flow pair row %d references unknown seg_id %q", pair.RowIndex, pair.SegID)
		}

		seg := &segments[idx]

		if !seg.UsedBy(pair.EventA) {
			return nil, fault.Config("flow pair row %d: event %q has no span on segment %q",
				pair.RowIndex, pair.EventA, pair.SegID)
		}

		if !seg.UsedBy(pair.EventB) {
			return nil, fault.Config("flow pair row %d: event %q has no span on segment %q",
				pair.RowIndex, pair.EventB, pair.SegID)
		}

		if !ValidFlowType(pair.Type) {
			return nil, fault.Config("flow pair row %d: unknown flow_type %q", pair.RowIndex, pair.Type)
		}

		if pair.Type == FlowCounterflow && !seg.Bidirectional {
			return nil, fault.Config("flow pair row %d: counterflow declared on one-way segment %q",
				pair.RowIndex, pair.SegID)
		}
	}

	events := make([]string, 0, len(eventSet))
	for ev := range eventSet {
		events = append(events, ev)
	}

	sort.Strings(events)

	return &Course{
		segments: segments,
		byID:     byID,
		events:   events,
		pairs:    pairs,
	}, nil
}

// Segment returns the segment with the given id.
func (c *Course) Segment(id string) (*Segment, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return nil, false
	}

	return &c.segments[idx], true
}

// SegmentCount returns the number of segments in the arena.
func (c *Course) SegmentCount() int {
	return len(c.segments)
}

// SegmentAt returns the segment at the given arena index.
func (c *Course) SegmentAt(idx int) *Segment {
	return &c.segments[idx]
}

// Events returns the sorted event names discovered from span columns.
func (c *Course) Events() []string {
	return c.events
}

// Pairs returns all flow pairs in flow.csv row order.
func (c *Course) Pairs() []FlowPair {
	return c.pairs
}

// SegmentsUsedBy returns the sorted ids of segments used by any of the
// given events.
func (c *Course) SegmentsUsedBy(events []string) []string {
	var ids []string

	for i := range c.segments {
		seg := &c.segments[i]

		for _, ev := range events {
			if seg.UsedBy(ev) {
				ids = append(ids, seg.ID)

				break
			}
		}
	}

	sort.Strings(ids)

	return ids
}
