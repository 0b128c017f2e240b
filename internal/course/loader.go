package course

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/raceops/courseflow/internal/fault"
)

const (
	colSegID       = "seg_id"
	colSegLabel    = "seg_label"
	colWidthM      = "width_m"
	colSegmentType = "segment_type"
	colDirection   = "direction"
	colGeometry    = "geometry"

	fromKmSuffix = "_from_km"
	toKmSuffix   = "_to_km"

	directionBidirectional = "bidirectional"
)

// flow.csv required columns.
const (
	colEventA   = "event_a"
	colEventB   = "event_b"
	colFromKmA  = "from_km_a"
	colToKmA    = "to_km_a"
	colFromKmB  = "from_km_b"
	colToKmB    = "to_km_b"
	colFlowType = "flow_type"
	colNotes    = "notes"
)

// Load reads segments.csv and flow.csv and assembles the validated Course.
func Load(segmentsPath, flowPath string) (*Course, error) {
	segFile, err := os.Open(segmentsPath)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "open segments file")
	}
	defer segFile.Close()

	segments, err := ParseSegments(segFile)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", segmentsPath, err)
	}

	flowFile, err := os.Open(flowPath)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "open flow file")
	}
	defer flowFile.Close()

	pairs, err := ParseFlowPairs(flowFile)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", flowPath, err)
	}

	return New(segments, pairs)
}

// ParseSegments decodes segments.csv. Event names are discovered dynamically
// from paired {event}_from_km / {event}_to_km columns; there is no hardcoded
// event whitelist. A segment is used by an event only when both bounds are
// present and non-empty in its row.
func ParseSegments(r io.Reader) ([]Segment, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "read segments header")
	}

	cols := headerIndex(header)

	for _, required := range []string{colSegID, colSegLabel, colWidthM, colSegmentType} {
		if _, ok := cols[required]; !ok {
			return nil, fault.Config("segments file missing required column %q", required)
		}
	}

	spanCols, err := discoverSpanColumns(cols)
	if err != nil {
		return nil, err
	}

	var segments []Segment

	for line := 2; ; line++ {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			return nil, fault.Wrap(fault.KindConfig, readErr, "read segments row %d", line)
		}

		seg, rowErr := parseSegmentRow(record, cols, spanCols, line)
		if rowErr != nil {
			return nil, rowErr
		}

		segments = append(segments, seg)
	}

	return segments, nil
}

// spanColumn holds the header indices of one event's from/to pair.
type spanColumn struct {
	event string
	from  int
	to    int
}

func discoverSpanColumns(cols map[string]int) ([]spanColumn, error) {
	var spans []spanColumn

	for name, fromIdx := range cols {
		if !strings.HasSuffix(name, fromKmSuffix) {
			continue
		}

		event := strings.TrimSuffix(name, fromKmSuffix)

		toIdx, ok := cols[event+toKmSuffix]
		if !ok {
			return nil, fault.Config("segments file has %q without matching %q", name, event+toKmSuffix)
		}

		spans = append(spans, spanColumn{event: event, from: fromIdx, to: toIdx})
	}

	// Header map iteration is unordered; keep discovery deterministic.
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j-1].event > spans[j].event; j-- {
			spans[j-1], spans[j] = spans[j], spans[j-1]
		}
	}

	return spans, nil
}

func parseSegmentRow(record []string, cols map[string]int, spanCols []spanColumn, line int) (Segment, error) {
	seg := Segment{
		ID:    field(record, cols[colSegID]),
		Label: field(record, cols[colSegLabel]),
		Class: SchemaClass(field(record, cols[colSegmentType])),
		Spans: make(map[string]Span),
	}

	if seg.ID == "" {
		return Segment{}, fault.Config("segments row %d: empty seg_id", line)
	}

	widthRaw := field(record, cols[colWidthM])
	if widthRaw != "" {
		width, err := strconv.ParseFloat(widthRaw, 64)
		if err != nil {
			return Segment{}, fault.Data("segments row %d: bad width_m %q", line, widthRaw)
		}

		seg.WidthM = width
	}

	if dirIdx, ok := cols[colDirection]; ok {
		seg.Bidirectional = field(record, dirIdx) == directionBidirectional
	}

	if geoIdx, ok := cols[colGeometry]; ok {
		geometry, err := parseGeometry(field(record, geoIdx))
		if err != nil {
			return Segment{}, fault.Data("segments row %d: %v", line, err)
		}

		seg.Geometry = geometry
	}

	for _, sc := range spanCols {
		fromRaw := field(record, sc.from)
		toRaw := field(record, sc.to)

		if fromRaw == "" || toRaw == "" {
			continue
		}

		from, err := strconv.ParseFloat(fromRaw, 64)
		if err != nil {
			return Segment{}, fault.Data("segments row %d: bad %s%s %q", line, sc.event, fromKmSuffix, fromRaw)
		}

		to, err := strconv.ParseFloat(toRaw, 64)
		if err != nil {
			return Segment{}, fault.Data("segments row %d: bad %s%s %q", line, sc.event, toKmSuffix, toRaw)
		}

		if to <= from {
			return Segment{}, fault.Data("segments row %d: %s span [%g, %g] is not increasing", line, sc.event, from, to)
		}

		seg.Spans[sc.event] = Span{FromKm: from, ToKm: to}
	}

	return seg, nil
}

// parseGeometry decodes a "lon lat;lon lat;..." polyline cell.
func parseGeometry(raw string) ([]LatLon, error) {
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ";")
	points := make([]LatLon, 0, len(parts))

	for _, part := range parts {
		lonRaw, latRaw, ok := strings.Cut(strings.TrimSpace(part), " ")
		if !ok {
			return nil, fmt.Errorf("bad geometry point %q", part)
		}

		lon, err := strconv.ParseFloat(lonRaw, 64)
		if err != nil {
			return nil, fmt.Errorf("bad geometry longitude %q", lonRaw)
		}

		lat, err := strconv.ParseFloat(latRaw, 64)
		if err != nil {
			return nil, fmt.Errorf("bad geometry latitude %q", latRaw)
		}

		points = append(points, LatLon{Lat: lat, Lon: lon})
	}

	return points, nil
}

// ParseFlowPairs decodes flow.csv. RowIndex preserves file order for
// deterministic summary emission.
func ParseFlowPairs(r io.Reader) ([]FlowPair, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "read flow header")
	}

	cols := headerIndex(header)

	required := []string{colSegID, colEventA, colEventB, colFromKmA, colToKmA, colFromKmB, colToKmB, colFlowType}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fault.Config("flow file missing required column %q", name)
		}
	}

	var pairs []FlowPair

	for row := 0; ; row++ {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			return nil, fault.Wrap(fault.KindConfig, readErr, "read flow row %d", row)
		}

		pair := FlowPair{
			SegID:    field(record, cols[colSegID]),
			EventA:   field(record, cols[colEventA]),
			EventB:   field(record, cols[colEventB]),
			Type:     FlowType(field(record, cols[colFlowType])),
			RowIndex: row,
		}

		if notesIdx, ok := cols[colNotes]; ok {
			pair.Notes = field(record, notesIdx)
		}

		var parseErr error

		pair.FromKmA, parseErr = parseKm(record, cols, colFromKmA, row)
		if parseErr != nil {
			return nil, parseErr
		}

		pair.ToKmA, parseErr = parseKm(record, cols, colToKmA, row)
		if parseErr != nil {
			return nil, parseErr
		}

		pair.FromKmB, parseErr = parseKm(record, cols, colFromKmB, row)
		if parseErr != nil {
			return nil, parseErr
		}

		pair.ToKmB, parseErr = parseKm(record, cols, colToKmB, row)
		if parseErr != nil {
			return nil, parseErr
		}

		if pair.ToKmA <= pair.FromKmA || pair.ToKmB <= pair.FromKmB {
			return nil, fault.Config("flow row %d: conflict zone bounds are not increasing", row)
		}

		pairs = append(pairs, pair)
	}

	return pairs, nil
}

func parseKm(record []string, cols map[string]int, name string, row int) (float64, error) {
	raw := field(record, cols[name])

	km, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fault.Data("flow row %d: bad %s %q", row, name, raw)
	}

	return km, nil
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))

	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}

	return cols
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}

	return strings.TrimSpace(record[idx])
}
