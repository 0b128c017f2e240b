package participants

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
	colRunnerID    = "runner_id"
	colEvent       = "event"
	colPace        = "pace"
	colDistance    = "distance"
	colStartOffset = "start_offset"
	colDay         = "day"
)

// Load reads one event's {event}_runners.csv. A missing file is fatal:
// every requested event must ship its participant list.
func Load(path, event string) ([]Participant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindData, err, "open runners file for event %q", event)
	}
	defer f.Close()

	records, err := Parse(f, event)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return records, nil
}

// Parse decodes a runners CSV for the given event. Rows whose event column
// disagrees with the requested event are rejected; negative pace is rejected
// at load while zero pace is kept for the binning engine to drop and count.
func Parse(r io.Reader, event string) ([]Participant, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "read runners header")
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}

	for _, required := range []string{colRunnerID, colEvent, colPace, colDistance, colStartOffset, colDay} {
		if _, ok := cols[required]; !ok {
			return nil, fault.Config("runners file missing required column %q", required)
		}
	}

	var runners []Participant

	for line := 2; ; line++ {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			return nil, fault.Wrap(fault.KindData, readErr, "read runners row %d", line)
		}

		p, rowErr := parseRunnerRow(record, cols, event, line)
		if rowErr != nil {
			return nil, rowErr
		}

		runners = append(runners, p)
	}

	return runners, nil
}

func parseRunnerRow(record []string, cols map[string]int, event string, line int) (Participant, error) {
	get := func(name string) string {
		idx := cols[name]
		if idx >= len(record) {
			return ""
		}

		return strings.TrimSpace(record[idx])
	}

	p := Participant{
		RunnerID: get(colRunnerID),
		Event:    get(colEvent),
		Day:      get(colDay),
	}

	if p.RunnerID == "" {
		return Participant{}, fault.Data("runners row %d: empty runner_id", line)
	}

	if p.Event != event {
		return Participant{}, fault.Data("runners row %d: event %q does not match requested event %q", line, p.Event, event)
	}

	pace, err := strconv.ParseFloat(get(colPace), 64)
	if err != nil {
		return Participant{}, fault.Data("runners row %d: bad pace %q", line, get(colPace))
	}

	if pace < 0 {
		return Participant{}, fault.Data("runners row %d: negative pace %g", line, pace)
	}

	p.PaceMinPerKm = pace

	distance, err := strconv.ParseFloat(get(colDistance), 64)
	if err != nil {
		return Participant{}, fault.Data("runners row %d: bad distance %q", line, get(colDistance))
	}

	p.DistanceKm = distance

	offset, err := strconv.ParseFloat(get(colStartOffset), 64)
	if err != nil {
		return Participant{}, fault.Data("runners row %d: bad start_offset %q", line, get(colStartOffset))
	}

	if offset < 0 {
		return Participant{}, fault.Data("runners row %d: negative start_offset %g", line, offset)
	}

	p.StartOffsetS = offset

	return p, nil
}
