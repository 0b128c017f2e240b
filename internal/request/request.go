// Package request decodes and validates the analysis request that seeds a
// run. The request is validated against an embedded JSON Schema before
// decoding, then checked semantically; nothing is defaulted silently except
// the documented numeric knobs.
package request

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/raceops/courseflow/internal/fault"
)

// Defaults for the optional numeric knobs. Events, start times, and file
// paths have no defaults: a missing value fails fast.
const (
	DefaultBinDxKm          = 0.1
	DefaultBinDtS           = 30.0
	DefaultMaxBins          = 10000
	DefaultMinOverlapDwellS = 5.0
	DefaultStrictGainS      = 2.0

	// MinBinDxKm is the smallest accepted spatial bin width.
	MinBinDxKm = 0.05

	// StartTimeMinFloor and StartTimeMinCeil bound event start times in
	// minutes after midnight.
	StartTimeMinFloor = 300
	StartTimeMinCeil  = 1200
)

// Event is one runtime event definition. All fields are required.
type Event struct {
	Name         string  `json:"name"`
	Day          string  `json:"day"`
	StartTimeMin float64 `json:"start_time_min"`
	DurationMin  float64 `json:"duration_min"`
	RunnersFile  string  `json:"runners_file"`
	GPXFile      string  `json:"gpx_file"`
}

// Request is the decoded analysis request.
type Request struct {
	Events           []Event `json:"events"`
	SegmentsFile     string  `json:"segments_file"`
	FlowFile         string  `json:"flow_file"`
	BinDxKm          float64 `json:"bin_dx_km"`
	BinDtS           float64 `json:"bin_dt_s"`
	MaxBins          int     `json:"max_bins"`
	MinOverlapDwellS float64 `json:"min_overlap_dwell_s"`
	StrictGainS      float64 `json:"strict_gain_s"`
	LOSRulebook      string  `json:"los_rulebook"`
}

// Parse validates raw JSON against the embedded schema, decodes it, applies
// the documented defaults, and runs the semantic checks.
func Parse(raw []byte) (*Request, error) {
	schemaLoader := gojsonschema.NewBytesLoader(schemaBytes)
	docLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "validate analysis request")
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			msgs = append(msgs, re.String())
		}

		return nil, fault.Config("analysis request schema violation: %s", strings.Join(msgs, "; "))
	}

	var req Request

	err = json.Unmarshal(raw, &req)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "decode analysis request")
	}

	req.applyDefaults()

	err = req.validate()
	if err != nil {
		return nil, err
	}

	return &req, nil
}

func (r *Request) applyDefaults() {
	if r.BinDxKm == 0 {
		r.BinDxKm = DefaultBinDxKm
	}

	if r.BinDtS == 0 {
		r.BinDtS = DefaultBinDtS
	}

	if r.MaxBins == 0 {
		r.MaxBins = DefaultMaxBins
	}

	if r.MinOverlapDwellS == 0 {
		r.MinOverlapDwellS = DefaultMinOverlapDwellS
	}

	if r.StrictGainS == 0 {
		r.StrictGainS = DefaultStrictGainS
	}
}

func (r *Request) validate() error {
	if len(r.Events) == 0 {
		return fault.Config("analysis request defines no events")
	}

	seen := make(map[string]struct{}, len(r.Events))

	for _, ev := range r.Events {
		if ev.Name != strings.ToLower(ev.Name) {
			return fault.Config("event name %q must be lowercase", ev.Name)
		}

		if _, dup := seen[ev.Name]; dup {
			return fault.Config("event %q defined twice", ev.Name)
		}

		seen[ev.Name] = struct{}{}

		if ev.StartTimeMin < StartTimeMinFloor || ev.StartTimeMin > StartTimeMinCeil {
			return fault.Config("event %q start_time_min %g outside [%d, %d]",
				ev.Name, ev.StartTimeMin, StartTimeMinFloor, StartTimeMinCeil)
		}

		if ev.DurationMin <= 0 {
			return fault.Config("event %q duration_min must be positive", ev.Name)
		}

		if ev.Day == "" || ev.RunnersFile == "" {
			return fault.Config("event %q is missing day or runners_file", ev.Name)
		}
	}

	if r.SegmentsFile == "" || r.FlowFile == "" {
		return fault.Config("analysis request is missing segments_file or flow_file")
	}

	if r.BinDxKm < MinBinDxKm {
		return fault.Config("bin_dx_km %g below minimum %g", r.BinDxKm, MinBinDxKm)
	}

	if r.BinDtS <= 0 || r.MaxBins <= 0 || r.MinOverlapDwellS < 0 || r.StrictGainS < 0 {
		return fault.Config("bin_dt_s and max_bins must be positive; thresholds must be non-negative")
	}

	return nil
}
