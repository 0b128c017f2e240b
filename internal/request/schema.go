package request

// schemaBytes is the JSON Schema the analysis request must satisfy before
// decoding. Semantic rules that JSON Schema cannot express (lowercase event
// names, duplicate detection, start-time bounds) live in validate.
var schemaBytes = []byte(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "courseflow analysis request",
  "type": "object",
  "required": ["events", "segments_file", "flow_file"],
  "additionalProperties": false,
  "properties": {
    "events": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "day", "start_time_min", "duration_min", "runners_file", "gpx_file"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "day": {"type": "string", "minLength": 1},
          "start_time_min": {"type": "number"},
          "duration_min": {"type": "number"},
          "runners_file": {"type": "string", "minLength": 1},
          "gpx_file": {"type": "string"}
        }
      }
    },
    "segments_file": {"type": "string", "minLength": 1},
    "flow_file": {"type": "string", "minLength": 1},
    "bin_dx_km": {"type": "number", "exclusiveMinimum": 0},
    "bin_dt_s": {"type": "number", "exclusiveMinimum": 0},
    "max_bins": {"type": "integer", "minimum": 1},
    "min_overlap_dwell_s": {"type": "number", "minimum": 0},
    "strict_gain_s": {"type": "number", "minimum": 0},
    "los_rulebook": {"type": "string"}
  }
}`)
