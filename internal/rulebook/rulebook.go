// Package rulebook holds the level-of-service classification thresholds and
// flow capacities. The rulebook is loaded once per run and threaded through
// the engines inside the run context; nothing here is process-global.
package rulebook

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/raceops/courseflow/internal/course"
	"github.com/raceops/courseflow/internal/fault"
)

// LOS is the discrete A-F classification of instantaneous areal density.
type LOS string

// LOS classes in increasing density order.
const (
	LOSA LOS = "A"
	LOSB LOS = "B"
	LOSC LOS = "C"
	LOSD LOS = "D"
	LOSE LOS = "E"
	LOSF LOS = "F"
)

// Severity is the operational flag derived from LOS and flow utilization.
type Severity string

const (
	// SeverityNone marks an unremarkable bin.
	SeverityNone Severity = "none"
	// SeverityWatch marks LOS >= C or flow utilization above capacity.
	SeverityWatch Severity = "watch"
	// SeverityCritical marks LOS >= E.
	SeverityCritical Severity = "critical"
)

// Thresholds are the upper bounds (exclusive) of classes A through E in
// persons per square meter. Densities at or above E are class F.
type Thresholds struct {
	A float64 `yaml:"a"`
	B float64 `yaml:"b"`
	C float64 `yaml:"c"`
	D float64 `yaml:"d"`
	E float64 `yaml:"e"`
}

// Classify maps an areal density to its LOS class. The mapping is a monotone
// step function of density.
func (th Thresholds) Classify(arealPM2 float64) LOS {
	switch {
	case arealPM2 < th.A:
		return LOSA
	case arealPM2 < th.B:
		return LOSB
	case arealPM2 < th.C:
		return LOSC
	case arealPM2 < th.D:
		return LOSD
	case arealPM2 < th.E:
		return LOSE
	default:
		return LOSF
	}
}

// valid reports whether the thresholds are positive and strictly increasing.
func (th Thresholds) valid() bool {
	return th.A > 0 && th.B > th.A && th.C > th.B && th.D > th.C && th.E > th.D
}

// Rulebook resolves LOS thresholds and flow capacity per segment schema class.
// Global thresholds apply unless a per-class override is present.
type Rulebook struct {
	global    Thresholds
	overrides map[course.SchemaClass]Thresholds
	capacity  map[course.SchemaClass]float64
}

// Default LOS thresholds in p/m².
var defaultThresholds = Thresholds{A: 0.36, B: 0.54, C: 0.72, D: 1.08, E: 1.63}

// Default flow capacity in runners per meter of width per minute.
const defaultCapacity = 82.0

// Default returns the built-in rulebook used when no override file is given.
func Default() *Rulebook {
	return &Rulebook{
		global:    defaultThresholds,
		overrides: map[course.SchemaClass]Thresholds{},
		capacity: map[course.SchemaClass]float64{
			course.ClassStartCorral:    defaultCapacity,
			course.ClassOnCourseNarrow: defaultCapacity,
			course.ClassOnCourseOpen:   defaultCapacity,
		},
	}
}

// ThresholdsFor returns the thresholds for the schema class, falling back to
// the global thresholds when no override exists.
func (rb *Rulebook) ThresholdsFor(class course.SchemaClass) Thresholds {
	if th, ok := rb.overrides[class]; ok {
		return th
	}

	return rb.global
}

// CapacityFor returns the flow capacity (runners/m/min) for the schema class.
func (rb *Rulebook) CapacityFor(class course.SchemaClass) float64 {
	if cap, ok := rb.capacity[class]; ok {
		return cap
	}

	return defaultCapacity
}

// SeverityOf derives the operational severity of a bin from its LOS class and
// flow utilization.
func SeverityOf(class LOS, flowUtilization float64) Severity {
	switch {
	case class == LOSE || class == LOSF:
		return SeverityCritical
	case class >= LOSC || flowUtilization > 1:
		return SeverityWatch
	default:
		return SeverityNone
	}
}

// document is the YAML shape of a rulebook override file.
type document struct {
	Global    *Thresholds `yaml:"global"`
	Overrides map[string]struct {
		Thresholds *Thresholds `yaml:"thresholds"`
	} `yaml:"overrides"`
	Capacity map[string]float64 `yaml:"capacity"`
}

// Load reads a rulebook override YAML file. Absent sections keep defaults.
func Load(path string) (*Rulebook, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "open rulebook")
	}

	return Parse(raw)
}

// Parse decodes rulebook YAML over the defaults.
func Parse(raw []byte) (*Rulebook, error) {
	var doc document

	err := yaml.Unmarshal(raw, &doc)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "decode rulebook yaml")
	}

	rb := Default()

	if doc.Global != nil {
		if !doc.Global.valid() {
			return nil, fault.Config("rulebook global thresholds must be positive and strictly increasing")
		}

		rb.global = *doc.Global
	}

	for name, ov := range doc.Overrides {
		class := course.SchemaClass(name)
		if !validClass(class) {
			return nil, fault.Config("rulebook override for unknown segment class %q", name)
		}

		if ov.Thresholds != nil {
			if !ov.Thresholds.valid() {
				return nil, fault.Config("rulebook thresholds for class %q must be positive and strictly increasing", name)
			}

			rb.overrides[class] = *ov.Thresholds
		}
	}

	for name, cap := range doc.Capacity {
		class := course.SchemaClass(name)
		if !validClass(class) {
			return nil, fault.Config("rulebook capacity for unknown segment class %q", name)
		}

		if cap <= 0 {
			return nil, fault.Config("rulebook capacity for class %q must be positive", name)
		}

		rb.capacity[class] = cap
	}

	return rb, nil
}

func validClass(class course.SchemaClass) bool {
	switch class {
	case course.ClassStartCorral, course.ClassOnCourseNarrow, course.ClassOnCourseOpen:
		return true
	default:
		return false
	}
}
