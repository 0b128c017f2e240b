package rulebook_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raceops/courseflow/internal/course"
	"github.com/raceops/courseflow/internal/fault"
	"github.com/raceops/courseflow/internal/rulebook"
)

func TestClassify_DefaultThresholds(t *testing.T) {
	t.Parallel()

	rb := rulebook.Default()
	th := rb.ThresholdsFor(course.ClassOnCourseOpen)

	tests := []struct {
		areal float64
		want  rulebook.LOS
	}{
		{0.0, rulebook.LOSA},
		{0.35, rulebook.LOSA},
		{0.36, rulebook.LOSB},
		{0.53, rulebook.LOSB},
		{0.54, rulebook.LOSC},
		{0.72, rulebook.LOSD},
		{1.08, rulebook.LOSE},
		{1.62, rulebook.LOSE},
		{1.63, rulebook.LOSF},
		{5.0, rulebook.LOSF},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, th.Classify(tc.areal), "areal %g", tc.areal)
	}
}

func TestClassify_Monotone(t *testing.T) {
	t.Parallel()

	th := rulebook.Default().ThresholdsFor(course.ClassOnCourseNarrow)

	prev := th.Classify(0)
	for areal := 0.01; areal < 3.0; areal += 0.01 {
		cur := th.Classify(areal)
		assert.GreaterOrEqual(t, cur, prev, "LOS must not decrease with density")
		prev = cur
	}
}

func TestSeverityOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		los  rulebook.LOS
		util float64
		want rulebook.Severity
	}{
		{"A low util", rulebook.LOSA, 0.1, rulebook.SeverityNone},
		{"B over capacity", rulebook.LOSB, 1.2, rulebook.SeverityWatch},
		{"C", rulebook.LOSC, 0.2, rulebook.SeverityWatch},
		{"D", rulebook.LOSD, 0.2, rulebook.SeverityWatch},
		{"E", rulebook.LOSE, 0.2, rulebook.SeverityCritical},
		{"F", rulebook.LOSF, 2.0, rulebook.SeverityCritical},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, rulebook.SeverityOf(tc.los, tc.util))
		})
	}
}

func TestParse_Overrides(t *testing.T) {
	t.Parallel()

	raw := []byte(`
global:
  a: 0.30
  b: 0.50
  c: 0.70
  d: 1.00
  e: 1.50
overrides:
  start_corral:
    thresholds:
      a: 0.80
      b: 1.20
      c: 1.60
      d: 2.00
      e: 2.40
capacity:
  on_course_narrow: 60
`)

	rb, err := rulebook.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, rulebook.LOSB, rb.ThresholdsFor(course.ClassOnCourseOpen).Classify(0.31))
	assert.Equal(t, rulebook.LOSA, rb.ThresholdsFor(course.ClassStartCorral).Classify(0.75))
	assert.InDelta(t, 60.0, rb.CapacityFor(course.ClassOnCourseNarrow), 1e-12)
	assert.InDelta(t, 82.0, rb.CapacityFor(course.ClassOnCourseOpen), 1e-12)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"non increasing global", "global: {a: 0.5, b: 0.4, c: 0.7, d: 1.0, e: 1.5}"},
		{"unknown class", "overrides: {bridge: {thresholds: {a: 0.1, b: 0.2, c: 0.3, d: 0.4, e: 0.5}}}"},
		{"zero capacity", "capacity: {start_corral: 0}"},
		{"bad yaml", ": ["},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := rulebook.Parse([]byte(tc.raw))
			require.Error(t, err)
			assert.Equal(t, fault.KindConfig, fault.KindOf(err))
		})
	}
}
