package report_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raceops/courseflow/internal/canonical"
	"github.com/raceops/courseflow/internal/course"
	"github.com/raceops/courseflow/internal/flow"
	"github.com/raceops/courseflow/internal/report"
	"github.com/raceops/courseflow/internal/rulebook"
)

func testInput(t *testing.T) report.Input {
	t.Helper()

	crs, err := course.New([]course.Segment{{
		ID: "A1", Label: "Riverside", WidthM: 6, Class: course.ClassOnCourseOpen,
		Spans: map[string]course.Span{"10k": {FromKm: 0, ToKm: 2}},
	}}, nil)
	require.NoError(t, err)

	return report.Input{
		RunID:      "run-0001",
		Day:        "sun",
		AppVersion: "v1.2.3",
		Windows: []canonical.SegmentWindow{
			{SegID: "A1", K: 0, TStartS: 25200, TEndS: 25230, DensityMean: 0.10, DensityPeak: 0.20, NBins: 3},
			{SegID: "A1", K: 1, TStartS: 25230, TEndS: 25260, DensityMean: 0.30, DensityPeak: 0.60, NBins: 4},
			{SegID: "A1", K: 2, TStartS: 25260, TEndS: 25290, DensityMean: 0.15, DensityPeak: 0.25, NBins: 3},
		},
		Summaries: []flow.Summary{{
			SegID: "A1", EventA: "10k", EventB: "half",
			FlowType: course.FlowOvertake, Encounters: 5,
			OvertakingA: 2, OvertakingB: 0, HasConvergence: true,
		}},
		Course:          crs,
		Rulebook:        rulebook.Default(),
		SkippedRunners:  3,
		SkippedSegments: 1,
		Now:             func() time.Time { return time.Date(2026, 4, 12, 10, 0, 0, 0, time.UTC) },
	}
}

func TestRenderMarkdown(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, report.RenderMarkdown(&buf, testInput(t)))

	out := buf.String()

	assert.Contains(t, out, "# Courseflow report")
	assert.Contains(t, out, "| Run | run-0001 |")
	assert.Contains(t, out, "## Segment density")
	// Peak density 0.60 at window k=1 starting 07:00:30, LOS C under the
	// default thresholds (0.54 <= 0.60 < 0.72).
	assert.Contains(t, out, "07:00:30")
	assert.Contains(t, out, "0.6000")
	assert.Contains(t, out, "| C |")
	assert.Contains(t, out, "## Flow interactions")
	assert.Contains(t, out, "10k / half")
	assert.Contains(t, out, "Skipped runners (non-positive pace): 3")
}

func TestRenderMarkdown_EmptyDay(t *testing.T) {
	t.Parallel()

	in := testInput(t)
	in.Windows = nil
	in.Summaries = nil

	var buf bytes.Buffer

	require.NoError(t, report.RenderMarkdown(&buf, in))
	assert.Contains(t, buf.String(), "## Segment density")
}

func TestRenderCharts(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, report.RenderCharts(&buf, testInput(t)))

	out := buf.String()
	assert.Contains(t, out, "Segment A1")
	assert.Contains(t, out, "Encounters per flow pair")
}

func TestWriteDay(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	require.NoError(t, report.WriteDay(dir, testInput(t)))

	for _, name := range []string{"report_sun.md", "density_sun.html"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}
}
