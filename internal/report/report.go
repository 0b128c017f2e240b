// Package report renders per-day markdown and chart pages from the
// canonical segment windows and flow summaries. Raw bins never reach the
// renderer; the canonical layer is the single source of truth.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"gonum.org/v1/gonum/stat"

	"github.com/raceops/courseflow/internal/canonical"
	"github.com/raceops/courseflow/internal/course"
	"github.com/raceops/courseflow/internal/flow"
	"github.com/raceops/courseflow/internal/rulebook"
)

// Input is everything one day's report consumes.
type Input struct {
	RunID      string
	Day        string
	AppVersion string

	Windows   []canonical.SegmentWindow
	Summaries []flow.Summary

	// Course and Rulebook classify peak densities per segment class.
	Course   *course.Course
	Rulebook *rulebook.Rulebook

	SkippedRunners  int
	SkippedSegments int

	// Now supplies the report timestamp; nil uses time.Now.
	Now func() time.Time
}

func (in Input) now() time.Time {
	if in.Now != nil {
		return in.Now()
	}

	return time.Now()
}

// WriteDay renders report_{day}.md and density_{day}.html into dir.
func WriteDay(dir string, in Input) error {
	md, err := os.Create(filepath.Join(dir, fmt.Sprintf("report_%s.md", in.Day)))
	if err != nil {
		return fmt.Errorf("create markdown report: %w", err)
	}
	defer md.Close()

	if err := RenderMarkdown(md, in); err != nil {
		return err
	}

	html, err := os.Create(filepath.Join(dir, fmt.Sprintf("density_%s.html", in.Day)))
	if err != nil {
		return fmt.Errorf("create chart page: %w", err)
	}
	defer html.Close()

	return RenderCharts(html, in)
}

// segmentStats is one segment's density digest over its windows.
type segmentStats struct {
	segID      string
	peakWindow string
	peak       float64
	los        rulebook.LOS
	p50        float64
	p90        float64
	p99        float64
}

// RenderMarkdown writes the day's markdown report.
func RenderMarkdown(w io.Writer, in Input) error {
	_, err := fmt.Fprintf(w, "# Courseflow report\n\n| | |\n|---|---|\n| Run | %s |\n| Day | %s |\n| Version | %s |\n| Generated | %s |\n\n",
		in.RunID, in.Day, in.AppVersion, in.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("write report header: %w", err)
	}

	if err := writeDensitySection(w, in); err != nil {
		return err
	}

	if err := writeFlowSection(w, in.Summaries); err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "## Data quality\n\n- Skipped runners (non-positive pace): %d\n- Skipped segments: %d\n",
		in.SkippedRunners, in.SkippedSegments)
	if err != nil {
		return fmt.Errorf("write data quality section: %w", err)
	}

	return nil
}

func writeDensitySection(w io.Writer, in Input) error {
	if _, err := fmt.Fprint(w, "## Segment density\n\n"); err != nil {
		return fmt.Errorf("write density section: %w", err)
	}

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{
		"Segment", "Peak window", "Peak (p/m²)", "LOS at peak", "p50", "p90", "p99",
	})

	for _, s := range segmentDigest(in) {
		tw.AppendRow(table.Row{
			s.segID, s.peakWindow,
			fmt.Sprintf("%.4f", s.peak), string(s.los),
			fmt.Sprintf("%.4f", s.p50), fmt.Sprintf("%.4f", s.p90), fmt.Sprintf("%.4f", s.p99),
		})
	}

	if _, err := fmt.Fprint(w, tw.RenderMarkdown(), "\n\n"); err != nil {
		return fmt.Errorf("write density table: %w", err)
	}

	return nil
}

func writeFlowSection(w io.Writer, summaries []flow.Summary) error {
	if _, err := fmt.Fprint(w, "## Flow interactions\n\n"); err != nil {
		return fmt.Errorf("write flow section: %w", err)
	}

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{
		"Segment", "Pair", "Type", "Encounters", "Overtaking A", "Overtaking B", "Convergence",
	})

	for _, s := range summaries {
		tw.AppendRow(table.Row{
			s.SegID,
			fmt.Sprintf("%s / %s", s.EventA, s.EventB),
			string(s.FlowType),
			s.Encounters, s.OvertakingA, s.OvertakingB,
			s.HasConvergence,
		})
	}

	if _, err := fmt.Fprint(w, tw.RenderMarkdown(), "\n\n"); err != nil {
		return fmt.Errorf("write flow table: %w", err)
	}

	return nil
}

// segmentDigest folds the windows into per-segment stats, ordered by
// segment id.
func segmentDigest(in Input) []segmentStats {
	bySeg := make(map[string][]canonical.SegmentWindow)

	for _, w := range in.Windows {
		bySeg[w.SegID] = append(bySeg[w.SegID], w)
	}

	segIDs := make([]string, 0, len(bySeg))
	for id := range bySeg {
		segIDs = append(segIDs, id)
	}

	sort.Strings(segIDs)

	out := make([]segmentStats, 0, len(segIDs))

	for _, id := range segIDs {
		windows := bySeg[id]

		peakIdx := 0
		peaks := make([]float64, len(windows))

		for i, w := range windows {
			peaks[i] = w.DensityPeak

			if w.DensityPeak > windows[peakIdx].DensityPeak {
				peakIdx = i
			}
		}

		sort.Float64s(peaks)

		out = append(out, segmentStats{
			segID:      id,
			peakWindow: clock(windows[peakIdx].TStartS),
			peak:       windows[peakIdx].DensityPeak,
			los:        losAtPeak(in, id, windows[peakIdx].DensityPeak),
			p50:        stat.Quantile(0.50, stat.Empirical, peaks, nil),
			p90:        stat.Quantile(0.90, stat.Empirical, peaks, nil),
			p99:        stat.Quantile(0.99, stat.Empirical, peaks, nil),
		})
	}

	return out
}

func losAtPeak(in Input, segID string, peak float64) rulebook.LOS {
	rb := in.Rulebook
	if rb == nil {
		rb = rulebook.Default()
	}

	class := course.SchemaClass("")

	if in.Course != nil {
		if seg, ok := in.Course.Segment(segID); ok {
			class = seg.Class
		}
	}

	return rb.ThresholdsFor(class).Classify(peak)
}

// clock formats seconds after midnight as HH:MM:SS.
func clock(offsetS float64) string {
	total := int(offsetS)

	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total/60%60, total%60)
}
