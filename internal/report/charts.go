package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderCharts writes the day's chart page: one density line per segment
// plus an encounters bar across flow pairs.
func RenderCharts(w io.Writer, in Input) error {
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("courseflow %s — %s", in.RunID, in.Day)

	for _, line := range densityLines(in) {
		page.AddCharts(line)
	}

	page.AddCharts(encounterBar(in))

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render chart page: %w", err)
	}

	return nil
}

func densityLines(in Input) []*charts.Line {
	bySeg := make(map[string][]int)

	for i, w := range in.Windows {
		bySeg[w.SegID] = append(bySeg[w.SegID], i)
	}

	segIDs := make([]string, 0, len(bySeg))
	for id := range bySeg {
		segIDs = append(segIDs, id)
	}

	sort.Strings(segIDs)

	lines := make([]*charts.Line, 0, len(segIDs))

	for _, id := range segIDs {
		indices := bySeg[id]

		xs := make([]string, len(indices))
		ys := make([]opts.LineData, len(indices))

		for i, idx := range indices {
			xs[i] = clock(in.Windows[idx].TStartS)
			ys[i] = opts.LineData{Value: in.Windows[idx].DensityPeak}
		}

		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithTitleOpts(opts.Title{
				Title:    fmt.Sprintf("Segment %s", id),
				Subtitle: "peak areal density (p/m²) per window",
			}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		line.SetXAxis(xs).AddSeries("density_peak", ys)

		lines = append(lines, line)
	}

	return lines
}

func encounterBar(in Input) *charts.Bar {
	xs := make([]string, len(in.Summaries))
	ys := make([]opts.BarData, len(in.Summaries))

	for i, s := range in.Summaries {
		xs[i] = fmt.Sprintf("%s %s/%s", s.SegID, s.EventA, s.EventB)
		ys[i] = opts.BarData{Value: s.Encounters}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Encounters per flow pair",
			Subtitle: "overlaps meeting the dwell threshold",
		}),
	)
	bar.SetXAxis(xs).AddSeries("encounters", ys)

	return bar
}
