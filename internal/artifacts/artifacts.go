// Package artifacts writes a run's on-disk outputs: parquet bin and window
// tables, gzipped GeoJSON, the Flow.csv report feed, audit parquet, and the
// metadata manifests. All writes are atomic (temp file + rename) so a
// crashed day never leaves a half-written artifact behind.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/raceops/courseflow/internal/binning"
	"github.com/raceops/courseflow/internal/canonical"
	"github.com/raceops/courseflow/internal/course"
	"github.com/raceops/courseflow/internal/flow"
)

// SchemaVersion tags every emitted row with the artifact schema revision.
const SchemaVersion = "1.0"

// Emitter writes one run's artifacts under OutDir/RunID.
type Emitter struct {
	OutDir      string
	RunID       string
	AppVersion  string
	Environment string

	// AnalysisHash is the SHA-256 of the canonicalized run config,
	// stamped on every bin row and manifest.
	AnalysisHash string

	// Now supplies the analysis timestamp; nil uses time.Now.
	Now func() time.Time
}

// Day bundles one day's results for emission.
type Day struct {
	Day string

	// Date is the race day at midnight UTC; window offsets are added to it
	// to produce absolute timestamps.
	Date time.Time

	// Events lists the day's event names, used to anchor bin kilometrage
	// onto segment polylines.
	Events []string

	Bins      []binning.Bin
	Meta      binning.Meta
	Windows   []canonical.SegmentWindow
	Summaries []flow.Summary
	Audits    []flow.Audit

	// MaxRelErr is the reconciliation error; ReconcileFailed withholds the
	// canonical window table from the manifest while the bins are still
	// written for diagnosis.
	MaxRelErr       float64
	ReconcileFailed bool
}

// RunDir returns the run's root output directory.
func (e *Emitter) RunDir() string {
	return filepath.Join(e.OutDir, e.RunID)
}

// DayDir returns the day's output directory.
func (e *Emitter) DayDir(day string) string {
	return filepath.Join(e.RunDir(), day)
}

// ReportsDir returns the day's reports directory, creating it if needed.
// The report renderer writes its markdown and chart pages here.
func (e *Emitter) ReportsDir(day string) (string, error) {
	dir := filepath.Join(e.DayDir(day), "reports")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}

	return dir, nil
}

// RemoveDay purges a failed day's partial artifacts.
func (e *Emitter) RemoveDay(day string) error {
	if err := os.RemoveAll(e.DayDir(day)); err != nil {
		return fmt.Errorf("purge day %s artifacts: %w", day, err)
	}

	return nil
}

func (e *Emitter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}

	return time.Now()
}

// EmitDay writes the day's artifact set. Canonical windows are withheld
// when reconciliation failed; everything else is written regardless so the
// bins remain available for diagnosis.
func (e *Emitter) EmitDay(crs *course.Course, d Day) error {
	binsDir := filepath.Join(e.DayDir(d.Day), "bins")
	reportsDir := filepath.Join(e.DayDir(d.Day), "reports")
	auditDir := filepath.Join(e.DayDir(d.Day), "audit")

	for _, dir := range []string{binsDir, reportsDir, auditDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}
	}

	binRows := e.binRows(d)

	err := writeParquet(filepath.Join(binsDir, "bins.parquet"), binRows)
	if err != nil {
		return fmt.Errorf("write bins parquet for day %s: %w", d.Day, err)
	}

	err = e.writeBinsGeoJSON(filepath.Join(binsDir, "bins.geojson.gz"), crs, d, binRows)
	if err != nil {
		return fmt.Errorf("write bins geojson for day %s: %w", d.Day, err)
	}

	if !d.ReconcileFailed {
		err = writeParquet(filepath.Join(binsDir, "segment_windows_from_bins.parquet"), e.windowRows(d))
		if err != nil {
			return fmt.Errorf("write segment windows for day %s: %w", d.Day, err)
		}
	}

	err = e.writeFlowCSV(filepath.Join(reportsDir, "Flow.csv"), d.Summaries)
	if err != nil {
		return fmt.Errorf("write flow csv for day %s: %w", d.Day, err)
	}

	auditPath := filepath.Join(auditDir, fmt.Sprintf("audit_%s.parquet", d.Day))

	err = writeParquet(auditPath, e.auditRows(d))
	if err != nil {
		return fmt.Errorf("write audit parquet for day %s: %w", d.Day, err)
	}

	err = e.writeDayMetadata(filepath.Join(e.DayDir(d.Day), "metadata.json"), d)
	if err != nil {
		return fmt.Errorf("write metadata for day %s: %w", d.Day, err)
	}

	return nil
}
