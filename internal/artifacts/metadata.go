package artifacts

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"
)

// DayMetadata is the per-day metadata.json document.
type DayMetadata struct {
	RunID         string    `json:"run_id"`
	Day           string    `json:"day"`
	Status        string    `json:"status"`
	AppVersion    string    `json:"app_version"`
	SchemaVersion string    `json:"schema_version"`
	AnalysisHash  string    `json:"analysis_hash"`
	Environment   string    `json:"environment"`
	GeneratedAt   time.Time `json:"generated_at"`

	Counts DayCounts `json:"counts"`

	// Grid describes the effective post-coarsening resolution.
	Grid GridMetadata `json:"grid"`

	ReconcileMaxRelErr float64 `json:"reconcile_max_rel_err"`
}

// DayCounts summarizes the day's output volumes.
type DayCounts struct {
	Bins            int `json:"n_bins"`
	Windows         int `json:"n_windows"`
	Encounters      int `json:"n_encounters"`
	Audits          int `json:"n_audits"`
	SkippedRunners  int `json:"skipped_runners"`
	SkippedSegments int `json:"skipped_segments"`
}

// GridMetadata records the resolution the day settled on after coarsening.
type GridMetadata struct {
	DxKm             float64 `json:"dx_km"`
	DtS              float64 `json:"dt_s"`
	DtMult           int     `json:"dt_mult"`
	DxMult           int     `json:"dx_mult"`
	SoftTimeoutFired bool    `json:"soft_timeout_fired"`
}

// RunMetadata is the run-level metadata.json document.
type RunMetadata struct {
	RunID        string    `json:"run_id"`
	CreatedAt    time.Time `json:"created_at"`
	AppVersion   string    `json:"app_version"`
	Environment  string    `json:"environment"`
	AnalysisHash string    `json:"analysis_hash"`

	// Config is the canonicalized run configuration the hash covers.
	Config json.RawMessage `json:"config"`

	Days []RunDayStatus `json:"days"`
}

// RunDayStatus is one day's outcome in the run manifest.
type RunDayStatus struct {
	Day    string `json:"day"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (e *Emitter) writeDayMetadata(path string, d Day) error {
	status := "pass"
	if d.ReconcileFailed {
		status = "fail"
	}

	encounters := 0
	for _, s := range d.Summaries {
		encounters += s.Encounters
	}

	meta := DayMetadata{
		RunID:         e.RunID,
		Day:           d.Day,
		Status:        status,
		AppVersion:    e.AppVersion,
		SchemaVersion: SchemaVersion,
		AnalysisHash:  e.AnalysisHash,
		Environment:   e.Environment,
		GeneratedAt:   e.now().UTC(),
		Counts: DayCounts{
			Bins:            len(d.Bins),
			Windows:         len(d.Windows),
			Encounters:      encounters,
			Audits:          len(d.Audits),
			SkippedRunners:  d.Meta.SkippedRunners,
			SkippedSegments: len(d.Meta.SkippedSegments),
		},
		Grid: GridMetadata{
			DxKm:             d.Meta.DxKm,
			DtS:              d.Meta.DtS,
			DtMult:           d.Meta.Step.DtMult,
			DxMult:           d.Meta.Step.DxMult,
			SoftTimeoutFired: d.Meta.SoftTimeoutFired,
		},
		ReconcileMaxRelErr: d.MaxRelErr,
	}

	return writeJSON(path, meta)
}

// WriteRunMetadata writes the run-level manifest after all days settle.
func (e *Emitter) WriteRunMetadata(createdAt time.Time, config json.RawMessage, days []RunDayStatus) error {
	meta := RunMetadata{
		RunID:        e.RunID,
		CreatedAt:    createdAt.UTC(),
		AppVersion:   e.AppVersion,
		Environment:  e.Environment,
		AnalysisHash: e.AnalysisHash,
		Config:       config,
		Days:         days,
	}

	return writeJSON(filepath.Join(e.RunDir(), "metadata.json"), meta)
}

func writeJSON(path string, doc any) error {
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
		}

		return nil
	})
}
