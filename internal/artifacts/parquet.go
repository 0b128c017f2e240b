package artifacts

import (
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/raceops/courseflow/pkg/safeconv"
)

// BinRow is the bins.parquet schema. GeoJSON feature properties mirror it.
type BinRow struct {
	SegID           string    `parquet:"seg_id" json:"seg_id"`
	J               int32     `parquet:"j" json:"j"`
	K               int32     `parquet:"k" json:"k"`
	KmStart         float64   `parquet:"km_start" json:"km_start"`
	KmEnd           float64   `parquet:"km_end" json:"km_end"`
	TimeStart       time.Time `parquet:"time_start" json:"time_start"`
	TimeEnd         time.Time `parquet:"time_end" json:"time_end"`
	Concurrent      int32     `parquet:"concurrent" json:"concurrent"`
	DensityPM2      float64   `parquet:"density_p_m2" json:"density_p_m2"`
	RatePerMPerMin  float64   `parquet:"rate_per_m_per_min" json:"rate_per_m_per_min"`
	FlowUtilization float64   `parquet:"flow_utilization" json:"flow_utilization"`
	LOS             string    `parquet:"los" json:"los"`
	Severity        string    `parquet:"severity" json:"severity"`
	FlagReason      *string   `parquet:"flag_reason,optional" json:"flag_reason"`
	SchemaVersion   string    `parquet:"schema_version" json:"schema_version"`
	AnalysisHash    string    `parquet:"analysis_hash" json:"analysis_hash"`
}

// WindowRow is the segment_windows_from_bins.parquet schema.
type WindowRow struct {
	SegID       string    `parquet:"seg_id"`
	TStart      time.Time `parquet:"t_start"`
	TEnd        time.Time `parquet:"t_end"`
	DensityMean float64   `parquet:"density_mean"`
	DensityPeak float64   `parquet:"density_peak"`
	NBins       int32     `parquet:"n_bins"`
}

// AuditRow is the audit_{day}.parquet schema, one row per realized overlap.
type AuditRow struct {
	SegID   string `parquet:"seg_id"`
	EventA  string `parquet:"event_a"`
	EventB  string `parquet:"event_b"`
	RunnerA string `parquet:"runner_id_a"`
	RunnerB string `parquet:"runner_id_b"`

	EntryKmA   float64 `parquet:"entry_km_a"`
	ExitKmA    float64 `parquet:"exit_km_a"`
	EntryTimeA float64 `parquet:"entry_time_a"`
	ExitTimeA  float64 `parquet:"exit_time_a"`
	EntryKmB   float64 `parquet:"entry_km_b"`
	ExitKmB    float64 `parquet:"exit_km_b"`
	EntryTimeB float64 `parquet:"entry_time_b"`
	ExitTimeB  float64 `parquet:"exit_time_b"`

	OverlapDwellS    float64 `parquet:"overlap_dwell_s"`
	EntryDeltaS      float64 `parquet:"entry_delta_s"`
	ExitDeltaS       float64 `parquet:"exit_delta_s"`
	RelOrderEntry    int32   `parquet:"rel_order_entry"`
	RelOrderExit     int32   `parquet:"rel_order_exit"`
	OrderFlip        bool    `parquet:"order_flip"`
	DirectionalGainS float64 `parquet:"directional_gain_s"`
	PassFlagRaw      bool    `parquet:"pass_flag_raw"`
	PassFlagStrict   bool    `parquet:"pass_flag_strict"`
	InConflictZone   bool    `parquet:"in_conflict_zone"`
	FlowType         string  `parquet:"flow_type"`
}

// binRows converts the day's bins into parquet rows with absolute
// timestamps and the run stamps applied.
func (e *Emitter) binRows(d Day) []BinRow {
	rows := make([]BinRow, len(d.Bins))

	for i, b := range d.Bins {
		var flagReason *string
		if b.FlagReason != "" {
			reason := b.FlagReason
			flagReason = &reason
		}

		rows[i] = BinRow{
			SegID:           b.SegID,
			J:               safeconv.MustIntToInt32(b.J),
			K:               safeconv.MustIntToInt32(b.K),
			KmStart:         b.KmStart,
			KmEnd:           b.KmEnd,
			TimeStart:       dayTime(d.Date, b.TStartS),
			TimeEnd:         dayTime(d.Date, b.TEndS),
			Concurrent:      safeconv.MustIntToInt32(b.Concurrent),
			DensityPM2:      b.ArealPM2,
			RatePerMPerMin:  b.RatePerMPerMin,
			FlowUtilization: b.FlowUtilization,
			LOS:             string(b.LOS),
			Severity:        string(b.Severity),
			FlagReason:      flagReason,
			SchemaVersion:   SchemaVersion,
			AnalysisHash:    e.AnalysisHash,
		}
	}

	return rows
}

func (e *Emitter) windowRows(d Day) []WindowRow {
	rows := make([]WindowRow, len(d.Windows))

	for i, w := range d.Windows {
		rows[i] = WindowRow{
			SegID:       w.SegID,
			TStart:      dayTime(d.Date, w.TStartS),
			TEnd:        dayTime(d.Date, w.TEndS),
			DensityMean: w.DensityMean,
			DensityPeak: w.DensityPeak,
			NBins:       safeconv.MustIntToInt32(w.NBins),
		}
	}

	return rows
}

func (e *Emitter) auditRows(d Day) []AuditRow {
	rows := make([]AuditRow, len(d.Audits))

	for i, a := range d.Audits {
		rows[i] = AuditRow{
			SegID:            a.SegID,
			EventA:           a.EventA,
			EventB:           a.EventB,
			RunnerA:          a.RunnerA,
			RunnerB:          a.RunnerB,
			EntryKmA:         a.EntryKmA,
			ExitKmA:          a.ExitKmA,
			EntryTimeA:       a.EntryTimeA,
			ExitTimeA:        a.ExitTimeA,
			EntryKmB:         a.EntryKmB,
			ExitKmB:          a.ExitKmB,
			EntryTimeB:       a.EntryTimeB,
			ExitTimeB:        a.ExitTimeB,
			OverlapDwellS:    a.OverlapDwellS,
			EntryDeltaS:      a.EntryDeltaS,
			ExitDeltaS:       a.ExitDeltaS,
			RelOrderEntry:    safeconv.MustIntToInt32(a.RelOrderEntry),
			RelOrderExit:     safeconv.MustIntToInt32(a.RelOrderExit),
			OrderFlip:        a.OrderFlip,
			DirectionalGainS: a.DirectionalGainS,
			PassFlagRaw:      a.PassFlagRaw,
			PassFlagStrict:   a.PassFlagStrict,
			InConflictZone:   a.InConflictZone,
			FlowType:         string(a.FlowType),
		}
	}

	return rows
}

// dayTime anchors a seconds-after-midnight offset on the race day in UTC.
func dayTime(date time.Time, offsetS float64) time.Time {
	return date.UTC().Add(time.Duration(offsetS * float64(time.Second)))
}

// writeParquet writes rows as a zstd-compressed parquet file, atomically.
func writeParquet[T any](path string, rows []T) error {
	return writeAtomic(path, func(w io.Writer) error {
		pw := parquet.NewGenericWriter[T](w,
			parquet.Compression(&zstd.Codec{Level: zstd.SpeedDefault}))

		if len(rows) > 0 {
			if _, err := pw.Write(rows); err != nil {
				return fmt.Errorf("write parquet rows: %w", err)
			}
		}

		if err := pw.Close(); err != nil {
			return fmt.Errorf("close parquet writer: %w", err)
		}

		return nil
	})
}
