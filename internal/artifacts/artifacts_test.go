package artifacts_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raceops/courseflow/internal/artifacts"
	"github.com/raceops/courseflow/internal/binning"
	"github.com/raceops/courseflow/internal/canonical"
	"github.com/raceops/courseflow/internal/course"
	"github.com/raceops/courseflow/internal/flow"
	"github.com/raceops/courseflow/internal/rulebook"
)

func testCourse(t *testing.T) *course.Course {
	t.Helper()

	crs, err := course.New([]course.Segment{{
		ID: "A1", Label: "Riverside", WidthM: 6, Class: course.ClassOnCourseOpen,
		Geometry: []course.LatLon{
			{Lat: 52.5200, Lon: 13.4050},
			{Lat: 52.5210, Lon: 13.4080},
			{Lat: 52.5215, Lon: 13.4120},
		},
		Spans: map[string]course.Span{"10k": {FromKm: 0, ToKm: 2}},
	}}, nil)
	require.NoError(t, err)

	return crs
}

func testDay() artifacts.Day {
	bins := []binning.Bin{
		{
			SegID: "A1", J: 0, K: 3, KmStart: 0, KmEnd: 0.1,
			TStartS: 90, TEndS: 120, Concurrent: 12,
			ArealPM2: 0.02, RatePerMPerMin: 4, FlowUtilization: 0.05,
			LOS: rulebook.LOSA, Severity: rulebook.SeverityNone,
		},
		{
			SegID: "A1", J: 1, K: 3, KmStart: 0.1, KmEnd: 0.2,
			TStartS: 90, TEndS: 120, Concurrent: 30,
			ArealPM2: 0.05, RatePerMPerMin: 10, FlowUtilization: 0.12,
			LOS: rulebook.LOSA, Severity: rulebook.SeverityNone,
			FlagReason: binning.FlagShortSegment,
		},
	}

	return artifacts.Day{
		Day:     "sun",
		Date:    time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC),
		Events:  []string{"10k"},
		Bins:    bins,
		Windows: canonical.Aggregate(bins),
		Summaries: []flow.Summary{{
			SegID: "A1", EventA: "10k", EventB: "half",
			FlowType: course.FlowOvertake, Encounters: 3,
			ParticipantsA: 2, ParticipantsB: 1,
			CopresenceA: 3, CopresenceB: 3,
			OvertakingA: 1, OvertakingARaw: 1, OvertakingAStrict: 1,
			HasConvergence: true,
			FromKmA:        0.4, ToKmA: 0.5, FromKmB: 0.4, ToKmB: 0.5,
		}},
		Audits: []flow.Audit{{
			SegID: "A1", EventA: "10k", EventB: "half",
			RunnerA: "t-1", RunnerB: "h-1",
			OverlapDwellS: 240, EntryDeltaS: -120, ExitDeltaS: 180,
			RelOrderEntry: -1, RelOrderExit: 1, OrderFlip: true,
			DirectionalGainS: 300, PassFlagRaw: true, PassFlagStrict: true,
			InConflictZone: true, FlowType: course.FlowOvertake,
		}},
		MaxRelErr: 0,
	}
}

func newEmitter(t *testing.T) *artifacts.Emitter {
	t.Helper()

	return &artifacts.Emitter{
		OutDir:       t.TempDir(),
		RunID:        "run-0001",
		AppVersion:   "v1.2.3",
		Environment:  "test",
		AnalysisHash: "deadbeef",
		Now:          func() time.Time { return time.Date(2026, 4, 12, 9, 30, 0, 0, time.UTC) },
	}
}

func TestEmitDay_WritesArtifactSet(t *testing.T) {
	t.Parallel()

	e := newEmitter(t)
	d := testDay()

	require.NoError(t, e.EmitDay(testCourse(t), d))

	dayDir := e.DayDir("sun")
	for _, rel := range []string{
		"bins/bins.parquet",
		"bins/bins.geojson.gz",
		"bins/segment_windows_from_bins.parquet",
		"reports/Flow.csv",
		"audit/audit_sun.parquet",
		"metadata.json",
	} {
		info, err := os.Stat(filepath.Join(dayDir, rel))
		require.NoError(t, err, rel)
		assert.Positive(t, info.Size(), rel)
	}

	// No temp files left behind.
	matches, err := filepath.Glob(filepath.Join(dayDir, "bins", "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestEmitDay_ParquetRoundTrip(t *testing.T) {
	t.Parallel()

	e := newEmitter(t)
	d := testDay()

	require.NoError(t, e.EmitDay(testCourse(t), d))

	rows, err := parquet.ReadFile[artifacts.BinRow](filepath.Join(e.DayDir("sun"), "bins", "bins.parquet"))
	require.NoError(t, err)
	require.Len(t, rows, len(d.Bins))

	first := rows[0]
	assert.Equal(t, "A1", first.SegID)
	assert.Equal(t, int32(3), first.K)
	assert.Equal(t, int32(12), first.Concurrent)
	assert.Equal(t, 0.02, first.DensityPM2)
	assert.Equal(t, "deadbeef", first.AnalysisHash)
	assert.True(t, first.TimeStart.Equal(time.Date(2026, 4, 12, 0, 1, 30, 0, time.UTC)))
	assert.Nil(t, first.FlagReason)

	require.NotNil(t, rows[1].FlagReason)
	assert.Equal(t, binning.FlagShortSegment, *rows[1].FlagReason)
}

func TestEmitDay_GeoJSONRoundTrip(t *testing.T) {
	t.Parallel()

	e := newEmitter(t)
	d := testDay()

	require.NoError(t, e.EmitDay(testCourse(t), d))

	fc, err := artifacts.ReadBinsGeoJSON(filepath.Join(e.DayDir("sun"), "bins", "bins.geojson.gz"))
	require.NoError(t, err)
	require.Len(t, fc.Features, len(d.Bins), "feature count equals parquet row count")

	for i, feat := range fc.Features {
		b := d.Bins[i]

		assert.Equal(t, "Feature", feat.Type)
		assert.Equal(t, "Polygon", feat.Geometry.Type)
		require.Len(t, feat.Geometry.Coordinates, 1)

		ring := feat.Geometry.Coordinates[0]
		require.GreaterOrEqual(t, len(ring), 5)
		assert.Equal(t, ring[0], ring[len(ring)-1], "ring must close")

		// Properties mirror the parquet columns exactly; JSON float64
		// marshaling round-trips bit-for-bit.
		assert.Equal(t, b.SegID, feat.Properties.SegID)
		assert.Equal(t, int32(b.J), feat.Properties.J)
		assert.Equal(t, int32(b.K), feat.Properties.K)
		assert.Equal(t, b.KmStart, feat.Properties.KmStart)
		assert.Equal(t, b.KmEnd, feat.Properties.KmEnd)
		assert.Equal(t, b.ArealPM2, feat.Properties.DensityPM2)
		assert.Equal(t, b.RatePerMPerMin, feat.Properties.RatePerMPerMin)
	}
}

func TestEmitDay_ReconcileFailureWithholdsWindows(t *testing.T) {
	t.Parallel()

	e := newEmitter(t)
	d := testDay()
	d.ReconcileFailed = true
	d.MaxRelErr = 0.09

	require.NoError(t, e.EmitDay(testCourse(t), d))

	_, err := os.Stat(filepath.Join(e.DayDir("sun"), "bins", "segment_windows_from_bins.parquet"))
	assert.True(t, os.IsNotExist(err), "windows withheld on reconcile failure")

	_, err = os.Stat(filepath.Join(e.DayDir("sun"), "bins", "bins.parquet"))
	assert.NoError(t, err, "bins still written for diagnosis")

	raw, err := os.ReadFile(filepath.Join(e.DayDir("sun"), "metadata.json"))
	require.NoError(t, err)

	var meta artifacts.DayMetadata
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, "fail", meta.Status)
	assert.Equal(t, 0.09, meta.ReconcileMaxRelErr)
}

func TestEmitDay_FlowCSV(t *testing.T) {
	t.Parallel()

	e := newEmitter(t)
	d := testDay()

	require.NoError(t, e.EmitDay(testCourse(t), d))

	raw, err := os.ReadFile(filepath.Join(e.DayDir("sun"), "reports", "Flow.csv"))
	require.NoError(t, err)

	content := string(raw)
	assert.Contains(t, content, "seg_id,event_a,event_b,flow_type")
	assert.Contains(t, content, "A1,10k,half,overtake,3,2,1,3,3,1,0,1,0,1,0,true")
	assert.Contains(t, content, "v1.2.3,2026-04-12T09:30:00Z,test")
}

func TestRemoveDay(t *testing.T) {
	t.Parallel()

	e := newEmitter(t)

	require.NoError(t, e.EmitDay(testCourse(t), testDay()))
	require.NoError(t, e.RemoveDay("sun"))

	_, err := os.Stat(e.DayDir("sun"))
	assert.True(t, os.IsNotExist(err))
}

func TestAnalysisHash_Deterministic(t *testing.T) {
	t.Parallel()

	type cfg struct {
		Events []string `json:"events"`
		DxKm   float64  `json:"bin_dx_km"`
	}

	h1, err := artifacts.AnalysisHash(cfg{Events: []string{"10k", "half"}, DxKm: 0.1})
	require.NoError(t, err)

	h2, err := artifacts.AnalysisHash(cfg{Events: []string{"10k", "half"}, DxKm: 0.1})
	require.NoError(t, err)

	h3, err := artifacts.AnalysisHash(cfg{Events: []string{"10k", "half"}, DxKm: 0.2})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestWriteRunMetadata(t *testing.T) {
	t.Parallel()

	e := newEmitter(t)
	require.NoError(t, os.MkdirAll(e.RunDir(), 0o755))

	err := e.WriteRunMetadata(
		time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC),
		json.RawMessage(`{"bin_dx_km":0.1}`),
		[]artifacts.RunDayStatus{
			{Day: "sat", Status: "pass"},
			{Day: "sun", Status: "fail", Error: "BudgetError: grid too fine"},
		},
	)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(e.RunDir(), "metadata.json"))
	require.NoError(t, err)

	var meta artifacts.RunMetadata
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, "run-0001", meta.RunID)
	assert.Len(t, meta.Days, 2)
	assert.Equal(t, "fail", meta.Days[1].Status)
}
