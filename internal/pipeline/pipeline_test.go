package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raceops/courseflow/internal/artifacts"
	"github.com/raceops/courseflow/internal/fault"
	"github.com/raceops/courseflow/internal/pipeline"
	"github.com/raceops/courseflow/internal/request"
	"github.com/raceops/courseflow/internal/runindex"
)

const segmentsCSV = `seg_id,seg_label,width_m,segment_type,direction,geometry,10k_from_km,10k_to_km,half_from_km,half_to_km,5k_from_km,5k_to_km
A1,Start straight,8.0,road,unidirectional,,0.0,1.5,0.0,1.0,,
A2,Park loop,6.0,path,unidirectional,,,,,,0.0,1.0
`

const flowCSV = `seg_id,event_a,event_b,from_km_a,to_km_a,from_km_b,to_km_b,flow_type,notes
A1,10k,half,0.0,0.2,0.0,0.2,overtake,start merge
`

const tenkRunnersCSV = `runner_id,event,pace,distance,start_offset,day
T001,10k,6.0,10.0,0,sun
T002,10k,6.5,10.0,30,sun
T003,10k,7.0,10.0,60,sun
`

const halfRunnersCSV = `runner_id,event,pace,distance,start_offset,day
H001,half,4.0,21.1,0,sun
H002,half,4.5,21.1,15,sun
`

const fivekRunnersCSV = `runner_id,event,pace,distance,start_offset,day
F001,5k,5.0,5.0,0,sat
F002,5k,5.5,5.0,20,sat
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

// newRequest lays the course and runner fixtures down in dir and returns a
// parsed-equivalent request covering the sun events.
func newRequest(t *testing.T, dir string, events ...request.Event) *request.Request {
	t.Helper()

	return &request.Request{
		Events:           events,
		SegmentsFile:     writeFile(t, dir, "segments.csv", segmentsCSV),
		FlowFile:         writeFile(t, dir, "flow.csv", flowCSV),
		BinDxKm:          request.DefaultBinDxKm,
		BinDtS:           request.DefaultBinDtS,
		MaxBins:          request.DefaultMaxBins,
		MinOverlapDwellS: request.DefaultMinOverlapDwellS,
		StrictGainS:      request.DefaultStrictGainS,
	}
}

func sunEvents(t *testing.T, dir string) []request.Event {
	t.Helper()

	return []request.Event{
		{
			Name: "10k", Day: "sun", StartTimeMin: 420, DurationMin: 240,
			RunnersFile: writeFile(t, dir, "10k_runners.csv", tenkRunnersCSV),
			GPXFile:     "10k.gpx",
		},
		{
			Name: "half", Day: "sun", StartTimeMin: 425, DurationMin: 300,
			RunnersFile: writeFile(t, dir, "half_runners.csv", halfRunnersCSV),
			GPXFile:     "half.gpx",
		},
	}
}

func fivekEvent(t *testing.T, dir string) request.Event {
	t.Helper()

	return request.Event{
		Name: "5k", Day: "sat", StartTimeMin: 540, DurationMin: 120,
		RunnersFile: writeFile(t, dir, "5k_runners.csv", fivekRunnersCSV),
		GPXFile:     "5k.gpx",
	}
}

func TestRun_SingleDayPass(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	req := newRequest(t, dir, sunEvents(t, dir)...)

	store, err := runindex.Open(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	p := pipeline.New(pipeline.Options{
		OutDir:      outDir,
		Environment: "test",
		AppVersion:  "0.0.0-test",
		Store:       store,
	})

	res, err := p.Run(context.Background(), pipeline.RunContext{RunID: "run-pass", Request: req})
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusPass, res.Status)
	require.Len(t, res.Days, 1)

	day := res.Days[0]
	assert.Equal(t, "sun", day.Day)
	assert.Equal(t, pipeline.StatusPass, day.Status)
	assert.NoError(t, day.Err)
	assert.Positive(t, day.NBins)
	assert.Positive(t, day.NWindows)
	assert.LessOrEqual(t, day.MaxRelErr, 0.02)

	dayDir := filepath.Join(outDir, "run-pass", "sun")
	for _, rel := range []string{
		filepath.Join("bins", "bins.parquet"),
		filepath.Join("bins", "bins.geojson.gz"),
		filepath.Join("bins", "segment_windows_from_bins.parquet"),
		filepath.Join("reports", "Flow.csv"),
		filepath.Join("reports", "report_sun.md"),
		filepath.Join("reports", "density_sun.html"),
		filepath.Join("audit", "audit_sun.parquet"),
		"metadata.json",
	} {
		assert.FileExists(t, filepath.Join(dayDir, rel))
	}

	assert.FileExists(t, filepath.Join(outDir, "run-pass", "metadata.json"))

	stored, err := store.GetRun(context.Background(), "run-pass")
	require.NoError(t, err)
	assert.Equal(t, runindex.StatusPass, stored.Status)
	require.Len(t, stored.Days, 1)
	assert.Equal(t, day.NBins, stored.Days[0].NBins)
	assert.Equal(t, day.NEncounters, stored.Days[0].NEncounters)
}

func TestRun_FailedDayIsPurgedOthersContinue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")

	// The 5k has a course span but no flow pair, so its day fails in the
	// flow engine while sun proceeds.
	events := append(sunEvents(t, dir), fivekEvent(t, dir))
	req := newRequest(t, dir, events...)

	p := pipeline.New(pipeline.Options{OutDir: outDir, AppVersion: "0.0.0-test"})

	res, err := p.Run(context.Background(), pipeline.RunContext{RunID: "run-mixed", Request: req})
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusPartial, res.Status)
	require.Len(t, res.Days, 2)

	byDay := map[string]pipeline.DayResult{}
	for _, d := range res.Days {
		byDay[d.Day] = d
	}

	assert.Equal(t, pipeline.StatusFail, byDay["sat"].Status)
	require.Error(t, byDay["sat"].Err)
	assert.True(t, fault.IsKind(byDay["sat"].Err, fault.KindConfig))

	assert.Equal(t, pipeline.StatusPass, byDay["sun"].Status)

	assert.NoDirExists(t, filepath.Join(outDir, "run-mixed", "sat"))
	assert.FileExists(t, filepath.Join(outDir, "run-mixed", "sun", "bins", "bins.parquet"))
}

func TestRun_DeterministicAcrossWorkerCounts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")

	req := newRequest(t, dir, sunEvents(t, dir)...)

	var rows [][]artifacts.BinRow

	for _, workers := range []int{1, 2, 8} {
		p := pipeline.New(pipeline.Options{
			OutDir:         outDir,
			AppVersion:     "0.0.0-test",
			DayWorkers:     workers,
			SegmentWorkers: workers,
		})

		runID := "run-workers-" + string(rune('0'+workers))

		res, err := p.Run(context.Background(), pipeline.RunContext{RunID: runID, Request: req})
		require.NoError(t, err)
		require.Equal(t, pipeline.StatusPass, res.Status)

		got, err := parquet.ReadFile[artifacts.BinRow](
			filepath.Join(outDir, runID, "sun", "bins", "bins.parquet"))
		require.NoError(t, err)
		require.NotEmpty(t, got)

		rows = append(rows, got)
	}

	assert.Empty(t, cmp.Diff(rows[0], rows[1]))
	assert.Empty(t, cmp.Diff(rows[0], rows[2]))
}

func TestRun_DayArtifactsUnaffectedByOtherDays(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")

	// A fixed clock keeps the day anchor and artifact timestamps equal
	// across the two runs.
	clock := func() time.Time { return time.Date(2026, time.May, 3, 6, 0, 0, 0, time.UTC) }

	sunOnly := newRequest(t, dir, sunEvents(t, dir)...)
	withSat := newRequest(t, dir, append(sunEvents(t, dir), fivekEvent(t, dir))...)

	p := pipeline.New(pipeline.Options{OutDir: outDir, Environment: "test", AppVersion: "0.0.0-test"})

	res, err := p.Run(context.Background(), pipeline.RunContext{RunID: "iso-sun", Request: sunOnly, Now: clock})
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusPass, res.Status)

	res, err = p.Run(context.Background(), pipeline.RunContext{RunID: "iso-mixed", Request: withSat, Now: clock})
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusPartial, res.Status, "the unpaired 5k must fail its day")

	// The analysis hash covers the whole request and differs by
	// construction; everything else in sun's bin table must not.
	readBins := func(runID string) []artifacts.BinRow {
		rows, readErr := parquet.ReadFile[artifacts.BinRow](
			filepath.Join(outDir, runID, "sun", "bins", "bins.parquet"))
		require.NoError(t, readErr)
		require.NotEmpty(t, rows)

		for i := range rows {
			rows[i].AnalysisHash = ""
		}

		return rows
	}

	assert.Empty(t, cmp.Diff(readBins("iso-sun"), readBins("iso-mixed")))

	flowSun, err := os.ReadFile(filepath.Join(outDir, "iso-sun", "sun", "reports", "Flow.csv"))
	require.NoError(t, err)

	flowMixed, err := os.ReadFile(filepath.Join(outDir, "iso-mixed", "sun", "reports", "Flow.csv"))
	require.NoError(t, err)

	assert.Equal(t, string(flowSun), string(flowMixed))
}

func TestRun_HardTimeoutFailsDay(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	req := newRequest(t, dir, sunEvents(t, dir)...)

	p := pipeline.New(pipeline.Options{
		OutDir:     filepath.Join(dir, "out"),
		AppVersion: "0.0.0-test",
		DayTimeout: time.Nanosecond,
	})

	res, err := p.Run(context.Background(), pipeline.RunContext{RunID: "run-timeout", Request: req})
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusFail, res.Status)
	require.Len(t, res.Days, 1)
	require.Error(t, res.Days[0].Err)
	assert.True(t, fault.IsKind(res.Days[0].Err, fault.KindTimeout))

	assert.NoDirExists(t, filepath.Join(dir, "out", "run-timeout", "sun"))
}

func TestRun_UnknownEventFailsBeforeAnyDay(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	events := sunEvents(t, dir)
	events[0].Name = "ultra"
	events[0].RunnersFile = writeFile(t, dir, "ultra_runners.csv",
		"runner_id,event,pace,distance,start_offset,day\nU001,ultra,6.0,50.0,0,sun\n")

	req := newRequest(t, dir, events...)

	p := pipeline.New(pipeline.Options{OutDir: filepath.Join(dir, "out")})

	_, err := p.Run(context.Background(), pipeline.RunContext{RunID: "run-bad", Request: req})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindConfig))
	assert.Contains(t, err.Error(), "ultra")
}
