package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raceops/courseflow/internal/pipeline"
	"github.com/raceops/courseflow/internal/runindex"
	"github.com/raceops/courseflow/internal/server"
)

const segmentsCSV = `seg_id,seg_label,width_m,segment_type,direction,geometry,10k_from_km,10k_to_km,half_from_km,half_to_km
A1,Start straight,8.0,road,unidirectional,,0.0,1.5,0.0,1.0
`

const flowCSV = `seg_id,event_a,event_b,from_km_a,to_km_a,from_km_b,to_km_b,flow_type,notes
A1,10k,half,0.0,0.2,0.0,0.2,overtake,
`

const tenkRunnersCSV = `runner_id,event,pace,distance,start_offset,day
T001,10k,6.0,10.0,0,sun
T002,10k,6.5,10.0,30,sun
`

const halfRunnersCSV = `runner_id,event,pace,distance,start_offset,day
H001,half,4.0,21.1,0,sun
H002,half,4.5,21.1,15,sun
`

type fixture struct {
	srv   *server.Server
	store *runindex.Store
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()

	store, err := runindex.Open(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pipe := pipeline.New(pipeline.Options{
		OutDir:     filepath.Join(dir, "out"),
		AppVersion: "0.0.0-test",
		Store:      store,
	})

	srv, err := server.New(server.Options{Pipeline: pipe, Store: store})
	require.NoError(t, err)

	return &fixture{srv: srv, store: store, dir: dir}
}

func (f *fixture) writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

// requestBody builds a schema-valid analysis request over the fixture files.
func (f *fixture) requestBody(t *testing.T) []byte {
	t.Helper()

	doc := map[string]any{
		"events": []map[string]any{
			{
				"name": "10k", "day": "sun", "start_time_min": 420, "duration_min": 240,
				"runners_file": f.writeFile(t, "10k_runners.csv", tenkRunnersCSV),
				"gpx_file":     "10k.gpx",
			},
			{
				"name": "half", "day": "sun", "start_time_min": 425, "duration_min": 300,
				"runners_file": f.writeFile(t, "half_runners.csv", halfRunnersCSV),
				"gpx_file":     "half.gpx",
			},
		},
		"segments_file": f.writeFile(t, "segments.csv", segmentsCSV),
		"flow_file":     f.writeFile(t, "flow.csv", flowCSV),
	}

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	return raw
}

func (f *fixture) do(method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()

	f.srv.Handler().ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var doc T

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))

	return doc
}

type errorBody struct {
	Errors []struct {
		Kind    string `json:"kind"`
		Day     string `json:"day"`
		SegID   string `json:"seg_id"`
		Message string `json:"message"`
	} `json:"errors"`
}

type runBody struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	AppVersion string `json:"app_version"`
	Days       []struct {
		Day    string `json:"day"`
		Status string `json:"status"`
		NBins  int    `json:"n_bins"`
		Error  string `json:"error"`
	} `json:"days"`
	Errors []struct {
		Kind    string `json:"kind"`
		Day     string `json:"day"`
		Message string `json:"message"`
	} `json:"errors"`
}

func TestCreateRun_AcceptsAndCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/runs", f.requestBody(t))
	require.Equal(t, http.StatusAccepted, rec.Code)

	created := decode[struct {
		RunID string `json:"run_id"`
	}](t, rec)
	require.NotEmpty(t, created.RunID)

	f.srv.Wait()

	rec = f.do(http.MethodGet, "/api/v1/runs/"+created.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	run := decode[runBody](t, rec)
	assert.Equal(t, created.RunID, run.RunID)
	assert.Equal(t, "pass", run.Status)
	require.Len(t, run.Days, 1)
	assert.Equal(t, "sun", run.Days[0].Day)
	assert.Equal(t, "pass", run.Days[0].Status)
	assert.Positive(t, run.Days[0].NBins)
	assert.Empty(t, run.Errors)

	rec = f.do(http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[[]runBody](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, created.RunID, list[0].RunID)
}

func TestCreateRun_SchemaViolationIs422(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/runs", []byte(`{"events": []}`))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decode[errorBody](t, rec)
	require.NotEmpty(t, body.Errors)
	assert.Equal(t, "ConfigError", body.Errors[0].Kind)
}

func TestCreateRun_LoadFailureLandsInIndex(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	raw := f.requestBody(t)

	var doc map[string]any

	require.NoError(t, json.Unmarshal(raw, &doc))
	doc["segments_file"] = filepath.Join(f.dir, "missing.csv")
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/api/v1/runs", raw)
	require.Equal(t, http.StatusAccepted, rec.Code)

	created := decode[struct {
		RunID string `json:"run_id"`
	}](t, rec)

	f.srv.Wait()

	rec = f.do(http.MethodGet, "/api/v1/runs/"+created.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	run := decode[runBody](t, rec)
	assert.Equal(t, "fail", run.Status)
	require.NotEmpty(t, run.Errors)
	assert.Contains(t, run.Errors[0].Message, "segments")
}

func TestGetRun_UnknownIDIs404(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/runs/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := decode[errorBody](t, rec)
	require.NotEmpty(t, body.Errors)
	assert.Equal(t, "NotFound", body.Errors[0].Kind)
}
