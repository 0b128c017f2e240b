// Package server is the HTTP boundary: it accepts analysis requests, launches
// runs asynchronously, and serves run status from the index. All analysis
// semantics live in the pipeline; the boundary only translates.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/raceops/courseflow/internal/fault"
	"github.com/raceops/courseflow/internal/pipeline"
	"github.com/raceops/courseflow/internal/request"
	"github.com/raceops/courseflow/internal/runindex"
	pkgobs "github.com/raceops/courseflow/pkg/observability"
)

// maxRequestBody bounds the analysis request body.
const maxRequestBody = 1 << 20

// Options configures the HTTP boundary.
type Options struct {
	Pipeline *pipeline.Pipeline
	Store    *runindex.Store

	// Logger receives request and run lifecycle logs; nil uses slog.Default.
	Logger *slog.Logger
	// Tracer wraps the handler in the HTTP middleware when set.
	Tracer trace.Tracer
	// RED records request rate, errors, and duration when set.
	RED *pkgobs.REDMetrics

	// Now supplies run timestamps; nil uses time.Now.
	Now func() time.Time
}

// Server dispatches analysis runs and serves their status.
type Server struct {
	opts Options

	// inflight tracks detached run goroutines so Shutdown can drain them.
	inflight sync.WaitGroup
}

// New returns a Server. The pipeline and the store are both required.
func New(opts Options) (*Server, error) {
	if opts.Pipeline == nil || opts.Store == nil {
		return nil, errors.New("server requires a pipeline and a run index store")
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Server{opts: opts}, nil
}

// Handler returns the routed (and, when a tracer is set, instrumented)
// HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/runs", s.instrument("create_run", s.handleCreateRun))
	mux.HandleFunc("GET /api/v1/runs/{id}", s.instrument("get_run", s.handleGetRun))
	mux.HandleFunc("GET /api/v1/runs", s.instrument("list_runs", s.handleListRuns))

	if s.opts.Tracer != nil {
		return pkgobs.HTTPMiddleware(s.opts.Tracer, apiRoute, mux)
	}

	return mux
}

// apiRoute collapses run ids so span names stay low-cardinality.
func apiRoute(hr *http.Request) string {
	const runsPrefix = "/api/v1/runs/"

	if strings.HasPrefix(hr.URL.Path, runsPrefix) && hr.URL.Path != runsPrefix {
		return runsPrefix + "{id}"
	}

	return hr.URL.Path
}

// Wait blocks until every launched run has settled.
func (s *Server) Wait() {
	s.inflight.Wait()
}

// Shutdown drains in-flight runs, honoring the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown with runs still in flight: %w", ctx.Err())
	}
}

type createRunResponse struct {
	RunID string `json:"run_id"`
}

type errorItem struct {
	Kind    string `json:"kind"`
	Day     string `json:"day,omitempty"`
	SegID   string `json:"seg_id,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Errors []errorItem `json:"errors"`
}

type dayStatusResponse struct {
	Day         string  `json:"day"`
	Status      string  `json:"status"`
	NBins       int     `json:"n_bins"`
	NWindows    int     `json:"n_windows"`
	NEncounters int     `json:"n_encounters"`
	MaxRelErr   float64 `json:"max_rel_err"`
	Error       string  `json:"error,omitempty"`
}

type runResponse struct {
	RunID      string              `json:"run_id"`
	Status     string              `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	AppVersion string              `json:"app_version"`
	OutputDir  string              `json:"output_dir"`
	Days       []dayStatusResponse `json:"days,omitempty"`
	Errors     []errorItem         `json:"errors,omitempty"`
}

// handleCreateRun validates the request synchronously, then runs the
// pipeline detached: the HTTP client gets the run id immediately and polls
// for the outcome.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.writeError(w, fault.Wrap(fault.KindConfig, err, "read request body"))

		return
	}

	req, err := request.Parse(raw)
	if err != nil {
		s.writeError(w, err)

		return
	}

	runID := uuid.NewString()

	s.inflight.Add(1)

	go func() {
		defer s.inflight.Done()

		s.runDetached(runID, req)
	}()

	s.writeJSON(w, http.StatusAccepted, createRunResponse{RunID: runID})
}

// runDetached executes one run outside the request lifecycle. A run that
// dies before reaching the index still leaves a failed entry behind so the
// client's poll never dangles.
func (s *Server) runDetached(runID string, req *request.Request) {
	log := s.opts.Logger.With("run_id", runID)
	started := s.now()

	res, err := s.opts.Pipeline.Run(context.Background(), pipeline.RunContext{
		RunID:   runID,
		Request: req,
		Logger:  s.opts.Logger,
		Now:     s.opts.Now,
	})
	if err == nil {
		log.Info("run settled", "status", res.Status)

		return
	}

	log.Error("run failed", "error", err)

	ctx := context.Background()

	finErr := s.opts.Store.FinishRun(ctx, runID, runindex.StatusFail, s.now())
	if errors.Is(finErr, runindex.ErrNotFound) {
		raw, _ := json.Marshal(req)

		finErr = s.opts.Store.CreateRun(ctx, runindex.Run{
			ID:         runID,
			CreatedAt:  started,
			Status:     runindex.StatusFail,
			ConfigJSON: string(raw),
		})
		if finErr == nil {
			finErr = s.opts.Store.FinishRun(ctx, runID, runindex.StatusFail, s.now())
		}
	}

	if finErr != nil {
		log.Error("record run failure", "error", finErr)

		return
	}

	recErr := s.opts.Store.RecordDay(ctx, runID, runindex.DayRecord{
		Day:    dayOfError(err),
		Status: runindex.StatusFail,
		Error:  err.Error(),
	})
	if recErr != nil {
		log.Error("record run failure day", "error", recErr)
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.opts.Store.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, runindex.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Errors: []errorItem{
			{Kind: "NotFound", Message: "unknown run id"},
		}})

		return
	}

	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, toRunResponse(run, true))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.opts.Store.ListRuns(r.Context())
	if err != nil {
		s.writeError(w, err)

		return
	}

	out := make([]runResponse, len(runs))
	for i := range runs {
		out[i] = toRunResponse(&runs[i], false)
	}

	s.writeJSON(w, http.StatusOK, out)
}

func toRunResponse(run *runindex.Run, withDays bool) runResponse {
	resp := runResponse{
		RunID:      run.ID,
		Status:     run.Status,
		CreatedAt:  run.CreatedAt,
		FinishedAt: run.FinishedAt,
		AppVersion: run.AppVersion,
		OutputDir:  run.OutputDir,
	}

	if !withDays {
		return resp
	}

	for _, d := range run.Days {
		resp.Days = append(resp.Days, dayStatusResponse{
			Day:         d.Day,
			Status:      d.Status,
			NBins:       d.NBins,
			NWindows:    d.NWindows,
			NEncounters: d.NEncounters,
			MaxRelErr:   d.MaxRelErr,
			Error:       d.Error,
		})

		if d.Error != "" {
			resp.Errors = append(resp.Errors, errorItem{
				Kind:    "DayError",
				Day:     d.Day,
				Message: d.Error,
			})
		}
	}

	return resp
}

// writeError maps a classified failure onto its HTTP status and the JSON
// error array.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	item := errorItem{
		Kind:    fault.KindOf(err).String(),
		Message: err.Error(),
	}

	var fe *fault.Error
	if errors.As(err, &fe) {
		item.Day = fe.Day
		item.SegID = fe.SegID
	}

	s.writeJSON(w, fault.KindOf(err).HTTPStatus(), errorResponse{Errors: []errorItem{item}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, doc any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.opts.Logger.Warn("write response", "error", err)
	}
}

// instrument wraps a handler with RED accounting under the given operation
// name. Without metrics it returns the handler untouched.
func (s *Server) instrument(op string, next http.HandlerFunc) http.HandlerFunc {
	if s.opts.RED == nil {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		done := s.opts.RED.TrackInflight(r.Context(), op)
		defer done()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next(rec, r)

		status := "ok"
		if rec.status >= http.StatusInternalServerError {
			status = "error"
		}

		s.opts.RED.RecordRequest(r.Context(), op, status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) now() time.Time {
	if s.opts.Now != nil {
		return s.opts.Now()
	}

	return time.Now()
}

// dayOfError extracts the day scope from a classified failure, if any.
func dayOfError(err error) string {
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Day != "" {
		return fe.Day
	}

	return "run"
}
