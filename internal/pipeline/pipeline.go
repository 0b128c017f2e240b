// Package pipeline orchestrates a full analysis run: load and validate the
// inputs, partition the events by day, drive each day's engines, emit the
// artifact set, and index the outcome. Days run concurrently and share no
// mutable state; a failed day is purged and the rest continue.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/raceops/courseflow/internal/artifacts"
	"github.com/raceops/courseflow/internal/binning"
	"github.com/raceops/courseflow/internal/canonical"
	"github.com/raceops/courseflow/internal/course"
	"github.com/raceops/courseflow/internal/dayplan"
	"github.com/raceops/courseflow/internal/fault"
	"github.com/raceops/courseflow/internal/flow"
	"github.com/raceops/courseflow/internal/observability"
	"github.com/raceops/courseflow/internal/participants"
	"github.com/raceops/courseflow/internal/report"
	"github.com/raceops/courseflow/internal/request"
	"github.com/raceops/courseflow/internal/rulebook"
	"github.com/raceops/courseflow/internal/runindex"
	pkgobs "github.com/raceops/courseflow/pkg/observability"
)

// Day and run statuses reported by the orchestrator.
const (
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusPartial = "partial"
)

// RunContext carries the per-run identity and parameters through every
// engine call. Nothing in the run reads ambient globals: the rulebook, the
// clock, and the logger all travel here.
type RunContext struct {
	RunID   string
	Request *request.Request

	// Rulebook overrides the request's los_rulebook resolution when set.
	Rulebook *rulebook.Rulebook

	// Logger receives run progress; nil uses slog.Default.
	Logger *slog.Logger

	// Now supplies run and artifact timestamps; nil uses time.Now.
	Now func() time.Time
}

func (rc RunContext) logger() *slog.Logger {
	if rc.Logger != nil {
		return rc.Logger
	}

	return slog.Default()
}

func (rc RunContext) now() time.Time {
	if rc.Now != nil {
		return rc.Now()
	}

	return time.Now()
}

// Options configures the orchestrator's resources and collaborators.
type Options struct {
	// OutDir is the root artifact directory; runs write under OutDir/RunID.
	OutDir      string
	Environment string
	AppVersion  string

	// DayWorkers bounds concurrent day pipelines. Zero runs all days at once.
	DayWorkers int
	// SegmentWorkers bounds the per-day segment fan-out inside binning.
	SegmentWorkers int
	// DayTimeout is the per-day hard wall-clock ceiling. Zero disables it.
	DayTimeout time.Duration
	// SoftTimeout is the binning soft ceiling that coarsens instead of
	// failing. Zero disables it.
	SoftTimeout time.Duration

	// Store indexes runs and day outcomes when set.
	Store *runindex.Store
	// Metrics records pipeline throughput when set.
	Metrics *observability.PipelineMetrics
	// Tracer creates run and day spans; nil traces nothing.
	Tracer trace.Tracer
}

// Pipeline runs analysis requests end to end.
type Pipeline struct {
	opts Options
}

// New returns a Pipeline with the given options.
func New(opts Options) *Pipeline {
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("courseflow.pipeline")
	}

	return &Pipeline{opts: opts}
}

// DayResult is one day's outcome.
type DayResult struct {
	Day    string
	Status string

	NBins       int
	NWindows    int
	NEncounters int
	MaxRelErr   float64

	// SkippedRunners counts runners dropped for non-positive pace.
	SkippedRunners int

	Err error
}

// RunResult is the settled outcome of a run.
type RunResult struct {
	RunID  string
	Status string
	Days   []DayResult
}

// Run executes the full pipeline for one analysis request. An error return
// means the run never reached per-day work (load, validation, or partition
// failure); day failures are reported per day in the RunResult with the run
// status downgraded to partial or fail.
func (p *Pipeline) Run(ctx context.Context, rc RunContext) (*RunResult, error) {
	ctx = pkgobs.ContextWithRunID(ctx, rc.RunID)

	ctx, span := p.opts.Tracer.Start(ctx, "courseflow.pipeline.run",
		trace.WithAttributes(attribute.String("run.id", rc.RunID)))
	defer span.End()

	req := rc.Request
	log := rc.logger().With("run_id", rc.RunID)
	createdAt := rc.now()

	rb, err := p.resolveRulebook(rc)
	if err != nil {
		return nil, err
	}

	crs, err := course.Load(req.SegmentsFile, req.FlowFile)
	if err != nil {
		return nil, err
	}

	ps, err := loadParticipants(req)
	if err != nil {
		return nil, err
	}

	events := planEvents(req)

	plans, err := dayplan.Partition(events, crs, ps)
	if err != nil {
		return nil, err
	}

	if err := validateEventSpans(req, crs); err != nil {
		return nil, err
	}

	hash, err := artifacts.AnalysisHash(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "hash run config")
	}

	configJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "serialize run config")
	}

	emitter := &artifacts.Emitter{
		OutDir:       p.opts.OutDir,
		RunID:        rc.RunID,
		AppVersion:   p.opts.AppVersion,
		Environment:  p.opts.Environment,
		AnalysisHash: hash,
		Now:          rc.Now,
	}

	if p.opts.Store != nil {
		err = p.opts.Store.CreateRun(ctx, runindex.Run{
			ID:         rc.RunID,
			CreatedAt:  createdAt,
			Status:     runindex.StatusRunning,
			OutputDir:  emitter.RunDir(),
			ConfigJSON: string(configJSON),
			AppVersion: p.opts.AppVersion,
		})
		if err != nil {
			return nil, err
		}
	}

	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordRunStarted(ctx)
	}

	log.Info("run started", "days", len(plans), "events", len(events), "segments", crs.SegmentCount())

	// All window offsets hang off the run date at midnight UTC.
	baseDate := createdAt.UTC().Truncate(24 * time.Hour)

	results := p.runDays(ctx, rc, plans, crs, ps, rb, emitter, baseDate)

	res := &RunResult{RunID: rc.RunID, Status: runStatus(results), Days: results}

	if err := p.settle(ctx, rc, emitter, createdAt, configJSON, res); err != nil {
		return res, err
	}

	log.Info("run finished", "status", res.Status)

	return res, nil
}

// runDays fans the day plans out over a bounded worker pool. Results land in
// plan order regardless of completion order.
func (p *Pipeline) runDays(
	ctx context.Context,
	rc RunContext,
	plans []dayplan.DayPlan,
	crs *course.Course,
	ps *participants.ParticipantSet,
	rb *rulebook.Rulebook,
	emitter *artifacts.Emitter,
	baseDate time.Time,
) []DayResult {
	workers := p.opts.DayWorkers
	if workers < 1 {
		workers = len(plans)
	}

	results := make([]DayResult, len(plans))
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup

	for i := range plans {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			results[i] = p.runDay(ctx, rc, &plans[i], crs, ps, rb, emitter, baseDate)
		}(i)
	}

	wg.Wait()

	return results
}

// runDay executes one day's engines under the hard timeout: binning and flow
// concurrently, then canonical aggregation, reconciliation, emission, and
// the report.
func (p *Pipeline) runDay(
	ctx context.Context,
	rc RunContext,
	plan *dayplan.DayPlan,
	crs *course.Course,
	ps *participants.ParticipantSet,
	rb *rulebook.Rulebook,
	emitter *artifacts.Emitter,
	baseDate time.Time,
) DayResult {
	ctx, span := p.opts.Tracer.Start(ctx, "courseflow.pipeline.day",
		trace.WithAttributes(attribute.String("day.name", plan.Day)))
	defer span.End()

	if p.opts.DayTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.opts.DayTimeout)
		defer cancel()
	}

	log := rc.logger().With("run_id", rc.RunID, "day", plan.Day)
	req := rc.Request

	var (
		binRes    *binning.Result
		binErr    error
		summaries []flow.Summary
		audits    []flow.Audit
		flowErr   error
	)

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()

		start := time.Now()
		binRes, binErr = binning.BinDay(ctx, plan, crs, ps, rb, binning.Params{
			DxKm:        req.BinDxKm,
			DtS:         req.BinDtS,
			MaxBins:     req.MaxBins,
			SoftTimeout: p.opts.SoftTimeout,
			Workers:     p.opts.SegmentWorkers,
		})
		p.recordStage(ctx, observability.StageBinning, start)
	}()

	go func() {
		defer wg.Done()

		start := time.Now()
		summaries, audits, flowErr = flow.FlowDay(ctx, plan, crs, ps, flow.Params{
			MinOverlapDwellS: req.MinOverlapDwellS,
			StrictGainS:      req.StrictGainS,
		})
		p.recordStage(ctx, observability.StageFlow, start)
	}()

	wg.Wait()

	if err := firstError(binErr, flowErr); err != nil {
		return p.failDay(log, emitter, plan.Day, dayFault(err, plan.Day))
	}

	start := time.Now()
	windows := canonical.Aggregate(binRes.Bins)
	maxRelErr, recErr := canonical.Reconcile(windows, binRes.Bins)
	p.recordStage(ctx, observability.StageCanonical, start)

	day := artifacts.Day{
		Day:             plan.Day,
		Date:            baseDate,
		Events:          plan.EventNames(),
		Bins:            binRes.Bins,
		Meta:            binRes.Meta,
		Windows:         windows,
		Summaries:       summaries,
		Audits:          audits,
		MaxRelErr:       maxRelErr,
		ReconcileFailed: recErr != nil,
	}

	start = time.Now()
	err := emitter.EmitDay(crs, day)
	p.recordStage(ctx, observability.StageEmit, start)

	if err != nil {
		return p.failDay(log, emitter, plan.Day, dayFault(err, plan.Day))
	}

	if recErr != nil {
		// The bins stay on disk for diagnosis; only the canonical window
		// table and the report are withheld.
		log.Error("reconciliation failed", "max_rel_err", maxRelErr, "error", recErr)

		return DayResult{
			Day:            plan.Day,
			Status:         StatusFail,
			NBins:          len(binRes.Bins),
			NEncounters:    encounterCount(summaries),
			MaxRelErr:      maxRelErr,
			SkippedRunners: binRes.Meta.SkippedRunners,
			Err:            dayFault(recErr, plan.Day),
		}
	}

	reportsDir, err := emitter.ReportsDir(plan.Day)
	if err == nil {
		err = report.WriteDay(reportsDir, report.Input{
			RunID:           rc.RunID,
			Day:             plan.Day,
			AppVersion:      p.opts.AppVersion,
			Windows:         windows,
			Summaries:       summaries,
			Course:          crs,
			Rulebook:        rb,
			SkippedRunners:  binRes.Meta.SkippedRunners,
			SkippedSegments: len(binRes.Meta.SkippedSegments),
			Now:             rc.Now,
		})
	}

	if err != nil {
		return p.failDay(log, emitter, plan.Day, dayFault(err, plan.Day))
	}

	log.Info("day finished",
		"bins", len(binRes.Bins),
		"windows", len(windows),
		"encounters", encounterCount(summaries),
		"max_rel_err", maxRelErr)

	return DayResult{
		Day:            plan.Day,
		Status:         StatusPass,
		NBins:          len(binRes.Bins),
		NWindows:       len(windows),
		NEncounters:    encounterCount(summaries),
		MaxRelErr:      maxRelErr,
		SkippedRunners: binRes.Meta.SkippedRunners,
	}
}

// failDay purges the day's partial artifacts and reports the failure. The
// purge is best-effort: a failed removal is logged, never escalated.
func (p *Pipeline) failDay(log *slog.Logger, emitter *artifacts.Emitter, day string, err error) DayResult {
	log.Error("day failed", "error", err)

	if rmErr := emitter.RemoveDay(day); rmErr != nil {
		log.Warn("purge of failed day left partial artifacts", "error", rmErr)
	}

	return DayResult{Day: day, Status: StatusFail, Err: err}
}

// settle records every day outcome, writes the run manifest, and finishes
// the index entry. Index and manifest writes use the background context so a
// cancelled run still leaves a consistent record behind.
func (p *Pipeline) settle(
	ctx context.Context,
	rc RunContext,
	emitter *artifacts.Emitter,
	createdAt time.Time,
	configJSON json.RawMessage,
	res *RunResult,
) error {
	dayStatuses := make([]artifacts.RunDayStatus, len(res.Days))

	for i, d := range res.Days {
		dayStatuses[i] = artifacts.RunDayStatus{Day: d.Day, Status: d.Status}
		if d.Err != nil {
			dayStatuses[i].Error = d.Err.Error()
		}

		if p.opts.Metrics != nil {
			p.opts.Metrics.RecordDay(ctx, d.Day, d.Status, d.NBins, d.NEncounters, d.SkippedRunners)
		}

		if p.opts.Store != nil {
			rec := runindex.DayRecord{
				Day:         d.Day,
				Status:      d.Status,
				NBins:       d.NBins,
				NWindows:    d.NWindows,
				NEncounters: d.NEncounters,
				MaxRelErr:   d.MaxRelErr,
			}
			if d.Err != nil {
				rec.Error = d.Err.Error()
			}

			if err := p.opts.Store.RecordDay(context.Background(), rc.RunID, rec); err != nil {
				return err
			}
		}
	}

	if err := emitter.WriteRunMetadata(createdAt, configJSON, dayStatuses); err != nil {
		return err
	}

	if p.opts.Store != nil {
		if err := p.opts.Store.FinishRun(context.Background(), rc.RunID, res.Status, rc.now()); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipeline) resolveRulebook(rc RunContext) (*rulebook.Rulebook, error) {
	if rc.Rulebook != nil {
		return rc.Rulebook, nil
	}

	if rc.Request.LOSRulebook != "" {
		return rulebook.Load(rc.Request.LOSRulebook)
	}

	return rulebook.Default(), nil
}

func (p *Pipeline) recordStage(ctx context.Context, stage string, start time.Time) {
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordStage(ctx, stage, time.Since(start))
	}
}

// loadParticipants reads every event's runner file into one set.
func loadParticipants(req *request.Request) (*participants.ParticipantSet, error) {
	lists := make([][]participants.Participant, 0, len(req.Events))

	for _, ev := range req.Events {
		runners, err := participants.Load(ev.RunnersFile, ev.Name)
		if err != nil {
			return nil, err
		}

		lists = append(lists, runners)
	}

	return participants.NewSet(lists...)
}

// validateEventSpans rejects requested events the course never mentions.
func validateEventSpans(req *request.Request, crs *course.Course) error {
	for _, ev := range req.Events {
		if len(crs.SegmentsUsedBy([]string{ev.Name})) == 0 {
			return fault.Config("event %q has no segment span in the course", ev.Name)
		}
	}

	return nil
}

func planEvents(req *request.Request) []dayplan.Event {
	events := make([]dayplan.Event, len(req.Events))
	for i, ev := range req.Events {
		events[i] = dayplan.Event{
			Name:         ev.Name,
			Day:          ev.Day,
			StartTimeMin: ev.StartTimeMin,
			DurationMin:  ev.DurationMin,
		}
	}

	return events
}

// dayFault stamps the day onto fault errors and classifies bare context
// deadline errors as timeouts.
func dayFault(err error, day string) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		if fe.Day == "" {
			return fe.WithDay(day)
		}

		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindTimeout, err, "day wall-clock ceiling exceeded").WithDay(day)
	}

	return err
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}

func encounterCount(summaries []flow.Summary) int {
	total := 0
	for _, s := range summaries {
		total += s.Encounters
	}

	return total
}

func runStatus(days []DayResult) string {
	passed := 0

	for _, d := range days {
		if d.Status == StatusPass {
			passed++
		}
	}

	switch passed {
	case len(days):
		return StatusPass
	case 0:
		return StatusFail
	default:
		return StatusPartial
	}
}
