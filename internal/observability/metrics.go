package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRunsTotal           = "courseflow.pipeline.runs.total"
	metricDaysTotal           = "courseflow.pipeline.days.total"
	metricBinsEmittedTotal    = "courseflow.pipeline.bins.emitted.total"
	metricEncountersTotal     = "courseflow.pipeline.encounters.total"
	metricRunnersSkippedTotal = "courseflow.pipeline.runners.skipped.total"
	metricStageDuration       = "courseflow.pipeline.stage.duration.seconds"

	attrStatus = "status"
	attrStage  = "stage"
	attrDay    = "day"
)

// Pipeline stages measured by the stage duration histogram.
const (
	StageBinning   = "binning"
	StageFlow      = "flow"
	StageCanonical = "canonical"
	StageEmit      = "emit"
)

// stageBucketBoundaries covers 100ms to 600s; binning a large day can run
// for minutes while canonical aggregation finishes in well under a second.
var stageBucketBoundaries = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// PipelineMetrics holds the OTel instruments for run and day throughput.
type PipelineMetrics struct {
	runsTotal      metric.Int64Counter
	daysTotal      metric.Int64Counter
	binsEmitted    metric.Int64Counter
	encounters     metric.Int64Counter
	runnersSkipped metric.Int64Counter
	stageDuration  metric.Float64Histogram
}

// NewPipelineMetrics creates the pipeline instruments from the given meter.
func NewPipelineMetrics(mt metric.Meter) (*PipelineMetrics, error) {
	runs, err := mt.Int64Counter(metricRunsTotal,
		metric.WithDescription("Total analysis runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRunsTotal, err)
	}

	days, err := mt.Int64Counter(metricDaysTotal,
		metric.WithDescription("Total day pipelines completed, by status"),
		metric.WithUnit("{day}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricDaysTotal, err)
	}

	bins, err := mt.Int64Counter(metricBinsEmittedTotal,
		metric.WithDescription("Total occupied bins emitted"),
		metric.WithUnit("{bin}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBinsEmittedTotal, err)
	}

	encounters, err := mt.Int64Counter(metricEncountersTotal,
		metric.WithDescription("Total flow encounters counted"),
		metric.WithUnit("{encounter}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricEncountersTotal, err)
	}

	skipped, err := mt.Int64Counter(metricRunnersSkippedTotal,
		metric.WithDescription("Total runners dropped for non-positive pace"),
		metric.WithUnit("{runner}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRunnersSkippedTotal, err)
	}

	stage, err := mt.Float64Histogram(metricStageDuration,
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricStageDuration, err)
	}

	return &PipelineMetrics{
		runsTotal:      runs,
		daysTotal:      days,
		binsEmitted:    bins,
		encounters:     encounters,
		runnersSkipped: skipped,
		stageDuration:  stage,
	}, nil
}

// RecordRunStarted counts a new analysis run.
func (pm *PipelineMetrics) RecordRunStarted(ctx context.Context) {
	pm.runsTotal.Add(ctx, 1)
}

// RecordDay counts one finished day pipeline with its outcome and volumes.
func (pm *PipelineMetrics) RecordDay(ctx context.Context, day, status string, bins, encounters, skippedRunners int) {
	pm.daysTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrDay, day),
		attribute.String(attrStatus, status),
	))

	dayAttr := metric.WithAttributes(attribute.String(attrDay, day))

	pm.binsEmitted.Add(ctx, int64(bins), dayAttr)
	pm.encounters.Add(ctx, int64(encounters), dayAttr)
	pm.runnersSkipped.Add(ctx, int64(skippedRunners), dayAttr)
}

// RecordStage records one stage's wall-clock duration.
func (pm *PipelineMetrics) RecordStage(ctx context.Context, stage string, duration time.Duration) {
	pm.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrStage, stage),
	))
}
