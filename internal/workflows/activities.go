package workflows

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// Activities binds the batch activities to a pipeline runner. Register the
// value with a worker; workflows reference the methods through a nil
// *Activities.
type Activities struct {
	runner *pipeline.Runner
	logger *zap.Logger
}

// NewActivities creates the activity set.
func NewActivities(runner *pipeline.Runner, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{runner: runner, logger: logger}
}

// ValidateBatchActivity checks batch preconditions and returns the batch CRS.
func (a *Activities) ValidateBatchActivity(ctx context.Context, in BatchInput) (string, error) {
	srs, err := pipeline.Batch{ID: in.BatchID, Points: in.Points}.Validate()
	return srs, activityError(err)
}

// DelineatePointActivity runs locate, resolve and refine for one point.
// Unresolved points complete normally; failed points return a retryable
// error carrying the point's report as details until the retry policy gives
// up.
func (a *Activities) DelineatePointActivity(ctx context.Context, in PointInput) (*PointOutput, error) {
	start := time.Now()
	info := activity.GetInfo(ctx)

	rep, polys, err := a.runner.Point(ctx, in.BatchID, in.Point)
	recordActivity(ctx, "delineate_point", start, err == nil && rep.Outcome != pipeline.OutcomeFailed)
	if err != nil {
		return nil, activityError(err)
	}
	if rep.Outcome == pipeline.OutcomeFailed {
		a.logger.Warn("point attempt failed",
			zap.String("batch.id", in.BatchID),
			zap.String("point.id", in.Point.ID),
			zap.Int32("attempt", info.Attempt),
			zap.String("reason", rep.Reason))
		return nil, temporal.NewApplicationError(rep.Error, rep.Reason, rep)
	}
	return &PointOutput{Report: rep, Partials: encodePartials(polys)}, nil
}

// MergeActivity merges every partial of the batch and stores the results.
func (a *Activities) MergeActivity(ctx context.Context, in MergeInput) (*BatchResult, error) {
	start := time.Now()
	parts, err := decodePartials(in.Partials)
	if err != nil {
		recordActivity(ctx, "merge", start, false)
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidPartial", err)
	}

	report := &pipeline.Report{
		BatchID:   in.BatchID,
		CRS:       in.CRS,
		StartedAt: in.StartedAt,
		Points:    in.Reports,
	}
	err = a.runner.Finish(ctx, report, parts)
	recordActivity(ctx, "merge", start, err == nil)
	if err != nil {
		return nil, activityError(err)
	}
	report.Duration = time.Since(in.StartedAt)
	batchCounter.Add(ctx, 1)

	return &BatchResult{Report: *report, Results: encodeResults(report.Results)}, nil
}

func recordActivity(ctx context.Context, name string, start time.Time, ok bool) {
	attrs := metric.WithAttributes(attribute.String("activity", name))
	activityDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if !ok {
		activityErrorCounter.Add(ctx, 1, attrs)
	}
}
