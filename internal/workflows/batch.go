package workflows

import (
	"time"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// RetryPolicy is applied to point and merge activities: three attempts with
// exponential backoff. Domain misses are not retried.
func RetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    3,
		NonRetryableErrorTypes: []string{
			hydro.Kind(hydro.ErrNoStreamFound),
			hydro.Kind(hydro.ErrNoWatershedAvailable),
			hydro.Kind(hydro.ErrInvalidInputCRS),
			hydro.Kind(hydro.ErrEmptyBatch),
			hydro.Kind(hydro.ErrDuplicatePoint),
		},
	}
}

// DelineateBatchWorkflow delineates every point of a batch and merges the
// results.
//
// This workflow:
//  1. Validates the batch
//  2. Runs DelineatePointActivity for each point, at most MaxConcurrent at a time
//  3. Records points whose activity failed after all retries as failed
//  4. Runs MergeActivity over every partial in input order
func DelineateBatchWorkflow(ctx workflow.Context, in BatchInput) (*BatchResult, error) {
	logger := workflow.GetLogger(ctx)
	if err := in.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), hydro.Kind(err), err)
	}
	in.ApplyDefaults()
	started := workflow.Now(ctx)

	logger.Info("Starting batch", "batch_id", in.BatchID, "points", len(in.Points))

	var a *Activities

	validateCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	var srs string
	if err := workflow.ExecuteActivity(validateCtx, a.ValidateBatchActivity, in).Get(ctx, &srs); err != nil {
		return nil, err
	}

	pointCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: in.PointTimeout,
		RetryPolicy:         RetryPolicy(),
	})
	reports := make([]pipeline.PointReport, len(in.Points))
	partials := make([][]Partial, len(in.Points))

	for lo := 0; lo < len(in.Points); lo += in.MaxConcurrent {
		hi := min(lo+in.MaxConcurrent, len(in.Points))
		futures := make([]workflow.Future, 0, hi-lo)
		for _, p := range in.Points[lo:hi] {
			futures = append(futures, workflow.ExecuteActivity(pointCtx, a.DelineatePointActivity, PointInput{BatchID: in.BatchID, Point: p}))
		}
		for i, f := range futures {
			idx := lo + i
			var out PointOutput
			if err := f.Get(ctx, &out); err != nil {
				if temporal.IsCanceledError(err) {
					return nil, err
				}
				logger.Warn("Point failed after retries", "point_id", in.Points[idx].ID, "error", err)
				reports[idx] = failedReport(in.Points[idx].ID, err)
				continue
			}
			reports[idx] = out.Report
			partials[idx] = out.Partials
		}
	}

	merge := MergeInput{BatchID: in.BatchID, CRS: srs, StartedAt: started, Reports: reports}
	for _, parts := range partials {
		merge.Partials = append(merge.Partials, parts...)
	}

	mergeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         RetryPolicy(),
	})
	var result BatchResult
	if err := workflow.ExecuteActivity(mergeCtx, a.MergeActivity, merge).Get(ctx, &result); err != nil {
		return nil, err
	}

	logger.Info("Batch complete", "batch_id", in.BatchID, "results", len(result.Results))
	return &result, nil
}
