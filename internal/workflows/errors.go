package workflows

import (
	"errors"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"go.temporal.io/sdk/temporal"
)

// activityError converts a stage error into a Temporal application error
// whose type is the taxonomy kind. Domain misses are definitive answers and
// are never retried.
func activityError(err error) error {
	if err == nil {
		return nil
	}
	kind := hydro.Kind(err)
	if hydro.IsDomainMiss(err) || errors.Is(err, hydro.ErrEmptyBatch) || errors.Is(err, hydro.ErrDuplicatePoint) {
		return temporal.NewNonRetryableApplicationError(err.Error(), kind, err)
	}
	return temporal.NewApplicationErrorWithCause(err.Error(), kind, err)
}

// errorKind returns the taxonomy kind carried by an activity failure.
func errorKind(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return appErr.Type()
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return "Timeout"
	}
	return hydro.Kind(err)
}

// failedReport builds the report of a point whose activity gave up. The stage
// and stream reference come from the last attempt's details when present.
func failedReport(pointID string, err error) pipeline.PointReport {
	rep := pipeline.PointReport{
		PointID: pointID,
		Outcome: pipeline.OutcomeFailed,
		Reason:  errorKind(err),
		Error:   err.Error(),
	}
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return rep
	}
	rep.Error = appErr.Message()
	if !appErr.HasDetails() {
		return rep
	}
	var last pipeline.PointReport
	if appErr.Details(&last) == nil {
		rep.Stage = last.Stage
		rep.Reference = last.Reference
		rep.Notes = last.Notes
	}
	return rep
}
