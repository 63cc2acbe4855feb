package hydro

import (
	"errors"
	"fmt"
)

// Error taxonomy. Per-point errors are attached to that point's result and
// never abort the batch; ErrInvalidInputCRS, ErrEmptyBatch and
// ErrDuplicatePoint are batch preconditions.
var (
	ErrNoStreamFound        = errors.New("no stream found within tolerance")
	ErrAmbiguousMatch       = errors.New("multiple equally ranked stream candidates")
	ErrNoWatershedAvailable = errors.New("no watershed available")
	ErrRefinementFailed     = errors.New("refinement produced an empty result")
	ErrExternalService      = errors.New("external service error")
	ErrInvalidInputCRS      = errors.New("input points are not in a projected metre-based CRS")
	ErrEmptyBatch           = errors.New("batch contains no points")
	ErrDuplicatePoint       = errors.New("duplicate point id in batch")
)

// Stage names the per-point step an error came from.
type Stage string

const (
	StageLocate  Stage = "locate"
	StageResolve Stage = "resolve"
	StageRefine  Stage = "refine"
	StageMerge   Stage = "merge"
	StageStore   Stage = "store"
)

// PointError attaches an error to a single input point.
type PointError struct {
	PointID string
	Stage   Stage
	Err     error
}

// Error implements the error interface
func (e *PointError) Error() string {
	return fmt.Sprintf("point %s: %s failed: %v", e.PointID, e.Stage, e.Err)
}

// Unwrap allows errors.Is and errors.As to reach the taxonomy error.
func (e *PointError) Unwrap() error {
	return e.Err
}

// NewPointError wraps err with point and stage context.
func NewPointError(pointID string, stage Stage, err error) *PointError {
	return &PointError{PointID: pointID, Stage: stage, Err: err}
}

// Kind returns the taxonomy name of err, used in reports and metrics labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoStreamFound):
		return "NoStreamFound"
	case errors.Is(err, ErrAmbiguousMatch):
		return "AmbiguousMatch"
	case errors.Is(err, ErrNoWatershedAvailable):
		return "NoWatershedAvailable"
	case errors.Is(err, ErrRefinementFailed):
		return "RefinementFailed"
	case errors.Is(err, ErrInvalidInputCRS):
		return "InvalidInputCRS"
	case errors.Is(err, ErrEmptyBatch):
		return "EmptyBatch"
	case errors.Is(err, ErrDuplicatePoint):
		return "DuplicatePoint"
	case errors.Is(err, ErrExternalService):
		return "ExternalServiceError"
	default:
		return "ExternalServiceError"
	}
}

// IsDomainMiss reports whether err is a definitive answer from a provider that
// must not be retried.
func IsDomainMiss(err error) bool {
	return errors.Is(err, ErrNoStreamFound) ||
		errors.Is(err, ErrNoWatershedAvailable) ||
		errors.Is(err, ErrInvalidInputCRS)
}
