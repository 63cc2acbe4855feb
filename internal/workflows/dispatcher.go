package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/watershed/internal/events"
	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"github.com/google/uuid"
	"github.com/twpayne/go-geos"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// WorkflowID returns the workflow id of a batch.
func WorkflowID(batchID string) string {
	return "watershed-batch-" + batchID
}

// Dispatcher starts batch workflows and reads their state and results.
type Dispatcher struct {
	client    client.Client
	taskQueue string
	registry  *events.Registry
	// MaxConcurrent and PointTimeout are copied into every BatchInput.
	MaxConcurrent int
	PointTimeout  time.Duration
}

// NewDispatcher creates a Dispatcher. registry is optional; when set, point
// progress observed by a worker in the same process is reported by Status.
func NewDispatcher(c client.Client, taskQueue string, registry *events.Registry) *Dispatcher {
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	return &Dispatcher{client: c, taskQueue: taskQueue, registry: registry}
}

// Submit validates b and starts its workflow. It returns the batch id.
func (d *Dispatcher) Submit(ctx context.Context, b pipeline.Batch) (string, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if _, err := b.Validate(); err != nil {
		return "", err
	}
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(b.ID),
		TaskQueue: d.taskQueue,
	}
	in := BatchInput{BatchID: b.ID, Points: b.Points, MaxConcurrent: d.MaxConcurrent, PointTimeout: d.PointTimeout}
	if _, err := d.client.ExecuteWorkflow(ctx, opts, DelineateBatchWorkflow, in); err != nil {
		return "", fmt.Errorf("failed to start batch workflow: %w", err)
	}
	return b.ID, nil
}

// Status returns the state of a batch.
func (d *Dispatcher) Status(ctx context.Context, id string) (events.BatchState, error) {
	var state events.BatchState
	if d.registry != nil {
		if s, ok := d.registry.Get(id); ok {
			state = s
		}
	}

	resp, err := d.client.DescribeWorkflowExecution(ctx, WorkflowID(id), "")
	if err != nil {
		var nf *serviceerror.NotFound
		if errors.As(err, &nf) {
			if state.ID != "" {
				return state, nil
			}
			return state, fmt.Errorf("%s: %w", id, pipeline.ErrBatchNotFound)
		}
		return state, fmt.Errorf("failed to describe batch workflow: %w", err)
	}

	info := resp.GetWorkflowExecutionInfo()
	state.ID = id
	if state.Points == nil {
		state.Points = make(map[string]pipeline.Status)
	}
	if ts := info.GetStartTime(); ts != nil && state.CreatedAt.IsZero() {
		state.CreatedAt = ts.AsTime()
	}
	if ts := info.GetCloseTime(); ts != nil {
		state.UpdatedAt = ts.AsTime()
	}
	state.Status = batchStatus(info.GetStatus())
	return state, nil
}

// Report returns the report of a closed batch, with its merged results.
func (d *Dispatcher) Report(ctx context.Context, id string) (*pipeline.Report, error) {
	state, err := d.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if !state.Done() {
		return nil, fmt.Errorf("%s: %w", id, pipeline.ErrBatchRunning)
	}

	var res BatchResult
	if err := d.client.GetWorkflow(ctx, WorkflowID(id), "").Get(ctx, &res); err != nil {
		return nil, fmt.Errorf("batch %s: %w", id, err)
	}
	report := res.Report
	report.Results, err = decodeResults(res.Results)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func batchStatus(s enumspb.WorkflowExecutionStatus) pipeline.Status {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return pipeline.StatusFinished
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED, enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return pipeline.StatusCancelled
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED, enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return pipeline.StatusFailed
	default:
		return pipeline.StatusStarted
	}
}

func decodeResults(parts []Partial) ([]hydro.MergedResult, error) {
	out := make([]hydro.MergedResult, 0, len(parts))
	for _, p := range parts {
		g, err := geos.NewGeomFromGeoJSON(p.GeoJSON)
		if err != nil {
			return nil, fmt.Errorf("result for %s: %w", p.PointID, err)
		}
		out = append(out, hydro.MergedResult{
			PointID:    p.PointID,
			Provenance: p.Provenance,
			AreaHa:     p.AreaHa,
			Geometry:   g,
			Attributes: p.Attributes,
		})
	}
	return out, nil
}
