package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/watershed/internal/events"
	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const squareGeoJSON = `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`

func describeResponse(status enumspb.WorkflowExecutionStatus) *workflowservice.DescribeWorkflowExecutionResponse {
	return &workflowservice.DescribeWorkflowExecutionResponse{
		WorkflowExecutionInfo: &workflowpb.WorkflowExecutionInfo{
			Status:    status,
			StartTime: timestamppb.New(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		},
	}
}

func TestDispatcher_Submit(t *testing.T) {
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	c.On("ExecuteWorkflow", mock.Anything, mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
		return o.ID == WorkflowID("b1") && o.TaskQueue == TaskQueue
	}), mock.Anything, mock.MatchedBy(func(in BatchInput) bool {
		return in.BatchID == "b1" && len(in.Points) == 3 && in.MaxConcurrent == 4
	})).Return(run, nil).Once()

	d := NewDispatcher(c, "", nil)
	d.MaxConcurrent = 4
	id, err := d.Submit(context.Background(), pipeline.Batch{ID: "b1", Points: batchPoints})
	require.NoError(t, err)
	assert.Equal(t, "b1", id)
	c.AssertExpectations(t)
}

func TestDispatcher_SubmitAssignsID(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&mocks.WorkflowRun{}, nil)

	id, err := NewDispatcher(c, "q", nil).Submit(context.Background(), pipeline.Batch{Points: batchPoints})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestDispatcher_SubmitValidates(t *testing.T) {
	c := &mocks.Client{}
	d := NewDispatcher(c, "", nil)

	_, err := d.Submit(context.Background(), pipeline.Batch{ID: "b1"})
	assert.ErrorIs(t, err, hydro.ErrEmptyBatch)

	dup := []hydro.InputPoint{batchPoints[0], batchPoints[0]}
	_, err = d.Submit(context.Background(), pipeline.Batch{ID: "b1", Points: dup})
	assert.ErrorIs(t, err, hydro.ErrDuplicatePoint)

	c.AssertNotCalled(t, "ExecuteWorkflow")
}

func TestDispatcher_SubmitStartFailure(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("unavailable"))

	_, err := NewDispatcher(c, "", nil).Submit(context.Background(), pipeline.Batch{ID: "b1", Points: batchPoints})
	assert.ErrorContains(t, err, "failed to start batch workflow")
}

func TestDispatcher_Status(t *testing.T) {
	tests := []struct {
		status enumspb.WorkflowExecutionStatus
		want   pipeline.Status
		done   bool
	}{
		{enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, pipeline.StatusStarted, false},
		{enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED, pipeline.StatusFinished, true},
		{enumspb.WORKFLOW_EXECUTION_STATUS_FAILED, pipeline.StatusFailed, true},
		{enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT, pipeline.StatusFailed, true},
		{enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED, pipeline.StatusCancelled, true},
		{enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED, pipeline.StatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			c := &mocks.Client{}
			c.On("DescribeWorkflowExecution", mock.Anything, WorkflowID("b1"), "").Return(describeResponse(tt.status), nil)

			state, err := NewDispatcher(c, "", nil).Status(context.Background(), "b1")
			require.NoError(t, err)
			assert.Equal(t, "b1", state.ID)
			assert.Equal(t, tt.want, state.Status)
			assert.Equal(t, tt.done, state.Done())
			assert.Equal(t, 2026, state.CreatedAt.Year())
		})
	}
}

func TestDispatcher_StatusMergesRegistry(t *testing.T) {
	reg := events.NewRegistry(nil, nil)
	reg.Observe(context.Background(), pipeline.Event{BatchID: "b1", Status: pipeline.StatusStarted})
	reg.Observe(context.Background(), pipeline.Event{BatchID: "b1", PointID: "p1", Status: pipeline.StatusLocated})

	c := &mocks.Client{}
	c.On("DescribeWorkflowExecution", mock.Anything, WorkflowID("b1"), "").
		Return(describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING), nil)

	state, err := NewDispatcher(c, "", reg).Status(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusLocated, state.Points["p1"])
	assert.Equal(t, pipeline.StatusStarted, state.Status)
}

func TestDispatcher_StatusNotFound(t *testing.T) {
	c := &mocks.Client{}
	c.On("DescribeWorkflowExecution", mock.Anything, mock.Anything, "").
		Return(nil, serviceerror.NewNotFound("workflow not found"))

	_, err := NewDispatcher(c, "", nil).Status(context.Background(), "missing")
	assert.ErrorIs(t, err, pipeline.ErrBatchNotFound)
}

func TestDispatcher_Report(t *testing.T) {
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	c.On("DescribeWorkflowExecution", mock.Anything, WorkflowID("b1"), "").
		Return(describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED), nil)
	c.On("GetWorkflow", mock.Anything, WorkflowID("b1"), "").Return(run)
	run.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(1).(*BatchResult) = BatchResult{
			Report: pipeline.Report{BatchID: "b1", CRS: "EPSG:3005", Points: []pipeline.PointReport{
				{PointID: "p1", Outcome: pipeline.OutcomeDirect, AreaHa: 1},
			}},
			Results: []Partial{{PointID: "p1", Provenance: hydro.ProvenanceNetwork, AreaHa: 1, GeoJSON: squareGeoJSON}},
		}
	}).Return(nil)

	report, err := NewDispatcher(c, "", nil).Report(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", report.BatchID)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "p1", report.Results[0].PointID)
	assert.InDelta(t, 1.0, report.Results[0].Geometry.Area(), 1e-9)
}

func TestDispatcher_ReportWhileRunning(t *testing.T) {
	c := &mocks.Client{}
	c.On("DescribeWorkflowExecution", mock.Anything, WorkflowID("b1"), "").
		Return(describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING), nil)

	_, err := NewDispatcher(c, "", nil).Report(context.Background(), "b1")
	assert.ErrorIs(t, err, pipeline.ErrBatchRunning)
	c.AssertNotCalled(t, "GetWorkflow", mock.Anything, mock.Anything, mock.Anything)
}
