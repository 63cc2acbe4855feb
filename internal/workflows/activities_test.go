package workflows

import (
	"context"
	"fmt"
	"testing"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/merge"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"
	"go.temporal.io/sdk/testsuite"
)

type locatorFunc func(p hydro.InputPoint) (hydro.StreamReference, error)

func (f locatorFunc) Locate(ctx context.Context, p hydro.InputPoint, tolerance float64, limit int) (hydro.StreamReference, error) {
	return f(p)
}

type squareProvider struct{}

func (squareProvider) Resolve(ctx context.Context, ref hydro.StreamReference) (*hydro.WatershedPolygon, bool, error) {
	g, err := geos.NewGeomFromWKT(fmt.Sprintf("POLYGON((%[1]f %[2]f,%[3]f %[2]f,%[3]f %[4]f,%[1]f %[4]f,%[1]f %[2]f))", ref.X, ref.Y, ref.X+100, ref.Y+100))
	if err != nil {
		return nil, false, err
	}
	return &hydro.WatershedPolygon{PointID: ref.PointID, Provenance: hydro.ProvenanceNetwork, AreaHa: 1, Geometry: g}, false, nil
}

func (squareProvider) RefinementJob(ctx context.Context, ref hydro.StreamReference, coarse *hydro.WatershedPolygon) (hydro.RefinementJob, error) {
	return hydro.RefinementJob{}, hydro.ErrRefinementFailed
}

func newActivities(t *testing.T) *Activities {
	t.Helper()
	loc := locatorFunc(func(p hydro.InputPoint) (hydro.StreamReference, error) {
		switch p.ID {
		case "miss":
			return hydro.StreamReference{}, hydro.ErrNoStreamFound
		case "down":
			return hydro.StreamReference{}, fmt.Errorf("nearest stream: %w", hydro.ErrExternalService)
		}
		return hydro.StreamReference{PointID: p.ID, SegmentID: "1", X: p.X, Y: p.Y, CRS: p.CRS, Jurisdiction: hydro.JurisdictionPrimary}, nil
	})
	runner, err := pipeline.New(pipeline.Config{WorkspaceRoot: t.TempDir()}, pipeline.Deps{
		Locator:  loc,
		Provider: squareProvider{},
		Merger:   merge.New(merge.DefaultConfig(), nil),
	}, nil)
	require.NoError(t, err)
	return NewActivities(runner, nil)
}

func TestDelineatePointActivity(t *testing.T) {
	a := newActivities(t)
	testSuite := &testsuite.WorkflowTestSuite{}

	t.Run("resolved", func(t *testing.T) {
		env := testSuite.NewTestActivityEnvironment()
		env.RegisterActivity(a)

		val, err := env.ExecuteActivity(a.DelineatePointActivity, PointInput{BatchID: "b1", Point: hydro.InputPoint{ID: "ok", X: 10, Y: 20, CRS: "EPSG:3005"}})
		require.NoError(t, err)
		var out PointOutput
		require.NoError(t, val.Get(&out))
		assert.Equal(t, pipeline.OutcomeDirect, out.Report.Outcome)
		require.Len(t, out.Partials, 1)

		parts, err := decodePartials(out.Partials)
		require.NoError(t, err)
		assert.InDelta(t, 10000, parts[0].Geometry.Area(), 1e-6)
	})

	t.Run("unresolved completes", func(t *testing.T) {
		env := testSuite.NewTestActivityEnvironment()
		env.RegisterActivity(a)

		val, err := env.ExecuteActivity(a.DelineatePointActivity, PointInput{BatchID: "b1", Point: hydro.InputPoint{ID: "miss", CRS: "EPSG:3005"}})
		require.NoError(t, err)
		var out PointOutput
		require.NoError(t, val.Get(&out))
		assert.Equal(t, pipeline.OutcomeUnresolved, out.Report.Outcome)
		assert.Empty(t, out.Partials)
	})

	t.Run("external failure is retryable", func(t *testing.T) {
		env := testSuite.NewTestActivityEnvironment()
		env.RegisterActivity(a)

		_, err := env.ExecuteActivity(a.DelineatePointActivity, PointInput{BatchID: "b1", Point: hydro.InputPoint{ID: "down", CRS: "EPSG:3005"}})
		require.Error(t, err)
		assert.Equal(t, "ExternalServiceError", errorKind(err))

		rep := failedReport("down", err)
		assert.Equal(t, hydro.StageLocate, rep.Stage)
		assert.Contains(t, rep.Error, "nearest stream")
	})
}

func TestValidateBatchActivity(t *testing.T) {
	a := newActivities(t)
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.ValidateBatchActivity, BatchInput{BatchID: "b1", Points: batchPoints})
	require.NoError(t, err)
	var srs string
	require.NoError(t, val.Get(&srs))
	assert.Equal(t, "EPSG:3005", srs)

	_, err = env.ExecuteActivity(a.ValidateBatchActivity, BatchInput{BatchID: "b1", Points: []hydro.InputPoint{{ID: "a", CRS: "EPSG:4326"}}})
	require.Error(t, err)
	assert.Equal(t, "InvalidInputCRS", errorKind(err))
}

func TestMergeActivity(t *testing.T) {
	a := newActivities(t)
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	in := MergeInput{
		BatchID: "b1",
		CRS:     "EPSG:3005",
		Reports: []pipeline.PointReport{
			{PointID: "p1", Outcome: pipeline.OutcomeDirect},
			{PointID: "p2", Outcome: pipeline.OutcomeUnresolved},
		},
		Partials: []Partial{
			{PointID: "p1", Provenance: hydro.ProvenanceNetwork, AreaHa: 1, GeoJSON: `{"type":"Polygon","coordinates":[[[0,0],[100,0],[100,100],[0,100],[0,0]]]}`},
		},
	}
	val, err := env.ExecuteActivity(a.MergeActivity, in)
	require.NoError(t, err)

	var out BatchResult
	require.NoError(t, val.Get(&out))
	assert.Equal(t, "b1", out.Report.BatchID)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "p1", out.Results[0].PointID)
	assert.Equal(t, 1.0, out.Report.Points[0].AreaHa)

	in.Partials[0].GeoJSON = "not json"
	_, err = env.ExecuteActivity(a.MergeActivity, in)
	require.Error(t, err)
	assert.Equal(t, "InvalidPartial", errorKind(err))
}
