package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/watershed/internal/config"
	"github.com/fyrsmithlabs/watershed/internal/events"
	wsdhttp "github.com/fyrsmithlabs/watershed/internal/http"
	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
)

func TestCommandsRegistered(t *testing.T) {
	want := []string{"delineate", "run", "watch", "submit", "status", "health", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

type fakeBatches struct {
	submitted []pipeline.Batch
}

func (f *fakeBatches) Submit(_ context.Context, b pipeline.Batch) (string, error) {
	f.submitted = append(f.submitted, b)
	if b.ID == "" {
		b.ID = "generated"
	}
	return b.ID, nil
}

func (f *fakeBatches) Status(_ context.Context, id string) (events.BatchState, error) {
	if id != "b1" {
		return events.BatchState{}, pipeline.ErrBatchNotFound
	}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return events.BatchState{
		ID:     id,
		Status: pipeline.StatusFinished,
		Points: map[string]pipeline.Status{
			"p1": pipeline.StatusCompleted,
			"p2": pipeline.StatusFailed,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (f *fakeBatches) Report(_ context.Context, id string) (*pipeline.Report, error) {
	if id != "b1" {
		return nil, pipeline.ErrBatchNotFound
	}
	return &pipeline.Report{
		BatchID: id,
		CRS:     "EPSG:3005",
		Points: []pipeline.PointReport{
			{PointID: "p1", Outcome: pipeline.OutcomeDirect, Provenance: hydro.ProvenanceNetwork, AreaHa: 1250},
			{PointID: "p2", Outcome: pipeline.OutcomeFailed, Reason: "timeout"},
		},
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeBatches) {
	t.Helper()
	fb := &fakeBatches{}
	srv, err := wsdhttp.NewServer(fb, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, fb
}

func TestAPIClient(t *testing.T) {
	ts, fb := newTestServer(t)
	client := newAPIClient(ts.URL + "/")
	ctx := context.Background()

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	fc := `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[1200000,600000]},
		 "properties":{"station":"s1","stream":"Bowron River"}}]}`
	resp, err := client.SubmitGeoJSON(ctx, strings.NewReader(fc), geoJSONQuery{
		ID: "b1", IDField: "station", NameField: "stream", CRS: "EPSG:3005",
	})
	require.NoError(t, err)
	assert.Equal(t, "b1", resp.BatchID)
	assert.Equal(t, "/api/v1/batches/b1", resp.StatusURL)
	require.Len(t, fb.submitted, 1)
	require.Len(t, fb.submitted[0].Points, 1)
	assert.Equal(t, "s1", fb.submitted[0].Points[0].ID)
	assert.Equal(t, "Bowron River", fb.submitted[0].Points[0].Name)

	resp, err = client.Submit(ctx, wsdhttp.SubmitRequest{
		Points: []hydro.InputPoint{{ID: "p1", X: 1, Y: 2, CRS: "EPSG:3005"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "generated", resp.BatchID)

	st, err := client.Status(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, st.Done)
	assert.Equal(t, 2, st.Counts.Total)
	assert.Equal(t, 1, st.Counts.Failed)

	rep, err := client.Report(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "EPSG:3005", rep.CRS)
	require.Len(t, rep.Points, 2)

	_, err = client.Status(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestGeoJSONQuery_Encode(t *testing.T) {
	assert.Equal(t, "", geoJSONQuery{}.encode())
	assert.Equal(t, "crs=EPSG%3A3005&id=b1", geoJSONQuery{ID: "b1", CRS: "EPSG:3005"}.encode())
}

func TestStatusAndHealthCommands(t *testing.T) {
	ts, _ := newTestServer(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetArgs([]string{"--server", ts.URL, "health"})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "Server Status: ok")

	out.Reset()
	rootCmd.SetArgs([]string{"--server", ts.URL, "status", "b1"})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "Status:    finished")
	assert.Contains(t, out.String(), "2 total, 1 completed, 1 failed, 0 in flight")
}

func TestIsManifest(t *testing.T) {
	assert.True(t, isManifest("jobs/batch.toml"))
	assert.True(t, isManifest("BATCH.TOML"))
	assert.False(t, isManifest("points.geojson"))
}

func TestRunManifest(t *testing.T) {
	network := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	t.Cleanup(network.Close)

	cfg := config.Default()
	cfg.Primary.URL = network.URL
	cfg.Workspace.Root = t.TempDir()
	cfg.Pipeline.Attempts = 1
	cfg.Store.Dir = t.TempDir()

	dir := t.TempDir()
	manifest := `id = "m1"
crs = "EPSG:3005"
tolerance = 150
output = "out"

[[point]]
id = "p1"
x = 1200000
y = 600000
name = "Bowron River"
`
	path := filepath.Join(dir, "m1.toml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o600))

	rep, err := runManifest(context.Background(), cfg, path)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, "m1", rep.BatchID)
	require.Len(t, rep.Points, 1)
	assert.Equal(t, pipeline.OutcomeUnresolved, rep.Points[0].Outcome)

	_, err = os.Stat(filepath.Join(dir, "out"))
	assert.NoError(t, err, "manifest output directory is used as the store")
	assert.Equal(t, 100.0, cfg.Locator.ToleranceM, "manifest overrides do not leak into the shared config")

	refs := filepath.Join(t.TempDir(), "refs.geojson")
	var out bytes.Buffer
	o := outputFlags{references: refs, jsonOut: true}
	require.NoError(t, o.write(&out, rep))
	assert.Contains(t, out.String(), `"batch_id": "m1"`)
	data, err := os.ReadFile(refs)
	require.NoError(t, err)
	assert.Contains(t, string(data), "FeatureCollection")
}
