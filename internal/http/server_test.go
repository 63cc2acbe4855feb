package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/watershed/internal/events"
	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"
	"go.uber.org/zap"
)

type fakeBatches struct {
	submitted []pipeline.Batch
	submitErr error
	states    map[string]events.BatchState
	reports   map[string]*pipeline.Report
	running   map[string]bool
}

func newFakeBatches() *fakeBatches {
	return &fakeBatches{
		states:  make(map[string]events.BatchState),
		reports: make(map[string]*pipeline.Report),
		running: make(map[string]bool),
	}
}

func (f *fakeBatches) Submit(_ context.Context, b pipeline.Batch) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if _, err := b.Validate(); err != nil {
		return "", err
	}
	if b.ID == "" {
		b.ID = "generated"
	}
	f.submitted = append(f.submitted, b)
	return b.ID, nil
}

func (f *fakeBatches) Status(_ context.Context, id string) (events.BatchState, error) {
	s, ok := f.states[id]
	if !ok {
		return s, pipeline.ErrBatchNotFound
	}
	return s, nil
}

func (f *fakeBatches) Report(_ context.Context, id string) (*pipeline.Report, error) {
	if f.running[id] {
		return nil, pipeline.ErrBatchRunning
	}
	r, ok := f.reports[id]
	if !ok {
		return nil, pipeline.ErrBatchNotFound
	}
	return r, nil
}

func setupTestServer(t *testing.T) (*Server, *fakeBatches) {
	t.Helper()
	batches := newFakeBatches()
	server, err := NewServer(batches, zap.NewNop(), nil)
	require.NoError(t, err)
	return server, batches
}

func serve(s *Server, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func finishedReport(t *testing.T) *pipeline.Report {
	t.Helper()
	square, err := geos.NewGeomFromWKT("POLYGON ((0 0, 100 0, 100 100, 0 100, 0 0))")
	require.NoError(t, err)
	return &pipeline.Report{
		BatchID: "b1",
		CRS:     "EPSG:3005",
		Points: []pipeline.PointReport{
			{
				PointID: "p1", Outcome: pipeline.OutcomeDirect, Provenance: hydro.ProvenanceNetwork, AreaHa: 1,
				Reference: &hydro.StreamReference{PointID: "p1", SegmentID: "356308001", Jurisdiction: hydro.JurisdictionPrimary, X: 5, Y: 6},
			},
			{PointID: "p2", Outcome: pipeline.OutcomeUnresolved, Reason: "NoStreamFound"},
		},
		Results: []hydro.MergedResult{
			{PointID: "p1", Provenance: hydro.ProvenanceNetwork, AreaHa: 1, Geometry: square},
		},
	}
}

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := &Config{Host: "localhost", Port: 9090, BodyLimit: "1M"}
		server, err := NewServer(newFakeBatches(), zap.NewNop(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, server.echo)
		assert.Equal(t, cfg, server.config)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(newFakeBatches(), zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9090, server.config.Port)
		assert.Equal(t, "10M", server.config.BodyLimit)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(newFakeBatches(), nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when batches is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "batches cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t)
	rec := serve(server, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleMetrics(t *testing.T) {
	server, _ := setupTestServer(t)
	rec := serve(server, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "watershed_pipeline_points_in_flight")
}

func TestHandleSubmit(t *testing.T) {
	t.Run("accepts a json batch", func(t *testing.T) {
		server, batches := setupTestServer(t)
		body, err := json.Marshal(SubmitRequest{ID: "b1", Points: []hydro.InputPoint{
			{ID: "p1", X: 1200000, Y: 600000, CRS: "EPSG:3005", Name: "Fraser River"},
		}})
		require.NoError(t, err)

		rec := serve(server, http.MethodPost, "/api/v1/batches", echo.MIMEApplicationJSON, body)
		assert.Equal(t, http.StatusAccepted, rec.Code)

		var resp SubmitResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "b1", resp.BatchID)
		assert.Equal(t, "/api/v1/batches/b1", resp.StatusURL)
		require.Len(t, batches.submitted, 1)
		assert.Equal(t, "Fraser River", batches.submitted[0].Points[0].Name)
	})

	t.Run("accepts a geojson point collection", func(t *testing.T) {
		server, batches := setupTestServer(t)
		body := []byte(`{"type":"FeatureCollection","features":[
			{"type":"Feature","properties":{"site":"a","stream":"Nechako"},"geometry":{"type":"Point","coordinates":[1200000,600000]}},
			{"type":"Feature","properties":{"site":"b"},"geometry":{"type":"Point","coordinates":[1200100,600100]}}
		]}`)

		rec := serve(server, http.MethodPost, "/api/v1/batches?id=g1&id_field=site&name_field=stream&crs=EPSG:3005", MIMEGeoJSON, body)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		require.Len(t, batches.submitted, 1)
		b := batches.submitted[0]
		assert.Equal(t, "g1", b.ID)
		require.Len(t, b.Points, 2)
		assert.Equal(t, "a", b.Points[0].ID)
		assert.Equal(t, "Nechako", b.Points[0].Name)
		assert.Equal(t, "EPSG:3005", b.Points[1].CRS)
	})

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
	}{
		{"invalid json", echo.MIMEApplicationJSON, "invalid json", http.StatusBadRequest},
		{"empty batch", echo.MIMEApplicationJSON, `{"points":[]}`, http.StatusBadRequest},
		{"duplicate ids", echo.MIMEApplicationJSON,
			`{"points":[{"id":"a","x":1,"y":1,"crs":"EPSG:3005"},{"id":"a","x":2,"y":2,"crs":"EPSG:3005"}]}`,
			http.StatusBadRequest},
		{"geographic crs", echo.MIMEApplicationJSON, `{"points":[{"id":"a","x":-123,"y":49,"crs":"EPSG:4326"}]}`, http.StatusBadRequest},
		{"invalid geojson", MIMEGeoJSON, `{"type":"Feature"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, batches := setupTestServer(t)
			rec := serve(server, http.MethodPost, "/api/v1/batches", tt.contentType, []byte(tt.body))
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, batches.submitted)
		})
	}

	t.Run("internal errors are not leaked", func(t *testing.T) {
		server, batches := setupTestServer(t)
		batches.submitErr = errors.New("temporal: dial tcp 10.0.0.1:7233: connection refused")
		rec := serve(server, http.MethodPost, "/api/v1/batches", echo.MIMEApplicationJSON,
			[]byte(`{"points":[{"id":"a","x":1,"y":1,"crs":"EPSG:3005"}]}`))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "10.0.0.1")
	})
}

func TestHandleStatus(t *testing.T) {
	server, batches := setupTestServer(t)
	batches.states["b1"] = events.BatchState{
		ID:     "b1",
		Status: pipeline.StatusStarted,
		Points: map[string]pipeline.Status{
			"p1": pipeline.StatusCompleted,
			"p2": pipeline.StatusFailed,
			"p3": pipeline.StatusRefined,
		},
	}

	rec := serve(server, http.MethodGet, "/api/v1/batches/b1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "b1", resp.BatchID)
	assert.Equal(t, "started", resp.Status)
	assert.False(t, resp.Done)
	assert.Equal(t, PointCounts{Total: 3, Completed: 1, Failed: 1, InFlight: 1}, resp.Counts)
	assert.Equal(t, pipeline.StatusRefined, resp.Points["p3"])

	rec = serve(server, http.MethodGet, "/api/v1/batches/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleReport(t *testing.T) {
	server, batches := setupTestServer(t)
	batches.reports["b1"] = finishedReport(t)
	batches.running["b2"] = true

	rec := serve(server, http.MethodGet, "/api/v1/batches/b1/report", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report pipeline.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "b1", report.BatchID)
	require.Len(t, report.Points, 2)
	assert.Equal(t, pipeline.OutcomeUnresolved, report.Points[1].Outcome)

	rec = serve(server, http.MethodGet, "/api/v1/batches/b2/report", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(server, http.MethodGet, "/api/v1/batches/b3/report", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGeoJSON(t *testing.T) {
	server, batches := setupTestServer(t)
	batches.reports["b1"] = finishedReport(t)

	rec := serve(server, http.MethodGet, "/api/v1/batches/b1/geojson", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), MIMEGeoJSON))

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID         string         `json:"id"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "p1", fc.Features[0].ID)
	assert.Equal(t, "network", fc.Features[0].Properties["provenance"])
}

func TestHandleReferences(t *testing.T) {
	server, batches := setupTestServer(t)
	batches.reports["b1"] = finishedReport(t)

	rec := serve(server, http.MethodGet, "/api/v1/batches/b1/references", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"segment_id":"356308001"`)
	assert.NotContains(t, rec.Body.String(), `"p2"`)
}

func TestCountPoints(t *testing.T) {
	assert.Equal(t, PointCounts{}, CountPoints(events.BatchState{}))
	c := CountPoints(events.BatchState{Points: map[string]pipeline.Status{
		"a": pipeline.StatusStarted,
		"b": pipeline.StatusLocated,
		"c": pipeline.StatusCompleted,
	}})
	assert.Equal(t, PointCounts{Total: 3, Completed: 1, InFlight: 2}, c)
}
