package continental

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/remote"
	"github.com/fyrsmithlabs/watershed/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(remote.Config{
		BaseURL: srv.URL,
		Retry:   retry.Config{Attempts: 1, Timeout: time.Second},
	})
	require.NoError(t, err)
	return c
}

func TestClient_PointIndex(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/point_indexing", r.URL.Path)
		assert.Equal(t, "-117.50000000", r.URL.Query().Get("lon"))
		assert.Equal(t, "0.5", r.URL.Query().Get("max_distance_km"))
		_, _ = w.Write([]byte(`{"output":{"ary_flowlines":[{"comid":22294818,"reachcode":"17010216000123","fmeasure":42.5}],
			"end_point":{"type":"Point","coordinates":[-117.501,49.001]},"path_distance":0.31}}`))
	})

	idx, err := c.PointIndex(context.Background(), -117.5, 49, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "22294818", idx.ComID)
	assert.Equal(t, 42.5, idx.Measure)
	assert.Equal(t, 0.31, idx.DistanceKm)
	assert.Equal(t, -117.501, idx.Lon)
	assert.Equal(t, 49.001, idx.Lat)
}

func TestClient_PointIndex_NoFlowline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":null,"status":{"status_message":"no flowline"}}`))
	})
	_, err := c.PointIndex(context.Background(), -117.5, 49, 0.5)
	assert.True(t, errors.Is(err, hydro.ErrNoStreamFound))
}

func TestClient_Upstream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "22294818", r.URL.Query().Get("comid"))
		_, _ = w.Write([]byte(`{"output":{"shape":{"type":"Polygon","coordinates":[[[-117.6,49],[-117.5,49],[-117.5,49.1],[-117.6,49]]]},"total_areasqkm":12.75}}`))
	})

	d, err := c.Upstream(context.Background(), "22294818", 42.5)
	require.NoError(t, err)
	assert.Equal(t, 12.75, d.AreaSqKm)
	assert.Contains(t, string(d.Geometry), "Polygon")
}

func TestClient_Upstream_Empty(t *testing.T) {
	for _, body := range []string{`{"output":null}`, `{"output":{"shape":null,"total_areasqkm":null}}`} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		_, err := c.Upstream(context.Background(), "1", 0)
		assert.True(t, errors.Is(err, hydro.ErrNoWatershedAvailable), body)
	}
}
