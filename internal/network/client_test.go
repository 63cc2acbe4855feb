package network

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

const nearestBody = `{"type":"FeatureCollection","features":[
 {"type":"Feature","geometry":{"type":"Point","coordinates":[1213005,466003]},
  "properties":{"blue_line_key":356308001,"linear_feature_id":701,"downstream_route_measure":1520.5,
   "distance_to_stream":9.8,"gnis_name":"Mission Creek","wscode":"100-190442","localcode":"100-190442-244975","in_jurisdiction":true}},
 {"type":"Feature","geometry":{"type":"Point","coordinates":[1213050,466050]},
  "properties":{"blue_line_key":356308002,"downstream_route_measure":10,"distance_to_stream":60.1,"gnis_name":null}},
 {"type":"Feature","geometry":{"type":"Point","coordinates":[1213900,466900]},
  "properties":{"blue_line_key":356308003,"downstream_route_measure":10,"distance_to_stream":140}}
]}`

const watershedBody = `{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1000,0],[1000,1000],[0,1000],[0,0]]]},
 "properties":{"area_ha":100,"refine_method":"DEM","wscode":"100-190442","localcode":"100-190442-244975"}}`

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(remote.Config{
		BaseURL: srv.URL,
		Retry:   retry.Config{Attempts: 2, InitialBackoff: time.Millisecond, Timeout: time.Second},
	})
	require.NoError(t, err)
	return c
}

func TestClient_NearestStreams(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nearest_stream/1213000,466000,3005", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("tolerance"))
		assert.Equal(t, "10", r.URL.Query().Get("num_features"))
		_, _ = w.Write([]byte(nearestBody))
	}))

	got, err := c.NearestStreams(context.Background(), hydro.InputPoint{ID: "1", X: 1213000, Y: 466000, CRS: "EPSG:3005"}, 100, 10)
	require.NoError(t, err)
	require.Len(t, got, 2, "candidates beyond tolerance are dropped")

	first := got[0]
	assert.Equal(t, "356308001", first.SegmentID)
	assert.Equal(t, 1520.5, first.Measure)
	assert.Equal(t, 9.8, first.Distance)
	assert.True(t, first.InJurisdiction)
	assert.Equal(t, "Mission Creek", first.Name)
	assert.Equal(t, "100-190442", first.Codes[hydro.AttrWatershedCode])
	assert.Equal(t, 1213005.0, first.X)

	assert.True(t, got[1].InJurisdiction, "missing flag defaults to inside")
	assert.Equal(t, "", got[1].Name)
}

func TestClient_NearestStreams_InvalidCRS(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.NearestStreams(context.Background(), hydro.InputPoint{CRS: "bogus"}, 100, 10)
	assert.True(t, errors.Is(err, hydro.ErrInvalidInputCRS))
}

func TestClient_Watershed(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/watershed/356308001", r.URL.Path)
		assert.Equal(t, "1520.5", r.URL.Query().Get("downstream_route_measure"))
		assert.Equal(t, "3005", r.URL.Query().Get("srid"))
		_, _ = w.Write([]byte(watershedBody))
	}))

	ws, err := c.Watershed(context.Background(), hydro.StreamReference{SegmentID: "356308001", Measure: 1520.5}, "EPSG:3005")
	require.NoError(t, err)
	assert.Equal(t, RefineDEM, ws.RefineMethod)
	assert.Equal(t, 100.0, ws.AreaHa)
	assert.Equal(t, "100-190442-244975", ws.Codes[hydro.AttrLocalCode])
	assert.InDelta(t, 1e6, ws.Geometry.Area(), 1e-6)
}

func TestClient_Watershed_Empty(t *testing.T) {
	for name, h := range map[string]http.Handler{
		"not found": http.NotFoundHandler(),
		"empty collection": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
		}),
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, h)
			_, err := c.Watershed(context.Background(), hydro.StreamReference{SegmentID: "1"}, "EPSG:3005")
			assert.True(t, errors.Is(err, hydro.ErrNoWatershedAvailable))
		})
	}
}

func TestClient_WatershedAreaFromGeometry(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[200,0],[200,100],[0,100],[0,0]]]},"properties":{}}`))
	}))
	ws, err := c.Watershed(context.Background(), hydro.StreamReference{SegmentID: "1"}, "EPSG:3005")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, ws.AreaHa, 1e-9)
	assert.Equal(t, "", ws.RefineMethod)
}

func TestClient_RefinementInputs(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/watershed_stream/9":
			_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[0,500]]},"properties":{}}]}`))
		case "/watershed_hex/9":
			_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[
			 {"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,10],[0,10],[0,0]]]},"properties":{}},
			 {"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[10,0],[20,0],[20,10],[10,10],[10,0]]]},"properties":{}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))

	ref := hydro.StreamReference{SegmentID: "9", Measure: 3}
	streams, err := c.WatershedStreams(context.Background(), ref, "EPSG:3005")
	require.NoError(t, err)
	assert.InDelta(t, 500, streams.Length(), 1e-9)

	hex, err := c.WatershedHex(context.Background(), ref, "EPSG:3005")
	require.NoError(t, err)
	assert.InDelta(t, 200, hex.Area(), 1e-9)
}
