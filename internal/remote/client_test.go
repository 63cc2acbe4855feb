package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(base string) Config {
	return Config{
		Service: "test",
		BaseURL: base,
		Retry: retry.Config{
			Attempts:       3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Timeout:        time.Second,
		},
		APIKey: "k",
	}
}

func TestClient_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/nearest_stream/1.5,2,3005", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("tolerance"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL + "/api/"))
	require.NoError(t, err)

	var out struct{ OK bool }
	found, err := c.GetJSON(context.Background(), c.URL(url.Values{"tolerance": {"100"}}, "nearest_stream", "1.5,2,3005"), &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, out.OK)
}

func TestClient_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	var out map[string]any
	found, err := c.GetJSON(context.Background(), c.URL(nil, "watershed", "1"), &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var observed error
	c, err := New(testConfig(srv.URL), WithObserver(func(service string, err error, _ time.Duration) {
		observed = err
	}))
	require.NoError(t, err)

	body, err := c.Get(context.Background(), c.URL(nil, "x"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
	assert.NoError(t, observed)
}

func TestClient_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Get(context.Background(), c.URL(nil, "x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, hydro.ErrExternalService))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_BadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Get(context.Background(), c.URL(nil, "x"))
	var se *retry.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{Service: "x"})
	assert.Error(t, err)
}

func TestClient_URL(t *testing.T) {
	c, err := New(Config{Service: "x", BaseURL: "http://h/base/"})
	require.NoError(t, err)
	assert.Equal(t, "http://h/base/watershed/12%2F3?srid=3005", c.URL(url.Values{"srid": {"3005"}}, "watershed", "12/3"))
}
