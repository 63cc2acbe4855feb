package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/watershed/internal/config"
	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/logging"
	"github.com/fyrsmithlabs/watershed/internal/merge"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"github.com/fyrsmithlabs/watershed/internal/store"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// emptyNetwork answers every request with an empty FeatureCollection.
func emptyNetwork(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testConfig(t *testing.T, primaryURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Primary.URL = primaryURL
	cfg.Store.Dir = filepath.Join(t.TempDir(), "out")
	cfg.Workspace.Root = t.TempDir()
	cfg.Pipeline.Attempts = 1
	return cfg
}

func TestBuild_PrimaryOnly(t *testing.T) {
	srv, _ := emptyNetwork(t)
	cfg := testConfig(t, srv.URL)

	reg, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	assert.NotNil(t, reg.Primary())
	assert.Nil(t, reg.Secondary())
	assert.Nil(t, reg.Elevation())
	assert.Nil(t, reg.Refiner())
	assert.NotNil(t, reg.Locator())
	assert.NotNil(t, reg.Provider())
	assert.NotNil(t, reg.Events())
	assert.NotNil(t, reg.Runner())
	assert.IsType(t, &merge.Merger{}, reg.Merger())
	assert.IsType(t, &store.File{}, reg.Sink())

	_, err = os.Stat(cfg.Store.Dir)
	assert.NoError(t, err, "file store creates its directory")
}

func TestBuild_AllServices(t *testing.T) {
	srv, _ := emptyNetwork(t)
	cfg := testConfig(t, srv.URL)
	cfg.Secondary.URL = srv.URL + "/nldi"
	cfg.Elevation.URL = srv.URL + "/wcs"
	cfg.Elevation.Coverage = "dem"

	reg, err := Build(context.Background(), cfg, nil, WithUserAgent("watershed/test"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	assert.NotNil(t, reg.Secondary())
	assert.NotNil(t, reg.Elevation())
	assert.NotNil(t, reg.Refiner())
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(context.Background(), nil, nil)
	assert.Error(t, err)

	cfg := testConfig(t, "")
	_, err = Build(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary.url is required")

	cfg = testConfig(t, "http://127.0.0.1:1")
	cfg.Store.Dir = "out/../../etc"
	_, err = Build(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file store")

	cfg = testConfig(t, "http://127.0.0.1:1")
	cfg.Events.NATSURL = "nats://127.0.0.1:1"
	_, err = Build(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats")
}

func TestBuild_PostGISUnreachable(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Store.Kind = config.StorePostGIS
	cfg.Store.DSN = "postgres://wsd:pw@127.0.0.1:1/wsd?connect_timeout=1"

	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgis")
}

func TestBuild_RunsBatch(t *testing.T) {
	srv, hits := emptyNetwork(t)
	cfg := testConfig(t, srv.URL)

	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true}
	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "NATS server not ready")
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	cfg.Events.NATSURL = ns.ClientURL()

	reg, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	report, err := reg.Runner().Run(context.Background(), pipeline.Batch{
		ID:     "b1",
		Points: []hydro.InputPoint{{ID: "p1", X: 1200000, Y: 600000, CRS: "EPSG:3005"}},
	})
	require.NoError(t, err)
	require.Len(t, report.Points, 1)
	assert.Equal(t, pipeline.OutcomeUnresolved, report.Points[0].Outcome)
	assert.Positive(t, hits.Load())

	state, ok := reg.Events().Get("b1")
	require.True(t, ok)
	assert.True(t, state.Done())

	file := reg.Sink().(*store.File)
	_, err = os.Stat(file.Path("b1"))
	assert.NoError(t, err)
}

func TestBuild_LogsWithoutSecrets(t *testing.T) {
	srv, _ := emptyNetwork(t)
	cfg := testConfig(t, strings.Replace(srv.URL, "http://", "http://wsd:hunter2@", 1))
	cfg.Primary.APIKey = "k-123456"

	tl := logging.NewTestLogger()
	reg, err := Build(context.Background(), cfg, tl.Underlying())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	tl.AssertLogged(t, zapcore.InfoLevel, "services built")
	tl.AssertField(t, "services built", "primary", strings.Replace(srv.URL, "http://", "http://wsd:xxxxx@", 1))
	tl.AssertNoSecrets(t)
	for _, e := range tl.All() {
		for _, f := range e.Context {
			assert.NotContains(t, f.String, "hunter2", f.Key)
			assert.NotContains(t, f.String, "k-123456", f.Key)
		}
	}
}
