package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fyrsmithlabs/watershed/internal/config"
	"github.com/fyrsmithlabs/watershed/internal/continental"
	"github.com/fyrsmithlabs/watershed/internal/elevation"
	"github.com/fyrsmithlabs/watershed/internal/events"
	"github.com/fyrsmithlabs/watershed/internal/locator"
	"github.com/fyrsmithlabs/watershed/internal/logging"
	"github.com/fyrsmithlabs/watershed/internal/merge"
	"github.com/fyrsmithlabs/watershed/internal/network"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"github.com/fyrsmithlabs/watershed/internal/provider"
	"github.com/fyrsmithlabs/watershed/internal/raster"
	"github.com/fyrsmithlabs/watershed/internal/remote"
	"github.com/fyrsmithlabs/watershed/internal/retry"
	"github.com/fyrsmithlabs/watershed/internal/similarity"
	"github.com/fyrsmithlabs/watershed/internal/store"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// BuildOption adjusts how Build constructs the registry.
type BuildOption func(*buildOptions)

type buildOptions struct {
	userAgent  string
	httpClient *http.Client
	nats       *nats.Conn
}

// WithUserAgent sets the User-Agent sent to external services.
func WithUserAgent(ua string) BuildOption {
	return func(o *buildOptions) { o.userAgent = ua }
}

// WithHTTPClient replaces the http.Client of every external service client.
func WithHTTPClient(hc *http.Client) BuildOption {
	return func(o *buildOptions) { o.httpClient = hc }
}

// WithNATS publishes events on an existing connection instead of dialing
// events.nats_url. The caller keeps ownership of nc.
func WithNATS(nc *nats.Conn) BuildOption {
	return func(o *buildOptions) { o.nats = nc }
}

// Build wires every stage described by cfg. The primary service is
// required; the secondary service and DEM refinement are enabled by setting
// their URLs. On error every connection opened so far is released.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...BuildOption) (_ Registry, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &buildOptions{userAgent: "watershed"}
	for _, opt := range opts {
		opt(o)
	}

	var ro Options
	defer func() {
		if err != nil {
			_ = NewRegistry(ro).Close()
		}
	}()

	clientOpts := []remote.Option{
		remote.WithLogger(logger.Named("remote")),
		remote.WithObserver(pipeline.ObserveRequest),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, remote.WithHTTPClient(o.httpClient))
	}

	if cfg.Primary.URL == "" {
		return nil, errors.New("primary.url is required")
	}
	ro.Primary, err = network.New(remoteConfig("primary", cfg.Primary, cfg.Pipeline, o.userAgent), clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("primary client: %w", err)
	}
	primary := provider.NewPrimary(ro.Primary)

	// Interface values stay untyped nil when the secondary is disabled.
	var secondaryProvider provider.WatershedProvider
	var secondaryIndex locator.SecondaryIndexer
	if cfg.Secondary.URL != "" {
		ro.Secondary, err = continental.New(remoteConfig("secondary", cfg.Secondary.ServiceConfig, cfg.Pipeline, o.userAgent), clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("secondary client: %w", err)
		}
		sec := provider.NewSecondary(ro.Secondary, provider.SecondaryConfig{
			ToleranceKm: cfg.Secondary.ToleranceKm,
			AreaFactor:  cfg.Secondary.AreaFactor,
		})
		secondaryProvider, secondaryIndex = sec, sec
	}

	ro.Locator, err = locator.New(locator.Config{
		SecondaryFallback: cfg.Locator.SecondaryFallbackM,
		SecondarySearch:   cfg.Locator.SecondarySearchM,
		Weights: similarity.Weights{
			Name:          cfg.Locator.NameWeight,
			Distance:      cfg.Locator.DistanceWeight,
			CollapseAbove: cfg.Locator.NameCollapseThreshold,
		},
	}, ro.Primary, secondaryIndex, logger.Named("locator"))
	if err != nil {
		return nil, fmt.Errorf("locator: %w", err)
	}
	ro.Provider = provider.NewRouter(primary, secondaryProvider)

	deps := pipeline.Deps{
		Locator:  ro.Locator,
		Provider: ro.Provider,
	}
	if cfg.Elevation.URL != "" {
		ro.Elevation, err = elevation.New(remoteConfig("elevation", cfg.Elevation.ServiceConfig, cfg.Pipeline, o.userAgent), cfg.Elevation.Coverage, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("elevation client: %w", err)
		}
		ro.Refiner = raster.NewEngine(raster.Config{
			FillDepth:         cfg.Refinement.FillDepth,
			SimplifyTolerance: cfg.Refinement.SimplifyTolerance,
		}, logger.Named("raster"))
		deps.DEM, deps.Refiner = ro.Elevation, ro.Refiner
	}

	if err := buildOutputs(ctx, cfg, logger, &ro); err != nil {
		return nil, err
	}
	deps.Merger, deps.Sink = ro.Merger, ro.Sink

	nc := o.nats
	if nc == nil && cfg.Events.NATSURL != "" {
		nc, err = nats.Connect(cfg.Events.NATSURL, nats.Name("watershed"))
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		ro.NATS = nc
	}
	ro.Events = events.NewRegistry(nc, logger.Named("events"))
	if ttl := cfg.Events.TTL.Duration(); ttl > 0 {
		ro.Events.SetTTL(ttl)
	}
	deps.Observer = ro.Events

	ro.Runner, err = pipeline.New(pipeline.Config{
		Concurrency:    cfg.Pipeline.Concurrency,
		Tolerance:      cfg.Locator.ToleranceM,
		CandidateLimit: cfg.Locator.CandidateLimit,
		DEMResolution:  cfg.Elevation.Resolution,
		DEMBuffer:      cfg.Elevation.BBoxBuffer,
		PointTimeout:   cfg.Pipeline.PointTimeout.Duration(),
		WorkspaceRoot:  cfg.Workspace.Root,
		KeepWorkspace:  cfg.Workspace.Keep,
	}, deps, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	logger.Info("services built",
		zap.String("primary", config.RedactURL(cfg.Primary.URL)),
		logging.Secret("primary.api_key", cfg.Primary.APIKey),
		zap.Bool("secondary", ro.Secondary != nil),
		zap.Bool("refinement", ro.Refiner != nil),
		zap.String("merge.engine", cfg.Merge.Engine),
		zap.String("store.kind", cfg.Store.Kind),
		zap.Bool("nats", nc != nil))

	return NewRegistry(ro), nil
}

// buildOutputs selects the merge engine and result sinks. One PostGIS pool
// serves both roles when both are configured.
func buildOutputs(ctx context.Context, cfg *config.Config, logger *zap.Logger, ro *Options) error {
	mergeCfg := merge.Config{
		Epsilon:  cfg.Merge.Epsilon,
		Order:    merge.Order(cfg.Merge.Order),
		QuadSegs: cfg.Merge.QuadSegs,
	}

	var pg *store.PostGIS
	if cfg.Merge.Engine == config.EnginePostGIS || cfg.Store.Kind == config.StorePostGIS {
		var err error
		pg, err = store.NewPostGIS(ctx, store.PostGISConfig{
			DSN:         cfg.Store.DSN.Value(),
			Schema:      cfg.Store.Schema,
			TablePrefix: cfg.Store.TablePrefix,
			MaxConns:    int32(cfg.Store.MaxConns),
		}, mergeCfg, logger.Named("postgis"))
		if err != nil {
			return fmt.Errorf("postgis: %w", err)
		}
		ro.Closers = append(ro.Closers, pg.Close)
	}

	if cfg.Merge.Engine == config.EnginePostGIS {
		ro.Merger = pg
	} else {
		ro.Merger = merge.New(mergeCfg, logger.Named("merge"))
	}

	file, err := store.NewFile(cfg.Store.Dir, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("file store: %w", err)
	}
	if cfg.Store.Kind == config.StorePostGIS {
		ro.Sink = store.Multi{pg, file}
	} else {
		ro.Sink = file
	}
	return nil
}

func remoteConfig(service string, sc config.ServiceConfig, pc config.PipelineConfig, userAgent string) remote.Config {
	return remote.Config{
		Service:       service,
		BaseURL:       sc.URL,
		RatePerSecond: sc.RatePerSec,
		Burst:         sc.Burst,
		APIKey:        sc.APIKey.Value(),
		UserAgent:     userAgent,
		Retry: retry.Config{
			Attempts:       pc.Attempts,
			InitialBackoff: pc.InitialBackoff.Duration(),
			MaxBackoff:     pc.MaxBackoff.Duration(),
			Timeout:        sc.Timeout.Duration(),
		},
	}
}
