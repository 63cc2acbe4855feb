// Package config loads the watershed configuration.
//
// Configuration is read from a YAML file and overridden by WSD_ environment
// variables. Sections map onto the pipeline stages, the external services
// and the outer surfaces (HTTP API, NATS, Temporal).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
)

// Config holds the complete watershed configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	Locator       LocatorConfig       `koanf:"locator"`
	Primary       ServiceConfig       `koanf:"primary"`
	Secondary     SecondaryConfig     `koanf:"secondary"`
	Elevation     ElevationConfig     `koanf:"elevation"`
	Refinement    RefinementConfig    `koanf:"refinement"`
	Merge         MergeConfig         `koanf:"merge"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Workspace     WorkspaceConfig     `koanf:"workspace"`
	Store         StoreConfig         `koanf:"store"`
	Events        EventsConfig        `koanf:"events"`
	Temporal      TemporalConfig      `koanf:"temporal"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	BodyLimit       string        `koanf:"body_limit"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Sampling bool   `koanf:"sampling"`
	OTEL     bool   `koanf:"otel"`
}

// LocatorConfig configures nearest-stream search and disambiguation.
type LocatorConfig struct {
	ToleranceM            float64 `koanf:"tolerance_m"`
	CandidateLimit        int     `koanf:"candidate_limit"`
	SecondaryFallbackM    float64 `koanf:"secondary_fallback_m"`
	SecondarySearchM      float64 `koanf:"secondary_search_m"`
	NameWeight            float64 `koanf:"name_weight"`
	DistanceWeight        float64 `koanf:"distance_weight"`
	NameCollapseThreshold float64 `koanf:"name_collapse_threshold"`
}

// ServiceConfig configures a remote HTTP service.
type ServiceConfig struct {
	URL        string   `koanf:"url"`
	APIKey     Secret   `koanf:"api_key"`
	Timeout    Duration `koanf:"timeout"`
	RatePerSec float64  `koanf:"rate_per_sec"`
	Burst      int      `koanf:"burst"`
}

// SecondaryConfig configures the secondary (continental) network service.
type SecondaryConfig struct {
	ServiceConfig `koanf:",squash"`
	ToleranceKm   float64 `koanf:"tolerance_km"`
	AreaFactor    float64 `koanf:"area_factor"`
}

// ElevationConfig configures the elevation raster source.
type ElevationConfig struct {
	ServiceConfig `koanf:",squash"`
	Coverage      string  `koanf:"coverage"`
	Resolution    float64 `koanf:"resolution"`
	BBoxBuffer    float64 `koanf:"bbox_buffer"`
}

// RefinementConfig configures DEM refinement. Points are refined only when
// elevation.url is set.
type RefinementConfig struct {
	FillDepth         float64 `koanf:"fill_depth"`
	SimplifyTolerance float64 `koanf:"simplify_tolerance"`
}

// MergeConfig configures the merge and cleanup stage.
type MergeConfig struct {
	Epsilon  float64 `koanf:"epsilon"`
	Order    string  `koanf:"order"`
	QuadSegs int     `koanf:"quad_segs"`
	Engine   string  `koanf:"engine"`
}

// PipelineConfig configures the per-point worker pool and retries.
type PipelineConfig struct {
	Concurrency    int      `koanf:"concurrency"`
	Attempts       int      `koanf:"attempts"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
	PointTimeout   Duration `koanf:"point_timeout"`
}

// WorkspaceConfig configures batch scratch directories.
type WorkspaceConfig struct {
	Root string `koanf:"root"`
	Keep bool   `koanf:"keep"`
}

// StoreConfig selects where merged results are written.
type StoreConfig struct {
	Kind        string `koanf:"kind"`
	Dir         string `koanf:"dir"`
	DSN         Secret `koanf:"dsn"`
	Schema      string `koanf:"schema"`
	TablePrefix string `koanf:"table_prefix"`
	MaxConns    int    `koanf:"max_conns"`
}

// EventsConfig configures progress events. Events are published only when
// NATSURL is set.
type EventsConfig struct {
	NATSURL string   `koanf:"nats_url"`
	TTL     Duration `koanf:"ttl"`
}

// TemporalConfig configures durable execution. Batches run in-process unless
// HostPort is set.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
	Worker    bool   `koanf:"worker"`
}

// Merge engines and store kinds.
const (
	EngineGEOS    = "geos"
	EnginePostGIS = "postgis"

	StoreGeoJSON = "geojson"
	StorePostGIS = "postgis"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.BodyLimit == "" {
		cfg.Server.BodyLimit = "10M"
	}

	// Observability defaults
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "watershed"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Locator defaults
	l := &cfg.Locator
	if l.ToleranceM == 0 {
		l.ToleranceM = 100
	}
	if l.CandidateLimit == 0 {
		l.CandidateLimit = 10
	}
	if l.SecondaryFallbackM == 0 {
		l.SecondaryFallbackM = 150
	}
	if l.SecondarySearchM == 0 {
		l.SecondarySearchM = 500
	}
	if l.NameWeight == 0 && l.DistanceWeight == 0 {
		l.NameWeight, l.DistanceWeight = 0.8, 0.2
	}
	if l.NameCollapseThreshold == 0 {
		l.NameCollapseThreshold = 0.3
	}

	// External services
	if cfg.Elevation.Timeout == 0 {
		cfg.Elevation.Timeout = Duration(2 * time.Minute)
	}
	for _, s := range []*ServiceConfig{&cfg.Primary, &cfg.Secondary.ServiceConfig, &cfg.Elevation.ServiceConfig} {
		if s.Timeout == 0 {
			s.Timeout = Duration(30 * time.Second)
		}
		if s.RatePerSec == 0 {
			s.RatePerSec = 10
		}
		if s.Burst == 0 {
			s.Burst = 5
		}
	}
	if cfg.Secondary.ToleranceKm == 0 {
		cfg.Secondary.ToleranceKm = 5
	}
	if cfg.Secondary.AreaFactor == 0 {
		cfg.Secondary.AreaFactor = 100
	}
	if cfg.Elevation.Resolution == 0 {
		cfg.Elevation.Resolution = 25
	}
	if cfg.Elevation.BBoxBuffer == 0 {
		cfg.Elevation.BBoxBuffer = 250
	}

	if cfg.Refinement.FillDepth == 0 {
		cfg.Refinement.FillDepth = 100
	}

	// Merge defaults
	if cfg.Merge.Epsilon == 0 {
		cfg.Merge.Epsilon = 0.1
	}
	if cfg.Merge.Order == "" {
		cfg.Merge.Order = "close"
	}
	if cfg.Merge.QuadSegs == 0 {
		cfg.Merge.QuadSegs = 8
	}
	if cfg.Merge.Engine == "" {
		cfg.Merge.Engine = EngineGEOS
	}

	// Pipeline defaults
	p := &cfg.Pipeline
	if p.Concurrency == 0 {
		p.Concurrency = 8
	}
	if p.Attempts == 0 {
		p.Attempts = 3
	}
	if p.InitialBackoff == 0 {
		p.InitialBackoff = Duration(time.Second)
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = Duration(30 * time.Second)
	}
	if p.PointTimeout == 0 {
		p.PointTimeout = Duration(5 * time.Minute)
	}

	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = os.TempDir()
	}

	// Store defaults
	if cfg.Store.Kind == "" {
		cfg.Store.Kind = StoreGeoJSON
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "output"
	}
	if cfg.Store.Schema == "" {
		cfg.Store.Schema = "public"
	}
	if cfg.Store.TablePrefix == "" {
		cfg.Store.TablePrefix = "wsd_"
	}
	if cfg.Store.MaxConns == 0 {
		cfg.Store.MaxConns = 4
	}

	if cfg.Events.TTL == 0 {
		cfg.Events.TTL = Duration(time.Hour)
	}

	// Temporal defaults
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "watershed"
	}
}

// hostPattern matches host:port pairs without shell metacharacters.
var hostPattern = regexp.MustCompile(`^[A-Za-z0-9.\-\[\]:]+$`)

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	// Validate observability configuration
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be within [0, 1], got %v", c.Observability.SampleRate)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	l := c.Locator
	if l.ToleranceM <= 0 {
		return fmt.Errorf("locator.tolerance_m must be positive, got %v", l.ToleranceM)
	}
	if c.Secondary.URL != "" && l.SecondarySearchM <= l.SecondaryFallbackM {
		return fmt.Errorf("locator.secondary_search_m (%v) must exceed locator.secondary_fallback_m (%v) when a secondary network is configured",
			l.SecondarySearchM, l.SecondaryFallbackM)
	}
	if l.CandidateLimit < 1 {
		return fmt.Errorf("locator.candidate_limit must be at least 1, got %d", l.CandidateLimit)
	}
	if l.NameWeight < 0 || l.DistanceWeight < 0 || l.NameWeight+l.DistanceWeight == 0 {
		return errors.New("locator weights must be non-negative and not both zero")
	}
	if l.NameCollapseThreshold < 0 || l.NameCollapseThreshold > 1 {
		return fmt.Errorf("locator.name_collapse_threshold must be within [0, 1], got %v", l.NameCollapseThreshold)
	}

	if err := c.Primary.validate("primary"); err != nil {
		return err
	}
	if err := c.Secondary.validate("secondary"); err != nil {
		return err
	}
	if err := c.Elevation.validate("elevation"); err != nil {
		return err
	}
	if c.Elevation.Resolution <= 0 {
		return fmt.Errorf("elevation.resolution must be positive, got %v", c.Elevation.Resolution)
	}
	if c.Elevation.BBoxBuffer < 0 {
		return fmt.Errorf("elevation.bbox_buffer must not be negative, got %v", c.Elevation.BBoxBuffer)
	}

	if c.Merge.Epsilon < 0 {
		return fmt.Errorf("merge.epsilon must not be negative, got %v", c.Merge.Epsilon)
	}
	switch c.Merge.Order {
	case "close", "open":
	default:
		return fmt.Errorf("merge.order must be close or open, got %q", c.Merge.Order)
	}
	switch c.Merge.Engine {
	case EngineGEOS:
	case EnginePostGIS:
		if !c.Store.DSN.IsSet() {
			return errors.New("merge.engine postgis requires store.dsn")
		}
	default:
		return fmt.Errorf("merge.engine must be geos or postgis, got %q", c.Merge.Engine)
	}

	p := c.Pipeline
	if p.Concurrency < 1 {
		return fmt.Errorf("pipeline.concurrency must be at least 1, got %d", p.Concurrency)
	}
	if p.Attempts < 1 {
		return fmt.Errorf("pipeline.attempts must be at least 1, got %d", p.Attempts)
	}
	if p.MaxBackoff < p.InitialBackoff {
		return errors.New("pipeline.max_backoff must not be less than initial_backoff")
	}

	if strings.Contains(c.Workspace.Root, "..") || strings.Contains(c.Store.Dir, "..") {
		return errors.New("workspace.root and store.dir must not contain '..'")
	}
	switch c.Store.Kind {
	case StoreGeoJSON:
	case StorePostGIS:
		if !c.Store.DSN.IsSet() {
			return errors.New("store.kind postgis requires store.dsn")
		}
	default:
		return fmt.Errorf("store.kind must be geojson or postgis, got %q", c.Store.Kind)
	}

	if c.Events.NATSURL != "" {
		if err := validateURL("events.nats_url", c.Events.NATSURL, "nats", "tls"); err != nil {
			return err
		}
	}
	if c.Temporal.HostPort != "" && !hostPattern.MatchString(c.Temporal.HostPort) {
		return fmt.Errorf("invalid temporal.host_port: %q", c.Temporal.HostPort)
	}
	return nil
}

// validate checks a service section. An empty URL disables the service.
func (s ServiceConfig) validate(section string) error {
	if s.URL == "" {
		return nil
	}
	if err := validateURL(section+".url", s.URL, "http", "https"); err != nil {
		return err
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("%s.timeout must be positive", section)
	}
	if s.RatePerSec < 0 || s.Burst < 0 {
		return fmt.Errorf("%s rate limits must not be negative", section)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q: scheme must be one of %s", field, raw, strings.Join(schemes, ", "))
}
