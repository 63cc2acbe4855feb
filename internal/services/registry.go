package services

import (
	"github.com/fyrsmithlabs/watershed/internal/continental"
	"github.com/fyrsmithlabs/watershed/internal/elevation"
	"github.com/fyrsmithlabs/watershed/internal/events"
	"github.com/fyrsmithlabs/watershed/internal/locator"
	"github.com/fyrsmithlabs/watershed/internal/merge"
	"github.com/fyrsmithlabs/watershed/internal/network"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"github.com/fyrsmithlabs/watershed/internal/provider"
	"github.com/fyrsmithlabs/watershed/internal/raster"
	"github.com/nats-io/nats.go"
)

// Registry provides access to the wired watershed stages.
// Use accessor methods to retrieve individual pieces.
type Registry interface {
	Primary() *network.Client
	// Secondary is nil when secondary.url is not configured.
	Secondary() *continental.Client
	// Elevation is nil when elevation.url is not configured.
	Elevation() *elevation.Client
	Locator() *locator.Locator
	Provider() *provider.Router
	// Refiner is nil when refinement is disabled.
	Refiner() *raster.Engine
	Merger() merge.Engine
	Sink() pipeline.Sink
	Events() *events.Registry
	Runner() *pipeline.Runner
	// Close releases connections held by the registry.
	Close() error
}

// Options configures the registry with already-built parts.
type Options struct {
	Primary   *network.Client
	Secondary *continental.Client
	Elevation *elevation.Client
	Locator   *locator.Locator
	Provider  *provider.Router
	Refiner   *raster.Engine
	Merger    merge.Engine
	Sink      pipeline.Sink
	Events    *events.Registry
	Runner    *pipeline.Runner

	// NATS is drained on Close when set.
	NATS *nats.Conn
	// Closers run on Close in reverse order.
	Closers []func()
}

// registry is the concrete implementation of Registry.
type registry struct {
	primary   *network.Client
	secondary *continental.Client
	elevation *elevation.Client
	locator   *locator.Locator
	provider  *provider.Router
	refiner   *raster.Engine
	merger    merge.Engine
	sink      pipeline.Sink
	events    *events.Registry
	runner    *pipeline.Runner

	nats    *nats.Conn
	closers []func()
}

// NewRegistry creates a registry from opts.
func NewRegistry(opts Options) Registry {
	return &registry{
		primary:   opts.Primary,
		secondary: opts.Secondary,
		elevation: opts.Elevation,
		locator:   opts.Locator,
		provider:  opts.Provider,
		refiner:   opts.Refiner,
		merger:    opts.Merger,
		sink:      opts.Sink,
		events:    opts.Events,
		runner:    opts.Runner,
		nats:      opts.NATS,
		closers:   opts.Closers,
	}
}

func (r *registry) Primary() *network.Client       { return r.primary }
func (r *registry) Secondary() *continental.Client { return r.secondary }
func (r *registry) Elevation() *elevation.Client   { return r.elevation }
func (r *registry) Locator() *locator.Locator      { return r.locator }
func (r *registry) Provider() *provider.Router     { return r.provider }
func (r *registry) Refiner() *raster.Engine        { return r.refiner }
func (r *registry) Merger() merge.Engine           { return r.merger }
func (r *registry) Sink() pipeline.Sink            { return r.sink }
func (r *registry) Events() *events.Registry       { return r.events }
func (r *registry) Runner() *pipeline.Runner       { return r.runner }

func (r *registry) Close() error {
	var err error
	if r.nats != nil {
		err = r.nats.Drain()
		r.nats = nil
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
	return err
}
