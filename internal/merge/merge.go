// Package merge dissolves per-point partial watershed polygons into one
// simple polygon per point.
//
// Every point's partials are unioned, passed through a pair of opposing
// buffers of width Epsilon and rebuilt from their exterior rings only, so
// results never carry interior holes.
package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/twpayne/go-geos"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/watershed/internal/merge"

// Order is the sequence of the two cleanup buffers.
type Order string

const (
	// OrderClose buffers out then in. It closes gaps between parts.
	OrderClose Order = "close"
	// OrderOpen buffers in then out. It removes overlaps and slivers.
	OrderOpen Order = "open"
)

// Config configures the merge stage.
type Config struct {
	// Epsilon is the cleanup buffer width in CRS units (default: 0.1).
	Epsilon float64
	// Order selects the buffer sequence (default: close).
	Order Order
	// QuadSegs is the number of segments per quarter circle used by the
	// buffers (default: 8).
	QuadSegs int
}

// DefaultConfig returns the stock merge settings.
func DefaultConfig() Config {
	return Config{Epsilon: 0.1, Order: OrderClose, QuadSegs: 8}
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Epsilon == 0 {
		c.Epsilon = d.Epsilon
	}
	if c.Order == "" {
		c.Order = d.Order
	}
	if c.QuadSegs == 0 {
		c.QuadSegs = d.QuadSegs
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Epsilon < 0 {
		return fmt.Errorf("merge epsilon must be non-negative, got %v", c.Epsilon)
	}
	switch c.Order {
	case OrderClose, OrderOpen:
	default:
		return fmt.Errorf("unknown buffer order %q", c.Order)
	}
	return nil
}

// Engine merges partial polygons into one result per point.
//
// A point whose partials cannot be merged is reported in the returned error
// (see Failed) and omitted from the results; every other point still gets
// exactly one result.
type Engine interface {
	Merge(ctx context.Context, partials []hydro.WatershedPolygon) ([]hydro.MergedResult, error)
}

// Merger is the in-process GEOS engine.
type Merger struct {
	config Config
	logger *zap.Logger
	tracer trace.Tracer
}

var _ Engine = (*Merger)(nil)

// New creates a GEOS merger.
func New(cfg Config, logger *zap.Logger) *Merger {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{config: cfg, logger: logger, tracer: otel.Tracer(instrumentationName)}
}

// Merge implements Engine. Results follow the order in which point ids first
// appear in partials.
func (m *Merger) Merge(ctx context.Context, partials []hydro.WatershedPolygon) ([]hydro.MergedResult, error) {
	ctx, span := m.tracer.Start(ctx, "merge.merge")
	defer span.End()

	ids, groups := Group(partials)
	span.SetAttributes(
		attribute.Int("partials", len(partials)),
		attribute.Int("points", len(ids)),
		attribute.String("order", string(m.config.Order)),
	)

	results := make([]hydro.MergedResult, 0, len(ids))
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return results, err
		}
		res, err := m.mergePoint(id, groups[id])
		if err != nil {
			m.logger.Warn("failed to merge point", zap.String("point.id", id), zap.Error(err))
			errs = append(errs, hydro.NewPointError(id, hydro.StageMerge, err))
			continue
		}
		results = append(results, res)
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "some points failed to merge")
		return results, err
	}
	return results, nil
}

func (m *Merger) mergePoint(id string, parts []hydro.WatershedPolygon) (hydro.MergedResult, error) {
	geoms := make([]*geos.Geom, 0, len(parts))
	for _, p := range parts {
		if p.Geometry == nil || p.Geometry.IsEmpty() {
			continue
		}
		g := p.Geometry.Clone()
		if !g.IsValid() {
			g = g.MakeValid()
		}
		geoms = append(geoms, g)
	}
	if len(geoms) == 0 {
		return hydro.MergedResult{}, fmt.Errorf("all %d partials are empty: %w", len(parts), hydro.ErrNoWatershedAvailable)
	}

	dissolved := geos.NewCollection(geos.TypeIDGeometryCollection, geoms).UnaryUnion()
	cleaned := Cleanup(dissolved, m.config)
	if cleaned == nil || cleaned.IsEmpty() {
		return hydro.MergedResult{}, errors.New("cleanup produced an empty polygon")
	}

	res := hydro.MergedResult{
		PointID:    id,
		Provenance: Provenance(parts),
		AreaHa:     Area(parts, cleaned),
		Geometry:   cleaned,
		Attributes: Attributes(parts),
	}
	m.logger.Debug("merged point",
		zap.String("point.id", id),
		zap.Int("partials", len(parts)),
		zap.String("provenance", string(res.Provenance)),
		zap.Float64("area_ha", res.AreaHa))
	return res, nil
}

// Group buckets partials by point id. ids lists each id once in order of
// first appearance.
func Group(partials []hydro.WatershedPolygon) (ids []string, groups map[string][]hydro.WatershedPolygon) {
	groups = make(map[string][]hydro.WatershedPolygon)
	for _, p := range partials {
		if _, ok := groups[p.PointID]; !ok {
			ids = append(ids, p.PointID)
		}
		groups[p.PointID] = append(groups[p.PointID], p)
	}
	return ids, groups
}

// Cleanup applies the two buffers in cfg.Order and rebuilds every polygonal
// part from its exterior ring. Non-polygonal parts are dropped.
func Cleanup(g *geos.Geom, cfg Config) *geos.Geom {
	if g == nil || g.IsEmpty() {
		return g
	}
	if cfg.QuadSegs == 0 {
		cfg.QuadSegs = 8
	}
	if eps := cfg.Epsilon; eps > 0 {
		if cfg.Order == OrderOpen {
			eps = -eps
		}
		g = g.Buffer(eps, cfg.QuadSegs).Buffer(-eps, cfg.QuadSegs)
	}
	return ExteriorOnly(g)
}

// ExteriorOnly rebuilds g from the exterior rings of its polygonal parts. A
// single part yields a Polygon, several a MultiPolygon.
func ExteriorOnly(g *geos.Geom) *geos.Geom {
	var polys []*geos.Geom
	collectShells(g, &polys)
	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0]
	default:
		return geos.NewCollection(geos.TypeIDMultiPolygon, polys)
	}
}

func collectShells(g *geos.Geom, out *[]*geos.Geom) {
	if g == nil || g.IsEmpty() {
		return
	}
	switch g.TypeID() {
	case geos.TypeIDPolygon:
		shell := g.ExteriorRing().CoordSeq().ToCoords()
		*out = append(*out, geos.NewPolygon([][][]float64{shell}))
	case geos.TypeIDMultiPolygon, geos.TypeIDGeometryCollection:
		for i := 0; i < g.NumGeometries(); i++ {
			collectShells(g.Geometry(i), out)
		}
	}
}

// Provenance picks the strongest provenance among parts: dem, then
// secondary, then network.
func Provenance(parts []hydro.WatershedPolygon) hydro.Provenance {
	best := hydro.ProvenanceNetwork
	for _, p := range parts {
		switch p.Provenance {
		case hydro.ProvenanceDEM:
			return hydro.ProvenanceDEM
		case hydro.ProvenanceSecondary:
			best = hydro.ProvenanceSecondary
		}
	}
	return best
}

// Attributes merges part attributes. Values from coarse (non-dem) parts win
// over values from refined parts.
func Attributes(parts []hydro.WatershedPolygon) map[string]string {
	out := make(map[string]string)
	for _, pass := range []bool{false, true} {
		for _, p := range parts {
			if (p.Provenance == hydro.ProvenanceDEM) != pass {
				continue
			}
			for k, v := range p.Attributes {
				if _, ok := out[k]; !ok {
					out[k] = v
				}
			}
		}
	}
	return out
}

// Area returns the area in hectares of a merged point. A point with a single
// part keeps the area its provider reported; otherwise the area is measured
// on the merged geometry, whose CRS is in metres.
func Area(parts []hydro.WatershedPolygon, merged *geos.Geom) float64 {
	if len(parts) == 1 && parts[0].AreaHa > 0 {
		return parts[0].AreaHa
	}
	return merged.Area() / 10000
}

// Failed returns the per-point failures carried by an error from Merge.
func Failed(err error) []*hydro.PointError {
	if err == nil {
		return nil
	}
	var out []*hydro.PointError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, Failed(e)...)
		}
		return out
	}
	var pe *hydro.PointError
	if errors.As(err, &pe) {
		out = append(out, pe)
	}
	return out
}
