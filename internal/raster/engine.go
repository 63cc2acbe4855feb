package raster

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

const instrumentationName = "github.com/fyrsmithlabs/watershed/internal/raster"

// Config configures refinement.
type Config struct {
	// FillDepth is the deepest depression, in elevation units, that is filled
	// before flow routing (default: 100).
	FillDepth float64

	// SimplifyTolerance is the topology-preserving simplification distance
	// applied to the vectorised polygon. Zero uses half the cell size.
	SimplifyTolerance float64
}

// DefaultConfig returns the stock refinement settings.
func DefaultConfig() Config {
	return Config{FillDepth: 100}
}

// Engine refines coarse watersheds against an elevation raster.
type Engine struct {
	config Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewEngine creates a refinement engine.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{config: cfg, logger: logger, tracer: otel.Tracer(instrumentationName)}
}

// Refine computes the part of job.Extent that drains to job.Streams over dem.
// It returns a nil geometry, and no error, when no cell reaches a stream: the
// caller keeps the coarse polygon in that case.
func (e *Engine) Refine(ctx context.Context, job hydro.RefinementJob, dem *Grid) (*geos.Geom, error) {
	ctx, span := e.tracer.Start(ctx, "raster.refine")
	defer span.End()
	span.SetAttributes(attribute.String("point.id", job.PointID))

	geom, err := e.refine(ctx, job, dem)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("refined", geom != nil))
	return geom, nil
}

func (e *Engine) refine(ctx context.Context, job hydro.RefinementJob, dem *Grid) (*geos.Geom, error) {
	if job.Extent == nil || job.Extent.IsEmpty() {
		return nil, errors.New("refinement extent is empty")
	}
	if dem == nil {
		return nil, errors.New("elevation raster is required")
	}

	extent := job.Extent.UnaryUnion()
	b := extent.Bounds()
	win, err := dem.Window(b.MinX, b.MinY, b.MaxX, b.MaxY)
	if err != nil {
		e.logger.Warn("extent outside elevation raster", zap.String("point_id", job.PointID), zap.Error(err))
		return nil, nil
	}
	ApplyMask(win, Mask(win, extent))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filled := Fill(win, e.config.FillDepth)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flow := FlowDirection(filled)

	seeds := RasterizeLines(filled, job.Streams)
	labels := Watershed(flow, seeds)
	cells := Count(labels)
	e.logger.Debug("watershed flood-fill complete",
		zap.String("point_id", job.PointID),
		zap.Int("cols", win.Cols),
		zap.Int("rows", win.Rows),
		zap.Int("seed_cells", Count(seeds)),
		zap.Int("cells", cells),
	)
	if cells == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	poly, err := Polygonize(win, labels)
	if err != nil {
		return nil, fmt.Errorf("failed to vectorize watershed: %w", err)
	}
	tol := e.config.SimplifyTolerance
	if tol <= 0 {
		tol = win.CellSize / 2
	}
	poly = poly.TopologyPreserveSimplify(tol).Intersection(extent)
	if poly.IsEmpty() {
		return nil, nil
	}
	return poly, nil
}
