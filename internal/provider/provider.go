// Package provider fetches the watershed polygon for a resolved stream
// reference. Primary and Secondary variants implement WatershedProvider and a
// Router picks one by the reference's jurisdiction.
package provider

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fyrsmithlabs/watershed/internal/provider"

// WatershedProvider returns the upstream watershed for a stream reference and
// whether it must be refined against a DEM.
type WatershedProvider interface {
	Resolve(ctx context.Context, ref hydro.StreamReference) (*hydro.WatershedPolygon, bool, error)
}

// RefinementSource supplies the inputs needed to refine a coarse watershed.
type RefinementSource interface {
	RefinementJob(ctx context.Context, ref hydro.StreamReference, coarse *hydro.WatershedPolygon) (hydro.RefinementJob, error)
}

// Router dispatches to the provider for a reference's jurisdiction.
type Router struct {
	primary   WatershedProvider
	secondary WatershedProvider
	tracer    trace.Tracer
}

// NewRouter creates a Router. secondary may be nil.
func NewRouter(primary, secondary WatershedProvider) *Router {
	return &Router{primary: primary, secondary: secondary, tracer: otel.Tracer(instrumentationName)}
}

// Select returns the provider for ref.
func (r *Router) Select(ref hydro.StreamReference) (WatershedProvider, error) {
	switch ref.Jurisdiction {
	case hydro.JurisdictionPrimary:
		if r.primary == nil {
			return nil, fmt.Errorf("no primary provider configured")
		}
		return r.primary, nil
	case hydro.JurisdictionSecondary:
		if r.secondary == nil {
			return nil, fmt.Errorf("no secondary provider configured: %w", hydro.ErrNoWatershedAvailable)
		}
		return r.secondary, nil
	default:
		return nil, fmt.Errorf("point %s has no stream reference: %w", ref.PointID, hydro.ErrNoStreamFound)
	}
}

// Resolve implements WatershedProvider.
func (r *Router) Resolve(ctx context.Context, ref hydro.StreamReference) (*hydro.WatershedPolygon, bool, error) {
	ctx, span := r.tracer.Start(ctx, "provider.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("point.id", ref.PointID),
		attribute.String("jurisdiction", string(ref.Jurisdiction)),
	)

	p, err := r.Select(ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	ws, refine, err := p.Resolve(ctx, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("refine", refine), attribute.Float64("area_ha", ws.AreaHa))
	return ws, refine, nil
}

// RefinementJob forwards to the primary provider when it can supply
// refinement inputs.
func (r *Router) RefinementJob(ctx context.Context, ref hydro.StreamReference, coarse *hydro.WatershedPolygon) (hydro.RefinementJob, error) {
	src, ok := r.primary.(RefinementSource)
	if !ok || ref.Jurisdiction != hydro.JurisdictionPrimary {
		return hydro.RefinementJob{}, fmt.Errorf("no refinement inputs for %s references", ref.Jurisdiction)
	}
	return src.RefinementJob(ctx, ref, coarse)
}
