package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/network"
	"github.com/twpayne/go-geos"
)

// PrimaryNetwork is the subset of the primary network client used here.
type PrimaryNetwork interface {
	Watershed(ctx context.Context, ref hydro.StreamReference, srs string) (*network.Watershed, error)
	WatershedStreams(ctx context.Context, ref hydro.StreamReference, srs string) (*geos.Geom, error)
	WatershedHex(ctx context.Context, ref hydro.StreamReference, srs string) (*geos.Geom, error)
}

// Primary resolves watersheds on the primary hydrography network.
type Primary struct {
	net PrimaryNetwork
}

// NewPrimary creates the primary provider.
func NewPrimary(net PrimaryNetwork) *Primary {
	return &Primary{net: net}
}

// Resolve implements WatershedProvider. The watershed needs refinement when
// the service reports refine_method DEM.
func (p *Primary) Resolve(ctx context.Context, ref hydro.StreamReference) (*hydro.WatershedPolygon, bool, error) {
	ws, err := p.net.Watershed(ctx, ref, ref.CRS)
	if err != nil {
		return nil, false, err
	}

	attrs := make(map[string]string, len(ws.Codes)+1)
	for k, v := range ws.Codes {
		attrs[k] = v
	}
	if ws.RefineMethod != "" {
		attrs[hydro.AttrRefineMethod] = ws.RefineMethod
	}
	poly := &hydro.WatershedPolygon{
		PointID:    ref.PointID,
		Provenance: hydro.ProvenanceNetwork,
		AreaHa:     ws.AreaHa,
		Geometry:   ws.Geometry,
		Attributes: attrs,
	}
	return poly, strings.EqualFold(ws.RefineMethod, network.RefineDEM), nil
}

// RefinementJob fetches the hex-grid extent and pour-point streams for a
// coarse watershed. Without a hex grid the coarse polygon is the extent.
func (p *Primary) RefinementJob(ctx context.Context, ref hydro.StreamReference, coarse *hydro.WatershedPolygon) (hydro.RefinementJob, error) {
	streams, err := p.net.WatershedStreams(ctx, ref, ref.CRS)
	if err != nil {
		return hydro.RefinementJob{}, fmt.Errorf("failed to fetch pour-point streams: %w", err)
	}
	if streams == nil || streams.IsEmpty() {
		return hydro.RefinementJob{}, fmt.Errorf("no pour-point streams for segment %s: %w", ref.SegmentID, hydro.ErrRefinementFailed)
	}

	extent, err := p.net.WatershedHex(ctx, ref, ref.CRS)
	if err != nil {
		return hydro.RefinementJob{}, fmt.Errorf("failed to fetch refinement extent: %w", err)
	}
	if extent == nil || extent.IsEmpty() {
		if coarse == nil || coarse.Geometry == nil {
			return hydro.RefinementJob{}, fmt.Errorf("no refinement extent for segment %s: %w", ref.SegmentID, hydro.ErrRefinementFailed)
		}
		extent = coarse.Geometry
	}
	return hydro.RefinementJob{PointID: ref.PointID, Extent: extent, Streams: streams}, nil
}
