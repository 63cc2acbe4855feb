package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/watershed/internal/continental"
	"github.com/fyrsmithlabs/watershed/internal/crs"
	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/vector"
)

// DefaultAreaFactor converts square kilometres to hectares.
const DefaultAreaFactor = 100.0

// SecondaryNetwork is the subset of the continental client used here.
type SecondaryNetwork interface {
	PointIndex(ctx context.Context, lon, lat, maxDistanceKm float64) (*continental.Index, error)
	Upstream(ctx context.Context, comID string, measure float64) (*continental.Delineation, error)
}

// SecondaryConfig configures the secondary provider.
type SecondaryConfig struct {
	// ToleranceKm is the point-indexing search radius.
	ToleranceKm float64
	// AreaFactor converts provider area units to hectares (default: 100).
	AreaFactor float64
}

// Secondary resolves points and watersheds on the continental network. It
// works in EPSG:4326 and converts to and from the caller's CRS.
type Secondary struct {
	net    SecondaryNetwork
	config SecondaryConfig
}

// NewSecondary creates the secondary provider.
func NewSecondary(net SecondaryNetwork, cfg SecondaryConfig) *Secondary {
	if cfg.AreaFactor == 0 {
		cfg.AreaFactor = DefaultAreaFactor
	}
	if cfg.ToleranceKm == 0 {
		cfg.ToleranceKm = 1
	}
	return &Secondary{net: net, config: cfg}
}

// IndexPoint snaps p to the secondary network and returns the snapped
// location in p's CRS.
func (s *Secondary) IndexPoint(ctx context.Context, p hydro.InputPoint) (hydro.StreamReference, error) {
	proj, err := crs.RequireProjected(p.CRS)
	if err != nil {
		return hydro.StreamReference{}, err
	}
	lon, lat, err := proj.ToGeographic(p.X, p.Y)
	if err != nil {
		return hydro.StreamReference{}, fmt.Errorf("failed to reproject %s to %s: %w", p.ID, crs.Format(crs.Geographic), err)
	}

	idx, err := s.net.PointIndex(ctx, lon, lat, s.config.ToleranceKm)
	if err != nil {
		return hydro.StreamReference{}, err
	}

	x, y, err := proj.FromGeographic(idx.Lon, idx.Lat)
	if err != nil {
		return hydro.StreamReference{}, fmt.Errorf("failed to reproject snapped point for %s: %w", p.ID, err)
	}
	ref := hydro.StreamReference{
		PointID:      p.ID,
		SegmentID:    idx.ComID,
		Measure:      idx.Measure,
		Distance:     idx.DistanceKm * 1000,
		Jurisdiction: hydro.JurisdictionSecondary,
		CRS:          p.CRS,
		X:            x,
		Y:            y,
	}
	if idx.ReachCode != "" {
		ref.Codes = map[string]string{"reachcode": idx.ReachCode}
	}
	return ref, nil
}

// Resolve implements WatershedProvider. Secondary watersheds are never
// refined.
func (s *Secondary) Resolve(ctx context.Context, ref hydro.StreamReference) (*hydro.WatershedPolygon, bool, error) {
	d, err := s.net.Upstream(ctx, ref.SegmentID, ref.Measure)
	if err != nil {
		return nil, false, err
	}

	proj, err := crs.RequireProjected(ref.CRS)
	if err != nil {
		return nil, false, err
	}
	projected, err := vector.Transform(d.Geometry, func(lon, lat float64) (float64, float64, error) {
		return proj.FromGeographic(lon, lat)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to reproject secondary watershed: %w", err)
	}
	geom, err := vector.Geom(json.RawMessage(projected))
	if err != nil {
		return nil, false, err
	}
	if geom.IsEmpty() {
		return nil, false, fmt.Errorf("secondary comid %s: %w", ref.SegmentID, hydro.ErrNoWatershedAvailable)
	}

	attrs := map[string]string{}
	for k, v := range ref.Codes {
		attrs[k] = v
	}
	return &hydro.WatershedPolygon{
		PointID:    ref.PointID,
		Provenance: hydro.ProvenanceSecondary,
		AreaHa:     d.AreaSqKm * s.config.AreaFactor,
		Geometry:   geom,
		Attributes: attrs,
	}, false, nil
}
