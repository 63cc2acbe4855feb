package vector

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
)

// PointOptions controls how an input point dataset is read.
type PointOptions struct {
	// IDField names the unique identifier property. Empty means the feature id.
	IDField string
	// NameField names the optional stream-name property.
	NameField string
	// CRS is used when the dataset carries no crs member.
	CRS string
}

type pointGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// ReadPoints loads input points from a GeoJSON FeatureCollection. Every
// feature must be a Point with a unique identifier.
func ReadPoints(r io.Reader, opts PointOptions) ([]hydro.InputPoint, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read points: %w", err)
	}
	fc, err := DecodeCollection(data)
	if err != nil {
		return nil, err
	}

	srs := fc.CRS.EPSG()
	if srs == "" {
		srs = opts.CRS
	}

	seen := make(map[string]int, len(fc.Features))
	points := make([]hydro.InputPoint, 0, len(fc.Features))
	for i, f := range fc.Features {
		var id string
		var ok bool
		if opts.IDField != "" {
			id, ok = String(f.Properties, opts.IDField)
		} else if f.ID != nil {
			id, ok = String(map[string]any{"id": f.ID}, "id")
		}
		if !ok || id == "" {
			return nil, fmt.Errorf("feature %d: missing identifier %q", i, opts.IDField)
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %q at features %d and %d", hydro.ErrDuplicatePoint, id, prev, i)
		}
		seen[id] = i

		var g pointGeometry
		if err := json.Unmarshal(f.Geometry, &g); err != nil {
			return nil, fmt.Errorf("feature %s: invalid geometry: %w", id, err)
		}
		if g.Type != "Point" || len(g.Coordinates) < 2 {
			return nil, fmt.Errorf("feature %s: expected Point geometry, got %q", id, g.Type)
		}

		p := hydro.InputPoint{ID: id, X: g.Coordinates[0], Y: g.Coordinates[1], CRS: srs}
		if opts.NameField != "" {
			p.Name, _ = String(f.Properties, opts.NameField)
		}
		points = append(points, p)
	}
	return points, nil
}
