// Package workflows runs watershed batches as Temporal workflows.
//
// DelineateBatchWorkflow fans out one activity per point and finishes with a
// single merge activity. Geometries cross the activity boundary as GeoJSON.
package workflows

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
	"github.com/twpayne/go-geos"
)

// TaskQueue is the default task queue for watershed workers.
const TaskQueue = "watershed"

// BatchInput starts a batch workflow.
type BatchInput struct {
	BatchID string
	Points  []hydro.InputPoint
	// MaxConcurrent bounds point activities in flight (default: 8).
	MaxConcurrent int
	// PointTimeout is the StartToCloseTimeout of a point activity
	// (default: 5m).
	PointTimeout time.Duration
}

// Validate checks that all required fields are set.
func (in *BatchInput) Validate() error {
	if in.BatchID == "" {
		return errors.New("BatchID is required")
	}
	if len(in.Points) == 0 {
		return hydro.ErrEmptyBatch
	}
	if in.MaxConcurrent < 0 {
		return fmt.Errorf("MaxConcurrent must not be negative")
	}
	return nil
}

// ApplyDefaults fills zero-valued fields.
func (in *BatchInput) ApplyDefaults() {
	if in.MaxConcurrent == 0 {
		in.MaxConcurrent = 8
	}
	if in.PointTimeout == 0 {
		in.PointTimeout = 5 * time.Minute
	}
}

// PointInput is the input of DelineatePointActivity.
type PointInput struct {
	BatchID string
	Point   hydro.InputPoint
}

// Partial is a WatershedPolygon with its geometry encoded as GeoJSON.
type Partial struct {
	PointID    string
	Provenance hydro.Provenance
	AreaHa     float64
	GeoJSON    string
	Attributes map[string]string
}

// PointOutput is the result of DelineatePointActivity.
type PointOutput struct {
	Report   pipeline.PointReport
	Partials []Partial
}

// MergeInput is the input of MergeActivity.
type MergeInput struct {
	BatchID   string
	CRS       string
	StartedAt time.Time
	Reports   []pipeline.PointReport
	Partials  []Partial
}

// BatchResult is the workflow result. Results carry the merged polygons as
// GeoJSON in input order.
type BatchResult struct {
	Report  pipeline.Report
	Results []Partial
}

// encodePartials converts polygons for transport.
func encodePartials(polys []hydro.WatershedPolygon) []Partial {
	out := make([]Partial, 0, len(polys))
	for _, p := range polys {
		if p.Geometry == nil {
			continue
		}
		out = append(out, Partial{
			PointID:    p.PointID,
			Provenance: p.Provenance,
			AreaHa:     p.AreaHa,
			GeoJSON:    p.Geometry.ToGeoJSON(-1),
			Attributes: p.Attributes,
		})
	}
	return out
}

// decodePartials is the inverse of encodePartials.
func decodePartials(parts []Partial) ([]hydro.WatershedPolygon, error) {
	out := make([]hydro.WatershedPolygon, 0, len(parts))
	for _, p := range parts {
		g, err := geos.NewGeomFromGeoJSON(p.GeoJSON)
		if err != nil {
			return nil, fmt.Errorf("partial for %s: %w", p.PointID, err)
		}
		out = append(out, hydro.WatershedPolygon{
			PointID:    p.PointID,
			Provenance: p.Provenance,
			AreaHa:     p.AreaHa,
			Geometry:   g,
			Attributes: p.Attributes,
		})
	}
	return out, nil
}

func encodeResults(results []hydro.MergedResult) []Partial {
	out := make([]Partial, 0, len(results))
	for _, r := range results {
		out = append(out, Partial{
			PointID:    r.PointID,
			Provenance: r.Provenance,
			AreaHa:     r.AreaHa,
			GeoJSON:    r.Geometry.ToGeoJSON(-1),
			Attributes: r.Attributes,
		})
	}
	return out
}
