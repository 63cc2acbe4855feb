package vector

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
)

// Collection assembles merged results into a FeatureCollection.
func Collection(results []hydro.MergedResult, srs string) (*FeatureCollection, error) {
	fc := &FeatureCollection{Type: "FeatureCollection", CRS: NamedCRS(srs), Features: make([]Feature, 0, len(results))}
	for _, r := range results {
		if r.Geometry == nil {
			return nil, fmt.Errorf("result %s has no geometry", r.PointID)
		}
		props := map[string]any{
			"point_id":   r.PointID,
			"provenance": string(r.Provenance),
			"area_ha":    r.AreaHa,
		}
		for k, v := range r.Attributes {
			if _, taken := props[k]; !taken {
				props[k] = v
			}
		}
		fc.Features = append(fc.Features, Feature{
			Type:       "Feature",
			ID:         r.PointID,
			Geometry:   json.RawMessage(r.Geometry.ToGeoJSON(-1)),
			Properties: props,
		})
	}
	return fc, nil
}

// WriteResults writes one polygon feature per merged result.
func WriteResults(w io.Writer, results []hydro.MergedResult, srs string) error {
	fc, err := Collection(results, srs)
	if err != nil {
		return err
	}
	return encode(w, fc)
}

// WriteReferences writes the snapped stream location of each point.
func WriteReferences(w io.Writer, refs []hydro.StreamReference, srs string) error {
	fc := &FeatureCollection{Type: "FeatureCollection", CRS: NamedCRS(srs), Features: make([]Feature, 0, len(refs))}
	for _, ref := range refs {
		geom, err := json.Marshal(pointGeometry{Type: "Point", Coordinates: []float64{ref.X, ref.Y}})
		if err != nil {
			return err
		}
		props := map[string]any{
			"point_id":     ref.PointID,
			"segment_id":   ref.SegmentID,
			"measure":      ref.Measure,
			"distance":     ref.Distance,
			"jurisdiction": string(ref.Jurisdiction),
		}
		if ref.Name != "" {
			props["name"] = ref.Name
		}
		fc.Features = append(fc.Features, Feature{Type: "Feature", ID: ref.PointID, Geometry: geom, Properties: props})
	}
	return encode(w, fc)
}

func encode(w io.Writer, fc *FeatureCollection) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(fc); err != nil {
		return fmt.Errorf("failed to encode feature collection: %w", err)
	}
	return nil
}
