// Package hydro defines the data model shared by every stage of watershed
// delineation: input points, stream references, watershed polygons and the
// merged per-point results.
package hydro

import (
	"github.com/twpayne/go-geos"
)

// Jurisdiction records which network a StreamReference was resolved on.
type Jurisdiction string

const (
	JurisdictionPrimary    Jurisdiction = "primary"
	JurisdictionSecondary  Jurisdiction = "secondary"
	JurisdictionUnresolved Jurisdiction = "unresolved"
)

// Provenance tags how a watershed polygon was produced.
type Provenance string

const (
	ProvenanceNetwork   Provenance = "network"
	ProvenanceDEM       Provenance = "dem"
	ProvenanceSecondary Provenance = "secondary"
)

// Attribute keys carried from the coarse polygon onto refined polygons.
const (
	AttrWatershedCode = "wscode"
	AttrLocalCode     = "localcode"
	AttrRefineMethod  = "refine_method"
)

// InputPoint is a caller-supplied location to delineate. It is immutable once
// loaded.
type InputPoint struct {
	ID   string  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	CRS  string  `json:"crs"`
	Name string  `json:"name,omitempty"`
}

// HasName reports whether the point carries a name usable for disambiguation.
func (p InputPoint) HasName() bool {
	return p.Name != ""
}

// StreamReference is a resolved location on a stream network.
type StreamReference struct {
	PointID      string       `json:"point_id"`
	SegmentID    string       `json:"segment_id"`
	Measure      float64      `json:"measure"`
	Distance     float64      `json:"distance"`
	Jurisdiction Jurisdiction `json:"jurisdiction"`
	Name         string       `json:"name,omitempty"`
	// X and Y are the snapped location in CRS, the input point's CRS.
	CRS       string            `json:"crs"`
	X         float64           `json:"x"`
	Y         float64           `json:"y"`
	Ambiguous bool              `json:"ambiguous,omitempty"`
	Codes     map[string]string `json:"codes,omitempty"`
}

// Candidate is one stream segment returned by a nearest-stream query.
type Candidate struct {
	SegmentID      string
	Measure        float64
	Distance       float64
	InJurisdiction bool
	Name           string
	X              float64
	Y              float64
	Codes          map[string]string
}

// CandidateMatch is a scored candidate. It only exists during disambiguation.
type CandidateMatch struct {
	Candidate     Candidate
	NameScore     float64
	DistanceScore float64
	Rank          float64
}

// WatershedPolygon is one partial polygon for a point.
type WatershedPolygon struct {
	PointID    string
	Provenance Provenance
	// AreaHa is the area in hectares as reported by the provider, or computed
	// from the geometry when the provider does not report one.
	AreaHa     float64
	Geometry   *geos.Geom
	Attributes map[string]string
}

// Inherit copies the identifier and jurisdiction codes of coarse onto w,
// keeping any value w already has.
func (w *WatershedPolygon) Inherit(coarse *WatershedPolygon) {
	w.PointID = coarse.PointID
	if w.Attributes == nil {
		w.Attributes = make(map[string]string, len(coarse.Attributes))
	}
	for _, k := range []string{AttrWatershedCode, AttrLocalCode} {
		if _, ok := w.Attributes[k]; ok {
			continue
		}
		if v, ok := coarse.Attributes[k]; ok {
			w.Attributes[k] = v
		}
	}
}

// RefinementJob is the input to the raster refinement engine for one point.
type RefinementJob struct {
	PointID string
	// Extent is the area the refined polygon must fall within.
	Extent *geos.Geom
	// Streams are the pour-point stream centerlines.
	Streams *geos.Geom
}

// MergedResult is the final polygon for one point.
type MergedResult struct {
	PointID    string            `json:"point_id"`
	Provenance Provenance        `json:"provenance"`
	AreaHa     float64           `json:"area_ha"`
	Geometry   *geos.Geom        `json:"-"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// HoleCount returns the number of interior rings across all polygon parts.
func HoleCount(g *geos.Geom) int {
	if g == nil || g.IsEmpty() {
		return 0
	}
	switch g.TypeID() {
	case geos.TypeIDPolygon:
		return g.NumInteriorRings()
	case geos.TypeIDMultiPolygon, geos.TypeIDGeometryCollection:
		n := 0
		for i := 0; i < g.NumGeometries(); i++ {
			n += HoleCount(g.Geometry(i))
		}
		return n
	default:
		return 0
	}
}
