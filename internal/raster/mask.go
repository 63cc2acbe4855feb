package raster

import (
	"math"
	"sort"

	"github.com/twpayne/go-geos"
)

// Rings returns every ring, exterior and interior, of the polygonal parts of
// geom.
func Rings(geom *geos.Geom) [][][]float64 {
	if geom == nil || geom.IsEmpty() {
		return nil
	}
	switch geom.TypeID() {
	case geos.TypeIDPolygon:
		rings := [][][]float64{geom.ExteriorRing().CoordSeq().ToCoords()}
		for i := 0; i < geom.NumInteriorRings(); i++ {
			rings = append(rings, geom.InteriorRing(i).CoordSeq().ToCoords())
		}
		return rings
	case geos.TypeIDMultiPolygon, geos.TypeIDGeometryCollection:
		var rings [][][]float64
		for i := 0; i < geom.NumGeometries(); i++ {
			rings = append(rings, Rings(geom.Geometry(i))...)
		}
		return rings
	default:
		return nil
	}
}

// Mask marks the cells of g whose centre lies inside the polygonal area of
// extent, using an even-odd scanline per row.
func Mask(g *Grid, extent *geos.Geom) []bool {
	mask := make([]bool, g.Len())
	rings := Rings(extent)
	xs := make([]float64, 0, 64)

	for row := 0; row < g.Rows; row++ {
		_, yc := g.Center(0, row)
		xs = xs[:0]
		for _, ring := range rings {
			for k := 0; k+1 < len(ring); k++ {
				x1, y1 := ring[k][0], ring[k][1]
				x2, y2 := ring[k+1][0], ring[k+1][1]
				if (y1 <= yc) == (y2 <= yc) {
					continue
				}
				xs = append(xs, x1+(yc-y1)*(x2-x1)/(y2-y1))
			}
		}
		sort.Float64s(xs)
		for k := 0; k+1 < len(xs); k += 2 {
			c0 := int(math.Ceil((xs[k]-g.XLL)/g.CellSize - 0.5))
			c1 := int(math.Ceil((xs[k+1]-g.XLL)/g.CellSize-0.5)) - 1
			c0, c1 = max(c0, 0), min(c1, g.Cols-1)
			for c := c0; c <= c1; c++ {
				mask[g.Index(c, row)] = true
			}
		}
	}
	return mask
}

// ApplyMask sets every cell outside mask to NoData, in place.
func ApplyMask(g *Grid, mask []bool) {
	for i, in := range mask {
		if !in {
			g.Data[i] = g.NoData
		}
	}
}
