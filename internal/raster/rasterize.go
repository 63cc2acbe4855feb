package raster

import (
	"math"

	"github.com/twpayne/go-geos"
)

// Lines returns the coordinate sequences of every linear part of geom.
func Lines(geom *geos.Geom) [][][]float64 {
	if geom == nil || geom.IsEmpty() {
		return nil
	}
	switch geom.TypeID() {
	case geos.TypeIDLineString, geos.TypeIDLinearRing:
		return [][][]float64{geom.CoordSeq().ToCoords()}
	case geos.TypeIDMultiLineString, geos.TypeIDGeometryCollection:
		var out [][][]float64
		for i := 0; i < geom.NumGeometries(); i++ {
			out = append(out, Lines(geom.Geometry(i))...)
		}
		return out
	default:
		return nil
	}
}

// RasterizeLines burns every line of geom into a label raster aligned with g.
// Each line part gets its own label starting at 1; cells touched by more than
// one part keep the first label. Cells without data are never labelled.
func RasterizeLines(g *Grid, geom *geos.Geom) []int32 {
	labels := make([]int32, g.Len())
	step := g.CellSize / 4
	for part, line := range Lines(geom) {
		label := int32(part + 1)
		mark := func(x, y float64) {
			col, row, ok := g.Cell(x, y)
			if !ok {
				return
			}
			i := g.Index(col, row)
			if labels[i] == 0 && g.Valid(i) {
				labels[i] = label
			}
		}
		for k := 0; k < len(line); k++ {
			x0, y0 := line[k][0], line[k][1]
			mark(x0, y0)
			if k+1 == len(line) {
				break
			}
			x1, y1 := line[k+1][0], line[k+1][1]
			n := int(math.Ceil(math.Hypot(x1-x0, y1-y0) / step))
			for s := 1; s <= n; s++ {
				t := float64(s) / float64(n)
				mark(x0+t*(x1-x0), y0+t*(y1-y0))
			}
		}
	}
	return labels
}
