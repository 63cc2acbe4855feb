package raster

import (
	"fmt"

	"github.com/twpayne/go-geos"
)

// Polygonize converts the labelled cells into a single polygonal geometry.
// Horizontal runs of labelled cells become rectangles that are unioned, so
// the output follows cell edges exactly.
func Polygonize(g *Grid, labels []int32) (*geos.Geom, error) {
	var rects []*geos.Geom
	for row := 0; row < g.Rows; row++ {
		yTop := g.MaxY() - float64(row)*g.CellSize
		yBot := yTop - g.CellSize
		col := 0
		for col < g.Cols {
			if labels[g.Index(col, row)] == 0 {
				col++
				continue
			}
			start := col
			for col < g.Cols && labels[g.Index(col, row)] != 0 {
				col++
			}
			x0 := g.XLL + float64(start)*g.CellSize
			x1 := g.XLL + float64(col)*g.CellSize
			rects = append(rects, geos.NewPolygon([][][]float64{{
				{x0, yBot}, {x1, yBot}, {x1, yTop}, {x0, yTop}, {x0, yBot},
			}}))
		}
	}
	if len(rects) == 0 {
		return nil, fmt.Errorf("no labelled cells to polygonize")
	}
	return geos.NewCollection(geos.TypeIDGeometryCollection, rects).UnaryUnion(), nil
}
