package raster

import "math"

// Flow codes stored in Flow.Down for cells without a downslope neighbour.
const (
	// Outlet marks a cell that drains off the grid or into NoData.
	Outlet int32 = -1
	// Sink marks an interior cell with no lower neighbour, or a NoData cell.
	Sink int32 = -2
)

// Flow is a D8 flow-direction raster expressed as the arena index of each
// cell's downslope neighbour.
type Flow struct {
	Cols, Rows int
	Down       []int32
}

// FlowDirection computes D8 steepest-descent directions. Diagonal drops are
// divided by √2 times the cell size. Ties keep the first neighbour in
// E, SE, S, SW, W, NW, N, NE order.
func FlowDirection(g *Grid) *Flow {
	f := &Flow{Cols: g.Cols, Rows: g.Rows, Down: make([]int32, g.Len())}
	diag := math.Sqrt2 * g.CellSize

	for i := range f.Down {
		if !g.Valid(i) {
			f.Down[i] = Sink
			continue
		}
		col, row := g.ColRow(i)
		best, bestSlope := -1, 0.0
		for k := 0; k < 8; k++ {
			nc, nr := col+dCol[k], row+dRow[k]
			if !g.InBounds(nc, nr) {
				continue
			}
			ni := g.Index(nc, nr)
			if !g.Valid(ni) {
				continue
			}
			dist := g.CellSize
			if dCol[k] != 0 && dRow[k] != 0 {
				dist = diag
			}
			slope := (g.Data[i] - g.Data[ni]) / dist
			if slope > bestSlope {
				best, bestSlope = ni, slope
			}
		}
		switch {
		case best >= 0:
			f.Down[i] = int32(best)
		case g.edgeOrBorder(i):
			f.Down[i] = Outlet
		default:
			f.Down[i] = Sink
		}
	}
	return f
}
