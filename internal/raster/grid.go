// Package raster implements DEM-based watershed refinement over a flat
// grid-index arena: pit filling, D8 flow direction, stream rasterisation,
// a worklist watershed flood-fill and vectorisation of the result.
package raster

import (
	"fmt"
	"math"
)

// DefaultNoData is used when a grid header does not declare one.
const DefaultNoData = -9999.0

// MaxCells bounds a grid allocation at 512 MiB of elevations.
const MaxCells = 1 << 26

// Grid is a north-up raster. Cells are stored row-major starting with the
// top (northernmost) row, the same order as an ESRI ASCII grid.
type Grid struct {
	Cols     int
	Rows     int
	XLL      float64 // x of the lower-left corner
	YLL      float64 // y of the lower-left corner
	CellSize float64
	NoData   float64
	Data     []float64
}

// NewGrid allocates a grid filled with NoData.
func NewGrid(cols, rows int, xll, yll, cellSize, noData float64) (*Grid, error) {
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive, got %dx%d", cols, rows)
	}
	if cols > MaxCells/rows {
		return nil, fmt.Errorf("grid of %dx%d exceeds %d cells", cols, rows, MaxCells)
	}
	if cellSize <= 0 {
		return nil, fmt.Errorf("cell size must be positive, got %v", cellSize)
	}
	g := &Grid{Cols: cols, Rows: rows, XLL: xll, YLL: yll, CellSize: cellSize, NoData: noData, Data: make([]float64, cols*rows)}
	for i := range g.Data {
		g.Data[i] = noData
	}
	return g, nil
}

// Len returns the number of cells.
func (g *Grid) Len() int { return g.Cols * g.Rows }

// Index returns the arena index of (col, row).
func (g *Grid) Index(col, row int) int { return row*g.Cols + col }

// ColRow returns the column and row of an arena index.
func (g *Grid) ColRow(i int) (int, int) { return i % g.Cols, i / g.Cols }

// InBounds reports whether (col, row) lies on the grid.
func (g *Grid) InBounds(col, row int) bool {
	return col >= 0 && row >= 0 && col < g.Cols && row < g.Rows
}

// Valid reports whether cell i holds data.
func (g *Grid) Valid(i int) bool {
	v := g.Data[i]
	return !math.IsNaN(v) && v != g.NoData
}

// MaxY returns the y of the top edge.
func (g *Grid) MaxY() float64 { return g.YLL + float64(g.Rows)*g.CellSize }

// MaxX returns the x of the right edge.
func (g *Grid) MaxX() float64 { return g.XLL + float64(g.Cols)*g.CellSize }

// Center returns the coordinates of the centre of (col, row).
func (g *Grid) Center(col, row int) (float64, float64) {
	return g.XLL + (float64(col)+0.5)*g.CellSize, g.MaxY() - (float64(row)+0.5)*g.CellSize
}

// Cell returns the cell containing (x, y).
func (g *Grid) Cell(x, y float64) (col, row int, ok bool) {
	col = int(math.Floor((x - g.XLL) / g.CellSize))
	row = int(math.Floor((g.MaxY() - y) / g.CellSize))
	return col, row, g.InBounds(col, row)
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	c := *g
	c.Data = append([]float64(nil), g.Data...)
	return &c
}

// Window returns the cells covering the box, snapped outward to whole cells.
// The box is clamped to the grid.
func (g *Grid) Window(minX, minY, maxX, maxY float64) (*Grid, error) {
	c0 := int(math.Floor((minX - g.XLL) / g.CellSize))
	c1 := int(math.Ceil((maxX - g.XLL) / g.CellSize))
	r0 := int(math.Floor((g.MaxY() - maxY) / g.CellSize))
	r1 := int(math.Ceil((g.MaxY() - minY) / g.CellSize))
	c0, r0 = max(c0, 0), max(r0, 0)
	c1, r1 = min(c1, g.Cols), min(r1, g.Rows)
	if c0 >= c1 || r0 >= r1 {
		return nil, fmt.Errorf("window [%v %v %v %v] does not overlap the grid", minX, minY, maxX, maxY)
	}

	w := &Grid{
		Cols:     c1 - c0,
		Rows:     r1 - r0,
		XLL:      g.XLL + float64(c0)*g.CellSize,
		YLL:      g.MaxY() - float64(r1)*g.CellSize,
		CellSize: g.CellSize,
		NoData:   g.NoData,
	}
	w.Data = make([]float64, 0, w.Cols*w.Rows)
	for r := r0; r < r1; r++ {
		w.Data = append(w.Data, g.Data[g.Index(c0, r):g.Index(c1-1, r)+1]...)
	}
	return w, nil
}

// neighbour offsets in a fixed order: E, SE, S, SW, W, NW, N, NE.
var (
	dCol = [8]int{1, 1, 0, -1, -1, -1, 0, 1}
	dRow = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
)

// edgeOrBorder reports whether cell i is on the grid edge or touches NoData.
func (g *Grid) edgeOrBorder(i int) bool {
	col, row := g.ColRow(i)
	for k := 0; k < 8; k++ {
		nc, nr := col+dCol[k], row+dRow[k]
		if !g.InBounds(nc, nr) || !g.Valid(g.Index(nc, nr)) {
			return true
		}
	}
	return false
}
