package raster

import (
	"container/heap"
	"math"
)

type cellItem struct {
	z float64
	i int
}

type cellQueue []cellItem

func (q cellQueue) Len() int { return len(q) }
func (q cellQueue) Less(a, b int) bool {
	if q[a].z != q[b].z {
		return q[a].z < q[b].z
	}
	return q[a].i < q[b].i
}
func (q cellQueue) Swap(a, b int) { q[a], q[b] = q[b], q[a] }
func (q *cellQueue) Push(x any)   { *q = append(*q, x.(cellItem)) }
func (q *cellQueue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// Fill raises depressions no deeper than maxDepth to their spill elevation
// and returns a new grid. Filled cells are nudged upward by the smallest
// representable step along the flood order so every filled flat keeps a
// strictly descending path to its outlet. Depressions deeper than maxDepth
// are left as sinks. A negative maxDepth fills everything.
func Fill(g *Grid, maxDepth float64) *Grid {
	out := g.Clone()
	n := g.Len()
	closed := make([]bool, n)
	q := make(cellQueue, 0, 2*(g.Cols+g.Rows))

	for i := 0; i < n; i++ {
		if !g.Valid(i) {
			closed[i] = true
			continue
		}
		if g.edgeOrBorder(i) {
			closed[i] = true
			q = append(q, cellItem{z: out.Data[i], i: i})
		}
	}
	heap.Init(&q)

	for q.Len() > 0 {
		c := heap.Pop(&q).(cellItem)
		col, row := g.ColRow(c.i)
		for k := 0; k < 8; k++ {
			nc, nr := col+dCol[k], row+dRow[k]
			if !g.InBounds(nc, nr) {
				continue
			}
			ni := g.Index(nc, nr)
			if closed[ni] {
				continue
			}
			closed[ni] = true
			if out.Data[ni] <= c.z {
				spill := math.Nextafter(c.z, math.Inf(1))
				if maxDepth < 0 || spill-g.Data[ni] <= maxDepth {
					out.Data[ni] = spill
				}
			}
			heap.Push(&q, cellItem{z: out.Data[ni], i: ni})
		}
	}
	return out
}
