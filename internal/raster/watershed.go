package raster

// Watershed assigns every cell the label of the seed it drains to by following
// the flow-direction chain. seeds holds a non-zero label for pour-point cells;
// the result holds 0 for cells that reach no seed.
//
// The fill runs upstream from the seeds over a reverse-adjacency arena with an
// explicit FIFO worklist, so each cell is visited once and recursion depth is
// independent of basin size. A seed cell keeps its own label even when it
// drains into another seed.
func Watershed(f *Flow, seeds []int32) []int32 {
	n := len(f.Down)
	labels := make([]int32, n)

	// Reverse adjacency in compressed form: up[start[d]:start[d+1]] lists the
	// cells draining into d.
	start := make([]int32, n+1)
	for _, d := range f.Down {
		if d >= 0 {
			start[d+1]++
		}
	}
	for i := 0; i < n; i++ {
		start[i+1] += start[i]
	}
	up := make([]int32, start[n])
	fillPos := append([]int32(nil), start[:n]...)
	for i, d := range f.Down {
		if d >= 0 {
			up[fillPos[d]] = int32(i)
			fillPos[d]++
		}
	}

	queue := make([]int32, 0, 1024)
	for i, s := range seeds {
		if s != 0 {
			labels[i] = s
			queue = append(queue, int32(i))
		}
	}

	for head := 0; head < len(queue); head++ {
		c := queue[head]
		for _, u := range up[start[c]:start[c+1]] {
			if labels[u] != 0 || seeds[u] != 0 {
				continue
			}
			labels[u] = labels[c]
			queue = append(queue, u)
		}
	}
	return labels
}

// Count returns the number of labelled cells.
func Count(labels []int32) int {
	n := 0
	for _, l := range labels {
		if l != 0 {
			n++
		}
	}
	return n
}
