package raster

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ReadASCII parses an ESRI ASCII grid.
func ReadASCII(r io.Reader) (*Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	sc.Split(bufio.ScanWords)

	header := map[string]float64{}
	var pending string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			pending = key
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("ascii grid: header %q has no value", key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("ascii grid: header %q: %w", key, err)
		}
		header[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ascii grid: %w", err)
	}

	for _, k := range []string{"ncols", "nrows", "cellsize"} {
		if _, ok := header[k]; !ok {
			return nil, fmt.Errorf("ascii grid: missing %s", k)
		}
	}
	noData, ok := header["nodata_value"]
	if !ok {
		noData = DefaultNoData
	}
	cs := header["cellsize"]
	xll, yll := header["xllcorner"], header["yllcorner"]
	if v, ok := header["xllcenter"]; ok {
		xll = v - cs/2
	}
	if v, ok := header["yllcenter"]; ok {
		yll = v - cs/2
	}

	cols, err := dimension(header, "ncols")
	if err != nil {
		return nil, err
	}
	rows, err := dimension(header, "nrows")
	if err != nil {
		return nil, err
	}
	g, err := NewGrid(cols, rows, xll, yll, cs, noData)
	if err != nil {
		return nil, fmt.Errorf("ascii grid: %w", err)
	}

	n := 0
	next := func(tok string) error {
		if n >= len(g.Data) {
			return fmt.Errorf("ascii grid: more than %d values", len(g.Data))
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("ascii grid: value %d: %w", n, err)
		}
		g.Data[n] = v
		n++
		return nil
	}
	if pending != "" {
		if err := next(pending); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		if err := next(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ascii grid: %w", err)
	}
	if n != len(g.Data) {
		return nil, fmt.Errorf("ascii grid: expected %d values, got %d", len(g.Data), n)
	}
	return g, nil
}

func dimension(header map[string]float64, key string) (int, error) {
	v := header[key]
	if v != math.Trunc(v) || v < 1 || v > MaxCells {
		return 0, fmt.Errorf("ascii grid: %s must be a positive integer no larger than %d, got %v", key, MaxCells, v)
	}
	return int(v), nil
}

// WriteASCII encodes g as an ESRI ASCII grid.
func WriteASCII(w io.Writer, g *Grid) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\nnrows %d\nxllcorner %s\nyllcorner %s\ncellsize %s\nNODATA_value %s\n",
		g.Cols, g.Rows, ftoa(g.XLL), ftoa(g.YLL), ftoa(g.CellSize), ftoa(g.NoData))
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			if c > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(ftoa(g.Data[g.Index(c, r)]))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
