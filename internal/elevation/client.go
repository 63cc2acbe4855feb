// Package elevation fetches DEM tiles for a bounding box from the elevation
// raster service as ESRI ASCII grids.
package elevation

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/fyrsmithlabs/watershed/internal/crs"
	"github.com/fyrsmithlabs/watershed/internal/raster"
	"github.com/fyrsmithlabs/watershed/internal/remote"
)

// Box is an axis-aligned bounding box in the request CRS.
type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

// Expand grows the box by d on every side.
func (b Box) Expand(d float64) Box {
	return Box{b.MinX - d, b.MinY - d, b.MaxX + d, b.MaxY + d}
}

// Valid reports whether the box has positive area.
func (b Box) Valid() bool {
	return b.MaxX > b.MinX && b.MaxY > b.MinY
}

// Client talks to the elevation raster service.
type Client struct {
	remote   *remote.Client
	coverage string
}

// New creates an elevation client. coverage names the DEM layer to request
// and may be empty when the service has a single coverage.
func New(cfg remote.Config, coverage string, opts ...remote.Option) (*Client, error) {
	if cfg.Service == "" {
		cfg.Service = "elevation"
	}
	rc, err := remote.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{remote: rc, coverage: coverage}, nil
}

// Fetch returns the raw ASCII grid covering box at resolution, in srs.
func (c *Client) Fetch(ctx context.Context, box Box, srs string, resolution float64) ([]byte, error) {
	if !box.Valid() {
		return nil, fmt.Errorf("invalid DEM bounding box %+v", box)
	}
	code, err := crs.ParseCode(srs)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("bbox", fmt.Sprintf("%s,%s,%s,%s", ftoa(box.MinX), ftoa(box.MinY), ftoa(box.MaxX), ftoa(box.MaxY)))
	q.Set("srs", crs.Format(code))
	q.Set("resolution", ftoa(resolution))
	q.Set("format", "AAIGrid")
	if c.coverage != "" {
		q.Set("coverage", c.coverage)
	}

	body, err := c.remote.Get(ctx, c.remote.URL(q, "dem"))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("elevation service has no coverage for %+v", box)
	}
	return body, nil
}

// Grid fetches and decodes the DEM covering box.
func (c *Client) Grid(ctx context.Context, box Box, srs string, resolution float64) (*raster.Grid, error) {
	body, err := c.Fetch(ctx, box, srs, resolution)
	if err != nil {
		return nil, err
	}
	return raster.ReadASCII(bytes.NewReader(body))
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
