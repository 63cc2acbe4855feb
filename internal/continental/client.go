// Package continental is the client for the secondary, continent-wide stream
// network. It speaks geographic coordinates (EPSG:4326) only.
package continental

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/remote"
)

// Index is the nearest network location to a geographic point.
type Index struct {
	ComID      string
	ReachCode  string
	Measure    float64
	DistanceKm float64
	Lon, Lat   float64
}

// Delineation is an upstream drainage polygon.
type Delineation struct {
	// Geometry is GeoJSON in EPSG:4326.
	Geometry json.RawMessage
	AreaSqKm float64
}

type indexResponse struct {
	Output *struct {
		Flowlines []struct {
			ComID     json.Number `json:"comid"`
			ReachCode string      `json:"reachcode"`
			Measure   float64     `json:"fmeasure"`
		} `json:"ary_flowlines"`
		EndPoint *struct {
			Type        string    `json:"type"`
			Coordinates []float64 `json:"coordinates"`
		} `json:"end_point"`
		PathDistance float64 `json:"path_distance"`
	} `json:"output"`
	Status *struct {
		Message string `json:"status_message"`
	} `json:"status"`
}

type delineationResponse struct {
	Output *struct {
		Shape         json.RawMessage `json:"shape"`
		TotalAreaSqKm *float64        `json:"total_areasqkm"`
	} `json:"output"`
}

// Client talks to the secondary network service.
type Client struct {
	remote *remote.Client
}

// New creates a secondary network client.
func New(cfg remote.Config, opts ...remote.Option) (*Client, error) {
	if cfg.Service == "" {
		cfg.Service = "secondary"
	}
	rc, err := remote.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{remote: rc}, nil
}

// PointIndex snaps a geographic point to the nearest flowline within
// maxDistanceKm. No flowline is hydro.ErrNoStreamFound.
func (c *Client) PointIndex(ctx context.Context, lon, lat, maxDistanceKm float64) (*Index, error) {
	q := url.Values{}
	q.Set("lon", strconv.FormatFloat(lon, 'f', 8, 64))
	q.Set("lat", strconv.FormatFloat(lat, 'f', 8, 64))
	q.Set("max_distance_km", strconv.FormatFloat(maxDistanceKm, 'f', -1, 64))

	var resp indexResponse
	found, err := c.remote.GetJSON(ctx, c.remote.URL(q, "point_indexing"), &resp)
	if err != nil {
		return nil, err
	}
	if !found || resp.Output == nil || len(resp.Output.Flowlines) == 0 {
		return nil, fmt.Errorf("secondary network at %.6f,%.6f: %w", lon, lat, hydro.ErrNoStreamFound)
	}

	fl := resp.Output.Flowlines[0]
	idx := &Index{
		ComID:      fl.ComID.String(),
		ReachCode:  fl.ReachCode,
		Measure:    fl.Measure,
		DistanceKm: resp.Output.PathDistance,
		Lon:        lon,
		Lat:        lat,
	}
	if ep := resp.Output.EndPoint; ep != nil && len(ep.Coordinates) >= 2 {
		idx.Lon, idx.Lat = ep.Coordinates[0], ep.Coordinates[1]
	}
	return idx, nil
}

// Upstream delineates the drainage area upstream of comID at measure. A null
// or empty shape means the location sits too close to the network boundary
// and is reported as hydro.ErrNoWatershedAvailable.
func (c *Client) Upstream(ctx context.Context, comID string, measure float64) (*Delineation, error) {
	q := url.Values{}
	q.Set("comid", comID)
	q.Set("measure", strconv.FormatFloat(measure, 'f', -1, 64))

	var resp delineationResponse
	found, err := c.remote.GetJSON(ctx, c.remote.URL(q, "upstream_delineation"), &resp)
	if err != nil {
		return nil, err
	}
	if !found || resp.Output == nil || len(resp.Output.Shape) == 0 || string(resp.Output.Shape) == "null" {
		return nil, fmt.Errorf("secondary comid %s: %w", comID, hydro.ErrNoWatershedAvailable)
	}

	d := &Delineation{Geometry: resp.Output.Shape}
	if resp.Output.TotalAreaSqKm != nil {
		d.AreaSqKm = *resp.Output.TotalAreaSqKm
	}
	return d, nil
}
