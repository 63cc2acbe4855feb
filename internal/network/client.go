// Package network is the client for the primary hydrography network service:
// nearest-stream lookup, upstream watershed retrieval and the refinement
// inputs (pour-point streams and hex-grid extent) for coarse watersheds.
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/fyrsmithlabs/watershed/internal/crs"
	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/remote"
	"github.com/fyrsmithlabs/watershed/internal/vector"
	"github.com/twpayne/go-geos"
)

// Property names used by the service.
const (
	propSegment      = "blue_line_key"
	propFeature      = "linear_feature_id"
	propMeasure      = "downstream_route_measure"
	propDistance     = "distance_to_stream"
	propName         = "gnis_name"
	propJurisdiction = "in_jurisdiction"
	propArea         = "area_ha"
)

// RefineDEM is the refine_method value marking a coarse watershed.
const RefineDEM = "DEM"

// Watershed is the upstream drainage polygon for a stream location.
type Watershed struct {
	Geometry     *geos.Geom
	AreaHa       float64
	RefineMethod string
	Codes        map[string]string
}

// Client talks to the primary network service.
type Client struct {
	remote *remote.Client
}

// New creates a primary network client.
func New(cfg remote.Config, opts ...remote.Option) (*Client, error) {
	if cfg.Service == "" {
		cfg.Service = "primary"
	}
	rc, err := remote.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{remote: rc}, nil
}

// NearestStreams returns up to limit stream candidates within tolerance of p,
// closest first as reported by the service.
func (c *Client) NearestStreams(ctx context.Context, p hydro.InputPoint, tolerance float64, limit int) ([]hydro.Candidate, error) {
	srid, err := crs.ParseCode(p.CRS)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hydro.ErrInvalidInputCRS, err)
	}
	q := url.Values{}
	q.Set("tolerance", strconv.FormatFloat(tolerance, 'f', -1, 64))
	q.Set("num_features", strconv.Itoa(limit))
	loc := fmt.Sprintf("%s,%s,%d", fmtFloat(p.X), fmtFloat(p.Y), srid)

	features, err := c.features(ctx, c.remote.URL(q, "nearest_stream", loc))
	if err != nil {
		return nil, err
	}

	out := make([]hydro.Candidate, 0, len(features))
	for i, f := range features {
		cand, err := candidateFrom(f)
		if err != nil {
			return nil, fmt.Errorf("nearest_stream feature %d: %w", i, err)
		}
		if cand.Distance > tolerance {
			continue
		}
		out = append(out, cand)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func candidateFrom(f vector.Feature) (hydro.Candidate, error) {
	seg, ok := vector.String(f.Properties, propSegment)
	if !ok {
		return hydro.Candidate{}, fmt.Errorf("missing %s", propSegment)
	}
	measure, _ := vector.Float(f.Properties, propMeasure)
	dist, ok := vector.Float(f.Properties, propDistance)
	if !ok {
		return hydro.Candidate{}, fmt.Errorf("missing %s", propDistance)
	}
	inside, ok := vector.Bool(f.Properties, propJurisdiction)
	if !ok {
		inside = true
	}
	name, _ := vector.String(f.Properties, propName)

	c := hydro.Candidate{
		SegmentID:      seg,
		Measure:        measure,
		Distance:       dist,
		InJurisdiction: inside,
		Name:           name,
		Codes:          codes(f.Properties),
	}
	if fid, ok := vector.String(f.Properties, propFeature); ok {
		c.Codes[propFeature] = fid
	}

	var pt struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	}
	if len(f.Geometry) > 0 && json.Unmarshal(f.Geometry, &pt) == nil && pt.Type == "Point" && len(pt.Coordinates) >= 2 {
		c.X, c.Y = pt.Coordinates[0], pt.Coordinates[1]
	}
	return c, nil
}

// Watershed fetches the upstream watershed of ref in the CRS srs. An empty
// answer is hydro.ErrNoWatershedAvailable.
func (c *Client) Watershed(ctx context.Context, ref hydro.StreamReference, srs string) (*Watershed, error) {
	features, err := c.features(ctx, c.locationURL("watershed", ref, srs))
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("segment %s at %.2f: %w", ref.SegmentID, ref.Measure, hydro.ErrNoWatershedAvailable)
	}

	geom, err := vector.Collect(features)
	if err != nil {
		return nil, err
	}
	if geom == nil || geom.IsEmpty() {
		return nil, fmt.Errorf("segment %s at %.2f: %w", ref.SegmentID, ref.Measure, hydro.ErrNoWatershedAvailable)
	}

	props := features[0].Properties
	ws := &Watershed{Geometry: geom, Codes: codes(props)}
	ws.RefineMethod, _ = vector.String(props, hydro.AttrRefineMethod)
	if area, ok := vector.Float(props, propArea); ok {
		ws.AreaHa = area
	} else {
		ws.AreaHa = geom.Area() / 10000
	}
	return ws, nil
}

// WatershedStreams fetches the pour-point stream lines for a coarse watershed.
func (c *Client) WatershedStreams(ctx context.Context, ref hydro.StreamReference, srs string) (*geos.Geom, error) {
	return c.geometry(ctx, c.locationURL("watershed_stream", ref, srs))
}

// WatershedHex fetches the hex-grid polygons covering the part of a coarse
// watershed that must be refined.
func (c *Client) WatershedHex(ctx context.Context, ref hydro.StreamReference, srs string) (*geos.Geom, error) {
	return c.geometry(ctx, c.locationURL("watershed_hex", ref, srs))
}

func (c *Client) geometry(ctx context.Context, rawURL string) (*geos.Geom, error) {
	features, err := c.features(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return vector.Collect(features)
}

func (c *Client) locationURL(endpoint string, ref hydro.StreamReference, srs string) string {
	q := url.Values{}
	q.Set(propMeasure, fmtFloat(ref.Measure))
	if code, err := crs.ParseCode(srs); err == nil {
		q.Set("srid", strconv.Itoa(code))
	}
	return c.remote.URL(q, endpoint, ref.SegmentID)
}

// features accepts either a Feature or a FeatureCollection body.
func (c *Client) features(ctx context.Context, rawURL string) ([]vector.Feature, error) {
	body, err := c.remote.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %w", c.remote.Service(), err)
	}
	switch probe.Type {
	case "FeatureCollection":
		fc, err := vector.DecodeCollection(body)
		if err != nil {
			return nil, err
		}
		return fc.Features, nil
	case "Feature":
		f, err := vector.DecodeFeature(body)
		if err != nil {
			return nil, err
		}
		return []vector.Feature{*f}, nil
	default:
		return nil, fmt.Errorf("%s: unexpected GeoJSON type %q", c.remote.Service(), probe.Type)
	}
}

func codes(props map[string]any) map[string]string {
	out := make(map[string]string, 2)
	for _, k := range []string{hydro.AttrWatershedCode, hydro.AttrLocalCode} {
		if v, ok := vector.String(props, k); ok && v != "" {
			out[k] = v
		}
	}
	return out
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
