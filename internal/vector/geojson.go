// Package vector reads and writes the GeoJSON datasets exchanged with callers
// and external services.
package vector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/watershed/internal/crs"
	"github.com/twpayne/go-geos"
)

// Feature is a GeoJSON feature with undecoded geometry.
type Feature struct {
	Type       string          `json:"type"`
	ID         any             `json:"id,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// FeatureCollection is a GeoJSON feature collection. The legacy named crs
// member is honoured on read and written on output so projected datasets
// round-trip through desktop GIS tools.
type FeatureCollection struct {
	Type     string     `json:"type"`
	CRS      *CRSMember `json:"crs,omitempty"`
	Features []Feature  `json:"features"`
}

// CRSMember is the legacy GeoJSON named CRS object.
type CRSMember struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// NamedCRS builds a crs member for an EPSG identifier.
func NamedCRS(id string) *CRSMember {
	code, err := crs.ParseCode(id)
	if err != nil {
		return nil
	}
	m := &CRSMember{Type: "name"}
	m.Properties.Name = fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", code)
	return m
}

// EPSG returns the "EPSG:<code>" form of the member, or "" when absent.
func (m *CRSMember) EPSG() string {
	if m == nil {
		return ""
	}
	name := m.Properties.Name
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	code, err := crs.ParseCode(name)
	if err != nil {
		return ""
	}
	return crs.Format(code)
}

// DecodeCollection parses a FeatureCollection, keeping numbers exact.
func DecodeCollection(data []byte) (*FeatureCollection, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fc FeatureCollection
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("failed to decode feature collection: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected FeatureCollection, got %q", fc.Type)
	}
	return &fc, nil
}

// DecodeFeature parses a single Feature.
func DecodeFeature(data []byte) (*Feature, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var f Feature
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode feature: %w", err)
	}
	if f.Type != "Feature" {
		return nil, fmt.Errorf("expected Feature, got %q", f.Type)
	}
	return &f, nil
}

// Geom converts a raw GeoJSON geometry into a GEOS geometry.
func Geom(raw json.RawMessage) (*geos.Geom, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("feature has no geometry")
	}
	g, err := geos.NewGeomFromGeoJSON(string(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}
	return g, nil
}

// Collect parses the geometries of all features and unions them into one
// geometry. Features without geometry are skipped.
func Collect(features []Feature) (*geos.Geom, error) {
	geoms := make([]*geos.Geom, 0, len(features))
	for _, f := range features {
		if len(f.Geometry) == 0 || string(f.Geometry) == "null" {
			continue
		}
		g, err := Geom(f.Geometry)
		if err != nil {
			return nil, err
		}
		geoms = append(geoms, g)
	}
	if len(geoms) == 0 {
		return nil, nil
	}
	if len(geoms) == 1 {
		return geoms[0], nil
	}
	return geos.NewCollection(geos.TypeIDGeometryCollection, geoms).UnaryUnion(), nil
}

// String returns a property as a string. JSON numbers keep their literal
// form so integer ids do not pick up exponents.
func String(props map[string]any, key string) (string, bool) {
	v, ok := props[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	default:
		return fmt.Sprint(t), true
	}
}

// Float returns a numeric property.
func Float(props map[string]any, key string) (float64, bool) {
	switch t := props[key].(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// Bool returns a boolean property. Numeric 0/1 and "t"/"f" strings are
// accepted.
func Bool(props map[string]any, key string) (bool, bool) {
	switch t := props[key].(type) {
	case bool:
		return t, true
	case json.Number:
		return t.String() != "0", true
	case string:
		switch strings.ToLower(t) {
		case "t", "true", "y", "yes", "1":
			return true, true
		case "f", "false", "n", "no", "0":
			return false, true
		}
	}
	return false, false
}
