// Package crs resolves EPSG identifiers to coordinate transforms to and from
// geographic WGS84 (EPSG:4326).
package crs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
)

// Geographic is the reference CRS used by the secondary network.
const Geographic = 4326

// Projection converts between a CRS and geographic longitude/latitude.
type Projection interface {
	// Code returns the EPSG code.
	Code() int
	// Projected reports whether coordinates are planar metres.
	Projected() bool
	ToGeographic(x, y float64) (lon, lat float64, err error)
	FromGeographic(lon, lat float64) (x, y float64, err error)
}

// ParseCode accepts "EPSG:3005", "epsg:3005" or "3005".
func ParseCode(s string) (int, error) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		if !strings.EqualFold(s[:i], "epsg") {
			return 0, fmt.Errorf("unsupported CRS authority in %q", s)
		}
		s = s[i+1:]
	}
	code, err := strconv.Atoi(s)
	if err != nil || code <= 0 {
		return 0, fmt.Errorf("invalid EPSG code %q", s)
	}
	return code, nil
}

// Format returns the canonical "EPSG:<code>" string.
func Format(code int) string {
	return "EPSG:" + strconv.Itoa(code)
}

// Lookup returns the projection for an EPSG identifier.
func Lookup(s string) (Projection, error) {
	code, err := ParseCode(s)
	if err != nil {
		return nil, err
	}
	switch {
	case code == Geographic:
		return geographic{}, nil
	case code == 3005:
		return bcAlbers, nil
	case code == 3857:
		return webMercator{}, nil
	case code > 32600 && code <= 32660:
		return utmZone{code: code, zone: code - 32600, north: true}, nil
	case code > 32700 && code <= 32760:
		return utmZone{code: code, zone: code - 32700, north: false}, nil
	case code > 26900 && code <= 26923:
		return utmZone{code: code, zone: code - 26900, north: true}, nil
	}
	return nil, fmt.Errorf("unsupported CRS %s", Format(code))
}

// RequireProjected returns the projection for s, failing with
// hydro.ErrInvalidInputCRS when s is unknown or not metre-based.
func RequireProjected(s string) (Projection, error) {
	p, err := Lookup(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hydro.ErrInvalidInputCRS, err)
	}
	if !p.Projected() {
		return nil, fmt.Errorf("%w: %s is geographic", hydro.ErrInvalidInputCRS, Format(p.Code()))
	}
	return p, nil
}

type geographic struct{}

func (geographic) Code() int       { return Geographic }
func (geographic) Projected() bool { return false }

func (geographic) ToGeographic(x, y float64) (float64, float64, error) {
	return x, y, nil
}

func (geographic) FromGeographic(lon, lat float64) (float64, float64, error) {
	return lon, lat, nil
}
