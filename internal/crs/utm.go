package crs

import (
	"fmt"
	"math"

	UTM "github.com/im7mortal/UTM"
)

const (
	utmK0          = 0.9996
	utmFalseE      = 500000.0
	utmFalseNSouth = 10000000.0
	// Widest longitude offset accepted from the central meridian.
	utmMaxOffset = 6.0
)

// utmZone projects on a fixed zone's central meridian so geometries that
// straddle a zone edge stay in the batch CRS.
type utmZone struct {
	code  int
	zone  int
	north bool
}

func (u utmZone) Code() int       { return u.code }
func (u utmZone) Projected() bool { return true }

func (u utmZone) centralMeridian() float64 {
	return float64(-183 + 6*u.zone)
}

func (u utmZone) ToGeographic(x, y float64) (float64, float64, error) {
	lat, lon, err := UTM.ToLatLon(x, y, u.zone, "", u.north)
	if err != nil {
		return 0, 0, fmt.Errorf("utm zone %d: %w", u.zone, err)
	}
	return lon, lat, nil
}

// FromGeographic is the transverse Mercator forward series on the zone's
// central meridian rather than the zone the longitude falls in.
func (u utmZone) FromGeographic(lon, lat float64) (float64, float64, error) {
	if err := UTM.ValidateLatLone(lat, lon); err != nil {
		return 0, 0, fmt.Errorf("utm zone %d: %w", u.zone, err)
	}
	dl := lon - u.centralMeridian()
	if math.Abs(dl) > utmMaxOffset {
		return 0, 0, fmt.Errorf("longitude %.6f is %.2f degrees from utm zone %d central meridian", lon, math.Abs(dl), u.zone)
	}

	const e2 = grs80E2
	ep2 := e2 / (1 - e2)
	e4, e6 := e2*e2, e2*e2*e2

	phi := rad(lat)
	s, c := math.Sin(phi), math.Cos(phi)
	t := s / c
	t2 := t * t
	t4 := t2 * t2

	n := grs80A / math.Sqrt(1-e2*s*s)
	cc := ep2 * c * c
	a := c * rad(dl)
	a2 := a * a
	a3, a4 := a2*a, a2*a2
	a5, a6 := a4*a, a4*a2

	m := grs80A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))

	x := utmK0*n*(a+a3/6*(1-t2+cc)+a5/120*(5-18*t2+t4+72*cc-58*ep2)) + utmFalseE
	y := utmK0 * (m + n*t*(a2/2+
		a4/24*(5-t2+9*cc+4*cc*cc)+
		a6/720*(61-58*t2+t4+600*cc-330*ep2)))
	if !u.north {
		y += utmFalseNSouth
	}
	return x, y, nil
}

const webMercatorR = 6378137.0

type webMercator struct{}

func (webMercator) Code() int       { return 3857 }
func (webMercator) Projected() bool { return true }

func (webMercator) ToGeographic(x, y float64) (float64, float64, error) {
	lon := deg(x / webMercatorR)
	lat := deg(2*math.Atan(math.Exp(y/webMercatorR)) - math.Pi/2)
	return lon, lat, nil
}

func (webMercator) FromGeographic(lon, lat float64) (float64, float64, error) {
	if math.Abs(lat) > 85.06 {
		return 0, 0, fmt.Errorf("latitude %.6f outside web mercator bounds", lat)
	}
	return webMercatorR * rad(lon), webMercatorR * math.Log(math.Tan(math.Pi/4+rad(lat)/2)), nil
}
