package crs

import (
	"errors"
	"math"
)

const (
	grs80A  = 6378137.0
	grs80E2 = 0.00669438002290
)

// albers is an ellipsoidal Albers equal-area conic projection.
type albers struct {
	code           int
	a, e2, e       float64
	lon0           float64
	falseE, falseN float64
	n, c, rho0     float64
}

// NAD83 / BC Albers.
var bcAlbers = newAlbers(3005, grs80A, grs80E2, 45, -126, 50, 58.5, 1000000, 0)

func newAlbers(code int, a, e2, lat0, lon0, lat1, lat2, falseE, falseN float64) *albers {
	p := &albers{code: code, a: a, e2: e2, e: math.Sqrt(e2), lon0: rad(lon0), falseE: falseE, falseN: falseN}
	m1, m2 := p.m(rad(lat1)), p.m(rad(lat2))
	q0, q1, q2 := p.q(rad(lat0)), p.q(rad(lat1)), p.q(rad(lat2))
	p.n = (m1*m1 - m2*m2) / (q2 - q1)
	p.c = m1*m1 + p.n*q1
	p.rho0 = a * math.Sqrt(p.c-p.n*q0) / p.n
	return p
}

func (p *albers) Code() int       { return p.code }
func (p *albers) Projected() bool { return true }

func (p *albers) m(phi float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-p.e2*s*s)
}

func (p *albers) q(phi float64) float64 {
	s := math.Sin(phi)
	return (1 - p.e2) * (s/(1-p.e2*s*s) - math.Log((1-p.e*s)/(1+p.e*s))/(2*p.e))
}

func (p *albers) FromGeographic(lon, lat float64) (float64, float64, error) {
	if lat < -90 || lat > 90 {
		return 0, 0, errors.New("latitude out of range")
	}
	rho := p.a * math.Sqrt(p.c-p.n*p.q(rad(lat))) / p.n
	theta := p.n * (rad(lon) - p.lon0)
	return p.falseE + rho*math.Sin(theta), p.falseN + p.rho0 - rho*math.Cos(theta), nil
}

func (p *albers) ToGeographic(x, y float64) (float64, float64, error) {
	dx := x - p.falseE
	dy := p.rho0 - (y - p.falseN)
	rho := math.Hypot(dx, dy)
	theta := math.Atan2(dx, dy)
	q := (p.c - rho*rho*p.n*p.n/(p.a*p.a)) / p.n

	if math.Abs(q) > 2 {
		return 0, 0, errors.New("coordinate outside projection domain")
	}
	phi := math.Asin(q / 2)
	for i := 0; i < 25; i++ {
		s := math.Sin(phi)
		es := p.e2 * s * s
		d := (1 - es) * (1 - es) / (2 * math.Cos(phi)) *
			(q/(1-p.e2) - s/(1-es) + math.Log((1-p.e*s)/(1+p.e*s))/(2*p.e))
		phi += d
		if math.Abs(d) < 1e-14 {
			break
		}
	}
	return deg(theta/p.n + p.lon0), deg(phi), nil
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }
