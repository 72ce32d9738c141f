// Package geo contains pure polyline helpers: projecting a point onto a line
// and walking a distance along it. Distances are great-circle meters.
package geo

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// earthRadiusMeters matches the sphere orb/geo uses for haversine distances.
const earthRadiusMeters = 6378137.0

// ErrTooFewPoints is returned for lines with fewer than two vertices.
var ErrTooFewPoints = errors.New("geo: line needs at least 2 points")

// Projection is the closest point on a line to a query point.
type Projection struct {
	Point          orb.Point
	DistanceMeters float64 // query point to Point
	AlongMeters    float64 // first vertex to Point, following the line
	SegmentIndex   int
}

// refineAboveMeters is the segment length past which the planar estimate is
// replaced by a search along the great circle.
const refineAboveMeters = 1000.0

// Project finds the point on line closest to p. Candidates on each segment
// are its two vertices and an interior point (a planar estimate, refined on
// long segments); all are compared by haversine distance, so the result is
// never farther than any vertex. The first segment wins ties.
func Project(line orb.LineString, p orb.Point) (Projection, error) {
	if len(line) < 2 {
		return Projection{}, ErrTooFewPoints
	}

	best := Projection{SegmentIndex: -1, DistanceMeters: math.Inf(1)}
	consider := func(i int, pt orb.Point, along float64) {
		if d := geo.DistanceHaversine(p, pt); d < best.DistanceMeters {
			best = Projection{Point: pt, DistanceMeters: d, AlongMeters: along, SegmentIndex: i}
		}
	}

	cum := 0.0
	for i := 0; i < len(line)-1; i++ {
		a, b := line[i], line[i+1]
		seg := geo.DistanceHaversine(a, b)

		consider(i, a, cum)
		if seg > 0 {
			bearing := geo.Bearing(a, b)
			s := planarOffset(a, b, p) * seg
			if seg > refineAboveMeters {
				s = refineOffset(a, bearing, seg, p)
			}
			if s > 0 && s < seg {
				consider(i, geo.PointAtBearingAndDistance(a, bearing, s), cum+s)
			}
		}
		consider(i, b, cum+seg)
		cum += seg
	}
	return best, nil
}

// planarOffset is the clamped fraction of a->b closest to p in a local
// equirectangular frame centred on p.
func planarOffset(a, b, p orb.Point) float64 {
	ax, ay := toLocal(p, a)
	bx, by := toLocal(p, b)
	vx, vy := bx-ax, by-ay
	denom := vx*vx + vy*vy
	if denom == 0 {
		return 0
	}
	return clamp(-(ax*vx+ay*vy)/denom, 0, 1)
}

// refineOffset golden-section searches the great circle from a for the
// distance closest to p. The distance to p is unimodal along any segment
// shorter than half the circumference.
func refineOffset(a orb.Point, bearing, seg float64, p orb.Point) float64 {
	const invPhi = 0.6180339887498949
	f := func(s float64) float64 {
		return geo.DistanceHaversine(p, geo.PointAtBearingAndDistance(a, bearing, s))
	}
	lo, hi := 0.0, seg
	x1 := hi - invPhi*(hi-lo)
	x2 := lo + invPhi*(hi-lo)
	f1, f2 := f(x1), f(x2)
	for hi-lo > 0.01 {
		if f1 < f2 {
			hi, x2, f2 = x2, x1, f1
			x1 = hi - invPhi*(hi-lo)
			f1 = f(x1)
		} else {
			lo, x1, f1 = x1, x2, f2
			x2 = lo + invPhi*(hi-lo)
			f2 = f(x2)
		}
	}
	return (lo + hi) / 2
}

// SampleAtDistance walks meters along line from its first vertex. Distances
// past the end clamp to the last vertex; negative distances give the first.
func SampleAtDistance(line orb.LineString, meters float64) (orb.Point, error) {
	if len(line) < 2 {
		return orb.Point{}, ErrTooFewPoints
	}
	if meters <= 0 {
		return line[0], nil
	}

	travelled := 0.0
	for i := 0; i < len(line)-1; i++ {
		a, b := line[i], line[i+1]
		seg := geo.DistanceHaversine(a, b)
		if seg == 0 {
			continue
		}
		if meters < travelled+seg {
			return geo.PointAtBearingAndDistance(a, geo.Bearing(a, b), meters-travelled), nil
		}
		travelled += seg
	}
	return line[len(line)-1], nil
}

// Length is the summed haversine length of line.
func Length(line orb.LineString) (float64, error) {
	if len(line) < 2 {
		return 0, ErrTooFewPoints
	}
	total := 0.0
	for i := 0; i < len(line)-1; i++ {
		total += geo.DistanceHaversine(line[i], line[i+1])
	}
	return total, nil
}

func toLocal(origin, p orb.Point) (x, y float64) {
	lat0 := degreesToRadians(origin.Lat())
	x = degreesToRadians(p.Lon()-origin.Lon()) * math.Cos(lat0) * earthRadiusMeters
	y = degreesToRadians(p.Lat()-origin.Lat()) * earthRadiusMeters
	return x, y
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
