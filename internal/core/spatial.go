package core

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"places_service/internal/domain/model"
)

const (
	// DefaultAvoidRadius buffers points, in meters.
	DefaultAvoidRadius = 1.0
	lineBufferWidth    = 1.0

	circleSegments = 32
	capSteps       = 16
)

// AvoidPolygons turns user-drawn features into one routing multipolygon.
// Points become circles, lines become buffered corridors, polygons pass
// through with their rings closed and multipolygons are flattened.
func AvoidPolygons(features []model.AvoidFeature, defaultRadius float64) (orb.MultiPolygon, error) {
	if defaultRadius <= 0 || !finite(defaultRadius) {
		defaultRadius = DefaultAvoidRadius
	}

	out := orb.MultiPolygon{}
	for i, f := range features {
		radius := f.Radius
		if radius <= 0 || !finite(radius) {
			radius = defaultRadius
		}
		polys, err := avoidGeometry(f.Geometry, radius)
		if err != nil {
			return nil, fmt.Errorf("avoid feature %d: %w", i, err)
		}
		out = append(out, polys...)
	}
	return out, nil
}

func avoidGeometry(g orb.Geometry, radius float64) ([]orb.Polygon, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: missing geometry", model.ErrInvalidGeometry)
	}
	if !finiteGeometry(g) {
		return nil, fmt.Errorf("%w: non-finite coordinate", model.ErrInvalidGeometry)
	}

	switch g := g.(type) {
	case orb.Point:
		return []orb.Polygon{circle(g, radius)}, nil
	case orb.MultiPoint:
		out := make([]orb.Polygon, 0, len(g))
		for _, p := range g {
			out = append(out, circle(p, radius))
		}
		return out, nil
	case orb.LineString:
		return []orb.Polygon{bufferLine(g, lineBufferWidth)}, nil
	case orb.MultiLineString:
		out := make([]orb.Polygon, 0, len(g))
		for _, ls := range g {
			out = append(out, bufferLine(ls, lineBufferWidth))
		}
		return out, nil
	case orb.Ring:
		p, err := closePolygon(orb.Polygon{g})
		if err != nil {
			return nil, err
		}
		return []orb.Polygon{p}, nil
	case orb.Polygon:
		p, err := closePolygon(g)
		if err != nil {
			return nil, err
		}
		return []orb.Polygon{p}, nil
	case orb.MultiPolygon:
		out := make([]orb.Polygon, 0, len(g))
		for _, poly := range g {
			p, err := closePolygon(poly)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	case orb.Collection:
		var out []orb.Polygon
		for _, member := range g {
			polys, err := avoidGeometry(member, radius)
			if err != nil {
				return nil, err
			}
			out = append(out, polys...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported geometry %s", model.ErrInvalidGeometry, g.GeoJSONType())
}

func circle(center orb.Point, radius float64) orb.Polygon {
	ring := make(orb.Ring, 0, circleSegments+1)
	for i := 0; i < circleSegments; i++ {
		bearing := float64(i) * 360 / circleSegments
		ring = append(ring, geo.PointAtBearingAndDistance(center, bearing, radius))
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

// bufferLine offsets the line to both sides and joins the sides with
// semicircular caps.
func bufferLine(line orb.LineString, width float64) orb.Polygon {
	pts := make([]orb.Point, 0, len(line))
	for _, p := range line {
		if len(pts) == 0 || !pts[len(pts)-1].Equal(p) {
			pts = append(pts, p)
		}
	}
	if len(pts) == 1 {
		return circle(pts[0], width)
	}

	n := len(pts)
	bearings := make([]float64, n)
	for i := range pts {
		switch i {
		case 0:
			bearings[i] = geo.Bearing(pts[0], pts[1])
		case n - 1:
			bearings[i] = geo.Bearing(pts[n-2], pts[n-1])
		default:
			bearings[i] = meanBearing(geo.Bearing(pts[i-1], pts[i]), geo.Bearing(pts[i], pts[i+1]))
		}
	}

	ring := make(orb.Ring, 0, 2*n+2*capSteps)
	for i := 0; i < n; i++ {
		ring = append(ring, geo.PointAtBearingAndDistance(pts[i], bearings[i]-90, width))
	}
	for k := 1; k < capSteps; k++ {
		b := bearings[n-1] - 90 + 180*float64(k)/capSteps
		ring = append(ring, geo.PointAtBearingAndDistance(pts[n-1], b, width))
	}
	for i := n - 1; i >= 0; i-- {
		ring = append(ring, geo.PointAtBearingAndDistance(pts[i], bearings[i]+90, width))
	}
	for k := 1; k < capSteps; k++ {
		b := bearings[0] + 90 + 180*float64(k)/capSteps
		ring = append(ring, geo.PointAtBearingAndDistance(pts[0], b, width))
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

func meanBearing(a, b float64) float64 {
	ar, br := a*math.Pi/180, b*math.Pi/180
	y := math.Sin(ar) + math.Sin(br)
	x := math.Cos(ar) + math.Cos(br)
	if math.Abs(x) < 1e-12 && math.Abs(y) < 1e-12 {
		return a
	}
	return math.Atan2(y, x) * 180 / math.Pi
}

// closePolygon copies the polygon and closes any open ring.
func closePolygon(p orb.Polygon) (orb.Polygon, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("%w: polygon without rings", model.ErrInvalidGeometry)
	}
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		ring := append(orb.Ring(nil), r...)
		if len(ring) > 0 && !ring.Closed() {
			ring = append(ring, ring[0])
		}
		if len(ring) < 4 {
			return nil, fmt.Errorf("%w: ring with %d positions", model.ErrInvalidGeometry, len(ring))
		}
		out[i] = ring
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finitePoints(points []orb.Point) bool {
	for _, p := range points {
		if !finite(p[0]) || !finite(p[1]) {
			return false
		}
	}
	return true
}

func finiteGeometry(g orb.Geometry) bool {
	switch g := g.(type) {
	case orb.Point:
		return finitePoints([]orb.Point{g})
	case orb.MultiPoint:
		return finitePoints(g)
	case orb.LineString:
		return finitePoints(g)
	case orb.Ring:
		return finitePoints(g)
	case orb.MultiLineString:
		for _, ls := range g {
			if !finitePoints(ls) {
				return false
			}
		}
	case orb.Polygon:
		for _, r := range g {
			if !finitePoints(r) {
				return false
			}
		}
	case orb.MultiPolygon:
		for _, p := range g {
			if !finiteGeometry(p) {
				return false
			}
		}
	case orb.Collection:
		for _, member := range g {
			if !finiteGeometry(member) {
				return false
			}
		}
	}
	return true
}
