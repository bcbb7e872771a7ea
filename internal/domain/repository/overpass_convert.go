package repository

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/serjvanilla/go-overpass"

	"places_service/internal/domain/model"
)

// normalize converts an Overpass result into features unique by identity.
// Queries naming IDs keep only those identities; list queries keep only
// tagged elements, which drops the skeleton nodes pulled in by recursion.
func normalize(res overpass.Result, q model.Query) []model.Feature {
	wanted := make(map[string]bool, len(q.IDs))
	for _, id := range q.IDs {
		wanted[id.Key()] = true
	}
	idsOnly := q.Kind == model.QueryByViewportIDs

	keep := func(id model.Identity, tags map[string]string) bool {
		switch {
		case len(wanted) > 0:
			return wanted[id.Key()]
		case idsOnly:
			return true
		default:
			return len(tags) > 0
		}
	}

	features := make([]model.Feature, 0, len(res.Nodes)+len(res.Ways)+len(res.Relations))

	for _, node := range res.Nodes {
		id := model.Identity{Type: model.NodeType, ID: node.ID}
		if !keep(id, node.Tags) {
			continue
		}
		f := model.Feature{ID: id, Tags: copyTags(node.Tags)}
		if !idsOnly {
			f.Geometry = geojson.NewGeometry(orb.Point{node.Lon, node.Lat})
			f.Centroid = model.LatLon{Lat: node.Lat, Lon: node.Lon}
		}
		features = append(features, f)
	}

	for _, way := range res.Ways {
		id := model.Identity{Type: model.WayType, ID: way.ID}
		if !keep(id, way.Tags) {
			continue
		}
		f := model.Feature{ID: id, Tags: copyTags(way.Tags)}
		if !idsOnly {
			if g, c, ok := wayGeometry(way); ok {
				f.Geometry = geojson.NewGeometry(g)
				f.Centroid = c
			}
		}
		features = append(features, f)
	}

	for _, rel := range res.Relations {
		id := model.Identity{Type: model.RelationType, ID: rel.ID}
		if !keep(id, rel.Tags) {
			continue
		}
		f := model.Feature{ID: id, Tags: copyTags(rel.Tags)}
		if !idsOnly {
			g, c, ok := relationGeometry(rel)
			if ok {
				f.Centroid = c
			}
			if g != nil {
				f.Geometry = geojson.NewGeometry(g)
			}
		}
		features = append(features, f)
	}

	model.SortFeatures(features)
	return features
}

// wayGeometry returns a line for open ways and for closed linear features,
// and a polygon for closed areas. The centroid is the mean of distinct nodes.
func wayGeometry(way *overpass.Way) (orb.Geometry, model.LatLon, bool) {
	line := make(orb.LineString, 0, len(way.Nodes))
	for _, node := range way.Nodes {
		if node == nil {
			continue
		}
		line = append(line, orb.Point{node.Lon, node.Lat})
	}
	if len(line) == 0 {
		return nil, model.LatLon{}, false
	}

	closed := len(line) >= 4 && line[0].Equal(line[len(line)-1])
	distinct := []orb.Point(line)
	if closed {
		distinct = distinct[:len(distinct)-1]
	}
	c := meanPoint(distinct)

	if closed && isArea(way.Tags) {
		return orb.Polygon{orb.Ring(line)}, c, true
	}
	if len(line) == 1 {
		return line[0], c, true
	}
	return line, c, true
}

// relationGeometry assembles closed outer members into polygons and attaches
// inner rings to the outer ring that contains them.
func relationGeometry(rel *overpass.Relation) (orb.Geometry, model.LatLon, bool) {
	var (
		outers []orb.Polygon
		inners []orb.Ring
		points []orb.Point
	)

	for _, m := range rel.Members {
		switch {
		case m.Way != nil:
			ring := make(orb.Ring, 0, len(m.Way.Nodes))
			for _, node := range m.Way.Nodes {
				if node == nil {
					continue
				}
				p := orb.Point{node.Lon, node.Lat}
				ring = append(ring, p)
				points = append(points, p)
			}
			if len(ring) < 4 || !ring.Closed() {
				continue
			}
			if m.Role == "inner" {
				inners = append(inners, ring)
			} else {
				outers = append(outers, orb.Polygon{ring})
			}
		case m.Node != nil:
			points = append(points, orb.Point{m.Node.Lon, m.Node.Lat})
		}
	}

	for _, inner := range inners {
		for i := range outers {
			if planar.RingContains(outers[i][0], inner[0]) {
				outers[i] = append(outers[i], inner)
				break
			}
		}
	}

	if len(points) == 0 {
		return nil, model.LatLon{}, false
	}
	c := meanPoint(points)
	if len(outers) == 0 {
		return nil, c, true
	}
	return orb.MultiPolygon(outers), c, true
}

func isArea(tags map[string]string) bool {
	switch tags["area"] {
	case "yes":
		return true
	case "no":
		return false
	}
	for _, linear := range []string{"highway", "barrier", "railway", "waterway"} {
		if _, ok := tags[linear]; ok {
			return false
		}
	}
	return true
}

func meanPoint(points []orb.Point) model.LatLon {
	if len(points) == 0 {
		return model.LatLon{}
	}
	var lat, lon float64
	for _, p := range points {
		lon += p.Lon()
		lat += p.Lat()
	}
	n := float64(len(points))
	return model.LatLon{Lat: lat / n, Lon: lon / n}
}

func copyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
