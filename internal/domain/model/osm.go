package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type ElementType string

const (
	NodeType     ElementType = "node"
	WayType      ElementType = "way"
	RelationType ElementType = "relation"
)

// Short returns the one-letter prefix used in canonical keys.
func (t ElementType) Short() string {
	switch t {
	case NodeType:
		return "N"
	case WayType:
		return "W"
	case RelationType:
		return "R"
	default:
		return ""
	}
}

// QL returns the Overpass QL statement name for the element type.
func (t ElementType) QL() string {
	if t == RelationType {
		return "rel"
	}
	return string(t)
}

func parseElementType(s string) (ElementType, error) {
	switch strings.ToLower(s) {
	case "n", "node":
		return NodeType, nil
	case "w", "way":
		return WayType, nil
	case "r", "rel", "relation":
		return RelationType, nil
	}
	return "", fmt.Errorf("%w: unknown element type %q", ErrInvalidInput, s)
}

// Identity is the stable upstream identity of an OSM element.
type Identity struct {
	Type ElementType
	ID   int64
}

// Key returns the canonical "kind/id" form, e.g. "W/123".
func (i Identity) Key() string {
	return i.Type.Short() + "/" + strconv.FormatInt(i.ID, 10)
}

func (i Identity) String() string {
	return i.Key()
}

func (i Identity) Valid() bool {
	return i.Type.Short() != "" && i.ID > 0
}

func (i Identity) MarshalText() ([]byte, error) {
	if !i.Valid() {
		return nil, fmt.Errorf("%w: invalid identity %s/%d", ErrInvalidInput, i.Type, i.ID)
	}
	return []byte(i.Key()), nil
}

func (i *Identity) UnmarshalText(text []byte) error {
	id, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = id
	return nil
}

// ParseIdentity accepts both "N/1" and "node/1".
func ParseIdentity(s string) (Identity, error) {
	kind, rawID, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Identity{}, fmt.Errorf("%w: identity %q must be kind/id", ErrInvalidInput, s)
	}
	t, err := parseElementType(kind)
	if err != nil {
		return Identity{}, err
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, fmt.Errorf("%w: invalid element id %q", ErrInvalidInput, rawID)
	}
	return Identity{Type: t, ID: id}, nil
}

// SortIdentities orders identities by type then id.
func SortIdentities(ids []Identity) {
	sort.Slice(ids, func(a, b int) bool {
		if ids[a].Type != ids[b].Type {
			return ids[a].Type < ids[b].Type
		}
		return ids[a].ID < ids[b].ID
	})
}

type GeometryKind string

const (
	GeometryPoint        GeometryKind = "point"
	GeometryLine         GeometryKind = "line"
	GeometryPolygon      GeometryKind = "polygon"
	GeometryMultiPolygon GeometryKind = "multipolygon"
)

// KindOf maps an orb geometry onto the narrow set of shapes features carry.
func KindOf(g orb.Geometry) GeometryKind {
	switch g.(type) {
	case orb.Point:
		return GeometryPoint
	case orb.LineString:
		return GeometryLine
	case orb.Polygon:
		return GeometryPolygon
	case orb.MultiPolygon:
		return GeometryMultiPolygon
	default:
		return ""
	}
}

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Feature struct {
	ID       Identity          `json:"id"`
	Geometry *geojson.Geometry `json:"geometry,omitempty"`
	Tags     map[string]string `json:"tags"`
	Centroid LatLon            `json:"centroid"`
}

func (f Feature) Key() string {
	return f.ID.Key()
}

func (f Feature) Kind() GeometryKind {
	if f.Geometry == nil || f.Geometry.Coordinates == nil {
		return ""
	}
	return KindOf(f.Geometry.Coordinates)
}

// SortFeatures orders features by canonical key.
func SortFeatures(features []Feature) {
	sort.Slice(features, func(a, b int) bool {
		return features[a].Key() < features[b].Key()
	})
}

// CacheEntry is owned by the feature store; Key always equals Feature.Key().
type CacheEntry struct {
	Key      string    `json:"key"`
	Feature  Feature   `json:"feature"`
	LastSeen time.Time `json:"last_seen"`
}

func NewCacheEntry(f Feature, seen time.Time) CacheEntry {
	return CacheEntry{Key: f.Key(), Feature: f, LastSeen: seen}
}

type QueryKind string

const (
	QueryByIDs          QueryKind = "by_ids"
	QueryByViewportIDs  QueryKind = "by_viewport_ids"
	QueryByViewportFull QueryKind = "by_viewport_full"
	QueryGeometryOf     QueryKind = "geometry_of"
	QueryTagsOf         QueryKind = "tags_of"
)

// Detail reports whether the kind uses the long detail timeout.
func (k QueryKind) Detail() bool {
	return k == QueryByIDs || k == QueryGeometryOf
}

// Query is one upstream call. IDs is set for by_ids, geometry_of and tags_of
// and restricts the response to those identities.
type Query struct {
	Kind    QueryKind
	Scope   string
	Payload string
	IDs     []Identity
}

// FeatureCollection is what the upstream pool hands back. Failure is empty on
// success and otherwise names the terminal error class.
type FeatureCollection struct {
	Features []Feature
	Failure  ErrorKind
}

func (c FeatureCollection) Cancelled() bool {
	return c.Failure == ErrorCancelled
}

func (c FeatureCollection) OK() bool {
	return c.Failure == ""
}
