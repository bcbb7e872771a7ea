package model

import (
	"fmt"
	"strconv"
	"strings"
)

const MaxZoom = 20

// Viewport is a map window in decimal degrees. Callers normalise the
// antimeridian before building one.
type Viewport struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
	Zoom  int     `json:"zoom"`
}

func (v Viewport) Validate() error {
	if v.South < -90 || v.South > 90 || v.North < -90 || v.North > 90 {
		return fmt.Errorf("%w: latitude out of range [-90, 90]", ErrInvalidInput)
	}
	if v.West < -180 || v.West > 180 || v.East < -180 || v.East > 180 {
		return fmt.Errorf("%w: longitude out of range [-180, 180]", ErrInvalidInput)
	}
	if v.South > v.North || v.West > v.East {
		return fmt.Errorf("%w: south must be <= north and west must be <= east", ErrInvalidInput)
	}
	if v.Zoom < 0 || v.Zoom > MaxZoom {
		return fmt.Errorf("%w: zoom %d out of range [0, %d]", ErrInvalidInput, v.Zoom, MaxZoom)
	}
	return nil
}

// BBox renders the Overpass bounding box "south,west,north,east".
func (v Viewport) BBox() string {
	return strconv.FormatFloat(v.South, 'f', -1, 64) + "," +
		strconv.FormatFloat(v.West, 'f', -1, 64) + "," +
		strconv.FormatFloat(v.North, 'f', -1, 64) + "," +
		strconv.FormatFloat(v.East, 'f', -1, 64)
}

// Contains reports whether the point lies inside the window, edges included.
func (v Viewport) Contains(p LatLon) bool {
	return p.Lat >= v.South && p.Lat <= v.North && p.Lon >= v.West && p.Lon <= v.East
}

// ParseViewport parses "south,west,north,east" plus a zoom level.
func ParseViewport(bbox string, zoom int) (Viewport, error) {
	parts := strings.Split(bbox, ",")
	if len(parts) != 4 {
		return Viewport{}, fmt.Errorf("%w: bbox must have 4 components, got %d", ErrInvalidInput, len(parts))
	}

	var coords [4]float64
	names := [4]string{"south", "west", "north", "east"}
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Viewport{}, fmt.Errorf("%w: invalid %s: %v", ErrInvalidInput, names[i], err)
		}
		coords[i] = value
	}

	v := Viewport{South: coords[0], West: coords[1], North: coords[2], East: coords[3], Zoom: zoom}
	if err := v.Validate(); err != nil {
		return Viewport{}, err
	}
	return v, nil
}

// AccessTier is the accessibility level derived from the wheelchair keys.
type AccessTier string

const (
	TierDesignated AccessTier = "designated"
	TierYes        AccessTier = "yes"
	TierLimited    AccessTier = "limited"
	TierUnknown    AccessTier = "unknown"
	TierNo         AccessTier = "no"
)

// AllTiers is the canonical tier order.
var AllTiers = []AccessTier{TierDesignated, TierYes, TierLimited, TierUnknown, TierNo}

// WheelchairKeys are the tag keys that carry accessibility tiers.
var WheelchairKeys = []string{"wheelchair", "toilets:wheelchair", "wheelchair:toilets"}

func ParseTier(s string) (AccessTier, error) {
	t := AccessTier(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllTiers {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown accessibility filter %q", ErrInvalidInput, s)
}

// Recognized reports whether a raw tag value is one of the explicit tiers.
func Recognized(value string) bool {
	switch AccessTier(value) {
	case TierDesignated, TierYes, TierLimited, TierNo:
		return true
	}
	return false
}

// FilterSet is a de-duplicated set of tiers in canonical order.
type FilterSet []AccessTier

func NewFilterSet(tiers ...AccessTier) FilterSet {
	seen := make(map[AccessTier]bool, len(tiers))
	for _, t := range tiers {
		seen[t] = true
	}
	out := make(FilterSet, 0, len(seen))
	for _, t := range AllTiers {
		if seen[t] {
			out = append(out, t)
		}
	}
	return out
}

// ParseFilterSet parses tier names, rejecting unknown tokens.
func ParseFilterSet(raw []string) (FilterSet, error) {
	tiers := make([]AccessTier, 0, len(raw))
	for _, r := range raw {
		t, err := ParseTier(r)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return NewFilterSet(tiers...), nil
}

func (f FilterSet) Has(t AccessTier) bool {
	for _, x := range f {
		if x == t {
			return true
		}
	}
	return false
}

func (f FilterSet) Empty() bool {
	return len(f) == 0
}

// All reports whether every tier is selected, i.e. no filtering applies.
func (f FilterSet) All() bool {
	for _, t := range AllTiers {
		if !f.Has(t) {
			return false
		}
	}
	return true
}

// Known returns the selected tiers other than unknown.
func (f FilterSet) Known() []AccessTier {
	out := make([]AccessTier, 0, len(f))
	for _, t := range f {
		if t != TierUnknown {
			out = append(out, t)
		}
	}
	return out
}
