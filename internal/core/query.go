package core

import (
	"sort"
	"strconv"
	"strings"

	"places_service/internal/domain/model"
)

type ZoomBand string

const (
	BandLowest ZoomBand = "lowest"
	BandLow15  ZoomBand = "low_15"
	BandLow    ZoomBand = "low"
	BandMid    ZoomBand = "mid"
	BandFull   ZoomBand = "full"
)

func BandFor(zoom int) ZoomBand {
	switch {
	case zoom <= 14:
		return BandLowest
	case zoom == 15:
		return BandLow15
	case zoom == 16:
		return BandLow
	case zoom == 17:
		return BandMid
	default:
		return BandFull
	}
}

// Street furniture and similar categories excluded from the full band.
const (
	noisyAmenities = "bench|waste_basket|bicycle_parking|parking_space|vending_machine|recycling|" +
		"grit_bin|waste_disposal|hunting_stand|parking_entrance|drinking_water|clock|post_box|" +
		"telephone|shelter|charging_station|motorcycle_parking|loading_dock"
	noisyLeisure = "pitch|picnic_table|garden|playground|park|track|firepit|outdoor_seating|slipway"
)

var (
	landmarkAmenities = `nwr["amenity"~"^(hospital|townhall|library|university|theatre|cinema|place_of_worship)$"]`
	landmarkTourism   = `nwr["tourism"~"^(museum|attraction|gallery|zoo|theme_park)$"]`
	majorShops        = `nwr["shop"~"^(mall|department_store|supermarket)$"]`

	commonAmenities = `nwr["amenity"~"^(restaurant|cafe|fast_food|bar|pub|pharmacy|bank|toilets|post_office|` +
		`library|hospital|townhall|theatre|cinema|place_of_worship|school|police)$"]`
	commonTourism = `nwr["tourism"~"^(museum|attraction|gallery|zoo|hotel|hostel|information|viewpoint)$"]`
	commonShops   = `nwr["shop"~"^(mall|department_store|supermarket|convenience|bakery|chemist|clothes|books)$"]`

	healthBasic  = `nwr["healthcare"~"^(hospital|clinic)$"]`
	historic     = `nwr["historic"]`
	leisureSport = `nwr["leisure"~"^(sports_centre|stadium|swimming_pool|fitness_centre|ice_rink)$"]`

	mostTourism    = `nwr["tourism"]["tourism"!~"^(yes|no|picnic_site|camp_pitch)$"]`
	healthBroad    = `nwr["healthcare"]`
	medicalAmenity = `nwr["amenity"~"^(doctors|dentist|clinic|social_facility|community_centre)$"]`

	allAmenities = `nwr["amenity"]["amenity"!~"^(` + noisyAmenities + `)$"]`
	allLeisure   = `nwr["leisure"]["leisure"!~"^(` + noisyLeisure + `)$"]`
)

var bandSelectors = map[ZoomBand][]string{
	BandLowest: {landmarkAmenities, landmarkTourism, majorShops},
	BandLow15:  {commonAmenities, commonTourism, commonShops},
	BandLow:    {commonAmenities, commonTourism, commonShops, healthBasic, historic, leisureSport},
	BandMid:    {commonAmenities, mostTourism, commonShops, healthBroad, historic, leisureSport, medicalAmenity},
	BandFull: {
		allAmenities, `nwr["shop"]`, `nwr["tourism"]`, healthBroad, historic, allLeisure,
		`nwr["office"]`, `nwr["craft"]`,
	},
}

// Selectors returns the base selectors for a zoom level. The count never
// grows as zoom decreases.
func Selectors(zoom int) []string {
	return bandSelectors[BandFor(zoom)]
}

// FilterClauses translates a filter set into a disjunction of tag clauses.
// An empty set has no clauses; the full set collapses to one empty clause.
func FilterClauses(filters model.FilterSet) []string {
	if filters.Empty() {
		return nil
	}
	if filters.All() {
		return []string{""}
	}

	var clauses []string
	if known := filters.Known(); len(known) > 0 {
		names := make([]string, len(known))
		for i, t := range known {
			names[i] = string(t)
		}
		pattern := "^(" + strings.Join(names, "|") + ")$"
		for _, key := range model.WheelchairKeys {
			clauses = append(clauses, `["`+key+`"~"`+pattern+`"]`)
		}
	}

	if filters.Has(model.TierUnknown) {
		const recognized = "^(designated|yes|limited|no)$"
		for _, key := range model.WheelchairKeys {
			clauses = append(clauses, `["`+key+`"]["`+key+`"!~"`+recognized+`"]`)
		}
		var absent strings.Builder
		for _, key := range model.WheelchairKeys {
			absent.WriteString(`[!"` + key + `"]`)
		}
		clauses = append(clauses, absent.String())
	}
	return clauses
}

// BuildViewportIDsQuery is the phase-one query: identities only, one
// statement per selector and clause.
func BuildViewportIDsQuery(v model.Viewport, filters model.FilterSet) string {
	clauses := FilterClauses(filters)
	if len(clauses) == 0 {
		return ""
	}
	bbox := "(" + v.BBox() + ");"

	var b strings.Builder
	b.WriteString("[out:json][timeout:25];(")
	for _, sel := range Selectors(v.Zoom) {
		for _, clause := range clauses {
			b.WriteString(sel)
			b.WriteString(clause)
			b.WriteString(bbox)
		}
	}
	b.WriteString(");out ids;")
	return b.String()
}

// BuildByIDsQuery fetches full tags and geometry for the given identities.
func BuildByIDsQuery(ids []model.Identity) string {
	if len(ids) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("[out:json][timeout:60];(")
	writeIDStatements(&b, ids)
	b.WriteString(");out body;>;out skel qt;")
	return b.String()
}

func BuildTagsOfQuery(id model.Identity) string {
	return "[out:json][timeout:25];" + id.Type.QL() + "(id:" + strconv.FormatInt(id.ID, 10) + ");out tags;"
}

func BuildGeometryOfQuery(id model.Identity) string {
	return "[out:json][timeout:60];" + id.Type.QL() + "(id:" + strconv.FormatInt(id.ID, 10) + ");out body;>;out skel qt;"
}

// BuildObstaclesQuery finds steps, kerbs and barriers in the viewport.
func BuildObstaclesQuery(v model.Viewport) string {
	bbox := "(" + v.BBox() + ");"
	selectors := []string{
		`way["highway"="steps"]`,
		`node["highway"="steps"]`,
		`node["kerb"~"^(raised|rolled|yes)$"]`,
		`node["barrier"~"^(kerb|step|bollard|stile|turnstile|kissing_gate|cycle_barrier)$"]`,
		`way["barrier"~"^(kerb|step|wall|fence)$"]["wheelchair"="no"]`,
		`nwr["wheelchair"="no"]["highway"]`,
	}

	var b strings.Builder
	b.WriteString("[out:json][timeout:25];(")
	for _, sel := range selectors {
		b.WriteString(sel)
		b.WriteString(bbox)
	}
	b.WriteString(");out body;>;out skel qt;")
	return b.String()
}

func writeIDStatements(b *strings.Builder, ids []model.Identity) {
	byType := make(map[model.ElementType][]int64)
	for _, id := range ids {
		byType[id.Type] = append(byType[id.Type], id.ID)
	}
	for _, t := range []model.ElementType{model.NodeType, model.WayType, model.RelationType} {
		list := byType[t]
		if len(list) == 0 {
			continue
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		parts := make([]string, len(list))
		for i, id := range list {
			parts[i] = strconv.FormatInt(id, 10)
		}
		b.WriteString(t.QL() + "(id:" + strings.Join(parts, ",") + ");")
	}
}

// MatchesFilter evaluates the FilterClauses disjunction against a tag set.
func MatchesFilter(tags map[string]string, filters model.FilterSet) bool {
	if filters.Empty() {
		return false
	}
	if filters.All() {
		return true
	}

	anyPresent := false
	for _, key := range model.WheelchairKeys {
		value, ok := tags[key]
		if !ok {
			continue
		}
		anyPresent = true
		if model.Recognized(value) {
			if filters.Has(model.AccessTier(value)) {
				return true
			}
		} else if filters.Has(model.TierUnknown) {
			return true
		}
	}
	return !anyPresent && filters.Has(model.TierUnknown)
}

// TierOf derives the displayed tier, preferring the wheelchair key over the
// toilet keys.
func TierOf(tags map[string]string) model.AccessTier {
	for _, key := range model.WheelchairKeys {
		if v := tags[key]; model.Recognized(v) {
			return model.AccessTier(v)
		}
	}
	return model.TierUnknown
}
