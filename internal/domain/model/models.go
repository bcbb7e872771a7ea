package model

import (
	"math"

	"github.com/paulmach/orb"
)

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ConfidenceFor buckets the winning class probability.
func ConfidenceFor(p float64) Confidence {
	switch {
	case p > 0.85:
		return ConfidenceHigh
	case p > 0.65:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Contributor is one active model input and its stored importance.
type Contributor struct {
	Feature    string  `json:"feature"`
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

type Prediction struct {
	Label           string             `json:"label"`
	Probability     float64            `json:"probability"`
	Confidence      Confidence         `json:"confidence"`
	Probabilities   map[string]float64 `json:"probabilities"`
	TopContributors []Contributor      `json:"top_contributors,omitempty"`
}

// EnrichedFeature carries a per-request prediction; it is never persisted.
type EnrichedFeature struct {
	Feature
	Tier       AccessTier  `json:"tier"`
	Prediction *Prediction `json:"prediction,omitempty"`
}

// PlaceInput is a tag dictionary submitted for prediction.
type PlaceInput struct {
	ID   string            `json:"id,omitempty"`
	Tags map[string]string `json:"tags" validate:"required"`
}

// DiscoveryResult is delivered once per viewport request. A cancelled request
// never carries features.
type DiscoveryResult struct {
	Features  []EnrichedFeature `json:"features"`
	Obstacles []Feature         `json:"obstacles,omitempty"`
	Cancelled bool              `json:"cancelled"`
}

type Review struct {
	Text            string             `json:"text"`
	OverallRating   *float64           `json:"overall_rating,omitempty"`
	CategoryRatings map[string]float64 `json:"category_ratings,omitempty"`
}

// ValidRating reports whether a rating takes part in averages.
func ValidRating(r float64) bool {
	return r > 0 && !math.IsNaN(r) && !math.IsInf(r, 0)
}

type ReviewSummary struct {
	CategoryAverages map[string]float64 `json:"category_averages"`
	PersonalScore    *float64           `json:"personal_score,omitempty"`
	GlobalScore      *float64           `json:"global_score,omitempty"`
	MultiLevel       bool               `json:"multi_level"`
	Mentions         []ClassifiedText   `json:"mentions,omitempty"`
}

// AvoidFeature is a user-drawn area to keep routes away from. Radius applies
// to points only; zero means the planner default.
type AvoidFeature struct {
	Geometry orb.Geometry
	Radius   float64
}

type RouteOutcome string

const (
	RouteOK           RouteOutcome = "ok"
	RouteTooFar       RouteOutcome = "too_far"
	RouteOtherFailure RouteOutcome = "other_failure"
)

type RouteResult struct {
	Outcome RouteOutcome `json:"outcome"`
	Route   []byte       `json:"-"`
	Code    int          `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
}
