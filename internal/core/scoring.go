package core

import (
	"places_service/internal/domain/model"
)

// ReviewScorer aggregates star ratings. All methods are pure.
type ReviewScorer struct{}

func (a *ReviewScorer) Analyze(reviews []model.Review, preferences []string) model.ReviewSummary {
	averages := a.CategoryAverages(reviews)
	summary := model.ReviewSummary{
		CategoryAverages: averages,
		MultiLevel:       a.MultiLevel(reviews),
	}
	if score, ok := a.PersonalScore(averages, preferences); ok {
		summary.PersonalScore = &score
	}
	if score, ok := a.GlobalScore(reviews); ok {
		summary.GlobalScore = &score
	}
	return summary
}

// CategoryAverages averages every category over the reviews that rate it.
// Zero and invalid ratings are skipped.
func (a *ReviewScorer) CategoryAverages(reviews []model.Review) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range reviews {
		for category, rating := range r.CategoryRatings {
			if !model.ValidRating(rating) {
				continue
			}
			sums[category] += rating
			counts[category]++
		}
	}

	averages := make(map[string]float64, len(sums))
	for category, sum := range sums {
		averages[category] = sum / float64(counts[category])
	}
	return averages
}

// PersonalScore is the mean of the category averages the user cares about.
// ok is false when none of the preferences has a rating.
func (a *ReviewScorer) PersonalScore(averages map[string]float64, preferences []string) (float64, bool) {
	var (
		sum  float64
		n    int
		seen = make(map[string]bool, len(preferences))
	)
	for _, p := range preferences {
		if seen[p] {
			continue
		}
		seen[p] = true
		if avg, ok := averages[p]; ok {
			sum += avg
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// GlobalScore is the mean overall rating. ok is false without any rating.
func (a *ReviewScorer) GlobalScore(reviews []model.Review) (float64, bool) {
	var (
		sum float64
		n   int
	)
	for _, r := range reviews {
		if r.OverallRating == nil || !model.ValidRating(*r.OverallRating) {
			continue
		}
		sum += *r.OverallRating
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// MultiLevel reports whether any review rates two or more categories.
func (a *ReviewScorer) MultiLevel(reviews []model.Review) bool {
	for _, r := range reviews {
		if len(r.CategoryRatings) >= 2 {
			return true
		}
	}
	return false
}
