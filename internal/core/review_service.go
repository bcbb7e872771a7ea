package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"places_service/internal/domain/model"
	"places_service/internal/logging"
)

type ReviewService struct {
	classifier TextClassifier
	scorer     ReviewScorer
	log        zerolog.Logger
}

func NewReviewService(classifier TextClassifier) *ReviewService {
	return &ReviewService{
		classifier: classifier,
		log:        logging.With("reviews"),
	}
}

// Classify scores every text against every label. Labels scoring above
// threshold are listed as mentions, in label order. A threshold outside
// (0, 1] falls back to model.MentionThreshold.
func (s *ReviewService) Classify(ctx context.Context, texts, labels []string, threshold float64) ([]model.ClassifiedText, error) {
	if len(texts) == 0 || len(labels) == 0 {
		return nil, fmt.Errorf("%w: texts and labels must not be empty", model.ErrInvalidInput)
	}
	for _, l := range labels {
		if strings.TrimSpace(l) == "" {
			return nil, fmt.Errorf("%w: empty label", model.ErrInvalidInput)
		}
	}
	if s.classifier == nil {
		return nil, model.ErrModelUnavailable
	}
	if threshold <= 0 || threshold > 1 {
		threshold = model.MentionThreshold
	}

	scores, err := s.classifier.Classify(ctx, texts, labels)
	if err != nil {
		return nil, err
	}

	items := make([]model.ClassifiedText, len(texts))
	for i, text := range texts {
		item := model.ClassifiedText{Text: text, Scores: map[string]float64{}, Mentions: []string{}}
		if i < len(scores) && scores[i] != nil {
			item.Scores = scores[i]
		}
		for _, l := range labels {
			if item.Scores[l] > threshold {
				item.Mentions = append(item.Mentions, l)
			}
		}
		items[i] = item
	}
	return items, nil
}

// Summarize combines rating scores with flagged labels for the review texts.
// An unavailable classifier leaves the mentions out.
func (s *ReviewService) Summarize(ctx context.Context, reviews []model.Review, preferences, labels []string) (model.ReviewSummary, error) {
	summary := s.scorer.Analyze(reviews, preferences)
	if len(labels) == 0 {
		return summary, nil
	}

	texts := make([]string, 0, len(reviews))
	for _, r := range reviews {
		if strings.TrimSpace(r.Text) != "" {
			texts = append(texts, r.Text)
		}
	}
	if len(texts) == 0 {
		return summary, nil
	}

	mentions, err := s.Classify(ctx, texts, labels, model.MentionThreshold)
	switch {
	case errors.Is(err, model.ErrModelUnavailable):
		s.log.Debug().Msg("review classifier unavailable, summary without mentions")
	case err != nil:
		return model.ReviewSummary{}, err
	default:
		summary.Mentions = mentions
	}
	return summary, nil
}
