package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"places_service/internal/domain/model"
	"places_service/internal/logging"
)

type PredictionService struct {
	predictor BatchPredictor
	recorder  PredictionRecorder
	saveData  bool
	log       zerolog.Logger
}

func NewPredictionService(predictor BatchPredictor, recorder PredictionRecorder, saveData bool) *PredictionService {
	return &PredictionService{
		predictor: predictor,
		recorder:  recorder,
		saveData:  saveData,
		log:       logging.With("prediction"),
	}
}

// Predict scores up to model.MaxPredictBatch places in one predictor call.
func (s *PredictionService) Predict(ctx context.Context, places []model.PlaceInput, explain bool) ([]model.Prediction, error) {
	if len(places) == 0 {
		return []model.Prediction{}, nil
	}
	if len(places) > model.MaxPredictBatch {
		return nil, fmt.Errorf("%w: %d places, limit is %d", model.ErrBatchTooLarge, len(places), model.MaxPredictBatch)
	}
	if s.predictor == nil {
		return nil, model.ErrModelUnavailable
	}

	tags := make([]map[string]string, len(places))
	for i, p := range places {
		if p.Tags == nil {
			return nil, fmt.Errorf("%w: place %d has no tags", model.ErrInvalidInput, i)
		}
		tags[i] = p.Tags
	}

	predictions, err := s.predictor.PredictBatch(ctx, tags, explain)
	if err != nil {
		return nil, fmt.Errorf("predict accessibility: %w", err)
	}
	if len(predictions) != len(places) {
		return nil, fmt.Errorf("predictor returned %d predictions for %d places", len(predictions), len(places))
	}

	if s.saveData && s.recorder != nil {
		s.record(context.WithoutCancel(ctx), places, predictions)
	}
	return predictions, nil
}

func (s *PredictionService) record(ctx context.Context, places []model.PlaceInput, predictions []model.Prediction) {
	for i, p := range places {
		if err := s.recorder.RecordPrediction(ctx, p.ID, p.Tags, predictions[i]); err != nil {
			s.log.Warn().Err(err).Str("place", p.ID).Msg("failed to record prediction")
		}
	}
}
