package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"places_service/internal/domain/model"
)

type memRecorder struct {
	mu   sync.Mutex
	rows []string
}

func (r *memRecorder) RecordPrediction(_ context.Context, placeID string, _ map[string]string, p model.Prediction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, placeID+"="+p.Label)
	return nil
}

func TestPredictionService(t *testing.T) {
	places := func(n int) []model.PlaceInput {
		out := make([]model.PlaceInput, n)
		for i := range out {
			out[i] = model.PlaceInput{ID: "N/1", Tags: map[string]string{"amenity": "cafe"}}
		}
		return out
	}

	t.Run("records when enabled", func(t *testing.T) {
		rec := &memRecorder{}
		svc := NewPredictionService(&stubPredictor{}, rec, true)
		preds, err := svc.Predict(context.Background(), places(2), false)
		if err != nil {
			t.Fatal(err)
		}
		if len(preds) != 2 || len(rec.rows) != 2 || rec.rows[0] != "N/1=yes" {
			t.Errorf("predictions = %d, recorded = %v", len(preds), rec.rows)
		}
	})

	t.Run("does not record when disabled", func(t *testing.T) {
		rec := &memRecorder{}
		svc := NewPredictionService(&stubPredictor{}, rec, false)
		if _, err := svc.Predict(context.Background(), places(1), false); err != nil {
			t.Fatal(err)
		}
		if len(rec.rows) != 0 {
			t.Errorf("recorded = %v", rec.rows)
		}
	})

	t.Run("rejects oversized batch", func(t *testing.T) {
		pred := &stubPredictor{}
		svc := NewPredictionService(pred, nil, false)
		_, err := svc.Predict(context.Background(), places(model.MaxPredictBatch+1), false)
		if !errors.Is(err, model.ErrBatchTooLarge) {
			t.Errorf("error = %v, want ErrBatchTooLarge", err)
		}
		if pred.calls != 0 {
			t.Errorf("predictor called %d times", pred.calls)
		}
	})

	t.Run("surfaces unavailable model", func(t *testing.T) {
		svc := NewPredictionService(&stubPredictor{err: model.ErrModelUnavailable}, nil, false)
		_, err := svc.Predict(context.Background(), places(1), false)
		if !errors.Is(err, model.ErrModelUnavailable) {
			t.Errorf("error = %v, want ErrModelUnavailable", err)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		svc := NewPredictionService(&stubPredictor{}, nil, false)
		preds, err := svc.Predict(context.Background(), nil, false)
		if err != nil || len(preds) != 0 {
			t.Errorf("Predict(nil) = %v, %v", preds, err)
		}
	})
}
