package repository

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"places_service/internal/domain/model"
)

// PredictionRecorder keeps served predictions so the tabular model can be
// retrained on real traffic.
type PredictionRecorder interface {
	RecordPrediction(ctx context.Context, placeID string, tags map[string]string, p model.Prediction) error
}

type PostgresPredictionRecorder struct {
	db *sqlx.DB
}

func NewPostgresPredictionRecorder(db *sqlx.DB) *PostgresPredictionRecorder {
	return &PostgresPredictionRecorder{db: db}
}

func (r *PostgresPredictionRecorder) Migrate(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS prediction_log (
			id          BIGSERIAL PRIMARY KEY,
			place_id    TEXT,
			tags        JSONB NOT NULL,
			label       TEXT NOT NULL,
			probability DOUBLE PRECISION NOT NULL,
			confidence  TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create prediction_log: %w", err)
	}
	return nil
}

func (r *PostgresPredictionRecorder) RecordPrediction(
	ctx context.Context,
	placeID string,
	tags map[string]string,
	p model.Prediction,
) error {
	const query = `
		INSERT INTO prediction_log (
			place_id, tags, label, probability, confidence, recorded_at
		) VALUES (
			$1, $2, $3, $4, $5, NOW()
		)`

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		placeID, tagsJSON, p.Label, p.Probability, string(p.Confidence),
	)
	return err
}
