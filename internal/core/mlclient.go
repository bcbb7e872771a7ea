package core

import (
	"context"

	"github.com/paulmach/orb"

	"places_service/internal/domain/model"
)

// Upstream is the geodata client pool. It reports failures through
// FeatureCollection.Failure instead of an error.
type Upstream interface {
	Query(ctx context.Context, q model.Query) model.FeatureCollection
}

// FeatureStore is the persistent feature cache.
type FeatureStore interface {
	Put(ctx context.Context, entries []model.CacheEntry) error
	GetAll(ctx context.Context) ([]model.CacheEntry, error)
	GetMany(ctx context.Context, keys []string) (map[string]model.Feature, error)
	Clear(ctx context.Context) error
}

// BatchPredictor scores tag sets with the accessibility model. Batches are
// at most model.MaxPredictBatch long.
type BatchPredictor interface {
	PredictBatch(ctx context.Context, tags []map[string]string, explain bool) ([]model.Prediction, error)
}

// TextClassifier returns one label->probability map per text.
type TextClassifier interface {
	Classify(ctx context.Context, texts, labels []string) ([]map[string]float64, error)
}

type RoutingClient interface {
	Directions(ctx context.Context, coordinates []orb.Point, avoid orb.MultiPolygon) (model.RouteResult, error)
}

type PredictionRecorder interface {
	RecordPrediction(ctx context.Context, placeID string, tags map[string]string, p model.Prediction) error
}
