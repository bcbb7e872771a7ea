package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"places_service/internal/domain/model"
)

// Runs only against a disposable database named by POSTGRES_TEST_URL.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	return s
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	n1 := testFeature(model.NodeType, 1, map[string]string{"wheelchair": "yes"})
	if err := s.Put(ctx, []model.CacheEntry{model.NewCacheEntry(n1, now)}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	updated := testFeature(model.NodeType, 1, map[string]string{"wheelchair": "limited"})
	if err := s.Put(ctx, []model.CacheEntry{model.NewCacheEntry(updated, now)}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.GetMany(ctx, []string{"N/1", "W/9"})
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}
	if len(got) != 1 || got["N/1"].Tags["wheelchair"] != "limited" {
		t.Fatalf("GetMany() = %+v", got)
	}

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || !all[0].LastSeen.Equal(now) {
		t.Fatalf("GetAll() = %+v", all)
	}
}

func TestPredictionRecorder(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	r := NewPostgresPredictionRecorder(s.DB())
	if err := r.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	p := model.Prediction{Label: "accessible", Probability: 0.9, Confidence: model.ConfidenceHigh}
	if err := r.RecordPrediction(ctx, "N/1", map[string]string{"amenity": "cafe"}, p); err != nil {
		t.Fatalf("RecordPrediction() error = %v", err)
	}
}
