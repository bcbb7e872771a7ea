package repository

import (
	"context"
	"time"

	"places_service/internal/logging"
)

// GCService periodically compacts the badger value log. It implements
// suture.Service.
type GCService struct {
	store        *BadgerStore
	interval     time.Duration
	discardRatio float64
}

func NewGCService(store *BadgerStore, interval time.Duration) *GCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCService{store: store, interval: interval, discardRatio: 0.5}
}

func (s *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.store.RunGC(s.discardRatio); err != nil {
				logging.Warn().Err(err).Msg("feature store GC failed")
				continue
			}
			logging.Debug().Dur("took", time.Since(start)).Msg("feature store GC finished")
		}
	}
}

func (s *GCService) String() string {
	return "feature-store-gc"
}
