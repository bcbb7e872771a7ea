package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"places_service/internal/domain/model"
	"places_service/internal/domain/repository"
	"places_service/internal/logging"
	"places_service/internal/metrics"
)

type DiscoveryState string

const (
	StateIdle            DiscoveryState = "idle"
	StateIDsFetching     DiscoveryState = "ids_fetching"
	StateDiffing         DiscoveryState = "diffing"
	StateDetailsFetching DiscoveryState = "details_fetching"
	StateMerging         DiscoveryState = "merging"
	StateDone            DiscoveryState = "done"
	StateCancelled       DiscoveryState = "cancelled"
)

const discoveryNamespace = "discovery"

type DiscoveryRequest struct {
	ClientID         string
	Viewport         model.Viewport
	Filters          model.FilterSet
	Enrich           bool
	IncludeObstacles bool
}

// Scope is the cancellation key shared by every call made for the request.
func (r DiscoveryRequest) Scope() string {
	return r.ClientID + ":viewport"
}

// DiscoveryService runs the two-phase viewport fetch: identities first, then
// details for whatever the feature store does not already hold.
type DiscoveryService struct {
	upstream       Upstream
	store          FeatureStore
	predictor      BatchPredictor
	scopes         *repository.ScopeRegistry
	showPlacesZoom int
	observer       func(clientID string, state DiscoveryState)
	now            func() time.Time
	log            zerolog.Logger
}

func NewDiscoveryService(
	upstream Upstream,
	store FeatureStore,
	predictor BatchPredictor,
	scopes *repository.ScopeRegistry,
	showPlacesZoom int,
) *DiscoveryService {
	if scopes == nil {
		scopes = repository.NewScopeRegistry()
	}
	return &DiscoveryService{
		upstream:       upstream,
		store:          store,
		predictor:      predictor,
		scopes:         scopes,
		showPlacesZoom: showPlacesZoom,
		now:            time.Now,
		log:            logging.With("discovery"),
	}
}

// SetObserver registers a hook called on every state transition.
func (s *DiscoveryService) SetObserver(fn func(clientID string, state DiscoveryState)) {
	s.observer = fn
}

func (s *DiscoveryService) Discover(ctx context.Context, req DiscoveryRequest) model.DiscoveryResult {
	if req.Viewport.Zoom < s.showPlacesZoom || req.Filters.Empty() {
		s.transition(req, StateDone)
		return model.DiscoveryResult{Features: []model.EnrichedFeature{}}
	}

	ctx, release := s.scopes.Acquire(ctx, discoveryNamespace, req.Scope())
	defer release()

	var (
		g         errgroup.Group
		obstacles []model.Feature
	)
	if req.IncludeObstacles {
		g.Go(func() error {
			res := s.upstream.Query(ctx, model.Query{
				Kind:    model.QueryByViewportFull,
				Scope:   req.Scope(),
				Payload: BuildObstaclesQuery(req.Viewport),
			})
			obstacles = res.Features
			return nil
		})
	}

	features, ok := s.discoverPlaces(ctx, req)
	_ = g.Wait()

	if !ok || ctx.Err() != nil {
		s.transition(req, StateCancelled)
		return model.DiscoveryResult{Features: []model.EnrichedFeature{}, Cancelled: true}
	}

	s.transition(req, StateDone)
	if obstacles == nil {
		obstacles = []model.Feature{}
	}
	return model.DiscoveryResult{Features: features, Obstacles: obstacles}
}

// discoverPlaces returns false when the request was cancelled.
func (s *DiscoveryService) discoverPlaces(ctx context.Context, req DiscoveryRequest) ([]model.EnrichedFeature, bool) {
	s.transition(req, StateIDsFetching)
	ids := s.upstream.Query(ctx, model.Query{
		Kind:    model.QueryByViewportIDs,
		Scope:   req.Scope(),
		Payload: BuildViewportIDsQuery(req.Viewport, req.Filters),
	})
	if ids.Cancelled() || ctx.Err() != nil {
		return nil, false
	}
	if !ids.OK() {
		s.log.Warn().Str("error_kind", string(ids.Failure)).Msg("viewport id query failed")
		return []model.EnrichedFeature{}, true
	}

	s.transition(req, StateDiffing)
	wanted := make([]model.Identity, 0, len(ids.Features))
	wantedKeys := make([]string, 0, len(ids.Features))
	seen := make(map[string]bool, len(ids.Features))
	for _, f := range ids.Features {
		if seen[f.Key()] {
			continue
		}
		seen[f.Key()] = true
		wanted = append(wanted, f.ID)
		wantedKeys = append(wantedKeys, f.Key())
	}

	present, err := s.store.GetMany(ctx, wantedKeys)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		s.log.Warn().Err(err).Msg("feature store read failed, fetching all details")
		present = map[string]model.Feature{}
	}

	var missing []model.Identity
	for _, id := range wanted {
		if _, ok := present[id.Key()]; !ok {
			missing = append(missing, id)
		}
	}
	metrics.FeatureCacheHits.Add(float64(len(present)))
	metrics.FeatureCacheMisses.Add(float64(len(missing)))

	var fetched []model.Feature
	if len(missing) > 0 {
		s.transition(req, StateDetailsFetching)
		res := s.upstream.Query(ctx, model.Query{
			Kind:    model.QueryByIDs,
			Scope:   req.Scope(),
			Payload: BuildByIDsQuery(missing),
			IDs:     missing,
		})
		if res.Cancelled() || ctx.Err() != nil {
			return nil, false
		}
		if res.OK() {
			fetched = res.Features
			s.persist(ctx, fetched)
		} else {
			s.log.Warn().Str("error_kind", string(res.Failure)).Int("missing", len(missing)).
				Msg("detail query failed, returning cached features only")
		}
	}

	s.transition(req, StateMerging)
	merged := make(map[string]model.Feature, len(present)+len(fetched))
	for k, f := range present {
		merged[k] = f
	}
	for _, f := range fetched {
		merged[f.Key()] = f
	}

	features := make([]model.Feature, 0, len(merged))
	for _, key := range wantedKeys {
		f, ok := merged[key]
		if !ok || !MatchesFilter(f.Tags, req.Filters) {
			continue
		}
		features = append(features, f)
	}
	model.SortFeatures(features)

	enriched := make([]model.EnrichedFeature, len(features))
	for i, f := range features {
		enriched[i] = model.EnrichedFeature{Feature: f, Tier: TierOf(f.Tags)}
	}
	if req.Enrich {
		s.enrich(ctx, enriched)
	}
	return enriched, ctx.Err() == nil
}

func (s *DiscoveryService) persist(ctx context.Context, features []model.Feature) {
	if len(features) == 0 {
		return
	}
	now := s.now().UTC()
	entries := make([]model.CacheEntry, len(features))
	for i, f := range features {
		entries[i] = model.NewCacheEntry(f, now)
	}
	// Written before the result is delivered; a cancelled request still
	// keeps what it fetched.
	if err := s.store.Put(context.WithoutCancel(ctx), entries); err != nil {
		s.log.Warn().Err(err).Int("count", len(entries)).Msg("failed to persist fetched features")
	}
}

// enrich attaches predictions in place. An unavailable model leaves the
// features as they are.
func (s *DiscoveryService) enrich(ctx context.Context, features []model.EnrichedFeature) {
	if s.predictor == nil {
		return
	}
	for start := 0; start < len(features); start += model.MaxPredictBatch {
		end := min(start+model.MaxPredictBatch, len(features))
		tags := make([]map[string]string, end-start)
		for i := range tags {
			tags[i] = features[start+i].Tags
		}

		preds, err := s.predictor.PredictBatch(ctx, tags, false)
		if err != nil {
			if errors.Is(err, model.ErrModelUnavailable) {
				s.log.Debug().Msg("accessibility model unavailable, skipping enrichment")
			} else if ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("enrichment failed")
			}
			return
		}
		for i := range preds {
			if start+i < end {
				p := preds[i]
				features[start+i].Prediction = &p
			}
		}
	}
}

func (s *DiscoveryService) transition(req DiscoveryRequest, state DiscoveryState) {
	s.log.Debug().Str("client", req.ClientID).Str("state", string(state)).Msg("discovery state")
	if state == StateDone || state == StateCancelled {
		metrics.DiscoveryOutcomes.WithLabelValues(string(state)).Inc()
	}
	if s.observer != nil {
		s.observer(req.ClientID, state)
	}
}

// Tags returns the current tags of one element, bypassing the cache.
func (s *DiscoveryService) Tags(ctx context.Context, clientID string, id model.Identity) (model.Feature, bool) {
	res := s.upstream.Query(ctx, model.Query{
		Kind:    model.QueryTagsOf,
		Scope:   clientID + ":" + id.Key(),
		Payload: BuildTagsOfQuery(id),
		IDs:     []model.Identity{id},
	})
	if len(res.Features) == 0 {
		return model.Feature{}, false
	}
	return res.Features[0], true
}

// Geometry returns the full geometry of one element.
func (s *DiscoveryService) Geometry(ctx context.Context, clientID string, id model.Identity) (model.Feature, bool) {
	res := s.upstream.Query(ctx, model.Query{
		Kind:    model.QueryGeometryOf,
		Scope:   clientID + ":" + id.Key(),
		Payload: BuildGeometryOfQuery(id),
		IDs:     []model.Identity{id},
	})
	if len(res.Features) == 0 {
		return model.Feature{}, false
	}
	return res.Features[0], true
}

func (s *DiscoveryService) ClearCache(ctx context.Context) error {
	return s.store.Clear(ctx)
}

func (s *DiscoveryService) CachedFeatures(ctx context.Context) ([]model.CacheEntry, error) {
	return s.store.GetAll(ctx)
}
