package core

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"places_service/internal/domain/model"
	"places_service/internal/domain/repository"
	"places_service/internal/logging"
	"places_service/internal/metrics"
)

const routeNamespace = "route"

// RoutePlanner proxies one routing request per client; a newer request
// aborts the one in flight.
type RoutePlanner struct {
	client        RoutingClient
	scopes        *repository.ScopeRegistry
	defaultRadius float64
	log           zerolog.Logger
}

func NewRoutePlanner(client RoutingClient, scopes *repository.ScopeRegistry, defaultRadius float64) *RoutePlanner {
	if scopes == nil {
		scopes = repository.NewScopeRegistry()
	}
	return &RoutePlanner{
		client:        client,
		scopes:        scopes,
		defaultRadius: defaultRadius,
		log:           logging.With("route"),
	}
}

// Plan validates the waypoints, builds the avoid polygons and asks the
// routing service for a route. Invalid input fails before any network call.
func (p *RoutePlanner) Plan(
	ctx context.Context,
	clientID string,
	coordinates []orb.Point,
	avoid []model.AvoidFeature,
) (model.RouteResult, error) {
	if len(coordinates) < 2 {
		return model.RouteResult{}, fmt.Errorf("%w: a route needs at least two coordinates", model.ErrInvalidInput)
	}
	for i, c := range coordinates {
		if !finite(c[0]) || !finite(c[1]) || c[0] < -180 || c[0] > 180 || c[1] < -90 || c[1] > 90 {
			return model.RouteResult{}, fmt.Errorf("%w: coordinate %d out of range", model.ErrInvalidInput, i)
		}
	}

	polygons, err := AvoidPolygons(avoid, p.defaultRadius)
	if err != nil {
		return model.RouteResult{}, err
	}

	ctx, release := p.scopes.Acquire(ctx, routeNamespace, clientID)
	defer release()

	res, err := p.client.Directions(ctx, coordinates, polygons)
	if err != nil {
		if ctx.Err() != nil {
			return model.RouteResult{}, ctx.Err()
		}
		p.log.Error().Err(err).Msg("routing request failed")
		res = model.RouteResult{Outcome: model.RouteOtherFailure, Message: err.Error()}
	}

	switch res.Outcome {
	case model.RouteTooFar:
		p.log.Warn().Int("code", res.Code).Msg("route distance too large")
	case model.RouteOtherFailure:
		p.log.Warn().Int("code", res.Code).Str("message", res.Message).Msg("routing refused")
	}
	metrics.RouteOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	return res, nil
}
