package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/serjvanilla/go-overpass"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"places_service/internal/config"
	"places_service/internal/domain/model"
	"places_service/internal/logging"
	"places_service/internal/metrics"
)

// OverpassPool runs queries against an ordered list of equivalent Overpass
// interpreters. It never returns an error: terminal failures produce an
// empty collection whose Failure names the error class.
type OverpassPool struct {
	endpoints []*overpassEndpoint
	cfg       config.OverpassConfig
	scopes    *ScopeRegistry
	client    *http.Client
	log       zerolog.Logger

	mu       sync.Mutex
	failures map[model.QueryKind]model.ErrorKind
}

type overpassEndpoint struct {
	url     string
	breaker *gobreaker.CircuitBreaker[overpass.Result]
	limiter *rate.Limiter
}

func NewOverpassPool(cfg config.OverpassConfig, scopes *ScopeRegistry) *OverpassPool {
	if scopes == nil {
		scopes = NewScopeRegistry()
	}
	p := &OverpassPool{
		cfg:      cfg,
		scopes:   scopes,
		client:   &http.Client{},
		log:      logging.With("overpass"),
		failures: make(map[model.QueryKind]model.ErrorKind),
	}
	for _, ep := range cfg.Endpoints {
		p.endpoints = append(p.endpoints, p.newEndpoint(ep))
	}
	return p
}

func (p *OverpassPool) newEndpoint(endpoint string) *overpassEndpoint {
	limit := rate.Inf
	if p.cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(p.cfg.RequestsPerSecond)
	}
	threshold := uint32(p.cfg.BreakerThreshold)

	metrics.CircuitBreakerState.WithLabelValues(endpoint).Set(0)
	breaker := gobreaker.NewCircuitBreaker[overpass.Result](gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Timeout:     p.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return threshold > 0 && counts.ConsecutiveFailures >= threshold
		},
		// A caller abandoning the request says nothing about the endpoint.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Info().Str("endpoint", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &overpassEndpoint{
		url:     endpoint,
		breaker: breaker,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Query executes q. When q.Scope is set, a newer call with the same kind and
// scope cancels this one.
func (p *OverpassPool) Query(ctx context.Context, q model.Query) model.FeatureCollection {
	if q.Scope != "" {
		var release func()
		ctx, release = p.scopes.Acquire(ctx, string(q.Kind), q.Scope)
		defer release()
	}

	start := time.Now()
	defer func() {
		metrics.UpstreamDuration.WithLabelValues(string(q.Kind)).Observe(time.Since(start).Seconds())
	}()

	lastKind := model.ErrorUpstreamOther
	lastErr := errors.New("no overpass endpoints configured")

	for _, ep := range p.endpoints {
		if err := ctx.Err(); err != nil {
			return p.fail(q, model.ErrorCancelled, err)
		}
		if ep.breaker.State() == gobreaker.StateOpen {
			p.log.Warn().Str("endpoint", ep.url).Str("kind", string(q.Kind)).Msg("circuit open, skipping endpoint")
			metrics.UpstreamRequests.WithLabelValues(ep.url, string(q.Kind), "skipped").Inc()
			lastKind, lastErr = model.ErrorUpstreamOther, gobreaker.ErrOpenState
			continue
		}

		result, err := p.queryEndpoint(ctx, ep, q)
		if err == nil {
			p.recordFailure(q.Kind, "")
			return model.FeatureCollection{Features: normalize(result, q)}
		}

		kind := classify(ctx, err)
		if kind == model.ErrorCancelled {
			return p.fail(q, kind, err)
		}
		lastKind, lastErr = kind, err
		p.log.Warn().Err(err).Str("endpoint", ep.url).Str("kind", string(q.Kind)).
			Str("error_kind", string(kind)).Msg("overpass endpoint failed, trying next")
	}

	return p.fail(q, lastKind, lastErr)
}

// LastFailure returns the terminal error class of the most recent call of
// the given kind, or "" if it succeeded.
func (p *OverpassPool) LastFailure(kind model.QueryKind) model.ErrorKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures[kind]
}

func (p *OverpassPool) recordFailure(kind model.QueryKind, errKind model.ErrorKind) {
	p.mu.Lock()
	p.failures[kind] = errKind
	p.mu.Unlock()
}

func (p *OverpassPool) fail(q model.Query, kind model.ErrorKind, err error) model.FeatureCollection {
	p.recordFailure(q.Kind, kind)
	metrics.UpstreamTerminalFailures.WithLabelValues(string(q.Kind), string(kind)).Inc()
	if kind == model.ErrorCancelled {
		p.log.Debug().Str("kind", string(q.Kind)).Str("scope", q.Scope).Msg("overpass query cancelled")
	} else {
		p.log.Error().Err(err).Str("kind", string(q.Kind)).Str("error_kind", string(kind)).Msg("all overpass endpoints failed")
	}
	return model.FeatureCollection{Failure: kind}
}

func (p *OverpassPool) queryEndpoint(ctx context.Context, ep *overpassEndpoint, q model.Query) (overpass.Result, error) {
	timeout := p.cfg.ListTimeout
	if q.Kind.Detail() {
		timeout = p.cfg.DetailTimeout
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.MinDelay
	b.Multiplier = p.cfg.Factor
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	retries := uint64(0)
	if p.cfg.MaxAttempts > 1 {
		retries = uint64(p.cfg.MaxAttempts - 1)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)

	return backoff.RetryWithData(func() (overpass.Result, error) {
		if err := ep.limiter.Wait(ctx); err != nil {
			return overpass.Result{}, backoff.Permanent(&attemptError{kind: classify(ctx, err), err: err})
		}

		res, err := ep.breaker.Execute(func() (overpass.Result, error) {
			return p.attempt(ctx, ep.url, q.Payload, timeout)
		})
		if err == nil {
			metrics.UpstreamRequests.WithLabelValues(ep.url, string(q.Kind), "ok").Inc()
			return res, nil
		}

		var ae *attemptError
		if !errors.As(err, &ae) {
			// breaker rejected the call
			ae = &attemptError{kind: model.ErrorUpstreamOther, err: err}
			metrics.UpstreamRequests.WithLabelValues(ep.url, string(q.Kind), "rejected").Inc()
			return res, backoff.Permanent(ae)
		}
		metrics.UpstreamRequests.WithLabelValues(ep.url, string(q.Kind), string(ae.kind)).Inc()
		if ae.kind != model.ErrorUpstreamOther {
			return res, backoff.Permanent(ae)
		}
		p.log.Debug().Err(err).Str("endpoint", ep.url).Msg("retryable overpass failure")
		return res, ae
	}, policy)
}

func (p *OverpassPool) attempt(ctx context.Context, endpoint, payload string, timeout time.Duration) (overpass.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	doer := &contextDoer{ctx: attemptCtx, client: p.client}
	client := overpass.NewWithSettings(endpoint, 1, doer)
	res, err := client.Query(payload)

	switch {
	case ctx.Err() != nil:
		return res, &attemptError{kind: model.ErrorCancelled, err: ctx.Err()}
	case doer.status == http.StatusTooManyRequests:
		return res, &attemptError{kind: model.ErrorUpstreamRateLimited, status: doer.status, err: errors.New("rate limited")}
	case doer.status == http.StatusGatewayTimeout || errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return res, &attemptError{kind: model.ErrorUpstreamTimeout, status: doer.status, err: errors.New("upstream timeout")}
	case err != nil:
		return res, &attemptError{kind: model.ErrorUpstreamOther, status: doer.status, err: err}
	case doer.status < 200 || doer.status > 299:
		return res, &attemptError{kind: model.ErrorUpstreamOther, status: doer.status, err: errors.New("unexpected status")}
	}
	return res, nil
}

type attemptError struct {
	kind   model.ErrorKind
	status int
	err    error
}

func (e *attemptError) Error() string {
	if e.status != 0 {
		return fmt.Sprintf("%s (HTTP %d): %v", e.kind, e.status, e.err)
	}
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

func (e *attemptError) Unwrap() error {
	return e.err
}

func classify(ctx context.Context, err error) model.ErrorKind {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return model.ErrorCancelled
	}
	var ae *attemptError
	if errors.As(err, &ae) {
		return ae.kind
	}
	return model.ErrorUpstreamOther
}

// contextDoer binds every request go-overpass makes to one attempt's context
// and remembers the last HTTP status for error classification.
type contextDoer struct {
	ctx    context.Context
	client *http.Client
	status int
}

func (d *contextDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.client.Do(req.WithContext(d.ctx))
	if resp != nil {
		d.status = resp.StatusCode
	}
	return resp, err
}

func (d *contextDoer) PostForm(endpoint string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return d.Do(req)
}
