// Package mlclient talks to a hosted zero-shot text classification model.
package mlclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"places_service/internal/cache"
	"places_service/internal/config"
	"places_service/internal/domain/model"
	"places_service/internal/infrastructure/session"
	"places_service/internal/logging"
	"places_service/internal/metrics"
)

const metricsLabel = "zero_shot"

// probeText is classified once when the session loads.
const probeText = "The entrance has a ramp."

type HTTPMLClient struct {
	endpoint    string
	model       string
	token       string
	concurrency int
	client      *http.Client
	memo        *cache.Cache[map[string]float64]
	session     *session.Holder[struct{}]
	log         zerolog.Logger
}

func NewHTTPMLClient(cfg config.ClassifierConfig) *HTTPMLClient {
	c := &HTTPMLClient{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		token:       cfg.APIToken,
		concurrency: cfg.Concurrency,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		memo: cache.New[map[string]float64](cfg.MemoTTL, cfg.MemoSize),
		log:  logging.With("classifier"),
	}
	if c.concurrency <= 0 {
		c.concurrency = 1
	}
	c.session = session.New("zero-shot:"+cfg.Model, c.probe, nil)
	return c
}

type classifyRequest struct {
	Inputs     string           `json:"inputs"`
	Parameters classifyParams   `json:"parameters"`
	Options    *classifyOptions `json:"options,omitempty"`
}

type classifyParams struct {
	CandidateLabels    []string `json:"candidate_labels"`
	MultiLabel         bool     `json:"multi_label"`
	HypothesisTemplate string   `json:"hypothesis_template"`
}

type classifyOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type classifyResponse struct {
	Sequence string    `json:"sequence"`
	Labels   []string  `json:"labels"`
	Scores   []float64 `json:"scores"`
}

func (c *HTTPMLClient) State() model.SessionState {
	return c.session.State()
}

// Warmup probes the hosted model.
func (c *HTTPMLClient) Warmup(ctx context.Context) error {
	_, err := c.session.Get(ctx)
	return err
}

func (c *HTTPMLClient) probe(ctx context.Context) (struct{}, error) {
	_, err := c.classifyOne(ctx, probeText, []string{"ramp"})
	return struct{}{}, err
}

// Classify returns one label -> probability map per text, in input order.
// Every label is scored independently. A text whose request fails gets an
// empty map; only an unavailable model fails the whole call.
func (c *HTTPMLClient) Classify(ctx context.Context, texts, labels []string) ([]map[string]float64, error) {
	if _, err := c.session.Get(ctx); err != nil {
		return nil, err
	}

	out := make([]map[string]float64, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, text := range texts {
		key := memoKey(text, labels)
		if scores, ok := c.memo.Get(key); ok {
			out[i] = copyScores(scores)
			continue
		}
		g.Go(func() error {
			scores, err := c.classifyOne(gctx, text, labels)
			if err != nil {
				if gctx.Err() == nil {
					c.log.Warn().Err(err).Msg("classification failed, using neutral scores")
				}
				out[i] = map[string]float64{}
				return nil
			}
			c.memo.Set(key, scores)
			out[i] = copyScores(scores)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPMLClient) classifyOne(ctx context.Context, text string, labels []string) (map[string]float64, error) {
	body, err := json.Marshal(classifyRequest{
		Inputs: text,
		Parameters: classifyParams{
			CandidateLabels:    labels,
			MultiLabel:         true,
			HypothesisTemplate: model.HypothesisTemplate,
		},
		Options: &classifyOptions{WaitForModel: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/models/"+c.model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.InferenceDuration.WithLabelValues(metricsLabel).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.InferenceErrors.WithLabelValues(metricsLabel).Inc()
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.InferenceErrors.WithLabelValues(metricsLabel).Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var parsed classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode classifier response: %w", err)
	}
	if len(parsed.Labels) != len(parsed.Scores) {
		return nil, fmt.Errorf("classifier returned %d labels and %d scores", len(parsed.Labels), len(parsed.Scores))
	}

	scores := make(map[string]float64, len(labels))
	for _, l := range labels {
		scores[l] = 0
	}
	for i, l := range parsed.Labels {
		if _, wanted := scores[l]; wanted {
			scores[l] = clamp(parsed.Scores[i])
		}
	}
	return scores, nil
}

func memoKey(text string, labels []string) string {
	return text + "\x00" + strings.Join(labels, "\x1f")
}

func copyScores(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
