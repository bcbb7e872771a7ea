package onnx

import (
	"context"
	"fmt"
	"math"
	"time"

	"places_service/internal/domain/model"
	"places_service/internal/infrastructure/session"
	"places_service/internal/metrics"
)

const metricsLabel = "accessibility"

// Runner executes the model on a row-major [rows, cols] input and returns
// row-major [rows, classes] probabilities.
type Runner interface {
	Run(input []float32, rows, cols int) ([]float32, error)
	Close() error
}

type Predictor struct {
	cfg     ModelConfig
	encoder *Encoder
	session *session.Holder[Runner]
	topN    int
}

func NewPredictor(cfg ModelConfig, holder *session.Holder[Runner], topN int) *Predictor {
	if topN <= 0 {
		topN = 3
	}
	return &Predictor{
		cfg:     cfg,
		encoder: NewEncoder(cfg),
		session: holder,
		topN:    topN,
	}
}

func (p *Predictor) State() model.SessionState {
	return p.session.State()
}

func (p *Predictor) Ready() bool {
	return p.session.Ready()
}

// Init loads the session without running it.
func (p *Predictor) Init(ctx context.Context) error {
	_, err := p.session.Get(ctx)
	return err
}

// Warmup loads the session and runs one all-zero row through it.
func (p *Predictor) Warmup(ctx context.Context) error {
	runner, err := p.session.Get(ctx)
	if err != nil {
		return err
	}
	if _, err := runner.Run(make([]float32, p.encoder.Width()), 1, p.encoder.Width()); err != nil {
		return fmt.Errorf("warmup inference: %w", err)
	}
	return nil
}

func (p *Predictor) Predict(ctx context.Context, tags map[string]string, explain bool) (model.Prediction, error) {
	preds, err := p.PredictBatch(ctx, []map[string]string{tags}, explain)
	if err != nil {
		return model.Prediction{}, err
	}
	return preds[0], nil
}

// PredictBatch scores up to model.MaxPredictBatch tag sets in one run.
func (p *Predictor) PredictBatch(ctx context.Context, batch []map[string]string, explain bool) ([]model.Prediction, error) {
	if len(batch) > model.MaxPredictBatch {
		return nil, fmt.Errorf("%w: %d rows, limit is %d", model.ErrBatchTooLarge, len(batch), model.MaxPredictBatch)
	}
	if len(batch) == 0 {
		return []model.Prediction{}, nil
	}

	runner, err := p.session.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	width := p.encoder.Width()
	input := p.encoder.EncodeBatch(batch)

	start := time.Now()
	probs, err := runner.Run(input, len(batch), width)
	metrics.InferenceDuration.WithLabelValues(metricsLabel).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.InferenceErrors.WithLabelValues(metricsLabel).Inc()
		return nil, fmt.Errorf("run accessibility model: %w", err)
	}

	classes := p.cfg.NClasses
	if len(probs) != len(batch)*classes {
		metrics.InferenceErrors.WithLabelValues(metricsLabel).Inc()
		return nil, fmt.Errorf("model returned %d probabilities for %d rows of %d classes", len(probs), len(batch), classes)
	}

	out := make([]model.Prediction, len(batch))
	for i := range batch {
		out[i] = p.prediction(probs[i*classes : (i+1)*classes])
		if explain {
			out[i].TopContributors = p.encoder.Contributors(input[i*width:(i+1)*width], p.topN)
		}
	}
	return out, nil
}

// prediction renormalises one probability row; the label is its argmax.
func (p *Predictor) prediction(row []float32) model.Prediction {
	clean := make([]float64, len(row))
	var sum float64
	for i, v := range row {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			f = 0
		}
		clean[i] = f
		sum += f
	}

	best := 0
	probabilities := make(map[string]float64, len(row))
	for i := range clean {
		if sum > 0 {
			clean[i] /= sum
		} else {
			clean[i] = 1 / float64(len(clean))
		}
		if clean[i] > clean[best] {
			best = i
		}
		probabilities[p.cfg.Labels[i]] = clean[i]
	}

	return model.Prediction{
		Label:         p.cfg.Labels[best],
		Probability:   clean[best],
		Confidence:    model.ConfidenceFor(clean[best]),
		Probabilities: probabilities,
	}
}
