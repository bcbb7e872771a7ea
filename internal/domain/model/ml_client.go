package model

import "errors"

// ErrorKind classifies failures that cross component boundaries.
type ErrorKind string

const (
	ErrorCancelled           ErrorKind = "cancelled"
	ErrorUpstreamRateLimited ErrorKind = "upstream_rate_limited"
	ErrorUpstreamTimeout     ErrorKind = "upstream_timeout"
	ErrorUpstreamOther       ErrorKind = "upstream_other"
	ErrorModelUnavailable    ErrorKind = "model_unavailable"
	ErrorInvalidInput        ErrorKind = "invalid_input"
	ErrorRoutingTooFar       ErrorKind = "routing_too_far"
	ErrorRoutingOther        ErrorKind = "routing_other"
)

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrInvalidInput     = errors.New("invalid input")
	ErrBatchTooLarge    = errors.New("batch too large")
	ErrWorkerTerminated = errors.New("inference worker terminated")
	ErrInvalidGeometry  = errors.New("invalid geometry")
)

// MaxPredictBatch bounds one predictor call.
const MaxPredictBatch = 100

// SessionState is the lifecycle of a lazily loaded model.
type SessionState string

const (
	SessionUninitialized SessionState = "uninitialized"
	SessionLoading       SessionState = "loading"
	SessionReady         SessionState = "ready"
	SessionFailed        SessionState = "failed"
)

// HypothesisTemplate must stay byte-identical so thresholds stay comparable.
const HypothesisTemplate = "This review mentions {}."

// MentionThreshold is the score above which a label counts as mentioned.
const MentionThreshold = 0.985

// ClassifiedText holds independent per-label probabilities for one text.
type ClassifiedText struct {
	Text     string             `json:"text"`
	Scores   map[string]float64 `json:"scores"`
	Mentions []string           `json:"mentions"`
}
