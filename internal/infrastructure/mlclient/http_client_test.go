package mlclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"places_service/internal/config"
	"places_service/internal/domain/model"
)

type classifierServer struct {
	calls  atomic.Int32
	mu     sync.Mutex
	scores map[string]map[string]float64
	fail   string
	status int
}

func (s *classifierServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.status != 0 {
			w.WriteHeader(s.status)
			return
		}
		if r.URL.Path != "/models/zero-shot" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}

		var req classifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !req.Parameters.MultiLabel || req.Parameters.HypothesisTemplate != model.HypothesisTemplate {
			t.Errorf("parameters = %+v", req.Parameters)
		}
		if s.fail != "" && req.Inputs == s.fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		// labels come back sorted by score, not in request order
		resp := classifyResponse{Sequence: req.Inputs}
		for i := len(req.Parameters.CandidateLabels) - 1; i >= 0; i-- {
			l := req.Parameters.CandidateLabels[i]
			resp.Labels = append(resp.Labels, l)
			resp.Scores = append(resp.Scores, s.scores[req.Inputs][l])
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func newTestClient(t *testing.T, s *classifierServer) *HTTPMLClient {
	t.Helper()
	srv := httptest.NewServer(s.handler(t))
	t.Cleanup(srv.Close)
	return NewHTTPMLClient(config.ClassifierConfig{
		Endpoint:    srv.URL + "/",
		Model:       "zero-shot",
		APIToken:    "secret",
		Timeout:     5 * time.Second,
		Concurrency: 2,
		MemoTTL:     time.Minute,
		MemoSize:    100,
	})
}

func TestClassify(t *testing.T) {
	s := &classifierServer{scores: map[string]map[string]float64{
		"Great ramp at the entrance": {"ramp": 0.99, "elevator": 0.02, "stairs": 0.1},
		"Only stairs, no lift":       {"ramp": 0.01, "elevator": 0.4, "stairs": 1.3},
	}}
	c := newTestClient(t, s)

	texts := []string{"Great ramp at the entrance", "Only stairs, no lift"}
	labels := []string{"ramp", "elevator", "stairs"}
	got, err := c.Classify(context.Background(), texts, labels)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results", len(got))
	}
	if got[0]["ramp"] != 0.99 || got[0]["elevator"] != 0.02 {
		t.Errorf("first = %v", got[0])
	}
	if got[1]["stairs"] != 1 {
		t.Errorf("score not clamped: %v", got[1])
	}
	for i, scores := range got {
		if len(scores) != len(labels) {
			t.Errorf("text %d scored %d labels", i, len(scores))
		}
	}
	if c.State() != model.SessionReady {
		t.Errorf("state = %s", c.State())
	}
}

func TestClassifyMemoises(t *testing.T) {
	s := &classifierServer{scores: map[string]map[string]float64{
		"ramp": {"ramp": 0.9},
	}}
	c := newTestClient(t, s)
	ctx := context.Background()

	first, err := c.Classify(ctx, []string{"ramp"}, []string{"ramp"})
	if err != nil {
		t.Fatal(err)
	}
	before := s.calls.Load()
	first[0]["ramp"] = 0

	second, err := c.Classify(ctx, []string{"ramp"}, []string{"ramp"})
	if err != nil {
		t.Fatal(err)
	}
	if s.calls.Load() != before {
		t.Errorf("repeat call reached the model")
	}
	if second[0]["ramp"] != 0.9 {
		t.Errorf("memoised scores changed: %v", second[0])
	}
}

func TestClassifyPartialFailure(t *testing.T) {
	s := &classifierServer{
		scores: map[string]map[string]float64{"good": {"ramp": 0.5}},
		fail:   "bad",
	}
	c := newTestClient(t, s)

	got, err := c.Classify(context.Background(), []string{"good", "bad"}, []string{"ramp"})
	if err != nil {
		t.Fatal(err)
	}
	if got[0]["ramp"] != 0.5 {
		t.Errorf("good = %v", got[0])
	}
	if got[1] == nil || len(got[1]) != 0 {
		t.Errorf("failed text = %v, want empty map", got[1])
	}

	s.mu.Lock()
	s.fail = ""
	s.scores["bad"] = map[string]float64{"ramp": 0.3}
	s.mu.Unlock()
	got, err = c.Classify(context.Background(), []string{"bad"}, []string{"ramp"})
	if err != nil || got[0]["ramp"] != 0.3 {
		t.Errorf("failure was memoised: %v %v", got, err)
	}
}

func TestClassifyUnavailable(t *testing.T) {
	s := &classifierServer{status: http.StatusServiceUnavailable}
	c := newTestClient(t, s)

	_, err := c.Classify(context.Background(), []string{"x"}, []string{"ramp"})
	if !errors.Is(err, model.ErrModelUnavailable) {
		t.Fatalf("error = %v, want ErrModelUnavailable", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error does not carry the cause: %v", err)
	}
	if c.State() != model.SessionFailed {
		t.Errorf("state = %s", c.State())
	}
	if err := c.Warmup(context.Background()); !errors.Is(err, model.ErrModelUnavailable) {
		t.Errorf("warmup = %v", err)
	}
}
