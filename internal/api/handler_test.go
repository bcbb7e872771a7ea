package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"places_service/internal/config"
	"places_service/internal/core"
	"places_service/internal/domain/model"
	"places_service/internal/domain/repository"
)

type stubUpstream struct {
	features map[string]model.Feature
}

func (u *stubUpstream) Query(_ context.Context, q model.Query) model.FeatureCollection {
	switch q.Kind {
	case model.QueryByViewportIDs:
		out := make([]model.Feature, 0, len(u.features))
		for _, f := range u.features {
			out = append(out, model.Feature{ID: f.ID})
		}
		return model.FeatureCollection{Features: out}
	case model.QueryByViewportFull:
		return model.FeatureCollection{Features: []model.Feature{}}
	default:
		var out []model.Feature
		for _, id := range q.IDs {
			if f, ok := u.features[id.Key()]; ok {
				out = append(out, f)
			}
		}
		return model.FeatureCollection{Features: out}
	}
}

type stubPredictor struct {
	err error
}

func (p *stubPredictor) PredictBatch(_ context.Context, batch []map[string]string, _ bool) ([]model.Prediction, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([]model.Prediction, len(batch))
	for i := range batch {
		out[i] = model.Prediction{
			Label:         "accessible",
			Probability:   0.9,
			Confidence:    model.ConfidenceHigh,
			Probabilities: map[string]float64{"accessible": 0.9, "limited": 0.05, "not_accessible": 0.05},
		}
	}
	return out, nil
}

type stubClassifier struct{}

func (stubClassifier) Classify(_ context.Context, texts, labels []string) ([]map[string]float64, error) {
	out := make([]map[string]float64, len(texts))
	for i, text := range texts {
		out[i] = map[string]float64{}
		for _, l := range labels {
			if strings.Contains(strings.ToLower(text), l) {
				out[i][l] = 0.99
			} else {
				out[i][l] = 0.01
			}
		}
	}
	return out, nil
}

type stubRouting struct {
	result model.RouteResult
}

func (r *stubRouting) Directions(context.Context, []orb.Point, orb.MultiPolygon) (model.RouteResult, error) {
	return r.result, nil
}

func cafe(key string) model.Feature {
	id, err := model.ParseIdentity(key)
	if err != nil {
		panic(err)
	}
	return model.Feature{
		ID:       id,
		Tags:     map[string]string{"amenity": "cafe", "wheelchair": "yes"},
		Geometry: geojson.NewGeometry(orb.Point{30.52, 50.45}),
		Centroid: model.LatLon{Lat: 50.45, Lon: 30.52},
	}
}

type testEnv struct {
	router    http.Handler
	predictor *stubPredictor
	routing   *stubRouting
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := repository.OpenBadgerStore(config.CacheConfig{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

	upstream := &stubUpstream{features: map[string]model.Feature{
		"N/1": cafe("N/1"),
		"W/2": cafe("W/2"),
	}}
	env := &testEnv{
		predictor: &stubPredictor{},
		routing:   &stubRouting{result: model.RouteResult{Outcome: model.RouteOK, Route: []byte(`{"type":"FeatureCollection","features":[]}`)}},
	}
	scopes := repository.NewScopeRegistry()

	h := NewHandler(Deps{
		Discovery:       core.NewDiscoveryService(upstream, store, env.predictor, scopes, 15),
		Predictions:     core.NewPredictionService(env.predictor, nil, false),
		Reviews:         core.NewReviewService(stubClassifier{}),
		Routes:          core.NewRoutePlanner(env.routing, scopes, 1),
		PredictorState:  func() model.SessionState { return model.SessionReady },
		ClassifierState: func() model.SessionState { return model.SessionFailed },
		WorkerReady:     func() bool { return true },
	})
	env.router = NewRouter(h, config.ServerConfig{CORSOrigins: []string{"*"}})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ClientIDHeader, "test-client")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody[healthResponse](t, rec)
	if got.Status != "degraded" || got.Predictor != model.SessionReady || got.Classifier != model.SessionFailed || !got.WorkerReady {
		t.Errorf("health = %+v", got)
	}
}

func TestDiscover(t *testing.T) {
	env := newTestEnv(t)
	const viewport = `"viewport":{"south":50.44,"west":30.51,"north":50.46,"east":30.53,"zoom":16}`

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCount  int
	}{
		{"all tiers", `{` + viewport + `,"filters":["yes","limited","no","designated","unknown"],"enrich":true}`, http.StatusOK, 2},
		{"empty filter", `{` + viewport + `,"filters":[]}`, http.StatusOK, 0},
		{"unknown tier", `{` + viewport + `,"filters":["maybe"]}`, http.StatusBadRequest, 0},
		{"bad viewport", `{"viewport":{"south":60,"west":30,"north":50,"east":31,"zoom":16},"filters":["yes"]}`, http.StatusBadRequest, 0},
		{"malformed", `{"viewport":`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/places/discover", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			if rec.Code != http.StatusOK {
				return
			}
			got := decodeBody[model.DiscoveryResult](t, rec)
			if got.Cancelled || len(got.Features) != tt.wantCount {
				t.Errorf("result = %+v", got)
			}
			for _, f := range got.Features {
				if f.Prediction == nil || f.Prediction.Label != "accessible" {
					t.Errorf("feature %s not enriched", f.Key())
				}
			}
		})
	}
}

func TestPlaceEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/places/node/1/tags", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("tags status = %d", rec.Code)
	}
	tags := decodeBody[placeTagsResponse](t, rec)
	if tags.ID.Key() != "N/1" || tags.Tags["amenity"] != "cafe" {
		t.Errorf("tags = %+v", tags)
	}

	rec = env.do(t, http.MethodGet, "/api/places/way/2/geometry", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"Point"`) {
		t.Errorf("geometry status = %d body %s", rec.Code, rec.Body.String())
	}

	if rec := env.do(t, http.MethodGet, "/api/places/node/99/tags", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing element status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/places/bogus/1/tags", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad identity status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/cache", ""); rec.Code != http.StatusNoContent {
		t.Errorf("clear cache status = %d", rec.Code)
	}
}

func TestPredictEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/predict", `{"places":[{"id":"a","tags":{"amenity":"cafe"}}],"explain":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[predictResponse](t, rec)
	if len(got.Predictions) != 1 || got.Predictions[0].Label != "accessible" {
		t.Errorf("predictions = %+v", got.Predictions)
	}

	if rec := env.do(t, http.MethodPost, "/api/predict", `{"places":[{"id":"a"}]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing tags status = %d", rec.Code)
	}

	places := make([]string, model.MaxPredictBatch+1)
	for i := range places {
		places[i] = fmt.Sprintf(`{"tags":{"n":"%d"}}`, i)
	}
	body := `{"places":[` + strings.Join(places, ",") + `]}`
	if rec := env.do(t, http.MethodPost, "/api/predict", body); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized batch status = %d", rec.Code)
	}

	env.predictor.err = fmt.Errorf("load session: %w", model.ErrModelUnavailable)
	rec = env.do(t, http.MethodPost, "/api/predict", `{"places":[{"tags":{"amenity":"cafe"}}]}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unavailable model status = %d", rec.Code)
	}
	if e := decodeBody[errorResponse](t, rec); e.Kind != model.ErrorModelUnavailable {
		t.Errorf("error kind = %q", e.Kind)
	}
}

func TestClassifyEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/classify",
		`{"texts":["Nice ramp at the door","Steep stairs"],"labels":["ramp","stairs"],"options":{"threshold":0.9}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[classifyResponse](t, rec)
	if len(got.Items) != 2 {
		t.Fatalf("items = %+v", got.Items)
	}
	if len(got.Items[0].Mentions) != 1 || got.Items[0].Mentions[0] != "ramp" {
		t.Errorf("first mentions = %v", got.Items[0].Mentions)
	}
	if len(got.Items[1].Mentions) != 1 || got.Items[1].Mentions[0] != "stairs" {
		t.Errorf("second mentions = %v", got.Items[1].Mentions)
	}

	for _, body := range []string{
		`{"texts":["x"],"labels":[]}`,
		`{"texts":["x"],"labels":[""]}`,
		`{"texts":["x"],"labels":["ramp"],"options":{"threshold":2}}`,
	} {
		if rec := env.do(t, http.MethodPost, "/api/classify", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, rec.Code)
		}
	}
}

func TestReviewSummaryEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/reviews/summary", `{
		"reviews":[
			{"text":"ramp works","overall_rating":4,"category_ratings":{"entrance":4,"toilet":2}},
			{"text":"fine","overall_rating":2,"category_ratings":{"entrance":2}}
		],
		"preferences":["entrance"],
		"labels":["ramp"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[model.ReviewSummary](t, rec)
	if got.CategoryAverages["entrance"] != 3 || got.PersonalScore == nil || *got.PersonalScore != 3 {
		t.Errorf("summary = %+v", got)
	}
	if got.GlobalScore == nil || *got.GlobalScore != 3 || !got.MultiLevel {
		t.Errorf("summary = %+v", got)
	}
}

func TestRouteEndpoint(t *testing.T) {
	env := newTestEnv(t)
	const body = `{"coordinates":[[8.68,49.41],[8.69,49.42]],"avoid":[{"geometry":{"type":"Point","coordinates":[8.685,49.415]},"radius":5}]}`

	rec := env.do(t, http.MethodPost, "/api/route", body)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/geo+json" {
		t.Fatalf("status = %d content type %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	env.routing.result = model.RouteResult{Outcome: model.RouteTooFar, Code: 2004, Message: "too far"}
	rec = env.do(t, http.MethodPost, "/api/route", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("too far status = %d", rec.Code)
	}
	if got := decodeBody[model.RouteResult](t, rec); got.Outcome != model.RouteTooFar || got.Code != 2004 {
		t.Errorf("too far body = %+v", got)
	}

	env.routing.result = model.RouteResult{Outcome: model.RouteOtherFailure, Code: 2010}
	if rec := env.do(t, http.MethodPost, "/api/route", body); rec.Code != http.StatusBadGateway {
		t.Errorf("other failure status = %d", rec.Code)
	}

	if rec := env.do(t, http.MethodPost, "/api/route", `{"coordinates":[[8.68,49.41]]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("single coordinate status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/route", `{"coordinates":[[8.68,49.41],[8.69,49.42]],"avoid":[{}]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("avoid without geometry status = %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", model.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("x: %w", model.ErrInvalidGeometry), http.StatusBadRequest},
		{fmt.Errorf("x: %w", model.ErrBatchTooLarge), http.StatusRequestEntityTooLarge},
		{fmt.Errorf("x: %w", model.ErrModelUnavailable), http.StatusServiceUnavailable},
		{model.ErrWorkerTerminated, http.StatusServiceUnavailable},
		{context.Canceled, statusClientClosedRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
