package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"places_service/internal/core"
	"places_service/internal/domain/model"
	"places_service/internal/logging"
)

// ClientIDHeader scopes cancellation: a new request from the same client
// supersedes the one in flight.
const ClientIDHeader = "X-Client-ID"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// statusClientClosedRequest is reported when the caller went away or was
// superseded.
const statusClientClosedRequest = 499

// Deps are the services behind the HTTP surface. State funcs may be nil.
type Deps struct {
	Discovery   *core.DiscoveryService
	Predictions *core.PredictionService
	Reviews     *core.ReviewService
	Routes      *core.RoutePlanner

	PredictorState  func() model.SessionState
	ClassifierState func() model.SessionState
	WorkerReady     func() bool
}

type Handler struct {
	deps     Deps
	validate *validator.Validate
	log      zerolog.Logger
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logging.With("api"),
	}
}

type errorResponse struct {
	Error string          `json:"error"`
	Kind  model.ErrorKind `json:"kind,omitempty"`
}

type healthResponse struct {
	Status      string             `json:"status"`
	Predictor   model.SessionState `json:"predictor"`
	Classifier  model.SessionState `json:"classifier"`
	WorkerReady bool               `json:"worker_ready"`
}

type discoverRequest struct {
	Viewport         model.Viewport `json:"viewport"`
	Filters          []string       `json:"filters"`
	Enrich           bool           `json:"enrich"`
	IncludeObstacles bool           `json:"include_obstacles"`
}

type placeTagsResponse struct {
	ID   model.Identity    `json:"id"`
	Tags map[string]string `json:"tags"`
}

type placeGeometryResponse struct {
	ID       model.Identity    `json:"id"`
	Geometry *geojson.Geometry `json:"geometry"`
}

type predictRequest struct {
	Places  []model.PlaceInput `json:"places" validate:"required,dive"`
	Explain bool               `json:"explain"`
}

type predictResponse struct {
	Predictions []model.Prediction `json:"predictions"`
}

type classifyRequest struct {
	Texts   []string         `json:"texts" validate:"required,min=1,dive,required"`
	Labels  []string         `json:"labels" validate:"required,min=1,dive,required"`
	Options *classifyOptions `json:"options"`
}

type classifyOptions struct {
	Threshold float64 `json:"threshold" validate:"omitempty,gt=0,lte=1"`
}

type classifyResponse struct {
	Items []model.ClassifiedText `json:"items"`
}

type reviewSummaryRequest struct {
	Reviews     []model.Review `json:"reviews" validate:"dive"`
	Preferences []string       `json:"preferences"`
	Labels      []string       `json:"labels" validate:"dive,required"`
}

type routeRequest struct {
	Coordinates [][2]float64   `json:"coordinates" validate:"required,min=2"`
	Avoid       []avoidRequest `json:"avoid" validate:"dive"`
}

type avoidRequest struct {
	Geometry *geojson.Geometry `json:"geometry"`
	Radius   float64           `json:"radius" validate:"gte=0"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Predictor:  model.SessionUninitialized,
		Classifier: model.SessionUninitialized,
	}
	if h.deps.PredictorState != nil {
		resp.Predictor = h.deps.PredictorState()
	}
	if h.deps.ClassifierState != nil {
		resp.Classifier = h.deps.ClassifierState()
	}
	if h.deps.WorkerReady != nil {
		resp.WorkerReady = h.deps.WorkerReady()
	}
	if resp.Predictor == model.SessionFailed || resp.Classifier == model.SessionFailed {
		resp.Status = "degraded"
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.Viewport.Validate(); err != nil {
		h.writeError(w, err)
		return
	}
	filters, err := model.ParseFilterSet(req.Filters)
	if err != nil {
		h.writeError(w, err)
		return
	}

	res := h.deps.Discovery.Discover(r.Context(), core.DiscoveryRequest{
		ClientID:         clientID(r),
		Viewport:         req.Viewport,
		Filters:          filters,
		Enrich:           req.Enrich,
		IncludeObstacles: req.IncludeObstacles,
	})
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) PlaceTags(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	f, found := h.deps.Discovery.Tags(r.Context(), clientID(r), id)
	if !found {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("%s not found", id)})
		return
	}
	h.writeJSON(w, http.StatusOK, placeTagsResponse{ID: id, Tags: f.Tags})
}

func (h *Handler) PlaceGeometry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	f, found := h.deps.Discovery.Geometry(r.Context(), clientID(r), id)
	if !found || f.Geometry == nil {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("%s not found", id)})
		return
	}
	h.writeJSON(w, http.StatusOK, placeGeometryResponse{ID: id, Geometry: f.Geometry})
}

func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Discovery.ClearCache(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info().Msg("feature cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !h.decode(w, r, &req) {
		return
	}
	preds, err := h.deps.Predictions.Predict(r.Context(), req.Places, req.Explain)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, predictResponse{Predictions: preds})
}

func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	var threshold float64
	if req.Options != nil {
		threshold = req.Options.Threshold
	}
	items, err := h.deps.Reviews.Classify(r.Context(), req.Texts, req.Labels, threshold)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, classifyResponse{Items: items})
}

func (h *Handler) ReviewSummary(w http.ResponseWriter, r *http.Request) {
	var req reviewSummaryRequest
	if !h.decode(w, r, &req) {
		return
	}
	summary, err := h.deps.Reviews.Summarize(r.Context(), req.Reviews, req.Preferences, req.Labels)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if !h.decode(w, r, &req) {
		return
	}

	coords := make([]orb.Point, len(req.Coordinates))
	for i, c := range req.Coordinates {
		coords[i] = orb.Point{c[0], c[1]}
	}
	avoid := make([]model.AvoidFeature, len(req.Avoid))
	for i, a := range req.Avoid {
		if a.Geometry != nil {
			avoid[i].Geometry = a.Geometry.Geometry()
		}
		avoid[i].Radius = a.Radius
	}

	res, err := h.deps.Routes.Plan(r.Context(), clientID(r), coords, avoid)
	if err != nil {
		h.writeError(w, err)
		return
	}

	switch res.Outcome {
	case model.RouteOK:
		w.Header().Set("Content-Type", "application/geo+json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Route)
	case model.RouteTooFar:
		h.writeJSON(w, http.StatusUnprocessableEntity, res)
	default:
		h.writeJSON(w, http.StatusBadGateway, res)
	}
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	id, err := model.ParseIdentity(chi.URLParam(r, "type") + "/" + chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return model.Identity{}, false
	}
	return id, true
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large", Kind: model.ErrorInvalidInput})
			return false
		}
		h.writeError(w, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		h.writeError(w, fmt.Errorf("%w: malformed JSON: %v", model.ErrInvalidInput, err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn().Err(err).Msg("failed to write response")
	}
}

// writeError maps domain errors onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func statusFor(err error) (int, model.ErrorKind) {
	switch {
	case errors.Is(err, model.ErrBatchTooLarge):
		return http.StatusRequestEntityTooLarge, model.ErrorInvalidInput
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrInvalidGeometry):
		return http.StatusBadRequest, model.ErrorInvalidInput
	case errors.Is(err, model.ErrModelUnavailable), errors.Is(err, model.ErrWorkerTerminated):
		return http.StatusServiceUnavailable, model.ErrorModelUnavailable
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, model.ErrorCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, model.ErrorUpstreamTimeout
	default:
		return http.StatusInternalServerError, ""
	}
}

// clientID identifies the caller for request supersession. Without the
// header the remote address is used.
func clientID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ClientIDHeader)); id != "" {
		return id
	}
	return r.RemoteAddr
}
