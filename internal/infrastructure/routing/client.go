// Package routing is a client for an openrouteservice-compatible
// directions API.
package routing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"places_service/internal/config"
	"places_service/internal/domain/model"
)

// codeTooFar is returned when the route exceeds the server's distance limit.
const codeTooFar = 2004

// maxBody bounds how much of a response is read.
const maxBody = 16 << 20

type Client struct {
	endpoint string
	profile  string
	apiKey   string
	client   *http.Client
}

func NewClient(cfg config.RoutingConfig) *Client {
	profile := cfg.Profile
	if profile == "" {
		profile = "wheelchair"
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		profile:  profile,
		apiKey:   cfg.APIKey,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type directionsRequest struct {
	Coordinates [][2]float64       `json:"coordinates"`
	Options     *directionsOptions `json:"options,omitempty"`
}

type directionsOptions struct {
	AvoidPolygons *geojson.Geometry `json:"avoid_polygons,omitempty"`
}

type errorBody struct {
	Error json.RawMessage `json:"error"`
}

type errorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Directions requests a route through coordinates, avoiding the given
// polygons. Upstream refusals are reported in the result; the error is only
// set when no answer could be obtained.
func (c *Client) Directions(ctx context.Context, coordinates []orb.Point, avoid orb.MultiPolygon) (model.RouteResult, error) {
	reqBody := directionsRequest{Coordinates: make([][2]float64, len(coordinates))}
	for i, p := range coordinates {
		reqBody.Coordinates[i] = [2]float64{p.Lon(), p.Lat()}
	}
	if len(avoid) > 0 {
		reqBody.Options = &directionsOptions{AvoidPolygons: geojson.NewGeometry(avoid)}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return model.RouteResult{}, fmt.Errorf("failed to marshal directions request: %w", err)
	}

	url := fmt.Sprintf("%s/v2/directions/%s/geojson", c.endpoint, c.profile)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return model.RouteResult{}, fmt.Errorf("failed to create directions request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/geo+json, application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return model.RouteResult{}, fmt.Errorf("routing request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return model.RouteResult{}, fmt.Errorf("failed to read routing response: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		return model.RouteResult{Outcome: model.RouteOK, Route: data}, nil
	}

	code, msg := parseError(data)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	outcome := model.RouteOtherFailure
	if code == codeTooFar {
		outcome = model.RouteTooFar
	}
	return model.RouteResult{Outcome: outcome, Code: code, Message: msg}, nil
}

// parseError reads {"error": {"code", "message"}} or {"error": "message"}.
func parseError(data []byte) (int, string) {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil || len(eb.Error) == 0 {
		return 0, ""
	}

	var detail errorDetail
	if err := json.Unmarshal(eb.Error, &detail); err == nil {
		return detail.Code, detail.Message
	}
	var text string
	if err := json.Unmarshal(eb.Error, &text); err == nil {
		return 0, text
	}
	return 0, ""
}
