package routing

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"

	"places_service/internal/config"
	"places_service/internal/domain/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.RoutingConfig{
		Endpoint: srv.URL,
		APIKey:   "key",
		Profile:  "wheelchair",
		Timeout:  5 * time.Second,
	})
}

func TestDirectionsOK(t *testing.T) {
	const route = `{"type":"FeatureCollection","features":[]}`
	var got struct {
		Coordinates [][2]float64 `json:"coordinates"`
		Options     struct {
			AvoidPolygons struct {
				Type string `json:"type"`
			} `json:"avoid_polygons"`
		} `json:"options"`
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/directions/wheelchair/geojson" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "key" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = io.WriteString(w, route)
	})

	avoid := orb.MultiPolygon{{{{8.0, 50.0}, {8.1, 50.0}, {8.1, 50.1}, {8.0, 50.0}}}}
	res, err := c.Directions(context.Background(), []orb.Point{{8.68, 49.41}, {8.69, 49.42}}, avoid)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != model.RouteOK || string(res.Route) != route {
		t.Errorf("result = %+v", res)
	}
	if len(got.Coordinates) != 2 || got.Coordinates[0] != [2]float64{8.68, 49.41} {
		t.Errorf("coordinates = %v", got.Coordinates)
	}
	if got.Options.AvoidPolygons.Type != "MultiPolygon" {
		t.Errorf("avoid polygons type = %q", got.Options.AvoidPolygons.Type)
	}
}

func TestDirectionsRefused(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		outcome  model.RouteOutcome
		code     int
		wantText string
	}{
		{
			name:     "too far",
			status:   http.StatusBadRequest,
			body:     `{"error":{"code":2004,"message":"Request parameters exceed the server configuration limits."}}`,
			outcome:  model.RouteTooFar,
			code:     2004,
			wantText: "Request parameters exceed the server configuration limits.",
		},
		{
			name:     "unroutable point",
			status:   http.StatusNotFound,
			body:     `{"error":{"code":2010,"message":"Could not find routable point"}}`,
			outcome:  model.RouteOtherFailure,
			code:     2010,
			wantText: "Could not find routable point",
		},
		{
			name:     "string error",
			status:   http.StatusForbidden,
			body:     `{"error":"Access to this API has been disallowed"}`,
			outcome:  model.RouteOtherFailure,
			wantText: "Access to this API has been disallowed",
		},
		{
			name:     "no body",
			status:   http.StatusBadGateway,
			outcome:  model.RouteOtherFailure,
			wantText: "Bad Gateway",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			res, err := c.Directions(context.Background(), []orb.Point{{0, 0}, {1, 1}}, nil)
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcome != tt.outcome || res.Code != tt.code || res.Message != tt.wantText {
				t.Errorf("result = %+v", res)
			}
			if res.Route != nil {
				t.Errorf("refused route carries a body")
			}
		})
	}
}

func TestDirectionsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	c := NewClient(config.RoutingConfig{Endpoint: srv.URL, Timeout: time.Second})

	if _, err := c.Directions(context.Background(), []orb.Point{{0, 0}, {1, 1}}, nil); err == nil {
		t.Error("expected an error from a closed server")
	}
}
