package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
)

// Error kinds for the routing and geocoding calls. Callers treat all of
// them as non-fatal: a failed route keeps the previous polyline on screen,
// a failed geocode drops only the affected destination.
var (
	// ErrNoRoute means the API answered but found no drivable path.
	ErrNoRoute = errors.New("google: no drivable route")
	// ErrNotFound means the address could not be resolved to a coordinate.
	ErrNotFound = errors.New("google: address not found")
	// ErrProviderUnavailable covers network failures, quota exhaustion and
	// server-side errors.
	ErrProviderUnavailable = errors.New("google: provider unavailable")
)

// Client provides access to the Google Routes API v2 and the Geocoding API.
type Client struct {
	apiKey         string
	httpClient     *http.Client
	routesBaseURL  string
	geocodeBaseURL string
	geoUtils       geo.GeoUtils
}

// RouteData represents a processed driving route
type RouteData struct {
	DurationSeconds int32
	DistanceMeters  int32
	EncodedPolyline string
	Points          []geo.Point
}

// NewClient creates a client for both Google APIs
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:         apiKey,
		routesBaseURL:  "https://routes.googleapis.com",
		geocodeBaseURL: "https://maps.googleapis.com",
		geoUtils:       geo.NewGeoUtils(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ComputeRoute performs coordinate-based driving route computation
func (c *Client) ComputeRoute(ctx context.Context, origin, destination geo.Point) (*RouteData, error) {
	requestBody := map[string]interface{}{
		"origin": map[string]interface{}{
			"location": map[string]interface{}{
				"latLng": map[string]interface{}{
					"latitude":  origin.Latitude,
					"longitude": origin.Longitude,
				},
			},
		},
		"destination": map[string]interface{}{
			"location": map[string]interface{}{
				"latLng": map[string]interface{}{
					"latitude":  destination.Latitude,
					"longitude": destination.Longitude,
				},
			},
		},
		"travelMode":        "DRIVE",
		"routingPreference": "TRAFFIC_AWARE",
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.routesBaseURL+"/directions/v2:computeRoutes", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Field mask is REQUIRED or the API rejects the request
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", "routes.duration,routes.distanceMeters,routes.polyline.encodedPolyline")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 429 {
		return nil, fmt.Errorf("%w: rate limit exceeded", ErrProviderUnavailable)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: API error %d: %s", ErrProviderUnavailable, resp.StatusCode, string(body))
	}

	var response routesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrProviderUnavailable, err)
	}

	// An empty routes array means the API found no drivable path
	if len(response.Routes) == 0 {
		return nil, ErrNoRoute
	}

	return c.processRoute(response.Routes[0])
}

// processRoute converts a Routes API response entry to RouteData
func (c *Client) processRoute(route routesAPIRoute) (*RouteData, error) {
	durationSeconds, err := parseDuration(route.Duration)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration: %w", err)
	}

	points, err := c.geoUtils.DecodePolyline(route.Polyline.EncodedPolyline)
	if err != nil {
		return nil, fmt.Errorf("failed to decode route polyline: %w", err)
	}

	return &RouteData{
		DurationSeconds: durationSeconds,
		DistanceMeters:  route.DistanceMeters,
		EncodedPolyline: route.Polyline.EncodedPolyline,
		Points:          points,
	}, nil
}

// parseDuration parses Google's duration format like "450s" to seconds
func parseDuration(durationStr string) (int32, error) {
	if durationStr == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	if len(durationStr) > 1 && durationStr[len(durationStr)-1] == 's' {
		durationStr = durationStr[:len(durationStr)-1]
	}

	var seconds int32
	_, err := fmt.Sscanf(durationStr, "%d", &seconds)
	return seconds, err
}

// routesResponse represents the Routes API response structure
type routesResponse struct {
	Routes []routesAPIRoute `json:"routes"`
}

type routesAPIRoute struct {
	Duration       string          `json:"duration"`
	DistanceMeters int32           `json:"distanceMeters"`
	Polyline       routesAPIPolyln `json:"polyline"`
}

type routesAPIPolyln struct {
	EncodedPolyline string `json:"encodedPolyline"`
}
