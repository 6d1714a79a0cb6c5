package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/justineMD2002/FSM-sub001/internal/lib/geo"
)

// geocodeResponse represents the Geocoding API response structure
type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode resolves a street address to a coordinate using the Geocoding API.
// ErrNotFound is returned when the address yields no results.
func (c *Client) Geocode(ctx context.Context, address string) (geo.Point, error) {
	endpoint := c.geocodeBaseURL + "/maps/api/geocode/json"

	q := url.Values{}
	q.Set("address", address)
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return geo.Point{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return geo.Point{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return geo.Point{}, fmt.Errorf("%w: API error %d: %s", ErrProviderUnavailable, resp.StatusCode, string(body))
	}

	var response geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return geo.Point{}, fmt.Errorf("%w: failed to decode response: %v", ErrProviderUnavailable, err)
	}

	switch response.Status {
	case "OK":
		// fall through to result handling
	case "ZERO_RESULTS":
		return geo.Point{}, fmt.Errorf("%w: %q", ErrNotFound, address)
	default:
		return geo.Point{}, fmt.Errorf("%w: geocode status %s", ErrProviderUnavailable, response.Status)
	}

	if len(response.Results) == 0 {
		return geo.Point{}, fmt.Errorf("%w: %q", ErrNotFound, address)
	}

	loc := response.Results[0].Geometry.Location
	point, err := geo.NewPoint(loc.Lat, loc.Lng)
	if err != nil {
		return geo.Point{}, fmt.Errorf("%w: geocode returned invalid coordinates: %v", ErrProviderUnavailable, err)
	}

	return point, nil
}
