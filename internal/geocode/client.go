// Package geocode wraps the free-text location search used by the map's
// search box. It talks to a Nominatim-compatible service; this is a side
// feature outside the analysis path, so lookups are single-shot without the
// satellite client's retry machinery.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultEndpoint is the public Nominatim search API
	DefaultEndpoint = "https://nominatim.openstreetmap.org/search"

	requestTimeout = 10 * time.Second
	maxResults     = 5
)

// Result is one geocoding match
type Result struct {
	Label     string  `json:"label"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Client performs free-text location searches
type Client struct {
	endpoint   string
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a geocoding client; an empty endpoint selects the default
func NewClient(endpoint, userAgent string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	return &Client{
		endpoint:  endpoint,
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		},
	}
}

type nominatimResult struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// Search returns up to five matches for a free-text query
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if query == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request failed with status: %d", resp.StatusCode)
	}

	var raw []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		lat, latErr := strconv.ParseFloat(r.Lat, 64)
		lon, lonErr := strconv.ParseFloat(r.Lon, 64)
		if latErr != nil || lonErr != nil {
			continue
		}
		results = append(results, Result{
			Label:     r.DisplayName,
			Latitude:  lat,
			Longitude: lon,
		})
	}

	return results, nil
}
