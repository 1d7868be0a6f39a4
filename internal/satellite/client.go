package satellite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"geoanalysis-desktop/internal/analysis"
)

const (
	// RequestTimeout aborts a single hung attempt; the abort counts as a
	// retryable failure like any other transport error
	RequestTimeout = 30 * time.Second

	// MaxAttempts bounds the total number of tries per request
	MaxAttempts = 3

	// InitialBackoff is the delay before the first retry; it doubles on
	// each subsequent retry
	InitialBackoff = 1 * time.Second

	UserAgent = "geoanalysis-desktop/1.0"
)

// Client talks to the satellite analysis backend. Transient failures (5xx,
// transport errors, attempt timeouts) are retried with exponential backoff;
// 4xx rejections are surfaced immediately. Responses are normalized into
// analysis types before they leave this package.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	maxAttempts    int
	initialBackoff time.Duration
}

// NewClient creates a backend client with system proxy support
func NewClient(baseURL string) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   RequestTimeout,
			Transport: transport,
		},
		maxAttempts:    MaxAttempts,
		initialBackoff: InitialBackoff,
	}
}

// FetchAmazonDataset fetches the default-region monthly tile layers for a kind
func (c *Client) FetchAmazonDataset(ctx context.Context, kind analysis.Kind) (*analysis.Dataset, error) {
	path := fmt.Sprintf("/api/amazon/%s/", kind)

	var resp amazonResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	if len(resp.MonthlyLayers) == 0 {
		return nil, &DataUnavailableError{Kind: string(kind)}
	}

	return resp.normalize(kind), nil
}

// FetchCustomStatistics fetches monthly statistics for a drawn polygon.
// Coordinates are GeoJSON polygon rings in WGS84 lon/lat order.
func (c *Client) FetchCustomStatistics(ctx context.Context, kind analysis.Kind, rings [][][]float64) (*analysis.Dataset, error) {
	path := fmt.Sprintf("/api/custom/%s/", kind)
	body := customRequest{
		Geometry: geometryEnvelope{
			Geometry: geoJSONGeometry{Type: "Polygon", Coordinates: rings},
		},
	}

	var resp customResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}

	if len(resp.MonthlyStatistics) == 0 {
		return nil, &DataUnavailableError{Kind: string(kind)}
	}

	return resp.normalize(kind), nil
}

// FetchPointMonthly fetches the per-pixel value at a point for one month
func (c *Client) FetchPointMonthly(ctx context.Context, kind analysis.Kind, lat, lon float64, month string) (*analysis.PointResult, error) {
	path := fmt.Sprintf("/api/custom/point/%s/monthly/", kind)
	body := pointMonthlyRequest{Latitude: lat, Longitude: lon, Month: month}

	var resp pointResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}

	if !resp.DataAvailable || resp.value(kind) == nil {
		return nil, &DataUnavailableError{Kind: string(kind), Month: month}
	}

	return resp.normalize(kind, lat, lon), nil
}

// FetchPointCurrent fetches the per-pixel value at a point for the current
// scope (non-monthly), using a GeoJSON Point body
func (c *Client) FetchPointCurrent(ctx context.Context, kind analysis.Kind, lat, lon float64) (*analysis.PointResult, error) {
	path := fmt.Sprintf("/api/custom/point/%s/", kind)
	body := pointCurrentRequest{
		Object: geometryEnvelope{
			Geometry: geoJSONGeometry{Type: "Point", Coordinates: []float64{lon, lat}},
		},
	}

	var resp pointResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}

	if !resp.DataAvailable || resp.value(kind) == nil {
		return nil, &DataUnavailableError{Kind: string(kind)}
	}

	return resp.normalize(kind, lat, lon), nil
}

// do runs one request with bounded retry and decodes the response into out.
// Only 5xx and transport failures are retried; backoff doubles per attempt
// and aborts early when ctx is cancelled.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	backoff := c.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return &NetworkError{Err: ctx.Err()}
			}
			backoff *= 2
		}

		lastErr = c.attempt(ctx, method, path, payload, out, attempt)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return &NetworkError{Err: ctx.Err()}
		}
	}

	return lastErr
}

// attempt performs a single HTTP exchange
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any, attempt int) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		log.Printf("[Satellite] %s %s failed after %s (attempt %d/%d): %v",
			method, path, duration.Round(time.Millisecond), attempt, c.maxAttempts, err)
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	log.Printf("[Satellite] %s %s status=%d duration=%s attempt=%d/%d",
		method, path, resp.StatusCode, duration.Round(time.Millisecond), attempt, c.maxAttempts)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return &ServerError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	case resp.StatusCode >= 400:
		return &ClientError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &ServerError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	return nil
}

// errorMessage extracts the backend's error string from an error body
func errorMessage(data []byte) string {
	var errResp errorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	return ""
}
