package satellite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"geoanalysis-desktop/internal/analysis"
)

const amazonNDVIBody = `{
	"success": true,
	"region": "Amazon Rainforest",
	"time_period": "2024-09 to 2025-08",
	"total_layers": 2,
	"monthly_layers": [
		{
			"month": "2024-09",
			"month_name": "September 2024",
			"tile_url": "https://earthengine.example.com/v1/maps/abc/tiles/{z}/{x}/{y}",
			"vis_params": {"min": 0, "max": 1.0, "palette": ["#ff0000", "#ffff00", "#00ff00"]}
		},
		{
			"month": "2024-10",
			"month_name": "October 2024",
			"tile_url": "https://earthengine.example.com/v1/maps/def/tiles/{z}/{x}/{y}",
			"vis_params": {"min": 0, "max": 1.0, "palette": ["#ff0000", "#ffff00", "#00ff00"]}
		}
	],
	"legend": {
		"title": "NDVI Values",
		"min": 0,
		"max": 1.0,
		"colors": ["#ff0000", "#ffff00", "#00ff00"],
		"labels": ["Low Vegetation", "Moderate Vegetation", "High Vegetation"]
	}
}`

// newTestClient shortens the backoff so retry tests stay fast
func newTestClient(baseURL string) *Client {
	c := NewClient(baseURL)
	c.initialBackoff = 20 * time.Millisecond
	return c
}

func TestRetrySucceedsAfterServerErrors(t *testing.T) {
	var mu sync.Mutex
	var requestTimes []time.Time

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requestTimes = append(requestTimes, time.Now())
		attempt := len(requestTimes)
		mu.Unlock()

		if attempt <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"success": false, "error": "processing failure"}`))
			return
		}
		w.Write([]byte(amazonNDVIBody))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	ds, err := client.FetchAmazonDataset(context.Background(), analysis.KindNDVI)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if len(ds.Entries) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(ds.Entries))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requestTimes) != 3 {
		t.Fatalf("Expected exactly 3 attempts, got %d", len(requestTimes))
	}

	// Backoff must be present and doubling: the second wait is at least
	// 1.5x the first
	firstWait := requestTimes[1].Sub(requestTimes[0])
	secondWait := requestTimes[2].Sub(requestTimes[1])
	if firstWait < client.initialBackoff {
		t.Errorf("First retry waited only %s", firstWait)
	}
	if secondWait < firstWait*3/2 {
		t.Errorf("Expected doubling backoff, waits were %s then %s", firstWait, secondWait)
	}
}

func TestDefaultBackoffConstants(t *testing.T) {
	if InitialBackoff != 1*time.Second {
		t.Errorf("Expected 1s initial backoff, got %s", InitialBackoff)
	}
	if MaxAttempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", MaxAttempts)
	}
}

func TestClientErrorNeverRetries(t *testing.T) {
	var mu sync.Mutex
	requests := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()

		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success": false, "error": "Missing geometry parameter"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.FetchCustomStatistics(context.Background(), analysis.KindNDVI, [][][]float64{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("Expected ClientError, got %v", err)
	}
	if clientErr.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", clientErr.StatusCode)
	}
	if clientErr.Message != "Missing geometry parameter" {
		t.Errorf("Expected backend error message, got %q", clientErr.Message)
	}

	mu.Lock()
	defer mu.Unlock()
	if requests != 1 {
		t.Errorf("A 4xx response must never be retried, saw %d requests", requests)
	}
}

func TestExhaustedRetriesSurfaceServerError(t *testing.T) {
	var mu sync.Mutex
	requests := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success": false, "error": "earth engine quota exceeded"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.FetchAmazonDataset(context.Background(), analysis.KindLST)

	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("Expected ServerError after exhausted retries, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if requests != MaxAttempts {
		t.Errorf("Expected %d attempts, got %d", MaxAttempts, requests)
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := newTestClient(server.URL)

	_, err := client.FetchAmazonDataset(context.Background(), analysis.KindNDVI)

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Expected NetworkError, got %v", err)
	}
}

func TestContextCancellationStopsRetrying(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL) // default 1s backoff

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := client.FetchAmazonDataset(ctx, analysis.KindNDVI)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Expected an error after cancellation")
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Cancellation must abort the backoff sleep, took %s", elapsed)
	}
}

func TestAmazonDatasetNormalization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/amazon/ndvi/" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("Unexpected method: %s", r.Method)
		}
		w.Write([]byte(amazonNDVIBody))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	ds, err := client.FetchAmazonDataset(context.Background(), analysis.KindNDVI)
	if err != nil {
		t.Fatalf("FetchAmazonDataset failed: %v", err)
	}

	if ds.Kind != analysis.KindNDVI || ds.Scope != analysis.ScopeDefault {
		t.Errorf("Unexpected dataset tags: %s/%s", ds.Kind, ds.Scope)
	}
	if ds.TimePeriod != "2024-09 to 2025-08" {
		t.Errorf("Unexpected time period: %s", ds.TimePeriod)
	}
	if !ds.HasTiles() {
		t.Error("Expected a tile-bearing dataset")
	}

	entry := ds.Entries[0]
	if entry.MonthKey != "2024-09" || entry.MonthLabel != "September 2024" {
		t.Errorf("Unexpected first entry: %+v", entry)
	}
	if entry.TileURL == "" || entry.Stats != nil {
		t.Error("Default-scope entries must carry tile URLs and no statistics")
	}
	if entry.VisParams == nil || len(entry.VisParams.Palette) != 3 {
		t.Error("Expected visualization params to survive normalization")
	}
	if ds.Legend == nil || ds.Legend.Title != "NDVI Values" {
		t.Error("Expected the legend to survive normalization")
	}
}

func TestCustomStatisticsNormalizationAndBody(t *testing.T) {
	var captured map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/custom/lst/" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}

		w.Write([]byte(`{
			"success": true,
			"time_period": "2024-09 to 2025-08",
			"total_months": 2,
			"monthly_statistics": [
				{
					"month": "2024-09",
					"month_name": "September 2024",
					"statistics": {"mean": 28.45, "min": 22.1, "max": 35.7},
					"data_available": true
				},
				{
					"month": "2024-10",
					"month_name": "October 2024",
					"statistics": {"mean": null, "min": null, "max": null},
					"data_available": false
				}
			]
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	rings := [][][]float64{{{-60, -5}, {-60, -4}, {-59, -4}, {-60, -5}}}
	ds, err := client.FetchCustomStatistics(context.Background(), analysis.KindLST, rings)
	if err != nil {
		t.Fatalf("FetchCustomStatistics failed: %v", err)
	}

	// The backend expects the geometry nested one level down
	geometry, ok := captured["geometry"].(map[string]any)
	if !ok {
		t.Fatal("Expected a geometry envelope in the request body")
	}
	inner, ok := geometry["geometry"].(map[string]any)
	if !ok {
		t.Fatal("Expected a nested geometry object")
	}
	if inner["type"] != "Polygon" {
		t.Errorf("Expected Polygon geometry, got %v", inner["type"])
	}

	if ds.Scope != analysis.ScopeCustom {
		t.Errorf("Expected custom scope, got %s", ds.Scope)
	}
	if ds.HasTiles() {
		t.Error("Custom datasets must not carry tile URLs")
	}

	first := ds.Entries[0]
	if first.Stats == nil || first.Stats.Mean == nil || *first.Stats.Mean != 28.45 {
		t.Errorf("Unexpected first month statistics: %+v", first.Stats)
	}
	if !first.DataAvailable {
		t.Error("Expected first month to be marked available")
	}

	second := ds.Entries[1]
	if second.DataAvailable {
		t.Error("Expected second month to be marked unavailable")
	}
	if second.Stats == nil || second.Stats.Mean != nil {
		t.Error("Expected null statistics to normalize to nil values")
	}
}

func TestPointMonthlyNormalization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/custom/point/lst/monthly/" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["month"] != "2025-03" {
			t.Errorf("Expected month 2025-03, got %v", body["month"])
		}

		w.Write([]byte(`{
			"success": true,
			"month": "2025-03",
			"month_name": "March 2025",
			"median_lst": 29.34,
			"all_lst_values": [28.9, 29.34, 30.1],
			"image_count": 3,
			"data_available": true
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	result, err := client.FetchPointMonthly(context.Background(), analysis.KindLST, -4.0, -60.0, "2025-03")
	if err != nil {
		t.Fatalf("FetchPointMonthly failed: %v", err)
	}

	if result.Value == nil || *result.Value != 29.34 {
		t.Errorf("Expected median value 29.34, got %v", result.Value)
	}
	if len(result.AllValues) != 3 {
		t.Errorf("Expected 3 individual values, got %d", len(result.AllValues))
	}
	if result.ImageCount != 3 {
		t.Errorf("Expected image count 3, got %d", result.ImageCount)
	}
	if result.Simulated {
		t.Error("Remote results must not be flagged simulated")
	}
}

func TestPointWithoutDataIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"success": true,
			"month": "2025-03",
			"median_ndvi": null,
			"all_ndvi_values": [],
			"image_count": 0,
			"data_available": false
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.FetchPointMonthly(context.Background(), analysis.KindNDVI, -4.0, -60.0, "2025-03")

	var unavailable *DataUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Expected DataUnavailableError, got %v", err)
	}
	if unavailable.Month != "2025-03" {
		t.Errorf("Expected the month to be reported, got %q", unavailable.Month)
	}
}
