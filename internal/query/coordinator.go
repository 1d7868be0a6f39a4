// Package query turns raw map clicks into point value lookups: clicks are
// debounced, reprojected to geographic coordinates, deduplicated against an
// in-flight query and resolved remotely with a deterministic local fallback.
package query

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/bep/debounce"
	lru "github.com/hashicorp/golang-lru/v2"

	"geoanalysis-desktop/internal/analysis"
	"geoanalysis-desktop/internal/satellite"
)

const (
	// DebounceInterval collapses click bursts; only the last click within
	// the window is dispatched
	DebounceInterval = 300 * time.Millisecond

	// DefaultCacheSize bounds the resolved point-value cache
	DefaultCacheSize = 256
)

// PointFetcher is the remote side of a point query, satisfied by the
// satellite client
type PointFetcher interface {
	FetchPointMonthly(ctx context.Context, kind analysis.Kind, lat, lon float64, month string) (*analysis.PointResult, error)
	FetchPointCurrent(ctx context.Context, kind analysis.Kind, lat, lon float64) (*analysis.PointResult, error)
}

// Context is the query-relevant application state, read at dispatch time
// (never captured at click time) so a burst resolved after a mode switch
// still sees current state.
type Context struct {
	SelectedKind analysis.Kind
	MonthKey     string // empty = query the current scope, not a month
	NDVILoaded   bool   // default-scope NDVI tiles present
	LSTLoaded    bool   // default-scope LST tiles present
	Epoch        int64
}

// ResolveKind picks the query target: when tiles are loaded for exactly one
// kind that kind wins regardless of UI selection; otherwise the UI-selected
// kind is used.
func ResolveKind(qc Context) analysis.Kind {
	switch {
	case qc.NDVILoaded && !qc.LSTLoaded:
		return analysis.KindNDVI
	case qc.LSTLoaded && !qc.NDVILoaded:
		return analysis.KindLST
	default:
		return qc.SelectedKind
	}
}

// Coordinator is the single click handler for the map. At most one query is
// in flight; clicks arriving while one is running are dropped, not queued.
type Coordinator struct {
	fetcher PointFetcher
	cache   *lru.Cache[string, *analysis.PointResult]

	// read current state at handling time
	snapshot func() Context
	// compared against the dispatch-time epoch before delivering
	currentEpoch func() int64

	onResult func(*analysis.PointResult)
	onError  func(error)

	mu           sync.Mutex
	lastX, lastY float64
	inFlight     bool
	activeCancel context.CancelFunc
	debounced    func(func())

	ctx context.Context
}

// NewCoordinator wires a coordinator to its fetch side and state callbacks.
// snapshot must return the current application state; onResult and onError
// deliver outcomes back to the UI layer.
func NewCoordinator(ctx context.Context, fetcher PointFetcher, snapshot func() Context, currentEpoch func() int64, onResult func(*analysis.PointResult), onError func(error)) *Coordinator {
	return NewCoordinatorWithInterval(ctx, fetcher, snapshot, currentEpoch, onResult, onError, DebounceInterval)
}

// NewCoordinatorWithInterval allows a custom debounce window
func NewCoordinatorWithInterval(ctx context.Context, fetcher PointFetcher, snapshot func() Context, currentEpoch func() int64, onResult func(*analysis.PointResult), onError func(error), interval time.Duration) *Coordinator {
	cache, _ := lru.New[string, *analysis.PointResult](DefaultCacheSize)

	return &Coordinator{
		fetcher:      fetcher,
		cache:        cache,
		snapshot:     snapshot,
		currentEpoch: currentEpoch,
		onResult:     onResult,
		onError:      onError,
		debounced:    debounce.New(interval),
		ctx:          ctx,
	}
}

// Submit records a raw click at a projected (Web Mercator) coordinate. The
// debounce timer resets on every click; only the last click in a burst is
// dispatched.
func (c *Coordinator) Submit(x, y float64) {
	c.mu.Lock()
	c.lastX, c.lastY = x, y
	c.mu.Unlock()

	c.debounced(c.dispatch)
}

// CancelActive aborts the in-flight query, if any. Called when a mode or
// kind switch invalidates whatever the query would have answered.
func (c *Coordinator) CancelActive() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeCancel != nil {
		c.activeCancel()
	}
}

// InFlight reports whether a query is currently running
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// dispatch runs after the debounce window closes
func (c *Coordinator) dispatch() {
	c.mu.Lock()
	if c.inFlight {
		// A query is running; this click is dropped, not queued
		c.mu.Unlock()
		return
	}

	x, y := c.lastX, c.lastY
	c.inFlight = true

	queryCtx, cancel := context.WithCancel(c.ctx)
	c.activeCancel = cancel
	c.mu.Unlock()

	lon, lat := MercatorToWGS84(x, y)
	lat = ClampLatitude(lat)

	qc := c.snapshot()
	kind := ResolveKind(qc)

	go c.resolve(queryCtx, cancel, kind, lat, lon, qc)
}

// resolve answers one query: cache, then the remote endpoint, then the
// deterministic fallback
func (c *Coordinator) resolve(ctx context.Context, cancel context.CancelFunc, kind analysis.Kind, lat, lon float64, qc Context) {
	defer func() {
		cancel()
		c.mu.Lock()
		c.inFlight = false
		c.activeCancel = nil
		c.mu.Unlock()
	}()

	key := cacheKey(kind, qc.MonthKey, lat, lon)
	if cached, ok := c.cache.Get(key); ok {
		c.deliver(cached, qc.Epoch)
		return
	}

	var result *analysis.PointResult
	var err error
	if qc.MonthKey != "" {
		result, err = c.fetcher.FetchPointMonthly(ctx, kind, lat, lon, qc.MonthKey)
	} else {
		result, err = c.fetcher.FetchPointCurrent(ctx, kind, lat, lon)
	}

	if err != nil {
		var unavailable *satellite.DataUnavailableError
		switch {
		case errors.As(err, &unavailable):
			// Well-formed response without data: an explicit no-data
			// result, not an error and not a simulation
			result = &analysis.PointResult{
				Kind:       kind,
				Latitude:   lat,
				Longitude:  lon,
				MonthKey:   qc.MonthKey,
				ResolvedAt: time.Now(),
			}
		case ctx.Err() != nil:
			// Superseded by a mode switch; nothing to deliver
			return
		default:
			log.Printf("[Query] Point lookup failed, using simulated value: %v", err)
			result = SimulatedResult(kind, lat, lon, qc.MonthKey)
		}
	}

	if result.Value != nil && !result.Simulated {
		c.cache.Add(key, result)
	}

	c.deliver(result, qc.Epoch)
}

// deliver hands a result to the UI unless the epoch moved while the query
// was in flight
func (c *Coordinator) deliver(result *analysis.PointResult, dispatchEpoch int64) {
	if c.currentEpoch() != dispatchEpoch {
		log.Printf("[Query] Discarding stale point result (epoch %d, now %d)",
			dispatchEpoch, c.currentEpoch())
		return
	}
	if c.onResult != nil {
		c.onResult(result)
	}
}

// SimulatedResult generates the documented offline fallback: a deterministic
// pseudo-random value inside the kind's declared range, derived from the
// query coordinate and month, and flagged Simulated so it is never mistaken
// for measured data.
func SimulatedResult(kind analysis.Kind, lat, lon float64, monthKey string) *analysis.PointResult {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%.5f|%.5f", kind, monthKey, lat, lon)

	min, max := kind.ValueRange()
	fraction := float64(h.Sum64()%100000) / 100000.0
	value := min + fraction*(max-min)

	return &analysis.PointResult{
		Kind:       kind,
		Latitude:   lat,
		Longitude:  lon,
		MonthKey:   monthKey,
		Value:      &value,
		Simulated:  true,
		ResolvedAt: time.Now(),
	}
}

func cacheKey(kind analysis.Kind, month string, lat, lon float64) string {
	return fmt.Sprintf("%s|%s|%.5f|%.5f", kind, month, lat, lon)
}
