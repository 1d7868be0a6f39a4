package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	goruntime "runtime"
	"sync"
	"sync/atomic"

	"github.com/posthog/posthog-go"
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"geoanalysis-desktop/internal/analysis"
	"geoanalysis-desktop/internal/aoi"
	"geoanalysis-desktop/internal/config"
	"geoanalysis-desktop/internal/dataset"
	"geoanalysis-desktop/internal/geocode"
	"geoanalysis-desktop/internal/maplayer"
	"geoanalysis-desktop/internal/query"
	"geoanalysis-desktop/internal/satellite"
	"geoanalysis-desktop/internal/tileproxy"
)

// Linker flags
var (
	PostHogKey  string
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

// App is the orchestration layer between the map UI and the analysis
// backend. It owns the AOI state machine, the dataset store, the layer
// manager and the click coordinator; every UI interaction lands on a bound
// method here and every state change flows back as a runtime event.
type App struct {
	ctx context.Context

	satClient   *satellite.Client
	store       *dataset.Store
	aoiCtrl     *aoi.Controller
	layers      *maplayer.Manager
	coordinator *query.Coordinator
	tileProxy   *tileproxy.Server
	geocoder    *geocode.Client
	settings    *config.UserSettings
	phClient    posthog.Client

	mu            sync.Mutex
	selectedKind  analysis.Kind
	selectedMonth int

	// epoch invalidates in-flight async work: every kind/mode switch and
	// draw bumps it, and responses dispatched under an older epoch are
	// discarded instead of applied
	epoch       atomic.Int64
	fetchCancel context.CancelFunc

	devMode bool // Enable verbose logging in dev mode only
}

// NewApp creates a new App application struct
func NewApp() *App {
	settings, err := config.LoadSettings()
	if err != nil {
		log.Printf("Failed to load settings, using defaults: %v", err)
		settings = config.DefaultSettings()
	}
	log.Printf("Settings loaded from: %s", config.GetSettingsPath())

	var phClient posthog.Client
	if PostHogKey != "" {
		phConfig := posthog.Config{
			Endpoint: PostHogHost,
		}
		client, err := posthog.NewWithConfig(PostHogKey, phConfig)
		if err != nil {
			log.Printf("Failed to initialize PostHog: %v", err)
		} else {
			phClient = client
		}
	}

	app := &App{
		satClient:    satellite.NewClient(settings.BackendBaseURL),
		store:        dataset.NewStore(),
		aoiCtrl:      aoi.NewController(),
		tileProxy:    tileproxy.NewServer(settings.TileCacheTiles),
		geocoder:     geocode.NewClient("", "geoanalysis-desktop/"+AppVersion),
		settings:     settings,
		phClient:     phClient,
		selectedKind: analysis.Kind(settings.DefaultAnalysisKind),
	}
	app.layers = maplayer.NewManager(&eventLayerSink{app: app})

	return app
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	if err := a.tileProxy.Start(); err != nil {
		wailsRuntime.LogError(ctx, fmt.Sprintf("Failed to start tile proxy: %v", err))
	}

	a.coordinator = query.NewCoordinator(
		ctx,
		a.satClient,
		a.querySnapshot,
		a.epoch.Load,
		func(result *analysis.PointResult) {
			a.emit("point-result", result)
		},
		func(err error) {
			a.emit("notification", map[string]any{
				"type":    "error",
				"message": userMessage(err),
			})
		},
	)

	a.TrackEvent("app_started", map[string]interface{}{
		"version": a.GetAppVersion(),
		"os":      goruntime.GOOS,
		"arch":    goruntime.GOARCH,
	})
}

// Shutdown cleans up resources
func (a *App) Shutdown(ctx context.Context) {
	if a.tileProxy != nil {
		if err := a.tileProxy.Close(); err != nil {
			log.Printf("[App] Tile proxy shutdown failed: %v", err)
		}
	}
	if a.phClient != nil {
		a.phClient.Close()
	}
}

// TrackEvent sends an event to PostHog
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	if a.phClient != nil {
		a.phClient.Enqueue(posthog.Capture{
			DistinctId: "backend_user",
			Event:      event,
			Properties: props,
		})
	}
}

// GetAppVersion returns the current application version
func (a *App) GetAppVersion() string {
	return AppVersion
}

// emit sends a runtime event to the frontend; a nil context (unit tests)
// makes it a no-op
func (a *App) emit(event string, payload any) {
	if a.ctx != nil {
		wailsRuntime.EventsEmit(a.ctx, event, payload)
	}
}

// emitLog sends a log message to the frontend (only in dev mode)
func (a *App) emitLog(message string) {
	if a.devMode && a.ctx != nil {
		wailsRuntime.EventsEmit(a.ctx, "log", message)
	}
}

// bumpEpoch invalidates all in-flight async work: pending dataset fetches
// are aborted and the active point query is cancelled. Returns the new epoch.
func (a *App) bumpEpoch() int64 {
	a.mu.Lock()
	cancel := a.fetchCancel
	a.fetchCancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if a.coordinator != nil {
		a.coordinator.CancelActive()
	}
	return a.epoch.Add(1)
}

// eventLayerSink forwards layer mutations to the map UI as runtime events.
// It is the only path by which overlays reach the map.
type eventLayerSink struct {
	app *App
}

func (s *eventLayerSink) AttachOverlay(handle maplayer.OverlayHandle) {
	s.app.emit("layer-attach", handle)
}

func (s *eventLayerSink) SetOverlayOpacity(id string, opacity float64) {
	s.app.emit("layer-opacity", map[string]any{"id": id, "opacity": opacity})
}

func (s *eventLayerSink) DetachOverlay(id string) {
	s.app.emit("layer-detach", map[string]any{"id": id})
}

func (s *eventLayerSink) SetBaseLayer(kind maplayer.BaseKind) {
	s.app.emit("layer-base", map[string]any{"kind": kind})
}

// MapReady is called by the frontend once the map finished initializing.
// Deferred overlay requests are replayed and the initial dataset is loaded.
func (a *App) MapReady() {
	a.layers.SetReady()

	a.mu.Lock()
	kind := a.selectedKind
	a.mu.Unlock()

	go a.loadDefaultDataset(kind, a.epoch.Load())
}

// ===================
// Analysis selection
// ===================

// SetAnalysisKind switches between NDVI and LST. In-flight work for the old
// kind is invalidated; the new kind's dataset is rendered from cache when
// present and fetched lazily otherwise.
func (a *App) SetAnalysisKind(kindStr string) error {
	kind := analysis.Kind(kindStr)
	if !kind.Valid() {
		return fmt.Errorf("unknown analysis kind: %s", kindStr)
	}

	a.mu.Lock()
	if a.selectedKind == kind {
		a.mu.Unlock()
		return nil
	}
	a.selectedKind = kind
	a.mu.Unlock()

	epoch := a.bumpEpoch()
	log.Printf("[App] Analysis kind switched to %s", kind)
	a.TrackEvent("analysis_kind_changed", map[string]interface{}{"kind": string(kind)})

	if a.aoiCtrl.Mode() == aoi.ModeDefault {
		if ds := a.store.Get(kind, analysis.ScopeDefault); ds != nil {
			a.applyDefaultDataset(ds)
			return nil
		}
		go a.loadDefaultDataset(kind, epoch)
		return nil
	}

	// A feature is drawn. A cached custom dataset for the new kind renders
	// directly; otherwise the feature re-enters pending analysis and the
	// fetch starts automatically.
	if ds := a.store.Get(kind, analysis.ScopeCustom); ds != nil {
		a.emitCustomDataset(ds)
		return nil
	}
	if a.aoiCtrl.RequireReanalysis(kind) {
		go a.RunAnalysis()
	}
	return nil
}

// SetMonth selects a month index into the current dataset. Out-of-range
// indices are clamped to 0 per the month invariant.
func (a *App) SetMonth(index int) {
	a.mu.Lock()
	kind := a.selectedKind
	a.mu.Unlock()

	scope := analysis.ScopeDefault
	if a.aoiCtrl.Mode() != aoi.ModeDefault {
		scope = analysis.ScopeCustom
	}

	ds := a.store.Get(kind, scope)
	clamped := dataset.ClampMonth(ds, index)

	a.mu.Lock()
	a.selectedMonth = clamped
	a.mu.Unlock()

	a.emit("month-changed", map[string]any{"index": clamped})

	if scope == analysis.ScopeDefault && ds != nil {
		a.renderSelectedMonth(ds, a.settings.SmoothTransitions)
	}
}

// SelectedMonth returns the current month index
func (a *App) SelectedMonth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selectedMonth
}

// ===================
// AOI mode switching
// ===================

// SwitchToDefaultMode clears any drawn feature together with its dataset
// and overlay, then restores the default dataset (from cache when present)
func (a *App) SwitchToDefaultMode() {
	cleared := a.aoiCtrl.SwitchToDefault()
	if cleared != nil {
		a.store.ClearCustom()
	}

	epoch := a.bumpEpoch()
	a.layers.HideOverlay()
	a.emit("aoi-mode", map[string]any{"mode": aoi.ModeDefault})

	a.mu.Lock()
	kind := a.selectedKind
	a.mu.Unlock()

	if ds := a.store.Get(kind, analysis.ScopeDefault); ds != nil {
		a.applyDefaultDataset(ds)
		return
	}
	go a.loadDefaultDataset(kind, epoch)
}

// SwitchToDrawMode hides the default overlay (its cached dataset survives)
// and arms the draw interaction
func (a *App) SwitchToDrawMode() {
	a.aoiCtrl.SwitchToDraw()
	a.bumpEpoch()
	a.layers.HideOverlay()
	a.emit("aoi-mode", map[string]any{"mode": aoi.ModeDrawing})
}

// CompletePolygonDraw captures a finished polygon drawing. Any prior feature
// and its derived state are cleared first; analysis starts automatically.
func (a *App) CompletePolygonDraw(rings [][][]float64) error {
	if len(rings) == 0 || len(rings[0]) < 4 {
		return fmt.Errorf("polygon needs at least three vertices")
	}
	a.completeDraw(aoi.NewPolygonFeature(rings))
	return nil
}

// CompletePointDraw captures a finished point drawing
func (a *App) CompletePointDraw(lon, lat float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("coordinate out of range: %f, %f", lat, lon)
	}
	a.completeDraw(aoi.NewPointFeature(lon, lat))
	return nil
}

func (a *App) completeDraw(feature aoi.Feature) {
	a.mu.Lock()
	kind := a.selectedKind
	a.mu.Unlock()

	replaced := a.aoiCtrl.CompleteDraw(feature, kind)
	if replaced != nil {
		a.store.ClearCustom()
	}

	a.bumpEpoch()
	a.layers.HideOverlay()
	a.emit("aoi-feature", feature)
	a.TrackEvent("aoi_drawn", map[string]interface{}{"featureKind": string(feature.Kind)})

	go a.RunAnalysis()
}

// RunAnalysis requests statistics for the drawn feature. It is a no-op
// unless the AOI machine is in pending-analysis state.
func (a *App) RunAnalysis() {
	a.mu.Lock()
	kind := a.selectedKind
	a.mu.Unlock()

	feature, ok := a.aoiCtrl.BeginAnalysis(kind)
	if !ok {
		return
	}

	epoch := a.epoch.Load()
	ctx := a.trackedFetchContext()

	a.emit("analysis-status", map[string]any{"status": aoi.StatusLoading, "featureId": feature.ID})

	var err error
	switch feature.Kind {
	case aoi.FeaturePolygon:
		var ds *analysis.Dataset
		ds, err = a.satClient.FetchCustomStatistics(ctx, kind, feature.Rings)
		if err == nil {
			if a.epoch.Load() != epoch {
				log.Printf("[App] Discarding stale custom dataset (epoch moved)")
				return
			}
			a.store.Set(ds)
			a.clampSelectedMonth(ds)
			a.emitCustomDataset(ds)
		}
	case aoi.FeaturePoint:
		var result *analysis.PointResult
		result, err = a.satClient.FetchPointCurrent(ctx, kind, feature.Point[1], feature.Point[0])
		if err == nil {
			if a.epoch.Load() != epoch {
				log.Printf("[App] Discarding stale point analysis (epoch moved)")
				return
			}
			a.emit("point-result", result)
		}
	}

	if err != nil && (a.epoch.Load() != epoch || errors.Is(err, context.Canceled)) {
		// The fetch was superseded by a kind or mode switch; its outcome
		// must not touch the new pending request
		log.Printf("[App] Discarding cancelled analysis for feature %s", feature.ID)
		return
	}

	if !a.aoiCtrl.FinishAnalysis(feature.ID, err) {
		// Feature was replaced or cleared while the request ran
		return
	}

	if err != nil {
		log.Printf("[App] Analysis failed for feature %s: %v", feature.ID, err)
		a.emit("analysis-status", map[string]any{
			"status":    aoi.StatusError,
			"featureId": feature.ID,
			"error":     userMessage(err),
		})
		return
	}

	a.emit("analysis-status", map[string]any{"status": aoi.StatusSuccess, "featureId": feature.ID})
	a.TrackEvent("analysis_completed", map[string]interface{}{
		"kind":        string(kind),
		"featureKind": string(feature.Kind),
	})
}

// ===================
// Map interaction
// ===================

// HandleMapClick is the single click entry point for the map. The
// coordinator debounces bursts and drops clicks while a query is in flight.
func (a *App) HandleMapClick(x, y float64) {
	if a.coordinator == nil {
		return
	}
	a.coordinator.Submit(x, y)
}

// SwitchBaseLayer replaces the base layer without touching the analysis
// overlay or the drawing layer, and persists the preference
func (a *App) SwitchBaseLayer(kindStr string) error {
	if err := a.layers.SwitchBaseLayer(maplayer.BaseKind(kindStr)); err != nil {
		return err
	}

	a.mu.Lock()
	a.settings.BaseLayer = kindStr
	settings := *a.settings
	a.mu.Unlock()

	return config.SaveSettings(&settings)
}

// SearchLocation runs a free-text geocoding lookup for the search box
func (a *App) SearchLocation(queryText string) ([]geocode.Result, error) {
	ctx := a.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	results, err := a.geocoder.Search(ctx, queryText)
	if err != nil {
		log.Printf("[App] Location search failed: %v", err)
		return nil, fmt.Errorf("location search failed: %w", err)
	}
	return results, nil
}

// ===================
// Dataset plumbing
// ===================

// loadDefaultDataset fetches the default-region dataset for a kind and
// applies it unless the epoch moved while the request was in flight
func (a *App) loadDefaultDataset(kind analysis.Kind, epoch int64) {
	ctx := a.trackedFetchContext()

	a.emit("dataset-loading", map[string]any{"kind": kind, "scope": analysis.ScopeDefault})

	ds, err := a.satClient.FetchAmazonDataset(ctx, kind)
	if err != nil {
		if errors.Is(err, context.Canceled) || a.epoch.Load() != epoch {
			return
		}
		log.Printf("[App] Default dataset fetch failed for %s: %v", kind, err)
		a.emit("notification", map[string]any{"type": "error", "message": userMessage(err)})
		return
	}

	if a.epoch.Load() != epoch {
		log.Printf("[App] Discarding stale %s dataset (epoch moved)", kind)
		return
	}

	a.emitLog(fmt.Sprintf("Loaded %d monthly layers for %s (%s)", len(ds.Entries), kind, ds.TimePeriod))
	a.store.Set(ds)
	a.applyDefaultDataset(ds)
}

// applyDefaultDataset clamps the month selection, announces the dataset and
// renders the selected month's overlay
func (a *App) applyDefaultDataset(ds *analysis.Dataset) {
	a.clampSelectedMonth(ds)

	a.emit("dataset-loaded", map[string]any{
		"kind":       ds.Kind,
		"scope":      ds.Scope,
		"timePeriod": ds.TimePeriod,
		"months":     len(ds.Entries),
		"legend":     ds.Legend,
	})

	a.renderSelectedMonth(ds, a.settings.SmoothTransitions)
}

func (a *App) emitCustomDataset(ds *analysis.Dataset) {
	a.clampSelectedMonth(ds)

	a.emit("dataset-loaded", map[string]any{
		"kind":       ds.Kind,
		"scope":      ds.Scope,
		"timePeriod": ds.TimePeriod,
		"months":     len(ds.Entries),
		"entries":    ds.Entries,
	})
}

// clampSelectedMonth enforces the month bounds invariant against a freshly
// applied dataset
func (a *App) clampSelectedMonth(ds *analysis.Dataset) {
	a.mu.Lock()
	defer a.mu.Unlock()

	clamped := dataset.ClampMonth(ds, a.selectedMonth)
	if clamped != a.selectedMonth {
		log.Printf("[App] Month selection %d out of range for %d entries, reset to %d",
			a.selectedMonth, len(ds.Entries), clamped)
		a.selectedMonth = clamped
	}
}

// renderSelectedMonth shows the overlay for the currently selected month of
// a default-scope dataset. Months without a tile layer render as an explicit
// no-data state.
func (a *App) renderSelectedMonth(ds *analysis.Dataset, smooth bool) {
	a.mu.Lock()
	index := a.selectedMonth
	a.mu.Unlock()

	entry, ok := ds.Entry(index)
	if !ok {
		return
	}

	if entry.TileURL == "" {
		a.layers.HideOverlay()
		a.emit("no-data", map[string]any{"kind": ds.Kind, "month": entry.MonthKey})
		return
	}

	key := fmt.Sprintf("%s-%s", ds.Kind, entry.MonthKey)
	localURL, err := a.tileProxy.Register(key, entry.TileURL)
	if err != nil {
		log.Printf("[App] Tile proxy unavailable for %s: %v", key, err)
		return
	}
	a.emitLog(fmt.Sprintf("Rendering %s through local proxy", key))

	if err := a.layers.ShowOverlay(localURL, smooth); err != nil {
		// Map not ready yet; the manager replays the overlay on MapReady
		log.Printf("[App] Overlay for %s deferred: %v", key, err)
	}
}

// querySnapshot reads the click-query state at dispatch time. Never captured
// at click time, so a debounced burst resolved after a mode switch sees the
// state it should.
func (a *App) querySnapshot() query.Context {
	a.mu.Lock()
	kind := a.selectedKind
	month := a.selectedMonth
	a.mu.Unlock()

	qc := query.Context{
		SelectedKind: kind,
		NDVILoaded:   a.store.Get(analysis.KindNDVI, analysis.ScopeDefault).HasTiles(),
		LSTLoaded:    a.store.Get(analysis.KindLST, analysis.ScopeDefault).HasTiles(),
		Epoch:        a.epoch.Load(),
	}

	if a.aoiCtrl.Mode() == aoi.ModeDefault {
		if ds := a.store.Get(kind, analysis.ScopeDefault); ds != nil {
			if entry, ok := ds.Entry(month); ok {
				qc.MonthKey = entry.MonthKey
			}
		}
	}
	return qc
}

// trackedFetchContext returns a context that bumpEpoch can abort, so a
// superseded fetch is truly cancelled rather than just ignored
func (a *App) trackedFetchContext() context.Context {
	base := a.ctx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)

	a.mu.Lock()
	if a.fetchCancel != nil {
		a.fetchCancel()
	}
	a.fetchCancel = cancel
	a.mu.Unlock()

	return ctx
}

// userMessage converts the error taxonomy into something displayable
func userMessage(err error) string {
	var clientErr *satellite.ClientError
	var serverErr *satellite.ServerError
	var netErr *satellite.NetworkError
	var unavailable *satellite.DataUnavailableError

	switch {
	case errors.As(err, &unavailable):
		return unavailable.Error()
	case errors.As(err, &clientErr):
		return clientErr.Error()
	case errors.As(err, &serverErr):
		return "The analysis service failed to process the request. Please try again."
	case errors.As(err, &netErr):
		return "The analysis service is unreachable. Check your connection and try again."
	default:
		return err.Error()
	}
}
