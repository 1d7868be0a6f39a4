// Package aoi owns the area-of-interest state machine: the toggle between
// the fixed default region and a single user-drawn feature, and the gating
// of remote analysis requests on that feature.
package aoi

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"geoanalysis-desktop/internal/analysis"
)

// Mode is the controller state
type Mode string

const (
	// ModeDefault shows the fixed Amazon region
	ModeDefault Mode = "default"
	// ModeDrawing means the user has entered draw mode but not finished a shape
	ModeDrawing Mode = "drawing"
	// ModeDrawn means a feature exists but no analysis has been requested yet
	ModeDrawn Mode = "drawn"
	// ModePendingAnalysis means the drawn feature awaits (or failed) analysis
	ModePendingAnalysis Mode = "pending_analysis"
	// ModeAnalyzed means the drawn feature has an analysis result
	ModeAnalyzed Mode = "analyzed"
)

// FeatureKind is the geometry type of a drawn feature
type FeatureKind string

const (
	FeaturePoint   FeatureKind = "point"
	FeaturePolygon FeatureKind = "polygon"
)

// Feature is the single user-drawn area of interest. At most one exists;
// drawing a new one atomically replaces and invalidates the prior one.
type Feature struct {
	ID        string        `json:"id"`
	Kind      FeatureKind   `json:"kind"`
	Point     []float64     `json:"point,omitempty"` // lon, lat
	Rings     [][][]float64 `json:"rings,omitempty"` // GeoJSON polygon rings
	CreatedAt time.Time     `json:"createdAt"`
}

// NewPointFeature creates a point feature at lon/lat
func NewPointFeature(lon, lat float64) Feature {
	return Feature{
		ID:        uuid.NewString(),
		Kind:      FeaturePoint,
		Point:     []float64{lon, lat},
		CreatedAt: time.Now(),
	}
}

// NewPolygonFeature creates a polygon feature from GeoJSON rings
func NewPolygonFeature(rings [][][]float64) Feature {
	return Feature{
		ID:        uuid.NewString(),
		Kind:      FeaturePolygon,
		Rings:     rings,
		CreatedAt: time.Now(),
	}
}

// RequestStatus tracks the analysis outcome for a drawn feature
type RequestStatus string

const (
	StatusIdle    RequestStatus = "idle"
	StatusLoading RequestStatus = "loading"
	StatusSuccess RequestStatus = "success"
	StatusError   RequestStatus = "error"
)

// PendingRequest correlates a drawn feature with its analysis outcome. It is
// cleared whenever its feature is cleared or replaced.
type PendingRequest struct {
	FeatureID string        `json:"featureId"`
	Kind      analysis.Kind `json:"kind"`
	Status    RequestStatus `json:"status"`
	Err       string        `json:"error,omitempty"`
}

// Controller is the AOI state machine. All transitions are serialized under
// one mutex; callers receive copies of internal state.
type Controller struct {
	mu      sync.Mutex
	mode    Mode
	feature *Feature
	pending *PendingRequest
}

// NewController starts in default mode with no drawn feature
func NewController() *Controller {
	return &Controller{mode: ModeDefault}
}

// Mode returns the current state
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Feature returns a copy of the drawn feature, or false when none exists
func (c *Controller) Feature() (Feature, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.feature == nil {
		return Feature{}, false
	}
	return *c.feature, true
}

// Pending returns a copy of the pending analysis request, or false
func (c *Controller) Pending() (PendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return PendingRequest{}, false
	}
	return *c.pending, true
}

// SwitchToDefault leaves draw mode and clears the drawn feature together
// with its pending request. It returns the cleared feature (if any) so the
// caller can also drop the feature's dataset and overlay.
func (c *Controller) SwitchToDefault() (cleared *Feature) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cleared = c.feature
	c.feature = nil
	c.pending = nil
	c.mode = ModeDefault

	if cleared != nil {
		log.Printf("[AOI] Switched to default mode, cleared feature %s", cleared.ID)
	}
	return cleared
}

// SwitchToDraw enters drawing mode. Any existing feature survives until a
// new draw completes and replaces it.
func (c *Controller) SwitchToDraw() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeDrawing
}

// CompleteDraw captures a finished feature. Any previous feature is cleared
// first (single-feature invariant) and returned so its dataset and overlay
// can be dropped; the machine moves to pending-analysis.
func (c *Controller) CompleteDraw(f Feature, kind analysis.Kind) (replaced *Feature) {
	c.mu.Lock()
	defer c.mu.Unlock()

	replaced = c.feature
	c.feature = &f
	c.pending = &PendingRequest{FeatureID: f.ID, Kind: kind, Status: StatusIdle}
	c.mode = ModePendingAnalysis

	if replaced != nil {
		log.Printf("[AOI] Feature %s replaced by %s", replaced.ID, f.ID)
	} else {
		log.Printf("[AOI] Captured %s feature %s", f.Kind, f.ID)
	}
	return replaced
}

// BeginAnalysis marks the pending request as loading. It is a no-op
// returning false unless the machine is in pending-analysis state.
func (c *Controller) BeginAnalysis(kind analysis.Kind) (Feature, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModePendingAnalysis || c.feature == nil {
		return Feature{}, false
	}

	c.pending = &PendingRequest{FeatureID: c.feature.ID, Kind: kind, Status: StatusLoading}
	return *c.feature, true
}

// FinishAnalysis records the outcome of an analysis run. The feature ID must
// still match the pending request; a stale completion (feature replaced or
// cleared mid-flight) is ignored and reported as false.
func (c *Controller) FinishAnalysis(featureID string, runErr error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil || c.pending.FeatureID != featureID {
		return false
	}

	if runErr != nil {
		c.pending.Status = StatusError
		c.pending.Err = runErr.Error()
		c.mode = ModePendingAnalysis
	} else {
		c.pending.Status = StatusSuccess
		c.pending.Err = ""
		c.mode = ModeAnalyzed
	}
	return true
}

// RequireReanalysis re-enters pending-analysis for the current feature.
// Used when the analysis kind changes while a feature is present but no
// dataset is cached for the new kind. Returns false when there is no
// feature to re-analyze.
func (c *Controller) RequireReanalysis(kind analysis.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.feature == nil {
		return false
	}
	if c.mode != ModeDrawn && c.mode != ModeAnalyzed && c.mode != ModePendingAnalysis {
		return false
	}

	c.pending = &PendingRequest{FeatureID: c.feature.ID, Kind: kind, Status: StatusIdle}
	c.mode = ModePendingAnalysis
	return true
}
