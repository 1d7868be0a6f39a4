// Package maplayer owns the map's layer stack: the base layer and the single
// active analysis overlay. Every attach, detach and opacity change routes
// through the Manager so no two code paths can mutate layers concurrently.
package maplayer

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMapNotReady is returned when a layer command arrives before the map UI
// has finished initializing. The last requested overlay is replayed once the
// map reports ready.
var ErrMapNotReady = errors.New("map is not ready")

const (
	// TargetOpacity is the steady-state opacity of an analysis overlay
	TargetOpacity = 0.7

	// FadeDuration is the length of a smooth cross-fade
	FadeDuration = 300 * time.Millisecond

	// FadeSteps is the number of opacity increments per cross-fade
	FadeSteps = 10

	// OverlayZIndex keeps analysis overlays above base layers and below
	// the vector drawing layer
	OverlayZIndex = 10
)

// BaseKind identifies a base layer style
type BaseKind string

const (
	BaseStreet    BaseKind = "street"
	BaseSatellite BaseKind = "satellite"
	BaseTerrain   BaseKind = "terrain"
)

// OverlayHandle wraps one attached raster overlay. Handles are owned
// exclusively by the Manager and never mutated outside it.
type OverlayHandle struct {
	ID      string  `json:"id"`
	TileURL string  `json:"tileUrl"`
	Opacity float64 `json:"opacity"`
	ZIndex  int     `json:"zIndex"`
}

// LayerSink applies layer mutations on the actual map. The UI side
// implements it by translating each call into a map-library operation.
type LayerSink interface {
	AttachOverlay(handle OverlayHandle)
	SetOverlayOpacity(id string, opacity float64)
	DetachOverlay(id string)
	SetBaseLayer(kind BaseKind)
}

// Manager tracks the single active overlay and performs cross-fade
// transitions. At most one fade runs at a time: a new ShowOverlay call
// cancels an in-progress fade before starting its own.
type Manager struct {
	mu   sync.Mutex
	sink LayerSink

	ready    bool
	current  *OverlayHandle // the tracked overlay (may still be fading in)
	outgoing *OverlayHandle // attached overlay scheduled for detach after fade

	fadeCancel chan struct{}
	fadeWG     sync.WaitGroup

	baseKind BaseKind

	// Replayed on SetReady when a show request arrived too early
	deferredURL    string
	deferredSmooth bool

	fadeDuration time.Duration
	fadeSteps    int
}

// NewManager creates a layer manager writing to the given sink
func NewManager(sink LayerSink) *Manager {
	return &Manager{
		sink:         sink,
		baseKind:     BaseStreet,
		fadeDuration: FadeDuration,
		fadeSteps:    FadeSteps,
	}
}

// SetReady marks the map as initialized and replays the last overlay request
// that arrived before readiness
func (m *Manager) SetReady() {
	m.mu.Lock()
	m.ready = true
	url, smooth := m.deferredURL, m.deferredSmooth
	m.deferredURL = ""
	m.mu.Unlock()

	if url != "" {
		log.Printf("[MapLayer] Map ready, replaying deferred overlay")
		m.ShowOverlay(url, smooth)
	}
}

// Current returns a copy of the tracked overlay handle, or false
func (m *Manager) Current() (OverlayHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return OverlayHandle{}, false
	}
	return *m.current, true
}

// ShowOverlay attaches the overlay for a tile URL. With smooth=true and a
// previous overlay present, the new overlay fades in over the old one and
// the old one is detached only once the fade completes; otherwise the switch
// is synchronous. The new handle becomes the tracked overlay immediately.
func (m *Manager) ShowOverlay(tileURL string, smooth bool) error {
	m.mu.Lock()

	if !m.ready {
		m.deferredURL = tileURL
		m.deferredSmooth = smooth
		m.mu.Unlock()
		return ErrMapNotReady
	}

	m.cancelFadeLocked()

	// An overlay already fading out from a cancelled transition is dropped
	// now so at most two overlays are ever attached.
	if m.outgoing != nil {
		m.sink.DetachOverlay(m.outgoing.ID)
		m.outgoing = nil
	}

	prev := m.current

	if !smooth || prev == nil {
		if prev != nil {
			m.sink.DetachOverlay(prev.ID)
		}
		handle := &OverlayHandle{
			ID:      uuid.NewString(),
			TileURL: tileURL,
			Opacity: TargetOpacity,
			ZIndex:  OverlayZIndex,
		}
		m.current = handle
		m.sink.AttachOverlay(*handle)
		m.mu.Unlock()
		return nil
	}

	handle := &OverlayHandle{
		ID:      uuid.NewString(),
		TileURL: tileURL,
		Opacity: 0,
		ZIndex:  OverlayZIndex,
	}
	m.current = handle
	m.outgoing = prev
	m.sink.AttachOverlay(*handle)

	cancel := make(chan struct{})
	m.fadeCancel = cancel
	m.fadeWG.Add(1)
	duration, steps := m.fadeDuration, m.fadeSteps
	m.mu.Unlock()

	go m.runFade(handle.ID, prev.ID, cancel, duration, steps)
	return nil
}

// runFade drives one cross-fade: opacity steps up to the target, then the
// outgoing overlay is detached
func (m *Manager) runFade(newID, oldID string, cancel chan struct{}, duration time.Duration, steps int) {
	defer m.fadeWG.Done()

	ticker := time.NewTicker(duration / time.Duration(steps))
	defer ticker.Stop()

	for step := 1; step <= steps; step++ {
		select {
		case <-ticker.C:
		case <-cancel:
			return
		}

		opacity := TargetOpacity * float64(step) / float64(steps)

		m.mu.Lock()
		if m.current == nil || m.current.ID != newID {
			m.mu.Unlock()
			return
		}
		m.current.Opacity = opacity
		m.sink.SetOverlayOpacity(newID, opacity)
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.outgoing != nil && m.outgoing.ID == oldID {
		m.sink.DetachOverlay(oldID)
		m.outgoing = nil
	}
}

// HideOverlay detaches the active overlay (and any overlay still fading out)
func (m *Manager) HideOverlay() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelFadeLocked()
	m.deferredURL = ""

	if m.outgoing != nil {
		m.sink.DetachOverlay(m.outgoing.ID)
		m.outgoing = nil
	}
	if m.current != nil {
		m.sink.DetachOverlay(m.current.ID)
		m.current = nil
	}
}

// SwitchBaseLayer replaces only the base layer; the analysis overlay and the
// vector drawing layer are untouched
func (m *Manager) SwitchBaseLayer(kind BaseKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		return ErrMapNotReady
	}
	if kind == m.baseKind {
		return nil
	}

	m.baseKind = kind
	m.sink.SetBaseLayer(kind)
	log.Printf("[MapLayer] Base layer switched to %s", kind)
	return nil
}

// BaseLayer returns the current base layer kind
func (m *Manager) BaseLayer() BaseKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseKind
}

// WaitForFade blocks until any in-progress fade finishes or is cancelled
func (m *Manager) WaitForFade() {
	m.fadeWG.Wait()
}

// cancelFadeLocked stops an in-progress fade; callers hold m.mu
func (m *Manager) cancelFadeLocked() {
	if m.fadeCancel != nil {
		close(m.fadeCancel)
		m.fadeCancel = nil
	}
}
