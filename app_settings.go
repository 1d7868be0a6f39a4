package main

import (
	"fmt"
	"log"

	"geoanalysis-desktop/internal/config"
)

// ===================
// Settings Management
// ===================

// GetSettings returns current user settings
func (a *App) GetSettings() (*config.UserSettings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Return a copy to prevent external modifications
	settingsCopy := *a.settings
	return &settingsCopy, nil
}

// SaveSettings saves user settings to disk and updates app state
func (a *App) SaveSettings(settings *config.UserSettings) error {
	if err := config.ValidateSettings(settings); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := config.SaveSettings(settings); err != nil {
		return err
	}

	if settings.BackendBaseURL != a.settings.BackendBaseURL {
		log.Printf("Backend URL changed. New URL applies on next restart.")
	}

	a.settings = settings
	return nil
}

// GetSettingsPath returns the OS-specific settings file path
func (a *App) GetSettingsPath() string {
	return config.GetSettingsPath()
}

// SaveMapPosition saves the current map position for session persistence.
// Called on app close or periodically to remember the last viewed location.
func (a *App) SaveMapPosition(lat, lon, zoom float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.settings.LastCenterLat = lat
	a.settings.LastCenterLon = lon
	a.settings.LastZoom = zoom

	if err := config.SaveSettings(a.settings); err != nil {
		return err
	}

	log.Printf("Saved map position: lat=%.6f, lon=%.6f, zoom=%.1f", lat, lon, zoom)
	return nil
}

// SetDefaultAnalysisKind persists the startup analysis kind
func (a *App) SetDefaultAnalysisKind(kind string) error {
	if kind != "ndvi" && kind != "lst" {
		return fmt.Errorf("invalid analysis kind: %s", kind)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.settings.DefaultAnalysisKind = kind
	return config.SaveSettings(a.settings)
}

// SetSmoothTransitions toggles cross-fade overlay transitions
func (a *App) SetSmoothTransitions(enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.settings.SmoothTransitions = enabled
	return config.SaveSettings(a.settings)
}
