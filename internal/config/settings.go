package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// UserSettings represents persistent user preferences
type UserSettings struct {
	// Backend
	BackendBaseURL string `json:"backendBaseUrl"`

	// Default analysis selection
	DefaultAnalysisKind string `json:"defaultAnalysisKind"` // "ndvi" or "lst"

	// Default map settings (centered over the Amazon basin)
	DefaultZoom      int     `json:"defaultZoom"`
	DefaultCenterLat float64 `json:"defaultCenterLat"`
	DefaultCenterLon float64 `json:"defaultCenterLon"`
	BaseLayer        string  `json:"baseLayer"` // "street", "satellite", "terrain"

	// Last viewed position, saved on close
	LastCenterLat float64 `json:"lastCenterLat,omitempty"`
	LastCenterLon float64 `json:"lastCenterLon,omitempty"`
	LastZoom      float64 `json:"lastZoom,omitempty"`

	// Overlay rendering
	SmoothTransitions bool `json:"smoothTransitions"`

	// Tile proxy cache
	TileCacheTiles int `json:"tileCacheTiles"`

	// UI preferences
	Theme string `json:"theme"` // "light", "dark", "system"
}

// DefaultSettings returns default user settings
func DefaultSettings() *UserSettings {
	return &UserSettings{
		BackendBaseURL:      "https://api.geoanalysis.earth",
		DefaultAnalysisKind: "ndvi",
		DefaultZoom:         5,
		DefaultCenterLat:    -3.4653, // central Amazon basin
		DefaultCenterLon:    -62.2159,
		BaseLayer:           "street",
		SmoothTransitions:   true,
		TileCacheTiles:      512,
		Theme:               "system",
	}
}

// GetSettingsPath returns the OS-specific settings file path
func GetSettingsPath() string {
	homeDir, _ := os.UserHomeDir()

	baseDir := filepath.Join(homeDir, ".geoanalysis-desktop", "settings")
	os.MkdirAll(baseDir, 0755)

	return filepath.Join(baseDir, "settings.json")
}

// LoadSettings loads user settings from disk
func LoadSettings() (*UserSettings, error) {
	settingsPath := GetSettingsPath()

	// If file doesn't exist, return defaults
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		return DefaultSettings(), nil
	}

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings UserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	// Merge with defaults for any missing fields
	defaults := DefaultSettings()
	if settings.BackendBaseURL == "" {
		settings.BackendBaseURL = defaults.BackendBaseURL
	}
	if settings.DefaultAnalysisKind == "" {
		settings.DefaultAnalysisKind = defaults.DefaultAnalysisKind
	}
	if settings.DefaultZoom == 0 {
		settings.DefaultZoom = defaults.DefaultZoom
	}
	if settings.DefaultCenterLat == 0 && settings.DefaultCenterLon == 0 {
		settings.DefaultCenterLat = defaults.DefaultCenterLat
		settings.DefaultCenterLon = defaults.DefaultCenterLon
	}
	if settings.BaseLayer == "" {
		settings.BaseLayer = defaults.BaseLayer
	}
	if settings.TileCacheTiles == 0 {
		settings.TileCacheTiles = defaults.TileCacheTiles
	}
	if settings.Theme == "" {
		settings.Theme = defaults.Theme
	}

	return &settings, nil
}

// SaveSettings saves user settings to disk
func SaveSettings(settings *UserSettings) error {
	settingsPath := GetSettingsPath()

	dir := filepath.Dir(settingsPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(settingsPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// ValidateSettings checks a settings payload before it is applied
func ValidateSettings(settings *UserSettings) error {
	if settings.BackendBaseURL == "" {
		return fmt.Errorf("backend base URL is required")
	}
	if settings.DefaultAnalysisKind != "ndvi" && settings.DefaultAnalysisKind != "lst" {
		return fmt.Errorf("invalid analysis kind: %s (must be ndvi or lst)", settings.DefaultAnalysisKind)
	}

	validBase := map[string]bool{
		"street":    true,
		"satellite": true,
		"terrain":   true,
	}
	if !validBase[settings.BaseLayer] {
		return fmt.Errorf("invalid base layer: %s (must be street, satellite, or terrain)", settings.BaseLayer)
	}

	if settings.TileCacheTiles < 0 {
		return fmt.Errorf("tile cache size cannot be negative")
	}

	return nil
}
