package analysis

import "time"

// Kind identifies which environmental index a dataset or query refers to
type Kind string

const (
	KindNDVI Kind = "ndvi"
	KindLST  Kind = "lst"
)

// Scope identifies which area of interest a dataset was computed for
type Scope string

const (
	// ScopeDefault is the fixed Amazon basin region served as pre-rendered tiles
	ScopeDefault Scope = "default"
	// ScopeCustom is a user-drawn area served as per-month statistics
	ScopeCustom Scope = "custom"
)

// ValueRange returns the displayable value range for a kind.
// NDVI is unitless 0..1, LST is degrees Celsius 20..40 (matching the
// backend's visualization parameters).
func (k Kind) ValueRange() (min, max float64) {
	if k == KindLST {
		return 20.0, 40.0
	}
	return 0.0, 1.0
}

// Unit returns the display unit for a kind, empty for unitless indices
func (k Kind) Unit() string {
	if k == KindLST {
		return "°C"
	}
	return ""
}

// Valid reports whether k is a known analysis kind
func (k Kind) Valid() bool {
	return k == KindNDVI || k == KindLST
}

// Statistics holds the per-month aggregate values for a custom AOI
type Statistics struct {
	Mean *float64 `json:"mean"`
	Min  *float64 `json:"min"`
	Max  *float64 `json:"max"`
}

// VisParams describe how the backend rendered a tile layer
type VisParams struct {
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Palette []string `json:"palette"`
}

// Legend describes the color scale of a default-region dataset
type Legend struct {
	Title  string   `json:"title"`
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	Colors []string `json:"colors"`
	Labels []string `json:"labels"`
}

// MonthlyEntry is one month of an analysis dataset. TileURL is set only for
// default-scope (tile) datasets; Stats only for custom-scope datasets.
type MonthlyEntry struct {
	MonthKey      string      `json:"monthKey"` // "YYYY-MM"
	MonthLabel    string      `json:"monthLabel"`
	TileURL       string      `json:"tileUrl,omitempty"`
	Stats         *Statistics `json:"statistics,omitempty"`
	VisParams     *VisParams  `json:"visParams,omitempty"`
	DataAvailable bool        `json:"dataAvailable"`
}

// Dataset is the normalized result of one analysis fetch. It is immutable
// once constructed and replaced wholesale on refetch.
type Dataset struct {
	Kind       Kind           `json:"kind"`
	Scope      Scope          `json:"scope"`
	TimePeriod string         `json:"timePeriod"`
	Entries    []MonthlyEntry `json:"entries"`
	Legend     *Legend        `json:"legend,omitempty"`
	FetchedAt  time.Time      `json:"fetchedAt"`
}

// HasTiles reports whether any month of the dataset carries a tile layer
func (d *Dataset) HasTiles() bool {
	if d == nil {
		return false
	}
	for _, e := range d.Entries {
		if e.TileURL != "" {
			return true
		}
	}
	return false
}

// Entry returns the entry at index i, or false when i is out of range
func (d *Dataset) Entry(i int) (MonthlyEntry, bool) {
	if d == nil || i < 0 || i >= len(d.Entries) {
		return MonthlyEntry{}, false
	}
	return d.Entries[i], true
}

// PointResult is the outcome of a single point query. Simulated is set when
// the value was generated locally because the remote service was unreachable.
type PointResult struct {
	Kind       Kind      `json:"kind"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	MonthKey   string    `json:"monthKey,omitempty"`
	Value      *float64  `json:"value"`
	AllValues  []float64 `json:"allValues,omitempty"`
	ImageCount int       `json:"imageCount"`
	Simulated  bool      `json:"simulated"`
	ResolvedAt time.Time `json:"resolvedAt"`
}
