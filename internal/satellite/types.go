package satellite

import (
	"time"

	"geoanalysis-desktop/internal/analysis"
)

// Wire shapes of the satellite analysis backend. The backend returns two
// distinct payload families (tile layers for the default Amazon region,
// monthly statistics for custom areas) plus point sample payloads. All of
// them are normalized into analysis types here so nothing above this package
// depends on wire field names.

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type wireVisParams struct {
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Palette []string `json:"palette"`
}

type wireLegend struct {
	Title  string   `json:"title"`
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	Colors []string `json:"colors"`
	Labels []string `json:"labels"`
}

type wireMonthlyLayer struct {
	Month     string         `json:"month"`
	MonthName string         `json:"month_name"`
	TileURL   string         `json:"tile_url"`
	VisParams *wireVisParams `json:"vis_params"`
}

// amazonResponse is the GET /api/amazon/{ndvi,lst}/ payload
type amazonResponse struct {
	Success       bool               `json:"success"`
	Region        string             `json:"region"`
	TimePeriod    string             `json:"time_period"`
	TotalLayers   int                `json:"total_layers"`
	MonthlyLayers []wireMonthlyLayer `json:"monthly_layers"`
	Legend        *wireLegend        `json:"legend"`
}

type wireStatistics struct {
	Mean *float64 `json:"mean"`
	Min  *float64 `json:"min"`
	Max  *float64 `json:"max"`
}

type wireMonthlyStatistics struct {
	Month         string          `json:"month"`
	MonthName     string          `json:"month_name"`
	Statistics    *wireStatistics `json:"statistics"`
	DataAvailable bool            `json:"data_available"`
}

// customResponse is the POST /api/custom/{ndvi,lst}/ payload
type customResponse struct {
	Success           bool                    `json:"success"`
	TimePeriod        string                  `json:"time_period"`
	TotalMonths       int                     `json:"total_months"`
	MonthlyStatistics []wireMonthlyStatistics `json:"monthly_statistics"`
}

// pointResponse covers both the monthly and the current-scope point
// endpoints. The value field name varies by kind (median_ndvi / median_lst),
// as does the list of individual samples.
type pointResponse struct {
	Success       bool      `json:"success"`
	Month         string    `json:"month"`
	MedianNDVI    *float64  `json:"median_ndvi"`
	MedianLST     *float64  `json:"median_lst"`
	AllNDVIValues []float64 `json:"all_ndvi_values"`
	AllLSTValues  []float64 `json:"all_lst_values"`
	ImageCount    int       `json:"image_count"`
	DataAvailable bool      `json:"data_available"`
}

func (r *pointResponse) value(kind analysis.Kind) *float64 {
	if kind == analysis.KindLST {
		return r.MedianLST
	}
	return r.MedianNDVI
}

func (r *pointResponse) allValues(kind analysis.Kind) []float64 {
	if kind == analysis.KindLST {
		return r.AllLSTValues
	}
	return r.AllNDVIValues
}

// geometryEnvelope wraps a GeoJSON geometry the way the backend expects it:
// a feature-like object with a nested "geometry" member.
type geometryEnvelope struct {
	Geometry geoJSONGeometry `json:"geometry"`
}

type geoJSONGeometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

type customRequest struct {
	Geometry geometryEnvelope `json:"geometry"`
}

type pointMonthlyRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Month     string  `json:"month"`
}

type pointCurrentRequest struct {
	Object geometryEnvelope `json:"object"`
}

func (r *amazonResponse) normalize(kind analysis.Kind) *analysis.Dataset {
	entries := make([]analysis.MonthlyEntry, 0, len(r.MonthlyLayers))
	for _, layer := range r.MonthlyLayers {
		entry := analysis.MonthlyEntry{
			MonthKey:      layer.Month,
			MonthLabel:    layer.MonthName,
			TileURL:       layer.TileURL,
			DataAvailable: layer.TileURL != "",
		}
		if layer.VisParams != nil {
			entry.VisParams = &analysis.VisParams{
				Min:     layer.VisParams.Min,
				Max:     layer.VisParams.Max,
				Palette: layer.VisParams.Palette,
			}
		}
		entries = append(entries, entry)
	}

	ds := &analysis.Dataset{
		Kind:       kind,
		Scope:      analysis.ScopeDefault,
		TimePeriod: r.TimePeriod,
		Entries:    entries,
		FetchedAt:  time.Now(),
	}
	if r.Legend != nil {
		ds.Legend = &analysis.Legend{
			Title:  r.Legend.Title,
			Min:    r.Legend.Min,
			Max:    r.Legend.Max,
			Colors: r.Legend.Colors,
			Labels: r.Legend.Labels,
		}
	}
	return ds
}

func (r *customResponse) normalize(kind analysis.Kind) *analysis.Dataset {
	entries := make([]analysis.MonthlyEntry, 0, len(r.MonthlyStatistics))
	for _, month := range r.MonthlyStatistics {
		entry := analysis.MonthlyEntry{
			MonthKey:      month.Month,
			MonthLabel:    month.MonthName,
			DataAvailable: month.DataAvailable,
		}
		if month.Statistics != nil {
			entry.Stats = &analysis.Statistics{
				Mean: month.Statistics.Mean,
				Min:  month.Statistics.Min,
				Max:  month.Statistics.Max,
			}
		}
		entries = append(entries, entry)
	}

	return &analysis.Dataset{
		Kind:       kind,
		Scope:      analysis.ScopeCustom,
		TimePeriod: r.TimePeriod,
		Entries:    entries,
		FetchedAt:  time.Now(),
	}
}

func (r *pointResponse) normalize(kind analysis.Kind, lat, lon float64) *analysis.PointResult {
	return &analysis.PointResult{
		Kind:       kind,
		Latitude:   lat,
		Longitude:  lon,
		MonthKey:   r.Month,
		Value:      r.value(kind),
		AllValues:  r.allValues(kind),
		ImageCount: r.ImageCount,
		ResolvedAt: time.Now(),
	}
}
