package query

import "math"

// Web Mercator (EPSG:3857) sphere radius in meters
const earthRadius = 6378137.0

// MercatorToWGS84 converts a projected map coordinate in meters to
// geographic longitude/latitude in degrees
func MercatorToWGS84(x, y float64) (lon, lat float64) {
	lon = x / earthRadius * 180.0 / math.Pi
	lat = (2.0*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2.0) * 180.0 / math.Pi
	return lon, lat
}

// WGS84ToMercator converts geographic longitude/latitude in degrees to a
// projected Web Mercator coordinate in meters
func WGS84ToMercator(lon, lat float64) (x, y float64) {
	x = lon * math.Pi / 180.0 * earthRadius
	y = math.Log(math.Tan(math.Pi/4.0+lat*math.Pi/360.0)) * earthRadius
	return x, y
}

// ClampLatitude limits a latitude to the Web Mercator displayable range
func ClampLatitude(lat float64) float64 {
	const maxLat = 85.05112878
	if lat > maxLat {
		return maxLat
	}
	if lat < -maxLat {
		return -maxLat
	}
	return lat
}
