package geo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// ParseLatLng reads the lat and lng cells of a stored row. Two empty cells mean
// "no coordinates" and return nil without error.
func ParseLatLng(lat, lng string) (*orb.Point, error) {
	lat, lng = strings.TrimSpace(lat), strings.TrimSpace(lng)
	if lat == "" && lng == "" {
		return nil, nil
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, fmt.Errorf("lat %q: %w", lat, err)
	}
	lo, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return nil, fmt.Errorf("lng %q: %w", lng, err)
	}
	p := orb.Point{lo, la}
	if !Valid(p) {
		return nil, fmt.Errorf("coordinates out of range: %v,%v", la, lo)
	}
	return &p, nil
}

// FormatLatLng renders p as (lat, lng) cells; nil renders as two empty cells.
func FormatLatLng(p *orb.Point) (string, string) {
	if p == nil {
		return "", ""
	}
	return strconv.FormatFloat(p.Lat(), 'f', 6, 64), strconv.FormatFloat(p.Lon(), 'f', 6, 64)
}

// Valid reports whether p is a plausible WGS84 position.
func Valid(p orb.Point) bool {
	return p.Lat() >= -90 && p.Lat() <= 90 && p.Lon() >= -180 && p.Lon() <= 180
}
