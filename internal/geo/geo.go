// Package geo wraps the external geocoding service and the text heuristics
// that pull place data out of free-form agent output. Every failure mode here
// degrades to "no data"; callers never see an error where an empty result
// will do.
package geo

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// Place is a named location with optional coordinates and address.
type Place struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
	Address string  `json:"address,omitempty"`
}

// HasCoordinates reports whether the place carries a usable coordinate pair.
func (p Place) HasCoordinates() bool {
	return (p.Lat != 0 || p.Lng != 0) && p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Geocoder resolves free text to places. Implementations call an external
// service; an empty result or any transport failure is reported as an empty
// slice with a nil error by convention at the call sites.
type Geocoder interface {
	Lookup(ctx context.Context, text string) ([]Place, error)
}

var (
	// "Name (37.7749, -122.4194)" or "Name: 37.7749, -122.4194"
	coordLine = regexp.MustCompile(`(?m)^[\s\-\*\d\.]*([^:(\n]{2,80}?)\s*[:(]\s*(-?\d{1,3}\.\d+)\s*,\s*(-?\d{1,3}\.\d+)\)?\s*$`)
	// "Name - 123 Main St, San Francisco, CA" or "Name, 123 Main St ..."
	addressLine = regexp.MustCompile(`(?m)^[\s\-\*\d\.]*([^,\-\n]{2,80}?)\s*[-,–]\s*(\d{1,5}\s+[^\n]{5,120})$`)
)

// ExtractPlaces pulls entity+coordinate and entity+address pairs out of free
// text. Malformed or missing data yields fewer places, never an error.
func ExtractPlaces(text string) []Place {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var places []Place
	seen := make(map[string]bool)

	for _, m := range coordLine.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		lat, errLat := strconv.ParseFloat(m[2], 64)
		lng, errLng := strconv.ParseFloat(m[3], 64)
		if name == "" || errLat != nil || errLng != nil {
			continue
		}
		p := Place{Name: name, Lat: lat, Lng: lng}
		if !p.HasCoordinates() || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		places = append(places, p)
	}

	for _, m := range addressLine.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		addr := strings.TrimSpace(m[2])
		if name == "" || addr == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		places = append(places, Place{Name: name, Address: addr})
	}

	return places
}
