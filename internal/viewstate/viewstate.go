// Package viewstate keeps the map camera reproducible from the URL fragment.
//
// The fragment segment has the form map/<lat>/<lng>/<zoom>. Latitude and
// longitude are written with six decimals; zoom is written in its shortest
// exact form so it survives a round trip unchanged.
package viewstate

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Prefix is the first path segment of a camera fragment.
const Prefix = "map"

// ErrMalformedViewState marks a fragment component that could not be used.
// Decoding never fails because of it; the component falls back to its default.
var ErrMalformedViewState = errors.New("malformed view state")

// CameraState is the map camera.
type CameraState struct {
	Lat  float64 `json:"lat" doc:"Camera center latitude" example:"59.917507"`
	Lng  float64 `json:"lng" doc:"Camera center longitude" example:"10.740166"`
	Zoom float64 `json:"zoom" doc:"Zoom level" example:"8"`
}

// Default is the camera used when the fragment carries no usable value.
var Default = CameraState{
	Lat:  59.91750699564229,
	Lng:  10.740165846009115,
	Zoom: 8,
}

// Encode returns the fragment segment for a camera, without the leading '#'.
func Encode(c CameraState) string {
	return fmt.Sprintf("%s/%.6f/%.6f/%s", Prefix, c.Lat, c.Lng, strconv.FormatFloat(c.Zoom, 'f', -1, 64))
}

// Decode reads a camera from a fragment. The '#' is optional and the map
// segment may appear anywhere in the fragment. Each of lat, lng and zoom falls
// back to Default independently when it is missing or malformed.
//
// ok is false when the fragment has no map segment at all; the returned
// camera is then Default.
func Decode(fragment string) (c CameraState, ok bool) {
	c, ok, _ = DecodeStrict(fragment)
	return c, ok
}

// DecodeStrict is Decode but also reports which components were replaced by
// defaults, each wrapped in ErrMalformedViewState.
func DecodeStrict(fragment string) (CameraState, bool, error) {
	parts, ok := mapSegment(fragment)
	if !ok {
		return Default, false, nil
	}

	var errs []error
	field := func(i int, name string, fallback, limit float64) float64 {
		if i >= len(parts) || parts[i] == "" {
			errs = append(errs, fmt.Errorf("%w: %s missing", ErrMalformedViewState, name))
			return fallback
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("%w: %s %q is not a number", ErrMalformedViewState, name, parts[i]))
			return fallback
		}
		if limit > 0 && math.Abs(v) > limit {
			errs = append(errs, fmt.Errorf("%w: %s %v out of range", ErrMalformedViewState, name, v))
			return fallback
		}
		return v
	}

	c := CameraState{
		Lat:  field(0, "lat", Default.Lat, 90),
		Lng:  field(1, "lng", Default.Lng, 180),
		Zoom: field(2, "zoom", Default.Zoom, 0),
	}
	return c, true, errors.Join(errs...)
}

// mapSegment returns the components following the map segment.
func mapSegment(fragment string) ([]string, bool) {
	fragment = strings.TrimPrefix(fragment, "#")
	segments := strings.Split(fragment, "/")
	for i, s := range segments {
		if s == Prefix {
			return segments[i+1:], true
		}
	}
	return nil, false
}

// FromURL decodes the camera held in a URL fragment.
func FromURL(u *url.URL) (CameraState, bool) {
	if u == nil {
		return Default, false
	}
	return Decode(u.Fragment)
}

// WithCamera returns a copy of u whose fragment holds the camera. The rest of
// the URL (base path, query) is left untouched, matching a history
// replaceState on every camera move.
func WithCamera(u *url.URL, c CameraState) *url.URL {
	next := *u
	next.Fragment = Encode(c)
	next.RawFragment = ""
	return &next
}
