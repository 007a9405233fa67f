// Package geometry derives label positions, areas and carbon estimates from
// sink boundaries. Everything here is pure: no I/O and no map dependency.
//
// Coordinates are stored as latitude/longitude pairs the way the sink feed
// delivers them; conversion to orb's (x=lng, y=lat) order happens at the edges
// of this package.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// MinVertices is the smallest point count that forms a closed polygon.
const MinVertices = 3

// ErrDegenerateGeometry is returned when a polygon cannot support the
// requested computation (too few points, zero extent or zero area).
var ErrDegenerateGeometry = errors.New("degenerate geometry")

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude" example:"59.9175"`
	Lng float64 `json:"lng" minimum:"-180" maximum:"180" doc:"Longitude" example:"10.7401"`
}

// Valid reports whether the point lies within the latitude/longitude ranges.
func (p GeoPoint) Valid() bool {
	return s2.LatLngFromDegrees(p.Lat, p.Lng).IsValid()
}

// Orb returns the point in orb's (lng, lat) order.
func (p GeoPoint) Orb() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// FromOrb converts an orb point back to a GeoPoint.
func FromOrb(p orb.Point) GeoPoint {
	return GeoPoint{Lat: p.Lat(), Lng: p.Lon()}
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("(%f, %f)", p.Lat, p.Lng)
}

// UnmarshalJSON accepts the [lat, lng] tuple form used by the sink feed as
// well as the {lat, lng} object form the API emits.
func (p *GeoPoint) UnmarshalJSON(data []byte) error {
	var tuple []float64
	if err := json.Unmarshal(data, &tuple); err == nil {
		if len(tuple) != 2 {
			return fmt.Errorf("geo point: want 2 coordinates, got %d", len(tuple))
		}
		p.Lat, p.Lng = tuple[0], tuple[1]
		return nil
	}

	var obj struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("geo point: %w", err)
	}
	if obj.Lat == nil || obj.Lng == nil {
		return errors.New("geo point: lat and lng are required")
	}
	p.Lat, p.Lng = *obj.Lat, *obj.Lng
	return nil
}

// Polygon is an ordered boundary. Once it has MinVertices points it is
// treated as closed; the first point is never repeated at the end.
type Polygon []GeoPoint

// Ring returns the boundary as a closed orb ring (first point appended).
func (p Polygon) Ring() orb.Ring {
	if len(p) == 0 {
		return nil
	}
	ring := make(orb.Ring, 0, len(p)+1)
	for _, pt := range p {
		ring = append(ring, pt.Orb())
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring
}

// MultiPoint returns the vertices as an orb multi point.
func (p Polygon) MultiPoint() orb.MultiPoint {
	mp := make(orb.MultiPoint, len(p))
	for i, pt := range p {
		mp[i] = pt.Orb()
	}
	return mp
}

// Closed reports whether the polygon has enough points to be rendered as a fill.
func (p Polygon) Closed() bool {
	return len(p) >= MinVertices
}

// Bound returns the bounding box in orb coordinates.
func (p Polygon) Bound() orb.Bound {
	return p.MultiPoint().Bound()
}

// DerivedMetrics are recomputed from a polygon on demand, never stored.
type DerivedMetrics struct {
	CentroidLabelPoint GeoPoint `json:"centroid" doc:"Pole of inaccessibility used as label anchor"`
	AreaHectares       float64  `json:"areaHa" doc:"Area in hectares"`
}

// Metrics computes the label point and area of a polygon.
func Metrics(p Polygon) (DerivedMetrics, error) {
	centroid, err := CentroidLabelPoint(p)
	if err != nil {
		return DerivedMetrics{}, err
	}
	area, err := AreaHectares(p)
	if err != nil {
		return DerivedMetrics{}, err
	}
	return DerivedMetrics{CentroidLabelPoint: centroid, AreaHectares: area}, nil
}

func degenerate(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDegenerateGeometry, fmt.Sprintf(format, args...))
}
