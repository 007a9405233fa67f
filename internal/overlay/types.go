// Package overlay decides which sources, layers and markers belong on the map
// and brings a map surface in line with that decision.
//
// Planning is pure: a Planner turns the sink list and the drawing session into
// a Set. Applying is the Renderer's job: it diffs the Set against what it has
// already put on the surface and issues only the missing or changed
// operations, layers before the sources they reference.
package overlay

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/forest-sync/internal/geometry"
)

// LayerType is a map style layer type.
type LayerType string

const (
	Fill   LayerType = "fill"
	Circle LayerType = "circle"
	Symbol LayerType = "symbol"
)

// Source is a GeoJSON source keyed by id.
type Source struct {
	ID   string           `json:"id"`
	Data *geojson.Feature `json:"data"`
}

// Layer draws one source.
type Layer struct {
	ID     string         `json:"id"`
	Type   LayerType      `json:"type"`
	Source string         `json:"source"`
	Paint  map[string]any `json:"paint,omitempty"`
	Layout map[string]any `json:"layout,omitempty"`
}

// Marker is a pin with an optional HTML popup.
type Marker struct {
	ID        string            `json:"id"`
	Position  geometry.GeoPoint `json:"position"`
	PopupHTML string            `json:"popupHtml,omitempty"`
}

// Set is the desired overlay: everything that should be on the surface, in
// the order it should be added.
type Set struct {
	Sources []Source
	Layers  []Layer
	Markers []Marker
}

// Len returns the number of items in the set.
func (s Set) Len() int {
	return len(s.Sources) + len(s.Layers) + len(s.Markers)
}

// Add appends the primitives of each renderable.
func (s *Set) Add(rs ...Renderable) {
	for _, r := range rs {
		r.appendTo(s)
	}
}

// Renderable is one of PointMarker, FillPolygon or MultiPoint.
type Renderable interface {
	appendTo(*Set)
}

// PointMarker is a single pin.
type PointMarker struct {
	ID        string
	At        geometry.GeoPoint
	PopupHTML string
}

func (m PointMarker) appendTo(s *Set) {
	s.Markers = append(s.Markers, Marker{ID: m.ID, Position: m.At, PopupHTML: m.PopupHTML})
}

// TextLabel is text anchored at a point.
type TextLabel struct {
	At   geometry.GeoPoint
	Text string
}

// FillPolygon is a filled ring with an optional label. Its source and layer
// share ID; the label uses ID-label-source and ID-label.
type FillPolygon struct {
	ID    string
	Ring  geometry.Polygon
	Label *TextLabel
}

func (f FillPolygon) appendTo(s *Set) {
	s.Sources = append(s.Sources, Source{ID: f.ID, Data: geojson.NewFeature(orb.Polygon{f.Ring.Ring()})})
	s.Layers = append(s.Layers, Layer{
		ID:     f.ID,
		Type:   Fill,
		Source: f.ID,
		Paint:  map[string]any{"fill-color": FillColor, "fill-opacity": FillOpacity},
	})
	if f.Label == nil {
		return
	}
	src := LabelSourceID(f.ID)
	s.Sources = append(s.Sources, Source{ID: src, Data: geojson.NewFeature(f.Label.At.Orb())})
	s.Layers = append(s.Layers, Layer{
		ID:     LabelLayerID(f.ID),
		Type:   Symbol,
		Source: src,
		Layout: map[string]any{
			"symbol-placement": "point",
			"text-field":       f.Label.Text,
			"text-font":        []string{LabelFont},
			"text-offset":      []float64{0, 0},
		},
		Paint: map[string]any{"text-color": LabelColor},
	})
}

// MultiPoint draws each point as a circle.
type MultiPoint struct {
	SourceID string
	LayerID  string
	Points   geometry.Polygon
}

func (m MultiPoint) appendTo(s *Set) {
	s.Sources = append(s.Sources, Source{ID: m.SourceID, Data: geojson.NewFeature(m.Points.MultiPoint())})
	s.Layers = append(s.Layers, Layer{
		ID:     m.LayerID,
		Type:   Circle,
		Source: m.SourceID,
		Paint: map[string]any{
			"circle-color":        VertexColor,
			"circle-radius":       VertexRadius,
			"circle-stroke-width": VertexStrokeWidth,
			"circle-stroke-color": VertexStrokeColor,
		},
	})
}

// Style constants shared by sinks and the drawing.
const (
	FillColor         = "#088"
	FillOpacity       = 0.8
	LabelColor        = "#3ace1c"
	LabelFont         = "Ubuntu Medium"
	VertexColor       = "#80ed99"
	VertexRadius      = 10
	VertexStrokeWidth = 2
	VertexStrokeColor = "#222222"
)

// LabelSourceID returns the id of the label source for a polygon id.
func LabelSourceID(id string) string { return id + "-label-source" }

// LabelLayerID returns the id of the label layer for a polygon id.
func LabelLayerID(id string) string { return id + "-label" }
