package overlay

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeblew999/forest-sync/internal/drawing"
	"github.com/joeblew999/forest-sync/internal/format"
	"github.com/joeblew999/forest-sync/internal/geometry"
	"github.com/joeblew999/forest-sync/internal/templates"
)

// Ids of the drawing overlay.
const (
	DrawingID         = "drawing"
	DrawingVerticesID = "drawing-vertices"
	DrawingDotsID     = "drawing-dots"
)

// Reserved reports whether id belongs to the drawing overlay's namespace. A
// sink with such an id would shadow the in-progress polygon.
func Reserved(id string) bool {
	return id == DrawingID || strings.HasPrefix(id, DrawingID+"-")
}

// SinkView is what the map needs to know about a carbon sink.
type SinkView struct {
	ID          string
	Name        string
	Geolocation geometry.GeoPoint
	Boundary    geometry.Polygon
	// StoredCO2 is the feed's stored value; nil means estimate it.
	StoredCO2 *float64
	AreaHa    float64
	Planted   time.Time
}

// CO2 returns the stored value, or the age-based estimate when none is stored.
func (s SinkView) CO2(now time.Time) float64 {
	return geometry.StoredOrEstimated(s.StoredCO2, s.AreaHa, s.Planted, now)
}

// Bounded reports whether the sink has a boundary that renders as a fill.
func (s SinkView) Bounded() bool {
	return len(s.Boundary) >= geometry.MinVertices
}

// Planner builds the desired overlay set.
type Planner struct {
	Popups  *templates.Renderer
	Numbers format.Numbers
	// BaseURL prefixes detail links in popups.
	BaseURL string
	Now     func() time.Time
	Log     *slog.Logger
}

// NewPlanner returns a planner using the embedded popup template.
func NewPlanner(baseURL string) *Planner {
	return &Planner{
		Popups:  templates.Default(),
		Numbers: format.Default,
		BaseURL: baseURL,
		Now:     time.Now,
		Log:     slog.Default(),
	}
}

// Plan returns the overlay set for the sinks and the drawing session.
func (p *Planner) Plan(sinks []SinkView, session drawing.Session) Set {
	var set Set
	set.Add(p.Renderables(sinks, session)...)
	return set
}

// Renderables lists what to draw: each sink, then the drawing.
func (p *Planner) Renderables(sinks []SinkView, session drawing.Session) []Renderable {
	now := p.Now()
	out := make([]Renderable, 0, 2*len(sinks)+2)
	for _, s := range sinks {
		if Reserved(s.ID) {
			p.Log.Warn("sink skipped, id collides with the drawing overlay", "sink", s.ID)
			continue
		}
		out = append(out, p.sink(s, now)...)
	}
	return append(out, p.drawing(session)...)
}

func (p *Planner) sink(s SinkView, now time.Time) []Renderable {
	co2 := s.CO2(now)
	log := p.Log.With("sink", s.ID)

	if !s.Bounded() {
		return []Renderable{PointMarker{ID: s.ID, At: s.Geolocation, PopupHTML: p.popup(s, co2)}}
	}

	anchor := s.Geolocation
	fill := FillPolygon{ID: s.ID, Ring: s.Boundary}
	if center, err := geometry.CentroidLabelPoint(s.Boundary); err == nil {
		anchor = center
		fill.Label = &TextLabel{At: center, Text: fmt.Sprintf("%s\n%s tons", s.Name, p.Numbers.CO2(co2))}
	} else {
		log.Debug("sink label omitted", "error", err)
	}

	return []Renderable{
		PointMarker{ID: s.ID, At: anchor, PopupHTML: p.popup(s, co2)},
		fill,
	}
}

func (p *Planner) popup(s SinkView, co2 float64) string {
	if p.Popups == nil {
		return ""
	}
	html, err := p.Popups.Render("sink-popup", map[string]any{
		"ID":      s.ID,
		"Name":    s.Name,
		"CO2Tons": co2,
		"BaseURL": p.BaseURL,
	})
	if err != nil {
		p.Log.Warn("render sink popup", "sink", s.ID, "error", err)
		return ""
	}
	return html
}

func (p *Planner) drawing(session drawing.Session) []Renderable {
	if session.Mode != drawing.Drawing || session.Len() == 0 {
		return nil
	}
	points := session.Polygon()
	vertices := MultiPoint{SourceID: DrawingVerticesID, LayerID: DrawingDotsID, Points: points}
	if len(points) < geometry.MinVertices {
		return []Renderable{vertices}
	}

	fill := FillPolygon{ID: DrawingID, Ring: points}
	m, err := geometry.Metrics(points)
	switch {
	case err == nil:
		fill.Label = &TextLabel{At: m.CentroidLabelPoint, Text: format.AreaLabel(m.AreaHectares)}
	case errors.Is(err, geometry.ErrDegenerateGeometry):
		p.Log.Debug("drawing label omitted", "points", len(points), "error", err)
	default:
		p.Log.Warn("drawing metrics", "error", err)
	}
	return []Renderable{fill, vertices}
}
