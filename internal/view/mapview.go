package view

import (
	"context"
	"sync"

	"github.com/joeblew999/forest-sync/internal/drawing"
	"github.com/joeblew999/forest-sync/internal/geometry"
	"github.com/joeblew999/forest-sync/internal/mapsurface"
	"github.com/joeblew999/forest-sync/internal/overlay"
	"github.com/joeblew999/forest-sync/internal/viewstate"
)

// MapView is the full screen map with every sink and the drawing tool.
type MapView struct {
	mapBase
	deps Deps

	mu       sync.Mutex
	session  drawing.Session
	fragment string
}

// NewMapView mounts the map page. The camera comes from the route's fragment
// when it holds one, otherwise from the configured default.
func NewMapView(id string, route Route, deps Deps) *MapView {
	camera, ok := viewstate.Decode(route.Fragment)
	if !ok {
		camera = deps.DefaultCamera
	}
	v := &MapView{
		mapBase: mapBase{
			route:    route,
			surface:  mapsurface.New(id, camera, deps.Bus),
			renderer: overlay.NewRenderer(deps.Log),
			log:      deps.Log.With("view", id, "page", KindMap),
		},
		deps:     deps,
		session:  drawing.New(),
		fragment: viewstate.Encode(camera),
	}
	v.on(mapsurface.Load, v.onLoad)
	v.on(mapsurface.MoveEnd, v.onMoveEnd)
	v.on(mapsurface.Click, v.onClick)
	return v
}

func (v *MapView) onLoad(mapsurface.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reconcile(context.Background())
}

func (v *MapView) onMoveEnd(e mapsurface.Event) {
	v.mu.Lock()
	v.fragment = viewstate.Encode(e.Camera)
	fragment := v.fragment
	v.mu.Unlock()

	if err := v.surface.Publish(OpFragment, fragment); err != nil {
		v.log.Debug("fragment not published", "error", err)
	}
}

func (v *MapView) onClick(e mapsurface.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session.Mode != drawing.Drawing {
		return
	}
	v.transition(drawing.Event{Type: drawing.Click, Point: e.LngLat})
}

// Command applies a drawing control: enable, disable or remove-last. Clicks
// arrive as map events instead.
func (v *MapView) Command(t drawing.EventType) drawing.Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.transition(drawing.Event{Type: t})
	return v.session
}

// transition must be called with mu held.
func (v *MapView) transition(e drawing.Event) {
	next := drawing.Apply(v.session, e)
	if next.Equal(v.session) {
		return
	}
	v.session = next
	v.log.Debug("drawing", "event", e.Type, "mode", next.Mode, "points", next.Len())
	v.reconcile(context.Background())
	if err := v.surface.Publish(OpDrawing, Summarize(next)); err != nil {
		v.log.Debug("drawing state not published", "error", err)
	}
}

// Summarize reports the mode and point count of a session.
func Summarize(s drawing.Session) DrawingState {
	return DrawingState{Mode: s.Mode.String(), Points: s.Len()}
}

// reconcile must be called with mu held.
func (v *MapView) reconcile(ctx context.Context) overlay.Result {
	sinks := SinkViews(v.deps.Registry.List())
	res := v.apply(ctx, v.deps.Planner.Plan(sinks, v.session))
	if len(res.Errors) > 0 {
		v.log.Warn("overlay incomplete", "errors", len(res.Errors))
	}
	return res
}

// Refresh redraws the sinks after the registry changed.
func (v *MapView) Refresh(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reconcile(ctx)
}

// Session returns the current drawing session.
func (v *MapView) Session() drawing.Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.session
}

// Fragment returns the address bar fragment for the current camera.
func (v *MapView) Fragment() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fragment
}

// Metrics returns centroid and area of the polygon being drawn. It fails with
// geometry.ErrDegenerateGeometry below three points.
func (v *MapView) Metrics() (geometry.DerivedMetrics, error) {
	return geometry.Metrics(v.Session().Polygon())
}

// Unmount discards the drawing and releases the surface.
func (v *MapView) Unmount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unmount()
	v.session = drawing.New()
}
