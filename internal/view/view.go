package view

import (
	"context"
	"errors"
	"log/slog"

	"github.com/joeblew999/forest-sync/internal/mapsurface"
	"github.com/joeblew999/forest-sync/internal/overlay"
	"github.com/joeblew999/forest-sync/internal/service"
	"github.com/joeblew999/forest-sync/internal/viewstate"
)

var (
	ErrNoMap    = errors.New("page has no map")
	ErrNotFound = errors.New("not found")
)

// Ops a tab publishes besides the map surface ops.
const (
	// OpFragment carries the new address bar fragment after the camera moves.
	OpFragment = "fragment"
	// OpDrawing carries a DrawingState after the drawing session changed.
	OpDrawing = "drawing"
	// OpPage carries the Route of a freshly mounted or refreshed page. It is
	// published outside the surface sequence, with Seq zero.
	OpPage = "page"
)

// DrawingState summarizes a drawing session for the browser controls.
type DrawingState struct {
	Mode   string `json:"mode" enum:"idle,drawing" doc:"Drawing mode"`
	Points int    `json:"points" doc:"Number of points drawn"`
}

// Registry is the read side of the sink registry.
type Registry interface {
	List() []service.CarbonSink
	Get(id string) (service.CarbonSink, bool)
	Owner(id string) (service.Owner, bool)
	SinksOf(ownerID string) []service.CarbonSink
}

// Deps are shared by all views.
type Deps struct {
	Registry      Registry
	Bus           *service.EventBus[service.Op]
	Planner       *overlay.Planner
	DefaultCamera viewstate.CameraState
	DetailZoom    float64
	Log           *slog.Logger
}

// View is a mounted page.
type View interface {
	Route() Route
	// Surface is nil for pages without a map.
	Surface() *mapsurface.Surface
	// HandleEvent forwards a browser map event to the surface.
	HandleEvent(mapsurface.Event) error
	// Refresh redraws after the registry changed.
	Refresh(ctx context.Context)
	// Unmount releases the surface. The view is unusable afterwards.
	Unmount()
}

// SinkViews converts registry records for the overlay planner.
func SinkViews(sinks []service.CarbonSink) []overlay.SinkView {
	out := make([]overlay.SinkView, len(sinks))
	for i, s := range sinks {
		out[i] = overlay.SinkView{
			ID:          s.ID,
			Name:        s.Name,
			Geolocation: s.Geolocation,
			Boundary:    s.Polygon,
			StoredCO2:   s.CO2StoredTons,
			AreaHa:      s.SizeHa,
			Planted:     s.Planted(),
		}
	}
	return out
}

// mapBase is what every page with a map shares.
type mapBase struct {
	route    Route
	surface  *mapsurface.Surface
	renderer *overlay.Renderer
	log      *slog.Logger
	unsubs   []func()
}

func (b *mapBase) Route() Route { return b.route }
func (b *mapBase) Surface() *mapsurface.Surface { return b.surface }

func (b *mapBase) HandleEvent(e mapsurface.Event) error {
	return b.surface.Emit(e)
}

func (b *mapBase) on(t mapsurface.EventType, h mapsurface.Handler) {
	b.unsubs = append(b.unsubs, b.surface.On(t, h))
}

// apply reconciles the surface with want once the map has loaded.
func (b *mapBase) apply(ctx context.Context, want overlay.Set) overlay.Result {
	if b.surface.Removed() || !b.surface.Loaded() {
		return overlay.Result{}
	}
	return b.renderer.Reconcile(ctx, b.surface, want)
}

func (b *mapBase) unmount() {
	for _, unsubscribe := range b.unsubs {
		unsubscribe()
	}
	b.unsubs = nil
	b.surface.Remove()
	b.renderer.Reset()
}
