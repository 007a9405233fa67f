package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/forest-sync/internal/drawing"
	"github.com/joeblew999/forest-sync/internal/geometry"
	"github.com/joeblew999/forest-sync/internal/humastar"
	"github.com/joeblew999/forest-sync/internal/mapsurface"
	"github.com/joeblew999/forest-sync/internal/overlay"
	"github.com/joeblew999/forest-sync/internal/service"
	"github.com/joeblew999/forest-sync/internal/templates"
	"github.com/joeblew999/forest-sync/internal/view"
	"github.com/joeblew999/forest-sync/internal/viewstate"
)

// DefaultHeartbeat is how often an ops stream checks that its tab is still
// open. Each check also keeps the tab from being swept.
const DefaultHeartbeat = 15 * time.Second

var errTabClosed = errors.New("tab closed")

// ViewHandler serves the per-tab views: JSON endpoints the page script calls
// with map events, and a Datastar stream that mirrors the server-side map
// into the browser and renders the page around it.
type ViewHandler struct {
	humastar.Handler
	manager   *view.Manager
	bus       *service.EventBus[service.Op]
	baseURL   string
	heartbeat time.Duration
	now       func() time.Time
}

// NewViewHandler creates the view handler. bus must be the bus the
// manager's surfaces publish on.
func NewViewHandler(manager *view.Manager, bus *service.EventBus[service.Op], renderer *templates.Renderer, baseURL string, log *slog.Logger) *ViewHandler {
	return &ViewHandler{
		Handler:   humastar.Handler{Templates: renderer, Log: log},
		manager:   manager,
		bus:       bus,
		baseURL:   baseURL,
		heartbeat: DefaultHeartbeat,
		now:       time.Now,
	}
}

func (h *ViewHandler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("views")
	created := func(o *huma.Operation) { o.DefaultStatus = 201 }

	huma.Post(api, "/api/v1/views", h.Create, tags, created)
	huma.Get(api, "/api/v1/views/{id}", h.Get, tags)
	huma.Delete(api, "/api/v1/views/{id}", h.Delete, tags)
	huma.Post(api, "/api/v1/views/{id}/navigate", h.Navigate, tags)
	huma.Post(api, "/api/v1/views/{id}/events", h.Event, tags)
	huma.Post(api, "/api/v1/views/{id}/drawing/{command}", h.Drawing, tags)

	// Datastar endpoints
	sse := huma.OperationTags("views", "datastar")
	huma.Post(api, "/api/v1/views/mount", h.Mount, sse)
	huma.Post(api, "/api/v1/views/{id}/goto", h.Goto, sse)
	huma.Get(api, "/api/v1/views/{id}/ops", h.Ops, sse)
}

// Types

// ViewBody describes a tab and the page mounted in it.
type ViewBody struct {
	ID       string                   `json:"id" doc:"Tab ID; also the view ID of its map ops"`
	Route    view.Route               `json:"route" doc:"Mounted page"`
	Fragment string                   `json:"fragment" doc:"Address bar fragment, without '#'"`
	Camera   *viewstate.CameraState   `json:"camera,omitempty" doc:"Map camera; absent on pages without a map"`
	Loaded   bool                     `json:"loaded" doc:"Whether the browser map has loaded"`
	Overlay  *overlay.State           `json:"overlay,omitempty" doc:"Sources, layers and markers on the map"`
	Drawing  *view.DrawingState       `json:"drawing,omitempty" doc:"Drawing session of the map page"`
	Metrics  *geometry.DerivedMetrics `json:"metrics,omitempty" doc:"Label point and area of the drawn polygon"`

	actions []humastar.Action
}

// Actions lists the drawing commands the page accepts in its current mode.
func (b ViewBody) Actions() []humastar.Action { return b.actions }

type PathBody struct {
	Path string `json:"path,omitempty" doc:"Fragment path of the page, with or without '#'" example:"#map/59.917507/10.740166/8"`
}

type CreateViewInput struct {
	Body PathBody
}

type NavigateInput struct {
	ID   string `path:"id" doc:"Tab ID"`
	Body PathBody
}

// MapEventBody is a browser map event.
type MapEventBody struct {
	Type   string                 `json:"type" enum:"load,moveend,click" doc:"Event name"`
	LngLat *geometry.GeoPoint     `json:"lngLat,omitempty" doc:"Clicked position; required for click"`
	Camera *viewstate.CameraState `json:"camera,omitempty" doc:"Camera after the move; required for moveend"`
}

type MapEventInput struct {
	ID   string `path:"id" doc:"Tab ID"`
	Body MapEventBody
}

type DrawingInput struct {
	ID      string `path:"id" doc:"Tab ID"`
	Command string `path:"command" enum:"enable,disable,remove-last" doc:"Drawing command"`
}

type GotoInput struct {
	ID      string `path:"id" doc:"Tab ID"`
	RawBody []byte
}

// JSON handlers

func (h *ViewHandler) Create(ctx context.Context, input *CreateViewInput) (*struct{ Body ViewBody }, error) {
	tab, err := h.manager.Open(input.Body.Path)
	if err != nil {
		return nil, viewError(err)
	}
	return &struct{ Body ViewBody }{Body: h.body(tab)}, nil
}

func (h *ViewHandler) Get(ctx context.Context, input *IDInput) (*struct{ Body ViewBody }, error) {
	tab, err := h.tab(input.ID)
	if err != nil {
		return nil, err
	}
	return &struct{ Body ViewBody }{Body: h.body(tab)}, nil
}

func (h *ViewHandler) Delete(ctx context.Context, input *IDInput) (*struct{}, error) {
	if !h.manager.Close(input.ID) {
		return nil, huma.Error404NotFound("view not found")
	}
	return nil, nil
}

func (h *ViewHandler) Navigate(ctx context.Context, input *NavigateInput) (*struct{ Body ViewBody }, error) {
	tab, err := h.tab(input.ID)
	if err != nil {
		return nil, err
	}
	if _, err := tab.Navigate(input.Body.Path); err != nil {
		return nil, viewError(err)
	}
	return &struct{ Body ViewBody }{Body: h.body(tab)}, nil
}

func (h *ViewHandler) Event(ctx context.Context, input *MapEventInput) (*struct{ Body ViewBody }, error) {
	tab, err := h.tab(input.ID)
	if err != nil {
		return nil, err
	}
	e, err := mapEvent(input.Body)
	if err != nil {
		return nil, err
	}
	v := tab.Current()
	if v == nil {
		return nil, huma.Error404NotFound("view not found")
	}
	if err := v.HandleEvent(e); err != nil {
		return nil, viewError(err)
	}
	return &struct{ Body ViewBody }{Body: h.body(tab)}, nil
}

func (h *ViewHandler) Drawing(ctx context.Context, input *DrawingInput) (*struct{ Body view.DrawingState }, error) {
	tab, err := h.tab(input.ID)
	if err != nil {
		return nil, err
	}
	mv, ok := tab.Current().(*view.MapView)
	if !ok {
		return nil, huma.Error409Conflict("page has no drawing tool")
	}
	t, err := drawing.ParseEventType(input.Command)
	if err != nil || t == drawing.Click {
		return nil, huma.Error422UnprocessableEntity(fmt.Sprintf("unknown drawing command %q", input.Command))
	}
	return &struct{ Body view.DrawingState }{Body: view.Summarize(mv.Command(t))}, nil
}

// Datastar handlers

// Mount opens a tab for the page's fragment, read from the hash signal, and
// hands its ID back as the view signal. An unknown detail page falls back to
// the map with an error signal.
func (h *ViewHandler) Mount(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	tab, err := h.manager.Open(signals.String("hash"))
	var notFound error
	if errors.Is(err, view.ErrNotFound) {
		notFound = err
		tab, err = h.manager.Open("")
	}
	if err != nil {
		return nil, viewError(err)
	}

	return h.Stream(func(sse humastar.SSE) {
		_ = sse.Signals(map[string]any{"view": tab.ID(), "error": ""})
		if notFound != nil {
			_ = sse.Error(notFound.Error())
		}
	}), nil
}

// Goto navigates a tab after a hashchange. The page itself is rendered by
// the tab's ops stream.
func (h *ViewHandler) Goto(ctx context.Context, input *GotoInput) (*huma.StreamResponse, error) {
	signals, err := (&humastar.SignalsInput{RawBody: input.RawBody}).MustParse()
	if err != nil {
		return nil, err
	}
	tab, err := h.tab(input.ID)
	if err != nil {
		return nil, err
	}
	_, navErr := tab.Navigate(signals.String("hash"))

	return h.Stream(func(sse humastar.SSE) {
		if navErr != nil {
			_ = sse.Error(navErr.Error())
			return
		}
		_ = sse.Signals(map[string]any{"error": ""})
	}), nil
}

// Ops streams a tab to its browser: the current page and map first, then
// every op the tab publishes, until the client goes away or the tab closes.
func (h *ViewHandler) Ops(ctx context.Context, input *IDInput) (*huma.StreamResponse, error) {
	tab, err := h.tab(input.ID)
	if err != nil {
		return nil, err
	}

	return h.Stream(func(sse humastar.SSE) {
		ops := h.bus.SubscribeFunc(OpsBuffer, func(op service.Op) bool { return op.View == tab.ID() })
		defer h.bus.Unsubscribe(ops)

		m := &mirror{h: h, sse: sse, tab: tab}
		if err := m.page(); err != nil {
			return
		}

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		for {
			var err error
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, ok := h.manager.Get(tab.ID()); !ok {
					return
				}
				if h.bus.Lagged(ops) > 0 {
					err = m.resync()
				}
			case op := <-ops:
				if h.bus.Lagged(ops) > 0 {
					if err = m.resync(); err != nil {
						break
					}
				}
				err = m.forward(op)
			}
			if err != nil {
				h.Logger().Debug("ops stream ended", "view", tab.ID(), "error", err)
				return
			}
		}
	}), nil
}

// OpsBuffer is the per-stream op queue. A stream that falls further behind
// is resynced from a snapshot.
const OpsBuffer = 256

// mirror keeps one browser in step with its tab.
type mirror struct {
	h   *ViewHandler
	sse humastar.SSE
	tab *view.Tab

	// surface is the surface the page was last rendered with.
	surface *mapsurface.Surface
	built   bool
	// gen and last are the newest surface op the browser has applied.
	gen, last uint64
}

// page renders the tab's page. The browser map is rebuilt from a snapshot
// when the page got a surface the browser is not already following.
func (m *mirror) page() error {
	v := m.tab.Current()
	if v == nil {
		return errTabClosed
	}
	if err := m.sse.Signals(map[string]any{"page": string(v.Route().Kind)}); err != nil {
		return err
	}
	if err := m.sse.Patch(m.h.renderPage(v), "#page"); err != nil {
		return err
	}
	if err := m.sse.Patch(m.h.renderControls(m.tab.ID(), v), "#drawing-controls"); err != nil {
		return err
	}

	s := v.Surface()
	if m.built && s == m.surface {
		return nil
	}
	m.surface, m.built = s, true
	if s != nil && s.Gen() == m.gen {
		return nil
	}

	if err := m.sse.MapOps(service.Op{View: m.tab.ID(), Kind: mapsurface.OpRemove}); err != nil {
		return err
	}
	m.gen, m.last = 0, 0
	if s == nil {
		return nil
	}
	snap := s.Snapshot()
	if len(snap) == 0 {
		return nil
	}
	m.gen, m.last = snap[0].Gen, snap[0].Seq
	return m.sse.MapOps(snap...)
}

// resync rebuilds the page and map after the stream missed ops.
func (m *mirror) resync() error {
	m.h.Logger().Debug("ops stream lagged, resyncing", "view", m.tab.ID())
	m.built, m.gen, m.last = false, 0, 0
	return m.page()
}

func (m *mirror) forward(op service.Op) error {
	if op.Gen != 0 {
		switch {
		case op.Gen < m.gen, op.Gen == m.gen && op.Seq <= m.last:
			// Superseded surface, or already in the snapshot.
			return nil
		case op.Gen == m.gen && op.Seq == m.last+1, op.Gen > m.gen && op.Seq == 1:
			m.gen, m.last = op.Gen, op.Seq
		default:
			return m.resync()
		}
	}
	switch op.Kind {
	case view.OpPage:
		return m.page()
	case view.OpDrawing:
		return m.sse.Patch(m.h.renderControls(m.tab.ID(), m.tab.Current()), "#drawing-controls")
	default:
		return m.sse.MapOps(op)
	}
}

// Rendering

func (h *ViewHandler) renderPage(v view.View) string {
	switch v := v.(type) {
	case *view.SinkDetailView:
		sink := v.Sink()
		return h.Render("sink-detail", map[string]any{
			"Sink":      sink,
			"Planted":   sink.Planted(),
			"CO2Tons":   sink.CO2(h.now()),
			"Estimated": sink.CO2StoredTons == nil,
			"BaseURL":   h.baseURL,
		})
	case *view.OwnerView:
		owner, sinks := v.Owner()
		return h.Render("owner-detail", map[string]any{
			"Owner":   owner,
			"Sinks":   sinks,
			"BaseURL": h.baseURL,
		})
	default:
		return ""
	}
}

func (h *ViewHandler) renderControls(id string, v view.View) string {
	mv, ok := v.(*view.MapView)
	if !ok {
		return ""
	}
	session := mv.Session()
	data := map[string]any{
		"Mode":       session.Mode.String(),
		"Drawing":    session.Mode == drawing.Drawing,
		"CommandURL": "/api/v1/views/" + id + "/drawing",
		"Points":     session.Len(),
	}
	if m, err := geometry.Metrics(session.Points); err == nil {
		data["Metrics"] = &m
	}
	return h.Render("drawing-controls", data)
}

// Helpers

func (h *ViewHandler) tab(id string) (*view.Tab, error) {
	tab, ok := h.manager.Get(id)
	if !ok {
		return nil, huma.Error404NotFound("view not found")
	}
	return tab, nil
}

func (h *ViewHandler) body(tab *view.Tab) ViewBody {
	b := ViewBody{ID: tab.ID()}
	v := tab.Current()
	if v == nil {
		return b
	}
	b.Route = v.Route()
	b.Fragment = b.Route.Path()
	if s := v.Surface(); s != nil {
		camera, state := s.Camera(), s.State()
		b.Camera, b.Overlay = &camera, &state
		b.Loaded = s.Loaded()
	}
	if mv, ok := v.(*view.MapView); ok {
		session := mv.Session()
		ds := view.Summarize(session)
		b.Drawing = &ds
		b.Fragment = mv.Fragment()
		if m, err := geometry.Metrics(session.Points); err == nil {
			b.Metrics = &m
		}
		b.actions = drawingActions(tab.ID(), session.Mode)
	}
	return b
}

var commandTitles = map[drawing.EventType]string{
	drawing.Enable:     "Start drawing",
	drawing.Disable:    "Stop drawing",
	drawing.RemoveLast: "Remove last point",
}

func drawingActions(id string, mode drawing.Mode) []humastar.Action {
	var defs []humastar.ActionDef
	for _, t := range drawing.Allowed(mode) {
		if t == drawing.Click {
			continue
		}
		defs = append(defs, humastar.ActionDef{
			Rel:     string(t),
			Pattern: "/api/v1/views/%s/drawing/" + string(t),
			Method:  "POST",
			Title:   commandTitles[t],
		})
	}
	return humastar.ActionsFor(id, defs...)
}

func mapEvent(body MapEventBody) (mapsurface.Event, error) {
	t, err := mapsurface.ParseEventType(body.Type)
	if err != nil {
		return mapsurface.Event{}, huma.Error422UnprocessableEntity(err.Error())
	}
	e := mapsurface.Event{Type: t}
	switch t {
	case mapsurface.Click:
		if body.LngLat == nil {
			return e, huma.Error422UnprocessableEntity("click needs lngLat")
		}
		if !body.LngLat.Valid() {
			return e, huma.Error422UnprocessableEntity(fmt.Sprintf("lngLat %v out of range", *body.LngLat))
		}
		e.LngLat = *body.LngLat
	case mapsurface.MoveEnd:
		if body.Camera == nil {
			return e, huma.Error422UnprocessableEntity("moveend needs camera")
		}
		e.Camera = *body.Camera
	}
	return e, nil
}

// viewError maps view and surface errors to HTTP errors.
func viewError(err error) error {
	switch {
	case errors.Is(err, view.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, view.ErrNoMap):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, mapsurface.ErrSurfaceRemoved):
		return huma.Error410Gone(err.Error())
	default:
		return huma.Error500InternalServerError("view failed", err)
	}
}
