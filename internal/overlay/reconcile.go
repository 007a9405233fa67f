package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/joeblew999/forest-sync/internal/metrics"
)

// Surface is the map the overlay is drawn on. Implementations reject
// duplicate ids and layers whose source is absent.
type Surface interface {
	AddSource(Source) error
	RemoveSource(id string) error
	AddLayer(Layer) error
	RemoveLayer(id string) error
	AddMarker(Marker) error
	RemoveMarker(id string) error
}

// Item kinds and actions, as used in errors, logs and metrics.
const (
	KindSource = "source"
	KindLayer  = "layer"
	KindMarker = "marker"

	ActionAdd    = "add"
	ActionRemove = "remove"
)

// ErrSourceMissing is reported for a layer whose source could not be placed.
var ErrSourceMissing = errors.New("backing source not on surface")

// OverlayRenderError is a single item the surface rejected. The rest of the
// pass carries on without it.
type OverlayRenderError struct {
	Action string
	Kind   string
	ID     string
	Err    error
}

func (e *OverlayRenderError) Error() string {
	return fmt.Sprintf("overlay: %s %s %q: %v", e.Action, e.Kind, e.ID, e.Err)
}

func (e *OverlayRenderError) Unwrap() error { return e.Err }

// Result summarises one reconciliation pass.
type Result struct {
	Added   int
	Removed int
	Errors  []*OverlayRenderError
}

// Ops returns the number of successful surface operations.
func (r Result) Ops() int { return r.Added + r.Removed }

// Err joins the per-item errors, or returns nil.
func (r Result) Err() error {
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// State lists the ids currently materialized on the surface.
type State struct {
	Sources []string `json:"sources"`
	Layers  []string `json:"layers"`
	Markers []string `json:"markers"`
}

// Renderer is the only writer to a surface's overlay. It remembers what it
// applied so that repeated passes with the same Set do nothing.
type Renderer struct {
	mu      sync.Mutex
	sources map[string]Source
	layers  map[string]Layer
	markers map[string]Marker
	log     *slog.Logger
}

// NewRenderer returns a renderer with nothing applied.
func NewRenderer(log *slog.Logger) *Renderer {
	if log == nil {
		log = slog.Default()
	}
	r := &Renderer{log: log}
	r.Reset()
	return r
}

// Reset forgets the applied state. Call it when the surface is torn down.
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = make(map[string]Source)
	r.layers = make(map[string]Layer)
	r.markers = make(map[string]Marker)
}

// Applied returns the ids currently on the surface, sorted.
func (r *Renderer) Applied() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Sources: slices.Sorted(maps.Keys(r.sources)),
		Layers:  slices.Sorted(maps.Keys(r.layers)),
		Markers: slices.Sorted(maps.Keys(r.markers)),
	}
}

// Reconcile brings the surface in line with want. Stale or changed layers are
// removed first, then stale or changed sources and markers; then sources,
// layers and markers are added in the order want lists them. Items already
// present and unchanged are left alone. A rejected item is logged and skipped.
func (r *Renderer) Reconcile(ctx context.Context, surface Surface, want Set) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.ReconcilePasses.Inc()
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	p := pass{ctx: ctx, r: r}
	wantSources := indexByID(want.Sources, func(s Source) string { return s.ID })
	wantLayers := indexByID(want.Layers, func(l Layer) string { return l.ID })
	wantMarkers := indexByID(want.Markers, func(m Marker) string { return m.ID })

	staleSources := make(map[string]bool)
	for id, have := range r.sources {
		if w, ok := wantSources[id]; !ok || !reflect.DeepEqual(have, w) {
			staleSources[id] = true
		}
	}

	for _, id := range slices.Sorted(maps.Keys(r.layers)) {
		have := r.layers[id]
		w, ok := wantLayers[id]
		if ok && !staleSources[have.Source] && reflect.DeepEqual(have, w) {
			continue
		}
		if p.do(ActionRemove, KindLayer, id, func() error { return surface.RemoveLayer(id) }) {
			delete(r.layers, id)
		}
	}

	for _, id := range slices.Sorted(maps.Keys(staleSources)) {
		if layer, ok := r.referencing(id); ok {
			p.fail(ActionRemove, KindSource, id, fmt.Errorf("still used by layer %q", layer))
			continue
		}
		if p.do(ActionRemove, KindSource, id, func() error { return surface.RemoveSource(id) }) {
			delete(r.sources, id)
		}
	}

	for _, id := range slices.Sorted(maps.Keys(r.markers)) {
		if w, ok := wantMarkers[id]; ok && r.markers[id] == w {
			continue
		}
		if p.do(ActionRemove, KindMarker, id, func() error { return surface.RemoveMarker(id) }) {
			delete(r.markers, id)
		}
	}

	seen := make(map[string]bool)
	for _, s := range want.Sources {
		if _, ok := r.sources[s.ID]; ok || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		if p.do(ActionAdd, KindSource, s.ID, func() error { return surface.AddSource(s) }) {
			r.sources[s.ID] = s
		}
	}

	clear(seen)
	for _, l := range want.Layers {
		if _, ok := r.layers[l.ID]; ok || seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		if _, ok := r.sources[l.Source]; !ok {
			p.fail(ActionAdd, KindLayer, l.ID, fmt.Errorf("%w: %q", ErrSourceMissing, l.Source))
			continue
		}
		if p.do(ActionAdd, KindLayer, l.ID, func() error { return surface.AddLayer(l) }) {
			r.layers[l.ID] = l
		}
	}

	clear(seen)
	for _, m := range want.Markers {
		if _, ok := r.markers[m.ID]; ok || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if p.do(ActionAdd, KindMarker, m.ID, func() error { return surface.AddMarker(m) }) {
			r.markers[m.ID] = m
		}
	}

	if p.res.Ops() > 0 || len(p.res.Errors) > 0 {
		r.log.DebugContext(ctx, "overlay reconciled",
			"added", p.res.Added, "removed", p.res.Removed, "errors", len(p.res.Errors))
	}
	return p.res
}

// referencing returns an applied layer that still draws the given source.
func (r *Renderer) referencing(source string) (string, bool) {
	for _, id := range slices.Sorted(maps.Keys(r.layers)) {
		if r.layers[id].Source == source {
			return id, true
		}
	}
	return "", false
}

type pass struct {
	ctx context.Context
	r   *Renderer
	res Result
}

// do runs one surface operation and records its outcome.
func (p *pass) do(action, kind, id string, op func() error) bool {
	if err := op(); err != nil {
		p.fail(action, kind, id, err)
		return false
	}
	metrics.OverlayOps.WithLabelValues(action, kind).Inc()
	if action == ActionAdd {
		p.res.Added++
	} else {
		p.res.Removed++
	}
	return true
}

func (p *pass) fail(action, kind, id string, err error) {
	rerr := &OverlayRenderError{Action: action, Kind: kind, ID: id, Err: err}
	p.res.Errors = append(p.res.Errors, rerr)
	metrics.RenderErrors.WithLabelValues(kind).Inc()
	p.r.log.WarnContext(p.ctx, "overlay item skipped",
		"action", action, "kind", kind, "id", id, "error", err)
}

// indexByID maps items by id. Later duplicates are dropped so that the first
// occurrence is the one applied.
func indexByID[T any](items []T, id func(T) string) map[string]T {
	m := make(map[string]T, len(items))
	for _, it := range items {
		if _, dup := m[id(it)]; !dup {
			m[id(it)] = it
		}
	}
	return m
}
