// Package mapsurface is the server-side model of one browser map. It enforces
// the id rules of the client map library, dispatches the map's events to
// subscribers, and publishes every applied change as a service.Op so the
// browser can mirror it.
package mapsurface

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/joeblew999/forest-sync/internal/geometry"
	"github.com/joeblew999/forest-sync/internal/overlay"
	"github.com/joeblew999/forest-sync/internal/service"
	"github.com/joeblew999/forest-sync/internal/viewstate"
)

var (
	ErrSurfaceRemoved    = errors.New("map surface removed")
	ErrDuplicateID       = errors.New("id already in use")
	ErrNotFound          = errors.New("not found")
	ErrSourceInUse       = errors.New("source in use")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// Op kinds published on the bus.
const (
	OpAddSource    = "addSource"
	OpRemoveSource = "removeSource"
	OpAddLayer     = "addLayer"
	OpRemoveLayer  = "removeLayer"
	OpAddMarker    = "addMarker"
	OpRemoveMarker = "removeMarker"
	OpJumpTo       = "jumpTo"
	OpRemove       = "remove"
)

// EventType is a map event name.
type EventType string

const (
	Load    EventType = "load"
	MoveEnd EventType = "moveend"
	Click   EventType = "click"
)

// ParseEventType validates an event name sent by the browser.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case Load, MoveEnd, Click:
		return t, nil
	default:
		return "", fmt.Errorf("unknown map event %q", s)
	}
}

// Event is a map event. LngLat is set for Click, Camera for MoveEnd.
type Event struct {
	Type   EventType
	LngLat geometry.GeoPoint
	Camera viewstate.CameraState
}

// Handler receives map events.
type Handler func(Event)

// Surface is one map instance.
type Surface struct {
	mu      sync.Mutex
	view    string
	bus     *service.EventBus[service.Op]
	gen     uint64
	seq     uint64
	camera  viewstate.CameraState
	loaded  bool
	removed bool

	sources map[string]overlay.Source
	layers  map[string]overlay.Layer
	markers map[string]overlay.Marker
	// Insertion order, which is drawing order for layers.
	sourceOrder, layerOrder, markerOrder []string

	handlers    map[EventType]map[int]Handler
	nextHandler int
}

var _ overlay.Surface = (*Surface)(nil)

var generations atomic.Uint64

// New creates a surface for a view, centred on camera. bus may be nil.
func New(view string, camera viewstate.CameraState, bus *service.EventBus[service.Op]) *Surface {
	return &Surface{
		view:     view,
		bus:      bus,
		gen:      generations.Add(1),
		camera:   camera,
		sources:  make(map[string]overlay.Source),
		layers:   make(map[string]overlay.Layer),
		markers:  make(map[string]overlay.Marker),
		handlers: make(map[EventType]map[int]Handler),
	}
}

// View returns the id of the view that owns the surface.
func (s *Surface) View() string { return s.view }

// Gen returns the generation stamped on the surface's ops.
func (s *Surface) Gen() uint64 { return s.gen }

// publish must be called with mu held.
func (s *Surface) publish(kind, id string, payload any) {
	s.seq++
	if s.bus != nil {
		s.bus.Publish(service.Op{View: s.view, Gen: s.gen, Seq: s.seq, Kind: kind, ID: id, Payload: payload})
	}
}

func (s *Surface) AddSource(src overlay.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrSurfaceRemoved
	}
	if src.ID == "" || src.Data == nil {
		return fmt.Errorf("source %q: id and data are required", src.ID)
	}
	if _, ok := s.sources[src.ID]; ok {
		return fmt.Errorf("%w: source %q", ErrDuplicateID, src.ID)
	}
	s.sources[src.ID] = src
	s.sourceOrder = append(s.sourceOrder, src.ID)
	s.publish(OpAddSource, src.ID, src)
	return nil
}

func (s *Surface) RemoveSource(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrSurfaceRemoved
	}
	if _, ok := s.sources[id]; !ok {
		return fmt.Errorf("%w: source %q", ErrNotFound, id)
	}
	for _, lid := range s.layerOrder {
		if s.layers[lid].Source == id {
			return fmt.Errorf("%w: source %q is drawn by layer %q", ErrSourceInUse, id, lid)
		}
	}
	delete(s.sources, id)
	s.sourceOrder = without(s.sourceOrder, id)
	s.publish(OpRemoveSource, id, nil)
	return nil
}

func (s *Surface) AddLayer(l overlay.Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrSurfaceRemoved
	}
	if l.ID == "" {
		return errors.New("layer id is required")
	}
	if _, ok := s.layers[l.ID]; ok {
		return fmt.Errorf("%w: layer %q", ErrDuplicateID, l.ID)
	}
	if _, ok := s.sources[l.Source]; !ok {
		return fmt.Errorf("%w: layer %q references source %q", ErrNotFound, l.ID, l.Source)
	}
	s.layers[l.ID] = l
	s.layerOrder = append(s.layerOrder, l.ID)
	s.publish(OpAddLayer, l.ID, l)
	return nil
}

func (s *Surface) RemoveLayer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrSurfaceRemoved
	}
	if _, ok := s.layers[id]; !ok {
		return fmt.Errorf("%w: layer %q", ErrNotFound, id)
	}
	delete(s.layers, id)
	s.layerOrder = without(s.layerOrder, id)
	s.publish(OpRemoveLayer, id, nil)
	return nil
}

func (s *Surface) AddMarker(m overlay.Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrSurfaceRemoved
	}
	if !m.Position.Valid() {
		return fmt.Errorf("%w: marker %q at %v", ErrInvalidCoordinate, m.ID, m.Position)
	}
	if _, ok := s.markers[m.ID]; ok {
		return fmt.Errorf("%w: marker %q", ErrDuplicateID, m.ID)
	}
	s.markers[m.ID] = m
	s.markerOrder = append(s.markerOrder, m.ID)
	s.publish(OpAddMarker, m.ID, m)
	return nil
}

func (s *Surface) RemoveMarker(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrSurfaceRemoved
	}
	if _, ok := s.markers[id]; !ok {
		return fmt.Errorf("%w: marker %q", ErrNotFound, id)
	}
	delete(s.markers, id)
	s.markerOrder = without(s.markerOrder, id)
	s.publish(OpRemoveMarker, id, nil)
	return nil
}

// Publish sends a non-map op, such as an address bar update, in sequence
// with the map ops.
func (s *Surface) Publish(kind string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrSurfaceRemoved
	}
	s.publish(kind, "", payload)
	return nil
}

// JumpTo moves the camera without animation.
func (s *Surface) JumpTo(c viewstate.CameraState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrSurfaceRemoved
	}
	s.camera = c
	s.publish(OpJumpTo, "", c)
	return nil
}

// Camera returns the current camera.
func (s *Surface) Camera() viewstate.CameraState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

// Loaded reports whether the load event has fired.
func (s *Surface) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// On subscribes h to events of type t. The returned func unsubscribes and is
// safe to call more than once.
func (s *Surface) On(t EventType, h Handler) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return func() {}
	}
	id := s.nextHandler
	s.nextHandler++
	if s.handlers[t] == nil {
		s.handlers[t] = make(map[int]Handler)
	}
	s.handlers[t][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.handlers[t], id)
		})
	}
}

// Emit records the event's effect on the surface and calls the subscribed
// handlers synchronously, in subscription order. Handlers may call back into
// the surface.
func (s *Surface) Emit(e Event) error {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return ErrSurfaceRemoved
	}
	switch e.Type {
	case Load:
		s.loaded = true
	case MoveEnd:
		s.camera = e.Camera
	}
	hs := s.handlers[e.Type]
	ids := slices.Sorted(maps.Keys(hs))
	handlers := make([]Handler, len(ids))
	for i, id := range ids {
		handlers[i] = hs[id]
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
	return nil
}

// Remove tears the surface down: handlers, sources, layers and markers are
// dropped and every later call fails with ErrSurfaceRemoved.
func (s *Surface) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return
	}
	s.removed = true
	clear(s.handlers)
	clear(s.sources)
	clear(s.layers)
	clear(s.markers)
	s.sourceOrder, s.layerOrder, s.markerOrder = nil, nil, nil
	s.publish(OpRemove, "", nil)
}

// Removed reports whether Remove has been called.
func (s *Surface) Removed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed
}

// Snapshot returns the ops that rebuild the surface from scratch: the camera,
// then sources, layers and markers in the order they were added. A browser
// that connects late replays these before following the bus.
func (s *Surface) Snapshot() []service.Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nil
	}
	ops := make([]service.Op, 0, 1+len(s.sourceOrder)+len(s.layerOrder)+len(s.markerOrder))
	op := func(kind, id string, payload any) {
		ops = append(ops, service.Op{View: s.view, Gen: s.gen, Seq: s.seq, Kind: kind, ID: id, Payload: payload})
	}
	op(OpJumpTo, "", s.camera)
	for _, id := range s.sourceOrder {
		op(OpAddSource, id, s.sources[id])
	}
	for _, id := range s.layerOrder {
		op(OpAddLayer, id, s.layers[id])
	}
	for _, id := range s.markerOrder {
		op(OpAddMarker, id, s.markers[id])
	}
	return ops
}

// State returns the materialized ids in insertion order.
func (s *Surface) State() overlay.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return overlay.State{
		Sources: slices.Clone(s.sourceOrder),
		Layers:  slices.Clone(s.layerOrder),
		Markers: slices.Clone(s.markerOrder),
	}
}

func without(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(x string) bool { return x == id })
}
