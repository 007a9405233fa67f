package view

import (
	"context"
	"sync"

	"github.com/joeblew999/forest-sync/internal/mapsurface"
	"github.com/joeblew999/forest-sync/internal/overlay"
	"github.com/joeblew999/forest-sync/internal/service"
	"github.com/joeblew999/forest-sync/internal/viewstate"
)

// SinkDetailView is a sink's page: a small map centred on the sink with a
// single marker.
type SinkDetailView struct {
	mapBase
	deps Deps

	mu   sync.Mutex
	sink service.CarbonSink
}

// NewSinkDetailView mounts the detail page for sink.
func NewSinkDetailView(id string, route Route, sink service.CarbonSink, deps Deps) *SinkDetailView {
	camera := viewstate.CameraState{Lat: sink.Geolocation.Lat, Lng: sink.Geolocation.Lng, Zoom: deps.DetailZoom}
	v := &SinkDetailView{
		mapBase: mapBase{
			route:    route,
			surface:  mapsurface.New(id, camera, deps.Bus),
			renderer: overlay.NewRenderer(deps.Log),
			log:      deps.Log.With("view", id, "page", KindSink, "sink", sink.ID),
		},
		deps: deps,
		sink: sink,
	}
	v.on(mapsurface.Load, func(mapsurface.Event) { v.Refresh(context.Background()) })
	return v
}

// Sink returns the sink shown.
func (v *SinkDetailView) Sink() service.CarbonSink {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sink
}

// Refresh picks up the latest record for the sink and redraws its marker. A
// sink that disappeared from the registry keeps its last known record.
func (v *SinkDetailView) Refresh(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if sink, ok := v.deps.Registry.Get(v.sink.ID); ok {
		v.sink = sink
	}
	var want overlay.Set
	want.Add(overlay.PointMarker{ID: v.sink.ID, At: v.sink.Geolocation})
	if res := v.apply(ctx, want); len(res.Errors) > 0 {
		v.log.Warn("sink marker not shown", "error", res.Err())
	}
}

func (v *SinkDetailView) Unmount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unmount()
}

// OwnerView is a landowner's page. It has no map.
type OwnerView struct {
	route Route
	deps  Deps

	mu    sync.Mutex
	owner service.Owner
	sinks []service.CarbonSink
}

// NewOwnerView mounts the owner page.
func NewOwnerView(route Route, owner service.Owner, deps Deps) *OwnerView {
	return &OwnerView{route: route, deps: deps, owner: owner, sinks: deps.Registry.SinksOf(owner.ID)}
}

func (v *OwnerView) Route() Route { return v.route }

func (v *OwnerView) Surface() *mapsurface.Surface { return nil }

func (v *OwnerView) HandleEvent(mapsurface.Event) error { return ErrNoMap }

func (v *OwnerView) Unmount() {}

// Owner returns the owner and their sinks.
func (v *OwnerView) Owner() (service.Owner, []service.CarbonSink) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.owner, v.sinks
}

func (v *OwnerView) Refresh(context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if owner, ok := v.deps.Registry.Owner(v.owner.ID); ok {
		v.owner = owner
	}
	v.sinks = v.deps.Registry.SinksOf(v.owner.ID)
}
