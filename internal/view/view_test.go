package view

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/forest-sync/internal/drawing"
	"github.com/joeblew999/forest-sync/internal/geometry"
	"github.com/joeblew999/forest-sync/internal/logging"
	"github.com/joeblew999/forest-sync/internal/mapsurface"
	"github.com/joeblew999/forest-sync/internal/overlay"
	"github.com/joeblew999/forest-sync/internal/service"
	"github.com/joeblew999/forest-sync/internal/viewstate"
)

var square = geometry.Polygon{
	{Lat: 59.9, Lng: 10.7},
	{Lat: 59.91, Lng: 10.7},
	{Lat: 59.91, Lng: 10.72},
	{Lat: 59.9, Lng: 10.72},
}

func testDeps(t *testing.T) (Deps, *service.SinkService) {
	t.Helper()
	stored := 108.0
	registry := service.NewSinkService("", nil)
	require.NoError(t, registry.Replace(service.Snapshot{
		CarbonSinks: []service.CarbonSink{
			{ID: "s1", Name: "Wood", OwnerID: "o1", CO2StoredTons: &stored,
				Geolocation: geometry.GeoPoint{Lat: 59.9, Lng: 10.7}, Polygon: square},
			{ID: "s2", Name: "Point", OwnerID: "o1", Geolocation: geometry.GeoPoint{Lat: 57, Lng: -2}},
		},
		Owners: []service.Owner{{ID: "o1", Name: "Sophia"}},
	}))

	planner := overlay.NewPlanner("/")
	planner.Log = logging.Discard()
	planner.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	return Deps{
		Registry:      registry,
		Bus:           service.NewEventBus[service.Op](),
		Planner:       planner,
		DefaultCamera: viewstate.Default,
		DetailZoom:    10,
		Log:           logging.Discard(),
	}, registry
}

func TestParseRoute(t *testing.T) {
	tests := []struct {
		path string
		want Route
	}{
		{"#carbon-sink/abc", Route{Kind: KindSink, ID: "abc", Fragment: "carbon-sink/abc"}},
		{"owner/o1", Route{Kind: KindOwner, ID: "o1", Fragment: "owner/o1"}},
		{"owner/o1/extra", Route{Kind: KindOwner, ID: "o1", Fragment: "owner/o1/extra"}},
		{"#carbon-sink/", Route{Kind: KindMap, Fragment: "carbon-sink/"}},
		{"#map/1/2/3", Route{Kind: KindMap, Fragment: "map/1/2/3"}},
		{"", Route{Kind: KindMap}},
		{"#elsewhere", Route{Kind: KindMap, Fragment: "elsewhere"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRoute(tt.path))
		})
	}
	assert.Equal(t, "carbon-sink/abc", ParseRoute("#carbon-sink/abc").Path())
}

func TestMapViewCameraFromFragment(t *testing.T) {
	deps, _ := testDeps(t)

	v := NewMapView("t1", ParseRoute("#map/60/11/7"), deps)
	defer v.Unmount()
	assert.Equal(t, viewstate.CameraState{Lat: 60, Lng: 11, Zoom: 7}, v.Surface().Camera())

	w := NewMapView("t2", ParseRoute(""), deps)
	defer w.Unmount()
	assert.Equal(t, viewstate.Default, w.Surface().Camera())
	assert.Equal(t, "map/59.917507/10.740166/8", w.Fragment())
}

func TestMapViewDrawsNothingBeforeLoad(t *testing.T) {
	deps, _ := testDeps(t)
	v := NewMapView("t1", ParseRoute(""), deps)
	defer v.Unmount()

	v.Command(drawing.Enable)
	assert.Empty(t, v.Surface().State().Sources)

	require.NoError(t, v.HandleEvent(mapsurface.Event{Type: mapsurface.Load}))
	state := v.Surface().State()
	assert.Equal(t, []string{"s1", "s1-label-source"}, state.Sources)
	assert.Equal(t, []string{"s1", "s2"}, state.Markers)
}

func TestMapViewDrawing(t *testing.T) {
	deps, _ := testDeps(t)
	v := NewMapView("t1", ParseRoute(""), deps)
	defer v.Unmount()
	require.NoError(t, v.HandleEvent(mapsurface.Event{Type: mapsurface.Load}))

	click := func(p geometry.GeoPoint) {
		require.NoError(t, v.HandleEvent(mapsurface.Event{Type: mapsurface.Click, LngLat: p}))
	}

	click(square[0])
	assert.Zero(t, v.Session().Len(), "clicks are ignored until drawing is enabled")

	v.Command(drawing.Enable)
	click(square[0])
	click(square[1])
	assert.Contains(t, v.Surface().State().Layers, overlay.DrawingDotsID)
	assert.NotContains(t, v.Surface().State().Layers, overlay.DrawingID)
	_, err := v.Metrics()
	assert.ErrorIs(t, err, geometry.ErrDegenerateGeometry)

	click(square[2])
	click(square[3])
	layers := v.Surface().State().Layers
	assert.Contains(t, layers, overlay.DrawingID)
	assert.Contains(t, layers, "drawing-label")
	m, err := v.Metrics()
	require.NoError(t, err)
	assert.Greater(t, m.AreaHectares, 100.0)

	s := v.Command(drawing.RemoveLast)
	assert.Equal(t, geometry.Polygon{square[0], square[1], square[2]}, s.Points)

	v.Command(drawing.Disable)
	state := v.Surface().State()
	assert.Equal(t, []string{"s1", "s1-label-source"}, state.Sources, "only the sinks remain")
	assert.Equal(t, []string{"s1", "s1-label"}, state.Layers)
}

func TestMapViewMoveEndPublishesFragment(t *testing.T) {
	deps, _ := testDeps(t)
	ops := deps.Bus.Subscribe()
	defer deps.Bus.Unsubscribe(ops)

	v := NewMapView("t1", ParseRoute(""), deps)
	defer v.Unmount()

	cam := viewstate.CameraState{Lat: 61.5, Lng: 9.25, Zoom: 11}
	require.NoError(t, v.HandleEvent(mapsurface.Event{Type: mapsurface.MoveEnd, Camera: cam}))

	assert.Equal(t, "map/61.500000/9.250000/11", v.Fragment())
	op := <-ops
	assert.Equal(t, OpFragment, op.Kind)
	assert.Equal(t, "map/61.500000/9.250000/11", op.Payload)
	assert.Equal(t, "t1", op.View)
}

func TestMapViewRefresh(t *testing.T) {
	deps, registry := testDeps(t)
	v := NewMapView("t1", ParseRoute(""), deps)
	defer v.Unmount()
	require.NoError(t, v.HandleEvent(mapsurface.Event{Type: mapsurface.Load}))

	require.NoError(t, registry.Replace(service.Snapshot{
		CarbonSinks: []service.CarbonSink{{ID: "s3", Name: "New", Geolocation: geometry.GeoPoint{Lat: 1, Lng: 1}}},
	}))
	v.Refresh(context.Background())

	state := v.Surface().State()
	assert.Empty(t, state.Sources)
	assert.Equal(t, []string{"s3"}, state.Markers)
}

func TestUnmountReleasesSurface(t *testing.T) {
	deps, _ := testDeps(t)
	v := NewMapView("t1", ParseRoute(""), deps)
	require.NoError(t, v.HandleEvent(mapsurface.Event{Type: mapsurface.Load}))
	v.Command(drawing.Enable)

	v.Unmount()
	assert.True(t, v.Surface().Removed())
	assert.Equal(t, drawing.Idle, v.Session().Mode)
	assert.ErrorIs(t, v.HandleEvent(mapsurface.Event{Type: mapsurface.Click}), mapsurface.ErrSurfaceRemoved)
}

func TestSinkDetailView(t *testing.T) {
	deps, _ := testDeps(t)
	sink, _ := deps.Registry.Get("s1")
	v := NewSinkDetailView("t1", ParseRoute("carbon-sink/s1"), sink, deps)
	defer v.Unmount()

	assert.Equal(t, viewstate.CameraState{Lat: 59.9, Lng: 10.7, Zoom: 10}, v.Surface().Camera())
	require.NoError(t, v.HandleEvent(mapsurface.Event{Type: mapsurface.Load}))

	state := v.Surface().State()
	assert.Empty(t, state.Sources)
	assert.Equal(t, []string{"s1"}, state.Markers)
}

func TestTabNavigate(t *testing.T) {
	deps, _ := testDeps(t)
	m := NewManager(deps)

	tab, err := m.Open("#map/60/11/7")
	require.NoError(t, err)
	first := tab.Current()
	require.IsType(t, &MapView{}, first)

	v, err := tab.Navigate("#carbon-sink/s1")
	require.NoError(t, err)
	assert.IsType(t, &SinkDetailView{}, v)
	assert.True(t, first.Surface().Removed(), "old surface is removed before the new one exists")
	assert.Equal(t, tab.ID(), v.Surface().View())

	_, err = tab.Navigate("#carbon-sink/nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Same(t, v, tab.Current(), "failed navigation keeps the page")

	ov, err := tab.Navigate("#owner/o1")
	require.NoError(t, err)
	owner, sinks := ov.(*OwnerView).Owner()
	assert.Equal(t, "Sophia", owner.Name)
	assert.Len(t, sinks, 2)
	assert.Nil(t, ov.Surface())
	assert.ErrorIs(t, ov.HandleEvent(mapsurface.Event{Type: mapsurface.Load}), ErrNoMap)
}

func TestManagerCloseAndSweep(t *testing.T) {
	deps, _ := testDeps(t)
	m := NewManager(deps)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	a, err := m.Open("")
	require.NoError(t, err)
	b, err := m.Open("")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, m.Len())

	_, err = m.Open("#owner/nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 2, m.Len())

	now = now.Add(time.Hour)
	_, ok := m.Get(b.ID())
	require.True(t, ok)

	assert.Equal(t, 1, m.Sweep(30*time.Minute))
	_, ok = m.Get(a.ID())
	assert.False(t, ok)
	assert.True(t, a.Current() == nil)

	assert.True(t, m.Close(b.ID()))
	assert.False(t, m.Close(b.ID()))
	_, err = b.Navigate("")
	assert.ErrorIs(t, err, ErrNotFound)

	c, err := m.Open("#map/1/2/3")
	require.NoError(t, err)
	surface := c.Current().Surface()
	m.CloseAll()
	assert.Equal(t, 0, m.Len())
	assert.True(t, surface.Removed())
}

func TestMapViewPublishesDrawingState(t *testing.T) {
	deps, _ := testDeps(t)
	v := NewMapView("t1", ParseRoute(""), deps)
	defer v.Unmount()

	ops := deps.Bus.Subscribe()
	defer deps.Bus.Unsubscribe(ops)

	v.Command(drawing.Enable)
	op := <-ops
	assert.Equal(t, OpDrawing, op.Kind)
	assert.Equal(t, DrawingState{Mode: "drawing", Points: 0}, op.Payload)

	v.Command(drawing.Enable)
	select {
	case op := <-ops:
		t.Fatalf("unchanged session published %v", op)
	default:
	}
}

func TestNavigatePublishesPage(t *testing.T) {
	deps, _ := testDeps(t)
	ops := deps.Bus.Subscribe()
	defer deps.Bus.Unsubscribe(ops)

	m := NewManager(deps)
	tab, err := m.Open("#owner/o1")
	require.NoError(t, err)

	op := <-ops
	assert.Equal(t, OpPage, op.Kind)
	assert.Equal(t, tab.ID(), op.View)
	assert.Zero(t, op.Seq)
	assert.Equal(t, Route{Kind: KindOwner, ID: "o1", Fragment: "owner/o1"}, op.Payload)

	m.Refresh(context.Background())
	op = <-ops
	assert.Equal(t, OpPage, op.Kind)
}
