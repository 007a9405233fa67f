package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/forest-sync/internal/geometry"
	"github.com/joeblew999/forest-sync/internal/logging"
	"github.com/joeblew999/forest-sync/internal/service"
)

const indexJSON = `[
	{"sheetId": 0, "title": "carbon sink", "link": "./carbon-sink.json"},
	{"sheetId": 1, "title": "landowner", "link": "./landowner.json"},
	{"sheetId": 2, "title": "polluter", "link": "./polluter.json"}
]`

const sinksJSON = `[
	{
		"id": "c5e6bc75-aa93-41e3-9899-f1de5222e564",
		"name": "Aberdeen 6 wood",
		"owner": "Sophia Mitchell",
		"ownerID": "o1",
		"country": "UK",
		"sizeHa": 2.7,
		"plantedDate": 43840,
		"CO2storedTons": 108,
		"geolocation": [57.1, -2.1],
		"polygon": [[57.1, -2.1], [57.11, -2.1], [57.11, -2.08]]
	},
	{
		"id": "no-co2",
		"name": "Young wood",
		"owner": "Ola Nordmann",
		"ownerID": "o2",
		"country": "NO",
		"sizeHa": 10,
		"plantedDate": 44000,
		"geolocation": [59.9, 10.7]
	},
	{
		"id": "bad",
		"name": "Off the map",
		"owner": "Nobody",
		"ownerID": "o3",
		"country": "XX",
		"sizeHa": 1,
		"plantedDate": 1,
		"geolocation": [120, 10]
	},
	{
		"id": "",
		"name": "No id",
		"owner": "Nobody",
		"ownerID": "o3",
		"country": "XX",
		"geolocation": [1, 1]
	}
]`

const ownersJSON = `[
	{"id": "o1", "name": "Sophia Mitchell", "country": "UK"},
	{"id": "o2", "name": "Ola Nordmann", "country": "NO"}
]`

func feedServer(t *testing.T, docs map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, body := range docs {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newFetcher(t *testing.T, srv *httptest.Server) *Fetcher {
	t.Helper()
	f, err := NewFetcher(srv.URL+"/mvp-data/", srv.Client(), logging.Discard())
	require.NoError(t, err)
	return f
}

func TestFetch(t *testing.T) {
	srv := feedServer(t, map[string]string{
		"/mvp-data/{$}":               indexJSON,
		"/mvp-data/carbon-sink.json": sinksJSON,
		"/mvp-data/landowner.json":   ownersJSON,
	})

	snap, err := newFetcher(t, srv).Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.CarbonSinks, 2, "invalid records are dropped")
	first := snap.CarbonSinks[0]
	assert.Equal(t, "Aberdeen 6 wood", first.Name)
	assert.Equal(t, geometry.GeoPoint{Lat: 57.1, Lng: -2.1}, first.Geolocation)
	assert.Len(t, first.Polygon, 3)
	require.NotNil(t, first.CO2StoredTons)
	assert.Equal(t, 108.0, *first.CO2StoredTons)
	assert.Nil(t, snap.CarbonSinks[1].CO2StoredTons)

	assert.Len(t, snap.Owners, 2)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestFetchMissingSheet(t *testing.T) {
	srv := feedServer(t, map[string]string{
		"/mvp-data/{$}":               `[{"sheetId": 0, "title": "carbon sink", "link": "./carbon-sink.json"}]`,
		"/mvp-data/carbon-sink.json": sinksJSON,
	})

	snap, err := newFetcher(t, srv).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.CarbonSinks, 2)
	assert.NotNil(t, snap.Owners)
	assert.Empty(t, snap.Owners)
}

func TestFetchFailures(t *testing.T) {
	tests := []struct {
		name string
		docs map[string]string
	}{
		{"index missing", map[string]string{}},
		{"index empty", map[string]string{"/mvp-data/{$}": `[]`}},
		{"index not json", map[string]string{"/mvp-data/{$}": `<html>`}},
		{"sheet 404", map[string]string{"/mvp-data/{$}": indexJSON, "/mvp-data/landowner.json": ownersJSON}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := feedServer(t, tt.docs)
			_, err := newFetcher(t, srv).Fetch(context.Background())
			assert.ErrorIs(t, err, ErrDataUnavailable)
		})
	}
}

func TestNewFetcherRejectsRelativeURL(t *testing.T) {
	_, err := NewFetcher("mvp-data/", nil, nil)
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	index := []IndexEntry{{Title: "carbon sink", Link: "a"}, {Title: "landowner", Link: "b"}}
	e, ok := Lookup(index, "landowner")
	require.True(t, ok)
	assert.Equal(t, "b", e.Link)
	_, ok = Lookup(index, "polluter")
	assert.False(t, ok)
}

type stubSource struct {
	snap  service.Snapshot
	err   error
	calls atomic.Int32
}

func (s *stubSource) Fetch(context.Context) (service.Snapshot, error) {
	s.calls.Add(1)
	return s.snap, s.err
}

func TestRefreshKeepsPreviousSnapshotOnError(t *testing.T) {
	store := service.NewSinkService("", nil)
	src := &stubSource{snap: service.Snapshot{CarbonSinks: []service.CarbonSink{{ID: "s1"}}}}
	r := NewRefresher(src, store, "", time.Second, logging.Discard())

	var notified int
	r.OnRefresh(func(_ context.Context, snap service.Snapshot) { notified += len(snap.CarbonSinks) })

	require.NoError(t, r.Refresh(context.Background()))
	assert.Len(t, store.List(), 1)
	assert.Equal(t, 1, notified)
	assert.Empty(t, r.Status().LastError)

	src.err = errors.New("feed down")
	assert.Error(t, r.Refresh(context.Background()))
	assert.Len(t, store.List(), 1)
	assert.Equal(t, 1, notified)
	assert.Equal(t, "feed down", r.Status().LastError)
	assert.False(t, r.Status().LastSuccess.IsZero())
}

func TestRefresherStartStop(t *testing.T) {
	store := service.NewSinkService("", nil)
	src := &stubSource{snap: service.Snapshot{CarbonSinks: []service.CarbonSink{{ID: "s1"}}}}
	r := NewRefresher(src, store, "@every 1h", time.Second, logging.Discard())

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()), "already running")
	assert.Eventually(t, func() bool { return src.calls.Load() >= 1 }, time.Second, 10*time.Millisecond)
	r.Stop()
	r.Stop()
	assert.Equal(t, "@every 1h", r.Status().Schedule)
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	r := NewRefresher(&stubSource{}, service.NewSinkService("", nil), "", 0, logging.Discard())
	assert.Error(t, r.Schedule("whenever", "sweep", func(context.Context) {}))
}
