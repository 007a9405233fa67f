package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/forest-sync/internal/config"
	"github.com/joeblew999/forest-sync/internal/logging"
)

const index = `[
  {"sheetId": 0, "title": "carbon sink", "link": "./carbon-sink.json"},
  {"sheetId": 1, "title": "landowner", "link": "./landowner.json"}
]`

const sinks = `[{"id": "s1", "name": "Aberdeen 6 wood", "owner": "Sophia Mitchell", "ownerID": "o1",
  "country": "UK", "sizeHa": 2.7, "plantedDate": 43840, "CO2storedTons": 108,
  "geolocation": [57.1, -2.1]}]`

const owners = `[{"id": "o1", "name": "Sophia Mitchell", "country": "UK"}]`

func feed(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	serve := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/{$}", serve(index))
	mux.HandleFunc("/carbon-sink.json", serve(sinks))
	mux.HandleFunc("/landowner.json", serve(owners))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, indexURL string) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		DataDir: filepath.Join(dir, "data"),
		Server:  config.ServerConfig{Port: 8086},
		Feed:    config.FeedConfig{IndexURL: indexURL, Timeout: 5 * time.Second},
		Map: config.MapConfig{
			MapTilerKey: "key",
			StyleURL:    "https://example.com/style.json?key={key}",
			BaseURL:     "/",
			Lat:         59.9,
			Lng:         10.7,
			Zoom:        8,
			DetailZoom:  10,
		},
		DB: config.DBConfig{Path: filepath.Join(dir, "catalog.duckdb")},
	}
}

func TestServerRefreshesIntoRegistryAndCatalog(t *testing.T) {
	srv, err := New(testConfig(t, feed(t).URL+"/"), logging.Discard())
	require.NoError(t, err)
	defer srv.Close()

	require.NoError(t, srv.refresher.Refresh(context.Background()))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sinks/s1", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Aberdeen 6 wood")

	res, err := srv.catalog.Query(context.Background(), "SELECT count(*) AS n FROM carbon_sinks", 10)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 1, res.Rows[0]["n"])
}

func TestServerRefreshRedrawsOpenTabs(t *testing.T) {
	srv, err := New(testConfig(t, feed(t).URL+"/"), logging.Discard())
	require.NoError(t, err)
	defer srv.Close()

	tab, err := srv.manager.Open("#owner/o1")
	assert.Error(t, err, "owner unknown before the first refresh")
	assert.Nil(t, tab)

	tab, err = srv.manager.Open("")
	require.NoError(t, err)
	require.NoError(t, srv.refresher.Refresh(context.Background()))
	_, err = tab.Navigate("#owner/o1")
	assert.NoError(t, err)
}

func TestSinkTiles(t *testing.T) {
	srv, err := New(testConfig(t, feed(t).URL+"/"), logging.Discard())
	require.NoError(t, err)
	defer srv.Close()
	require.NoError(t, srv.refresher.Refresh(context.Background()))

	// zoom 0 covers the world
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/sinks/0/0/0.mvt", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.mapbox-vector-tile", rec.Header().Get("Content-Type"))
}

func TestMapConfig(t *testing.T) {
	srv, err := New(testConfig(t, "http://127.0.0.1:1/"), logging.Discard())
	require.NoError(t, err)
	defer srv.Close()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/map/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got MapConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "https://example.com/style.json?key=key", got.StyleURL)
	assert.Equal(t, "metric", got.Scale.Unit)
}

func TestStaticPageAndMetrics(t *testing.T) {
	srv, err := New(testConfig(t, "http://127.0.0.1:1/"), logging.Discard())
	require.NoError(t, err)
	defer srv.Close()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/v1/views/mount")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "forestsync_")
}

func TestOpenAPIListsViews(t *testing.T) {
	srv, err := New(testConfig(t, "http://127.0.0.1:1/"), logging.Discard())
	require.NoError(t, err)
	defer srv.Close()

	paths := srv.OpenAPI().Paths
	for _, p := range []string{"/api/v1/sinks", "/api/v1/views/{id}/events", "/api/v1/geometry/metrics", "/api/v1/query"} {
		assert.Contains(t, paths, p)
	}
}

func TestNewRejectsRelativeFeed(t *testing.T) {
	_, err := New(testConfig(t, "mvp-data/"), logging.Discard())
	assert.Error(t, err)
}
