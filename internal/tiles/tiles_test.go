package tiles

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/forest-sync/internal/geometry"
	"github.com/joeblew999/forest-sync/internal/logging"
	"github.com/joeblew999/forest-sync/internal/service"
)

type registry []service.CarbonSink

func (r registry) List() []service.CarbonSink { return r }

var sinks = registry{
	{ID: "s1", Name: "Wood", OwnerID: "o1", SizeHa: 123,
		Geolocation: geometry.GeoPoint{Lat: 59.9, Lng: 10.7},
		Polygon: geometry.Polygon{
			{Lat: 59.9, Lng: 10.7},
			{Lat: 59.91, Lng: 10.7},
			{Lat: 59.91, Lng: 10.72},
			{Lat: 59.9, Lng: 10.72},
		}},
	{ID: "s2", Name: "Point", OwnerID: "o1", Geolocation: geometry.GeoPoint{Lat: 57, Lng: -2}},
}

func TestTileContainsSink(t *testing.T) {
	tiler := New(sinks, logging.Discard())
	tile := maptile.At(orb.Point{10.71, 59.905}, 12)

	data, err := tiler.Tile(tile)
	require.NoError(t, err)
	require.NotNil(t, data)

	layers, err := mvt.UnmarshalGzipped(data)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, Layer, layers[0].Name)
	require.Len(t, layers[0].Features, 1)
	assert.Equal(t, "s1", layers[0].Features[0].Properties["id"])
	assert.IsType(t, orb.Polygon{}, layers[0].Features[0].Geometry)
}

func TestTileInsidePolygon(t *testing.T) {
	// At zoom 20 a tile in the middle of the parcel has no vertex in it.
	tile := maptile.At(orb.Point{10.71, 59.905}, 20)
	data, err := New(sinks, nil).Tile(tile)
	require.NoError(t, err)
	assert.NotNil(t, data)
}

func TestTilePointSink(t *testing.T) {
	tile := maptile.At(orb.Point{-2, 57}, 8)
	data, err := New(sinks, nil).Tile(tile)
	require.NoError(t, err)

	layers, err := mvt.UnmarshalGzipped(data)
	require.NoError(t, err)
	require.Len(t, layers[0].Features, 1)
	assert.Equal(t, "s2", layers[0].Features[0].Properties["id"])
}

func TestEmptyTile(t *testing.T) {
	data, err := New(sinks, nil).Tile(maptile.At(orb.Point{150, -30}, 10))
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestParseTile(t *testing.T) {
	tile, err := ParseTile("3", "4", "5.mvt")
	require.NoError(t, err)
	assert.Equal(t, maptile.New(4, 5, 3), tile)

	for _, tt := range [][3]string{
		{"x", "0", "0"},
		{"21", "0", "0"},
		{"2", "4", "0"},
		{"2", "0", "4.pbf"},
		{"2", "-1", "0"},
	} {
		_, err := ParseTile(tt[0], tt[1], tt[2])
		assert.ErrorIs(t, err, ErrBadTile, "%v", tt)
	}
}

func TestHandler(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /tiles/{z}/{x}/{y}", New(sinks, logging.Discard()).Handler())

	tile := maptile.At(orb.Point{10.71, 59.905}, 12)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/12/"+itoa(tile.X)+"/"+itoa(tile.Y)+".mvt", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/1/1/1.mvt", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiles/1/9/0.mvt", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func itoa(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
