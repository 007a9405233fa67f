package geometry

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// osloSquare is a ~1.1 km square near Oslo.
var osloSquare = Polygon{
	{Lat: 59.9, Lng: 10.7},
	{Lat: 59.91, Lng: 10.7},
	{Lat: 59.91, Lng: 10.72},
	{Lat: 59.9, Lng: 10.72},
}

// uShape is concave: its area centroid falls in the notch.
var uShape = Polygon{
	{Lat: 0, Lng: 0},
	{Lat: 0, Lng: 3},
	{Lat: 3, Lng: 3},
	{Lat: 3, Lng: 2},
	{Lat: 1, Lng: 2},
	{Lat: 1, Lng: 1},
	{Lat: 3, Lng: 1},
	{Lat: 3, Lng: 0},
}

func TestCentroidLabelPointSquare(t *testing.T) {
	got, err := CentroidLabelPoint(osloSquare)
	require.NoError(t, err)

	assert.True(t, Contains(osloSquare, got), "label point %v outside square", got)
	assert.InDelta(t, 59.905, got.Lat, 1e-4)
	assert.InDelta(t, 10.71, got.Lng, 1e-4)
}

func TestCentroidLabelPointConcave(t *testing.T) {
	got, err := CentroidLabelPoint(uShape)
	require.NoError(t, err)
	assert.True(t, Contains(uShape, got), "label point %v outside U shape", got)
}

func TestCentroidLabelPointInsideRandomPolygons(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 42))

	for i := 0; i < 200; i++ {
		poly := randomStarPolygon(r)
		got, err := CentroidLabelPoint(poly)
		require.NoError(t, err)
		assert.True(t, Contains(poly, got), "polygon %d: label point %v outside %v", i, got, poly)
	}
}

func TestCentroidLabelPointDegenerate(t *testing.T) {
	tests := []struct {
		name string
		poly Polygon
	}{
		{"empty", nil},
		{"one point", Polygon{{Lat: 1, Lng: 1}}},
		{"two points", Polygon{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}}},
		{"horizontal line", Polygon{{Lat: 1, Lng: 1}, {Lat: 1, Lng: 2}, {Lat: 1, Lng: 3}}},
		{"diagonal line", Polygon{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}, {Lat: 3, Lng: 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CentroidLabelPoint(tt.poly)
			assert.ErrorIs(t, err, ErrDegenerateGeometry)
		})
	}
}

func TestCentroidLabelPointSelfIntersectingTerminates(t *testing.T) {
	bowtie := Polygon{
		{Lat: 0, Lng: 0},
		{Lat: 1, Lng: 1},
		{Lat: 0, Lng: 1},
		{Lat: 1, Lng: 0},
	}
	_, _ = CentroidLabelPoint(bowtie)
}

func TestCentroidLabelPointSliver(t *testing.T) {
	sliver := Polygon{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 10},
		{Lat: 1e-7, Lng: 10},
		{Lat: 1e-7, Lng: 0},
	}

	start := time.Now()
	got, err := CentroidLabelPoint(sliver)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, Contains(sliver, got), "label point %v outside sliver", got)
}

func TestAreaHectaresOsloSquare(t *testing.T) {
	got, err := AreaHectares(osloSquare)
	require.NoError(t, err)
	assert.InEpsilon(t, 123.4, got, 0.01)
}

func TestAreaHectaresWindingAndRotation(t *testing.T) {
	want, err := AreaHectares(osloSquare)
	require.NoError(t, err)

	reversed := slices.Clone(osloSquare)
	slices.Reverse(reversed)
	got, err := AreaHectares(reversed)
	require.NoError(t, err)
	assert.InEpsilon(t, want, got, 1e-9)

	for shift := 1; shift < len(osloSquare); shift++ {
		rotated := append(slices.Clone(osloSquare[shift:]), osloSquare[:shift]...)
		got, err := AreaHectares(rotated)
		require.NoError(t, err)
		assert.InEpsilon(t, want, got, 1e-9, "rotation by %d", shift)
	}
}

func TestAreaHectaresAlreadyClosedRing(t *testing.T) {
	closed := append(slices.Clone(osloSquare), osloSquare[0])
	want, _ := AreaHectares(osloSquare)
	got, err := AreaHectares(closed)
	require.NoError(t, err)
	assert.InEpsilon(t, want, got, 1e-9)
}

func TestAreaHectaresDegenerate(t *testing.T) {
	_, err := AreaHectares(Polygon{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}})
	assert.ErrorIs(t, err, ErrDegenerateGeometry)

	got, err := AreaHectares(Polygon{{Lat: 1, Lng: 1}, {Lat: 1, Lng: 2}, {Lat: 1, Lng: 3}})
	require.NoError(t, err)
	assert.InDelta(t, 0, got, 1e-6)
}

func TestMetrics(t *testing.T) {
	m, err := Metrics(osloSquare)
	require.NoError(t, err)
	assert.True(t, Contains(osloSquare, m.CentroidLabelPoint))
	assert.Greater(t, m.AreaHectares, 100.0)

	_, err = Metrics(osloSquare[:2])
	assert.ErrorIs(t, err, ErrDegenerateGeometry)
}

func TestSerialDayToDate(t *testing.T) {
	got := SerialDayToDateIn(0, time.UTC)
	assert.Equal(t, time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC), got)

	got = SerialDayToDateIn(43840, time.UTC)
	assert.Equal(t, "2020-01-10", got.Format(time.DateOnly))

	// Past the range of a nanosecond Duration.
	assert.Equal(t, "2192-04-08", SerialDayToDateIn(106751, time.UTC).Format(time.DateOnly))
	assert.Equal(t, "2192-04-09", SerialDayToDateIn(106752, time.UTC).Format(time.DateOnly))
	far := SerialDayToDateIn(200000, time.UTC)
	assert.Equal(t, "2447-07-30", far.Format(time.DateOnly))
	assert.Zero(t, CarbonStorageEstimate(1, far, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	local := SerialDayToDate(0)
	assert.Equal(t, 1899, local.Year())
	assert.Equal(t, time.December, local.Month())
	assert.Equal(t, 30, local.Day())
}

func TestCarbonStorageEstimate(t *testing.T) {
	date := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		name    string
		area    float64
		planted time.Time
		now     time.Time
		want    float64
	}{
		{"four calendar years", 10, date(2020, 1, 1), date(2024, 6, 1), 400},
		{"planted this year", 10, date(2024, 3, 1), date(2024, 11, 30), 0},
		{"one year boundary", 10, date(2023, 12, 31), date(2024, 1, 1), 100},
		{"planted in the future", 10, date(2026, 1, 1), date(2024, 1, 1), 0},
		{"fractional area", 2.7, date(2020, 1, 10), date(2024, 1, 1), 108},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CarbonStorageEstimate(tt.area, tt.planted, tt.now), 1e-9)
		})
	}
}

func TestStoredOrEstimated(t *testing.T) {
	planted := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

	stored := 5.0
	assert.Equal(t, 5.0, StoredOrEstimated(&stored, 10, planted, now))
	assert.Equal(t, 200.0, StoredOrEstimated(nil, 10, planted, now))
}

func TestGeoPointUnmarshal(t *testing.T) {
	var tuple GeoPoint
	require.NoError(t, json.Unmarshal([]byte(`[59.9, 10.7]`), &tuple))
	assert.Equal(t, GeoPoint{Lat: 59.9, Lng: 10.7}, tuple)

	var obj GeoPoint
	require.NoError(t, json.Unmarshal([]byte(`{"lat": 59.9, "lng": 10.7}`), &obj))
	assert.Equal(t, tuple, obj)

	var bad GeoPoint
	assert.Error(t, json.Unmarshal([]byte(`[1, 2, 3]`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`{"lat": 1}`), &bad))
}

func TestGeoPointValid(t *testing.T) {
	assert.True(t, GeoPoint{Lat: 59.9, Lng: 10.7}.Valid())
	assert.False(t, GeoPoint{Lat: 91, Lng: 0}.Valid())
	assert.False(t, GeoPoint{Lat: 0, Lng: 181}.Valid())
}

func TestPolygonRingIsClosed(t *testing.T) {
	ring := osloSquare.Ring()
	require.Len(t, ring, len(osloSquare)+1)
	assert.Equal(t, ring[0], ring[len(ring)-1])
	assert.Equal(t, 10.7, ring[0][0], "ring is in lng, lat order")
}

// randomStarPolygon builds a simple polygon by walking around a center at
// increasing angles with random radii.
func randomStarPolygon(r *rand.Rand) Polygon {
	n := 3 + r.IntN(12)
	angles := make([]float64, n)
	for i := range angles {
		angles[i] = r.Float64() * 2 * math.Pi
	}
	slices.Sort(angles)

	center := GeoPoint{Lat: -60 + r.Float64()*120, Lng: -170 + r.Float64()*340}
	poly := make(Polygon, 0, n)
	for _, a := range angles {
		radius := 0.001 + r.Float64()*0.01
		poly = append(poly, GeoPoint{
			Lat: center.Lat + radius*math.Sin(a),
			Lng: center.Lng + radius*math.Cos(a),
		})
	}
	return poly
}
