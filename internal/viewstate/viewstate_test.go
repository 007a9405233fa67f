package viewstate

import (
	"math/rand/v2"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	got := Encode(CameraState{Lat: 59.91750699564229, Lng: 10.740165846009115, Zoom: 8})
	assert.Equal(t, "map/59.917507/10.740166/8", got)

	got = Encode(CameraState{Lat: -33.5, Lng: 151.25, Zoom: 12.375})
	assert.Equal(t, "map/-33.500000/151.250000/12.375", got)
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 1000; i++ {
		c := CameraState{
			Lat:  -90 + r.Float64()*180,
			Lng:  -180 + r.Float64()*360,
			Zoom: r.Float64() * 22,
		}
		got, ok := Decode(Encode(c))
		require.True(t, ok)
		assert.InDelta(t, c.Lat, got.Lat, 1e-6)
		assert.InDelta(t, c.Lng, got.Lng, 1e-6)
		assert.Equal(t, c.Zoom, got.Zoom)
	}
}

func TestDecodePerFieldDefaults(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		want     CameraState
	}{
		{"full", "#map/60.1/11.2/9", CameraState{Lat: 60.1, Lng: 11.2, Zoom: 9}},
		{"without hash", "map/60.1/11.2/9", CameraState{Lat: 60.1, Lng: 11.2, Zoom: 9}},
		{"bad lat", "#map/abc/11.2/9", CameraState{Lat: Default.Lat, Lng: 11.2, Zoom: 9}},
		{"bad lng", "#map/60.1/x/9", CameraState{Lat: 60.1, Lng: Default.Lng, Zoom: 9}},
		{"bad zoom", "#map/60.1/11.2/far", CameraState{Lat: 60.1, Lng: 11.2, Zoom: Default.Zoom}},
		{"missing zoom", "#map/60.1/11.2", CameraState{Lat: 60.1, Lng: 11.2, Zoom: Default.Zoom}},
		{"only prefix", "#map", Default},
		{"infinite", "#map/Inf/11.2/9", CameraState{Lat: Default.Lat, Lng: 11.2, Zoom: 9}},
		{"out of range lat", "#map/95/11.2/9", CameraState{Lat: Default.Lat, Lng: 11.2, Zoom: 9}},
		{"nested in path", "#app/map/1/2/3", CameraState{Lat: 1, Lng: 2, Zoom: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode(tt.fragment)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeWithoutMapSegment(t *testing.T) {
	for _, fragment := range []string{"", "#", "#carbon-sink/abc", "mapping/1/2/3"} {
		got, ok := Decode(fragment)
		assert.False(t, ok, fragment)
		assert.Equal(t, Default, got, fragment)
	}
}

func TestDecodeStrictReportsMalformed(t *testing.T) {
	_, ok, err := DecodeStrict("#map/abc/11.2")
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrMalformedViewState)
	assert.Contains(t, err.Error(), "lat")
	assert.Contains(t, err.Error(), "zoom")

	_, _, err = DecodeStrict("#map/1/2/3")
	assert.NoError(t, err)
}

func TestURLFragment(t *testing.T) {
	u, err := url.Parse("https://forestsync.example/app/?lang=en#map/60/11/7")
	require.NoError(t, err)

	got, ok := FromURL(u)
	require.True(t, ok)
	assert.Equal(t, CameraState{Lat: 60, Lng: 11, Zoom: 7}, got)

	next := WithCamera(u, CameraState{Lat: 1.5, Lng: 2.5, Zoom: 3})
	assert.Equal(t, "https://forestsync.example/app/?lang=en#map/1.500000/2.500000/3", next.String())
	assert.Equal(t, "map/60/11/7", u.Fragment, "original URL is not modified")

	_, ok = FromURL(nil)
	assert.False(t, ok)
}
