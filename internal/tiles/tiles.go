// Package tiles cuts Mapbox vector tiles of the carbon sink registry on
// demand, for GIS clients that want the boundaries as a tiled layer.
//
// Sinks with a boundary become polygons; the others become points.
package tiles

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/forest-sync/internal/geometry"
	"github.com/joeblew999/forest-sync/internal/service"
)

const (
	// Layer is the name of the single layer in each tile.
	Layer = "carbon_sinks"
	// MaxZoom is the deepest zoom tiles are cut for.
	MaxZoom = 20
)

var ErrBadTile = errors.New("bad tile address")

// Registry lists the sinks to tile.
type Registry interface {
	List() []service.CarbonSink
}

// Tiler cuts tiles from the current registry snapshot.
type Tiler struct {
	registry Registry
	log      *slog.Logger
}

func New(registry Registry, log *slog.Logger) *Tiler {
	if log == nil {
		log = slog.Default()
	}
	return &Tiler{registry: registry, log: log}
}

// Tile returns the gzipped MVT for t, or nil when no sink touches it.
func (t *Tiler) Tile(tile maptile.Tile) ([]byte, error) {
	bound := tile.Bound()
	fc := geojson.NewFeatureCollection()
	for _, s := range t.registry.List() {
		g := shape(s)
		if !intersects(g, bound) {
			continue
		}
		f := geojson.NewFeature(g)
		f.Properties["id"] = s.ID
		f.Properties["name"] = s.Name
		f.Properties["owner_id"] = s.OwnerID
		f.Properties["size_ha"] = s.SizeHa
		if s.CO2StoredTons != nil {
			f.Properties["co2_stored_tons"] = *s.CO2StoredTons
		}
		fc.Append(f)
	}
	if len(fc.Features) == 0 {
		return nil, nil
	}

	layer := mvt.NewLayer(Layer, fc)
	if eps := simplifyEpsilon(tile.Z); eps > 0 {
		layer.Simplify(simplify.DouglasPeucker(eps))
	}
	layer.Clip(bound)
	layer.ProjectToTile(tile)
	layer.RemoveEmpty(0.5, 0.5)
	if len(layer.Features) == 0 {
		return nil, nil
	}
	return mvt.MarshalGzipped(mvt.Layers{layer})
}

// shape returns a fresh geometry for s. mvt clips and projects in place, so
// each tile needs its own copy.
func shape(s service.CarbonSink) orb.Geometry {
	if len(s.Polygon) >= geometry.MinVertices {
		return orb.Polygon{s.Polygon.Ring()}
	}
	return s.Geolocation.Orb()
}

func intersects(g orb.Geometry, bound orb.Bound) bool {
	if !g.Bound().Intersects(bound) {
		return false
	}
	switch g := g.(type) {
	case orb.Point:
		return bound.Contains(g)
	case orb.Polygon:
		for _, p := range g[0] {
			if bound.Contains(p) {
				return true
			}
		}
		// The polygon may cover the whole tile.
		tile := bound.ToPolygon()
		for _, p := range tile[0] {
			if planar.PolygonContains(g, p) {
				return true
			}
		}
		return planar.PolygonContains(g, bound.Center())
	default:
		return true
	}
}

// simplifyEpsilon returns the simplification tolerance in degrees for a zoom
// level. Parcels are a few hectares, so it stays well below their extent.
func simplifyEpsilon(zoom maptile.Zoom) float64 {
	switch {
	case zoom >= 14:
		return 0
	case zoom >= 10:
		return 0.00001
	case zoom >= 6:
		return 0.0001
	default:
		return 0.0005
	}
}

// ParseTile reads z, x and y path values. y may carry a ".mvt" or ".pbf"
// suffix.
func ParseTile(z, x, y string) (maptile.Tile, error) {
	y = strings.TrimSuffix(strings.TrimSuffix(y, ".mvt"), ".pbf")
	zoom, err := strconv.ParseUint(z, 10, 32)
	if err != nil || zoom > MaxZoom {
		return maptile.Tile{}, fmt.Errorf("%w: zoom %q", ErrBadTile, z)
	}
	n := uint64(1) << zoom
	col, err := strconv.ParseUint(x, 10, 32)
	if err != nil || col >= n {
		return maptile.Tile{}, fmt.Errorf("%w: x %q at zoom %d", ErrBadTile, x, zoom)
	}
	row, err := strconv.ParseUint(y, 10, 32)
	if err != nil || row >= n {
		return maptile.Tile{}, fmt.Errorf("%w: y %q at zoom %d", ErrBadTile, y, zoom)
	}
	return maptile.New(uint32(col), uint32(row), maptile.Zoom(zoom)), nil
}

// Handler serves tiles at {z}/{x}/{y}.mvt. Empty tiles are 204.
func (t *Tiler) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")

		tile, err := ParseTile(r.PathValue("z"), r.PathValue("x"), r.PathValue("y"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := t.Tile(tile)
		if err != nil {
			t.log.Error("tile failed", "tile", tile, "error", err)
			http.Error(w, "tile failed", http.StatusInternalServerError)
			return
		}
		if data == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Cache-Control", "public, max-age=60")
		_, _ = w.Write(data)
	})
}
