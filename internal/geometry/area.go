package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// SquareMetersPerHectare converts m² to ha.
const SquareMetersPerHectare = 10_000

// AreaHectares returns the area enclosed by the polygon on the earth's
// surface. The ring is closed explicitly and the spherical ring-area formula
// is used, which is accurate for parcels well below 100 ha. Winding order
// does not matter.
func AreaHectares(p Polygon) (float64, error) {
	if len(p) < MinVertices {
		return 0, degenerate("area needs %d points, got %d", MinVertices, len(p))
	}
	sqm := math.Abs(geo.Area(orb.Polygon{p.Ring()}))
	return sqm / SquareMetersPerHectare, nil
}
