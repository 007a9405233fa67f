package geometry

import (
	"container/heap"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// DefaultPrecision is the label search precision in coordinate units (degrees).
const DefaultPrecision = 1e-6

// MaxCells bounds the number of cells the label search will evaluate, so a
// pathological polygon cannot keep the refinement running forever.
const MaxCells = 100_000

// CentroidLabelPoint returns the pole of inaccessibility of the polygon with
// DefaultPrecision.
func CentroidLabelPoint(p Polygon) (GeoPoint, error) {
	return LabelPoint(p, DefaultPrecision)
}

// LabelPoint finds the point inside p that is farthest from every boundary
// edge. The search subdivides the bounding box into square cells, keeps the
// cells whose upper bound could still beat the best candidate and stops when
// no cell can improve on it by more than precision.
//
// For simple polygons the result lies inside the polygon. Self-intersecting
// input terminates but the returned point is not meaningful.
func LabelPoint(p Polygon, precision float64) (GeoPoint, error) {
	if len(p) < MinVertices {
		return GeoPoint{}, degenerate("label point needs %d points, got %d", MinVertices, len(p))
	}
	if precision <= 0 {
		precision = DefaultPrecision
	}

	poly := orb.Polygon{p.Ring()}
	bound := poly.Bound()
	width := bound.Right() - bound.Left()
	height := bound.Top() - bound.Bottom()
	cellSize := math.Min(width, height)
	if cellSize == 0 || math.IsNaN(cellSize) {
		return GeoPoint{}, degenerate("bounding box has no extent")
	}

	centroid, area := planar.CentroidArea(poly)
	if area == 0 {
		return GeoPoint{}, degenerate("polygon has no area")
	}

	// The starting grid counts against MaxCells too; a sliver polygon would
	// otherwise seed width/height cells before the loop could stop it.
	if cols, rows := math.Ceil(width/cellSize), math.Ceil(height/cellSize); cols*rows > MaxCells/4 {
		cellSize = math.Max(width, height) / math.Floor(math.Sqrt(MaxCells/4))
	}

	queue := &cellQueue{}
	half := cellSize / 2
	for x := bound.Left(); x < bound.Right(); x += cellSize {
		for y := bound.Bottom(); y < bound.Top(); y += cellSize {
			heap.Push(queue, newCell(orb.Point{x + half, y + half}, half, poly))
		}
	}

	best := newCell(centroid, 0, poly)
	if bboxCell := newCell(bound.Center(), 0, poly); bboxCell.d > best.d {
		best = bboxCell
	}

	evaluated := queue.Len()
	for queue.Len() > 0 && evaluated < MaxCells {
		c := heap.Pop(queue).(*cell)

		if c.d > best.d {
			best = c
		}
		if c.max-best.d <= precision {
			continue
		}

		h := c.h / 2
		for _, off := range [4][2]float64{{-h, -h}, {h, -h}, {-h, h}, {h, h}} {
			heap.Push(queue, newCell(orb.Point{c.center[0] + off[0], c.center[1] + off[1]}, h, poly))
			evaluated++
		}
	}

	return FromOrb(best.center), nil
}

// Contains reports whether pt lies inside the closed polygon.
func Contains(p Polygon, pt GeoPoint) bool {
	if len(p) < MinVertices {
		return false
	}
	return planar.RingContains(p.Ring(), pt.Orb())
}

type cell struct {
	center orb.Point
	h      float64 // half the cell size
	d      float64 // signed distance from center to the boundary, positive inside
	max    float64 // upper bound of d for any point in the cell
}

func newCell(center orb.Point, h float64, poly orb.Polygon) *cell {
	d := pointToPolygonDistance(center, poly)
	return &cell{
		center: center,
		h:      h,
		d:      d,
		max:    d + h*math.Sqrt2,
	}
}

func pointToPolygonDistance(pt orb.Point, poly orb.Polygon) float64 {
	minDist := math.Inf(1)
	for _, ring := range poly {
		for i := 0; i+1 < len(ring); i++ {
			if d := planar.DistanceFromSegment(ring[i], ring[i+1], pt); d < minDist {
				minDist = d
			}
		}
	}
	if planar.PolygonContains(poly, pt) {
		return minDist
	}
	return -minDist
}

// cellQueue is a max-heap on the cell upper bound.
type cellQueue []*cell

func (q cellQueue) Len() int           { return len(q) }
func (q cellQueue) Less(i, j int) bool { return q[i].max > q[j].max }
func (q cellQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *cellQueue) Push(x any) { *q = append(*q, x.(*cell)) }

func (q *cellQueue) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return c
}
