package brush

import (
	"fmt"

	"fogmask/maskop"
)

// Dab is the brush tool's operation at x,y: a circle of radius size.
func Dab(x, y, size int, fill maskop.Fill) maskop.Operation {
	return maskop.NewEllipse(x, y, size, size, fill)
}

// DragBounds returns the signed width and height between the drag start and
// the current point. With square set the shorter side takes the length of the
// longer one, keeping its sign.
func DragBounds(startX, startY, x, y int, square bool) (w, h int) {
	w, h = x-startX, y-startY
	if !square {
		return w, h
	}
	if abs(h) > abs(w) {
		w = abs(h) * sign(w)
	} else {
		h = abs(w) * sign(h)
	}
	return w, h
}

// BoxFromDrag builds the Box painted by a box drag. Negative drags are folded
// so the operation always has a positive size.
func BoxFromDrag(startX, startY, x, y int, square bool, fill maskop.Fill) maskop.Operation {
	w, h := DragBounds(startX, startY, x, y, square)
	bx, by := startX, startY
	if w < 0 {
		bx, w = bx+w, -w
	}
	if h < 0 {
		by, h = by+h, -h
	}
	return maskop.NewBox(bx, by, w, h, fill)
}

// EllipseFromDrag builds the Ellipse painted by an ellipse drag. The ellipse
// is centred on the drag start and the drag distance is its radius.
func EllipseFromDrag(startX, startY, x, y int, square bool, fill maskop.Fill) maskop.Operation {
	w, h := DragBounds(startX, startY, x, y, square)
	return maskop.NewEllipse(startX, startY, abs(w), abs(h), fill)
}

// GridLayout maps a scene point to the grid cell under it.
type GridLayout interface {
	Cell(x, y int, fill maskop.Fill) (key string, op maskop.Operation)
}

// SquareGrid is a square grid with cells of Size pixels.
type SquareGrid struct {
	Size int
}

// Cell returns the Box covering the cell that contains x,y.
func (g SquareGrid) Cell(x, y int, fill maskop.Fill) (string, maskop.Operation) {
	cx := floorDiv(x, g.Size) * g.Size
	cy := floorDiv(y, g.Size) * g.Size
	return fmt.Sprintf("%d,%d", cx, cy), maskop.NewBox(cx, cy, g.Size, g.Size, fill)
}

// GridPainter paints each cell at most once per gesture.
type GridPainter struct {
	layout GridLayout
	seen   map[string]struct{}
}

// NewGridPainter creates a painter over the given layout.
func NewGridPainter(layout GridLayout) *GridPainter {
	return &GridPainter{layout: layout, seen: make(map[string]struct{})}
}

// Paint returns the cell operation for x,y unless the cell was already
// painted since the last Reset.
func (g *GridPainter) Paint(x, y int, fill maskop.Fill) (maskop.Operation, bool) {
	key, op := g.layout.Cell(x, y, fill)
	if _, ok := g.seen[key]; ok {
		return maskop.Operation{}, false
	}
	g.seen[key] = struct{}{}
	return op, true
}

// Reset forgets painted cells; call it when a new gesture starts.
func (g *GridPainter) Reset() {
	g.seen = make(map[string]struct{})
}

// Point is a polygon vertex in scene coordinates.
type Point struct {
	X, Y int
}

// PolygonBuilder collects polygon tool clicks. A click within handleSize of
// the first vertex closes the shape.
type PolygonBuilder struct {
	handleSize int
	points     []Point
}

// NewPolygonBuilder creates a builder with the given closing handle size.
func NewPolygonBuilder(handleSize int) *PolygonBuilder {
	return &PolygonBuilder{handleSize: handleSize}
}

// Click adds a vertex or closes the polygon. When closed is true op is the
// finished Polygon and the builder is reset.
func (b *PolygonBuilder) Click(x, y int, fill maskop.Fill) (op maskop.Operation, closed bool) {
	if len(b.points) > 0 {
		first := b.points[0]
		if abs(first.X-x) < b.handleSize && abs(first.Y-y) < b.handleSize {
			op = maskop.NewPolygon(0, 0, Vertices(b.points), fill)
			b.Reset()
			return op, true
		}
	}
	b.points = append(b.points, Point{X: x, Y: y})
	return maskop.Operation{}, false
}

// Points returns the vertices collected so far.
func (b *PolygonBuilder) Points() []Point {
	return append([]Point(nil), b.points...)
}

// Reset drops any collected vertices.
func (b *PolygonBuilder) Reset() {
	b.points = nil
}

// Vertices flattens points into x0,y0,x1,y1,... and repeats the first point
// at the end to close the shape.
func Vertices(points []Point) []float64 {
	if len(points) == 0 {
		return nil
	}
	out := make([]float64, 0, 2*len(points)+2)
	for _, p := range points {
		out = append(out, float64(p.X), float64(p.Y))
	}
	return append(out, float64(points[0].X), float64(points[0].Y))
}

func floorDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
