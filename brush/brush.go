// Package brush turns mask operations into filled vector primitives.
package brush

import (
	"math"

	"fogmask/maskop"

	"github.com/gogpu/gg"
	logging "github.com/ipfs/go-log/v2"
)

var logger = logging.Logger("fogmask/brush")

// RoundedRectRadius is the corner radius used for RoundedRect operations.
const RoundedRectRadius = 10

// Primitive is a closed path in scene coordinates plus its flat fill color.
type Primitive struct {
	Shape maskop.Shape
	Path  *gg.Path
	Color gg.RGBA
}

// MakePrimitive builds the drawable for op. ok is false when there is nothing
// to draw: unknown shapes, degenerate sizes, polygons with fewer than three
// points.
func MakePrimitive(op maskop.Operation) (Primitive, bool) {
	p := gg.NewPath()

	switch op.Shape {
	case maskop.Ellipse:
		rx, ry := math.Abs(float64(op.Width)), math.Abs(float64(op.Height))
		if rx == 0 || ry == 0 {
			return Primitive{}, false
		}
		p.Ellipse(float64(op.X), float64(op.Y), rx, ry)

	case maskop.Box:
		x, y, w, h, ok := normalizeRect(op)
		if !ok {
			return Primitive{}, false
		}
		p.Rectangle(x, y, w, h)

	case maskop.RoundedRect:
		x, y, w, h, ok := normalizeRect(op)
		if !ok {
			return Primitive{}, false
		}
		p.RoundedRectangle(x, y, w, h, RoundedRectRadius)

	case maskop.Polygon:
		if !polygonPath(p, op) {
			return Primitive{}, false
		}

	default:
		logger.Debugf("skipping operation with unknown shape %s", op.Shape)
		return Primitive{}, false
	}

	return Primitive{Shape: op.Shape, Path: p, Color: Color(op.Fill)}, true
}

// Color converts a fill into an opaque gg color.
func Color(f maskop.Fill) gg.RGBA {
	r, g, b := f.RGB()
	return gg.RGBA{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255, A: 1}
}

func normalizeRect(op maskop.Operation) (x, y, w, h float64, ok bool) {
	x, y = float64(op.X), float64(op.Y)
	w, h = float64(op.Width), float64(op.Height)
	if w < 0 {
		x, w = x+w, -w
	}
	if h < 0 {
		y, h = y+h, -h
	}
	return x, y, w, h, w > 0 && h > 0
}

func polygonPath(p *gg.Path, op maskop.Operation) bool {
	n := len(op.Vertices) / 2
	if n > 1 && op.Vertices[0] == op.Vertices[2*(n-1)] && op.Vertices[1] == op.Vertices[2*(n-1)+1] {
		n--
	}
	if n < 3 {
		return false
	}

	ox, oy := float64(op.X), float64(op.Y)
	p.MoveTo(ox+op.Vertices[0], oy+op.Vertices[1])
	for i := 1; i < n; i++ {
		p.LineTo(ox+op.Vertices[2*i], oy+op.Vertices[2*i+1])
	}
	p.Close()
	return true
}
