package maskop

import (
	"fmt"
	"math"
)

// Shape identifies the primitive an Operation paints.
type Shape int

const (
	Ellipse Shape = iota
	Box
	RoundedRect
	Polygon
)

func (s Shape) String() string {
	switch s {
	case Ellipse:
		return "ellipse"
	case Box:
		return "box"
	case RoundedRect:
		return "rounded_rect"
	case Polygon:
		return "polygon"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Known reports whether this build can draw the shape. Unknown shapes come
// from newer clients and are kept in the log untouched.
func (s Shape) Known() bool {
	return s >= Ellipse && s <= Polygon
}

// Fill is a 24-bit 0xRRGGBB color. Mask ops only use grays: 0x000000 reveals,
// 0xFFFFFF fogs.
type Fill uint32

const (
	FillRevealed Fill = 0x000000
	FillFogged   Fill = 0xFFFFFF
)

// Gray returns the gray fill whose three channels equal v.
func Gray(v uint8) Fill {
	c := Fill(v)
	return c<<16 | c<<8 | c
}

// RGB splits the fill into channels.
func (f Fill) RGB() (r, g, b uint8) {
	return uint8(f >> 16), uint8(f >> 8), uint8(f)
}

// Intensity is the mean channel value, the amount of fog the fill paints.
func (f Fill) Intensity() uint8 {
	r, g, b := f.RGB()
	return uint8((int(r) + int(g) + int(b)) / 3)
}

// Hex formats the fill the way settings store colors, e.g. "0xffffff".
func (f Fill) Hex() string {
	return fmt.Sprintf("0x%06x", uint32(f)&0xFFFFFF)
}

// FillFromPercent converts a 0-100 opacity percent into a gray fill, rounding
// the channel value up.
func FillFromPercent(percent int) Fill {
	if percent <= 0 {
		return FillRevealed
	}
	if percent >= 100 {
		return FillFogged
	}
	return Gray(uint8((percent*255 + 99) / 100))
}

// Percent is the inverse of FillFromPercent, rounded up.
func (f Fill) Percent() int {
	return int(math.Ceil(float64(uint32(f)&0xFFFFFF) / float64(FillFogged) * 100))
}

// Operation is one paint instruction. Width and Height are unused for
// polygons; Vertices are relative to X,Y and only used for polygons.
type Operation struct {
	Shape    Shape     `json:"shape"`
	X        int       `json:"x"`
	Y        int       `json:"y"`
	Width    int       `json:"width,omitempty"`
	Height   int       `json:"height,omitempty"`
	Vertices []float64 `json:"vertices,omitempty"`
	Fill     Fill      `json:"fill"`
}

// Clone returns a deep copy of the operation.
func (op Operation) Clone() Operation {
	if op.Vertices != nil {
		op.Vertices = append([]float64(nil), op.Vertices...)
	}
	return op
}

// NewBox builds a Box operation.
func NewBox(x, y, w, h int, fill Fill) Operation {
	return Operation{Shape: Box, X: x, Y: y, Width: w, Height: h, Fill: fill}
}

// NewEllipse builds an Ellipse centred on x,y with radii rx,ry.
func NewEllipse(x, y, rx, ry int, fill Fill) Operation {
	return Operation{Shape: Ellipse, X: x, Y: y, Width: rx, Height: ry, Fill: fill}
}

// NewPolygon builds a Polygon operation from a flat x0,y0,x1,y1... list.
func NewPolygon(x, y int, vertices []float64, fill Fill) Operation {
	return Operation{Shape: Polygon, X: x, Y: y, Vertices: append([]float64(nil), vertices...), Fill: fill}
}

// Batch is the group of operations produced by one gesture.
type Batch []Operation

// Clone returns a deep copy of the batch.
func (b Batch) Clone() Batch {
	if b == nil {
		return nil
	}
	out := make(Batch, len(b))
	for i, op := range b {
		out[i] = op.Clone()
	}
	return out
}
