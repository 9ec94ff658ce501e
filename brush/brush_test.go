package brush

import (
	"testing"

	"fogmask/maskop"

	"github.com/gogpu/gg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func points(t *testing.T, p *gg.Path) []gg.Point {
	t.Helper()
	var out []gg.Point
	for _, el := range p.Elements() {
		switch e := el.(type) {
		case gg.MoveTo:
			out = append(out, e.Point)
		case gg.LineTo:
			out = append(out, e.Point)
		}
	}
	return out
}

func closed(p *gg.Path) bool {
	els := p.Elements()
	if len(els) == 0 {
		return false
	}
	_, ok := els[len(els)-1].(gg.Close)
	return ok
}

func TestBoxPrimitive(t *testing.T) {
	prim, ok := MakePrimitive(maskop.NewBox(10, 20, 30, 40, maskop.FillRevealed))
	require.True(t, ok)
	assert.Equal(t, maskop.Box, prim.Shape)
	assert.Equal(t, []gg.Point{gg.Pt(10, 20), gg.Pt(40, 20), gg.Pt(40, 60), gg.Pt(10, 60)}, points(t, prim.Path))
	assert.True(t, closed(prim.Path))
	assert.Equal(t, gg.RGBA{R: 0, G: 0, B: 0, A: 1}, prim.Color)
}

func TestBoxNegativeSizeIsNormalized(t *testing.T) {
	prim, ok := MakePrimitive(maskop.NewBox(40, 60, -30, -40, maskop.FillFogged))
	require.True(t, ok)
	assert.Equal(t, gg.Pt(10, 20), points(t, prim.Path)[0])
	assert.Equal(t, gg.RGBA{R: 1, G: 1, B: 1, A: 1}, prim.Color)
}

func TestDegenerateShapesAreSkipped(t *testing.T) {
	_, ok := MakePrimitive(maskop.NewBox(0, 0, 0, 10, maskop.FillFogged))
	assert.False(t, ok)

	_, ok = MakePrimitive(maskop.NewEllipse(0, 0, 5, 0, maskop.FillFogged))
	assert.False(t, ok)

	_, ok = MakePrimitive(maskop.NewPolygon(0, 0, []float64{0, 0, 5, 5}, maskop.FillFogged))
	assert.False(t, ok)
}

func TestEllipseIsCentredOnOrigin(t *testing.T) {
	prim, ok := MakePrimitive(maskop.NewEllipse(100, 50, 20, 10, maskop.FillFogged))
	require.True(t, ok)
	assert.Equal(t, maskop.Ellipse, prim.Shape)
	assert.True(t, closed(prim.Path))

	// The first point of the outline sits on the right end of the major axis.
	first := prim.Path.Elements()[0].(gg.MoveTo).Point
	assert.InDelta(t, 120, first.X, 1e-9)
	assert.InDelta(t, 50, first.Y, 1e-9)
}

func TestRoundedRectUsesCurves(t *testing.T) {
	prim, ok := MakePrimitive(maskop.Operation{Shape: maskop.RoundedRect, X: 0, Y: 0, Width: 100, Height: 60, Fill: maskop.FillFogged})
	require.True(t, ok)

	curves := 0
	for _, el := range prim.Path.Elements() {
		switch el.(type) {
		case gg.CubicTo, gg.QuadTo:
			curves++
		}
	}
	assert.Greater(t, curves, 0)
}

func TestPolygonIsOffsetAndClosed(t *testing.T) {
	op := maskop.NewPolygon(5, 5, []float64{0, 0, 10, 0, 10, 10, 0, 0}, maskop.FillRevealed)
	prim, ok := MakePrimitive(op)
	require.True(t, ok)
	assert.Equal(t, []gg.Point{gg.Pt(5, 5), gg.Pt(15, 5), gg.Pt(15, 15)}, points(t, prim.Path))
	assert.True(t, closed(prim.Path))
}

func TestUnknownShapeIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		_, ok := MakePrimitive(maskop.Operation{Shape: maskop.Shape(42), Width: 10, Height: 10})
		assert.False(t, ok)
	})
}
