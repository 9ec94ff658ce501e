// Package raster holds the mask surface the engine paints into.
package raster

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"fogmask/brush"
	"fogmask/maskop"

	"github.com/gogpu/gg"
)

// Surface is the capability the mask engine paints through.
type Surface interface {
	// Composite paints p over the existing content.
	Composite(p brush.Primitive) error
	// ReadPixel samples the RGBA value at scene coordinates x,y. Points outside
	// the surface read as zero.
	ReadPixel(x, y int) [4]uint8
	// Fill paints the whole surface with a solid color.
	Fill(f maskop.Fill) error
	// Bounds returns the surface size in scene coordinates.
	Bounds() (width, height int)
}

var ErrInvalidSize = errors.New("invalid surface size")

const (
	halfResolutionArea    = 8000 * 8000
	quarterResolutionArea = 16000 * 16000
)

// Resolution returns the backing texture scale for a scene of w by h pixels.
// Large scenes are stored at half or quarter resolution.
func Resolution(w, h int) float64 {
	area := w * h
	switch {
	case area > quarterResolutionArea:
		return 0.25
	case area > halfResolutionArea:
		return 0.5
	default:
		return 1
	}
}

// Option configures a Pixmap.
type Option func(*Pixmap)

// WithResolution overrides the automatic resolution.
func WithResolution(r float64) Option {
	return func(p *Pixmap) {
		if r > 0 {
			p.res = r
		}
	}
}

// Pixmap is a Surface backed by a gg pixmap and its software rasterizer.
type Pixmap struct {
	mu     sync.RWMutex
	width  int
	height int
	res    float64
	pm     *gg.Pixmap
	dc     *gg.Context
}

var _ Surface = (*Pixmap)(nil)

// NewPixmap creates a surface covering a width by height scene, filled with
// the fogged color.
func NewPixmap(width, height int, opts ...Option) (*Pixmap, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}

	p := &Pixmap{width: width, height: height, res: Resolution(width, height)}
	for _, opt := range opts {
		opt(p)
	}

	pw := int(math.Ceil(float64(width) * p.res))
	ph := int(math.Ceil(float64(height) * p.res))
	p.pm = gg.NewPixmap(pw, ph)
	p.dc = gg.NewContext(pw, ph, gg.WithPixmap(p.pm))

	if err := p.Fill(maskop.FillFogged); err != nil {
		return nil, err
	}
	return p, nil
}

// Resolution returns the scale between scene and texture coordinates.
func (p *Pixmap) Resolution() float64 {
	return p.res
}

// Bounds returns the scene size.
func (p *Pixmap) Bounds() (int, int) {
	return p.width, p.height
}

// Composite paints the primitive, scaled to the texture resolution.
func (p *Pixmap) Composite(prim brush.Primitive) error {
	if prim.Path == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	path := prim.Path
	if p.res != 1 {
		path = path.Transform(gg.Scale(p.res, p.res))
	}

	for _, el := range path.Elements() {
		switch e := el.(type) {
		case gg.MoveTo:
			p.dc.MoveTo(e.Point.X, e.Point.Y)
		case gg.LineTo:
			p.dc.LineTo(e.Point.X, e.Point.Y)
		case gg.QuadTo:
			p.dc.QuadraticTo(e.Control.X, e.Control.Y, e.Point.X, e.Point.Y)
		case gg.CubicTo:
			p.dc.CubicTo(e.Control1.X, e.Control1.Y, e.Control2.X, e.Control2.Y, e.Point.X, e.Point.Y)
		case gg.Close:
			p.dc.ClosePath()
		}
	}

	c := prim.Color
	p.dc.SetRGBA(c.R, c.G, c.B, c.A)
	if err := p.dc.Fill(); err != nil {
		return fmt.Errorf("failed to fill %s: %w", prim.Shape, err)
	}
	return nil
}

// ReadPixel samples the pixel under scene coordinates x,y.
func (p *Pixmap) ReadPixel(x, y int) [4]uint8 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tx := int(math.Floor(float64(x) * p.res))
	ty := int(math.Floor(float64(y) * p.res))
	if tx < 0 || ty < 0 || tx >= p.pm.Width() || ty >= p.pm.Height() {
		return [4]uint8{}
	}
	i := (ty*p.pm.Width() + tx) * 4
	d := p.pm.Data()
	return [4]uint8{d[i], d[i+1], d[i+2], d[i+3]}
}

// Fill writes the color into every pixel.
func (p *Pixmap) Fill(f maskop.Fill) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, g, b := f.RGB()
	d := p.pm.Data()
	for i := 0; i+3 < len(d); i += 4 {
		d[i], d[i+1], d[i+2], d[i+3] = r, g, b, 0xFF
	}
	return nil
}

// Image returns a copy of the texture.
func (p *Pixmap) Image() *image.RGBA {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pm.ToImage()
}

// Equal reports whether both surfaces hold identical pixels.
func (p *Pixmap) Equal(other *Pixmap) bool {
	if p == other {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	a, b := p.pm.Data(), other.pm.Data()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Close releases the drawing context.
func (p *Pixmap) Close() error {
	return p.dc.Close()
}
