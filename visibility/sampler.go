// Package visibility decides which scene objects the fog mask hides.
package visibility

import (
	"math"

	logging "github.com/ipfs/go-log/v2"

	"fogmask/raster"
)

var logger = logging.Logger("fogmask/visibility")

// Placeable is anything with a world position that the mask can hide.
type Placeable interface {
	// Position returns the top-left corner in scene coordinates. ok is false
	// when the object has no resolvable position.
	Position() (x, y float64, ok bool)
	SetVisible(visible bool)
}

// Door is a placeable whose visibility lives on its control icon.
type Door interface {
	Placeable
	Control() Placeable
}

// Sampler reads the mask under placeables.
type Sampler struct {
	// GridSize is the scene grid size; samples are taken at the centre of
	// the grid cell anchored at the placeable position.
	GridSize int
	// Threshold is the normalized intensity a sample must stay strictly
	// below to be visible.
	Threshold float64
}

// Point returns the mask coordinate sampled for p.
func (s Sampler) Point(p Placeable) (int, int) {
	target := p
	if d, ok := p.(Door); ok && d.Control() != nil {
		target = d.Control()
	}

	half := float64(s.GridSize) / 2
	x, y, ok := target.Position()
	if !ok {
		return int(math.Round(half)), int(math.Round(half))
	}
	return int(math.Round(half + x)), int(math.Round(half + y))
}

// IsVisible samples the surface under p. ok is false when the surface has
// nothing to sample.
func (s Sampler) IsVisible(p Placeable, surface raster.Surface) (visible, ok bool) {
	w, h := surface.Bounds()
	if w <= 0 || h <= 0 {
		return false, false
	}

	x, y := s.Point(p)
	px := surface.ReadPixel(x, y)
	avg := (float64(px[0]) + float64(px[1]) + float64(px[2])) / 3
	return avg/255 < s.Threshold, true
}

// Apply samples p and writes the result to it, or to its control icon for
// doors. It reports whether anything was written.
func (s Sampler) Apply(p Placeable, surface raster.Surface) bool {
	visible, ok := s.IsVisible(p, surface)
	if !ok {
		logger.Debugf("mask has no geometry, skipping visibility")
		return false
	}

	if d, isDoor := p.(Door); isDoor && d.Control() != nil {
		d.Control().SetVisible(visible)
		return true
	}
	p.SetVisible(visible)
	return true
}
