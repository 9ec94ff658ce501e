package raster

import (
	"image"
	"image/color"
	"io"

	"fogmask/maskop"

	"github.com/disintegration/imaging"
)

// OverlayOptions controls how a mask is turned into the fog overlay a viewer
// sees.
type OverlayOptions struct {
	// Tint is the fog color.
	Tint maskop.Fill
	// Alpha scales the fog opacity, 0..1.
	Alpha float64
	// BlurRadius softens mask edges when greater than zero.
	BlurRadius float64
	// Width and Height resize the overlay back to scene size when the mask is
	// stored at reduced resolution. Zero keeps the mask size.
	Width, Height int
}

// Overlay renders the fog layer for a mask: every pixel takes the tint color
// and an opacity proportional to the mask intensity.
func Overlay(mask image.Image, opts OverlayOptions) *image.NRGBA {
	img := imaging.Clone(mask)

	if opts.BlurRadius > 0 {
		img = imaging.Blur(img, opts.BlurRadius)
	}

	b := img.Bounds()
	if opts.Width > 0 && opts.Height > 0 && (b.Dx() != opts.Width || b.Dy() != opts.Height) {
		img = imaging.Resize(img, opts.Width, opts.Height, imaging.Linear)
	}

	alpha := opts.Alpha
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	tr, tg, tb := opts.Tint.RGB()

	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		intensity := (float64(c.R) + float64(c.G) + float64(c.B)) / 3
		return color.NRGBA{R: tr, G: tg, B: tb, A: uint8(intensity*alpha + 0.5)}
	})
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}
