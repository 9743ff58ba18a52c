// Package scaler enforces a maximum-dimension constraint on working canvases.
package scaler

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// DefaultMaxDimension is the display-side limit for the longer image side.
const DefaultMaxDimension = 1024

// Scaler produces aspect-preserving working canvases
type Scaler struct {
	maxDim int
	filter imaging.ResampleFilter
}

// Result is the output of a scaling operation
type Result struct {
	Canvas       *image.NRGBA
	Resized      bool
	SourceWidth  int
	SourceHeight int
}

// Width returns the canvas width
func (r Result) Width() int { return r.Canvas.Bounds().Dx() }

// Height returns the canvas height
func (r Result) Height() int { return r.Canvas.Bounds().Dy() }

// New creates a Scaler with bilinear resampling. maxDim <= 0 disables scaling.
func New(maxDim int) *Scaler {
	return &Scaler{maxDim: maxDim, filter: imaging.Linear}
}

// MaxDimension returns the configured limit
func (s *Scaler) MaxDimension() int { return s.maxDim }

// TargetSize computes the working canvas size for a w x h source. The larger
// side is clamped to maxDim and the smaller one scaled by the same ratio,
// rounded to the nearest pixel.
func TargetSize(w, h, maxDim int) (int, int, bool) {
	longest := w
	if h > longest {
		longest = h
	}
	if maxDim <= 0 || longest <= maxDim {
		return w, h, false
	}

	if w >= h {
		return maxDim, scaleSide(h, maxDim, w), true
	}
	return scaleSide(w, maxDim, h), maxDim, true
}

func scaleSide(side, maxDim, longest int) int {
	v := int(math.Round(float64(side) * float64(maxDim) / float64(longest)))
	if v < 1 {
		v = 1
	}
	return v
}

// Scale returns a freshly allocated canvas for img. When no resize is needed
// the pixels are copied unchanged.
func (s *Scaler) Scale(img image.Image) Result {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	tw, th, resized := TargetSize(w, h, s.maxDim)
	res := Result{
		Resized:      resized,
		SourceWidth:  w,
		SourceHeight: h,
	}
	if !resized {
		res.Canvas = imaging.Clone(img)
		return res
	}

	res.Canvas = imaging.Resize(img, tw, th, s.filter)
	return res
}
