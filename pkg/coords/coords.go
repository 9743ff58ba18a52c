// Package coords converts bounding boxes between a detector's output
// convention and the pixel space of a display canvas.
package coords

import (
	"math"
	"strings"

	"github.com/menta2k/image-detector/pkg/types"
)

// Convention describes how a detector expresses box coordinates.
type Convention int

const (
	// ConventionAuto inspects each result set to decide.
	ConventionAuto Convention = iota
	// ConventionNormalized means fractions of the processed image.
	ConventionNormalized
	// ConventionPixel means pixels of the processed image.
	ConventionPixel
)

func (c Convention) String() string {
	switch c {
	case ConventionNormalized:
		return "normalized"
	case ConventionPixel:
		return "pixel"
	default:
		return "auto"
	}
}

// ParseConvention parses "auto", "normalized" or "pixel"
func ParseConvention(s string) Convention {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normalized", "normalised", "relative":
		return ConventionNormalized
	case "pixel", "pixels", "absolute":
		return ConventionPixel
	default:
		return ConventionAuto
	}
}

// DetectConvention decides the convention for a whole result set: any
// coordinate above 1.0 means the detector answered in pixels.
func DetectConvention(objects []types.DetectedObject) Convention {
	for _, o := range objects {
		b := o.Box
		if b.XMin > 1 || b.YMin > 1 || b.XMax > 1 || b.YMax > 1 {
			return ConventionPixel
		}
	}
	return ConventionNormalized
}

// ToPixels maps a normalized box onto a w x h canvas, clamping to its bounds.
func ToPixels(box types.NormalizedBox, w, h int) types.PixelBox {
	fw, fh := float64(w), float64(h)
	return types.PixelBox{
		XMin: clamp(box.XMin*fw, 0, fw),
		YMin: clamp(box.YMin*fh, 0, fh),
		XMax: clamp(box.XMax*fw, 0, fw),
		YMax: clamp(box.YMax*fh, 0, fh),
	}
}

// ToNormalized maps a pixel box on a w x h canvas back to fractions.
func ToNormalized(box types.PixelBox, w, h int) types.NormalizedBox {
	if w <= 0 || h <= 0 {
		return types.NormalizedBox{}
	}
	fw, fh := float64(w), float64(h)
	return ClampBox(types.NormalizedBox{
		XMin: box.XMin / fw,
		YMin: box.YMin / fh,
		XMax: box.XMax / fw,
		YMax: box.YMax / fh,
	})
}

// ClampBox orders the corners and clamps every coordinate into [0,1].
func ClampBox(b types.NormalizedBox) types.NormalizedBox {
	if b.XMin > b.XMax {
		b.XMin, b.XMax = b.XMax, b.XMin
	}
	if b.YMin > b.YMax {
		b.YMin, b.YMax = b.YMax, b.YMin
	}
	return types.NormalizedBox{
		XMin: clamp(b.XMin, 0, 1),
		YMin: clamp(b.YMin, 0, 1),
		XMax: clamp(b.XMax, 0, 1),
		YMax: clamp(b.YMax, 0, 1),
	}
}

// Normalize converts raw detector output for a srcW x srcH processed image
// into normalized boxes. Out-of-range values are clamped rather than
// rejected; boxes with non-finite coordinates are dropped.
func Normalize(objects []types.DetectedObject, srcW, srcH int, conv Convention) []types.DetectedObject {
	if conv == ConventionAuto {
		conv = DetectConvention(objects)
	}

	out := make([]types.DetectedObject, 0, len(objects))
	for _, o := range objects {
		if !finite(o.Box) {
			continue
		}
		if conv == ConventionPixel {
			o.Box = ToNormalized(types.PixelBox(o.Box), srcW, srcH)
		} else {
			o.Box = ClampBox(o.Box)
		}
		o.Score = clamp(o.Score, 0, 1)
		out = append(out, o)
	}
	return out
}

// Mapped is a detected object placed on a concrete canvas.
type Mapped struct {
	types.DetectedObject
	Pixels types.PixelBox
}

// MapObjects maps normalized detections onto a w x h display canvas.
func MapObjects(objects []types.DetectedObject, w, h int) []Mapped {
	out := make([]Mapped, len(objects))
	for i, o := range objects {
		out[i] = Mapped{DetectedObject: o, Pixels: ToPixels(o.Box, w, h)}
	}
	return out
}

func finite(b types.NormalizedBox) bool {
	for _, v := range []float64{b.XMin, b.YMin, b.XMax, b.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
