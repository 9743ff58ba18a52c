// Package mask turns segmentation masks into alpha channels.
package mask

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/image-detector/pkg/types"
)

// Alpha converts a background likelihood into an opacity value. A mask value
// of 1 (certain background) is fully transparent.
func Alpha(v float64) uint8 {
	return uint8(math.Round((1 - clamp(v)) * 255))
}

// Composite returns a copy of img whose alpha channel is taken from m. Color
// channels are left untouched. The mask must cover img exactly.
func Composite(img *image.NRGBA, m *types.SegmentationMask) (*image.NRGBA, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, types.Errorf(types.KindInvalidMask, "composite", "no image to composite")
	}

	b := img.Bounds()
	if b.Dx() != m.Width || b.Dy() != m.Height {
		return nil, types.Errorf(types.KindInvalidMask, "composite",
			"mask is %dx%d but image is %dx%d", m.Width, m.Height, b.Dx(), b.Dy())
	}

	out := imaging.Clone(img)
	for y := 0; y < m.Height; y++ {
		row := out.Pix[y*out.Stride : y*out.Stride+m.Width*4]
		values := m.Values[y*m.Width : (y+1)*m.Width]
		for x, v := range values {
			row[x*4+3] = Alpha(v)
		}
	}
	return out, nil
}

// Resample scales a mask to w x h with bilinear interpolation.
func Resample(m *types.SegmentationMask, w, h int) (*types.SegmentationMask, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if w <= 0 || h <= 0 {
		return nil, types.Errorf(types.KindInvalidMask, "resample mask", "invalid target size %dx%d", w, h)
	}
	if w == m.Width && h == m.Height {
		values := make([]float64, len(m.Values))
		copy(values, m.Values)
		return &types.SegmentationMask{Width: w, Height: h, Values: values}, nil
	}

	// imaging resamples in 8 bits per channel
	gray := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Values {
		gray.Pix[(i/m.Width)*gray.Stride+i%m.Width] = uint8(math.Round(clamp(v) * 255))
	}

	scaled := imaging.Resize(gray, w, h, imaging.Linear)
	values := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			values[y*w+x] = float64(scaled.Pix[y*scaled.Stride+x*4]) / 255
		}
	}
	return &types.SegmentationMask{Width: w, Height: h, Values: values}, nil
}

// CompositeFullResolution applies a mask computed on a downscaled canvas to
// the original raster, resampling the mask when the sizes differ.
func CompositeFullResolution(orig *image.NRGBA, m *types.SegmentationMask) (*image.NRGBA, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, types.Errorf(types.KindInvalidMask, "composite", "no image to composite")
	}

	b := orig.Bounds()
	if b.Dx() == m.Width && b.Dy() == m.Height {
		return Composite(orig, m)
	}

	// masks from a scaled canvas keep the original aspect ratio within rounding
	if !sameAspect(b.Dx(), b.Dy(), m.Width, m.Height) {
		return nil, types.Errorf(types.KindInvalidMask, "composite",
			"mask %dx%d does not match image aspect %dx%d", m.Width, m.Height, b.Dx(), b.Dy())
	}

	scaled, err := Resample(m, b.Dx(), b.Dy())
	if err != nil {
		return nil, fmt.Errorf("failed to resample mask: %w", err)
	}
	return Composite(orig, scaled)
}

// Coverage returns the fraction of pixels kept as foreground (alpha >= 128).
func Coverage(m *types.SegmentationMask) float64 {
	if m == nil || len(m.Values) == 0 {
		return 0
	}
	kept := 0
	for _, v := range m.Values {
		if Alpha(v) >= 128 {
			kept++
		}
	}
	return float64(kept) / float64(len(m.Values))
}

func sameAspect(w, h, mw, mh int) bool {
	// one pixel of rounding on the shorter mask side
	sx := float64(w) / float64(mw)
	return math.Abs(float64(mh)*sx-float64(h)) <= sx+1
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
