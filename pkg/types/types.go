package types

import (
	"fmt"
	"math"
)

// NormalizedBox is a bounding box with coordinates in [0,1] relative to the
// image the detector actually processed.
type NormalizedBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Width returns the box width as a fraction of the image width
func (b NormalizedBox) Width() float64 { return b.XMax - b.XMin }

// Height returns the box height as a fraction of the image height
func (b NormalizedBox) Height() float64 { return b.YMax - b.YMin }

// Area returns the normalized area of the box
func (b NormalizedBox) Area() float64 {
	if b.Width() <= 0 || b.Height() <= 0 {
		return 0
	}
	return b.Width() * b.Height()
}

// Valid reports whether the box is ordered and inside the unit square.
func (b NormalizedBox) Valid() bool {
	for _, v := range []float64{b.XMin, b.YMin, b.XMax, b.YMax} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return false
		}
	}
	return b.XMin <= b.XMax && b.YMin <= b.YMax
}

// PixelBox is a bounding box in the pixel space of a concrete canvas.
type PixelBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Width returns the box width in pixels
func (b PixelBox) Width() float64 { return b.XMax - b.XMin }

// Height returns the box height in pixels
func (b PixelBox) Height() float64 { return b.YMax - b.YMin }

// DetectedObject is one detection produced by a detection service.
type DetectedObject struct {
	Label string        `json:"label"`
	Score float64       `json:"score"`
	Box   NormalizedBox `json:"box"`
}

// Percent returns the confidence rounded to a whole percentage
func (o DetectedObject) Percent() int {
	return int(math.Round(o.Score * 100))
}

func (o DetectedObject) String() string {
	return fmt.Sprintf("%s (%d%%) [%.3f,%.3f - %.3f,%.3f]",
		o.Label, o.Percent(), o.Box.XMin, o.Box.YMin, o.Box.XMax, o.Box.YMax)
}

// SegmentationMask holds one background-likelihood score per pixel of the
// processed image, row-major.
type SegmentationMask struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Values []float64 `json:"mask"`
}

// Validate checks the mask against the dimensions it claims to cover.
func (m *SegmentationMask) Validate() error {
	if m == nil || len(m.Values) == 0 {
		return NewError(KindInvalidMask, "validate mask", fmt.Errorf("mask is empty"))
	}
	if m.Width <= 0 || m.Height <= 0 {
		return NewError(KindInvalidMask, "validate mask",
			fmt.Errorf("invalid mask dimensions %dx%d", m.Width, m.Height))
	}
	if len(m.Values) != m.Width*m.Height {
		return NewError(KindInvalidMask, "validate mask",
			fmt.Errorf("mask has %d values, expected %d (%dx%d)", len(m.Values), m.Width*m.Height, m.Width, m.Height))
	}
	return nil
}

// At returns the mask value at x,y
func (m *SegmentationMask) At(x, y int) float64 {
	return m.Values[y*m.Width+x]
}

// EncodedImage is an encoded raster sent to an inference service.
type EncodedImage struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// ContentType returns the MIME type matching the encoded format
func (e EncodedImage) ContentType() string {
	switch e.Format {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Filename returns a placeholder file name used for multipart uploads
func (e EncodedImage) Filename() string {
	ext := e.Format
	if ext == "" || ext == "jpeg" {
		ext = "jpg"
	}
	return "image." + ext
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	Area        int     `json:"area"`
}
