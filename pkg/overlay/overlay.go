// Package overlay draws detection boxes and labels on top of a raster.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/menta2k/image-detector/pkg/coords"
)

// Renderer draws labeled boxes
type Renderer struct {
	config Config
}

// Config holds rendering parameters
type Config struct {
	FontSize    float64
	StrokeWidth float64
	Padding     float64
	Saturation  float64
	Lightness   float64
	TextColor   color.Color
}

// DefaultConfig returns the default rendering parameters
func DefaultConfig() Config {
	return Config{
		FontSize:    16,
		StrokeWidth: 3,
		Padding:     4,
		Saturation:  0.85,
		Lightness:   0.45,
		TextColor:   color.White,
	}
}

// New creates a Renderer with default configuration
func New() *Renderer {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Renderer with custom configuration
func NewWithConfig(config Config) *Renderer {
	def := DefaultConfig()
	if config.FontSize <= 0 {
		config.FontSize = def.FontSize
	}
	if config.StrokeWidth <= 0 {
		config.StrokeWidth = def.StrokeWidth
	}
	if config.Padding < 0 {
		config.Padding = def.Padding
	}
	if config.Saturation <= 0 {
		config.Saturation = def.Saturation
	}
	if config.Lightness <= 0 {
		config.Lightness = def.Lightness
	}
	if config.TextColor == nil {
		config.TextColor = def.TextColor
	}
	return &Renderer{config: config}
}

var (
	parsedFont *truetype.Font
	parseOnce  sync.Once
	parseErr   error
)

// newFace returns a fresh font face. Faces keep glyph caches and must not be
// shared between concurrent renders.
func (r *Renderer) newFace() (font.Face, error) {
	parseOnce.Do(func() {
		parsedFont, parseErr = truetype.Parse(goregular.TTF)
	})
	if parseErr != nil {
		return nil, fmt.Errorf("failed to parse label font: %w", parseErr)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{Size: r.config.FontSize}), nil
}

// LabelText formats the label shown next to a box
func LabelText(label string, score float64) string {
	return fmt.Sprintf("%s (%d%%)", label, int(math.Round(score*100)))
}

// ColorForIndex returns the box color for the i-th detection. The hue steps
// by 60 degrees per index so colors depend only on position, not on labels.
func ColorForIndex(i int) color.NRGBA {
	return colorForIndex(i, DefaultConfig().Saturation, DefaultConfig().Lightness)
}

func colorForIndex(i int, s, l float64) color.NRGBA {
	hue := float64(((i*60)%360 + 360) % 360)
	r, g, b := colorful.Hsl(hue, s, l).Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// PlaceLabel returns the top-left corner for a tw x th label attached to box
// on a canvasW x canvasH raster. The label sits above the box unless that
// would leave the canvas, in which case it moves below the box. It is shifted
// left to stay inside the right edge and never starts left of 0.
func PlaceLabel(box LabelBox, tw, th, canvasW, canvasH float64) (x, y float64) {
	x = box.XMin
	if x+tw > canvasW {
		x = canvasW - tw
	}
	if x < 0 {
		x = 0
	}

	y = box.YMin - th
	if y < 0 {
		y = box.YMax
		// keep a fallback label on the canvas when it fits vertically
		if y+th > canvasH && th <= canvasH {
			y = canvasH - th
		}
	}
	return x, y
}

// LabelBox is the box a label is attached to, in canvas pixels.
type LabelBox struct {
	XMin, YMin, XMax, YMax float64
}

// Label describes a computed label placement
type Label struct {
	Text   string
	X, Y   float64
	Width  float64
	Height float64
	Color  color.NRGBA
}

// Layout measures and places labels without drawing them.
func (r *Renderer) Layout(objects []coords.Mapped, canvasW, canvasH int) ([]Label, error) {
	face, err := r.newFace()
	if err != nil {
		return nil, err
	}
	defer face.Close()

	dc := gg.NewContext(1, 1)
	dc.SetFontFace(face)
	return r.layout(dc, objects, canvasW, canvasH), nil
}

func (r *Renderer) layout(dc *gg.Context, objects []coords.Mapped, canvasW, canvasH int) []Label {
	labels := make([]Label, len(objects))
	pad := r.config.Padding
	for i, obj := range objects {
		text := LabelText(obj.Label, obj.Score)
		textW, textH := dc.MeasureString(text)
		tw := textW + 2*pad
		th := textH + 2*pad

		box := LabelBox{XMin: obj.Pixels.XMin, YMin: obj.Pixels.YMin, XMax: obj.Pixels.XMax, YMax: obj.Pixels.YMax}
		x, y := PlaceLabel(box, tw, th, float64(canvasW), float64(canvasH))
		labels[i] = Label{
			Text:   text,
			X:      x,
			Y:      y,
			Width:  tw,
			Height: th,
			Color:  colorForIndex(i, r.config.Saturation, r.config.Lightness),
		}
	}
	return labels
}

// Render draws objects onto a copy of base. With visible=false the copy is
// returned untouched.
func (r *Renderer) Render(base image.Image, objects []coords.Mapped, visible bool) (*image.NRGBA, error) {
	if !visible || len(objects) == 0 {
		return imaging.Clone(base), nil
	}

	face, err := r.newFace()
	if err != nil {
		return nil, err
	}
	defer face.Close()

	b := base.Bounds()
	dc := gg.NewContextForImage(base)
	dc.SetFontFace(face)

	labels := r.layout(dc, objects, b.Dx(), b.Dy())

	// boxes first so that labels stay readable where boxes overlap
	dc.SetLineWidth(r.config.StrokeWidth)
	for i, obj := range objects {
		p := obj.Pixels
		dc.SetColor(labels[i].Color)
		dc.DrawRectangle(p.XMin, p.YMin, p.Width(), p.Height())
		dc.Stroke()
	}

	pad := r.config.Padding
	for _, l := range labels {
		dc.SetColor(l.Color)
		dc.DrawRectangle(l.X, l.Y, l.Width, l.Height)
		dc.Fill()

		dc.SetColor(r.config.TextColor)
		dc.DrawStringAnchored(l.Text, l.X+pad, l.Y+pad, 0, 1)
	}

	return imaging.Clone(dc.Image()), nil
}
