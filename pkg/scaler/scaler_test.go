package scaler

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x % 256), uint8(y % 256), 200, 255})
		}
	}
	return img
}

func TestTargetSize(t *testing.T) {
	tests := []struct {
		w, h, max   int
		wantW       int
		wantH       int
		wantResized bool
	}{
		{2000, 1000, 1024, 1024, 512, true},
		{1000, 2000, 1024, 512, 1024, true},
		{1024, 768, 1024, 1024, 768, false},
		{800, 600, 1024, 800, 600, false},
		{3000, 2001, 1024, 1024, 683, true}, // 683.0 rounds to nearest
		{4000, 3, 1024, 1024, 1, true},     // never below one pixel
		{1025, 1025, 1024, 1024, 1024, true},
		{5000, 5000, 0, 5000, 5000, false}, // disabled
	}

	for _, tt := range tests {
		w, h, resized := TargetSize(tt.w, tt.h, tt.max)
		if w != tt.wantW || h != tt.wantH || resized != tt.wantResized {
			t.Errorf("TargetSize(%d,%d,%d) = %d,%d,%v; expected %d,%d,%v",
				tt.w, tt.h, tt.max, w, h, resized, tt.wantW, tt.wantH, tt.wantResized)
		}
	}
}

func TestTargetSizeRoundsToNearest(t *testing.T) {
	// 1500 * 1024 / 2048 = 750 exactly; 1501 -> 750.5 -> 751; 1499 -> 749.5 -> 750
	cases := map[int]int{1500: 750, 1501: 751, 1499: 750}
	for h, want := range cases {
		if _, got, _ := TargetSize(2048, h, 1024); got != want {
			t.Errorf("Expected height %d for 2048x%d, got %d", want, h, got)
		}
	}
}

func TestAspectPreservation(t *testing.T) {
	const m = 1024
	for w := 1025; w <= 4000; w += 137 {
		for h := 1; h <= 4000; h += 211 {
			outW, outH, resized := TargetSize(w, h, m)
			if !resized {
				t.Fatalf("Expected %dx%d to be resized", w, h)
			}

			// each axis is within half a pixel of the exact scaled size
			scale := float64(m) / math.Max(float64(w), float64(h))
			if math.Abs(float64(outW)-float64(w)*scale) > 0.5 || (outH > 1 && math.Abs(float64(outH)-float64(h)*scale) > 0.5) {
				t.Errorf("%dx%d -> %dx%d: more than 0.5px rounding error", w, h, outW, outH)
			}

			// ratio error bound for photo-like aspect ratios
			want := float64(w) / float64(h)
			if want < 0.5 || want > 2 {
				continue
			}
			got := float64(outW) / float64(outH)
			minSide := math.Min(float64(outW), float64(outH))
			if math.Abs(got-want) >= 1/minSide {
				t.Errorf("%dx%d -> %dx%d: ratio %f vs %f exceeds 1/%v", w, h, outW, outH, got, want, minSide)
			}
		}
	}
}

func TestScaleNoOp(t *testing.T) {
	s := New(DefaultMaxDimension)
	src := createTestImage(300, 200)

	res := s.Scale(src)
	if res.Resized {
		t.Error("Expected no resize for image within limit")
	}
	if res.Width() != 300 || res.Height() != 200 {
		t.Errorf("Expected 300x200, got %dx%d", res.Width(), res.Height())
	}
	for y := 0; y < 200; y += 17 {
		for x := 0; x < 300; x += 13 {
			if res.Canvas.NRGBAAt(x, y) != src.NRGBAAt(x, y) {
				t.Fatalf("Pixel %d,%d changed: %v vs %v", x, y, res.Canvas.NRGBAAt(x, y), src.NRGBAAt(x, y))
			}
		}
	}

	// the canvas must be a separate buffer
	res.Canvas.SetNRGBA(0, 0, color.NRGBA{1, 2, 3, 4})
	if src.NRGBAAt(0, 0) == (color.NRGBA{1, 2, 3, 4}) {
		t.Error("Scale returned a canvas sharing the source buffer")
	}
}

func TestScaleDownscale(t *testing.T) {
	s := New(DefaultMaxDimension)
	res := s.Scale(createTestImage(2000, 1000))

	if !res.Resized {
		t.Error("Expected resize for 2000x1000")
	}
	if res.Width() != 1024 || res.Height() != 512 {
		t.Errorf("Expected 1024x512, got %dx%d", res.Width(), res.Height())
	}
	if res.SourceWidth != 2000 || res.SourceHeight != 1000 {
		t.Errorf("Expected source 2000x1000, got %dx%d", res.SourceWidth, res.SourceHeight)
	}
}

func TestScaleUniformColorStaysUniform(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1500, 900))
	fill := color.NRGBA{10, 120, 230, 255}
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = fill.R, fill.G, fill.B, fill.A
	}

	res := New(500).Scale(src)
	if res.Width() != 500 || res.Height() != 300 {
		t.Fatalf("Expected 500x300, got %dx%d", res.Width(), res.Height())
	}
	if got := res.Canvas.NRGBAAt(250, 150); got != fill {
		t.Errorf("Expected bilinear resample to keep %v, got %v", fill, got)
	}
}

func BenchmarkScale(b *testing.B) {
	s := New(DefaultMaxDimension)
	img := createTestImage(3000, 2000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Scale(img)
	}
}
