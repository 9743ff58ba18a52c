package export

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/menta2k/image-detector/pkg/types"
)

func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 3), uint8(y * 3), 128, 255})
		}
	}
	return img
}

func createCutout(width, height int) *image.NRGBA {
	img := createTestImage(width, height)
	for y := 0; y < height; y++ {
		for x := width / 2; x < width; x++ {
			img.Pix[y*img.Stride+x*4+3] = 0
		}
	}
	return img
}

func TestEncodePNG(t *testing.T) {
	data, err := Encode(createTestImage(40, 30), PNG())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Error("Expected PNG signature")
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 30 {
		t.Errorf("Expected 40x30, got %v", img.Bounds())
	}
}

func TestEncodeJPEG(t *testing.T) {
	src := createTestImage(64, 64)
	low, err := Encode(src, JPEG(10))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	high, err := Encode(src, Options{Format: "jpg", Quality: 95})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.HasPrefix(low, []byte{0xff, 0xd8}) {
		t.Error("Expected JPEG signature")
	}
	if len(low) >= len(high) {
		t.Errorf("Expected quality to affect size: q10=%d q95=%d", len(low), len(high))
	}
}

func TestEncodeDefaultsToPNG(t *testing.T) {
	data, err := Encode(createTestImage(8, 8), Options{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Error("Expected PNG output for empty format")
	}
}

func TestEncodeFailures(t *testing.T) {
	cases := map[string]struct {
		img  image.Image
		opts Options
	}{
		"nil image":   {nil, PNG()},
		"empty image": {image.NewNRGBA(image.Rect(0, 0, 0, 0)), PNG()},
		"bad format":  {createTestImage(4, 4), Options{Format: "tga"}},
	}
	for name, c := range cases {
		data, err := Encode(c.img, c.opts)
		if data != nil {
			t.Errorf("%s: expected no data", name)
		}
		if !errors.Is(err, types.ErrEncoding) {
			t.Errorf("%s: expected EncodingFailure, got %v", name, err)
		}
	}
}

func TestEncodeAlphaKeepsTransparency(t *testing.T) {
	data, err := EncodeAlpha(createCutout(20, 10), Options{Format: "png"})
	if err != nil {
		t.Fatalf("EncodeAlpha failed: %v", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}
	nrgba := imaging.Clone(img)
	if a := nrgba.NRGBAAt(15, 5).A; a != 0 {
		t.Errorf("Expected transparent pixel, got alpha %d", a)
	}
	if a := nrgba.NRGBAAt(2, 5).A; a != 255 {
		t.Errorf("Expected opaque pixel, got alpha %d", a)
	}
}

func TestEncodeAlphaWebPIsLossless(t *testing.T) {
	src := createCutout(16, 16)
	data, err := EncodeAlpha(src, Options{Format: "webp", Quality: 10})
	if err != nil {
		t.Fatalf("EncodeAlpha failed: %v", err)
	}
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to decode webp: %v", err)
	}
	got := imaging.Clone(img)
	if got.NRGBAAt(3, 3) != src.NRGBAAt(3, 3) {
		t.Errorf("Expected lossless pixel %v, got %v", src.NRGBAAt(3, 3), got.NRGBAAt(3, 3))
	}
	if got.NRGBAAt(12, 3).A != 0 {
		t.Error("Expected transparency to survive")
	}
}

func TestEncodeAlphaRejectsJPEG(t *testing.T) {
	_, err := EncodeAlpha(createCutout(4, 4), JPEG(90))
	if !errors.Is(err, types.ErrEncoding) {
		t.Errorf("Expected EncodingFailure for JPEG cutout, got %v", err)
	}
}

func TestFilenames(t *testing.T) {
	tests := []struct {
		fn   func(string) string
		in   string
		want string
	}{
		{DetectedFilename, "cat.photo.jpg", "detected_cat.photo.png"},
		{DetectedFilename, "holiday.webp", "detected_holiday.png"},
		{DetectedFilename, "/tmp/uploads/dog.jpeg", "detected_dog.png"},
		{DetectedFilename, `C:\photos\bird.png`, "detected_bird.png"},
		{DetectedFilename, "", "detected_image.png"},
		{NoBackgroundFilename, "portrait.jpg", "no_bg_portrait.png"},
		{NoBackgroundFilename, "noext", "no_bg_noext.png"},
	}
	for _, tt := range tests {
		if got := tt.fn(tt.in); got != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.in, tt.want, got)
		}
	}

	if got := WithPrefix("a.png", "thumb_", ".jpg"); got != "thumb_a.jpg" {
		t.Errorf("Expected thumb_a.jpg, got %q", got)
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]string{"PNG": FormatPNG, ".jpg": FormatJPEG, "jpeg": FormatJPEG, "webp": FormatWebP, "gif": ""}
	for in, want := range cases {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q): expected %q, got %q", in, want, got)
		}
	}
	if Extension("jpeg") != "jpg" || Extension("") != "png" {
		t.Error("Unexpected extension mapping")
	}
}

func TestDirSinkSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink := NewDirSink(dir)

	if err := sink.Save(context.Background(), "detected_cat.png", []byte("payload")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "detected_cat.png"))
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Expected payload, got %q", got)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Expected only the saved file, found %d entries", len(entries))
	}
}

func TestDirSinkFailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	sink := NewDirSink(dir)

	if err := sink.Save(context.Background(), "empty.png", nil); err == nil {
		t.Error("Expected error for empty data")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Save(ctx, "cancelled.png", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	// destination is an existing directory, so the final rename fails
	if err := os.Mkdir(filepath.Join(dir, "taken.png"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := sink.Save(context.Background(), "taken.png", []byte("x")); err == nil {
		t.Error("Expected rename onto a directory to fail")
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "taken.png" {
			t.Errorf("Unexpected leftover file %s", e.Name())
		}
	}
}
