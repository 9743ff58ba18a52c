// Package export encodes processed rasters and derives download names.
package export

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/menta2k/image-detector/internal/utils"
	"github.com/menta2k/image-detector/pkg/types"
)

// Supported output formats
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

// DefaultJPEGQuality is used when Options.Quality is not set
const DefaultJPEGQuality = 90

// Options controls encoding
type Options struct {
	Format   string // png, jpeg/jpg or webp
	Quality  int    // 1-100, jpeg and lossy webp only
	Lossless bool   // webp only
}

// PNG returns options for best-compression PNG output
func PNG() Options {
	return Options{Format: FormatPNG}
}

// JPEG returns options for JPEG output at the given quality
func JPEG(quality int) Options {
	return Options{Format: FormatJPEG, Quality: quality}
}

// ParseFormat normalizes a format name. It returns "" for unknown formats.
func ParseFormat(format string) string {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), ".")) {
	case "png":
		return FormatPNG
	case "jpg", "jpeg":
		return FormatJPEG
	case "webp":
		return FormatWebP
	default:
		return ""
	}
}

// Extension returns the file extension used for a format
func Extension(format string) string {
	switch ParseFormat(format) {
	case FormatJPEG:
		return "jpg"
	case FormatWebP:
		return "webp"
	default:
		return "png"
	}
}

// Encode serializes img. Any encoder failure, or an empty result, is an
// EncodingFailure.
func Encode(img image.Image, opts Options) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, types.Errorf(types.KindEncoding, "encode", "no image to encode")
	}

	format := ParseFormat(opts.Format)
	if opts.Format == "" {
		format = FormatPNG
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case FormatJPEG:
		quality := opts.Quality
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case FormatWebP:
		quality := opts.Quality
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		err = webp.Encode(&buf, img, &webp.Options{Lossless: opts.Lossless, Quality: float32(quality)})
	default:
		return nil, types.Errorf(types.KindEncoding, "encode", "unsupported format %q", opts.Format)
	}

	if err != nil {
		return nil, types.NewError(types.KindEncoding, "encode "+format, err)
	}
	if buf.Len() == 0 {
		return nil, types.Errorf(types.KindEncoding, "encode "+format, "encoder produced no data")
	}
	return buf.Bytes(), nil
}

// EncodeAlpha encodes an image whose transparency must survive, such as a
// background-removed cutout. Only PNG and lossless WebP qualify.
func EncodeAlpha(img image.Image, opts Options) ([]byte, error) {
	switch ParseFormat(opts.Format) {
	case FormatPNG:
	case FormatWebP:
		opts.Lossless = true
	default:
		if opts.Format != "" {
			return nil, types.Errorf(types.KindEncoding, "encode", "format %q cannot carry transparency", opts.Format)
		}
		opts.Format = FormatPNG
	}
	return Encode(img, opts)
}

// DetectedFilename returns the download name for an annotated detection image
func DetectedFilename(original string) string {
	return WithPrefix(original, "detected_", "png")
}

// NoBackgroundFilename returns the download name for a background-removed cutout
func NoBackgroundFilename(original string) string {
	return WithPrefix(original, "no_bg_", "png")
}

// WithPrefix prefixes the base name of original and replaces its extension
// with ext. Only the last extension is replaced.
func WithPrefix(original, prefix, ext string) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = utils.SanitizeFilename(name)
	if name == "" {
		name = "image"
	}
	return fmt.Sprintf("%s%s.%s", prefix, name, strings.TrimPrefix(ext, "."))
}
