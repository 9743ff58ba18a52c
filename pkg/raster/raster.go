// Package raster decodes image sources into owned NRGBA pixel buffers.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-detector/pkg/types"
)

// DefaultMaxBytes bounds the size of a single image source.
const DefaultMaxBytes = 50 << 20

// Rasterizer loads image sources into decoded pixel buffers
type Rasterizer struct {
	config Config
	client *http.Client
}

// Config holds configuration for the rasterizer
type Config struct {
	MaxBytes        int64
	AutoOrientation bool
	URLTimeout      time.Duration
	UserAgent       string
}

// New creates a new Rasterizer with default configuration
func New() *Rasterizer {
	return NewWithConfig(Config{
		MaxBytes:        DefaultMaxBytes,
		AutoOrientation: true,
		URLTimeout:      30 * time.Second,
		UserAgent:       "Image-Detector/1.0",
	})
}

// NewWithConfig creates a new Rasterizer with custom configuration
func NewWithConfig(config Config) *Rasterizer {
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultMaxBytes
	}
	if config.URLTimeout <= 0 {
		config.URLTimeout = 30 * time.Second
	}
	return &Rasterizer{
		config: config,
		client: &http.Client{Timeout: config.URLTimeout},
	}
}

// Decode decodes encoded image bytes. The returned buffer is owned by the
// caller and has its origin at 0,0.
func (r *Rasterizer) Decode(data []byte) (*image.NRGBA, error) {
	if len(data) == 0 {
		return nil, types.NewError(types.KindDecode, "decode", errors.New("no image data"))
	}
	if int64(len(data)) > r.config.MaxBytes {
		return nil, types.Errorf(types.KindDecode, "decode", "image is %d bytes, limit is %d", len(data), r.config.MaxBytes)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(r.config.AutoOrientation))
	if err != nil {
		// Fallback: explicit WebP decode
		wimg, werr := webp.Decode(bytes.NewReader(data))
		if werr != nil {
			return nil, types.NewError(types.KindDecode, "decode", err)
		}
		img = wimg
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, types.Errorf(types.KindDecode, "decode", "invalid image dimensions %dx%d", b.Dx(), b.Dy())
	}

	return imaging.Clone(img), nil
}

// DecodeReader reads and decodes an image from an io.Reader
func (r *Rasterizer) DecodeReader(reader io.Reader) (*image.NRGBA, error) {
	data, err := io.ReadAll(io.LimitReader(reader, r.config.MaxBytes+1))
	if err != nil {
		return nil, types.NewError(types.KindDecode, "read image", err)
	}
	return r.Decode(data)
}

// Load reads and decodes an image file
func (r *Rasterizer) Load(path string) (*image.NRGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.KindDecode, "open image file", err)
	}
	return r.Decode(data)
}

// LoadURL downloads and decodes an image over http or https
func (r *Rasterizer) LoadURL(ctx context.Context, imageURL string) (*image.NRGBA, error) {
	data, err := r.Fetch(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	return r.Decode(data)
}

// Fetch downloads the raw bytes of an image URL without decoding them
func (r *Rasterizer) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, types.NewError(types.KindDecode, "parse url", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, types.Errorf(types.KindDecode, "parse url", "unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, types.NewError(types.KindDecode, "create request", err)
	}
	if r.config.UserAgent != "" {
		req.Header.Set("User-Agent", r.config.UserAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.KindDecode, "download image", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.Errorf(types.KindDecode, "download image", "HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, types.Errorf(types.KindDecode, "download image", "URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.config.MaxBytes+1))
	if err != nil {
		return nil, types.NewError(types.KindDecode, "read image data", err)
	}
	return data, nil
}

// LoadSmart loads an image from either a file path or URL
func (r *Rasterizer) LoadSmart(ctx context.Context, source string) (*image.NRGBA, error) {
	if IsURL(source) {
		return r.LoadURL(ctx, source)
	}
	return r.Load(source)
}

// ReadSource returns the raw bytes of a file path or URL
func (r *Rasterizer) ReadSource(ctx context.Context, source string) ([]byte, error) {
	if IsURL(source) {
		return r.Fetch(ctx, source)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, types.NewError(types.KindDecode, "open image file", err)
	}
	return data, nil
}

// IsURL reports whether source should be fetched over HTTP
func IsURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Info returns basic information about an image
func Info(img image.Image) types.ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	info := types.ImageInfo{
		Width:  width,
		Height: height,
		Area:   width * height,
	}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// Validate checks if an image meets a minimum size
func Validate(img image.Image, minSize int) error {
	bounds := img.Bounds()
	if bounds.Dx() < minSize || bounds.Dy() < minSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)",
			bounds.Dx(), bounds.Dy(), minSize)
	}
	return nil
}
