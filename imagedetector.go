// Package imagedetector runs object detection and background removal over
// photographs and renders the results.
//
// The pipeline scales the photo so its longest side fits a maximum
// dimension, sends the scaled canvas to a detection or segmentation service,
// maps the returned boxes back onto the canvas and draws labeled boxes or
// applies the mask as an alpha channel.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		imagedetector "github.com/menta2k/image-detector"
//		"github.com/menta2k/image-detector/pkg/inference"
//	)
//
//	func main() {
//		svc := inference.NewClient("http://localhost:8000")
//		det := imagedetector.New(
//			imagedetector.WithDetector(svc),
//			imagedetector.WithSegmenter(svc),
//		)
//
//		img, err := det.Load(context.Background(), "photo.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		result, err := det.Detect(context.Background(), img)
//		if err != nil {
//			log.Fatal(err)
//		}
//		for _, s := range imagedetector.Summaries(result.Objects) {
//			fmt.Println(s)
//		}
//	}
//
// The package consists of these components:
//
//  1. Raster (pkg/raster): decodes bytes, files and URLs
//  2. Scaler (pkg/scaler): bounds the working canvas size
//  3. Coordinates (pkg/coords): maps detector boxes onto the canvas
//  4. Overlay (pkg/overlay): draws boxes and labels
//  5. Mask (pkg/mask): turns segmentation masks into transparency
//  6. Export (pkg/export): encodes results and names downloads
//
// Session wraps the pipeline for interactive use: only results for the
// currently selected image are ever committed.
package imagedetector

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/image-detector/pkg/client"
	"github.com/menta2k/image-detector/pkg/coords"
	"github.com/menta2k/image-detector/pkg/detection"
	"github.com/menta2k/image-detector/pkg/export"
	"github.com/menta2k/image-detector/pkg/mask"
	"github.com/menta2k/image-detector/pkg/overlay"
	"github.com/menta2k/image-detector/pkg/raster"
	"github.com/menta2k/image-detector/pkg/scaler"
	"github.com/menta2k/image-detector/pkg/types"
)

// Version of the image detector library
const Version = "1.0.0"

// NoObjectsMessage is shown when a detection run finds nothing
const NoObjectsMessage = "No objects detected."

// Config holds pipeline parameters
type Config struct {
	MaxDimension         int               // longest side of the working canvas
	InferenceQuality     int               // JPEG quality of images sent to services
	Convention           coords.Convention // how detector boxes are expressed
	Postprocess          detection.Options // score threshold and NMS
	FullResolutionCutout bool              // apply masks to the original raster
	Overlay              overlay.Config
}

// DefaultConfig returns the default pipeline parameters
func DefaultConfig() Config {
	return Config{
		MaxDimension:     scaler.DefaultMaxDimension,
		InferenceQuality: 80,
		Convention:       coords.ConventionAuto,
		Postprocess:      detection.DefaultOptions(),
		Overlay:          overlay.DefaultConfig(),
	}
}

// ImageDetector provides a high-level interface to the detection pipeline
type ImageDetector struct {
	config    Config
	raster    *raster.Rasterizer
	scaler    *scaler.Scaler
	renderer  *overlay.Renderer
	detector  client.Detector
	segmenter client.Segmenter
	logger    logrus.FieldLogger
}

// Option configures an ImageDetector
type Option func(*ImageDetector)

// WithDetector sets the object detection backend
func WithDetector(d client.Detector) Option {
	return func(id *ImageDetector) { id.detector = d }
}

// WithSegmenter sets the background segmentation backend
func WithSegmenter(s client.Segmenter) Option {
	return func(id *ImageDetector) { id.segmenter = s }
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(id *ImageDetector) {
		if l != nil {
			id.logger = l
		}
	}
}

// WithRasterizer replaces the default decoder
func WithRasterizer(r *raster.Rasterizer) Option {
	return func(id *ImageDetector) {
		if r != nil {
			id.raster = r
		}
	}
}

// New creates an ImageDetector with default configuration
func New(opts ...Option) *ImageDetector {
	return NewWithConfig(DefaultConfig(), opts...)
}

// NewWithConfig creates an ImageDetector with custom configuration
func NewWithConfig(cfg Config, opts ...Option) *ImageDetector {
	if cfg.InferenceQuality <= 0 || cfg.InferenceQuality > 100 {
		cfg.InferenceQuality = DefaultConfig().InferenceQuality
	}

	id := &ImageDetector{
		config:   cfg,
		raster:   raster.New(),
		scaler:   scaler.New(cfg.MaxDimension),
		renderer: overlay.NewWithConfig(cfg.Overlay),
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(id)
	}
	return id
}

// Config returns the pipeline configuration
func (id *ImageDetector) Config() Config {
	return id.config
}

// DetectionResult is one committed detection run
type DetectionResult struct {
	RunID        string                 `json:"run_id"`
	Canvas       *image.NRGBA           `json:"-"`
	Resized      bool                   `json:"resized"`
	SourceWidth  int                    `json:"source_width"`
	SourceHeight int                    `json:"source_height"`
	Objects      []types.DetectedObject `json:"objects"`
}

// Width returns the canvas width
func (r *DetectionResult) Width() int { return r.Canvas.Bounds().Dx() }

// Height returns the canvas height
func (r *DetectionResult) Height() int { return r.Canvas.Bounds().Dy() }

// Mapped returns the objects in canvas pixel space
func (r *DetectionResult) Mapped() []coords.Mapped {
	return coords.MapObjects(r.Objects, r.Width(), r.Height())
}

// Decode decodes encoded image bytes
func (id *ImageDetector) Decode(data []byte) (*image.NRGBA, error) {
	return id.raster.Decode(data)
}

// Load loads an image from a file path or an http(s) URL
func (id *ImageDetector) Load(ctx context.Context, source string) (*image.NRGBA, error) {
	return id.raster.LoadSmart(ctx, source)
}

// Detect scales src, runs the detector on the scaled canvas and returns the
// post-processed objects normalized to that canvas.
func (id *ImageDetector) Detect(ctx context.Context, src *image.NRGBA) (*DetectionResult, error) {
	if id.detector == nil {
		return nil, types.Errorf(types.KindInference, "detect", "no detector configured")
	}

	runID := uuid.NewString()
	log := id.logger.WithFields(logrus.Fields{"run_id": runID, "op": "detect"})
	start := time.Now()

	scaled, encoded, err := id.prepare(src)
	if err != nil {
		return nil, err
	}

	raw, err := id.detector.Detect(ctx, encoded)
	if err != nil {
		log.WithError(err).Warn("detector failed")
		return nil, classify(types.KindInference, "detect", err)
	}

	objects := coords.Normalize(raw, scaled.Width(), scaled.Height(), id.config.Convention)
	objects = detection.Postprocess(objects, id.config.Postprocess)

	log.WithFields(logrus.Fields{
		"raw":      len(raw),
		"kept":     len(objects),
		"resized":  scaled.Resized,
		"canvas":   fmt.Sprintf("%dx%d", scaled.Width(), scaled.Height()),
		"duration": time.Since(start).String(),
	}).Info("detection finished")

	return &DetectionResult{
		RunID:        runID,
		Canvas:       scaled.Canvas,
		Resized:      scaled.Resized,
		SourceWidth:  scaled.SourceWidth,
		SourceHeight: scaled.SourceHeight,
		Objects:      objects,
	}, nil
}

// Render draws objects on a copy of base. Objects are normalized boxes and
// are mapped onto base's own dimensions.
func (id *ImageDetector) Render(base image.Image, objects []types.DetectedObject, visible bool) (*image.NRGBA, error) {
	b := base.Bounds()
	return id.renderer.Render(base, coords.MapObjects(objects, b.Dx(), b.Dy()), visible)
}

// RemoveBackground scales src, asks the segmenter for a background mask and
// returns the cutout. With FullResolutionCutout the mask is applied to src
// itself instead of the scaled canvas.
func (id *ImageDetector) RemoveBackground(ctx context.Context, src *image.NRGBA) (*image.NRGBA, error) {
	if id.segmenter == nil {
		return nil, types.Errorf(types.KindInference, "remove background", "no segmenter configured")
	}

	log := id.logger.WithFields(logrus.Fields{"run_id": uuid.NewString(), "op": "remove_background"})
	start := time.Now()

	scaled, encoded, err := id.prepare(src)
	if err != nil {
		return nil, err
	}

	m, err := id.segmenter.Segment(ctx, encoded)
	if err != nil {
		log.WithError(err).Warn("segmenter failed")
		return nil, classify(types.KindInference, "remove background", err)
	}

	var cutout *image.NRGBA
	if id.config.FullResolutionCutout {
		cutout, err = mask.CompositeFullResolution(src, m)
	} else {
		cutout, err = mask.Composite(scaled.Canvas, m)
	}
	if err != nil {
		log.WithError(err).Warn("mask rejected")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"coverage": fmt.Sprintf("%.2f", mask.Coverage(m)),
		"size":     fmt.Sprintf("%dx%d", cutout.Bounds().Dx(), cutout.Bounds().Dy()),
		"duration": time.Since(start).String(),
	}).Info("background removed")
	return cutout, nil
}

// prepare scales src and encodes the canvas for an inference service
func (id *ImageDetector) prepare(src *image.NRGBA) (scaler.Result, types.EncodedImage, error) {
	if src == nil || src.Bounds().Empty() {
		return scaler.Result{}, types.EncodedImage{}, types.Errorf(types.KindDecode, "prepare", "no image")
	}

	scaled := id.scaler.Scale(src)
	data, err := export.Encode(scaled.Canvas, export.JPEG(id.config.InferenceQuality))
	if err != nil {
		return scaler.Result{}, types.EncodedImage{}, err
	}
	return scaled, types.EncodedImage{
		Data:   data,
		Format: export.FormatJPEG,
		Width:  scaled.Width(),
		Height: scaled.Height(),
	}, nil
}

// classify keeps an existing error kind and assigns kind otherwise
func classify(kind types.Kind, op string, err error) error {
	if types.KindOf(err) != types.KindUnknown {
		return err
	}
	return types.NewError(kind, op, err)
}

// Summary is one entry of the detected objects list
type Summary struct {
	Label   string `json:"label"`
	Percent int    `json:"percent"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%s: %d%%", s.Label, s.Percent)
}

// Summaries lists detected objects in detector order
func Summaries(objects []types.DetectedObject) []Summary {
	out := make([]Summary, len(objects))
	for i, o := range objects {
		out[i] = Summary{Label: o.Label, Percent: o.Percent()}
	}
	return out
}

// SummaryMessage returns NoObjectsMessage for an empty result and a short
// count otherwise.
func SummaryMessage(objects []types.DetectedObject) string {
	switch len(objects) {
	case 0:
		return NoObjectsMessage
	case 1:
		return "1 object detected."
	default:
		return fmt.Sprintf("%d objects detected.", len(objects))
	}
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
