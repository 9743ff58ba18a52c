package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	imagedetector "github.com/menta2k/image-detector"
	"github.com/menta2k/image-detector/internal/backend"
	"github.com/menta2k/image-detector/internal/config"
	"github.com/menta2k/image-detector/internal/logging"
	"github.com/menta2k/image-detector/internal/utils"
	"github.com/menta2k/image-detector/pkg/export"
	"github.com/menta2k/image-detector/pkg/raster"
	"github.com/menta2k/image-detector/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type options struct {
	in         string
	outDir     string
	configPath string
	envFile    string
	backend    string
	url        string
	segmentURL string
	model      string
	mode       string
	format     string
	noOverlay  bool
	fullRes    bool
	writeJSON  bool
	timeout    time.Duration
	debug      bool
}

// report is written next to the exported images when -json is set
type report struct {
	File      string                  `json:"file"`
	RunID     string                  `json:"run_id,omitempty"`
	Width     int                     `json:"width"`
	Height    int                     `json:"height"`
	Resized   bool                    `json:"resized"`
	Objects   []types.DetectedObject  `json:"objects"`
	Summaries []imagedetector.Summary `json:"summaries"`
	Message   string                  `json:"message"`
}

func main() {
	var o options

	flag.StringVar(&o.in, "in", "", "input image path or URL (jpg/png/webp/gif/bmp/tiff)")
	flag.StringVar(&o.outDir, "out", "", "output directory (default from config: ./output)")
	flag.StringVar(&o.configPath, "config", config.GetConfigPath(), "JSON config file, ignored when missing")
	flag.StringVar(&o.envFile, "env", "", ".env file with IMAGE_DETECTOR_* overrides")
	flag.StringVar(&o.backend, "backend", "", "backend to use: http|ollama|llamacpp|saliency")
	flag.StringVar(&o.url, "url", "", "backend server URL (defaults: http=:8000, ollama=:11434, llamacpp=:8080)")
	flag.StringVar(&o.segmentURL, "segment-url", "", "segmentation service URL for non-http backends")
	flag.StringVar(&o.model, "model", "", "vision model name for ollama/llamacpp")
	flag.StringVar(&o.mode, "mode", "detect", "what to produce: detect|background|both")
	flag.StringVar(&o.format, "format", "", "cutout format: png|webp")
	flag.BoolVar(&o.noOverlay, "no-overlay", false, "export the processed image without boxes")
	flag.BoolVar(&o.fullRes, "full-res", false, "apply background masks at the original resolution")
	flag.BoolVar(&o.writeJSON, "json", false, "write detection results as JSON")
	flag.DurationVar(&o.timeout, "timeout", 0, "per-image timeout, 0 disables")
	flag.BoolVar(&o.debug, "debug", false, "debug logging")

	flag.Parse()
	if o.in == "" {
		log.Fatalf("usage: %s -in input.jpg|URL [-backend http|ollama|llamacpp|saliency] [-url server_url] [-mode detect|background|both] [-out outdir]", filepath.Base(os.Args[0]))
	}

	switch o.mode {
	case "detect", "background", "both":
	default:
		log.Fatalf("unknown mode: %s (use detect, background or both)", o.mode)
	}

	var envFiles []string
	if o.envFile != "" {
		envFiles = append(envFiles, o.envFile)
	}
	cfg, err := config.Load(o.configPath, envFiles...)
	if err != nil {
		log.Fatal(err)
	}
	applyFlags(cfg, o)
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logger := logging.New(cfg.LogOptions())

	set, err := backend.Build(cfg.Backend, logger)
	if err != nil {
		logger.Fatal(err)
	}

	rast := raster.NewWithConfig(raster.Config{
		MaxBytes:        cfg.Pipeline.MaxUploadBytes,
		AutoOrientation: true,
		URLTimeout:      30 * time.Second,
	})
	pipeline := imagedetector.NewWithConfig(cfg.PipelineOptions(),
		imagedetector.WithDetector(set.Detector),
		imagedetector.WithSegmenter(set.Segmenter),
		imagedetector.WithLogger(logger),
		imagedetector.WithRasterizer(rast),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if utils.FileExists(cfg.Output.OutputDir) {
		logger.Fatalf("output path %s is a file", cfg.Output.OutputDir)
	}
	sink := export.NewDirSink(cfg.Output.OutputDir)

	err = processInput(ctx, rast, pipeline, sink, logger, cfg, o, o.in)
	stop()
	if err != nil {
		logger.WithField("input", o.in).WithError(err).Error("processing failed")
		os.Exit(1)
	}
}

// applyFlags lets explicitly passed flags win over the config file
func applyFlags(cfg *config.Config, o options) {
	if o.outDir != "" {
		cfg.Output.OutputDir = o.outDir
	}
	if o.backend != "" {
		cfg.Backend.Kind = o.backend
		if o.url == "" {
			cfg.Backend.URL = backend.DefaultURL(o.backend)
		}
	}
	if o.url != "" {
		cfg.Backend.URL = o.url
	}
	if o.segmentURL != "" {
		cfg.Backend.SegmentURL = o.segmentURL
	}
	if o.model != "" {
		cfg.Backend.Model = o.model
	}
	if o.format != "" {
		cfg.Output.Format = export.ParseFormat(o.format)
	}
	if o.fullRes {
		cfg.Pipeline.FullResolutionCutout = true
	}
	if o.debug {
		cfg.Log.Level = logrus.DebugLevel.String()
	}
}

func processInput(ctx context.Context, rast *raster.Rasterizer, pipeline *imagedetector.ImageDetector, sink export.Sink, logger *logrus.Logger, cfg *config.Config, o options, in string) error {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	data, err := rast.ReadSource(ctx, in)
	if err != nil {
		return err
	}

	name := filepath.Base(in)
	session := imagedetector.NewSession(pipeline, imagedetector.NotifierFunc(func(kind types.Kind, msg string) {
		logger.WithFields(logrus.Fields{"input": name, "kind": kind.String()}).Warn(msg)
	}))
	session.Select(name, data)
	session.SetOverlayVisible(!o.noOverlay)

	if o.mode == "detect" || o.mode == "both" {
		result, err := session.Detect(ctx)
		if err != nil {
			return err
		}
		for _, s := range imagedetector.Summaries(result.Objects) {
			logger.Infof("%s: %s", name, s)
		}
		logger.Infof("%s: %s", name, imagedetector.SummaryMessage(result.Objects))

		outName, blob, err := session.ExportDetection()
		if err != nil {
			return err
		}
		if err := save(ctx, sink, logger, outName, blob); err != nil {
			return err
		}

		if o.writeJSON {
			if err := writeReport(ctx, sink, logger, name, result); err != nil {
				return err
			}
		}
	}

	if o.mode == "background" || o.mode == "both" {
		if _, err := session.RemoveBackground(ctx); err != nil {
			return err
		}
		outName, blob, err := exportCutout(session, cfg.Output.Format)
		if err != nil {
			return err
		}
		if err := save(ctx, sink, logger, outName, blob); err != nil {
			return err
		}
	}
	return nil
}

func exportCutout(session *imagedetector.Session, format string) (string, []byte, error) {
	if export.ParseFormat(format) != export.FormatWebP {
		return session.ExportCutout()
	}
	data, err := export.EncodeAlpha(session.Cutout(), export.Options{Format: export.FormatWebP})
	if err != nil {
		return "", nil, err
	}
	return export.WithPrefix(session.Name(), "no_bg_", "webp"), data, nil
}

func writeReport(ctx context.Context, sink export.Sink, logger *logrus.Logger, name string, result *imagedetector.DetectionResult) error {
	rep := report{
		File:      name,
		RunID:     result.RunID,
		Width:     result.Width(),
		Height:    result.Height(),
		Resized:   result.Resized,
		Objects:   result.Objects,
		Summaries: imagedetector.Summaries(result.Objects),
		Message:   imagedetector.SummaryMessage(result.Objects),
	}
	js, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return save(ctx, sink, logger, export.WithPrefix(name, "detected_", "json"), js)
}

func save(ctx context.Context, sink export.Sink, logger *logrus.Logger, name string, data []byte) error {
	if err := sink.Save(ctx, name, data); err != nil {
		return err
	}
	logger.Infof("wrote %s (%s)", name, utils.FormatFileSize(int64(len(data))))
	return nil
}
