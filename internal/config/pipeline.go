package config

import (
	imagedetector "github.com/menta2k/image-detector"
	"github.com/menta2k/image-detector/internal/logging"
	"github.com/menta2k/image-detector/pkg/coords"
	"github.com/menta2k/image-detector/pkg/detection"
	"github.com/menta2k/image-detector/pkg/overlay"
)

// PipelineOptions converts the file settings into pipeline parameters
func (c *Config) PipelineOptions() imagedetector.Config {
	ov := overlay.DefaultConfig()
	ov.FontSize = c.Overlay.FontSize
	ov.StrokeWidth = c.Overlay.StrokeWidth
	ov.Padding = c.Overlay.Padding

	return imagedetector.Config{
		MaxDimension:     c.Pipeline.MaxDimension,
		InferenceQuality: c.Pipeline.InferenceQuality,
		Convention:       coords.ParseConvention(c.Pipeline.Convention),
		Postprocess: detection.Options{
			MinScore:   c.Pipeline.ScoreThreshold,
			IoU:        c.Pipeline.IoUThreshold,
			MaxObjects: c.Pipeline.MaxObjects,
		},
		FullResolutionCutout: c.Pipeline.FullResolutionCutout,
		Overlay:              ov,
	}
}

// LogOptions converts the log settings into logger options
func (c *Config) LogOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, Dir: c.Log.Dir}
}
