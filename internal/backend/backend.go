// Package backend builds the detection and segmentation clients named in
// the configuration.
package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/image-detector/internal/config"
	"github.com/menta2k/image-detector/pkg/client"
	"github.com/menta2k/image-detector/pkg/detection"
	"github.com/menta2k/image-detector/pkg/inference"
	"github.com/menta2k/image-detector/pkg/llamacpp"
	"github.com/menta2k/image-detector/pkg/ollama"
	"github.com/menta2k/image-detector/pkg/vision"
)

// Backend kinds
const (
	KindHTTP     = "http"
	KindOllama   = "ollama"
	KindLlamaCpp = "llamacpp"
	KindSaliency = "saliency"
)

// Default server addresses per kind
var defaultURLs = map[string]string{
	KindHTTP:     "http://localhost:8000",
	KindOllama:   "http://localhost:11434",
	KindLlamaCpp: "http://localhost:8080",
}

// Set is the configured backend
type Set struct {
	Detector  client.Detector
	Segmenter client.Segmenter // nil when no segmentation service is configured
	health    []func(ctx context.Context) error
}

// CheckHealth checks every HTTP service the set talks to
func (s *Set) CheckHealth(ctx context.Context) error {
	for _, check := range s.health {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// DefaultURL returns the default server address for kind
func DefaultURL(kind string) string {
	return defaultURLs[kind]
}

// Build creates the clients for cfg
func Build(cfg config.BackendConfig, logger logrus.FieldLogger) (*Set, error) {
	url := cfg.URL
	if url == "" {
		url = DefaultURL(cfg.Kind)
	}

	set := &Set{}
	switch cfg.Kind {
	case KindHTTP:
		svc := newInference(url, cfg, logger)
		set.Detector = svc
		set.Segmenter = svc
		set.health = append(set.health, svc.CheckHealth)
	case KindOllama:
		c, err := ollama.NewClientWithHTTP(url, &http.Client{Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		set.Detector = visionDetector(c, cfg, logger)
	case KindLlamaCpp:
		c, err := llamacpp.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		set.Detector = visionDetector(c, cfg, logger)
	case KindSaliency:
		set.Detector = vision.New()
	default:
		return nil, fmt.Errorf("unknown backend: %s (use http, ollama, llamacpp or saliency)", cfg.Kind)
	}

	if cfg.SegmentURL != "" && cfg.Kind != KindHTTP {
		svc := newInference(cfg.SegmentURL, cfg, logger)
		set.Segmenter = svc
		set.health = append(set.health, svc.CheckHealth)
	}
	return set, nil
}

func newInference(url string, cfg config.BackendConfig, logger logrus.FieldLogger) *inference.Client {
	icfg := inference.DefaultConfig()
	icfg.BaseURL = url
	if cfg.Timeout > 0 {
		icfg.Timeout = cfg.Timeout
	}
	return inference.NewClientWithConfig(icfg).WithLogger(logger)
}

func visionDetector(c client.VisionClient, cfg config.BackendConfig, logger logrus.FieldLogger) *detection.VisionDetector {
	return detection.NewVisionDetector(c, cfg.Model).WithPrompt(cfg.Prompt).WithLogger(logger)
}
