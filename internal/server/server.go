// Package server exposes the detection pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	imagedetector "github.com/menta2k/image-detector"
	"github.com/menta2k/image-detector/internal/config"
)

// HealthChecker is implemented by backends that can report readiness
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// ServerOption configures a Server
type ServerOption func(*Server) error

// Server wires the pipeline into a fiber app
type Server struct {
	engine    *fiber.App
	log       *logrus.Logger
	validator *validator.Validate
	pipeline  *imagedetector.ImageDetector
	health    HealthChecker
	limiter   *rateLimiter
	settings  config.ServerConfig
	maxUpload int64
}

// NewFiber creates the fiber app with the JSON codec used across the API
func NewFiber(settings config.ServerConfig) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               "Image Detector",
		BodyLimit:             settings.BodyLimit,
		StrictRouting:         true,
		CaseSensitive:         true,
		EnablePrintRoutes:     settings.PrintRoutes,
		DisableStartupMessage: !settings.PrintRoutes,
		JSONEncoder:           jsoniter.Marshal,
		JSONDecoder:           jsoniter.Unmarshal,
	})
}

// NewServer builds a Server and registers its routes
func NewServer(options ...ServerOption) (*Server, error) {
	def := config.Default()
	server := &Server{
		settings:  def.Server,
		maxUpload: def.Pipeline.MaxUploadBytes,
	}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if server.log == nil {
		return nil, errors.New("logger is required")
	}
	if server.engine == nil {
		server.engine = NewFiber(server.settings)
	}
	if server.validator == nil {
		server.validator = config.NewValidator()
	}
	if server.settings.RateLimit > 0 {
		server.limiter = newRateLimiter(server.settings.RateLimit, server.settings.RateBurst)
	}

	server.registerRoutes()
	return server, nil
}

// WithFiber uses an existing fiber app
func WithFiber(app *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = app
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

// WithValidator sets the request validator
func WithValidator(v *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = v
		return nil
	}
}

// WithPipeline sets the detection pipeline
func WithPipeline(p *imagedetector.ImageDetector) ServerOption {
	return func(s *Server) error {
		s.pipeline = p
		return nil
	}
}

// WithHealthChecker reports backend readiness on /health
func WithHealthChecker(h HealthChecker) ServerOption {
	return func(s *Server) error {
		s.health = h
		return nil
	}
}

// WithConfig applies server and upload settings
func WithConfig(cfg *config.Config) ServerOption {
	return func(s *Server) error {
		if cfg == nil {
			return errors.New("config is nil")
		}
		s.settings = cfg.Server
		s.maxUpload = cfg.Pipeline.MaxUploadBytes
		return nil
	}
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.Use(requestIDMiddleware())
	s.engine.Use(loggingMiddleware(s.log))

	s.engine.Get("/health", s.handleHealth)

	api := s.engine.Group("/api/v1")
	if s.limiter != nil {
		api.Use(s.limiter.middleware(s.log))
	}
	api.Post("/detect", s.handleDetect)
	api.Post("/detect/render", s.handleRender)
	api.Post("/background", s.handleBackground)
}

// Run listens on the configured port until Shutdown is called
func (s *Server) Run() error {
	return s.engine.Listen(fmt.Sprintf(":%d", s.settings.Port))
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	return s.engine.ShutdownWithContext(ctx)
}
