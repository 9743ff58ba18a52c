package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	imagedetector "github.com/menta2k/image-detector"
	"github.com/menta2k/image-detector/internal/backend"
	"github.com/menta2k/image-detector/internal/config"
	"github.com/menta2k/image-detector/internal/logging"
	"github.com/menta2k/image-detector/internal/server"
	"github.com/menta2k/image-detector/pkg/raster"
)

func main() {
	configPath := flag.String("config", config.GetConfigPath(), "JSON config file, ignored when missing")
	envFile := flag.String("env", "", ".env file with IMAGE_DETECTOR_* overrides (default .env when present)")
	port := flag.Int("port", 0, "listen port (overrides config)")
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(*configPath, envFiles...)
	if err != nil {
		log.Fatal(err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger := logging.New(cfg.LogOptions())

	set, err := backend.Build(cfg.Backend, logger)
	if err != nil {
		logger.Fatal(err)
	}

	pipeline := imagedetector.NewWithConfig(cfg.PipelineOptions(),
		imagedetector.WithDetector(set.Detector),
		imagedetector.WithSegmenter(set.Segmenter),
		imagedetector.WithLogger(logger),
		imagedetector.WithRasterizer(raster.NewWithConfig(raster.Config{
			MaxBytes:        cfg.Pipeline.MaxUploadBytes,
			AutoOrientation: true,
		})),
	)

	srv, err := server.NewServer(
		server.WithFiber(server.NewFiber(cfg.Server)),
		server.WithLogger(logger),
		server.WithValidator(config.NewValidator()),
		server.WithPipeline(pipeline),
		server.WithHealthChecker(set),
		server.WithConfig(cfg),
	)
	if err != nil {
		logger.Fatal(err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Run(); err != nil {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	logger.WithField("backend", cfg.Backend.Kind).Infof("Server started on port %d", cfg.Server.Port)

	<-sigChan
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown failed")
	}
}
