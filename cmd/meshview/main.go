// Package main is the entry point for the Midgard VK model viewer.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-vk/internal/app"
	"github.com/Faultbox/midgard-vk/internal/config"
	"github.com/Faultbox/midgard-vk/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse CLI flags first
	config.ParseFlags()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return 1
	}

	// Initialize logger
	err = logger.Setup(logger.Options{
		Level:    cfg.Logging.Level,
		File:     cfg.Logging.LogFile,
		Rotation: logger.DefaultRotation(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()
	log := logger.Named("meshview")

	log.Info("=== Midgard VK Viewer ===")
	log.Debug("config", zap.Any("config", cfg))

	a, err := app.New(cfg)
	if err != nil {
		log.Error("failed to create viewer", zap.Error(err))
		return 1
	}
	defer a.Close()

	if err := a.Run(); err != nil {
		log.Error("viewer error", zap.Error(err))
		return 1
	}

	log.Info("viewer closed normally")
	return 0
}
