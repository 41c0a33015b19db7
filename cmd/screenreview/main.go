package main

import (
	"fmt"
	"os"

	"github.com/petems/screenreview/internal/cli"
	"github.com/petems/screenreview/internal/config"
	"github.com/petems/screenreview/internal/logging"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	// Load config from XDG/Library/AppData
	cfg, err := config.Load()
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)
	log.Info().Str("version", Version).Msg("screenreview starting")

	deps := &cli.Dependencies{
		Config:     cfg,
		ConfigPath: config.Path(),
		Logger:     log,
		Version:    Version,
		Commit:     Commit,
	}
	if err := cli.NewRootCmd(deps).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %s\n", err)
		os.Exit(1)
	}
}
