// Package providers contains dependency injection providers for the MediaShelf device.
package providers

import (
	"os"

	"github.com/samber/do/v2"

	"github.com/mediashelf/mediashelf/internal/config"
	"github.com/mediashelf/mediashelf/internal/logger"
)

// LoggerHandle wraps the logger so the rotating log file is closed on shutdown.
type LoggerHandle struct {
	*logger.Logger
}

// Shutdown implements do.Shutdownable.
func (h *LoggerHandle) Shutdown() error {
	return h.Close()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*LoggerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)

	// Stdout is reserved for command output.
	log := logger.New(logger.Config{
		Writer:      os.Stderr,
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
		File:        logger.FileConfig{Path: cfg.Logger.File},
	})

	log.Debug("Logger ready",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"store_path", cfg.Store.Path,
		"transport", cfg.Transport.Kind,
	)

	return &LoggerHandle{Logger: log}, nil
}
