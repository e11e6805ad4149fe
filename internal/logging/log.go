// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging wires the process-wide slog.Logger used by every
// component of sirimitm, rendered through tint for readable console output.
package logging

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/sirimitm/sirimitm/internal/config"
)

// Setup builds a slog.Logger for the given level and installs it as the
// process default, returning it for callers that want an explicit handle.
func Setup(level config.LogLevel) *slog.Logger {
	var logger *slog.Logger
	switch level {
	case config.LogLevelDebug:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug}))
	case config.LogLevelInfo:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	case config.LogLevelWarn:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn}))
	case config.LogLevelError:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelError}))
	default:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	}
	slog.SetDefault(logger)
	return logger
}
