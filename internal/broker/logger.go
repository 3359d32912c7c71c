// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package broker

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/tomtom215/tidings/internal/logging"
)

// NewLogger returns a Watermill logger that writes through the global
// zerolog logger. Watermill logs every subscription and handler start at
// Info, so those are demoted to Debug.
func NewLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLoggerWithLevelMapping(
		logging.NewSlogLogger().With("component", "watermill"),
		map[slog.Level]slog.Level{
			slog.LevelInfo: slog.LevelDebug,
		},
	)
}
