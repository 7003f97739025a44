// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates the standard daemon logger: a JSON handler on
// stderr at Info level. It also becomes the slog default so library
// code calling slog.Info lands in the same stream.
func NewLogger() *slog.Logger {
	return NewLoggerTo(os.Stderr, slog.LevelInfo)
}

// NewLoggerTo is NewLogger with an explicit writer and level.
func NewLoggerTo(writer io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}
