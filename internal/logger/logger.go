// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// New returns a logger writing to w in the given format ("text" or "json").
// Unknown levels log at info; an unknown format panics since the
// configuration layer validates it.
func New(level, format string, w io.Writer) *slog.Logger {
	return slog.New(handlerForFormat(format, parseLogLevel(level), w))
}

// ForTool returns the logger of the command line tools: warnings and
// errors only, in text form
func ForTool(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func handlerForFormat(format string, level slog.Level, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, AddSource: true}
	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "text":
		opts.ReplaceAttr = shortenSource
		return slog.NewTextHandler(w, opts)
	default:
		panic(fmt.Sprintf("invalid format: %s", format))
	}
}

// shortenSource keeps the last two directories of the source file
func shortenSource(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	src, ok := a.Value.Any().(*slog.Source)
	if !ok {
		return a
	}
	parts := strings.Split(filepath.ToSlash(src.File), "/")
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	src.File = filepath.Join(parts...)
	return a
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
