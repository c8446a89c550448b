// Package logging configures slog from the PATUI_LOG environment
// conventions shared by the harness and its plugins.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Setup builds a logger honouring the environment: PATUI_LOG selects the
// level (unset disables logging entirely), PATUI_LOG_FILE names the target
// file with ${timestamp} and ${datetime} substituted from the process start
// time. The returned closer flushes and releases the file.
func Setup(component string) (*slog.Logger, func(), error) {
	levelText := os.Getenv("PATUI_LOG")
	if levelText == "" {
		return slog.New(slog.DiscardHandler), func() {}, nil
	}

	now := time.Now()
	path := os.Getenv("PATUI_LOG_FILE")
	if path == "" {
		path = "patui-log-${datetime}.log"
	}
	path = strings.ReplaceAll(path, "${timestamp}", strconv.FormatInt(now.Unix(), 10))
	path = strings.ReplaceAll(path, "${datetime}", now.Format("20060102150405"))

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create log file: %w", err)
	}

	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: parseLevel(levelText)})
	logger := slog.New(handler).With("component", component)
	return logger, func() { f.Close() }, nil
}

// parseLevel maps the PATUI_LOG spellings onto slog levels; trace is the
// finest and maps to debug.
func parseLevel(text string) slog.Level {
	switch strings.ToLower(text) {
	case "trace", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
