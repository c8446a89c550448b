package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupDisabledWithoutEnv(t *testing.T) {
	t.Setenv("PATUI_LOG", "")
	logger, closer, err := Setup("test")
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	logger.Info("dropped on the floor")
}

func TestSetupSubstitutesTokens(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PATUI_LOG", "trace")
	t.Setenv("PATUI_LOG_FILE", filepath.Join(dir, "p-${datetime}.log"))

	logger, closer, err := Setup("test")
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hello")
	closer()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("want one log file, got %d", len(entries))
	}
	name := entries[0].Name()
	if strings.Contains(name, "${datetime}") {
		t.Errorf("token not substituted: %q", name)
	}
	content, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "hello") {
		t.Errorf("log entry missing from %q", content)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"trace":    slog.LevelDebug,
		"DEBUG":    slog.LevelDebug,
		"info":     slog.LevelInfo,
		"warn":     slog.LevelWarn,
		"error":    slog.LevelError,
		"nonsense": slog.LevelInfo,
	}
	for text, want := range cases {
		if got := parseLevel(text); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", text, got, want)
		}
	}
}
