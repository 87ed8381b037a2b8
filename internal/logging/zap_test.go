package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_VerboseWritesDebug(t *testing.T) {
	out := filepath.Join(t.TempDir(), "log.json")
	logger, err := New(Config{Level: "warn", Verbose: true, Outputs: []string{out}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Debug("replaying window")
	_ = logger.Sync()

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"replaying window"`) {
		t.Fatalf("expected debug line in json output, got %q", data)
	}
	if !strings.Contains(string(data), `"ts":`) {
		t.Fatalf("expected ts key, got %q", data)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	out := filepath.Join(t.TempDir(), "log.txt")
	logger, err := New(Config{Level: "WARN", Format: "console", Outputs: []string{out}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()

	data, _ := os.ReadFile(out)
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "shown") {
		t.Fatalf("unexpected output %q", data)
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}
