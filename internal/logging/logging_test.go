package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"debug": slog.LevelDebug, "": slog.LevelInfo, "WARN": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %v err %v", in, got, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agent.log")
	logger, closer, err := New("warn", path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("upload failed", "kind", "transport_failure")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if strings.Contains(out, "hidden") || !strings.Contains(out, "kind=transport_failure") {
		t.Fatalf("unexpected log file content %q", out)
	}
}

func TestNewWithWriterLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, slog.LevelDebug)
	l.Debug("probe", "connectivity", "no_internet")
	if !strings.Contains(buf.String(), "connectivity=no_internet") {
		t.Fatalf("debug record missing: %q", buf.String())
	}
}
