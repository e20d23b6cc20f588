package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ensemblelung/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) failed: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "json", slog.LevelInfo)
	log.Debug("hidden")
	log.Info("login succeeded", "path", "/login")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "login succeeded" || rec["path"] != "/login" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	log, err := New(config.LogConfig{Level: "info", Format: "text", File: path})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	log.Warn("metrics unavailable", "status", 500)
	if err := log.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "level=WARN") || !strings.Contains(string(data), "status=500") {
		t.Fatalf("unexpected log content %q", data)
	}
}
