package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"", LevelInfo},
		{"warning", LevelWarn},
		{" error ", LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestInitWriterAndLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer InitWriter(nil)
	defer SetLevel(LevelDebug)

	SetLevel(LevelInfo)
	Debug("hidden %d", 1)
	Info("shown %d", 2)
	Error("failed: %s", "boom")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written below level: %q", out)
	}
	if !strings.Contains(out, "[INFO] shown 2") {
		t.Errorf("missing info line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] failed: boom") {
		t.Errorf("missing error line: %q", out)
	}
}

func TestSilentUntilInitialized(t *testing.T) {
	InitWriter(nil)
	Info("nowhere")
	if GetWriter() == nil {
		t.Error("GetWriter() should never be nil")
	}
}

func TestInitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	Warn("disk %s", "low")
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[WARN] disk low") {
		t.Errorf("log file = %q", data)
	}
}

func TestInitBadPath(t *testing.T) {
	if err := Init(filepath.Join(t.TempDir(), "missing", "x.log")); err == nil {
		t.Error("expected error for missing directory")
	}
}
