package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/meross-go/config"
)

func TestNewWithWriterEmitsDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "1.2.3", &buf)

	logger.Info("hello", "answer", 42)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if record["service"] != "meross" {
		t.Errorf("service = %v, want meross", record["service"])
	}
	if record["version"] != "1.2.3" {
		t.Errorf("version = %v, want 1.2.3", record["version"])
	}
	if record["msg"] != "hello" || record["answer"] != float64(42) {
		t.Errorf("record = %v", record)
	}
}

func TestNewWithWriterFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "json"}, "dev", &buf)

	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("info record emitted at warn level: %s", buf.String())
	}

	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Error("warn record missing at warn level")
	}
}

func TestNewWithWriterTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "debug", Format: "text"}, "dev", &buf)

	logger.Debug("started")
	if !strings.Contains(buf.String(), "msg=started") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", &buf)

	child := logger.With("component", "api")
	if child == logger {
		t.Fatal("With must return a new logger")
	}
	child.Info("listening")
	if !strings.Contains(buf.String(), `"component":"api"`) {
		t.Errorf("child record = %q", buf.String())
	}
}
