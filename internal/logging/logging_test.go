package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetLevelFromString(t *testing.T) {
	defer SetLevel(slog.LevelInfo)

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
	}
	for _, tt := range tests {
		SetLevelFromString(tt.in)
		if got := logLevel.Level(); got != tt.want {
			t.Errorf("SetLevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	SetLevelFromString("chatty")
	if got := logLevel.Level(); got != slog.LevelError {
		t.Errorf("unknown level changed the level to %v", got)
	}
}

func TestSetOutputText(t *testing.T) {
	defer SetLevel(slog.LevelInfo)
	var buf bytes.Buffer
	restore := SetOutput("text", &buf)
	defer restore()

	SetLevel(slog.LevelInfo)
	Op().Debug("hidden")
	Op().Error("get key -> unauthorized", "key", "p/k", "bucket", "b")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %s", out)
	}
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "key=p/k") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestSetOutputJSON(t *testing.T) {
	defer SetLevel(slog.LevelInfo)
	var buf bytes.Buffer
	restore := SetOutput("json", &buf)
	defer restore()

	SetLevel(slog.LevelDebug)
	Op().Debug("get key -> miss", "key", "k")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if rec["msg"] != "get key -> miss" || rec["key"] != "k" || rec["level"] != "DEBUG" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestRestoreOutput(t *testing.T) {
	before := Op()
	restore := SetOutput("text", &bytes.Buffer{})
	if Op() == before {
		t.Fatal("SetOutput did not swap the logger")
	}
	restore()
	if Op() != before {
		t.Error("restore did not bring back the previous logger")
	}
}
