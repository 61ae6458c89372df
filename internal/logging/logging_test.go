package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, Config{Format: "json", Level: "info"})).With("split", "split-1")
	VideoLogger(log, "clip_a").Info("frames written", "count", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if rec["split"] != "split-1" || rec["video_id"] != "clip_a" {
		t.Errorf("missing video fields: %v", rec)
	}
	if n := strings.Count(buf.String(), `"split"`); n != 1 {
		t.Errorf("split attribute appears %d times: %s", n, buf.String())
	}
}

func TestNewHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, Config{Format: "text", Level: "warn"}))
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn line should be written")
	}
}

func TestNewHandler_Tint(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, Config{Format: "tint"}))
	log.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("tint output missing message: %q", buf.String())
	}
}

func TestRunID(t *testing.T) {
	ctx := context.Background()
	if RunID(ctx) != "" {
		t.Error("empty context should have no run ID")
	}

	id := NewRunID()
	if len(id) != 36 {
		t.Errorf("unexpected run ID %q", id)
	}
	if got := RunID(WithRunID(ctx, id)); got != id {
		t.Errorf("RunID = %q, want %q", got, id)
	}
}
