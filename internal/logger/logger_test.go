package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestWriter_Defaults(t *testing.T) {
	if w := (Config{}).Writer(); w != nil {
		t.Fatalf("expected nil writer when no file is set")
	}
	w := Config{File: "x.log"}.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
}

func TestWriter_Overrides(t *testing.T) {
	cfg := Config{File: "x2.log", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}
	l := cfg.Writer().(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
}

func TestNew_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "kvlet.log")
	lg, closer, err := New(Config{Level: LevelDebug, File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lg.Debug("dispatching", "id", "job-1")
	lg.With("component", "test").Info("written")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "id=job-1") || !strings.Contains(s, "component=test") {
		t.Fatalf("unexpected log content: %s", s)
	}
}

func TestNew_JSONAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvlet.log")
	lg, closer, err := New(Config{Level: LevelWarn, Format: FormatJSON, File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lg.Info("dropped")
	lg.Warn("kept", "id", "k")
	_ = closer.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %d: %q", len(lines), b)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if m["msg"] != "kept" || m["id"] != "k" {
		t.Fatalf("unexpected record: %v", m)
	}
}

func TestNew_NoSinks(t *testing.T) {
	lg, closer, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lg.Info("nowhere")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNew_InvalidValues(t *testing.T) {
	if _, _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, _, err := New(Config{Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	lg := slog.New(h).With("id", "k")
	lg.Warn("careful")
	out := buf.String()
	// the text handler quotes control characters in the message
	if !strings.Contains(out, `\x1b[33mWARN\x1b[0m`) {
		t.Fatalf("missing color code: %q", out)
	}
	if !strings.Contains(out, "id=k") {
		t.Fatalf("WithAttrs lost: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be dropped: %q", out)
	}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("debug should be enabled")
	}
}
