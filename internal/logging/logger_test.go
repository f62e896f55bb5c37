package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func boolPtr(b bool) *bool { return &b }

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "info", Writer: &buf, Color: boolPtr(false)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer.Close()

	logger.With("episode", "01").Info("task started", "kind", "video", "command", "vspipe -c y4m", "took", 1500*time.Millisecond)
	logger.Debug("hidden")
	logger.WithGroup("graph").Warn("progress", "done", 3)
	logger.Error("spawn failed", "err", errors.New("no such file"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), buf.String())
	}

	want := []string{
		`INFO  task started episode=01 kind=video command="vspipe -c y4m" took=1.5s`,
		`WARN  progress graph.done=3`,
		`ERROR spawn failed err="no such file"`,
	}
	for i, w := range want {
		// Skip the HH:MM:SS prefix.
		if got := lines[i][9:]; got != w {
			t.Errorf("line %d:\n got: %s\nwant: %s", i, got, w)
		}
	}
}

func TestConsoleColor(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Writer: &buf, Color: boolPtr(true)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Error("boom")
	if !strings.Contains(buf.String(), "\x1b[31m") {
		t.Errorf("expected red level escape, got %q", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("line", "task", "E01:video")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if rec["level"] != "debug" || rec["msg"] != "line" || rec["task"] != "E01:video" {
		t.Errorf("unexpected record %v", rec)
	}
	if _, ok := rec["ts"]; !ok {
		t.Error("expected ts key")
	}
}

func TestFileFanout(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "bdencode.log")

	logger, closer, err := New(Options{Level: "warn", Writer: &buf, File: path, Color: boolPtr(false)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("skipped")
	logger.Warn("kept", "episode", "02")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "skipped") || !strings.Contains(string(data), `"episode":"02"`) {
		t.Errorf("unexpected file content %q", data)
	}
	if !strings.Contains(buf.String(), "kept episode=02") {
		t.Errorf("console copy missing: %q", buf.String())
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug": "DEBUG", "WARN": "WARN", "warning": "WARN",
		"error": "ERROR", "": "INFO", "verbose": "INFO",
	}
	for in, want := range cases {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
