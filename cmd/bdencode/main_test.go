package main

import (
	"bytes"
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/aristath/bdencode/internal/persistence"
	"github.com/aristath/bdencode/internal/pipeline"
)

func runCLI(t *testing.T, root string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--root", root, "--config", filepath.Join(t.TempDir(), "global.json")}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func write(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
}

// newProject lays out a one-episode project with stub ffmpeg and flaldf
// binaries first on PATH.
func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range pipeline.RequiredDirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	write(t, filepath.Join(root, pipeline.TemplateName), "file_path = \"\"\n", 0o644)
	write(t, filepath.Join(root, "raw_video", "01.mkv"), "video", 0o644)
	write(t, filepath.Join(root, "subtitles", "Show [01].chs_jpn.ass"), "chs", 0o644)
	write(t, filepath.Join(root, "subtitles", "Show [01].cht_jpn.ass"), "cht", 0o644)
	write(t, filepath.Join(root, "chapters", "Show 01 .txt"), "CHAPTER01=00:00:00.000", 0o644)

	bin := t.TempDir()
	for _, name := range []string{"ffmpeg", "flaldf"} {
		write(t, filepath.Join(bin, name), "#!/bin/sh\necho \"$0 $*\"\n", 0o755)
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	t.Setenv("BDENCODE_POLL_INTERVAL", "10ms")
	t.Setenv("BDENCODE_ORPHAN_GRACE", "200ms")
	return root
}

func TestCLIPipelineCommands(t *testing.T) {
	root := newProject(t)

	out, _, err := runCLI(t, root, "generate")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out, "E01") {
		t.Fatalf("generate output:\n%s", out)
	}

	out, _, err = runCLI(t, root, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"E01:audio", "E01:merge", "pending", "completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	_, _, err = runCLI(t, root, "start", "E01", "merge")
	if err == nil || !strings.Contains(err.Error(), "prerequisites not met") {
		t.Fatalf("start merge: expected prerequisite refusal, got %v", err)
	}

	out, _, err = runCLI(t, root, "start", "1", "audio")
	if err != nil {
		t.Fatalf("start audio: %v", err)
	}
	if !strings.Contains(out, "ffmpeg") || !strings.Contains(out, "E01:audio completed") {
		t.Fatalf("start output:\n%s", out)
	}

	out, _, err = runCLI(t, root, "status", "--episode", "E01")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "completed") {
		t.Fatalf("audio should show completed:\n%s", out)
	}

	out, _, err = runCLI(t, root, "history", "--kind", "audio")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "E01:audio") {
		t.Fatalf("history output:\n%s", out)
	}

	store, err := persistence.NewSQLiteStore(context.Background(), filepath.Join(root, pipeline.StateDirName, persistence.DefaultFileName))
	if err != nil {
		t.Fatal(err)
	}
	runs, err := store.ListRuns(context.Background(), persistence.RunFilter{Kind: "audio"})
	store.Close()
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one audio run, got %v (%v)", runs, err)
	}

	out, _, err = runCLI(t, root, "history", "show", runs[0].ID)
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	if !strings.Contains(out, "Status:   completed") || !strings.Contains(out, "flaldf") {
		t.Fatalf("history show output:\n%s", out)
	}
}

func TestParamsCommands(t *testing.T) {
	root := t.TempDir()

	out, _, err := runCLI(t, root, "params", "set", "--episode", "E03", "--crf", "19", "--preset", "slow")
	if err != nil {
		t.Fatalf("params set: %v", err)
	}
	if !strings.Contains(out, "E03 normal: crf=19 tune=lp preset=slow") {
		t.Fatalf("set output: %q", out)
	}

	out, _, err = runCLI(t, root, "params", "show", "3")
	if err != nil {
		t.Fatalf("params show: %v", err)
	}
	if !strings.Contains(out, "override") || !strings.Contains(out, "19") {
		t.Fatalf("show output:\n%s", out)
	}

	out, _, err = runCLI(t, root, "params", "set", "--set", "hardsub", "--crf", "20")
	if err != nil {
		t.Fatalf("params set global: %v", err)
	}
	if !strings.Contains(out, "global hardsub: crf=20") {
		t.Fatalf("global set output: %q", out)
	}

	if _, _, err := runCLI(t, root, "params", "reset", "--episode", "03"); err != nil {
		t.Fatalf("params reset: %v", err)
	}
	out, _, err = runCLI(t, root, "params", "show")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "E03") {
		t.Fatalf("override should be gone:\n%s", out)
	}

	if _, _, err := runCLI(t, root, "params", "set", "--set", "sideways", "--crf", "1"); err == nil {
		t.Fatal("unknown set should fail")
	}
	if _, _, err := runCLI(t, root, "params", "set"); err == nil {
		t.Fatal("set without changes should fail")
	}
}

func TestDoctorReportsMissingTools(t *testing.T) {
	bin := t.TempDir()
	t.Setenv("PATH", bin)

	out, _, err := runCLI(t, t.TempDir(), "doctor")
	if err == nil || !strings.Contains(err.Error(), "VapourSynth") {
		t.Fatalf("expected missing tools error, got %v", err)
	}
	if !strings.Contains(out, "missing (optional)") {
		t.Fatalf("optional tools should be marked:\n%s", out)
	}

	for _, name := range []string{"vspipe", "x265", "ffmpeg", "flaldf", "assfonts", "mkvmerge"} {
		write(t, filepath.Join(bin, name), "#!/bin/sh\n", 0o755)
	}
	if _, _, err := runCLI(t, t.TempDir(), "doctor"); err != nil {
		t.Fatalf("doctor with every required tool: %v", err)
	}
}

func TestHistoryDisabled(t *testing.T) {
	t.Setenv("BDENCODE_JOURNAL_ENABLED", "false")
	_, _, err := runCLI(t, t.TempDir(), "history")
	if err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("expected disabled journal error, got %v", err)
	}
}

func TestConfigInit(t *testing.T) {
	root := t.TempDir()
	out, _, err := runCLI(t, root, "config", "init")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	path := filepath.Join(root, pipeline.StateDirName, "config.json")
	if !strings.Contains(out, path) {
		t.Fatalf("output %q should name %s", out, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCLI(t, root, "config", "init"); err == nil {
		t.Fatal("second init without --force should fail")
	}
	if _, _, err := runCLI(t, root, "config", "init", "--force"); err != nil {
		t.Fatalf("init --force: %v", err)
	}
}

// TestSignalContextCancellation verifies that signal.NotifyContext produces
// a context that cancels correctly when a signal is received.
func TestSignalContextCancellation(t *testing.T) {
	// Use SIGUSR1 as a safe test signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("Failed to send signal: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Context was not cancelled after signal")
	}
}
