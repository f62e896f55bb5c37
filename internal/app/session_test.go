package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/bdencode/internal/config"
	"github.com/aristath/bdencode/internal/events"
	"github.com/aristath/bdencode/internal/logging"
	"github.com/aristath/bdencode/internal/persistence"
	"github.com/aristath/bdencode/internal/pipeline"
	"github.com/aristath/bdencode/internal/project"
	"github.com/aristath/bdencode/internal/scheduler"
)

func write(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
}

// newProject lays out a one-episode project and puts stub ffmpeg and flaldf
// binaries first on PATH so the audio task can run.
func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range pipeline.RequiredDirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
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
	return root
}

func openSession(t *testing.T, root string, mutate func(*config.Config)) *Session {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.OrphanGrace = 200 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	s, err := Open(context.Background(), Options{Root: root, Generate: true, Config: cfg, Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenBuildsGraph(t *testing.T) {
	root := newProject(t)
	s := openSession(t, root, nil)

	assert.Equal(t, []string{"01"}, s.Graph().Episodes())
	assert.Equal(t, len(pipeline.Kinds()), s.Graph().Len())
	assert.NotNil(t, s.Journal)

	_, err := project.Open(root, project.Options{})
	assert.ErrorIs(t, err, project.ErrLocked)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close is idempotent")

	again, err := project.Open(root, project.Options{})
	require.NoError(t, err)
	again.Close()
}

func TestOpenFailsOnIncompleteProject(t *testing.T) {
	root := t.TempDir()
	_, err := Open(context.Background(), Options{Root: root, Generate: true, Config: config.DefaultConfig(), Logger: logging.Discard()})
	require.Error(t, err)

	// The lock must have been released on failure.
	p, err := project.Open(root, project.Options{})
	require.NoError(t, err)
	p.Close()
}

func TestOpenMissingRootReturnsError(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	s, err := Open(context.Background(), Options{Root: root, Config: config.DefaultConfig(), Logger: logging.Discard()})
	require.Error(t, err)
	assert.Nil(t, s)
}

func TestSessionRunsAndJournals(t *testing.T) {
	root := newProject(t)
	s := openSession(t, root, nil)

	sub := s.Bus.Subscribe(events.TopicTask, 256)
	s.Start(context.Background())

	require.NoError(t, s.Scheduler.StartTask(context.Background(), "01", pipeline.KindAudio))
	task, err := s.Scheduler.Task("01", pipeline.KindAudio)
	require.NoError(t, err)

	var completed bool
	timeout := time.After(10 * time.Second)
	for !completed {
		select {
		case ev := <-sub:
			if _, ok := ev.(events.TaskCompletedEvent); ok && ev.TaskID() == task.Key().String() {
				completed = true
			}
		case <-timeout:
			t.Fatalf("audio did not complete: status %s, output %v", task.Status(), task.Output())
		}
	}
	assert.Equal(t, scheduler.TaskCompleted, task.Status())

	runs, err := s.Journal.ListRuns(context.Background(), persistence.RunFilter{Episode: "01", Kind: "audio"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, task.RunID(), runs[0].ID)
	assert.Equal(t, 3, runs[0].Lines, "one line per stub invocation")
}

func TestJournalDisabled(t *testing.T) {
	root := newProject(t)
	s := openSession(t, root, func(c *config.Config) { c.Journal.Enabled = false })

	assert.Nil(t, s.Journal)
	_, err := os.Stat(filepath.Join(root, pipeline.StateDirName, persistence.DefaultFileName))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
