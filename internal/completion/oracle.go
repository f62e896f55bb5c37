// Package completion decides from filesystem evidence whether a task's
// output already exists, so an interrupted project resumes where it stopped.
package completion

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/aristath/bdencode/internal/pipeline"
)

// Subject is what the oracle needs to know about a task.
type Subject interface {
	Episode() string
	Kind() pipeline.Kind
	Stopped() bool
}

// Oracle inspects a project tree. It has no side effects.
type Oracle struct {
	layout pipeline.Layout
	logger *slog.Logger
}

// New creates an oracle rooted at layout.
func New(layout pipeline.Layout, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{layout: layout, logger: logger}
}

// IsCompleted reports whether every evidence path for the subject's kind
// exists. A stopped subject is never complete. I/O errors other than
// not-exist are logged and count as not complete.
func (o *Oracle) IsCompleted(s Subject) bool {
	if s.Stopped() {
		return false
	}
	return o.HasEvidence(s.Episode(), s.Kind())
}

// HasEvidence is IsCompleted without the stopped check.
func (o *Oracle) HasEvidence(episode string, kind pipeline.Kind) bool {
	d, ok := pipeline.Describe(kind)
	if !ok || d.Evidence == nil {
		return false
	}

	for _, path := range d.Evidence(o.layout, episode) {
		_, err := os.Stat(path)
		if err == nil {
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			o.logger.Warn("completion check failed",
				"episode", episode,
				"kind", string(kind),
				"path", path,
				"error", err,
			)
		}
		return false
	}
	return true
}
