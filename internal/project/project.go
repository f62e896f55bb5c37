// Package project opens an encoding project directory, discovers its episodes,
// prepares each episode folder and generates the per-episode task set.
package project

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gofrs/flock"

	"github.com/aristath/bdencode/internal/pipeline"
)

// LockName is the lock file under the project state dir.
const LockName = "project.lock"

// ErrLocked is returned when another bdencode process holds the project.
var ErrLocked = errors.New("project is locked by another bdencode process")

// Default discovery patterns. The video pattern is matched at the start of
// a file name, ignoring case; subtitle and chapter patterns may match
// anywhere in it.
const (
	DefaultVideoPattern    = `[0-9][0-9]\.(m2ts|mkv)`
	DefaultSubtitlePattern = `.*\[[0-9][0-9]\].*\.ass`
	DefaultChapterPattern  = `\ [0-9][0-9]\ \.txt`
)

// Options configures discovery and setup.
type Options struct {
	VideoPattern    string
	SubtitlePattern string
	ChapterPattern  string
	// MoveSources moves raw videos into episode folders instead of copying.
	MoveSources bool
	Logger      *slog.Logger
}

// Project is an opened, locked project root.
type Project struct {
	layout pipeline.Layout
	lock   *flock.Flock
	logger *slog.Logger
	move   bool

	video    *regexp.Regexp
	subtitle *regexp.Regexp
	chapter  *regexp.Regexp
}

// Open locks the project at root. Only one process may hold a project, since
// two schedulers would race on the same output files.
func Open(root string, opts Options) (*Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("opening project: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("opening project: %s is not a directory", abs)
	}

	p := &Project{
		layout: pipeline.Layout{Root: abs},
		logger: opts.Logger,
		move:   opts.MoveSources,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}

	if p.video, err = compile("video", opts.VideoPattern, DefaultVideoPattern, "^(?i:%s)"); err != nil {
		return nil, err
	}
	if p.subtitle, err = compile("subtitle", opts.SubtitlePattern, DefaultSubtitlePattern, "%s"); err != nil {
		return nil, err
	}
	if p.chapter, err = compile("chapter", opts.ChapterPattern, DefaultChapterPattern, "%s"); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.layout.StateDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	p.lock = flock.New(filepath.Join(p.layout.StateDir(), LockName))
	ok, err := p.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, abs)
	}
	return p, nil
}

// compile wraps pattern (or fallback when empty) in form before compiling.
func compile(name, pattern, fallback, form string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = fallback
	}
	re, err := regexp.Compile(fmt.Sprintf(form, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid %s pattern %q: %w", name, pattern, err)
	}
	return re, nil
}

// Close releases the project lock.
func (p *Project) Close() error {
	if err := p.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Root returns the absolute project root.
func (p *Project) Root() string { return p.layout.Root }

// Layout returns the project's path layout.
func (p *Project) Layout() pipeline.Layout { return p.layout }

// Validate checks the folders and template episode generation needs.
func (p *Project) Validate() error {
	var errs []error
	for _, name := range pipeline.RequiredDirs {
		path := filepath.Join(p.layout.Root, name)
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			errs = append(errs, fmt.Errorf("missing folder %s", name))
		}
	}
	if info, err := os.Stat(p.layout.TemplatePath()); err != nil || info.IsDir() {
		errs = append(errs, fmt.Errorf("missing %s", pipeline.TemplateName))
	}
	if len(errs) > 0 {
		return fmt.Errorf("project %s is incomplete: %w", p.layout.Root, errors.Join(errs...))
	}
	return nil
}
