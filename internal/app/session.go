// Package app wires a project, its configuration and the scheduling engine
// into one Session shared by the CLI, the API server and the dashboard.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aristath/bdencode/internal/command"
	"github.com/aristath/bdencode/internal/completion"
	"github.com/aristath/bdencode/internal/config"
	"github.com/aristath/bdencode/internal/events"
	"github.com/aristath/bdencode/internal/logging"
	"github.com/aristath/bdencode/internal/params"
	"github.com/aristath/bdencode/internal/persistence"
	"github.com/aristath/bdencode/internal/proc"
	"github.com/aristath/bdencode/internal/project"
	"github.com/aristath/bdencode/internal/scheduler"
)

// ShutdownTimeout bounds how long Close waits for running tasks to stop.
const ShutdownTimeout = 30 * time.Second

// Options configures Open.
type Options struct {
	Root string
	// Generate sets up raw videos before building the graph.
	Generate bool
	// Config skips loading when set.
	Config *config.Config
	// GlobalConfig overrides ~/.bdencode/config.json.
	GlobalConfig string
	// Logger skips logger construction when set.
	Logger *slog.Logger
	// LogWriter is the console destination of a constructed logger.
	LogWriter io.Writer
}

// Session is one opened project with a live scheduler.
type Session struct {
	Config    *config.Config
	Logger    *slog.Logger
	Project   *project.Project
	Params    *params.Store
	Oracle    *completion.Oracle
	Bus       *events.Bus
	Procs     *proc.Manager
	Journal   persistence.Store // nil when disabled
	Scheduler *scheduler.Scheduler

	logCloser io.Closer
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open loads configuration, locks the project and builds the task graph.
// Call Start to begin processing exits and Close to release everything.
func Open(ctx context.Context, opts Options) (*Session, error) {
	s := &Session{logCloser: nopCloser{}}
	opened := false
	defer func() {
		if !opened {
			s.release()
		}
	}()

	var err error

	s.Config = opts.Config
	if s.Config == nil {
		global := opts.GlobalConfig
		if global == "" {
			if global, err = config.GlobalPath(); err != nil {
				return nil, err
			}
		}
		if s.Config, err = config.Load(global, config.ProjectPath(opts.Root)); err != nil {
			return nil, err
		}
	}
	cfg := s.Config

	s.Logger = opts.Logger
	if s.Logger == nil {
		s.Logger, s.logCloser, err = logging.New(logging.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			File:   cfg.Log.File,
			Writer: opts.LogWriter,
		})
		if err != nil {
			return nil, err
		}
	}

	s.Project, err = project.Open(opts.Root, project.Options{
		VideoPattern:    cfg.Patterns.Video,
		SubtitlePattern: cfg.Patterns.Subtitle,
		ChapterPattern:  cfg.Patterns.Chapter,
		MoveSources:     cfg.MoveSources,
		Logger:          s.Logger,
	})
	if err != nil {
		return nil, err
	}
	root := s.Project.Root()

	if opts.Generate {
		episodes, err := s.Project.Generate()
		if err != nil {
			return nil, err
		}
		s.Logger.Info("episodes set up", "count", len(episodes))
	}

	if s.Params, err = params.Open(cfg.ParamsPath(root)); err != nil {
		return nil, err
	}
	builder, err := command.NewBuilder(s.Params, cfg.X265Extra)
	if err != nil {
		return nil, err
	}

	if cfg.Journal.Enabled {
		store, err := persistence.NewSQLiteStore(ctx, cfg.JournalPath(root))
		if err != nil {
			return nil, fmt.Errorf("opening run journal: %w", err)
		}
		s.Journal = persistence.NewGuarded(store, persistence.DefaultBreakerConfig(), s.Logger)
	}

	s.Oracle = completion.New(s.Project.Layout(), s.Logger)
	graph, err := s.Project.Graph(s.Oracle)
	if err != nil {
		return nil, err
	}

	s.Bus = events.NewBus()
	s.Procs = proc.NewManager()
	ctrlCfg := scheduler.ControllerConfig{
		Shell:        cfg.Shell,
		StopGrace:    cfg.StopGrace,
		OrphanGrace:  cfg.OrphanGrace,
		OutputBuffer: cfg.OutputBuffer,
		PollInterval: cfg.PollInterval,
		Builder:      builder,
		Bus:          s.Bus,
		Procs:        s.Procs,
		Logger:       s.Logger,
	}
	if s.Journal != nil {
		ctrlCfg.Journal = s.Journal
	}
	s.Scheduler = scheduler.New(scheduler.NewController(graph, ctrlCfg), s.Oracle, s.Logger)

	s.Logger.Info("project opened", "root", root, "episodes", len(graph.Episodes()), "tasks", graph.Len())
	opened = true
	return s, nil
}

// Start runs the output poller and the parameter file watcher in the
// background until Close.
func (s *Session) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.Scheduler.Controller().Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		err := s.Params.Watch(ctx, s.Logger, func() {
			s.Logger.Info("encode parameters reloaded", "path", s.Params.Path())
		})
		if err != nil {
			s.Logger.Warn("parameter watcher stopped", "error", err)
		}
	}()
}

// Graph is shorthand for the scheduler's graph.
func (s *Session) Graph() *scheduler.Graph { return s.Scheduler.Graph() }

// Close stops running tasks, then releases the journal, bus, project lock
// and log file. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.Scheduler != nil {
			ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			if stopErr := s.Scheduler.StopAll(ctx); stopErr != nil {
				s.Logger.Warn("stopping tasks", "error", stopErr)
			}
			cancel()
			if killErr := s.Procs.KillAll(); killErr != nil {
				s.Logger.Warn("killing leftover processes", "error", killErr)
			}
		}
		if s.cancel != nil {
			s.cancel()
			s.wg.Wait()
		}
		err = s.release()
	})
	return err
}

func (s *Session) release() error {
	var errs []error
	if s.Bus != nil {
		s.Bus.Close()
	}
	if s.Journal != nil {
		errs = append(errs, s.Journal.Close())
	}
	if s.Project != nil {
		errs = append(errs, s.Project.Close())
	}
	if s.logCloser != nil {
		errs = append(errs, s.logCloser.Close())
	}
	return errors.Join(errs...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
