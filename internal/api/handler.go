package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/aristath/bdencode/internal/params"
	"github.com/aristath/bdencode/internal/persistence"
	"github.com/aristath/bdencode/internal/pipeline"
	"github.com/aristath/bdencode/internal/scheduler"
)

// History is the read side of the run journal.
type History interface {
	GetRun(ctx context.Context, id string) (persistence.Run, error)
	ListRuns(ctx context.Context, filter persistence.RunFilter) ([]persistence.Run, error)
	Output(ctx context.Context, runID string, tail int) ([]string, error)
}

// Handler serves the control API for one scheduler.
type Handler struct {
	sched   *scheduler.Scheduler
	params  *params.Store
	history History // nil when the journal is disabled
	logger  *slog.Logger

	// base outlives requests; background runs derive from it.
	base context.Context

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	lastErr error
}

// NewHandler creates a handler. Background runs stop when base is cancelled.
func NewHandler(base context.Context, sched *scheduler.Scheduler, ps *params.Store, history History, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sched: sched, params: ps, history: history, logger: logger, base: base}
}

func (h *Handler) task(c *gin.Context) (*scheduler.Task, bool) {
	t, err := h.sched.Task(c.Param("episode"), pipeline.Kind(c.Param("kind")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return t, true
}

// controlStatus maps controller errors onto HTTP statuses.
func controlStatus(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrPrerequisitesNotMet),
		errors.Is(err, scheduler.ErrAlreadyRunning),
		errors.Is(err, scheduler.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrTaskFailed):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) handleListTasks(c *gin.Context) {
	g := h.sched.Graph()
	var tasks []*scheduler.Task
	if ep := c.Query("episode"); ep != "" {
		tasks = g.EpisodeTasks(ep)
	} else {
		tasks = g.Tasks()
	}
	out := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskView(g, t))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) handleGetTask(c *gin.Context) {
	t, ok := h.task(c)
	if !ok {
		return
	}
	d := TaskDetail{TaskView: taskView(h.sched.Graph(), t), Output: t.Output()}
	if err := t.Err(); err != nil {
		d.Error = err.Error()
	}
	if tail, err := strconv.Atoi(c.Query("tail")); err == nil && tail >= 0 && tail < len(d.Output) {
		d.Output = d.Output[len(d.Output)-tail:]
	}
	if p := t.Process(); p != nil {
		if stats, err := p.Stats(); err == nil {
			gv := &GroupView{Processes: stats.Processes, RSS: stats.RSS, CPU: stats.CPU}
			for _, m := range stats.Members {
				gv.Members = append(gv.Members, m.Name)
			}
			d.Group = gv
		}
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) handleStartTask(c *gin.Context) {
	t, ok := h.task(c)
	if !ok {
		return
	}
	if err := h.sched.Controller().Start(h.base, t); err != nil {
		body := gin.H{"error": err.Error()}
		if errors.Is(err, scheduler.ErrPrerequisitesNotMet) {
			body["unmet"] = kindStrings(h.sched.Graph().Unmet(t))
		}
		c.JSON(controlStatus(err), body)
		return
	}
	c.JSON(http.StatusAccepted, taskView(h.sched.Graph(), t))
}

func (h *Handler) handleStopTask(c *gin.Context) {
	t, ok := h.task(c)
	if !ok {
		return
	}
	if err := h.sched.Controller().Stop(c.Request.Context(), t); err != nil {
		c.JSON(controlStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, taskView(h.sched.Graph(), t))
}

func (h *Handler) control(op func(*scheduler.Task) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := h.task(c)
		if !ok {
			return
		}
		if err := op(t); err != nil {
			c.JSON(controlStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, taskView(h.sched.Graph(), t))
	}
}

func (h *Handler) handleProgress(c *gin.Context) {
	c.JSON(http.StatusOK, progressView(h.sched.Graph().Progress()))
}

// RunRequest starts a run over the whole graph.
type RunRequest struct {
	// Parallel > 1 runs independent tasks concurrently.
	Parallel int `json:"parallel"`
}

func (h *Handler) handleRun(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress"})
		return
	}
	ctx, cancel := context.WithCancel(h.base)
	h.running, h.cancel, h.lastErr = true, cancel, nil
	h.mu.Unlock()

	go func() {
		var err error
		if req.Parallel > 1 {
			err = h.sched.RunParallel(ctx, req.Parallel)
		} else {
			err = h.sched.RunAll(ctx)
		}
		if err != nil {
			h.logger.Warn("run ended with error", "error", err)
		} else {
			h.logger.Info("run finished")
		}
		h.mu.Lock()
		h.running, h.lastErr = false, err
		h.mu.Unlock()
		cancel()
	}()

	c.JSON(http.StatusAccepted, gin.H{"running": true, "parallel": req.Parallel})
}

// RunState reports whether a background run is active and how the last one ended.
func (h *Handler) RunState() (running bool, lastErr error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running, h.lastErr
}

func (h *Handler) handleRunState(c *gin.Context) {
	running, err := h.RunState()
	body := gin.H{"running": running}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// handleStopAll cancels a background run and stops every running task.
func (h *Handler) handleStopAll(c *gin.Context) {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Unlock()

	if err := h.sched.StopAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, progressView(h.sched.Graph().Progress()))
}

func (h *Handler) broadcast(op func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := op(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, progressView(h.sched.Graph().Progress()))
	}
}
