package api

import (
	"time"

	"github.com/aristath/bdencode/internal/persistence"
	"github.com/aristath/bdencode/internal/pipeline"
	"github.com/aristath/bdencode/internal/scheduler"
)

// TaskView is the JSON form of a task.
type TaskView struct {
	ID            string     `json:"id"`
	Episode       string     `json:"episode"`
	Kind          string     `json:"kind"`
	Status        string     `json:"status"`
	Display       string     `json:"display"`
	Prerequisites []string   `json:"prerequisites"`
	Unmet         []string   `json:"unmet,omitempty"`
	Command       string     `json:"command,omitempty"`
	Deferred      bool       `json:"deferred"`
	SetupError    string     `json:"setup_error,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Duration      string     `json:"duration,omitempty"`
	ExitCode      int        `json:"exit_code"`
	RunID         string     `json:"run_id,omitempty"`
	Pid           int        `json:"pid,omitempty"`
	Lines         int        `json:"lines"`
}

// TaskDetail adds output and live process statistics.
type TaskDetail struct {
	TaskView
	Error  string     `json:"error,omitempty"`
	Output []string   `json:"output"`
	Group  *GroupView `json:"group,omitempty"`
}

// GroupView summarizes a running task's process group.
type GroupView struct {
	Processes int      `json:"processes"`
	RSS       uint64   `json:"rss_bytes"`
	CPU       float64  `json:"cpu_percent"`
	Members   []string `json:"members"`
}

// ProgressView is the JSON form of graph progress.
type ProgressView struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Stopped   int `json:"stopped"`
}

// RunView is the JSON form of a journaled run.
type RunView struct {
	ID         string     `json:"id"`
	Episode    string     `json:"episode"`
	Kind       string     `json:"kind"`
	Command    string     `json:"command"`
	Status     string     `json:"status"`
	ExitCode   int        `json:"exit_code"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Duration   string     `json:"duration,omitempty"`
	Lines      int        `json:"lines"`
}

func kindStrings(kinds []pipeline.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func taskView(g *scheduler.Graph, t *scheduler.Task) TaskView {
	s := t.Snapshot()
	v := TaskView{
		ID:            s.Key.String(),
		Episode:       s.Key.Episode,
		Kind:          string(s.Key.Kind),
		Status:        s.Status.String(),
		Display:       s.Display,
		Prerequisites: kindStrings(t.Prerequisites()),
		Command:       s.Command,
		Deferred:      t.Deferred(),
		StartTime:     timePtr(s.StartTime),
		EndTime:       timePtr(s.EndTime),
		ExitCode:      s.ExitCode,
		RunID:         s.RunID,
		Pid:           s.Pid,
		Lines:         s.Lines,
	}
	if err := t.SetupErr(); err != nil {
		v.SetupError = err.Error()
	}
	if s.Status == scheduler.TaskPending {
		v.Unmet = kindStrings(g.Unmet(t))
	}
	if d := t.Duration(); d > 0 {
		v.Duration = d.Round(time.Second).String()
	}
	return v
}

func progressView(p scheduler.Progress) ProgressView {
	return ProgressView{
		Total:     p.Total,
		Pending:   p.Pending,
		Running:   p.Running,
		Paused:    p.Paused,
		Completed: p.Completed,
		Failed:    p.Failed,
		Stopped:   p.Stopped,
	}
}

func runView(r persistence.Run) RunView {
	v := RunView{
		ID:         r.ID,
		Episode:    r.Episode,
		Kind:       r.Kind,
		Command:    r.Command,
		Status:     r.Status,
		ExitCode:   r.ExitCode,
		StartedAt:  r.StartedAt,
		FinishedAt: timePtr(r.FinishedAt),
		Lines:      r.Lines,
	}
	if d := r.Duration(); d > 0 {
		v.Duration = d.Round(time.Second).String()
	}
	return v
}
