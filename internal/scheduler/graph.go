package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/toposort"

	"github.com/aristath/bdencode/internal/completion"
	"github.com/aristath/bdencode/internal/pipeline"
)

// CompletionChecker decides whether a task's outputs already exist.
// *completion.Oracle satisfies it.
type CompletionChecker interface {
	IsCompleted(s completion.Subject) bool
}

// Graph holds every task of a project.
type Graph struct {
	mu    sync.RWMutex
	tasks map[Key]*Task
	order []*Task
}

// NewGraph validates tasks and builds the graph. Duplicate keys, including
// episodes that differ only in zero padding, and prerequisite cycles are
// rejected. When checker is non-nil every task whose
// outputs already exist starts out completed.
func NewGraph(tasks []*Task, checker CompletionChecker) (*Graph, error) {
	g := &Graph{
		tasks: make(map[Key]*Task, len(tasks)),
		order: make([]*Task, 0, len(tasks)),
	}
	// Task ids pad the episode, so "1" and "01" name the same task.
	ids := make(map[string]Key, len(tasks))
	for _, t := range tasks {
		id := t.key.String()
		if prev, exists := ids[id]; exists {
			if prev.Episode != t.key.Episode {
				return nil, fmt.Errorf("duplicate task %s (episodes %q and %q)", id, prev.Episode, t.key.Episode)
			}
			return nil, fmt.Errorf("duplicate task %s", id)
		}
		ids[id] = t.key
		g.tasks[t.key] = t
		g.order = append(g.order, t)
	}

	if err := g.validate(); err != nil {
		return nil, err
	}

	sort.SliceStable(g.order, func(i, j int) bool {
		return keyLess(g.order[i].key, g.order[j].key)
	})

	if checker != nil {
		now := time.Now()
		for _, t := range g.order {
			if checker.IsCompleted(t) {
				t.mu.Lock()
				t.startTime = now
				t.finishLocked(TaskCompleted, now)
				t.mu.Unlock()
			}
		}
	}
	return g, nil
}

// validate runs a topological sort over the prerequisite relation.
// Prerequisites naming a task missing from the graph add no edge: they are
// simply never satisfied.
func (g *Graph) validate() error {
	var edges []toposort.Edge
	for key, t := range g.tasks {
		linked := false
		for _, kind := range t.prerequisites {
			dep := Key{Episode: key.Episode, Kind: kind}
			if _, ok := g.tasks[dep]; !ok {
				continue
			}
			// Edge (dep, key) means dep must come before key
			edges = append(edges, toposort.Edge{dep, key})
			linked = true
		}
		if !linked {
			edges = append(edges, toposort.Edge{nil, key})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return fmt.Errorf("task graph contains cycle: %w", err)
	}

	found := 0
	for _, v := range sorted {
		if v != nil {
			found++
		}
	}
	if found != len(g.tasks) {
		return fmt.Errorf("task graph contains cycle: %d of %d tasks ordered", found, len(g.tasks))
	}
	return nil
}

// Get returns the task for (episode, kind).
func (g *Graph) Get(episode string, kind pipeline.Kind) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[Key{Episode: episode, Kind: kind}]
	return t, ok
}

// Lookup returns the task for key.
func (g *Graph) Lookup(key Key) (*Task, bool) {
	return g.Get(key.Episode, key.Kind)
}

// Tasks returns every task in canonical order: numeric episode, then kind
// rank, unknown kinds last.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Task(nil), g.order...)
}

// EpisodeTasks returns the tasks of one episode in canonical order.
func (g *Graph) EpisodeTasks(episode string) []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Task
	for _, t := range g.order {
		if t.key.Episode == episode {
			out = append(out, t)
		}
	}
	return out
}

// Episodes returns the episode ids in numeric order.
func (g *Graph) Episodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	seen := make(map[string]bool)
	for _, t := range g.order {
		if !seen[t.key.Episode] {
			seen[t.key.Episode] = true
			out = append(out, t.key.Episode)
		}
	}
	return out
}

// PrerequisitesMet reports whether every prerequisite of t exists in the
// same episode and has completed. A missing prerequisite is not met.
func (g *Graph) PrerequisitesMet(t *Task) bool {
	return len(g.Unmet(t)) == 0
}

// Unmet returns the prerequisite kinds of t that are missing or not completed.
func (g *Graph) Unmet(t *Task) []pipeline.Kind {
	var unmet []pipeline.Kind
	for _, kind := range t.prerequisites {
		dep, ok := g.Get(t.key.Episode, kind)
		if !ok || dep.Status() != TaskCompleted {
			unmet = append(unmet, kind)
		}
	}
	return unmet
}

// Progress counts tasks per display state.
type Progress struct {
	Total     int
	Pending   int
	Running   int
	Paused    int
	Completed int
	Failed    int
	Stopped   int
}

// Progress returns the current counts.
func (g *Graph) Progress() Progress {
	var p Progress
	for _, t := range g.Tasks() {
		p.Total++
		switch t.Display() {
		case DisplayPaused:
			p.Paused++
		case TaskRunning.String():
			p.Running++
		case TaskCompleted.String():
			p.Completed++
		case TaskFailed.String():
			p.Failed++
		case TaskStopped.String():
			p.Stopped++
		default:
			p.Pending++
		}
	}
	return p
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

func keyLess(a, b Key) bool {
	if a.Episode != b.Episode {
		return pipeline.EpisodeLess(a.Episode, b.Episode)
	}
	return pipeline.KindLess(a.Kind, b.Kind)
}
