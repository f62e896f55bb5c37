package proc

import (
	"errors"
	"fmt"
	"sync"
)

// Manager tracks every running process group so they can all be killed on
// shutdown.
//
// Usage pattern (typically in main):
//
//	pm := proc.NewManager()
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer cancel()
//	go func() {
//		<-ctx.Done()
//		pm.KillAll()
//	}()
type Manager struct {
	mu    sync.Mutex
	procs map[int]*Process
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{procs: make(map[int]*Process)}
}

// Track registers a started process.
func (m *Manager) Track(p *Process) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs[p.Pid()] = p
}

// Untrack removes a process once its group is finished with.
func (m *Manager) Untrack(p *Process) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.procs, p.Pid())
}

// KillAll sends SIGKILL to every tracked group. Groups already gone are
// not errors.
func (m *Manager) KillAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for pid, p := range m.procs {
		if err := p.Kill(); err != nil && !errors.Is(err, ErrGroupGone) {
			errs = append(errs, fmt.Errorf("failed to kill process group %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of tracked processes.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.procs)
}
