package relay

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultInterval is the poller tick.
const DefaultInterval = 100 * time.Millisecond

// Watch is one running task registered with the poller.
type Watch struct {
	Relay *Relay
	// Exited is closed when the task's process has exited.
	Exited <-chan struct{}
	// OnLines receives drained lines in production order.
	OnLines func(lines []string)
	// OnExit runs once, after the relay has finished, the process has exited
	// and every line has been passed to OnLines.
	OnExit func()
}

// Poller is the single loop that drains every running task's relay and
// detects process exit.
type Poller struct {
	interval time.Duration

	mu      sync.Mutex
	watches map[string]*Watch
	wake    chan struct{}
}

// NewPoller creates a poller ticking at interval (DefaultInterval when <= 0).
func NewPoller(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		interval: interval,
		watches:  make(map[string]*Watch),
		wake:     make(chan struct{}, 1),
	}
}

// Add registers a watch under key, replacing any previous one. The poller is
// woken as soon as both the relay and the process are done, so exit handling
// does not wait for the next tick.
func (p *Poller) Add(key string, w Watch) {
	p.mu.Lock()
	p.watches[key] = &w
	p.mu.Unlock()

	go func() {
		<-w.Relay.Done()
		<-w.Exited
		p.Wake()
	}()
}

// Remove drops a watch without calling OnExit.
func (p *Poller) Remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watches, key)
}

// Len returns the number of active watches.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watches)
}

// Wake requests an immediate pass.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is cancelled, then makes a final pass.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Tick()
			return
		case <-ticker.C:
			p.Tick()
		case <-p.wake:
			p.Tick()
		}
	}
}

// Tick makes one pass over every watch.
func (p *Poller) Tick() {
	p.mu.Lock()
	keys := make([]string, 0, len(p.watches))
	for k := range p.watches {
		keys = append(keys, k)
	}
	p.mu.Unlock()
	sort.Strings(keys)

	for _, key := range keys {
		p.mu.Lock()
		w, ok := p.watches[key]
		p.mu.Unlock()
		if !ok {
			continue
		}

		if lines := drain(w.Relay.Lines()); len(lines) > 0 && w.OnLines != nil {
			w.OnLines(lines)
		}

		if !w.Relay.Finished() || !closed(w.Exited) {
			continue
		}

		// Done is closed after Lines, so this picks up the tail.
		if rest := drain(w.Relay.Lines()); len(rest) > 0 && w.OnLines != nil {
			w.OnLines(rest)
		}

		p.mu.Lock()
		current := p.watches[key] == w
		if current {
			delete(p.watches, key)
		}
		p.mu.Unlock()

		if current && w.OnExit != nil {
			w.OnExit()
		}
	}
}

// drain takes whatever is buffered without blocking.
func drain(ch <-chan string) []string {
	var out []string
	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, line)
		default:
			return out
		}
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
