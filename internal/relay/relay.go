// Package relay moves process output from a per-task reader goroutine to a
// single shared poller without ever blocking the poller.
package relay

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBuffer is the capacity of a relay's line channel.
	DefaultBuffer = 1024
	// DefaultOrphanGrace is how long the relay waits after EOF for the
	// process to exit before killing its group.
	DefaultOrphanGrace = 2 * time.Second

	maxLine = 256 * 1024
)

// Group is the process a relay reads from.
type Group interface {
	Exited() <-chan struct{}
	GroupAlive() bool
	Kill() error
}

// Options configure a Relay.
type Options struct {
	Buffer      int
	OrphanGrace time.Duration
	Logger      *slog.Logger
	// OnLine is called from the relay goroutine for every line, in order.
	OnLine func(line string)
	// Expected reports whether a read error is the expected result of the
	// task being stopped. os.ErrClosed is always expected.
	Expected func(err error) bool
}

// Relay reads one process's output line by line.
type Relay struct {
	lines chan string
	done  chan struct{}

	mu  sync.Mutex
	err error
}

// Start begins reading r in a new goroutine. g may be nil when there is no
// process to supervise.
func Start(r io.Reader, g Group, opts Options) *Relay {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.OrphanGrace <= 0 {
		opts.OrphanGrace = DefaultOrphanGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	rl := &Relay{
		lines: make(chan string, opts.Buffer),
		done:  make(chan struct{}),
	}
	go rl.run(r, g, opts)
	return rl
}

// Lines carries the relayed lines. It is closed when the relay finishes.
func (rl *Relay) Lines() <-chan string {
	return rl.lines
}

// Done is closed after the last line has been pushed to Lines.
func (rl *Relay) Done() <-chan struct{} {
	return rl.done
}

// Finished reports whether the relay loop has ended.
func (rl *Relay) Finished() bool {
	select {
	case <-rl.done:
		return true
	default:
		return false
	}
}

// Err returns the unexpected read error that ended the relay, if any.
func (rl *Relay) Err() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.err
}

func (rl *Relay) run(r io.Reader, g Group, opts Options) {
	defer close(rl.done)
	defer close(rl.lines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine+1)
	scanner.Split(scanLines)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if opts.OnLine != nil {
			opts.OnLine(line)
		}
		rl.lines <- line
	}

	err := scanner.Err()
	expected := err != nil && (errors.Is(err, os.ErrClosed) || (opts.Expected != nil && opts.Expected(err)))
	if err != nil && !expected {
		rl.mu.Lock()
		rl.err = err
		rl.mu.Unlock()
		opts.Logger.Warn("output relay read failed", "error", err)
	}

	// A stopped task is terminated by its controller.
	if expected || g == nil {
		return
	}

	select {
	case <-g.Exited():
	case <-time.After(opts.OrphanGrace):
	}
	if g.GroupAlive() {
		opts.Logger.Warn("process group outlived its output stream, killing")
		if err := g.Kill(); err != nil {
			opts.Logger.Warn("orphan kill failed", "error", err)
		}
	}
}

// scanLines splits on \n, \r or \r\n so progress meters that redraw with a
// carriage return yield one line per update. Overlong lines are cut at maxLine.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
		if data[i] == '\r' && i+1 == len(data) && !atEOF && len(data) < maxLine {
			// Might be the first half of \r\n.
			return 0, nil, nil
		}
		return i + 1, data[:i], nil
	}
	if len(data) >= maxLine {
		return maxLine, data[:maxLine], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
