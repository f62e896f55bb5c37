// Package proc runs shell commands as process-group leaders and signals the
// whole group, so pipelines like `vspipe | x265` are suspended, resumed and
// terminated as one unit.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

// DefaultShell runs task commands.
const DefaultShell = "/bin/sh"

// ErrGroupGone is returned when a signal finds no process in the group.
var ErrGroupGone = errors.New("process group is gone")

var errStillAlive = errors.New("process group still alive")

// Options configure Start.
type Options struct {
	Shell string // defaults to DefaultShell
	Dir   string
	Env   []string // appended to the current environment
}

// Process is a running shell command and its process group. The group id
// equals the leader pid.
type Process struct {
	cmd    *exec.Cmd
	pgid   int
	output *os.File

	done     chan struct{}
	mu       sync.Mutex
	exitCode int
	waitErr  error

	closeOnce sync.Once
}

// Start runs `shell -c command` in a new process group. Stdout and stderr
// share one pipe, read through Output.
func Start(command string, opts Options) (*Process, error) {
	shell := opts.Shell
	if shell == "" {
		shell = DefaultShell
	}

	cmd := exec.Command(shell, "-c", command)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // New process group so signals reach every pipeline stage
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("failed to start command: %w", err)
	}
	// The children hold their own copies of the write end; EOF arrives once
	// every member of the group has closed it.
	w.Close()

	p := &Process{
		cmd:      cmd,
		pgid:     cmd.Process.Pid,
		output:   r,
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.waitErr = err
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	p.mu.Unlock()

	close(p.done)
}

// Pid returns the leader pid, which is also the group id.
func (p *Process) Pid() int {
	return p.pgid
}

// Output returns the merged stdout/stderr stream.
func (p *Process) Output() io.Reader {
	return p.output
}

// CloseOutput closes the read end of the output pipe. Blocked readers return
// an error wrapping os.ErrClosed. Safe to call more than once.
func (p *Process) CloseOutput() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.output.Close()
	})
	return err
}

// Exited is closed once the leader has exited and been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.done
}

// HasExited reports whether the leader has exited.
func (p *Process) HasExited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the leader's exit code; -1 while running or when it was
// terminated by a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// WaitErr returns the error from waiting on the leader, nil on exit 0.
func (p *Process) WaitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Signal delivers sig to every member of the group. It returns ErrGroupGone
// when no member is left.
func (p *Process) Signal(sig unix.Signal) error {
	if err := unix.Kill(-p.pgid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return ErrGroupGone
		}
		return fmt.Errorf("signal %s to group %d: %w", unix.SignalName(sig), p.pgid, err)
	}
	return nil
}

// Suspend stops every member of the group (SIGSTOP).
func (p *Process) Suspend() error { return p.Signal(unix.SIGSTOP) }

// Continue resumes every member of the group (SIGCONT).
func (p *Process) Continue() error { return p.Signal(unix.SIGCONT) }

// Terminate asks every member of the group to exit (SIGTERM).
func (p *Process) Terminate() error { return p.Signal(unix.SIGTERM) }

// Kill forcibly ends every member of the group (SIGKILL).
func (p *Process) Kill() error { return p.Signal(unix.SIGKILL) }

// WaitGone polls with exponential backoff until no live member of the group
// remains, giving up after timeout. It reports whether the group is gone.
func (p *Process) WaitGone(ctx context.Context, timeout time.Duration) bool {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = timeout
	policy.RandomizationFactor = 0.2

	err := backoff.Retry(func() error {
		if p.GroupAlive() {
			return errStillAlive
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	return err == nil
}
