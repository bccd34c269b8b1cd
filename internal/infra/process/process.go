//go:build linux || darwin

// Package process starts and stops the scheduler and benchmark processes.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// DefaultStderrLimit is the stderr tail kept for error reports.
const DefaultStderrLimit = 64 << 10

// waitDelay bounds how long Wait waits for stderr to close after exit.
const waitDelay = 2 * time.Second

// Spec describes a process to start.
type Spec struct {
	Name    string // "scheduler" or "benchmark"
	Argv    []string
	WorkDir string
	Env     []string

	// StderrLimit is the stderr tail size. Zero uses DefaultStderrLimit.
	StderrLimit int
}

// Process is a running child in its own process group.
type Process struct {
	name    string
	cmd     *exec.Cmd
	stdout  *os.File
	stderr  *TailBuffer
	done    chan struct{}
	waitErr error
	logger  *slog.Logger
}

// Start starts the process. Its stdout is available through Stdout and
// must be consumed by the caller. Cancelling ctx sends SIGTERM to the
// process group.
func Start(ctx context.Context, spec Spec, logger *slog.Logger) (*Process, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("start %s: empty command", spec.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "process"), slog.String("process", spec.Name))

	limit := spec.StderrLimit
	if limit == 0 {
		limit = DefaultStderrLimit
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("start %s: stdout pipe: %w", spec.Name, err)
	}

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = w
	stderr := NewTailBuffer(limit)
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = waitDelay

	logger.Info("Process: Starting command", "cmd", cmd.String(), "work_dir", cmd.Dir)

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	// The child holds its own copy of the write end.
	w.Close()

	p := &Process{
		name:   spec.Name,
		cmd:    cmd,
		stdout: r,
		stderr: stderr,
		done:   make(chan struct{}),
		logger: logger,
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	logger.Info("Process: Started", "pid", cmd.Process.Pid)
	return p, nil
}

// Name returns the process name.
func (p *Process) Name() string {
	return p.name
}

// Pid returns the process ID, which is also its process group ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stdout returns the read end of the stdout pipe. The caller owns it.
func (p *Process) Stdout() *os.File {
	return p.stdout
}

// StderrTail returns the retained end of stderr.
func (p *Process) StderrTail() string {
	return p.stderr.String()
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits and returns its exit code, -1 if
// it was killed by a signal.
func (p *Process) Wait() (int, error) {
	<-p.done
	if p.cmd.ProcessState == nil {
		return -1, fmt.Errorf("wait %s: %w", p.name, p.waitErr)
	}
	return p.cmd.ProcessState.ExitCode(), nil
}

// Terminate sends SIGTERM to the process group and waits up to timeout
// for it to exit, then sends SIGKILL.
func (p *Process) Terminate(timeout time.Duration) error {
	if p.Exited() {
		return nil
	}

	p.logger.Info("Process: Sending SIGTERM", "pid", p.Pid())
	if err := signalGroup(p.Pid(), syscall.SIGTERM); err != nil {
		return fmt.Errorf("terminate %s: %w", p.name, err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
	}

	p.logger.Warn("Process: Did not exit after SIGTERM, sending SIGKILL", "pid", p.Pid(), "timeout", timeout)
	if err := signalGroup(p.Pid(), syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill %s: %w", p.name, err)
	}
	<-p.done
	return nil
}

func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
