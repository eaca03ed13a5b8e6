package executor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pemexe/pem/internal/model"
)

// graceWindow is the fixed wait between SIGTERM and SIGKILL.
const graceWindow = 10 * time.Second

// Handle is the part of a running child the Supervisor waits on and
// escalates against.
type Handle interface {
	Wait() error
	Signal(sig os.Signal) error
	Kill() error
	ExitCode() int
}

// SpawnFunc starts a child with merged stdout+stderr directed at sink.
type SpawnFunc func(argv []string, dir string, sink io.Writer) (Handle, error)

// Supervisor owns the process-wide concurrency limiter and the per-call
// timeout budget. One instance is shared by all executions; tests create
// their own so limits stay independent.
type Supervisor struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	grace   time.Duration
	bufSize int
	spawn   SpawnFunc
}

func NewSupervisor(maxConcurrent int, timeout time.Duration, bufferLimit int) *Supervisor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if bufferLimit <= 0 {
		bufferLimit = 1 << 20
	}
	return &Supervisor{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		timeout: timeout,
		grace:   graceWindow,
		bufSize: bufferLimit,
		spawn:   spawnProcess,
	}
}

// WithSpawnFunc replaces process creation. For concurrency bound and
// escalation tests only; not for production use.
func (s *Supervisor) WithSpawnFunc(f SpawnFunc) *Supervisor {
	s.spawn = f
	return s
}

// WithGraceWindow shortens the terminate-to-kill wait. For escalation tests
// only; production keeps the fixed window.
func (s *Supervisor) WithGraceWindow(d time.Duration) *Supervisor {
	s.grace = d
	return s
}

// Run executes argv with its output streamed to sink and returns the child's
// exit code. Every supervisor intervention - timeout, cancellation, spawn
// failure - returns model.ExitExecutor instead. Run blocks while the
// concurrency limit is exhausted; waiters are served in rough arrival order.
func (s *Supervisor) Run(ctx context.Context, argv []string, dir string, sink io.Writer) int {
	if len(argv) == 0 {
		return model.ExitExecutor
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		slog.DebugContext(ctx, "concurrency slot not acquired", "error", err)
		return model.ExitExecutor
	}
	defer s.sem.Release(1)

	// Sized buffer between the child and the log file, so a high-output
	// child is not throttled by sink latency.
	w := bufio.NewWriterSize(sink, s.bufSize)
	defer func() {
		_ = w.Flush()
	}()

	h, err := s.spawn(argv, dir, w)
	if err != nil {
		slog.ErrorContext(ctx, "spawning process failed", "argv", argv, "error", err)
		return model.ExitExecutor
	}

	done := make(chan error, 1)
	go func() {
		done <- h.Wait()
	}()

	select {
	case werr := <-done:
		return exitCode(ctx, h, werr)
	case <-time.After(s.timeout):
		slog.WarnContext(ctx, "process timeout, terminating", "timeout", s.timeout)
	case <-ctx.Done():
		slog.WarnContext(ctx, "run cancelled, terminating", "cause", context.Cause(ctx))
	}

	// Escalation: terminate, wait the grace window, then force kill. The
	// sentinel is returned even if the child manages to exit on its own
	// inside the grace window.
	_ = h.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(s.grace):
		_ = h.Kill()
		<-done
	}
	return model.ExitExecutor
}

func exitCode(ctx context.Context, h Handle, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return h.ExitCode()
	}
	// The child exited but an inherited copy of the output pipe stayed open
	// past WaitDelay. The child's own exit status still stands.
	if errors.Is(err, exec.ErrWaitDelay) {
		slog.WarnContext(ctx, "process output pipe left open past exit", "error", err)
		return h.ExitCode()
	}
	slog.ErrorContext(ctx, "waiting on process failed", "error", err)
	return model.ExitExecutor
}

type osHandle struct {
	cmd *exec.Cmd
}

func spawnProcess(argv []string, dir string, sink io.Writer) (Handle, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = sink
	cmd.Stderr = cmd.Stdout // merged stream
	// The child leads its own process group, so escalation signals reach its
	// grandchildren too. WaitDelay bounds Wait when an orphan keeps the
	// output pipe open past the child's exit.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = graceWindow
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &osHandle{cmd: cmd}, nil
}

func (h *osHandle) Wait() error {
	return h.cmd.Wait()
}

// Signal targets the whole process group.
func (h *osHandle) Signal(sig os.Signal) error {
	if s, ok := sig.(syscall.Signal); ok {
		return syscall.Kill(-h.cmd.Process.Pid, s)
	}
	return h.cmd.Process.Signal(sig)
}

func (h *osHandle) Kill() error {
	return syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)
}

// ExitCode mirrors the subprocess convention: signal deaths become the
// negated signal number.
func (h *osHandle) ExitCode() int {
	ps := h.cmd.ProcessState
	if ps == nil {
		return model.ExitExecutor
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return ps.ExitCode()
}
