package executor_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pemexe/pem/internal/executor"
	"github.com/pemexe/pem/internal/model"
)

// stubHandle stands in for a child process. Wait blocks until something is
// sent on done; Signal and Kill run the configured callbacks.
type stubHandle struct {
	done     chan error
	exit     int
	onSignal func(os.Signal)
	onKill   func()
}

func (h *stubHandle) Wait() error { return <-h.done }

func (h *stubHandle) Signal(sig os.Signal) error {
	if h.onSignal != nil {
		h.onSignal(sig)
	}
	return nil
}

func (h *stubHandle) Kill() error {
	if h.onKill != nil {
		h.onKill()
	}
	return nil
}

func (h *stubHandle) ExitCode() int { return h.exit }

func spawnStub(h *stubHandle) executor.SpawnFunc {
	return func(argv []string, dir string, sink io.Writer) (executor.Handle, error) {
		return h, nil
	}
}

func TestSupervisorRun(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	cases := []struct {
		scenario string
		argv     []string
		wantCode int
		wantOut  string
	}{
		{"clean exit", []string{"sh", "-c", "echo done"}, 0, "done\n"},
		{"nonzero exit", []string{"sh", "-c", "exit 7"}, 7, ""},
		{"merged stderr", []string{"sh", "-c", "echo oops >&2"}, 0, "oops\n"},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			sup := executor.NewSupervisor(1, time.Minute, 64)
			var out bytes.Buffer
			code := sup.Run(context.Background(), tc.argv, "", &out)
			require.Equal(t, tc.wantCode, code)
			require.Equal(t, tc.wantOut, out.String())
		})
	}
}

func TestSupervisorRun_SpawnFailure(t *testing.T) {
	t.Parallel()

	sup := executor.NewSupervisor(1, time.Minute, 64)
	code := sup.Run(context.Background(), []string{"/does/not/exist"}, "", io.Discard)
	require.Equal(t, model.ExitExecutor, code)
}

func TestSupervisorRun_EmptyArgv(t *testing.T) {
	t.Parallel()

	sup := executor.NewSupervisor(1, time.Minute, 64)
	code := sup.Run(context.Background(), nil, "", io.Discard)
	require.Equal(t, model.ExitExecutor, code)
}

func TestSupervisorRun_Timeout(t *testing.T) {
	t.Parallel()

	// Child exits on SIGTERM, inside the grace window. The sentinel is still
	// the result: the supervisor intervened.
	var termed atomic.Bool
	h := &stubHandle{done: make(chan error, 1)}
	h.onSignal = func(os.Signal) {
		termed.Store(true)
		h.done <- nil
	}

	sup := executor.NewSupervisor(1, 20*time.Millisecond, 64).
		WithSpawnFunc(spawnStub(h)).
		WithGraceWindow(time.Second)

	code := sup.Run(context.Background(), []string{"stub"}, "", io.Discard)
	require.Equal(t, model.ExitExecutor, code)
	require.True(t, termed.Load())
}

func TestSupervisorRun_KillEscalation(t *testing.T) {
	t.Parallel()

	// Child ignores SIGTERM; only Kill unblocks Wait.
	var termed, killed atomic.Bool
	h := &stubHandle{done: make(chan error, 1)}
	h.onSignal = func(os.Signal) { termed.Store(true) }
	h.onKill = func() {
		killed.Store(true)
		h.done <- nil
	}

	sup := executor.NewSupervisor(1, 20*time.Millisecond, 64).
		WithSpawnFunc(spawnStub(h)).
		WithGraceWindow(20 * time.Millisecond)

	code := sup.Run(context.Background(), []string{"stub"}, "", io.Discard)
	require.Equal(t, model.ExitExecutor, code)
	require.True(t, termed.Load())
	require.True(t, killed.Load())
}

func TestSupervisorRun_Cancelled(t *testing.T) {
	t.Parallel()

	var termed atomic.Bool
	h := &stubHandle{done: make(chan error, 1)}
	h.onSignal = func(os.Signal) {
		termed.Store(true)
		h.done <- nil
	}

	sup := executor.NewSupervisor(1, time.Minute, 64).
		WithSpawnFunc(spawnStub(h)).
		WithGraceWindow(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	code := sup.Run(ctx, []string{"stub"}, "", io.Discard)
	require.Equal(t, model.ExitExecutor, code)
	require.True(t, termed.Load())
}

func TestSupervisorRun_CancelledBeforeSlot(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sup := executor.NewSupervisor(1, time.Minute, 64)
	code := sup.Run(ctx, []string{"sh", "-c", "true"}, "", io.Discard)
	require.Equal(t, model.ExitExecutor, code)
}

func TestSupervisorRun_BackgroundGrandchild(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	// The backgrounded sleep inherits the merged output pipe. Escalation must
	// still return promptly and free the concurrency slot.
	sup := executor.NewSupervisor(1, 100*time.Millisecond, 64)

	start := time.Now()
	code := sup.Run(context.Background(), []string{"sh", "-c", "sleep 300 & sleep 300"}, "", io.Discard)
	require.Equal(t, model.ExitExecutor, code)
	require.Less(t, time.Since(start), 5*time.Second)

	// slot is free again
	code = sup.Run(context.Background(), []string{"sh", "-c", "exit 0"}, "", io.Discard)
	require.Equal(t, 0, code)
}

func TestSupervisorConcurrencyBound(t *testing.T) {
	t.Parallel()

	const limit, jobs = 2, 8
	var inFlight, peak atomic.Int64

	spawn := func(argv []string, dir string, sink io.Writer) (executor.Handle, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		h := &stubHandle{done: make(chan error, 1)}
		go func() {
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			h.done <- nil
		}()
		return h, nil
	}

	sup := executor.NewSupervisor(limit, time.Minute, 64).WithSpawnFunc(spawn)

	codes := make(chan int, jobs)
	var wg sync.WaitGroup
	for range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- sup.Run(context.Background(), []string{"stub"}, "", io.Discard)
		}()
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		require.Equal(t, 0, code)
	}
	require.LessOrEqual(t, peak.Load(), int64(limit))
	require.Zero(t, inFlight.Load())
}
