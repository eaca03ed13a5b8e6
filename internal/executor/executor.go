package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pemexe/pem/internal/log"
	"github.com/pemexe/pem/internal/model"
)

// logStamp makes log file names practically unique per run.
const logStamp = "20060102150405"

// Executor is the orchestrator: it owns the log lifecycle, dispatches by
// job kind and converts every failure mode into an ExecutionResult.
type Executor struct {
	logsDir  string
	sup      *Supervisor
	resolver *Resolver
}

// New builds an executor from config. The supervisor's limiter is owned by
// this instance, so independent executors have independent bounds.
func New(cfg model.Config) (*Executor, error) {
	logsDir, err := cfg.LogsDirectory()
	if err != nil {
		return nil, fmt.Errorf("resolving logs directory: %w", err)
	}
	sup := NewSupervisor(cfg.Executor.MaxConcurrent, cfg.ProcessTimeout(), cfg.Executor.BufferLimit)
	return &Executor{
		logsDir:  logsDir,
		sup:      sup,
		resolver: NewResolver(cfg.DefaultPython(), sup.Run),
	}, nil
}

// Execute runs one job to completion and returns its result. It never
// panics under normal operation: timeouts, spawn failures and preparation
// failures all surface as StatusFailed with the sentinel exit code.
func (e *Executor) Execute(ctx context.Context, job model.JobSpec) model.ExecutionResult {
	started := time.Now()
	runID := uuid.NewString()
	ctx = log.WithRun(ctx, job.Name, runID)
	slog.InfoContext(ctx, "starting execution", "kind", job.Kind, "path", job.Path)

	logPath := filepath.Join(e.logsDir, fmt.Sprintf("%s_%s.log", job.Name, started.UTC().Format(logStamp)))

	exit := model.ExitExecutor
	f, err := os.Create(logPath)
	if err != nil {
		slog.ErrorContext(ctx, "creating log file failed", "path", logPath, "error", err)
	} else {
		writeHeader(f, job, runID, started)
		exit, err = e.dispatch(ctx, job, f)
		if err != nil {
			slog.ErrorContext(ctx, "execution failed", "error", err)
			appendError(ctx, f, err)
			exit = model.ExitExecutor
		}
		if cerr := f.Close(); cerr != nil {
			slog.ErrorContext(ctx, "closing log file failed", "error", cerr)
		}
	}

	stopped := time.Now()
	result := model.ExecutionResult{
		RunID:    runID,
		JobName:  job.Name,
		Status:   model.StatusFor(exit),
		ExitCode: exit,
		Started:  started.UTC(),
		Stopped:  stopped.UTC(),
		Duration: stopped.Sub(started),
		LogPath:  logPath,
	}
	slog.InfoContext(ctx, "execution finished",
		"status", result.Status, "exit_code", result.ExitCode, "duration", result.Duration)
	return result
}

// dispatch validates the kind a second time, defensively: a JobSpec built
// through NewJobSpec cannot reach the default branch, but specs loaded from
// elsewhere might.
func (e *Executor) dispatch(ctx context.Context, job model.JobSpec, f *os.File) (int, error) {
	switch job.Kind {
	case model.KindScript:
		return e.run(ctx, e.resolver.Script(job), job, f), nil
	case model.KindProject:
		env, err := e.resolver.Project(ctx, job, f)
		if err != nil {
			return model.ExitExecutor, err
		}
		return e.run(ctx, env, job, f), nil
	default:
		return model.ExitExecutor, fmt.Errorf("%w: %q", model.ErrUnknownJobKind, job.Kind)
	}
}

func (e *Executor) run(ctx context.Context, env ResolvedEnvironment, job model.JobSpec, f *os.File) int {
	argv, cwd := BuildCommand(env, job)
	fmt.Fprintf(f, "--- Running command: %s ---\n\n", strings.Join(argv, " "))
	return e.sup.Run(ctx, argv, cwd, f)
}

// writeHeader leaves a durable record of the attempt before the child runs,
// so even a hung process has a traceable log.
func writeHeader(f *os.File, job model.JobSpec, runID string, started time.Time) {
	fmt.Fprintf(f, "=== pem job execution log ===\n")
	fmt.Fprintf(f, "Job: %s (run %s)\n", job.Name, runID)
	fmt.Fprintf(f, "Kind: %s\n", job.Kind)
	fmt.Fprintf(f, "Started: %s\n", started.UTC().Format(time.RFC3339))
	fmt.Fprintf(f, "=== output ===\n\n")
	_ = f.Sync()
}

// appendError is best effort; a log write failure is recorded internally
// and never escalated to the result.
func appendError(ctx context.Context, w io.Writer, err error) {
	if _, werr := fmt.Fprintf(w, "\nError: %v\n", err); werr != nil {
		slog.ErrorContext(ctx, "appending error to log failed", "error", werr)
	}
}
