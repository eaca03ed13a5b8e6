package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/pemexe/pem/internal/model"
	"github.com/pemexe/pem/internal/parallel"
)

// Runner executes one job; satisfied by *executor.Executor.
type Runner interface {
	Execute(ctx context.Context, job model.JobSpec) model.ExecutionResult
}

// Registry is the slice of the job registry the daemon needs.
type Registry interface {
	List(enabledOnly bool) ([]model.JobSpec, error)
	RecordRun(jobID string, res model.ExecutionResult) error
}

// Daemon multiplexes trigger signals, the optional timer schedule and
// shutdown in one event loop. Manual mode runs all enabled jobs once and
// returns; timer mode keeps running until the context is cancelled.
type Daemon struct {
	reg       Registry
	exe       Runner
	limit     int
	oneshot   bool
	scheduler gocron.Scheduler
	start     chan struct{}
}

func NewDaemon(cfg model.Config, reg Registry, exe Runner) (*Daemon, error) {
	d := &Daemon{
		reg:     reg,
		exe:     exe,
		limit:   cfg.Executor.MaxConcurrent,
		oneshot: cfg.Service.Mode == model.ServiceModeManual,
		start:   make(chan struct{}, 1),
	}
	if cfg.Service.Mode == model.ServiceModeTimer {
		scheduler, err := newScheduler(cfg.Service.Schedule, d.Trigger)
		if err != nil {
			return nil, fmt.Errorf("timer mode failed: %w", err)
		}
		d.scheduler = scheduler
	}
	return d, nil
}

// Trigger requests a run of all enabled jobs. A hint only: it never blocks
// and collapses with an already pending trigger.
func (d *Daemon) Trigger() {
	select {
	case d.start <- struct{}{}:
	default:
	}
}

// Do runs the daemon loop until ctx is cancelled. In oneshot (manual) mode
// it runs every enabled job once and returns the first failure.
func (d *Daemon) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting pem daemon", "oneshot", d.oneshot)

	if d.scheduler != nil {
		d.scheduler.Start()
		defer func() {
			if err := d.scheduler.Shutdown(); err != nil {
				slog.ErrorContext(ctx, "shutting down scheduler failed", "error", err)
			}
		}()
	}

	if d.oneshot {
		return d.runAll(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.start:
			if err := d.runAll(ctx); err != nil {
				slog.ErrorContext(ctx, "scheduled run reported failures", "error", err)
			}
		}
	}
}

// runAll fans the enabled jobs out through the parallel map; the executor's
// own semaphore still bounds child processes, the map merely avoids
// unbounded goroutines when the registry is large.
func (d *Daemon) runAll(ctx context.Context) error {
	jobs, err := d.reg.List(true)
	if err != nil {
		return fmt.Errorf("listing enabled jobs: %w", err)
	}
	if len(jobs) == 0 {
		slog.InfoContext(ctx, "no enabled jobs")
		return nil
	}

	m := parallel.NewMap(ctx, d.limit, func(ctx context.Context, job model.JobSpec) (model.ExecutionResult, error) {
		res := d.exe.Execute(ctx, job)
		if err := d.reg.RecordRun(job.ID, res); err != nil {
			slog.ErrorContext(ctx, "recording run failed", "job_name", job.Name, "error", err)
		}
		return res, nil
	})

	var errs []error
	for _, res := range parallel.Collect(m, jobs) {
		if res.Status == model.StatusFailed {
			errs = append(errs, fmt.Errorf("job %s failed with exit code %d, see %s",
				res.JobName, res.ExitCode, res.LogPath))
		}
	}
	return errors.Join(errs...)
}

func newScheduler(cfgp *model.Schedule, startFunc func()) (gocron.Scheduler, error) {
	if cfgp == nil {
		return nil, fmt.Errorf("service.schedule is nil")
	}
	cfg := *cfgp
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var job gocron.JobDefinition
	if cfg.Cron != "" {
		job = gocron.CronJob(cfg.Cron, false)
	} else {
		d, err := model.ParseISODuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing service.schedule.duration: %w", err)
		}
		job = gocron.DurationJob(d)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing scheduler: %w", err)
	}
	if _, err := s.NewJob(job, gocron.NewTask(startFunc)); err != nil {
		return nil, fmt.Errorf("initializing scheduler job: %w", err)
	}
	return s, nil
}
