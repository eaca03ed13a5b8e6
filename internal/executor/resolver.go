package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pemexe/pem/internal/model"
)

// PrepFunc runs one environment preparation command and returns its exit
// code. Wired to Supervisor.Run so preparation shares the concurrency bound
// and timeout with job runs.
type PrepFunc func(ctx context.Context, argv []string, dir string, sink io.Writer) int

// Resolver decides how a job's target is executed and performs one-time
// environment preparation. Preparation is triggered purely by absence of
// the environment on disk, never by content change.
type Resolver struct {
	defaultPython string
	prep          PrepFunc

	// per-project-path locks so two concurrent executions of the same
	// project cannot race check-then-create
	mu    sync.Mutex
	paths map[string]*sync.Mutex
}

func NewResolver(defaultPython string, prep PrepFunc) *Resolver {
	return &Resolver{
		defaultPython: defaultPython,
		prep:          prep,
		paths:         make(map[string]*sync.Mutex),
	}
}

// Script resolves a script job. No persistent environment is ever created;
// the run is always manifest-isolated with the job's extra dependencies
// injected individually.
func (r *Resolver) Script(job model.JobSpec) ResolvedEnvironment {
	return ResolvedEnvironment{
		Target:   []string{absPath(job.Path)},
		Isolated: true,
		Python:   r.python(job),
		WithDeps: true,
	}
}

// Project resolves a project job, preparing its environment when absent.
// Preparation output is appended to sink. A non-zero preparation exit is
// reported as model.ErrPrepFailed, never as a panic.
func (r *Resolver) Project(ctx context.Context, job model.JobSpec, sink io.Writer) (ResolvedEnvironment, error) {
	root := absPath(job.Path)

	// A project path that is itself a file is a script target.
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		return ResolvedEnvironment{
			Target:   []string{root},
			Isolated: true,
			Python:   r.python(job),
		}, nil
	}

	hasPyproject := exists(filepath.Join(root, "pyproject.toml"))
	hasRequirements := exists(filepath.Join(root, "requirements.txt"))
	venvPython := filepath.Join(root, ".venv", "bin", "python")

	switch {
	case !hasPyproject && !hasRequirements:
		// No manifest at all: run the entry directly, no install step.
		entry := entryCommand(root)
		if entry[1] == "-m" {
			return ResolvedEnvironment{
				Target:   entry,
				WorkDir:  root,
				Isolated: true,
				Python:   r.python(job),
			}, nil
		}
		return ResolvedEnvironment{
			Target:   []string{filepath.Join(root, entry[1])},
			Isolated: true,
			Python:   r.python(job),
		}, nil

	case hasPyproject:
		// Managed environment: sync once iff the venv is absent, then run
		// against the ambient project manifest on purpose.
		if err := r.ensure(ctx, root, sink, func() []prepStep {
			if exists(filepath.Join(root, ".venv")) {
				return nil
			}
			return []prepStep{{"Preparing environment", syncCommand(r.python(job))}}
		}); err != nil {
			return ResolvedEnvironment{}, err
		}
		return ResolvedEnvironment{
			Target:  entryCommand(root),
			WorkDir: root,
			Python:  r.python(job),
		}, nil

	default:
		// Bare environment from the flat dependency list: create and
		// install once iff the venv interpreter is absent.
		if err := r.ensure(ctx, root, sink, func() []prepStep {
			if exists(venvPython) {
				return nil
			}
			return []prepStep{
				{"Preparing environment", venvCommand(r.python(job))},
				{"Installing requirements", pipInstallCommand(venvPython)},
			}
		}); err != nil {
			return ResolvedEnvironment{}, err
		}
		python := ""
		if exists(venvPython) {
			python = venvPython
		}
		return ResolvedEnvironment{
			Target:   entryCommand(root),
			WorkDir:  root,
			Isolated: true,
			Python:   python,
		}, nil
	}
}

type prepStep struct {
	label string
	argv  []string
}

// ensure serializes preparation per project path and runs the steps the
// callback reports as missing. The callback is evaluated under the lock so
// the existence check is atomic with respect to concurrent resolutions.
func (r *Resolver) ensure(ctx context.Context, root string, sink io.Writer, steps func() []prepStep) error {
	unlock := r.lock(root)
	defer unlock()

	for _, step := range steps() {
		fmt.Fprintf(sink, "--- %s: %s ---\n\n", step.label, strings.Join(step.argv, " "))
		if code := r.prep(ctx, step.argv, root, sink); code != 0 {
			return fmt.Errorf("%w: %q exited with %d", model.ErrPrepFailed, strings.Join(step.argv, " "), code)
		}
	}
	return nil
}

func (r *Resolver) lock(root string) func() {
	r.mu.Lock()
	m, ok := r.paths[root]
	if !ok {
		m = &sync.Mutex{}
		r.paths[root] = m
	}
	r.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (r *Resolver) python(job model.JobSpec) string {
	if job.Python != "" {
		return job.Python
	}
	return r.defaultPython
}

// entryCommand finds the project entry by fixed precedence: main.py, then
// app.py, then module invocation of the directory name.
func entryCommand(root string) []string {
	if exists(filepath.Join(root, "main.py")) {
		return []string{"python", "main.py"}
	}
	if exists(filepath.Join(root, "app.py")) {
		return []string{"python", "app.py"}
	}
	return []string{"python", "-m", filepath.Base(root)}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
