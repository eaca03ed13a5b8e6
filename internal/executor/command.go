package executor

import (
	"github.com/pemexe/pem/internal/model"
)

// ResolvedEnvironment is computed fresh for every run and describes how a
// target must be executed. It never outlives a single execution; the only
// state carried across runs is the venv on disk the Resolver inspects.
type ResolvedEnvironment struct {
	// Target is what uv runs: {"/abs/script.py"}, {"python", "main.py"}
	// or {"python", "-m", "pkgname"}.
	Target []string
	// WorkDir is the child's cwd; empty inherits the parent's.
	WorkDir string
	// Isolated adds --no-project so an ambient pyproject.toml is ignored.
	Isolated bool
	// Python is an interpreter version ("3.12") or an explicit interpreter
	// path (venv python); empty leaves the choice to uv.
	Python string
	// WithDeps injects the job's declared extra dependencies. Script runs
	// only.
	WithDeps bool
}

// BuildCommand translates a resolved environment and a job into argv and
// cwd. Pure: no I/O, deterministic for identical inputs.
func BuildCommand(env ResolvedEnvironment, job model.JobSpec) (argv []string, cwd string) {
	argv = []string{"uv", "run"}
	if env.Isolated {
		argv = append(argv, "--no-project")
	}
	if env.Python != "" {
		argv = append(argv, "--python", env.Python)
	}
	if env.WithDeps {
		for _, dep := range job.Dependencies {
			argv = append(argv, "--with", dep)
		}
	}
	argv = append(argv, env.Target...)
	return argv, env.WorkDir
}

// The three preparation invocations of the uv surface. Kept next to
// BuildCommand so every uv flag the executor emits lives in one file.

func syncCommand(python string) []string {
	argv := []string{"uv", "sync"}
	if python != "" {
		argv = append(argv, "--python", python)
	}
	return argv
}

func venvCommand(python string) []string {
	argv := []string{"uv", "venv"}
	if python != "" {
		argv = append(argv, "--python", python)
	}
	return argv
}

func pipInstallCommand(venvPython string) []string {
	return []string{"uv", "pip", "install", "-r", "requirements.txt", "--python", venvPython}
}
