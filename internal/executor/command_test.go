package executor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pemexe/pem/internal/executor"
	"github.com/pemexe/pem/internal/model"
)

func TestBuildCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		scenario string
		env      executor.ResolvedEnvironment
		job      model.JobSpec
		wantArgv []string
		wantCwd  string
	}{
		{
			scenario: "bare script",
			env: executor.ResolvedEnvironment{
				Target:   []string{"/work/hello.py"},
				Isolated: true,
				WithDeps: true,
			},
			job:      model.JobSpec{Name: "hello", Kind: model.KindScript, Path: "/work/hello.py"},
			wantArgv: []string{"uv", "run", "--no-project", "/work/hello.py"},
		},
		{
			scenario: "script with version and deps",
			env: executor.ResolvedEnvironment{
				Target:   []string{"/work/fetch.py"},
				Isolated: true,
				Python:   "3.12",
				WithDeps: true,
			},
			job: model.JobSpec{
				Name:         "fetch",
				Kind:         model.KindScript,
				Path:         "/work/fetch.py",
				Dependencies: []string{"requests", "rich"},
			},
			wantArgv: []string{
				"uv", "run", "--no-project", "--python", "3.12",
				"--with", "requests", "--with", "rich", "/work/fetch.py",
			},
		},
		{
			scenario: "managed project",
			env: executor.ResolvedEnvironment{
				Target:  []string{"python", "main.py"},
				WorkDir: "/work/api",
			},
			job:      model.JobSpec{Name: "api", Kind: model.KindProject, Path: "/work/api"},
			wantArgv: []string{"uv", "run", "python", "main.py"},
			wantCwd:  "/work/api",
		},
		{
			scenario: "venv pinned by interpreter path",
			env: executor.ResolvedEnvironment{
				Target:   []string{"python", "main.py"},
				WorkDir:  "/work/legacy",
				Isolated: true,
				Python:   "/work/legacy/.venv/bin/python",
			},
			job: model.JobSpec{Name: "legacy", Kind: model.KindProject, Path: "/work/legacy"},
			wantArgv: []string{
				"uv", "run", "--no-project",
				"--python", "/work/legacy/.venv/bin/python",
				"python", "main.py",
			},
			wantCwd: "/work/legacy",
		},
		{
			scenario: "module fallback",
			env: executor.ResolvedEnvironment{
				Target:   []string{"python", "-m", "toolbox"},
				WorkDir:  "/work",
				Isolated: true,
			},
			job:      model.JobSpec{Name: "toolbox", Kind: model.KindProject, Path: "/work/toolbox"},
			wantArgv: []string{"uv", "run", "--no-project", "python", "-m", "toolbox"},
			wantCwd:  "/work",
		},
		{
			scenario: "deps ignored without WithDeps",
			env: executor.ResolvedEnvironment{
				Target:   []string{"/work/proj/tool.py"},
				Isolated: true,
			},
			job: model.JobSpec{
				Name:         "tool",
				Kind:         model.KindProject,
				Path:         "/work/proj/tool.py",
				Dependencies: []string{"requests"},
			},
			wantArgv: []string{"uv", "run", "--no-project", "/work/proj/tool.py"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			argv, cwd := executor.BuildCommand(tc.env, tc.job)
			require.Equal(t, tc.wantArgv, argv)
			require.Equal(t, tc.wantCwd, cwd)
		})
	}
}

func TestBuildCommandDeterministic(t *testing.T) {
	t.Parallel()

	env := executor.ResolvedEnvironment{
		Target:   []string{"/work/hello.py"},
		Isolated: true,
		Python:   "3.11",
		WithDeps: true,
	}
	job := model.JobSpec{
		Name:         "hello",
		Kind:         model.KindScript,
		Path:         "/work/hello.py",
		Dependencies: []string{"requests", "rich"},
	}

	first, _ := executor.BuildCommand(env, job)
	second, _ := executor.BuildCommand(env, job)
	require.Equal(t, first, second)
}
