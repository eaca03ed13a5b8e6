package executor_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pemexe/pem/internal/executor"
	"github.com/pemexe/pem/internal/model"
)

// fakeUV puts a shell script named uv at the front of PATH. The script body
// decides the behavior of every uv invocation in the test.
func fakeUV(t *testing.T, script string) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "uv")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func testConfig(t *testing.T) (model.Config, string) {
	t.Helper()
	logs := t.TempDir()
	cfg := model.DefaultConfig()
	cfg.LogsDir = &logs
	return cfg, logs
}

var logNameRx = regexp.MustCompile(`^[a-z]+_\d{14}\.log$`)

func TestExecutorExecute_Script(t *testing.T) {
	fakeUV(t, `echo "uv $@"`)
	cfg, logs := testConfig(t)

	exe, err := executor.New(cfg)
	require.NoError(t, err)

	job, err := model.NewJobSpec("hello", "script", filepath.Join(t.TempDir(), "hello.py"))
	require.NoError(t, err)
	job.Dependencies = []string{"requests"}

	res := exe.Execute(context.Background(), job)
	require.Equal(t, model.StatusSuccess, res.Status)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, "hello", res.JobName)
	require.NotEmpty(t, res.RunID)
	require.GreaterOrEqual(t, res.Duration, time.Duration(0))
	require.Equal(t, logs, filepath.Dir(res.LogPath))
	require.Regexp(t, logNameRx, filepath.Base(res.LogPath))

	content, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	require.Contains(t, string(content), "=== pem job execution log ===")
	require.Contains(t, string(content), "Job: hello (run "+res.RunID+")")
	require.Contains(t, string(content), "--- Running command: uv run --no-project --with requests")
	require.Contains(t, string(content), "uv run --no-project --with requests")
}

func TestExecutorExecute_NonzeroExit(t *testing.T) {
	fakeUV(t, `exit 3`)
	cfg, _ := testConfig(t)

	exe, err := executor.New(cfg)
	require.NoError(t, err)

	job, err := model.NewJobSpec("fail", "script", "/work/fail.py")
	require.NoError(t, err)

	res := exe.Execute(context.Background(), job)
	require.Equal(t, model.StatusFailed, res.Status)
	require.Equal(t, 3, res.ExitCode)
}

func TestExecutorExecute_MissingUV(t *testing.T) {
	// PATH with no uv at all: the spawn failure becomes a failed result, not
	// a panic or an error return.
	t.Setenv("PATH", t.TempDir())
	cfg, _ := testConfig(t)

	exe, err := executor.New(cfg)
	require.NoError(t, err)

	job, err := model.NewJobSpec("lost", "script", "/work/lost.py")
	require.NoError(t, err)

	res := exe.Execute(context.Background(), job)
	require.Equal(t, model.StatusFailed, res.Status)
	require.Equal(t, model.ExitExecutor, res.ExitCode)
	require.GreaterOrEqual(t, res.Duration, time.Duration(0))
}

func TestExecutorExecute_UnknownKind(t *testing.T) {
	fakeUV(t, `exit 0`)
	cfg, _ := testConfig(t)

	exe, err := executor.New(cfg)
	require.NoError(t, err)

	res := exe.Execute(context.Background(), model.JobSpec{Name: "odd", Kind: "container", Path: "/x"})
	require.Equal(t, model.StatusFailed, res.Status)
	require.Equal(t, model.ExitExecutor, res.ExitCode)

	content, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	require.Contains(t, string(content), "Error:")
}

func TestExecutorExecute_PrepFailure(t *testing.T) {
	fakeUV(t, `case "$1" in sync) exit 9 ;; *) exit 0 ;; esac`)
	cfg, _ := testConfig(t)

	exe, err := executor.New(cfg)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), nil, 0o644))

	job, err := model.NewJobSpec("proj", "project", dir)
	require.NoError(t, err)

	res := exe.Execute(context.Background(), job)
	require.Equal(t, model.StatusFailed, res.Status)
	require.Equal(t, model.ExitExecutor, res.ExitCode)

	content, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	require.Contains(t, string(content), "--- Preparing environment: uv sync ---")
	require.Contains(t, string(content), "Error:")
}

func TestExecutorExecute_Timeout(t *testing.T) {
	fakeUV(t, `sleep 30`)
	cfg, _ := testConfig(t)
	cfg.Executor.Timeout = "100ms"

	exe, err := executor.New(cfg)
	require.NoError(t, err)

	job, err := model.NewJobSpec("slow", "script", "/work/slow.py")
	require.NoError(t, err)

	start := time.Now()
	res := exe.Execute(context.Background(), job)
	require.Equal(t, model.StatusFailed, res.Status)
	require.Equal(t, model.ExitExecutor, res.ExitCode)
	require.Less(t, time.Since(start), 15*time.Second)
}
