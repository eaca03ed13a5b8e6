package executor

// Package executor runs python jobs as supervised uv subprocesses.
//
// Overview
// Execute is the single public entry point. It owns the per-run log file,
// dispatches on the job kind and converts every failure mode into an
// ExecutionResult. Under normal operation it never panics; the only
// synchronous rejection in the whole pipeline is model.NewJobSpec.
//
// Resolver decides how a target should be executed and performs one-time
// environment preparation (uv sync for a pyproject.toml project, uv venv
// plus uv pip install for a requirements.txt project). Preparation runs
// through the same Supervisor as the job itself, so it is bounded by the
// same concurrency slot and timeout and its output lands in the job log.
//
// BuildCommand is a pure translation from a ResolvedEnvironment plus a
// JobSpec into argv and cwd. It is the only place uv flags are spelled.
//
// Supervisor is a thin, opinionated wrapper around os/exec:
//   - acquires one slot of a weighted semaphore before spawning
//   - merges stdout+stderr into the log sink through a sized buffer
//   - waits up to the timeout, then SIGTERM, 10s grace, SIGKILL
//   - maps every intervention (timeout, spawn failure, cancellation)
//     to the sentinel exit code -1
//
// Data flow:
//
//   Execute(job)          Resolver              BuildCommand      Supervisor
//       |                    |                       |                |
//       | open log, header   |                       |                |
//       |------------------->| stat target,          |                |
//       |                    | prepare env ----------------prep------>| Run()
//       |                    |                       |                |
//       |<-- ResolvedEnvironment                     |                |
//       |------------------------------------------->| argv, cwd      |
//       |------------------------------------------------------------>| Run()
//       |<------------------------------- exit code ------------------|
//       | result (status, code, times, log path)
//
// Invariants:
//   - At most max_concurrent child processes are alive at any instant.
//   - Exit code -1 always means the executor intervened, never the child.
//   - Preparation happens iff the environment is absent, never on content
//     change.
//   - The log file name carries the start timestamp to the second, so runs
//     never overwrite each other.
