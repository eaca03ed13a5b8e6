package model

import (
	"errors"
)

var (
	// ErrUnknownJobKind rejects a JobSpec with a kind outside {script, project}.
	ErrUnknownJobKind = errors.New("unknown job kind")
	// ErrMissingPath rejects a JobSpec without a target path for its kind.
	ErrMissingPath = errors.New("missing job path")
	// ErrMissingName rejects a JobSpec without a name.
	ErrMissingName = errors.New("missing job name")
	// ErrPrepFailed reports a non-zero exit of uv sync / uv venv / uv pip install.
	ErrPrepFailed = errors.New("environment preparation failed")
	// ErrJobNotFound is returned by the registry for an unknown job name.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned by the registry on a duplicate job name.
	ErrJobExists = errors.New("job already exists")
)
