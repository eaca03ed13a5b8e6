package model

import (
	"fmt"
)

// Kind discriminates the two job variants. Values outside the two constants
// never survive NewJobSpec, so later switches only need a defensive default.
type Kind string

const (
	KindScript  Kind = "script"
	KindProject Kind = "project"
)

// ParseKind validates a kind string coming from the CLI or the registry.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindScript, KindProject:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q, must be either %q or %q",
			ErrUnknownJobKind, s, KindScript, KindProject)
	}
}

// JobSpec describes one job to run. Immutable after construction.
//
// Path is the script file for KindScript and the project root for
// KindProject. Dependencies are only meaningful for KindScript, keep order
// and duplicates as declared.
type JobSpec struct {
	ID           string
	Name         string
	Kind         Kind
	Path         string
	Python       string // interpreter version for uv, empty means default
	Dependencies []string
	Enabled      bool
}

// NewJobSpec is the only place an invalid job is rejected synchronously.
// Everything past this point reports failures as result values.
func NewJobSpec(name, kind, path string) (JobSpec, error) {
	if name == "" {
		return JobSpec{}, ErrMissingName
	}
	k, err := ParseKind(kind)
	if err != nil {
		return JobSpec{}, err
	}
	if path == "" {
		return JobSpec{}, fmt.Errorf("%w: %s job %q", ErrMissingPath, k, name)
	}
	return JobSpec{
		Name:    name,
		Kind:    k,
		Path:    path,
		Enabled: true,
	}, nil
}
