package model

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

// Enum helpers (optional).
const (
	ServiceModeManual = "manual"
	ServiceModeTimer  = "timer"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version  int      `json:"version" yaml:"version"` // fixed 0 for now
	Executor Executor `json:"executor" yaml:"executor"`
	LogsDir  *string  `json:"logs_dir,omitempty" yaml:"logs_dir,omitempty"` // nil => <user config dir>/pem/logs
	Database *string  `json:"database,omitempty" yaml:"database,omitempty"` // nil => <user config dir>/pem/pem.db
	Service  Service  `json:"service" yaml:"service"`
}

// Executor bounds for child processes.
type Executor struct {
	MaxConcurrent int     `json:"max_concurrent" yaml:"max_concurrent"`
	Timeout       string  `json:"timeout" yaml:"timeout"`                   // Go duration syntax
	Python        *string `json:"python,omitempty" yaml:"python,omitempty"` // default interpreter version for uv
	BufferLimit   int     `json:"buffer_limit" yaml:"buffer_limit"`
}

// Service daemon settings.
type Service struct {
	Mode     string    `json:"mode" yaml:"mode"` // "manual" | "timer"
	Verbose  *bool     `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Schedule *Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"` // required when Mode == "timer"
}

// Schedule is either a 5-field cron expression or an ISO-8601 duration.
type Schedule struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// LoadConfig validates YAML from r against the CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}

// DefaultConfig returns a configuration usable without a config file.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Executor: Executor{
			MaxConcurrent: 4,
			Timeout:       "1h",
			BufferLimit:   1 << 20,
		},
		Service: Service{
			Mode: ServiceModeManual,
		},
	}
}

// ProcessTimeout parses Executor.Timeout, falling back to one hour.
func (c Config) ProcessTimeout() time.Duration {
	d, err := time.ParseDuration(c.Executor.Timeout)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// DefaultPython returns the configured interpreter version or empty string.
func (c Config) DefaultPython() string {
	if c.Executor.Python == nil {
		return ""
	}
	return *c.Executor.Python
}

// LogsDirectory resolves the per-run log directory, creating it if needed.
func (c Config) LogsDirectory() (string, error) {
	dir := deref(c.LogsDir)
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(base, "pem", "logs")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// DatabasePath resolves the sqlite registry path, creating its directory.
func (c Config) DatabasePath() (string, error) {
	path := deref(c.Database)
	if path == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(base, "pem", "pem.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
