// Package registry is the database-backed job registry: job definitions and
// run history in a single sqlite file.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pemexe/pem/internal/model"
)

type jobRecord struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	Name         string `gorm:"uniqueIndex;not null"`
	Kind         string `gorm:"not null;type:varchar(16)"`
	Path         string `gorm:"not null"`
	Python       string
	Dependencies string `gorm:"type:text"` // JSON array
	Enabled      bool   `gorm:"default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Runs []runRecord `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
}

func (jobRecord) TableName() string { return "jobs" }

type runRecord struct {
	ID       string `gorm:"primaryKey;type:varchar(36)"`
	JobID    string `gorm:"not null;type:varchar(36);index"`
	JobName  string `gorm:"not null;index"`
	Status   string `gorm:"not null;type:varchar(16)"`
	ExitCode int
	Started  time.Time
	Stopped  time.Time
	Duration time.Duration
	LogPath  string
}

func (runRecord) TableName() string { return "runs" }

type Registry struct {
	db *gorm.DB
}

// Open opens (creating if needed) the sqlite registry and migrates its
// schema.
func Open(path string) (*Registry, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening registry %s: %w", path, err)
	}
	if err := db.AutoMigrate(&jobRecord{}, &runRecord{}); err != nil {
		return nil, fmt.Errorf("migrating registry: %w", err)
	}
	return &Registry{db: db}, nil
}

// Add stores a new job definition. The spec must come from model.NewJobSpec
// so the kind is already validated.
func (r *Registry) Add(spec model.JobSpec) (model.JobSpec, error) {
	deps, err := json.Marshal(spec.Dependencies)
	if err != nil {
		return model.JobSpec{}, err
	}
	rec := jobRecord{
		ID:           uuid.NewString(),
		Name:         spec.Name,
		Kind:         string(spec.Kind),
		Path:         spec.Path,
		Python:       spec.Python,
		Dependencies: string(deps),
		Enabled:      spec.Enabled,
	}
	if err := r.db.Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return model.JobSpec{}, fmt.Errorf("%w: %s", model.ErrJobExists, spec.Name)
		}
		return model.JobSpec{}, err
	}
	spec.ID = rec.ID
	return spec, nil
}

// Get returns one job by name.
func (r *Registry) Get(name string) (model.JobSpec, error) {
	var rec jobRecord
	err := r.db.Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.JobSpec{}, fmt.Errorf("%w: %s", model.ErrJobNotFound, name)
	}
	if err != nil {
		return model.JobSpec{}, err
	}
	return toSpec(rec)
}

// List returns all jobs ordered by name. enabledOnly narrows to jobs the
// daemon should run.
func (r *Registry) List(enabledOnly bool) ([]model.JobSpec, error) {
	q := r.db.Order("name")
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	var recs []jobRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	specs := make([]model.JobSpec, 0, len(recs))
	for _, rec := range recs {
		spec, err := toSpec(rec)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// SetEnabled flips the enabled flag of one job.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	res := r.db.Model(&jobRecord{}).Where("name = ?", name).Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", model.ErrJobNotFound, name)
	}
	return nil
}

// Remove deletes a job and its run history.
func (r *Registry) Remove(name string) error {
	var rec jobRecord
	err := r.db.Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", model.ErrJobNotFound, name)
	}
	if err != nil {
		return err
	}
	if err := r.db.Where("job_id = ?", rec.ID).Delete(&runRecord{}).Error; err != nil {
		return err
	}
	return r.db.Delete(&rec).Error
}

// RecordRun persists one execution result.
func (r *Registry) RecordRun(jobID string, res model.ExecutionResult) error {
	rec := runRecord{
		ID:       res.RunID,
		JobID:    jobID,
		JobName:  res.JobName,
		Status:   string(res.Status),
		ExitCode: res.ExitCode,
		Started:  res.Started,
		Stopped:  res.Stopped,
		Duration: res.Duration,
		LogPath:  res.LogPath,
	}
	return r.db.Create(&rec).Error
}

// Runs returns the most recent executions of one job, newest first.
func (r *Registry) Runs(name string, limit int) ([]model.ExecutionResult, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []runRecord
	err := r.db.Where("job_name = ?", name).Order("started DESC").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.ExecutionResult, 0, len(recs))
	for _, rec := range recs {
		out = append(out, model.ExecutionResult{
			RunID:    rec.ID,
			JobName:  rec.JobName,
			Status:   model.Status(rec.Status),
			ExitCode: rec.ExitCode,
			Started:  rec.Started,
			Stopped:  rec.Stopped,
			Duration: rec.Duration,
			LogPath:  rec.LogPath,
		})
	}
	return out, nil
}

func toSpec(rec jobRecord) (model.JobSpec, error) {
	kind, err := model.ParseKind(rec.Kind)
	if err != nil {
		return model.JobSpec{}, fmt.Errorf("registry row %s: %w", rec.Name, err)
	}
	var deps []string
	if rec.Dependencies != "" {
		if err := json.Unmarshal([]byte(rec.Dependencies), &deps); err != nil {
			return model.JobSpec{}, fmt.Errorf("registry row %s: %w", rec.Name, err)
		}
	}
	return model.JobSpec{
		ID:           rec.ID,
		Name:         rec.Name,
		Kind:         kind,
		Path:         rec.Path,
		Python:       rec.Python,
		Dependencies: deps,
		Enabled:      rec.Enabled,
	}, nil
}
