// Package store persists runs, job outcomes, and telemetry to SQLite.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fleetsim/fleetsim/events"
)

// Run is the persisted record of one simulation run. Metric columns stay
// NULL until run.completed arrives.
type Run struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Mode         string `gorm:"index" json:"mode"`
	Seed         int    `gorm:"index" json:"seed"`
	Scale        string `gorm:"index" json:"scale"`
	Robots       *int   `json:"robots,omitempty"`
	Jobs         *int   `json:"jobs,omitempty"`
	ScenarioHash string `json:"scenario_hash,omitempty"`
	Status       string `gorm:"index" json:"status"`
	Error        string `json:"error,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	OnTimeRate        *float64 `json:"on_time_rate,omitempty"`
	TotalDistance     *float64 `json:"total_distance,omitempty"`
	AvgCompletionTime *float64 `json:"avg_completion_time,omitempty"`
	MaxLateness       *float64 `json:"max_lateness,omitempty"`
	CompletedJobs     *int     `json:"completed_jobs,omitempty"`
	FailedJobs        *int     `json:"failed_jobs,omitempty"`
	TotalJobs         *int     `json:"total_jobs,omitempty"`
}

// JobOutcome records one terminal job event within a run.
type JobOutcome struct {
	ID        uint    `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID     string  `gorm:"index" json:"run_id"`
	JobID     string  `json:"job_id"`
	RobotID   int     `json:"robot_id"`
	Status    string  `json:"status"`
	LatenessS float64 `json:"lateness_s"`
	SimTimeS  int     `json:"sim_time_s"`
}

// TelemetryRecord is one robot telemetry sample.
type TelemetryRecord struct {
	ID       uint    `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID    string  `gorm:"index" json:"run_id"`
	RobotID  int     `json:"robot_id"`
	SimTimeS int     `json:"sim_time_s"`
	State    string  `json:"state"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Battery  float64 `json:"battery"`
}

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// Store wraps the gorm handle.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Run{}, &JobOutcome{}, &TelemetryRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateRun inserts a new run row in running state. robots/jobs record the
// scenario overrides; nil means the scale preset counts.
func (s *Store) CreateRun(id, mode string, seed int, scale string, robots, jobs *int) error {
	run := Run{
		ID:        id,
		Mode:      mode,
		Seed:      seed,
		Scale:     scale,
		Robots:    robots,
		Jobs:      jobs,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	return s.db.Create(&run).Error
}

// EnsureRun upserts the run row; the recorder may see run.started before the
// API created it (or without any API at all).
func (s *Store) EnsureRun(id, mode string, seed int, scale string, robots, jobs *int) error {
	var existing Run
	err := s.db.First(&existing, "id = ?", id).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.CreateRun(id, mode, seed, scale, robots, jobs)
}

// CompleteRun finalises a run with its scenario hash, status, and metrics.
func (s *Store) CompleteRun(id, scenarioHash, status, errMsg string, m *events.Metrics) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       status,
		"error":        errMsg,
		"completed_at": &now,
	}
	if scenarioHash != "" {
		updates["scenario_hash"] = scenarioHash
	}
	if m != nil {
		updates["on_time_rate"] = m.OnTimeRate
		updates["total_distance"] = m.TotalDistance
		updates["avg_completion_time"] = m.AvgCompletionTime
		updates["max_lateness"] = m.MaxLateness
		updates["completed_jobs"] = m.CompletedJobs
		updates["failed_jobs"] = m.FailedJobs
		updates["total_jobs"] = m.TotalJobs
	}
	return s.db.Model(&Run{}).Where("id = ?", id).Updates(updates).Error
}

// RecordJobOutcome stores one job.completed or job.failed event.
func (s *Store) RecordJobOutcome(o *JobOutcome) error {
	return s.db.Create(o).Error
}

// RecordTelemetry stores one telemetry sample.
func (s *Store) RecordTelemetry(t *TelemetryRecord) error {
	return s.db.Create(t).Error
}

// GetRun loads one run by id.
func (s *Store) GetRun(id string) (*Run, error) {
	var run Run
	if err := s.db.First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// ListRuns returns runs newest first, capped at limit.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []Run
	err := s.db.Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// LatestCompleted returns the most recent completed run for one scenario and
// mode, or ErrRunNotFound when none exists. The robots/jobs filter applies
// only when both are set, matching runs launched with those overrides.
func (s *Store) LatestCompleted(mode string, seed int, scale string, robots, jobs *int) (*Run, error) {
	q := s.db.Where("mode = ? AND status = ? AND seed = ? AND scale = ?",
		mode, "completed", seed, scale)
	if robots != nil && jobs != nil {
		q = q.Where("robots = ? AND jobs = ?", *robots, *jobs)
	}
	var run Run
	err := q.Order("started_at DESC").First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// JobOutcomes returns the terminal job records for a run.
func (s *Store) JobOutcomes(runID string) ([]JobOutcome, error) {
	var out []JobOutcome
	err := s.db.Where("run_id = ?", runID).Order("job_id ASC").Find(&out).Error
	return out, err
}
