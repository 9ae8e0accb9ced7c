// Package events defines the JSON payloads exchanged over the fleet bus.
// Routing keys are listed next to the payload they carry.
package events

import "github.com/fleetsim/fleetsim/bus"

// Routing keys on the amr.events exchange.
const (
	KeyRunStarted   = "run.started"
	KeyRunCompleted = "run.completed"
	KeyJobCreated   = "job.created"
	KeyJobAssigned  = "job.assigned"
	KeyJobCompleted = "job.completed"
	KeyJobFailed    = "job.failed"
	KeyRobotUpdated = "robot.updated"
	KeySnapshotTick = "snapshot.tick"
	KeyTelemetry    = "telemetry.received"
)

// RunStarted is injected at the boundary and fans out to simulator and
// dispatcher. Robots/Jobs override the scale presets when both are set.
type RunStarted struct {
	bus.Envelope
	Robots *int `json:"robots,omitempty"`
	Jobs   *int `json:"jobs,omitempty"`
}

// JobCreated announces one generated job at sim start.
type JobCreated struct {
	bus.Envelope
	JobID      string  `json:"job_id"`
	PickupX    float64 `json:"pickup_x"`
	PickupY    float64 `json:"pickup_y"`
	DropoffX   float64 `json:"dropoff_x"`
	DropoffY   float64 `json:"dropoff_y"`
	DeadlineTS int     `json:"deadline_ts"`
	Priority   int     `json:"priority"`
	State      string  `json:"state"`
}

// RobotUpdated reports a robot state transition or a throttled position
// update. robot_id, state, and sim_time_s are the required keys; the rest
// are optional enrichment.
type RobotUpdated struct {
	bus.Envelope
	RobotID      int      `json:"robot_id"`
	State        string   `json:"state"`
	X            *float64 `json:"x,omitempty"`
	Y            *float64 `json:"y,omitempty"`
	Speed        *float64 `json:"speed,omitempty"`
	Battery      *float64 `json:"battery,omitempty"`
	CurrentJobID *string  `json:"current_job_id,omitempty"`
}

// JobAssigned is the dispatcher's command to the simulator. The idempotency
// key is run_id:job_id; the simulator drops duplicates.
type JobAssigned struct {
	bus.Envelope
	JobID          string `json:"job_id"`
	RobotID        int    `json:"robot_id"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// JobTerminal is the payload shared by job.completed and job.failed.
type JobTerminal struct {
	bus.Envelope
	JobID     string  `json:"job_id"`
	RobotID   int     `json:"robot_id,omitempty"`
	LatenessS float64 `json:"lateness_s"`
}

// SnapshotRobot is one robot inside a snapshot.tick.
type SnapshotRobot struct {
	ID           int     `json:"id"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Speed        float64 `json:"speed"`
	Battery      float64 `json:"battery"`
	State        string  `json:"state"`
	CurrentJobID *string `json:"current_job_id"`
}

// SnapshotJob is one job inside a snapshot.tick.
type SnapshotJob struct {
	ID              string  `json:"id"`
	PickupX         float64 `json:"pickup_x"`
	PickupY         float64 `json:"pickup_y"`
	DropoffX        float64 `json:"dropoff_x"`
	DropoffY        float64 `json:"dropoff_y"`
	DeadlineTS      int     `json:"deadline_ts"`
	Priority        int     `json:"priority"`
	State           string  `json:"state"`
	AssignedRobotID *int    `json:"assigned_robot_id"`
}

// Snapshot is the full world view emitted once per tick.
type Snapshot struct {
	Robots []SnapshotRobot `json:"robots"`
	Jobs   []SnapshotJob   `json:"jobs"`
}

// SnapshotTick wraps a Snapshot for the viewer.
type SnapshotTick struct {
	bus.Envelope
	Snapshot Snapshot `json:"snapshot"`
}

// Telemetry is emitted once per incremented sim-second per robot.
type Telemetry struct {
	bus.Envelope
	RobotID      int     `json:"robot_id"`
	State        string  `json:"state"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Battery      float64 `json:"battery"`
	CurrentJobID *string `json:"current_job_id,omitempty"`
}

// Metrics is the fleet-level result block inside run.completed.
type Metrics struct {
	OnTimeRate        float64 `json:"on_time_rate"`
	TotalDistance     float64 `json:"total_distance"`
	AvgCompletionTime float64 `json:"avg_completion_time"`
	MaxLateness       float64 `json:"max_lateness"`
	CompletedJobs     int     `json:"completed_jobs"`
	FailedJobs        int     `json:"failed_jobs"`
	TotalJobs         int     `json:"total_jobs"`
}

// RunCompleted terminates a run. Status is "completed", or "failed" with
// Error set when scenario generation rejected the inputs.
type RunCompleted struct {
	bus.Envelope
	ScenarioHash string   `json:"scenario_hash,omitempty"`
	Status       string   `json:"status"`
	Error        string   `json:"error,omitempty"`
	Metrics      *Metrics `json:"metrics,omitempty"`
}
