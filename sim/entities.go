// Package sim implements the deterministic AMR fleet simulation: scenario
// generation, the discrete-time engine, metrics, and the bus-driven runner.
package sim

import "math"

// RobotState enumerates robot lifecycle states.
type RobotState string

const (
	RobotIdle            RobotState = "idle"
	RobotMovingToPickup  RobotState = "moving_to_pickup"
	RobotMovingToDropoff RobotState = "moving_to_dropoff"
	RobotServicing       RobotState = "servicing"
	RobotCharging        RobotState = "charging"
)

// JobState enumerates job lifecycle states. Transitions are monotonic:
// pending -> assigned -> in_progress -> completed | failed.
type JobState string

const (
	JobPending    JobState = "pending"
	JobUnassigned JobState = "unassigned"
	JobAssigned   JobState = "assigned"
	JobInProgress JobState = "in_progress"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// Robot is the authoritative robot state tracked by the engine.
type Robot struct {
	ID      int
	X       float64
	Y       float64
	Speed   float64
	Battery float64
	State   RobotState

	// CurrentJobID is empty when the robot has no job.
	CurrentJobID string

	// Movement/servicing bookkeeping.
	TargetX          float64
	TargetY          float64
	HasTarget        bool
	ServiceRemaining float64
	ResumeState      RobotState

	DistanceTraveled float64
}

// Job is the authoritative job state tracked by the engine.
type Job struct {
	ID         string
	PickupX    float64
	PickupY    float64
	DropoffX   float64
	DropoffY   float64
	DeadlineTS int
	Priority   int
	State      JobState

	// AssignedRobotID is 0 when the job has no robot.
	AssignedRobotID int

	CreatedSimTS   int
	StartedSimTS   int
	CompletedSimTS int
	// LatenessS is completed_sim_ts - deadline_ts, recorded signed.
	LatenessS float64
}

// Terminal reports whether the job reached a terminal state.
func (j *Job) Terminal() bool {
	return j.State == JobCompleted || j.State == JobFailed
}

// Assignable reports whether the job can still accept an assignment.
func (j *Job) Assignable() bool {
	return j.State == JobPending || j.State == JobUnassigned
}

// Distance returns the Euclidean distance between two points.
func Distance(ax, ay, bx, by float64) float64 {
	return math.Hypot(ax-bx, ay-by)
}
