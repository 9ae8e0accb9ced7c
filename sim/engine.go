package sim

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/fleetsim/fleetsim/events"
)

// Default per-tick battery drain for non-idle, non-charging robots:
// 0.05 %/tick = 0.25 %/sim-second at 5 Hz. Demo-scale runs deplete only
// under sustained movement.
const DefaultBatteryDrainPerTick = 0.05

const arrivalEps = 1e-9

// EngineConfig groups the engine parameters for NewEngine.
type EngineConfig struct {
	TickHz                int
	ServiceTimeS          float64
	MaxSimSeconds         int
	BatteryDrainPerTick   float64 // 0 = DefaultBatteryDrainPerTick
	ChargeRate            float64 // percent per sim-second
	ChargeResumeThreshold float64
	BatteryThreshold      float64 // assignment eligibility floor
}

// Assignment is one job.assigned command as applied by the engine.
type Assignment struct {
	JobID          string
	RobotID        int
	IdempotencyKey string
}

// RobotSink receives robot.updated emissions from the engine.
type RobotSink func(r *Robot, simTimeS int)

// Engine advances the authoritative world state one tick at a time. It is
// the single writer for robots and jobs of its run; the dispatcher holds
// only a projection.
type Engine struct {
	RunID  string
	Robots []*Robot // ascending id
	Jobs   []*Job   // ascending id

	cfg  EngineConfig
	dt   float64
	tick int

	jobsByID   map[string]*Job
	robotsByID map[int]*Robot

	seenAssignments   map[string]bool
	lastPositionEmitS map[int]int
	sink              RobotSink
}

// NewEngine wires an engine around generated scenario state.
func NewEngine(runID string, robots []*Robot, jobs []*Job, cfg EngineConfig, sink RobotSink) *Engine {
	if cfg.BatteryDrainPerTick == 0 {
		cfg.BatteryDrainPerTick = DefaultBatteryDrainPerTick
	}
	e := &Engine{
		RunID:             runID,
		Robots:            robots,
		Jobs:              jobs,
		cfg:               cfg,
		dt:                1.0 / float64(cfg.TickHz),
		jobsByID:          make(map[string]*Job, len(jobs)),
		robotsByID:        make(map[int]*Robot, len(robots)),
		seenAssignments:   make(map[string]bool),
		lastPositionEmitS: make(map[int]int),
		sink:              sink,
	}
	for _, j := range jobs {
		e.jobsByID[j.ID] = j
	}
	for _, r := range robots {
		e.robotsByID[r.ID] = r
	}
	return e
}

// SimTimeS returns the current simulation time in whole seconds.
func (e *Engine) SimTimeS() int {
	return e.tick / e.cfg.TickHz
}

// EmitInitialRobotUpdates publishes robot.updated for every robot at sim start.
func (e *Engine) EmitInitialRobotUpdates() {
	simTimeS := e.SimTimeS()
	for _, r := range e.Robots {
		e.emit(r, simTimeS, true)
	}
}

// ApplyAssignment materialises a dispatcher command if the job and robot are
// still eligible. Duplicates (same idempotency key) are silently dropped;
// invalid commands are logged and ignored.
func (e *Engine) ApplyAssignment(a Assignment) bool {
	if a.IdempotencyKey != "" && e.seenAssignments[a.IdempotencyKey] {
		return false
	}
	robot := e.robotsByID[a.RobotID]
	job := e.jobsByID[a.JobID]
	if robot == nil || job == nil {
		logrus.Warnf("assignment for unknown entity run_id=%s job_id=%s robot_id=%d", e.RunID, a.JobID, a.RobotID)
		return false
	}
	if !job.Assignable() {
		if job.State == JobAssigned {
			// Duplicate assignment for an already-assigned job.
			return false
		}
		logrus.Warnf("rejecting re-assignment run_id=%s job_id=%s state=%s", e.RunID, a.JobID, job.State)
		return false
	}
	if robot.State != RobotIdle || robot.CurrentJobID != "" || robot.Battery < e.cfg.BatteryThreshold {
		logrus.Warnf("assignment to ineligible robot run_id=%s job_id=%s robot_id=%d state=%s battery=%.1f",
			e.RunID, a.JobID, a.RobotID, robot.State, robot.Battery)
		return false
	}

	if a.IdempotencyKey != "" {
		e.seenAssignments[a.IdempotencyKey] = true
	}
	simTimeS := e.SimTimeS()
	job.State = JobAssigned
	job.AssignedRobotID = robot.ID
	job.StartedSimTS = simTimeS

	robot.CurrentJobID = job.ID
	robot.TargetX = job.PickupX
	robot.TargetY = job.PickupY
	robot.HasTarget = true
	robot.State = RobotMovingToPickup
	e.emit(robot, simTimeS, true)
	return true
}

// Step advances the simulation by one tick: robots move, service, drain
// battery, and charge; state transitions emit robot.updated immediately,
// position-only updates are throttled to once per sim-second per robot.
func (e *Engine) Step() {
	simTimeS := e.SimTimeS()
	for _, r := range e.Robots {
		prev := r.State
		e.advanceRobot(r)
		e.emit(r, simTimeS, r.State != prev)
	}
	e.tick++
}

// ShouldStop reports whether the run is over: the horizon was reached or
// every job is terminal.
func (e *Engine) ShouldStop() bool {
	if e.SimTimeS() >= e.cfg.MaxSimSeconds {
		return true
	}
	for _, j := range e.Jobs {
		if !j.Terminal() {
			return false
		}
	}
	return true
}

// Finalize fails any job still incomplete at the end of the run.
func (e *Engine) Finalize() {
	simTimeS := e.SimTimeS()
	for _, j := range e.Jobs {
		if j.Terminal() {
			continue
		}
		j.State = JobFailed
		j.CompletedSimTS = simTimeS
		if late := float64(simTimeS - j.DeadlineTS); late > 0 {
			j.LatenessS = late
		}
	}
}

// Snapshot returns the full world view for snapshot.tick.
func (e *Engine) Snapshot() events.Snapshot {
	snap := events.Snapshot{}
	for _, r := range e.Robots {
		var jobID *string
		if r.CurrentJobID != "" {
			id := r.CurrentJobID
			jobID = &id
		}
		snap.Robots = append(snap.Robots, events.SnapshotRobot{
			ID:           r.ID,
			X:            round3(r.X),
			Y:            round3(r.Y),
			Speed:        r.Speed,
			Battery:      round3(r.Battery),
			State:        string(r.State),
			CurrentJobID: jobID,
		})
	}
	for _, j := range e.Jobs {
		var robotID *int
		if j.AssignedRobotID != 0 {
			id := j.AssignedRobotID
			robotID = &id
		}
		snap.Jobs = append(snap.Jobs, events.SnapshotJob{
			ID:              j.ID,
			PickupX:         j.PickupX,
			PickupY:         j.PickupY,
			DropoffX:        j.DropoffX,
			DropoffY:        j.DropoffY,
			DeadlineTS:      j.DeadlineTS,
			Priority:        j.Priority,
			State:           string(j.State),
			AssignedRobotID: robotID,
		})
	}
	return snap
}

func (e *Engine) advanceRobot(r *Robot) {
	if r.State == RobotCharging {
		r.Battery = math.Min(100.0, r.Battery+e.cfg.ChargeRate*e.dt)
		if r.Battery >= e.cfg.ChargeResumeThreshold {
			// Resume a paused job by re-entering the prior state toward
			// the current waypoint; otherwise back to idle.
			if r.ResumeState != "" && r.CurrentJobID != "" {
				r.State = r.ResumeState
			} else {
				r.State = RobotIdle
			}
			r.ResumeState = ""
		}
		return
	}
	if r.State == RobotIdle {
		return
	}

	switch r.State {
	case RobotMovingToPickup, RobotMovingToDropoff:
		e.moveRobot(r)
	case RobotServicing:
		e.serviceRobot(r)
	}

	// Battery drain applies to every non-idle, non-charging robot once per
	// tick. Hitting zero pauses the current job and sends the robot to
	// charge; the job is preserved, not failed.
	if r.State != RobotIdle && r.State != RobotCharging {
		r.Battery -= e.cfg.BatteryDrainPerTick
		if r.Battery <= 0 {
			r.Battery = 0
			r.ResumeState = r.State
			r.State = RobotCharging
		}
	}
}

func (e *Engine) moveRobot(r *Robot) {
	job := e.jobsByID[r.CurrentJobID]
	if job == nil || !r.HasTarget {
		logrus.Warnf("robot moving without job run_id=%s robot_id=%d", e.RunID, r.ID)
		e.clearRobot(r)
		return
	}

	dx := r.TargetX - r.X
	dy := r.TargetY - r.Y
	distToTarget := Distance(r.X, r.Y, r.TargetX, r.TargetY)
	stepDist := r.Speed * e.dt

	if distToTarget <= stepDist+arrivalEps {
		r.DistanceTraveled += distToTarget
		r.X = r.TargetX
		r.Y = r.TargetY
		if r.State == RobotMovingToPickup {
			r.State = RobotServicing
			r.ServiceRemaining = e.cfg.ServiceTimeS
			return
		}
		e.completeJob(r, job)
		return
	}

	ratio := stepDist / distToTarget
	r.X += dx * ratio
	r.Y += dy * ratio
	r.DistanceTraveled += stepDist
}

func (e *Engine) serviceRobot(r *Robot) {
	job := e.jobsByID[r.CurrentJobID]
	if job == nil {
		logrus.Warnf("robot servicing without job run_id=%s robot_id=%d", e.RunID, r.ID)
		e.clearRobot(r)
		return
	}
	r.ServiceRemaining -= e.dt
	if r.ServiceRemaining > arrivalEps {
		return
	}
	r.ServiceRemaining = 0
	job.State = JobInProgress
	r.State = RobotMovingToDropoff
	r.TargetX = job.DropoffX
	r.TargetY = job.DropoffY
	r.HasTarget = true
}

func (e *Engine) completeJob(r *Robot, job *Job) {
	simTimeS := e.SimTimeS()
	job.State = JobCompleted
	job.CompletedSimTS = simTimeS
	job.LatenessS = float64(simTimeS - job.DeadlineTS)
	e.clearRobot(r)
}

func (e *Engine) clearRobot(r *Robot) {
	r.State = RobotIdle
	r.CurrentJobID = ""
	r.HasTarget = false
	r.ServiceRemaining = 0
}

func (e *Engine) emit(r *Robot, simTimeS int, force bool) {
	if e.sink == nil {
		return
	}
	if !force {
		if last, ok := e.lastPositionEmitS[r.ID]; ok && simTimeS <= last {
			return
		}
	}
	e.sink(r, simTimeS)
	e.lastPositionEmitS[r.ID] = simTimeS
}
