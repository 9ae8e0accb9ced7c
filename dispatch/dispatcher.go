package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetsim/fleetsim/bus"
	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/events"
	"github.com/fleetsim/fleetsim/ga"
)

// Dispatcher consumes run/job/robot events and emits job.assigned commands.
// Event handling is serialised per run through the run state lock; optimizer
// calls run off the event path under a single-flight flag so the projection
// keeps updating while a plan is computed.
type Dispatcher struct {
	cfg         *config.Config
	bus         bus.Bus
	planner     Planner
	PlanTimeout time.Duration

	mu   sync.Mutex
	runs map[string]*runState
	wg   sync.WaitGroup
}

// NewDispatcher wires a dispatcher to the bus and a planner.
func NewDispatcher(cfg *config.Config, b bus.Bus, planner Planner) *Dispatcher {
	return &Dispatcher{
		cfg:         cfg,
		bus:         b,
		planner:     planner,
		PlanTimeout: DefaultPlanTimeout,
		runs:        make(map[string]*runState),
	}
}

// Run consumes bus events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	deliveries, err := d.bus.Consume("dispatcher", []string{
		events.KeyRunStarted, events.KeyJobCreated, events.KeyRobotUpdated,
	})
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	logrus.Info("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				d.wg.Wait()
				return nil
			}
			d.handle(delivery)
		}
	}
}

func (d *Dispatcher) handle(delivery bus.Delivery) {
	switch delivery.RoutingKey {
	case events.KeyRunStarted:
		d.handleRunStarted(delivery.Body)
	case events.KeyJobCreated:
		d.handleJobCreated(delivery.Body)
	case events.KeyRobotUpdated:
		d.handleRobotUpdated(delivery.Body)
	}
}

func (d *Dispatcher) state(runID string) *runState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs[runID]
}

func (d *Dispatcher) handleRunStarted(body []byte) {
	var ev events.RunStarted
	if err := json.Unmarshal(body, &ev); err != nil || ev.RunID == "" {
		logrus.Warnf("dropping malformed run.started err=%v", err)
		return
	}
	mode := ev.Mode
	if mode == "" {
		mode = d.cfg.DefaultMode
	}
	scale := ev.Scale
	if scale == "" {
		scale = d.cfg.DefaultScale
	}

	d.mu.Lock()
	d.runs[ev.RunID] = newRunState(ev.RunID, mode, ev.Seed, scale)
	d.mu.Unlock()
	logrus.Infof("run started run_id=%s mode=%s seed=%d scale=%s", ev.RunID, mode, ev.Seed, scale)
}

func (d *Dispatcher) handleJobCreated(body []byte) {
	var ev events.JobCreated
	if err := json.Unmarshal(body, &ev); err != nil || ev.RunID == "" || ev.JobID == "" {
		logrus.Warnf("dropping malformed job.created err=%v", err)
		return
	}
	st := d.state(ev.RunID)
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	jobState := ev.State
	if jobState == "" {
		jobState = "pending"
	}
	st.jobs[ev.JobID] = &JobView{
		ID:         ev.JobID,
		PickupX:    ev.PickupX,
		PickupY:    ev.PickupY,
		DropoffX:   ev.DropoffX,
		DropoffY:   ev.DropoffY,
		DeadlineTS: ev.DeadlineTS,
		Priority:   ev.Priority,
		State:      jobState,
	}
	// Assignments are driven from robot.updated events so the job.created
	// burst at run start does not over-assign against a half-built
	// projection.
}

// robotUpdatedWire distinguishes absent optional fields from zero values.
type robotUpdatedWire struct {
	RunID        string   `json:"run_id"`
	RobotID      *int     `json:"robot_id"`
	State        *string  `json:"state"`
	SimTimeS     *int     `json:"sim_time_s"`
	X            *float64 `json:"x"`
	Y            *float64 `json:"y"`
	Speed        *float64 `json:"speed"`
	Battery      *float64 `json:"battery"`
	CurrentJobID *string  `json:"current_job_id"`
}

func (d *Dispatcher) handleRobotUpdated(body []byte) {
	var ev robotUpdatedWire
	if err := json.Unmarshal(body, &ev); err != nil {
		logrus.Warnf("dropping malformed robot.updated err=%v", err)
		return
	}
	st := d.state(ev.RunID)
	if st == nil {
		return
	}
	if ev.RobotID == nil || ev.State == nil || ev.SimTimeS == nil {
		logrus.Warnf("dropping robot.updated with missing required keys run_id=%s", ev.RunID)
		return
	}
	robotID := *ev.RobotID
	newState := *ev.State
	simTimeS := *ev.SimTimeS

	st.mu.Lock()
	defer st.mu.Unlock()

	if pendingJob, ok := st.pendingAssignments[robotID]; ok {
		switch {
		case ev.CurrentJobID != nil && *ev.CurrentJobID == pendingJob:
			delete(st.pendingAssignments, robotID)
		case newState != "idle":
			delete(st.pendingAssignments, robotID)
		case ev.CurrentJobID == nil:
			// Stale idle update that predates our in-flight command.
			return
		}
	}

	prevState := ""
	view := st.robots[robotID]
	if view == nil {
		view = &RobotView{ID: robotID, Battery: 100.0, Speed: 1.0}
		st.robots[robotID] = view
	} else {
		prevState = view.State
	}
	view.State = newState
	view.SimTimeS = simTimeS
	if ev.X != nil {
		view.X = *ev.X
	}
	if ev.Y != nil {
		view.Y = *ev.Y
	}
	if ev.Speed != nil {
		view.Speed = *ev.Speed
	}
	if ev.Battery != nil {
		view.Battery = *ev.Battery
	}
	if ev.CurrentJobID != nil {
		view.CurrentJobID = *ev.CurrentJobID
	} else {
		view.CurrentJobID = ""
	}

	// Battery gating: a charging or depleted robot loses its planned work.
	if newState == "charging" || view.Battery < d.cfg.BatteryThreshold {
		delete(st.plannedQueues, robotID)
		delete(st.pendingAssignments, robotID)
	}

	if st.mode == "baseline" {
		d.sweepBaselineLocked(st, simTimeS)
		return
	}

	d.emitPlannedLocked(st, robotID, simTimeS)

	hasPending := len(st.pendingJobs()) > 0
	interval := d.cfg.GA.ReplanIntervalS
	if interval > 0 && hasPending && !st.inFlightOptimize &&
		(st.lastReplanSimS < 0 || simTimeS-st.lastReplanSimS >= interval) {
		d.replanLocked(st, simTimeS, "periodic")
		return
	}

	transitionedToIdle := prevState != "idle" && newState == "idle"
	queueEmpty := len(st.plannedQueues[robotID]) == 0
	if transitionedToIdle && queueEmpty && hasPending && !st.inFlightOptimize {
		reason := "idle_gap"
		if st.lastReplanSimS < 0 {
			reason = "run_start"
		}
		d.replanLocked(st, simTimeS, reason)
	}
}

// sweepBaselineLocked runs the baseline heuristic at most once per
// sim-second to avoid flooding on every robot.updated.
func (d *Dispatcher) sweepBaselineLocked(st *runState, simTimeS int) {
	if st.lastBaselineS == simTimeS {
		return
	}
	st.lastBaselineS = simTimeS

	robots := make([]RobotView, 0, len(st.robots))
	for _, id := range st.robotIDs() {
		robots = append(robots, *st.robots[id])
	}
	blocked := make(map[int]bool, len(st.pendingAssignments))
	for id := range st.pendingAssignments {
		blocked[id] = true
	}

	assignments := ComputeBaselineAssignments(st.pendingJobs(), robots, blocked, d.cfg.BatteryThreshold)
	for _, a := range assignments {
		d.emitAssignmentLocked(st, a.JobID, a.RobotID, simTimeS, ReasonBaseline)
	}
}

// replanLocked snapshots the projection and calls the planner off the event
// path. At most one optimize request per run is in flight; all triggers are
// suppressed until it resolves.
func (d *Dispatcher) replanLocked(st *runState, simTimeS int, reason string) {
	if st.inFlightOptimize {
		return
	}
	pending := st.pendingJobs()
	if len(pending) == 0 {
		return
	}
	eligible := st.eligibleRobots(d.cfg.BatteryThreshold)
	if len(eligible) == 0 {
		return
	}
	st.inFlightOptimize = true

	req := ga.OptimizeRequest{
		RunID:    st.runID,
		Seed:     st.seed,
		Mode:     st.mode,
		Scale:    st.scale,
		SimTimeS: simTimeS,
	}
	for _, r := range eligible {
		req.Robots = append(req.Robots, ga.Robot{
			ID: r.ID, X: r.X, Y: r.Y, Speed: r.Speed, Battery: r.Battery, State: r.State,
		})
	}
	for _, j := range pending {
		req.PendingJobs = append(req.PendingJobs, ga.Job{
			ID: j.ID, PickupX: j.PickupX, PickupY: j.PickupY,
			DropoffX: j.DropoffX, DropoffY: j.DropoffY,
			DeadlineTS: j.DeadlineTS, Priority: j.Priority,
		})
	}

	logrus.Infof("ga replan run_id=%s reason=%s sim_time_s=%d pending=%d robots=%d",
		st.runID, reason, simTimeS, len(pending), len(eligible))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.PlanTimeout)
		defer cancel()
		plan, err := d.planner.Plan(ctx, req)

		st.mu.Lock()
		defer st.mu.Unlock()
		st.inFlightOptimize = false
		if err != nil {
			// No baseline fallback in GA mode; the next trigger retries.
			logrus.Errorf("ga replan failed run_id=%s reason=%s err=%v", st.runID, reason, err)
			return
		}
		st.lastReplanSimS = simTimeS
		d.applyPlanLocked(st, req, plan, simTimeS)
	}()
}

// applyPlanLocked commits a whole-fleet plan into the planned queues and
// hands the first job to every idle eligible robot. Assignments for jobs
// consumed since the snapshot are skipped; the simulator would ignore them
// anyway.
func (d *Dispatcher) applyPlanLocked(st *runState, req ga.OptimizeRequest, plan []ga.Assignment, simTimeS int) {
	queues := make(map[int][]string, len(req.Robots))
	for _, r := range req.Robots {
		queues[r.ID] = nil
	}
	for _, a := range plan {
		job := st.jobs[a.JobID]
		if job == nil || !job.assignable() || st.assigned[a.JobID] {
			continue
		}
		queue, ok := queues[a.RobotID]
		if !ok {
			continue
		}
		queues[a.RobotID] = append(queue, a.JobID)
	}
	st.plannedQueues = queues

	ids := make([]int, 0, len(queues))
	for id := range queues {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		d.emitPlannedLocked(st, id, simTimeS)
	}
}

// emitPlannedLocked hands the next planned job to a robot if it is idle,
// eligible, and has no command in flight.
func (d *Dispatcher) emitPlannedLocked(st *runState, robotID int, simTimeS int) {
	robot := st.robots[robotID]
	if robot == nil || robot.State != "idle" || robot.Battery < d.cfg.BatteryThreshold {
		return
	}
	if _, inFlight := st.pendingAssignments[robotID]; inFlight {
		return
	}
	queue := st.plannedQueues[robotID]
	for len(queue) > 0 {
		jobID := queue[0]
		queue = queue[1:]
		st.plannedQueues[robotID] = queue
		job := st.jobs[jobID]
		if job == nil || !job.assignable() || st.assigned[jobID] {
			continue
		}
		d.emitAssignmentLocked(st, jobID, robotID, simTimeS, ReasonGA)
		return
	}
}

func (d *Dispatcher) emitAssignmentLocked(st *runState, jobID string, robotID int, simTimeS int, reason string) {
	if st.assigned[jobID] {
		return
	}
	job := st.jobs[jobID]
	if job == nil || !job.assignable() {
		return
	}

	ev := events.JobAssigned{
		Envelope:       bus.NewEnvelope(events.KeyJobAssigned, st.runID, st.mode, st.seed, st.scale, simTimeS),
		JobID:          jobID,
		RobotID:        robotID,
		Reason:         reason,
		IdempotencyKey: fmt.Sprintf("%s:%s", st.runID, jobID),
	}
	if err := bus.PublishJSON(d.bus, events.KeyJobAssigned, ev); err != nil {
		logrus.Errorf("publish job.assigned failed run_id=%s job_id=%s err=%v", st.runID, jobID, err)
		return
	}

	st.assigned[jobID] = true
	job.State = "assigned"
	if robot := st.robots[robotID]; robot != nil {
		robot.State = "moving_to_pickup"
		robot.CurrentJobID = jobID
	}
	st.pendingAssignments[robotID] = jobID
	logrus.Infof("assignment emitted run_id=%s mode=%s job_id=%s robot_id=%d reason=%s",
		st.runID, st.mode, jobID, robotID, reason)
}
