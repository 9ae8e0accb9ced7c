package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetsim/fleetsim/bus"
	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/events"
)

// assignmentQueueDepth buffers job.assigned commands between ticks.
const assignmentQueueDepth = 1024

// Runner consumes run.started and job.assigned from the bus and drives one
// tick loop per active run. Exactly one simulator owns the world state for a
// given run id; duplicate run.started events are dropped.
type Runner struct {
	cfg *config.Config
	bus bus.Bus

	// Realtime paces ticks at 1/tick_hz wall seconds. The local runner and
	// tests leave it false and run as fast as the CPU allows; only the
	// sim_time_s increments are observable either way.
	Realtime bool

	mu     sync.Mutex
	queues map[string]chan events.JobAssigned
	wg     sync.WaitGroup
}

// NewRunner returns a Runner publishing and consuming on b.
func NewRunner(cfg *config.Config, b bus.Bus) *Runner {
	return &Runner{
		cfg:    cfg,
		bus:    b,
		queues: make(map[string]chan events.JobAssigned),
	}
}

// Run consumes bus events until ctx is cancelled, then waits for in-flight
// runs to finish their current tick and stop.
func (r *Runner) Run(ctx context.Context) error {
	deliveries, err := r.bus.Consume("sim.runner", []string{events.KeyRunStarted, events.KeyJobAssigned})
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	logrus.Info("sim runner started")

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return nil
		case d, ok := <-deliveries:
			if !ok {
				r.wg.Wait()
				return nil
			}
			r.handle(ctx, d)
		}
	}
}

func (r *Runner) handle(ctx context.Context, d bus.Delivery) {
	switch d.RoutingKey {
	case events.KeyRunStarted:
		var ev events.RunStarted
		if err := json.Unmarshal(d.Body, &ev); err != nil || ev.RunID == "" {
			logrus.Warnf("dropping malformed run.started err=%v", err)
			return
		}
		r.startRun(ctx, ev)
	case events.KeyJobAssigned:
		var ev events.JobAssigned
		if err := json.Unmarshal(d.Body, &ev); err != nil || ev.RunID == "" || ev.JobID == "" {
			logrus.Warnf("dropping malformed job.assigned err=%v", err)
			return
		}
		r.mu.Lock()
		q := r.queues[ev.RunID]
		r.mu.Unlock()
		if q == nil {
			logrus.Warnf("job.assigned for unknown run run_id=%s job_id=%s", ev.RunID, ev.JobID)
			return
		}
		q <- ev
	}
}

func (r *Runner) startRun(ctx context.Context, ev events.RunStarted) {
	r.mu.Lock()
	if _, active := r.queues[ev.RunID]; active {
		r.mu.Unlock()
		logrus.Warnf("run already active run_id=%s", ev.RunID)
		return
	}
	q := make(chan events.JobAssigned, assignmentQueueDepth)
	r.queues[ev.RunID] = q
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.queues, ev.RunID)
			r.mu.Unlock()
		}()
		r.simulateRun(ctx, ev, q)
	}()
}

func (r *Runner) simulateRun(ctx context.Context, started events.RunStarted, assignments <-chan events.JobAssigned) {
	runID := started.RunID
	mode := started.Mode
	if mode == "" {
		mode = r.cfg.DefaultMode
	}
	seed := started.Seed
	scale := started.Scale
	if scale == "" {
		scale = r.cfg.DefaultScale
	}
	logrus.Infof("sim started run_id=%s mode=%s seed=%d scale=%s", runID, mode, seed, scale)

	params := ScenarioParams{
		Seed:         seed,
		Scale:        scale,
		WorldSize:    r.cfg.Sim.WorldSize,
		SpeedMin:     r.cfg.Sim.RobotSpeedMin,
		SpeedMax:     r.cfg.Sim.RobotSpeedMax,
		ServiceTimeS: r.cfg.Sim.ServiceTimeS,
		SlackMinS:    r.cfg.Sim.SlackMinS,
		SlackMaxS:    r.cfg.Sim.SlackMaxS,
	}
	if started.Robots != nil {
		params.RobotsCount = *started.Robots
	}
	if started.Jobs != nil {
		params.JobsCount = *started.Jobs
	}

	robots, jobs, scenarioHash, err := GenerateScenario(params)
	if err != nil {
		logrus.Errorf("scenario rejected run_id=%s err=%v", runID, err)
		r.publish(events.KeyRunCompleted, events.RunCompleted{
			Envelope: bus.NewEnvelope(events.KeyRunCompleted, runID, mode, seed, scale, 0),
			Status:   "failed",
			Error:    err.Error(),
		})
		return
	}

	var pendingUpdates []events.RobotUpdated
	sink := func(robot *Robot, simTimeS int) {
		x, y, speed, battery := robot.X, robot.Y, robot.Speed, robot.Battery
		upd := events.RobotUpdated{
			Envelope: bus.NewEnvelope(events.KeyRobotUpdated, runID, mode, seed, scale, simTimeS),
			RobotID:  robot.ID,
			State:    string(robot.State),
			X:        &x,
			Y:        &y,
			Speed:    &speed,
			Battery:  &battery,
		}
		if robot.CurrentJobID != "" {
			id := robot.CurrentJobID
			upd.CurrentJobID = &id
		}
		pendingUpdates = append(pendingUpdates, upd)
	}

	engine := NewEngine(runID, robots, jobs, EngineConfig{
		TickHz:                r.cfg.Sim.TickHz,
		ServiceTimeS:          float64(r.cfg.Sim.ServiceTimeS),
		MaxSimSeconds:         r.cfg.Sim.MaxSimSeconds,
		ChargeRate:            r.cfg.Sim.ChargeRate,
		ChargeResumeThreshold: r.cfg.Sim.ChargeResumeThreshold,
		BatteryThreshold:      r.cfg.BatteryThreshold,
	}, sink)

	// Announce the generated jobs in id order before the first tick.
	for _, j := range jobs {
		r.publish(events.KeyJobCreated, events.JobCreated{
			Envelope:   bus.NewEnvelope(events.KeyJobCreated, runID, mode, seed, scale, 0),
			JobID:      j.ID,
			PickupX:    j.PickupX,
			PickupY:    j.PickupY,
			DropoffX:   j.DropoffX,
			DropoffY:   j.DropoffY,
			DeadlineTS: j.DeadlineTS,
			Priority:   j.Priority,
			State:      string(j.State),
		})
	}
	engine.EmitInitialRobotUpdates()
	r.flushUpdates(&pendingUpdates)

	prevJobStates := make(map[string]JobState, len(jobs))
	for _, j := range jobs {
		prevJobStates[j.ID] = j.State
	}
	lastTelemetryS := -1
	tickInterval := time.Second / time.Duration(r.cfg.Sim.TickHz)

	for !engine.ShouldStop() {
		select {
		case <-ctx.Done():
			logrus.Infof("sim cancelled run_id=%s sim_time_s=%d", runID, engine.SimTimeS())
			return
		default:
		}

		// Apply every assignment received since the last tick.
	drain:
		for {
			select {
			case a := <-assignments:
				engine.ApplyAssignment(Assignment{
					JobID:          a.JobID,
					RobotID:        a.RobotID,
					IdempotencyKey: a.IdempotencyKey,
				})
			default:
				break drain
			}
		}

		engine.Step()
		simTimeS := engine.SimTimeS()
		r.flushUpdates(&pendingUpdates)

		r.publish(events.KeySnapshotTick, events.SnapshotTick{
			Envelope: bus.NewEnvelope(events.KeySnapshotTick, runID, mode, seed, scale, simTimeS),
			Snapshot: engine.Snapshot(),
		})

		if simTimeS != lastTelemetryS {
			for _, robot := range robots {
				tel := events.Telemetry{
					Envelope: bus.NewEnvelope(events.KeyTelemetry, runID, mode, seed, scale, simTimeS),
					RobotID:  robot.ID,
					State:    string(robot.State),
					X:        round3(robot.X),
					Y:        round3(robot.Y),
					Battery:  round3(robot.Battery),
				}
				if robot.CurrentJobID != "" {
					id := robot.CurrentJobID
					tel.CurrentJobID = &id
				}
				r.publish(events.KeyTelemetry, tel)
			}
			lastTelemetryS = simTimeS
		}

		for _, j := range jobs {
			if prevJobStates[j.ID] == j.State {
				continue
			}
			prevJobStates[j.ID] = j.State
			if j.State == JobCompleted {
				r.publish(events.KeyJobCompleted, events.JobTerminal{
					Envelope:  bus.NewEnvelope(events.KeyJobCompleted, runID, mode, seed, scale, simTimeS),
					JobID:     j.ID,
					RobotID:   j.AssignedRobotID,
					LatenessS: j.LatenessS,
				})
			}
		}

		if r.Realtime {
			select {
			case <-ctx.Done():
				return
			case <-time.After(tickInterval):
			}
		}
	}

	engine.Finalize()
	finalTimeS := engine.SimTimeS()
	for _, j := range jobs {
		if j.State == JobFailed {
			r.publish(events.KeyJobFailed, events.JobTerminal{
				Envelope:  bus.NewEnvelope(events.KeyJobFailed, runID, mode, seed, scale, finalTimeS),
				JobID:     j.ID,
				RobotID:   j.AssignedRobotID,
				LatenessS: j.LatenessS,
			})
		}
	}

	metrics := ComputeMetrics(jobs, robots)
	LogMetrics(runID, mode, metrics)
	r.publish(events.KeyRunCompleted, events.RunCompleted{
		Envelope:     bus.NewEnvelope(events.KeyRunCompleted, runID, mode, seed, scale, finalTimeS),
		ScenarioHash: scenarioHash,
		Status:       "completed",
		Metrics:      &metrics,
	})
}

func (r *Runner) flushUpdates(pending *[]events.RobotUpdated) {
	for _, upd := range *pending {
		r.publish(events.KeyRobotUpdated, upd)
	}
	*pending = (*pending)[:0]
}

func (r *Runner) publish(key string, payload any) {
	if err := bus.PublishJSON(r.bus, key, payload); err != nil {
		logrus.Errorf("publish %s failed: %v", key, err)
	}
}
