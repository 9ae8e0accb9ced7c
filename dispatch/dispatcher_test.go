package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetsim/bus"
	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/events"
	"github.com/fleetsim/fleetsim/ga"
)

type stubPlanner struct {
	mu    sync.Mutex
	calls []ga.OptimizeRequest
	plan  []ga.Assignment
	gate  chan struct{} // when non-nil, Plan blocks until the gate closes
}

func (p *stubPlanner) Plan(_ context.Context, req ga.OptimizeRequest) ([]ga.Assignment, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	gate := p.gate
	plan := p.plan
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return plan, nil
}

func (p *stubPlanner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func testDispatcherConfig(mode string, replanInterval int) *config.Config {
	return &config.Config{
		DefaultMode:      mode,
		DefaultScale:     "mini",
		BatteryThreshold: 20,
		GA:               config.GA{ReplanIntervalS: replanInterval},
	}
}

type dispatcherHarness struct {
	t        *testing.T
	d        *Dispatcher
	planner  *stubPlanner
	assigned <-chan bus.Delivery
	runID    string
	mode     string
}

func newHarness(t *testing.T, mode string, replanInterval int) *dispatcherHarness {
	memBus := bus.NewMemoryBus()
	t.Cleanup(func() { memBus.Close() })
	assigned, err := memBus.Consume("test.assigned", []string{events.KeyJobAssigned})
	require.NoError(t, err)

	planner := &stubPlanner{}
	d := NewDispatcher(testDispatcherConfig(mode, replanInterval), memBus, planner)
	h := &dispatcherHarness{t: t, d: d, planner: planner, assigned: assigned, runID: "run-1", mode: mode}

	h.deliver(events.KeyRunStarted, events.RunStarted{
		Envelope: bus.NewEnvelope(events.KeyRunStarted, h.runID, mode, 42, "mini", 0),
	})
	return h
}

func (h *dispatcherHarness) deliver(key string, payload any) {
	body, err := json.Marshal(payload)
	require.NoError(h.t, err)
	h.d.handle(bus.Delivery{RoutingKey: key, Body: body})
}

func (h *dispatcherHarness) job(id string, deadline int) {
	h.deliver(events.KeyJobCreated, events.JobCreated{
		Envelope:   bus.NewEnvelope(events.KeyJobCreated, h.runID, h.mode, 42, "mini", 0),
		JobID:      id,
		DeadlineTS: deadline,
		Priority:   3,
		State:      "pending",
	})
}

func (h *dispatcherHarness) robot(id int, state string, battery float64, simTimeS int, currentJobID *string) {
	x, y, speed := 0.0, 0.0, 1.0
	h.deliver(events.KeyRobotUpdated, events.RobotUpdated{
		Envelope:     bus.NewEnvelope(events.KeyRobotUpdated, h.runID, h.mode, 42, "mini", simTimeS),
		RobotID:      id,
		State:        state,
		X:            &x,
		Y:            &y,
		Speed:        &speed,
		Battery:      &battery,
		CurrentJobID: currentJobID,
	})
}

func (h *dispatcherHarness) drainAssignments() []events.JobAssigned {
	var out []events.JobAssigned
	for {
		select {
		case d := <-h.assigned:
			var ev events.JobAssigned
			require.NoError(h.t, json.Unmarshal(d.Body, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestBaselineAssignsOnRobotUpdate(t *testing.T) {
	h := newHarness(t, "baseline", 0)
	h.job("job_1", 30)
	h.job("job_2", 60)
	h.robot(1, "idle", 100, 0, nil)

	got := h.drainAssignments()
	require.Len(t, got, 1)
	assert.Equal(t, "job_1", got[0].JobID)
	assert.Equal(t, 1, got[0].RobotID)
	assert.Equal(t, ReasonBaseline, got[0].Reason)
	assert.Equal(t, "run-1:job_1", got[0].IdempotencyKey)
}

func TestBaselineSweepOncePerSimSecond(t *testing.T) {
	h := newHarness(t, "baseline", 0)
	h.job("job_1", 30)
	h.job("job_2", 60)

	h.robot(1, "idle", 100, 0, nil)
	require.Len(t, h.drainAssignments(), 1)

	// Same sim-second: the sweep already ran.
	h.robot(2, "idle", 100, 0, nil)
	assert.Empty(t, h.drainAssignments())

	h.robot(2, "idle", 100, 1, nil)
	got := h.drainAssignments()
	require.Len(t, got, 1)
	assert.Equal(t, "job_2", got[0].JobID)
	assert.Equal(t, 2, got[0].RobotID)
}

func TestGAReplanSingleFlight(t *testing.T) {
	h := newHarness(t, "ga", 0)
	h.planner.gate = make(chan struct{})
	h.planner.plan = []ga.Assignment{
		{JobID: "job_1", RobotID: 1},
		{JobID: "job_2", RobotID: 1},
	}
	h.job("job_1", 30)
	h.job("job_2", 60)

	// First idle robot triggers the replan; the second arrives while the
	// optimizer call is still in flight and must not start another.
	h.robot(1, "idle", 100, 0, nil)
	h.robot(2, "idle", 100, 0, nil)
	require.Eventually(t, func() bool { return h.planner.callCount() == 1 },
		time.Second, 5*time.Millisecond)

	close(h.planner.gate)
	h.d.wg.Wait()

	// The plan commits both jobs to robot 1's queue; only the head is
	// handed out while the robot is idle.
	got := h.drainAssignments()
	require.Len(t, got, 1)
	assert.Equal(t, "job_1", got[0].JobID)
	assert.Equal(t, 1, got[0].RobotID)
	assert.Equal(t, ReasonGA, got[0].Reason)

	// Simulator confirms the pickup, finishes the job, and goes idle: the
	// next queued job is emitted without another optimize call.
	jobID := "job_1"
	h.robot(1, "moving_to_pickup", 99, 1, &jobID)
	h.robot(1, "idle", 98, 20, nil)
	got = h.drainAssignments()
	require.Len(t, got, 1)
	assert.Equal(t, "job_2", got[0].JobID)
	assert.Equal(t, 1, got[0].RobotID)
	assert.Equal(t, 1, h.planner.callCount())
}

func TestGAPeriodicReplan(t *testing.T) {
	h := newHarness(t, "ga", 30)
	h.planner.plan = []ga.Assignment{} // keep jobs pending
	h.job("job_1", 300)

	h.robot(1, "idle", 100, 0, nil)
	h.d.wg.Wait()
	assert.Equal(t, 1, h.planner.callCount())

	// Within the interval: no new optimize call.
	h.robot(1, "idle", 100, 10, nil)
	h.d.wg.Wait()
	assert.Equal(t, 1, h.planner.callCount())

	h.robot(1, "idle", 100, 35, nil)
	h.d.wg.Wait()
	assert.Equal(t, 2, h.planner.callCount())
}

func TestGAStaleIdleUpdateIgnored(t *testing.T) {
	h := newHarness(t, "ga", 0)
	h.planner.plan = []ga.Assignment{{JobID: "job_1", RobotID: 1}}
	h.job("job_1", 30)

	h.robot(1, "idle", 100, 0, nil)
	h.d.wg.Wait()
	require.Len(t, h.drainAssignments(), 1)

	// An idle update that predates the in-flight command must not flip the
	// projection back.
	h.robot(1, "idle", 100, 0, nil)
	st := h.d.state(h.runID)
	st.mu.Lock()
	assert.Equal(t, "moving_to_pickup", st.robots[1].State)
	st.mu.Unlock()

	// The simulator confirms the command; the pending marker clears.
	jobID := "job_1"
	h.robot(1, "moving_to_pickup", 99, 1, &jobID)
	st.mu.Lock()
	assert.Empty(t, st.pendingAssignments)
	st.mu.Unlock()
}

func TestGABatteryGuardClearsPlannedQueue(t *testing.T) {
	h := newHarness(t, "ga", 0)
	h.planner.plan = []ga.Assignment{
		{JobID: "job_1", RobotID: 1},
		{JobID: "job_2", RobotID: 1},
	}
	h.job("job_1", 30)
	h.job("job_2", 60)

	h.robot(1, "idle", 100, 0, nil)
	h.d.wg.Wait()
	require.Len(t, h.drainAssignments(), 1)

	st := h.d.state(h.runID)
	st.mu.Lock()
	require.Len(t, st.plannedQueues[1], 1)
	st.mu.Unlock()

	// A depleted robot loses its planned queue.
	h.robot(1, "charging", 0, 5, nil)
	st.mu.Lock()
	assert.Empty(t, st.plannedQueues[1])
	assert.Empty(t, st.pendingAssignments)
	st.mu.Unlock()
}

func TestMalformedRobotUpdateDropped(t *testing.T) {
	h := newHarness(t, "baseline", 0)
	h.job("job_1", 30)

	// Missing robot_id and state: dropped without touching the projection.
	h.d.handle(bus.Delivery{
		RoutingKey: events.KeyRobotUpdated,
		Body:       []byte(`{"run_id":"run-1","sim_time_s":0}`),
	})
	st := h.d.state(h.runID)
	st.mu.Lock()
	assert.Empty(t, st.robots)
	st.mu.Unlock()
	assert.Empty(t, h.drainAssignments())
}
