package sim

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetsim/bus"
	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/events"
)

func runnerTestConfig() *config.Config {
	return &config.Config{
		DefaultScale: "mini",
		DefaultMode:  "baseline",
		Sim: config.Sim{
			TickHz:                5,
			WorldSize:             100,
			MaxSimSeconds:         2,
			ServiceTimeS:          5,
			RobotSpeedMin:         1.0,
			RobotSpeedMax:         2.0,
			ChargeRate:            5.0,
			ChargeResumeThreshold: 20.0,
			SlackMinS:             30,
			SlackMaxS:             240,
		},
		BatteryThreshold: 20,
	}
}

func TestRunnerFailsUnassignedJobsAtHorizon(t *testing.T) {
	memBus := bus.NewMemoryBus()
	defer memBus.Close()
	observed, err := memBus.Consume("test.observer", []string{
		events.KeyJobCreated, events.KeyJobFailed, events.KeyRunCompleted,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := NewRunner(runnerTestConfig(), memBus)
	go func() { _ = runner.Run(ctx) }()

	started := events.RunStarted{
		Envelope: bus.NewEnvelope(events.KeyRunStarted, "run-1", "baseline", 42, "mini", 0),
	}
	require.NoError(t, bus.PublishJSON(memBus, events.KeyRunStarted, started))

	// With no dispatcher every job fails when the 2 s horizon expires.
	created, failed := 0, 0
	var completed *events.RunCompleted
	deadline := time.After(10 * time.Second)
	for completed == nil {
		select {
		case <-deadline:
			t.Fatal("run did not complete")
		case d := <-observed:
			switch d.RoutingKey {
			case events.KeyJobCreated:
				created++
			case events.KeyJobFailed:
				failed++
			case events.KeyRunCompleted:
				var ev events.RunCompleted
				require.NoError(t, json.Unmarshal(d.Body, &ev))
				completed = &ev
			}
		}
	}

	assert.Equal(t, 5, created)
	assert.Equal(t, 5, failed)
	assert.Equal(t, "completed", completed.Status)
	assert.NotEmpty(t, completed.ScenarioHash)
	require.NotNil(t, completed.Metrics)
	assert.Equal(t, 5, completed.Metrics.TotalJobs)
	assert.Equal(t, 5, completed.Metrics.FailedJobs)
	assert.Equal(t, 0, completed.Metrics.CompletedJobs)
	assert.Equal(t, 0.0, completed.Metrics.OnTimeRate)
}

// TestRunnerEventStreamInvariants runs one scenario to the horizon with every
// job dispatched and checks the whole emitted stream: sim_time_s never goes
// backwards on any routing key, each robot appears once per snapshot, and no
// job is held by two robots at the same tick.
func TestRunnerEventStreamInvariants(t *testing.T) {
	memBus := bus.NewMemoryBus()
	defer memBus.Close()
	observed, err := memBus.Consume("test.observer", []string{"#"})
	require.NoError(t, err)

	cfg := runnerTestConfig()
	cfg.Sim.MaxSimSeconds = 3

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := NewRunner(cfg, memBus)
	go func() { _ = runner.Run(ctx) }()

	started := events.RunStarted{
		Envelope: bus.NewEnvelope(events.KeyRunStarted, "run-inv", "baseline", 42, "mini", 0),
	}
	require.NoError(t, bus.PublishJSON(memBus, events.KeyRunStarted, started))

	lastSimTime := map[string]int{}
	var jobIDs []string
	assigned := false
	done := false
	deadline := time.After(10 * time.Second)
	for !done {
		var d bus.Delivery
		select {
		case <-deadline:
			t.Fatal("run did not complete")
		case d = <-observed:
		}

		var env bus.Envelope
		require.NoError(t, json.Unmarshal(d.Body, &env))
		if last, ok := lastSimTime[d.RoutingKey]; ok {
			assert.GreaterOrEqual(t, env.SimTimeS, last,
				"sim_time_s went backwards on %s", d.RoutingKey)
		}
		lastSimTime[d.RoutingKey] = env.SimTimeS

		switch d.RoutingKey {
		case events.KeyJobCreated:
			var ev events.JobCreated
			require.NoError(t, json.Unmarshal(d.Body, &ev))
			jobIDs = append(jobIDs, ev.JobID)

		case events.KeySnapshotTick:
			var ev events.SnapshotTick
			require.NoError(t, json.Unmarshal(d.Body, &ev))
			seen := map[int]bool{}
			holder := map[string]int{}
			for _, r := range ev.Snapshot.Robots {
				assert.False(t, seen[r.ID], "robot %d appears twice in snapshot", r.ID)
				seen[r.ID] = true
				if r.CurrentJobID != nil {
					prev, dup := holder[*r.CurrentJobID]
					assert.False(t, dup, "job %s held by robots %d and %d", *r.CurrentJobID, prev, r.ID)
					holder[*r.CurrentJobID] = r.ID
				}
			}
			// Dispatch every job to a distinct robot once the creation
			// burst is in, so snapshots carry non-null current_job_id.
			if !assigned && len(jobIDs) == 5 {
				sort.Strings(jobIDs)
				for i, id := range jobIDs {
					cmd := events.JobAssigned{
						Envelope:       bus.NewEnvelope(events.KeyJobAssigned, "run-inv", "baseline", 42, "mini", env.SimTimeS),
						JobID:          id,
						RobotID:        i + 1,
						Reason:         "baseline_nearest",
						IdempotencyKey: "run-inv:" + id,
					}
					require.NoError(t, bus.PublishJSON(memBus, events.KeyJobAssigned, cmd))
				}
				assigned = true
			}

		case events.KeyRunCompleted:
			done = true
		}
	}

	require.True(t, assigned)
	assert.Contains(t, lastSimTime, events.KeyRobotUpdated)
	assert.Contains(t, lastSimTime, events.KeySnapshotTick)
	assert.Contains(t, lastSimTime, events.KeyTelemetry)
	assert.Equal(t, cfg.Sim.MaxSimSeconds, lastSimTime[events.KeyRunCompleted])
}

func TestRunnerRejectsInvalidScenario(t *testing.T) {
	memBus := bus.NewMemoryBus()
	defer memBus.Close()
	observed, err := memBus.Consume("test.observer", []string{events.KeyRunCompleted})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := NewRunner(runnerTestConfig(), memBus)
	go func() { _ = runner.Run(ctx) }()

	started := events.RunStarted{
		Envelope: bus.NewEnvelope(events.KeyRunStarted, "run-bad", "baseline", 42, "nope", 0),
	}
	require.NoError(t, bus.PublishJSON(memBus, events.KeyRunStarted, started))

	select {
	case <-time.After(10 * time.Second):
		t.Fatal("no run.completed for rejected scenario")
	case d := <-observed:
		var ev events.RunCompleted
		require.NoError(t, json.Unmarshal(d.Body, &ev))
		assert.Equal(t, "failed", ev.Status)
		assert.NotEmpty(t, ev.Error)
		assert.Nil(t, ev.Metrics)
	}
}
