// Package local runs the whole pipeline in one process over the in-memory
// bus: simulator, dispatcher with an in-process planner, and a result
// collector. It exists for `fleetsim run` and for end-to-end tests.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fleetsim/fleetsim/bus"
	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/dispatch"
	"github.com/fleetsim/fleetsim/events"
	"github.com/fleetsim/fleetsim/ga"
	"github.com/fleetsim/fleetsim/sim"
)

// Options selects what one local run executes.
type Options struct {
	Mode   string
	Seed   int
	Scale  string
	Robots *int
	Jobs   *int
	// Timeout bounds wall time for one run; zero means 10 minutes.
	Timeout time.Duration
}

// Result is the terminal outcome of one local run.
type Result struct {
	RunID        string
	Mode         string
	Seed         int
	Scale        string
	ScenarioHash string
	Status       string
	Error        string
	Metrics      *events.Metrics
}

// Execute runs one complete simulation in-process and returns its result.
func Execute(ctx context.Context, cfg *config.Config, opts Options) (*Result, error) {
	if opts.Mode == "" {
		opts.Mode = cfg.DefaultMode
	}
	if opts.Scale == "" {
		opts.Scale = cfg.DefaultScale
	}
	if !config.ValidMode(opts.Mode) {
		return nil, fmt.Errorf("invalid mode: %s", opts.Mode)
	}
	if !config.ValidScale(opts.Scale) {
		return nil, fmt.Errorf("invalid scale: %s", opts.Scale)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	memBus := bus.NewMemoryBus()
	defer memBus.Close()

	// The observer queue must bind before anything publishes.
	completed, err := memBus.Consume("local.observer", []string{events.KeyRunCompleted})
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	runner := sim.NewRunner(cfg, memBus)
	planner := &dispatch.LocalPlanner{Params: ga.Params{
		PopulationSize: cfg.GA.PopulationSize,
		Generations:    cfg.GA.Generations,
		EliteSize:      cfg.GA.EliteSize,
		MutationRate:   cfg.GA.MutationRate,
		CrossoverRate:  cfg.GA.CrossoverRate,
		ServiceTimeS:   cfg.Sim.ServiceTimeS,
	}}
	dispatcher := dispatch.NewDispatcher(cfg, memBus, planner)

	go func() {
		if err := runner.Run(runCtx); err != nil {
			logrus.Errorf("local sim runner: %v", err)
		}
	}()
	go func() {
		if err := dispatcher.Run(runCtx); err != nil {
			logrus.Errorf("local dispatcher: %v", err)
		}
	}()

	runID := uuid.NewString()
	started := events.RunStarted{
		Envelope: bus.NewEnvelope(events.KeyRunStarted, runID, opts.Mode, opts.Seed, opts.Scale, 0),
		Robots:   opts.Robots,
		Jobs:     opts.Jobs,
	}
	if err := bus.PublishJSON(memBus, events.KeyRunStarted, started); err != nil {
		return nil, fmt.Errorf("publish run.started: %w", err)
	}

	for {
		select {
		case <-runCtx.Done():
			return nil, fmt.Errorf("run %s did not complete: %w", runID, runCtx.Err())
		case delivery, ok := <-completed:
			if !ok {
				return nil, fmt.Errorf("bus closed before run %s completed", runID)
			}
			var ev events.RunCompleted
			if err := json.Unmarshal(delivery.Body, &ev); err != nil {
				logrus.Warnf("dropping malformed run.completed err=%v", err)
				continue
			}
			if ev.RunID != runID {
				continue
			}
			return &Result{
				RunID:        runID,
				Mode:         opts.Mode,
				Seed:         opts.Seed,
				Scale:        opts.Scale,
				ScenarioHash: ev.ScenarioHash,
				Status:       ev.Status,
				Error:        ev.Error,
				Metrics:      ev.Metrics,
			}, nil
		}
	}
}

// Compare runs the same scenario under both policies and returns the results
// keyed by mode. Both runs use the same seed so the scenario hash must match.
func Compare(ctx context.Context, cfg *config.Config, opts Options) (map[string]*Result, error) {
	out := make(map[string]*Result, 2)
	for _, mode := range []string{"baseline", "ga"} {
		o := opts
		o.Mode = mode
		res, err := Execute(ctx, cfg, o)
		if err != nil {
			return nil, fmt.Errorf("%s run: %w", mode, err)
		}
		out[mode] = res
	}
	if out["baseline"].ScenarioHash != out["ga"].ScenarioHash {
		return out, fmt.Errorf("scenario hash mismatch: %s vs %s",
			out["baseline"].ScenarioHash, out["ga"].ScenarioHash)
	}
	return out, nil
}
