package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/fleetsim/fleetsim/bus"
	"github.com/fleetsim/fleetsim/events"
)

// Recorder consumes bus events and writes the durable record of each run.
type Recorder struct {
	store *Store
	bus   bus.Bus
}

// NewRecorder wires a recorder to the bus and the store.
func NewRecorder(st *Store, b bus.Bus) *Recorder {
	return &Recorder{store: st, bus: b}
}

// Run consumes events until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	deliveries, err := r.bus.Consume("recorder", []string{
		events.KeyRunStarted,
		events.KeyRunCompleted,
		events.KeyJobCompleted,
		events.KeyJobFailed,
		events.KeyTelemetry,
	})
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	logrus.Info("recorder started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := r.handle(delivery); err != nil {
				logrus.Errorf("recorder: %s: %v", delivery.RoutingKey, err)
			}
		}
	}
}

func (r *Recorder) handle(delivery bus.Delivery) error {
	switch delivery.RoutingKey {
	case events.KeyRunStarted:
		var ev events.RunStarted
		if err := json.Unmarshal(delivery.Body, &ev); err != nil {
			return err
		}
		return r.store.EnsureRun(ev.RunID, ev.Mode, ev.Seed, ev.Scale, ev.Robots, ev.Jobs)

	case events.KeyRunCompleted:
		var ev events.RunCompleted
		if err := json.Unmarshal(delivery.Body, &ev); err != nil {
			return err
		}
		if err := r.store.EnsureRun(ev.RunID, ev.Mode, ev.Seed, ev.Scale, nil, nil); err != nil {
			return err
		}
		return r.store.CompleteRun(ev.RunID, ev.ScenarioHash, ev.Status, ev.Error, ev.Metrics)

	case events.KeyJobCompleted, events.KeyJobFailed:
		var ev events.JobTerminal
		if err := json.Unmarshal(delivery.Body, &ev); err != nil {
			return err
		}
		status := "completed"
		if delivery.RoutingKey == events.KeyJobFailed {
			status = "failed"
		}
		return r.store.RecordJobOutcome(&JobOutcome{
			RunID:     ev.RunID,
			JobID:     ev.JobID,
			RobotID:   ev.RobotID,
			Status:    status,
			LatenessS: ev.LatenessS,
			SimTimeS:  ev.SimTimeS,
		})

	case events.KeyTelemetry:
		var ev events.Telemetry
		if err := json.Unmarshal(delivery.Body, &ev); err != nil {
			return err
		}
		return r.store.RecordTelemetry(&TelemetryRecord{
			RunID:    ev.RunID,
			RobotID:  ev.RobotID,
			SimTimeS: ev.SimTimeS,
			State:    ev.State,
			X:        ev.X,
			Y:        ev.Y,
			Battery:  ev.Battery,
		})
	}
	return nil
}
