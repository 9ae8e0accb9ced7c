package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/sim"
)

func testConfig() *config.Config {
	return &config.Config{
		DefaultScale: "mini",
		DefaultSeed:  42,
		DefaultMode:  "baseline",
		Sim: config.Sim{
			TickHz:                5,
			WorldSize:             100,
			MaxSimSeconds:         3600,
			ServiceTimeS:          5,
			RobotSpeedMin:         1.0,
			RobotSpeedMax:         2.0,
			ChargeRate:            5.0,
			ChargeResumeThreshold: 20.0,
			SlackMinS:             30,
			SlackMaxS:             240,
		},
		GA: config.GA{
			PopulationSize: 16,
			Generations:    10,
			EliteSize:      2,
			MutationRate:   0.10,
			CrossoverRate:  0.90,
		},
		BatteryThreshold: 20,
	}
}

func testOptions(mode string) Options {
	return Options{Mode: mode, Seed: 42, Scale: "mini", Timeout: 2 * time.Minute}
}

func TestExecuteBaseline(t *testing.T) {
	cfg := testConfig()
	res, err := Execute(context.Background(), cfg, testOptions("baseline"))
	require.NoError(t, err)

	assert.Equal(t, "completed", res.Status)
	require.NotNil(t, res.Metrics)
	assert.Equal(t, 5, res.Metrics.TotalJobs)
	assert.Equal(t, 5, res.Metrics.CompletedJobs+res.Metrics.FailedJobs)
	assert.Equal(t, 5, res.Metrics.CompletedJobs)
	assert.Greater(t, res.Metrics.TotalDistance, 0.0)

	// The hash is a pure function of the generation inputs.
	_, _, wantHash, err := sim.GenerateScenario(sim.ScenarioParams{
		Seed:         42,
		Scale:        "mini",
		WorldSize:    cfg.Sim.WorldSize,
		SpeedMin:     cfg.Sim.RobotSpeedMin,
		SpeedMax:     cfg.Sim.RobotSpeedMax,
		ServiceTimeS: cfg.Sim.ServiceTimeS,
		SlackMinS:    cfg.Sim.SlackMinS,
		SlackMaxS:    cfg.Sim.SlackMaxS,
	})
	require.NoError(t, err)
	assert.Equal(t, wantHash, res.ScenarioHash)
}

func TestExecuteGA(t *testing.T) {
	res, err := Execute(context.Background(), testConfig(), testOptions("ga"))
	require.NoError(t, err)

	assert.Equal(t, "completed", res.Status)
	require.NotNil(t, res.Metrics)
	assert.Equal(t, 5, res.Metrics.TotalJobs)
	assert.Equal(t, 5, res.Metrics.CompletedJobs)
}

func TestExecuteValidatesInputs(t *testing.T) {
	cfg := testConfig()
	_, err := Execute(context.Background(), cfg, Options{Mode: "greedy", Scale: "mini"})
	assert.Error(t, err)
	_, err = Execute(context.Background(), cfg, Options{Mode: "ga", Scale: "galactic"})
	assert.Error(t, err)
}

func TestCompareSameScenario(t *testing.T) {
	results, err := Compare(context.Background(), testConfig(), Options{Seed: 42, Scale: "mini", Timeout: 4 * time.Minute})
	require.NoError(t, err)
	require.Len(t, results, 2)

	baseline, ga := results["baseline"], results["ga"]
	require.NotNil(t, baseline)
	require.NotNil(t, ga)
	assert.Equal(t, "completed", baseline.Status)
	assert.Equal(t, "completed", ga.Status)
	assert.Equal(t, baseline.ScenarioHash, ga.ScenarioHash)
	assert.Equal(t, baseline.Metrics.TotalJobs, ga.Metrics.TotalJobs)
}
