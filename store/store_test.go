package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetsim/events"
)

func openTestStore(t *testing.T) *Store {
	st, err := Open(filepath.Join(t.TempDir(), "fleet.db"))
	require.NoError(t, err)
	return st
}

func TestRunLifecycle(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.CreateRun("run-1", "baseline", 42, "mini", nil, nil))
	run, err := st.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "running", run.Status)
	assert.Equal(t, "baseline", run.Mode)
	assert.Nil(t, run.OnTimeRate)
	assert.Nil(t, run.CompletedAt)

	metrics := &events.Metrics{
		OnTimeRate:        0.8,
		TotalDistance:     123.4,
		AvgCompletionTime: 55.5,
		MaxLateness:       12,
		CompletedJobs:     4,
		FailedJobs:        1,
		TotalJobs:         5,
	}
	require.NoError(t, st.CompleteRun("run-1", "abc123", "completed", "", metrics))

	run, err = st.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, "abc123", run.ScenarioHash)
	require.NotNil(t, run.OnTimeRate)
	assert.Equal(t, 0.8, *run.OnTimeRate)
	require.NotNil(t, run.TotalJobs)
	assert.Equal(t, 5, *run.TotalJobs)
	assert.NotNil(t, run.CompletedAt)
}

func TestGetRunNotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestEnsureRunIdempotent(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.EnsureRun("run-1", "ga", 7, "demo", nil, nil))
	require.NoError(t, st.EnsureRun("run-1", "ga", 7, "demo", nil, nil))

	runs, err := st.ListRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestLatestCompletedByMode(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.CreateRun("run-b", "baseline", 42, "mini", nil, nil))
	require.NoError(t, st.CompleteRun("run-b", "h1", "completed", "", nil))
	require.NoError(t, st.CreateRun("run-g", "ga", 42, "mini", nil, nil))

	run, err := st.LatestCompleted("baseline", 42, "mini", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "run-b", run.ID)

	// The GA run is still running, so there is no completed GA result.
	_, err = st.LatestCompleted("ga", 42, "mini", nil, nil)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestLatestCompletedFiltersScenario(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.CreateRun("run-other-seed", "baseline", 7, "mini", nil, nil))
	require.NoError(t, st.CompleteRun("run-other-seed", "h7", "completed", "", nil))
	require.NoError(t, st.CreateRun("run-other-scale", "baseline", 42, "demo", nil, nil))
	require.NoError(t, st.CompleteRun("run-other-scale", "hd", "completed", "", nil))
	require.NoError(t, st.CreateRun("run-match", "baseline", 42, "mini", nil, nil))
	require.NoError(t, st.CompleteRun("run-match", "h42", "completed", "", nil))

	run, err := st.LatestCompleted("baseline", 42, "mini", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "run-match", run.ID)

	_, err = st.LatestCompleted("baseline", 99, "mini", nil, nil)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestLatestCompletedFiltersOverrides(t *testing.T) {
	st := openTestStore(t)
	three, eight := 3, 8
	require.NoError(t, st.CreateRun("run-preset", "ga", 42, "mini", nil, nil))
	require.NoError(t, st.CompleteRun("run-preset", "hp", "completed", "", nil))
	require.NoError(t, st.CreateRun("run-override", "ga", 42, "mini", &three, &eight))
	require.NoError(t, st.CompleteRun("run-override", "ho", "completed", "", nil))

	run, err := st.LatestCompleted("ga", 42, "mini", &three, &eight)
	require.NoError(t, err)
	assert.Equal(t, "run-override", run.ID)

	_, err = st.LatestCompleted("ga", 42, "mini", &eight, &three)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestJobOutcomesAndTelemetry(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.CreateRun("run-1", "baseline", 42, "mini", nil, nil))
	require.NoError(t, st.RecordJobOutcome(&JobOutcome{RunID: "run-1", JobID: "job_2", RobotID: 1, Status: "failed", LatenessS: 3, SimTimeS: 90}))
	require.NoError(t, st.RecordJobOutcome(&JobOutcome{RunID: "run-1", JobID: "job_1", RobotID: 2, Status: "completed", LatenessS: -10, SimTimeS: 40}))
	require.NoError(t, st.RecordTelemetry(&TelemetryRecord{RunID: "run-1", RobotID: 1, SimTimeS: 3, State: "idle", Battery: 99}))

	outcomes, err := st.JobOutcomes("run-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "job_1", outcomes[0].JobID)
	assert.Equal(t, "job_2", outcomes[1].JobID)
}
