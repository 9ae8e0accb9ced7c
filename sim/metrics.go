package sim

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/fleetsim/fleetsim/events"
)

// ComputeMetrics aggregates fleet-level metrics at run end.
//
//	on_time_rate        = |completed with completed_sim_ts <= deadline| / total_jobs
//	total_distance      = sum of per-robot travelled distance
//	avg_completion_time = mean(completed_sim_ts - created_sim_ts) over completed jobs
//	max_lateness        = max over completed jobs of max(0, completed - deadline)
func ComputeMetrics(jobs []*Job, robots []*Robot) events.Metrics {
	m := events.Metrics{TotalJobs: len(jobs)}

	onTime := 0
	completionSum := 0.0
	for _, j := range jobs {
		switch j.State {
		case JobCompleted:
			m.CompletedJobs++
			completionSum += float64(j.CompletedSimTS - j.CreatedSimTS)
			if j.CompletedSimTS <= j.DeadlineTS {
				onTime++
			}
			if late := math.Max(0, float64(j.CompletedSimTS-j.DeadlineTS)); late > m.MaxLateness {
				m.MaxLateness = late
			}
		case JobFailed:
			m.FailedJobs++
		}
	}
	if m.TotalJobs > 0 {
		m.OnTimeRate = float64(onTime) / float64(m.TotalJobs)
	}
	if m.CompletedJobs > 0 {
		m.AvgCompletionTime = completionSum / float64(m.CompletedJobs)
	}
	for _, r := range robots {
		m.TotalDistance += r.DistanceTraveled
	}

	m.OnTimeRate = round6(m.OnTimeRate)
	m.TotalDistance = round6(m.TotalDistance)
	m.AvgCompletionTime = round6(m.AvgCompletionTime)
	m.MaxLateness = round6(m.MaxLateness)
	return m
}

// LogMetrics reports the final metrics for a run.
func LogMetrics(runID, mode string, m events.Metrics) {
	logrus.Infof("run metrics run_id=%s mode=%s on_time_rate=%.4f total_distance=%.2f avg_completion_time=%.2f max_lateness=%.2f completed=%d failed=%d total=%d",
		runID, mode, m.OnTimeRate, m.TotalDistance, m.AvgCompletionTime, m.MaxLateness,
		m.CompletedJobs, m.FailedJobs, m.TotalJobs)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
