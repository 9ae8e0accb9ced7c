package dispatch

import (
	"math"

	"github.com/fleetsim/fleetsim/sim"
)

// ReasonBaseline tags assignments produced by the EDF + nearest heuristic.
const ReasonBaseline = "baseline_edf_nearest"

// BaselineAssignment pairs one pending job with the nearest idle robot.
type BaselineAssignment struct {
	JobID   string
	RobotID int
}

// ComputeBaselineAssignments applies earliest-deadline-first over pending
// jobs (canonical order) and picks, per job, the idle eligible robot nearest
// to the pickup, tie-broken by ascending robot id. Each robot takes at most
// one job per sweep. blocked robots (commands in flight) are skipped.
// Results come back in canonical job order.
func ComputeBaselineAssignments(
	pending []JobView,
	robots []RobotView,
	blocked map[int]bool,
	batteryThreshold float64,
) []BaselineAssignment {
	var idle []RobotView
	for _, r := range robots {
		if r.State != "idle" || blocked[r.ID] || r.Battery < batteryThreshold {
			continue
		}
		idle = append(idle, r)
	}

	var assignments []BaselineAssignment
	used := make(map[int]bool)
	for _, job := range pending {
		bestID := 0
		bestDist := math.Inf(1)
		for _, r := range idle {
			if used[r.ID] {
				continue
			}
			d := sim.Distance(r.X, r.Y, job.PickupX, job.PickupY)
			if d < bestDist || (d == bestDist && r.ID < bestID) {
				bestDist = d
				bestID = r.ID
			}
		}
		if bestID == 0 {
			break
		}
		used[bestID] = true
		assignments = append(assignments, BaselineAssignment{JobID: job.ID, RobotID: bestID})
	}
	return assignments
}
