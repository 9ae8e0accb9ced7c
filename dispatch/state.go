// Package dispatch consumes world events, maintains a per-run projection,
// and decides job assignments with the baseline or GA policy. The simulator
// stays authoritative: a stale projection only produces assignments the
// simulator ignores.
package dispatch

import (
	"sort"
	"sync"
)

// RobotView is the dispatcher's last known robot state.
type RobotView struct {
	ID           int
	X            float64
	Y            float64
	Speed        float64
	Battery      float64
	State        string
	CurrentJobID string
	SimTimeS     int
}

// JobView is the dispatcher's view of one job.
type JobView struct {
	ID         string
	PickupX    float64
	PickupY    float64
	DropoffX   float64
	DropoffY   float64
	DeadlineTS int
	Priority   int
	State      string
}

// assignable reports whether the job can still be handed to a robot.
func (j *JobView) assignable() bool {
	return j.State == "pending" || j.State == "unassigned"
}

// runState is the projection and dispatch bookkeeping for one run. All
// fields are guarded by mu; the optimizer call itself runs outside the lock.
type runState struct {
	runID string
	mode  string
	seed  int
	scale string

	mu     sync.Mutex
	robots map[int]*RobotView
	jobs   map[string]*JobView

	// assigned holds job ids we have emitted job.assigned for.
	assigned map[string]bool
	// pendingAssignments maps robot id -> job id for commands emitted but
	// not yet reflected back by the simulator; stale idle updates for such
	// robots are ignored.
	pendingAssignments map[int]string
	// plannedQueues holds GA plan jobs committed to a robot but not yet
	// handed to the simulator, in canonical job order.
	plannedQueues map[int][]string

	inFlightOptimize bool
	lastReplanSimS   int
	lastBaselineS    int
}

func newRunState(runID, mode string, seed int, scale string) *runState {
	return &runState{
		runID:              runID,
		mode:               mode,
		seed:               seed,
		scale:              scale,
		robots:             make(map[int]*RobotView),
		jobs:               make(map[string]*JobView),
		assigned:           make(map[string]bool),
		pendingAssignments: make(map[int]string),
		plannedQueues:      make(map[int][]string),
		lastReplanSimS:     -1,
		lastBaselineS:      -1,
	}
}

// pendingJobs returns assignable jobs in canonical order:
// (deadline_ts ASC, priority DESC, job_id ASC). Callers hold mu.
func (s *runState) pendingJobs() []JobView {
	var pending []JobView
	for _, j := range s.jobs {
		if !j.assignable() || s.assigned[j.ID] {
			continue
		}
		pending = append(pending, *j)
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].DeadlineTS != pending[j].DeadlineTS {
			return pending[i].DeadlineTS < pending[j].DeadlineTS
		}
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].ID < pending[j].ID
	})
	return pending
}

// eligibleRobots returns robots that may take new work — not charging and
// battery at or above the threshold — in ascending id order. Callers hold mu.
func (s *runState) eligibleRobots(batteryThreshold float64) []RobotView {
	var out []RobotView
	for _, r := range s.robots {
		if r.State == "charging" || r.Battery < batteryThreshold {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *runState) robotIDs() []int {
	ids := make([]int, 0, len(s.robots))
	for id := range s.robots {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
