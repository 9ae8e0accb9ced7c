// Package ga implements the deterministic genetic-algorithm planner that
// maps pending jobs onto robots, and its HTTP service wrapper.
package ga

import "sort"

// Robot is the robot snapshot the optimizer plans over.
type Robot struct {
	ID      int     `json:"id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Speed   float64 `json:"speed"`
	Battery float64 `json:"battery"`
	State   string  `json:"state"`
}

// Job is the pending job definition the optimizer plans over.
type Job struct {
	ID         string  `json:"id"`
	PickupX    float64 `json:"pickup_x"`
	PickupY    float64 `json:"pickup_y"`
	DropoffX   float64 `json:"dropoff_x"`
	DropoffY   float64 `json:"dropoff_y"`
	DeadlineTS int     `json:"deadline_ts"`
	Priority   int     `json:"priority"`
}

// Assignment maps one job onto one robot. Score is the best chromosome's
// total fitness.
type Assignment struct {
	JobID   string  `json:"job_id"`
	RobotID int     `json:"robot_id"`
	Score   float64 `json:"score"`
}

// Params are the GA knobs.
type Params struct {
	PopulationSize int
	Generations    int
	EliteSize      int
	MutationRate   float64
	CrossoverRate  float64
	ServiceTimeS   int
}

// Meta describes one optimizer invocation.
type Meta struct {
	BestScore      float64 `json:"best_score"`
	Generations    int     `json:"generations"`
	PopulationSize int     `json:"population_size"`
	Seed           int     `json:"seed"`
}

// OptimizeRequest is the body of POST /optimize.
type OptimizeRequest struct {
	RunID       string  `json:"run_id"`
	Seed        int     `json:"seed"`
	Mode        string  `json:"mode"`
	Scale       string  `json:"scale"`
	SimTimeS    int     `json:"sim_time_s"`
	Robots      []Robot `json:"robots"`
	PendingJobs []Job   `json:"pending_jobs"`
}

// OptimizeResponse is the reply to POST /optimize. Assignments are in
// canonical job order.
type OptimizeResponse struct {
	Assignments []Assignment `json:"assignments"`
	Meta        Meta         `json:"meta"`
}

// SortRobots orders robots canonically: ascending id.
func SortRobots(robots []Robot) []Robot {
	out := append([]Robot(nil), robots...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SortJobs orders jobs canonically: (deadline_ts ASC, priority DESC, job_id ASC).
func SortJobs(jobs []Job) []Job {
	out := append([]Job(nil), jobs...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DeadlineTS != out[j].DeadlineTS {
			return out[i].DeadlineTS < out[j].DeadlineTS
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}
