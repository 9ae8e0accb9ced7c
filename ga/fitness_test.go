package ga

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateSingleJobTerms(t *testing.T) {
	robots := []Robot{{ID: 1, X: 0, Y: 0, Speed: 1.0, Battery: 100, State: "idle"}}
	jobs := []Job{{ID: "job_1", PickupX: 3, PickupY: 0, DropoffX: 3, DropoffY: 4, DeadlineTS: 1000, Priority: 5}}

	// distance 3+4=7, no lateness, priority term (6-5)*3, load 1*1*30.
	score := evaluate([]int{0}, robots, jobs, 0, 0)
	assert.InDelta(t, 7*distanceWeight+1*priorityWeight+1*loadWeight, score, 1e-9)
}

func TestEvaluateLateness(t *testing.T) {
	robots := []Robot{{ID: 1, X: 0, Y: 0, Speed: 1.0, Battery: 100}}
	jobs := []Job{{ID: "job_1", PickupX: 3, PickupY: 0, DropoffX: 3, DropoffY: 4, DeadlineTS: 10, Priority: 5}}

	// finish = 7/1 + 5 = 12, 2 s past the deadline.
	score := evaluate([]int{0}, robots, jobs, 0, 5)
	expected := 2*latenessWeight + 7*distanceWeight + 1*priorityWeight + 1*loadWeight
	assert.InDelta(t, expected, score, 1e-9)
}

func TestEvaluateBatteryPenalties(t *testing.T) {
	jobs := []Job{{ID: "job_1", PickupX: 3, PickupY: 0, DropoffX: 3, DropoffY: 4, DeadlineTS: 1000, Priority: 5}}
	base := 7*distanceWeight + 1*priorityWeight + 1*loadWeight

	// 10.5 - 0.7 = 9.8, below the floor.
	low := []Robot{{ID: 1, Speed: 1.0, Battery: 10.5}}
	assert.InDelta(t, base+batteryLowPenalty, evaluate([]int{0}, low, jobs, 0, 0), 1e-9)

	// 0.5 - 0.7 = -0.2, projected depletion.
	depleted := []Robot{{ID: 1, Speed: 1.0, Battery: 0.5}}
	expected := base + batteryNegBase + 0.2*batteryNegSlope
	assert.InDelta(t, expected, evaluate([]int{0}, depleted, jobs, 0, 0), 1e-9)
}

func TestEvaluateSequentialLoad(t *testing.T) {
	robots := []Robot{{ID: 1, X: 0, Y: 0, Speed: 1.0, Battery: 100}, {ID: 2, X: 2, Y: 0, Speed: 1.0, Battery: 100}}
	jobs := []Job{
		{ID: "job_1", PickupX: 1, PickupY: 0, DropoffX: 2, DropoffY: 0, DeadlineTS: 100, Priority: 3},
		{ID: "job_2", PickupX: 2, PickupY: 0, DropoffX: 3, DropoffY: 0, DeadlineTS: 2, Priority: 3},
	}

	// Robot 1 runs both jobs back to back: job_2 finishes at t=3, 1 s late.
	score := evaluate([]int{0, 0}, robots, jobs, 0, 0)
	expected := 2*distanceWeight + 3*priorityWeight +
		1*latenessWeight + 1*distanceWeight + 3*priorityWeight +
		4*loadWeight
	assert.InDelta(t, expected, score, 1e-9)

	// Splitting the jobs swaps the quadratic load term for a linear one.
	split := evaluate([]int{0, 1}, robots, jobs, 0, 0)
	assert.Less(t, split, score)
}

func TestEvaluateEdgeCases(t *testing.T) {
	robots := []Robot{{ID: 1, Speed: 1.0, Battery: 100}}
	assert.Equal(t, 0.0, evaluate(nil, robots, nil, 0, 0))
	assert.True(t, math.IsInf(evaluate([]int{0}, nil, []Job{{ID: "job_1"}}, 0, 0), 1))
}
