package sim

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/fleetsim/fleetsim/config"
)

// ScenarioParams are the generation inputs. The scenario hash is a function
// of these values only — no wall-clock input.
type ScenarioParams struct {
	Seed         int
	Scale        string
	WorldSize    float64
	SpeedMin     float64
	SpeedMax     float64
	ServiceTimeS int
	SlackMinS    int
	SlackMaxS    int
	RobotsCount  int // 0 = use scale preset
	JobsCount    int // 0 = use scale preset
}

// scenarioRobot / scenarioJob are the serialized forms fed to the hash.
type scenarioRobot struct {
	ID      int     `json:"id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Speed   float64 `json:"speed"`
	Battery float64 `json:"battery"`
}

type scenarioJob struct {
	ID         string  `json:"id"`
	PickupX    float64 `json:"pickup_x"`
	PickupY    float64 `json:"pickup_y"`
	DropoffX   float64 `json:"dropoff_x"`
	DropoffY   float64 `json:"dropoff_y"`
	DeadlineTS int     `json:"deadline_ts"`
	Priority   int     `json:"priority"`
}

type scenarioPayload struct {
	Seed      int             `json:"seed"`
	Robots    []scenarioRobot `json:"robots"`
	Jobs      []scenarioJob   `json:"jobs"`
	WorldSize float64         `json:"world_size"`
	SpeedMin  float64         `json:"speed_min"`
	SpeedMax  float64         `json:"speed_max"`
}

// GenerateScenario deterministically creates robots and jobs from the seeded
// RNG and returns them with the scenario hash.
//
// Draw order is fixed: robots in id order (x, y, speed per robot), then jobs
// in id order (pickup x, pickup y, dropoff x, dropoff y, priority, deadline
// slack per job). Changing this order changes every scenario hash.
func GenerateScenario(p ScenarioParams) ([]*Robot, []*Job, string, error) {
	scale, ok := config.ScaleMap[p.Scale]
	if !ok {
		return nil, nil, "", fmt.Errorf("invalid scale: %s", p.Scale)
	}
	if (p.RobotsCount == 0) != (p.JobsCount == 0) {
		return nil, nil, "", fmt.Errorf("robots and jobs overrides must be provided together")
	}
	if p.RobotsCount < 0 || p.JobsCount < 0 {
		return nil, nil, "", fmt.Errorf("robots and jobs overrides must be > 0")
	}

	robotsCount := scale.Robots
	jobsCount := scale.Jobs
	if p.RobotsCount > 0 {
		robotsCount = p.RobotsCount
		jobsCount = p.JobsCount
	}

	rng := NewRNG(p.Seed)

	robots := make([]*Robot, 0, robotsCount)
	for id := 1; id <= robotsCount; id++ {
		robots = append(robots, &Robot{
			ID:      id,
			X:       round3(UniformIn(rng, 0, p.WorldSize)),
			Y:       round3(UniformIn(rng, 0, p.WorldSize)),
			Speed:   round3(UniformIn(rng, p.SpeedMin, p.SpeedMax)),
			Battery: 100.0,
			State:   RobotIdle,
		})
	}

	jobs := make([]*Job, 0, jobsCount)
	for n := 1; n <= jobsCount; n++ {
		pickupX := round3(UniformIn(rng, 0, p.WorldSize))
		pickupY := round3(UniformIn(rng, 0, p.WorldSize))
		dropoffX := round3(UniformIn(rng, 0, p.WorldSize))
		dropoffY := round3(UniformIn(rng, 0, p.WorldSize))
		priority := 1 + rng.Intn(5)
		// Headroom so a well-dispatched fleet hits most deadlines on the
		// demo scale: worst-case travel at the slowest speed, plus service,
		// plus uniform slack.
		travel := int(math.Ceil(Distance(pickupX, pickupY, dropoffX, dropoffY) / p.SpeedMin))
		slack := p.SlackMinS + rng.Intn(p.SlackMaxS-p.SlackMinS+1)
		jobs = append(jobs, &Job{
			ID:         fmt.Sprintf("job_%d", n),
			PickupX:    pickupX,
			PickupY:    pickupY,
			DropoffX:   dropoffX,
			DropoffY:   dropoffY,
			DeadlineTS: travel + p.ServiceTimeS + slack,
			Priority:   priority,
			State:      JobPending,
		})
	}

	hash, err := scenarioHash(p, robots, jobs)
	if err != nil {
		return nil, nil, "", err
	}
	return robots, jobs, hash, nil
}

func scenarioHash(p ScenarioParams, robots []*Robot, jobs []*Job) (string, error) {
	payload := scenarioPayload{
		Seed:      p.Seed,
		WorldSize: p.WorldSize,
		SpeedMin:  p.SpeedMin,
		SpeedMax:  p.SpeedMax,
	}
	for _, r := range robots {
		payload.Robots = append(payload.Robots, scenarioRobot{
			ID: r.ID, X: r.X, Y: r.Y, Speed: r.Speed, Battery: r.Battery,
		})
	}
	for _, j := range jobs {
		payload.Jobs = append(payload.Jobs, scenarioJob{
			ID: j.ID, PickupX: j.PickupX, PickupY: j.PickupY,
			DropoffX: j.DropoffX, DropoffY: j.DropoffY,
			DeadlineTS: j.DeadlineTS, Priority: j.Priority,
		})
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode scenario: %w", err)
	}
	digest := sha256.Sum256(encoded)
	return hex.EncodeToString(digest[:]), nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
