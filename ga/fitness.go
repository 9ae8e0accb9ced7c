package ga

import "math"

// Fitness weights. Lateness dominates so deadline misses are traded away
// first; the load term discourages piling a fleet's work on one robot.
const (
	latenessWeight    = 1000.0
	distanceWeight    = 2.0
	priorityWeight    = 3.0
	loadWeight        = 30.0
	batteryFloor      = 10.0
	batteryLowPenalty = 200.0
	batteryNegBase    = 500.0
	batteryNegSlope   = 100.0

	// Battery cost per distance unit travelled, mirroring the fleet's
	// consumption model for plan evaluation.
	batteryPerDistance = 0.1

	minSpeed = 0.1
)

func dist(ax, ay, bx, by float64) float64 {
	return math.Hypot(ax-bx, ay-by)
}

// evaluate scores a chromosome (lower is better) by simulating, per robot,
// the sequential execution of its assigned jobs in canonical job order from
// the robot's current position and battery. robots and jobs must already be
// in canonical order.
func evaluate(chromosome []int, robots []Robot, jobs []Job, simTimeS int, serviceTimeS int) float64 {
	if len(jobs) == 0 {
		return 0
	}
	if len(robots) == 0 {
		return math.Inf(1)
	}

	robotTime := make([]float64, len(robots))
	robotX := make([]float64, len(robots))
	robotY := make([]float64, len(robots))
	robotBattery := make([]float64, len(robots))
	robotJobs := make([]int, len(robots))
	for i, r := range robots {
		robotTime[i] = float64(simTimeS)
		robotX[i] = r.X
		robotY[i] = r.Y
		robotBattery[i] = r.Battery
	}

	total := 0.0
	for k, job := range jobs {
		ri := chromosome[k] % len(robots)

		toPickup := dist(robotX[ri], robotY[ri], job.PickupX, job.PickupY)
		toDropoff := dist(job.PickupX, job.PickupY, job.DropoffX, job.DropoffY)
		distance := toPickup + toDropoff
		speed := math.Max(robots[ri].Speed, minSpeed)

		finishTime := robotTime[ri] + distance/speed + float64(serviceTimeS)
		lateness := math.Max(0, finishTime-float64(job.DeadlineTS))

		batteryAfter := robotBattery[ri] - distance*batteryPerDistance
		batteryPenalty := 0.0
		if batteryAfter < 0 {
			batteryPenalty = batteryNegBase + math.Abs(batteryAfter)*batteryNegSlope
		} else if batteryAfter < batteryFloor {
			batteryPenalty = batteryLowPenalty
		}

		total += lateness*latenessWeight +
			distance*distanceWeight +
			float64(6-job.Priority)*priorityWeight +
			batteryPenalty

		robotTime[ri] = finishTime
		robotX[ri] = job.DropoffX
		robotY[ri] = job.DropoffY
		robotBattery[ri] = math.Max(0, batteryAfter)
		robotJobs[ri]++
	}

	for _, n := range robotJobs {
		total += float64(n*n) * loadWeight
	}
	return total
}
