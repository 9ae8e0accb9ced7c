package ga

import (
	"math"
	"sort"
)

// Optimize runs the deterministic GA and returns assignments in canonical
// job order. Same (seed, robots, pendingJobs, simTimeS, params) always
// produces byte-identical output: the only randomness is the seeded RNG,
// drawn in a fixed order (population init, then per generation the
// tournament picks, crossover coin and cut, and mutation coins).
func Optimize(seed int, robots []Robot, pendingJobs []Job, simTimeS int, p Params) ([]Assignment, Meta) {
	meta := Meta{
		Generations:    p.Generations,
		PopulationSize: p.PopulationSize,
		Seed:           seed,
	}
	orderedRobots := SortRobots(robots)
	orderedJobs := SortJobs(pendingJobs)
	if len(orderedJobs) == 0 || len(orderedRobots) == 0 {
		return []Assignment{}, meta
	}

	rng := newRNG(seed)
	population := initPopulation(p.PopulationSize, len(orderedJobs), len(orderedRobots), rng)

	var bestChromosome []int
	bestScore := math.Inf(1)

	type individual struct {
		score      float64
		index      int
		chromosome []int
	}

	for gen := 0; gen < p.Generations; gen++ {
		evaluated := make([]individual, len(population))
		for idx, chromosome := range population {
			score := evaluate(chromosome, orderedRobots, orderedJobs, simTimeS, p.ServiceTimeS)
			evaluated[idx] = individual{score: score, index: idx, chromosome: chromosome}
			if score < bestScore || (score == bestScore && lexLess(chromosome, bestChromosome)) {
				bestScore = score
				bestChromosome = append([]int(nil), chromosome...)
			}
		}

		sort.SliceStable(evaluated, func(i, j int) bool {
			if evaluated[i].score != evaluated[j].score {
				return evaluated[i].score < evaluated[j].score
			}
			return lexLess(evaluated[i].chromosome, evaluated[j].chromosome)
		})

		sortedPopulation := make([][]int, len(evaluated))
		fitnesses := make([]float64, len(evaluated))
		for i, ind := range evaluated {
			sortedPopulation[i] = ind.chromosome
			fitnesses[i] = ind.score
		}

		next := make([][]int, 0, p.PopulationSize)
		for i := 0; i < p.EliteSize && i < len(sortedPopulation); i++ {
			next = append(next, append([]int(nil), sortedPopulation[i]...))
		}

		for len(next) < p.PopulationSize {
			parentA := tournamentSelect(sortedPopulation, fitnesses, rng)
			parentB := tournamentSelect(sortedPopulation, fitnesses, rng)

			var childA, childB []int
			if rng.Float64() < p.CrossoverRate {
				childA, childB = crossover(parentA, parentB, rng)
			} else {
				childA, childB = parentA, parentB
			}

			next = append(next, mutate(childA, len(orderedRobots), p.MutationRate, rng))
			if len(next) < p.PopulationSize {
				next = append(next, mutate(childB, len(orderedRobots), p.MutationRate, rng))
			}
		}
		population = next
	}

	meta.BestScore = bestScore
	assignments := make([]Assignment, 0, len(orderedJobs))
	for k, job := range orderedJobs {
		robot := orderedRobots[bestChromosome[k]%len(orderedRobots)]
		assignments = append(assignments, Assignment{
			JobID:   job.ID,
			RobotID: robot.ID,
			Score:   bestScore,
		})
	}
	return assignments, meta
}
