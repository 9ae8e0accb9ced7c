package ga

import "math/rand"

// initPopulation builds the initial population. Individual 0 is the greedy
// round-robin seed (gene k -> robot k mod n); the rest are uniform draws
// from the seeded RNG, genes in index order.
func initPopulation(populationSize, chromosomeLen, robotCount int, rng *rand.Rand) [][]int {
	population := make([][]int, 0, populationSize)

	roundRobin := make([]int, chromosomeLen)
	for k := range roundRobin {
		roundRobin[k] = k % robotCount
	}
	population = append(population, roundRobin)

	for i := 1; i < populationSize; i++ {
		chromosome := make([]int, chromosomeLen)
		for k := range chromosome {
			chromosome[k] = rng.Intn(robotCount)
		}
		population = append(population, chromosome)
	}
	return population
}

// tournamentSelect picks the fittest of three uniformly drawn individuals,
// breaking fitness ties by ascending index.
func tournamentSelect(population [][]int, fitnesses []float64, rng *rand.Rand) []int {
	const tournamentSize = 3
	best := -1
	for i := 0; i < tournamentSize; i++ {
		idx := rng.Intn(len(population))
		if best == -1 || fitnesses[idx] < fitnesses[best] || (fitnesses[idx] == fitnesses[best] && idx < best) {
			best = idx
		}
	}
	return append([]int(nil), population[best]...)
}

// crossover performs one-point crossover; the cut index comes from the
// seeded RNG. Length-1 chromosomes pass through unchanged.
func crossover(parentA, parentB []int, rng *rand.Rand) ([]int, []int) {
	if len(parentA) <= 1 {
		return append([]int(nil), parentA...), append([]int(nil), parentB...)
	}
	point := 1 + rng.Intn(len(parentA)-1)
	childA := append(append([]int(nil), parentA[:point]...), parentB[point:]...)
	childB := append(append([]int(nil), parentB[:point]...), parentA[point:]...)
	return childA, childB
}

// mutate flips each gene with probability mutationRate to a uniform robot index.
func mutate(chromosome []int, robotCount int, mutationRate float64, rng *rand.Rand) []int {
	for k := range chromosome {
		if rng.Float64() < mutationRate {
			chromosome[k] = rng.Intn(robotCount)
		}
	}
	return chromosome
}

// lexLess compares chromosomes lexicographically, the stable tie-break used
// when fitnesses are equal.
func lexLess(a, b []int) bool {
	for k := range a {
		if k >= len(b) {
			return false
		}
		if a[k] != b[k] {
			return a[k] < b[k]
		}
	}
	return len(a) < len(b)
}
