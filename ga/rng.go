package ga

import "math/rand"

// newRNG is the optimizer's only randomness source. No wall-clock, no map
// iteration, no unordered hashing feeds the plan.
func newRNG(seed int) *rand.Rand {
	return rand.New(rand.NewSource(int64(seed)))
}
