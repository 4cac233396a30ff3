package game

import (
	"hash/fnv"
	"math"
	"math/rand"

	"arena-shooter/server/internal/physics"
)

// DeterministicSeedValue derives a stable seed from a root seed and label.
func DeterministicSeedValue(rootSeed, label string) int64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(rootSeed))
	hasher.Write([]byte{0})
	hasher.Write([]byte(label))
	sum := hasher.Sum64()
	if sum == 0 {
		sum = 1
	}
	return int64(sum)
}

// NewDeterministicRNG returns an RNG seeded from rootSeed and label.
func NewDeterministicRNG(rootSeed, label string) *rand.Rand {
	return rand.New(rand.NewSource(DeterministicSeedValue(rootSeed, label)))
}

func randomRange(rng *rand.Rand, min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + rng.Float64()*(max-min)
}

func randomDirection(rng *rand.Rand) physics.Vec {
	angle := rng.Float64() * 2 * math.Pi
	return physics.Vec{X: math.Cos(angle), Y: math.Sin(angle)}
}
