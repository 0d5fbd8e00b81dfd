package depth

import (
	"math"
	"math/rand/v2"
	"slices"
)

const (
	sampleLow  = 1.0
	sampleHigh = 100.0
)

// Sampler is the single source of randomness for book generation. It is not
// safe for concurrent use; the simulator only touches it under its book lock.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler returns a sampler seeded with seed, or with a random seed when
// seed is zero.
func NewSampler(seed uint64) *Sampler {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Sampler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// HeavyTailed draws count Pareto(alpha) values clamped into [1, 100] and
// returns them sorted ascending. A draw that clamps to exactly 100 is dropped
// rather than kept, so fewer than count values may come back.
func (s *Sampler) HeavyTailed(alpha float64, count int) []float64 {
	out := make([]float64, 0, count)
	for range count {
		v := s.pareto(alpha)
		v = min(max(v, sampleLow), sampleHigh)
		if v == sampleHigh {
			continue
		}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// HeavyTailedIndices maps HeavyTailed draws onto a sorted set of distinct
// integer indices, all >= 1.
func (s *Sampler) HeavyTailedIndices(alpha float64, count int) []int {
	draws := s.HeavyTailed(alpha, count)
	idx := make([]int, 0, len(draws))
	for _, d := range draws {
		idx = append(idx, int(d))
	}
	return slices.Compact(idx)
}

// pareto mirrors the classic paretovariate: 1 / (1-U)^(1/alpha).
func (s *Sampler) pareto(alpha float64) float64 {
	u := s.rng.Float64()
	return 1.0 / math.Pow(1.0-u, 1.0/alpha)
}

// Uniform returns a value in [lo, hi).
func (s *Sampler) Uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + s.rng.Float64()*(hi-lo)
}

// Coin is a fair bid/ask choice.
func (s *Sampler) Coin() bool { return s.rng.IntN(2) == 0 }

func (s *Sampler) Shuffle(n int, swap func(i, j int)) { s.rng.Shuffle(n, swap) }
