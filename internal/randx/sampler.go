// Package randx provides the seeded sampler used for account selection,
// proxy rotation, user-agent choice and pacing delays.
//
// Guarantees: Sample draws k distinct indexes uniformly without replacement,
// Intn and Between are uniform over their ranges. The source is math/rand/v2
// PCG and is NOT cryptographically secure; a fixed seed reproduces the exact
// sequence, which is what tests rely on.
package randx

import (
	"math/rand/v2"
	"sync"
	"time"
)

type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a sampler seeded with seed. A zero seed is replaced with the
// current time so production runs differ from one another.
func New(seed uint64) *Sampler {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Sampler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Intn returns a uniform int in [0, n). n <= 0 yields 0.
func (s *Sampler) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Sample returns k distinct indexes from [0, n) using a partial Fisher-Yates
// shuffle. k is clamped to n.
func (s *Sampler) Sample(n, k int) []int {
	if n <= 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	s.mu.Lock()
	for i := 0; i < k; i++ {
		j := i + s.rng.IntN(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	s.mu.Unlock()
	return idx[:k]
}

// Between returns a duration uniformly drawn from [min, max]. When max <= min
// it returns min.
func (s *Sampler) Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64(max - min)
	s.mu.Lock()
	n := s.rng.Int64N(span + 1)
	s.mu.Unlock()
	return min + time.Duration(n)
}

// Pick returns one element of items chosen uniformly, or the zero value and
// false for an empty slice.
func Pick[T any](s *Sampler, items []T) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	return items[s.Intn(len(items))], true
}
