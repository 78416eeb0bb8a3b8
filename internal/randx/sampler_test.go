package randx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSampleDistinctAndInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 200).Draw(t, "n")
		k := rapid.IntRange(0, 250).Draw(t, "k")
		seed := rapid.Uint64().Draw(t, "seed")

		got := New(seed).Sample(n, k)

		want := k
		if want > n {
			want = n
		}
		if n == 0 || k == 0 {
			want = 0
		}
		if len(got) != want {
			t.Fatalf("len = %d, want %d", len(got), want)
		}
		seen := make(map[int]bool, len(got))
		for _, v := range got {
			if v < 0 || v >= n {
				t.Fatalf("index %d out of range [0,%d)", v, n)
			}
			if seen[v] {
				t.Fatalf("index %d drawn twice", v)
			}
			seen[v] = true
		}
	})
}

func TestSampleSeedIsReproducible(t *testing.T) {
	a := New(42).Sample(50, 10)
	b := New(42).Sample(50, 10)
	assert.Equal(t, a, b)
}

func TestSampleRoughlyUniform(t *testing.T) {
	s := New(7)
	counts := make([]int, 10)
	const rounds = 20000
	for i := 0; i < rounds; i++ {
		for _, v := range s.Sample(10, 3) {
			counts[v]++
		}
	}
	// each index should be picked ~ rounds*3/10 = 6000 times
	for i, c := range counts {
		assert.InDelta(t, 6000, c, 400, "index %d", i)
	}
}

func TestBetween(t *testing.T) {
	s := New(1)
	for i := 0; i < 1000; i++ {
		d := s.Between(2*time.Second, 5*time.Second)
		require.GreaterOrEqual(t, d, 2*time.Second)
		require.LessOrEqual(t, d, 5*time.Second)
	}
	assert.Equal(t, 3*time.Second, s.Between(3*time.Second, time.Second))
}

func TestPickEmpty(t *testing.T) {
	_, ok := Pick(New(1), []string(nil))
	assert.False(t, ok)

	v, ok := Pick(New(1), []string{"only"})
	assert.True(t, ok)
	assert.Equal(t, "only", v)
}
