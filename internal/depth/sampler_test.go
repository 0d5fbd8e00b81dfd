package depth

import (
	"slices"
	"testing"
)

func TestHeavyTailedBoundsAndOrder(t *testing.T) {
	s := NewSampler(7)
	for i := 0; i < 200; i++ {
		got := s.HeavyTailed(0.1, 100)
		if len(got) > 100 {
			t.Fatalf("got %d values for 100 draws", len(got))
		}
		if !slices.IsSorted(got) {
			t.Fatalf("values not sorted: %v", got)
		}
		for _, v := range got {
			if v < sampleLow || v >= sampleHigh {
				t.Fatalf("value %v outside [1,100)", v)
			}
		}
	}
}

func TestHeavyTailedDiscardsUpperBound(t *testing.T) {
	s := NewSampler(11)
	// alpha this small puts nearly every draw beyond 100, and those are dropped
	// instead of being clamped into the result.
	got := s.HeavyTailed(0.01, 1000)
	if len(got) > 100 {
		t.Fatalf("expected most draws discarded, kept %d of 1000", len(got))
	}
	// alpha this large keeps every draw just above 1.
	if got := s.HeavyTailed(1000, 50); len(got) != 50 {
		t.Fatalf("expected all 50 draws kept, got %d", len(got))
	}
}

func TestHeavyTailedIndicesDistinct(t *testing.T) {
	s := NewSampler(3)
	for i := 0; i < 100; i++ {
		idx := s.HeavyTailedIndices(0.5, 20)
		for j, v := range idx {
			if v < 1 || v > 99 {
				t.Fatalf("index %d out of range", v)
			}
			if j > 0 && idx[j-1] >= v {
				t.Fatalf("indices not strictly increasing: %v", idx)
			}
		}
	}
}

func TestSamplerSeedIsDeterministic(t *testing.T) {
	a, b := NewSampler(99), NewSampler(99)
	if !slices.Equal(a.HeavyTailed(0.3, 30), b.HeavyTailed(0.3, 30)) {
		t.Fatalf("same seed produced different draws")
	}
}
