// Package rng is the replicated random source. Every draw is a pure function
// of the stored state, so two replicas holding the same state produce the same
// stream.
package rng

import "math/bits"

const golden = 0x9e3779b97f4a7c15

// Next is one splitmix64 step: it returns a draw and the successor state.
func Next(state uint64) (value, next uint64) {
	next = state + golden
	z := next
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31), next
}

// SeedFrom maps a configured (possibly small or negative) seed to a state.
func SeedFrom(seed int64) uint64 {
	v, _ := Next(uint64(seed))
	return v
}

// Source advances a state in place. The zero value is usable.
type Source struct {
	state uint64
}

func New(state uint64) *Source { return &Source{state: state} }

func (s *Source) State() uint64     { return s.state }
func (s *Source) SetState(v uint64) { s.state = v }

func (s *Source) Uint64() uint64 {
	v, next := Next(s.state)
	s.state = next
	return v
}

// Intn returns a value in [0,n). n <= 0 yields 0 without consuming state.
func (s *Source) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	hi, _ := bits.Mul64(s.Uint64(), uint64(n))
	return int(hi)
}

// Permille reports true with probability p/1000.
func (s *Source) Permille(p int) bool {
	if p <= 0 {
		return false
	}
	if p >= 1000 {
		return true
	}
	return s.Intn(1000) < p
}

// Pick returns a uniformly chosen element, or "" for an empty slice.
func (s *Source) Pick(xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	return xs[s.Intn(len(xs))]
}
