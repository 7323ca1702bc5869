// Package permute generates the per-node permutation of [0, M) that drives
// Maglev slot assignment, plus the independent PRNG stream the weighted
// build variant uses for acceptance sampling.
//
// © 2025 maglev-balancer authors. MIT License.
package permute

import "github.com/Voskan/maglev-balancer/internal/primeutil"

// Generator produces a permutation of [0, n) for a prime n, derived from a
// 64-bit seed. gcd(step, n) = 1 for any step in [1, n) when n is prime, so
// the sequence offset, offset+step, offset+2*step, ... (mod n) visits every
// value exactly once.
type Generator struct {
	n      uint32
	offset uint32
	step   uint32
}

// New builds a Generator over [0, n). n must be a prime greater than 1.
func New(n uint32, seed uint64) Generator {
	if n <= 1 || !primeutil.IsPrime(n) {
		panic("permute: n must be a prime greater than 1")
	}
	g := Generator{n: n}
	g.hashAll(seed)
	return g
}

// hashAll splits the seed bits so offset and step land on decorrelated
// halves of the hash, then folds each into its modulus.
func (g *Generator) hashAll(seed uint64) {
	g.offset = uint32((seed & 0x5555555555555555) % uint64(g.n))
	g.step = uint32((seed&0xAAAAAAAAAAAAAAAA)%uint64(g.n-1)) + 1
}

// N returns the permutation modulus.
func (g Generator) N() uint32 { return g.n }

// Next returns the next value in the permutation and advances the cursor.
func (g *Generator) Next() uint32 {
	ret := g.offset
	g.offset = (g.offset + g.step) % g.n
	return ret
}

// WeightedGenerator pairs a Generator with an independent xorshift64* stream
// used only for weighted-build acceptance sampling. The stream is seeded
// from the same node identity hash as the permutation but advances on a
// distinct field, so rejecting a draw never perturbs the permutation cursor
// (and vice versa) — see the "global mutable rand seed" redesign note: the
// original used rand_r, which is neither reproducible across platforms nor
// independent per node; this stream is both.
type WeightedGenerator struct {
	Generator
	randState uint64
}

// NewWeighted builds a WeightedGenerator over [0, n) seeded from a node's
// identity hash.
func NewWeighted(n uint32, seed uint64) WeightedGenerator {
	state := seed
	if state == 0 {
		state = 0x9E3779B97F4A7C16
	}
	return WeightedGenerator{Generator: New(n, seed), randState: state}
}

// RandMax is the inclusive upper bound of Rand's output range, the
// acceptance-test denominator weighted node selection divides against.
const RandMax = 1<<31 - 1

// Rand draws the next pseudo-random value in [0, RandMax] from the
// generator's private xorshift64* stream.
func (g *WeightedGenerator) Rand() uint64 {
	x := g.randState
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	g.randState = x
	return (x * 0x2545F4914F6CDD1D) >> 33 & RandMax
}
