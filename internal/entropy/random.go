// Package entropy provides the uniform random source behind every stochastic
// draw in the simulation. A seeded source makes runs reproducible; seed 0
// draws a seed from crypto/rand.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	mrand "math/rand"
)

// Source yields uniform floats in [0, 1).
type Source interface {
	Float64() float64
}

// Seeded is a Source backed by math/rand. Not safe for concurrent use.
type Seeded struct {
	seed int64
	rng  *mrand.Rand
}

// NewSource creates a seeded Source. A zero seed is replaced by a random one,
// which is logged so the run can be reproduced.
func NewSource(seed int64) *Seeded {
	if seed == 0 {
		seed = cryptoSeed()
		slog.Debug("entropy seeded from crypto/rand", "seed", seed)
	}
	return &Seeded{
		seed: seed,
		rng:  mrand.New(mrand.NewSource(seed)),
	}
}

// Float64 returns a random float64 in [0, 1).
func (s *Seeded) Float64() float64 {
	return s.rng.Float64()
}

// Seed returns the seed actually in use.
func (s *Seeded) Seed() int64 {
	return s.seed
}

// Uniform returns a value drawn uniformly from [min, max). When min == max
// it returns min.
func Uniform(src Source, min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + src.Float64()*(max-min)
}

// Chance draws once and reports whether the draw fell below p.
func Chance(src Source, p float64) bool {
	return src.Float64() < p
}

func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		seed = 1
	}
	return seed
}
