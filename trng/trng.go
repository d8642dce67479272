// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package trng implements a software entropy generator.
//
// A Generator mixes a pool seeded from the operating system's secure random
// source with thread scheduling jitter and a nonlinear mixing step, hashes
// the pool with SHA3-256, and expands the digest with SHAKE256 when more
// output is requested than the digest provides.
package trng

import (
	"crypto/rand"
	"io"
	"time"

	"golang.org/x/crypto/sha3"
)

const (
	// SeedSize is the number of bytes read from the OS to seed the pool.
	SeedSize = 64

	// DigestSize is the size of the SHA3-256 pool digest.
	DigestSize = 32

	jitterRounds = 10
	simRounds    = 16
)

// Generator produces bytes approximating uniform randomness.  The pool grows
// with every call to Generate, so no two outputs of one Generator repeat.
//
// A Generator must not be used concurrently.  Independent Generators share
// no state.
type Generator struct {
	pool []byte
}

// New returns a Generator seeded with SeedSize bytes of OS entropy.
// It panics if the OS random source cannot be read; there is no way to
// continue without it.
func New() *Generator {
	pool := make([]byte, SeedSize)
	_, err := io.ReadFull(rand.Reader, pool)
	if err != nil {
		panic(err)
	}
	return &Generator{pool: pool}
}

// collectJitter appends one byte of measured sleep duration per round.
func (g *Generator) collectJitter() {
	for i := 0; i < jitterRounds; i++ {
		start := time.Now()
		time.Sleep(time.Nanosecond)
		elapsed := time.Since(start).Nanoseconds()
		g.pool = append(g.pool, byte(elapsed))
	}
}

// simEntropy derives simRounds bytes from the pool, seeded by the clock.
func (g *Generator) simEntropy() []byte {
	return g.mix(uint64(time.Now().UnixNano()))
}

// mix steps a 64-bit state against pool bytes selected by the state,
// emitting the low byte after each step.  It is deterministic in the pool
// and the initial state.
func (g *Generator) mix(state uint64) []byte {
	out := make([]byte, simRounds)
	for i := range out {
		b := g.pool[state%uint64(len(g.pool))]
		state ^= state + uint64(b)
		out[i] = byte(state)
	}
	return out
}

// Generate returns n bytes of output.  n must not be negative.
func (g *Generator) Generate(n int) []byte {
	if n < 0 {
		panic("trng: negative length")
	}

	g.collectJitter()
	g.pool = append(g.pool, g.simEntropy()...)

	mixed := sha3.Sum256(g.pool)
	if n <= len(mixed) {
		out := make([]byte, n)
		copy(out, mixed[:n])
		return out
	}

	xof := sha3.NewShake256()
	xof.Write(mixed[:])
	out := make([]byte, n)
	_, err := io.ReadFull(xof, out)
	if err != nil {
		panic(err) // shake output is unbounded
	}
	return out
}

// Read fills p with generated bytes.  It never returns an error, allowing
// a Generator to be used wherever an io.Reader randomness source is
// accepted.
func (g *Generator) Read(p []byte) (int, error) {
	copy(p, g.Generate(len(p)))
	return len(p), nil
}

// PoolLen returns the current size of the entropy pool.
func (g *Generator) PoolLen() int {
	return len(g.pool)
}
