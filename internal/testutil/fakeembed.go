// Package testutil provides small deterministic fakes shared across
// package test suites.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
)

// FakeEmbedder is a deterministic embedding.Generator: same text always
// maps to the same unit vector, so similarity assertions in tests are
// reproducible without a running Ollama server. Tests that need a known
// similarity relationship between two specific strings can pin one or
// both via Set; anything not pinned falls back to a hash-derived vector.
type FakeEmbedder struct {
	dim       int
	overrides map[string][]float32
}

// NewFakeEmbedder returns a FakeEmbedder producing dim-length vectors.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	if dim <= 0 {
		dim = 16
	}
	return &FakeEmbedder{dim: dim, overrides: make(map[string][]float32)}
}

func (f *FakeEmbedder) Dim() int { return f.dim }

// Set pins text to an exact (already unit-length) vector, overriding the
// hash-derived default.
func (f *FakeEmbedder) Set(text string, vec []float32) {
	f.overrides[text] = vec
}

// Embed hashes text into a seed and fills the vector with a deterministic
// pseudo-random sequence derived from it, then unit-normalizes.
func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if vec, ok := f.overrides[text]; ok {
		return vec, nil
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	out := make([]float32, f.dim)
	var norm float64
	for i := range out {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>11)) / float64(1<<52)
		out[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return out, nil
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out, nil
}
