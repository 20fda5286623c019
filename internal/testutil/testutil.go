// Package testutil provides shared test fixtures used across
// internal/*_test.go files and the root engine package's tests: random
// vector generation, a scratch index directory, and a quiet logger —
// the local-filesystem-only equivalents of what the teacher's testutil
// built around a TimescaleDB testcontainer, since this engine has no
// database dependency to spin up.
package testutil

import (
	"log/slog"
	"math/rand"
	"os"
)

// TestLogger returns a logger configured for test output (warns only),
// matching the teacher's own TestLogger.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// RandomVectors generates n random dense vectors of the given dimension
// from a seeded, reproducible source.
func RandomVectors(seed int64, n, dims int) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dims)
		for d := range v {
			v[d] = float32(rng.NormFloat64())
		}
		out[i] = v
	}
	return out
}

// SequentialPayloads returns n payloads, each packing pointer i with
// version 0, suitable for pairing with RandomVectors in insert-order
// tests that don't exercise delete-map versioning directly.
func SequentialPayloads(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = uint64(i) << 16
	}
	return out
}

// TempIndexDir creates a fresh scratch directory for an index under the
// test's temp dir and returns its path. Cleanup is handled by t.TempDir
// itself; this helper only exists so callers get a consistently named
// subdirectory ("index") rather than the bare temp root.
func TempIndexDir(base string) (string, error) {
	dir := base + "/index"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
