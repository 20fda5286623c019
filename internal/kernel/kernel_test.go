package kernel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDotAndSquaredL2(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	assert.InDelta(t, 32.0, Dot(a, b), 1e-4)
	assert.InDelta(t, 27.0, SquaredL2(a, b), 1e-4)
}

func TestMinMax(t *testing.T) {
	min, max := MinMax([]float32{3, -1, 7, 2})
	assert.Equal(t, float32(-1), min)
	assert.Equal(t, float32(7), max)
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	assert.InDelta(t, 1.0, Norm(v), 1e-4)
}

func TestFloat16RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		f := float32(rng.NormFloat64())
		got := NewFloat16(f).Float32()
		assert.InDelta(t, float64(f), float64(got), 5e-3)
	}
}

// TestSparseMergeMatchesDenseLift checks spec.md §8's "Sparse merge" property:
// for equal-support vectors, the sparse reduction equals the dense lift's.
func TestSparseMergeMatchesDenseLift(t *testing.T) {
	idx := []uint32{0, 2, 5, 9}
	aVal := []float32{1, 2, 3, 4}
	bVal := []float32{5, 6, 7, 8}
	dims := 10

	aDense := SparseToDense(idx, aVal, dims)
	bDense := SparseToDense(idx, bVal, dims)

	require.InDelta(t, Dot(aDense, bDense), SparseDot(idx, aVal, idx, bVal), 1e-4)
	require.InDelta(t, SquaredL2(aDense, bDense), SparseSquaredL2(idx, aVal, idx, bVal), 1e-4)
}

func TestSparseDotUnmatchedIndices(t *testing.T) {
	aIdx := []uint32{0, 3}
	aVal := []float32{2, 5}
	bIdx := []uint32{1, 3}
	bVal := []float32{7, 4}

	assert.InDelta(t, 20.0, SparseDot(aIdx, aVal, bIdx, bVal), 1e-4) // only index 3 matches: 5*4
	assert.InDelta(t, float64(2*2+7*7+(5-4)*(5-4)), float64(SparseSquaredL2(aIdx, aVal, bIdx, bVal)), 1e-4)
}
