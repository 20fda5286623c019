package vecstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDenseSource struct {
	vecs []([]float32)
	pay  []uint64
}

func (f *fakeDenseSource) Len() uint32               { return uint32(len(f.vecs)) }
func (f *fakeDenseSource) Vector(i uint32) []float32 { return f.vecs[i] }
func (f *fakeDenseSource) Payload(i uint32) uint64   { return f.pay[i] }

func TestDenseBuildAndOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := &fakeDenseSource{
		vecs: [][]float32{{1, 2, 3}, {4, 5, 6}, {-1, 0, 0.5}},
		pay:  []uint64{10, 20, 30},
	}
	d, err := BuildDense(dir, 3, src)
	require.NoError(t, err)
	defer d.Close()

	require.Equal(t, uint32(3), d.Len())
	for i := range src.vecs {
		require.Equal(t, src.vecs[i], d.Vector(uint32(i)))
		require.Equal(t, src.pay[i], d.Payload(uint32(i)))
	}

	reopened, err := OpenDense(dir, 3)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, uint32(3), reopened.Len())
	require.Equal(t, []float32{4, 5, 6}, reopened.Vector(1))
}

func TestDenseBuildDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	src := &fakeDenseSource{vecs: [][]float32{{1, 2}}, pay: []uint64{1}}
	_, err := BuildDense(dir, 3, src)
	require.Error(t, err)
}

type fakeSparseSource struct {
	rows []SparseRow
	pay  []uint64
}

func (f *fakeSparseSource) Len() uint32                      { return uint32(len(f.rows)) }
func (f *fakeSparseSource) SparseVector(i uint32) SparseRow { return f.rows[i] }
func (f *fakeSparseSource) Payload(i uint32) uint64         { return f.pay[i] }

func TestSparseBuildAndOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSparseSource{
		rows: []SparseRow{
			{Indices: []uint32{0, 3, 7}, Values: []float32{1, 2, 3}},
			{Indices: []uint32{}, Values: []float32{}},
			{Indices: []uint32{1}, Values: []float32{9}},
		},
		pay: []uint64{100, 200, 300},
	}
	s, err := BuildSparse(dir, src)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, uint32(3), s.Len())
	require.Equal(t, src.rows[0], s.Vector(0))
	require.Equal(t, src.rows[1], s.Vector(1))
	require.Equal(t, src.rows[2], s.Vector(2))
	require.Equal(t, uint64(200), s.Payload(1))
}

func TestValidateSparseRejectsNonIncreasing(t *testing.T) {
	err := ValidateSparse(SparseRow{Indices: []uint32{2, 1}, Values: []float32{1, 2}}, 10)
	require.Error(t, err)
}

func TestValidateSparseRejectsOutOfBounds(t *testing.T) {
	err := ValidateSparse(SparseRow{Indices: []uint32{5}, Values: []float32{1}}, 5)
	require.Error(t, err)
}

func TestValidateSparseAccepts(t *testing.T) {
	err := ValidateSparse(SparseRow{Indices: []uint32{0, 1, 4}, Values: []float32{1, 2, 3}}, 5)
	require.NoError(t, err)
}
