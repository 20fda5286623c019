package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	engine "github.com/tensorchord/pgvecto.rs-sub000"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/testutil"
)

func baseOptions(dims uint32) engine.Options {
	o := engine.DefaultOptions()
	o.Vector = engine.VectorOptions{Dims: dims, Distance: engine.L2, Kind: engine.Vecf32}
	return o
}

func TestCreateThenInsertThenViewBasic(t *testing.T) {
	dir, err := testutil.TempIndexDir(t.TempDir())
	require.NoError(t, err)

	idx, err := engine.Create(dir, baseOptions(4), engine.WithLogger(testutil.TestLogger()))
	require.NoError(t, err)
	defer idx.Close()

	vectors := testutil.RandomVectors(1, 10, 4)
	var pointers []engine.Pointer
	for i, v := range vectors {
		p := engine.Pointer(i + 1)
		_, err := idx.Insert(engine.Vector{Dense: v}, p)
		require.NoError(t, err)
		pointers = append(pointers, p)
	}

	results, err := idx.ViewBasic(engine.Vector{Dense: vectors[3]}, engine.SearchOptions{K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, pointers[3], results[0].Pointer)
}

func TestInsertRejectsWrongDimension(t *testing.T) {
	dir, err := testutil.TempIndexDir(t.TempDir())
	require.NoError(t, err)
	idx, err := engine.Create(dir, baseOptions(4))
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Insert(engine.Vector{Dense: []float32{1, 2, 3}}, engine.Pointer(1))
	require.ErrorIs(t, err, engine.ErrDimensionMismatch)
}

func TestDeleteHidesPointerFromViewBasic(t *testing.T) {
	dir, err := testutil.TempIndexDir(t.TempDir())
	require.NoError(t, err)
	idx, err := engine.Create(dir, baseOptions(4))
	require.NoError(t, err)
	defer idx.Close()

	vectors := testutil.RandomVectors(2, 5, 4)
	for i, v := range vectors {
		_, err := idx.Insert(engine.Vector{Dense: v}, engine.Pointer(i+1))
		require.NoError(t, err)
	}

	require.NoError(t, idx.Delete(engine.Pointer(3)))

	results, err := idx.ViewBasic(engine.Vector{Dense: vectors[2]}, engine.SearchOptions{K: 5})
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, engine.Pointer(3), r.Pointer)
	}
}

// TestReinsertAfterDeleteIsVisibleAgain exercises §8 scenario 2: deleting a
// pointer bumps its stored version, and a later Insert that reuses the same
// pointer must stamp the new, current version rather than a stale 0 — else
// the reinserted row would never satisfy the delete map's Check again.
func TestReinsertAfterDeleteIsVisibleAgain(t *testing.T) {
	dir, err := testutil.TempIndexDir(t.TempDir())
	require.NoError(t, err)
	idx, err := engine.Create(dir, baseOptions(3))
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Insert(engine.Vector{Dense: []float32{1, 0, 0}}, engine.Pointer(1))
	require.NoError(t, err)
	_, err = idx.Insert(engine.Vector{Dense: []float32{0, 1, 0}}, engine.Pointer(7))
	require.NoError(t, err)

	require.NoError(t, idx.Delete(engine.Pointer(7)))

	results, err := idx.ViewBasic(engine.Vector{Dense: []float32{0, 1, 0}}, engine.SearchOptions{K: 1})
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, engine.Pointer(7), r.Pointer)
	}

	_, err = idx.Insert(engine.Vector{Dense: []float32{0, 1, 0}}, engine.Pointer(7))
	require.NoError(t, err)

	results, err = idx.ViewBasic(engine.Vector{Dense: []float32{0, 1, 0}}, engine.SearchOptions{K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, engine.Pointer(7), results[0].Pointer)
	require.InDelta(t, 0.0, results[0].Distance, 1e-6)
}

func TestInsertAcceptsSparseVector(t *testing.T) {
	dir, err := testutil.TempIndexDir(t.TempDir())
	require.NoError(t, err)
	idx, err := engine.Create(dir, baseOptions(8))
	require.NoError(t, err)
	defer idx.Close()

	sparse := engine.Vector{SparseIndexes: []uint32{1, 4, 6}, SparseValues: []float32{1, 2, 3}}
	_, err = idx.Insert(sparse, engine.Pointer(1))
	require.NoError(t, err)

	results, err := idx.ViewBasic(sparse, engine.SearchOptions{K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, engine.Pointer(1), results[0].Pointer)
}

func TestInsertRejectsUnsortedSparseIndexes(t *testing.T) {
	dir, err := testutil.TempIndexDir(t.TempDir())
	require.NoError(t, err)
	idx, err := engine.Create(dir, baseOptions(8))
	require.NoError(t, err)
	defer idx.Close()

	bad := engine.Vector{SparseIndexes: []uint32{4, 1}, SparseValues: []float32{1, 2}}
	_, err = idx.Insert(bad, engine.Pointer(1))
	require.ErrorIs(t, err, engine.ErrInvalidVector)
}

func TestStartStopRunsBackgroundOptimizers(t *testing.T) {
	dir, err := testutil.TempIndexDir(t.TempDir())
	require.NoError(t, err)

	opts := baseOptions(4)
	opts.Segment.MaxGrowingSegmentSize = 5
	idx, err := engine.Create(dir, opts, engine.WithLogger(testutil.TestLogger()))
	require.NoError(t, err)
	defer idx.Close()

	vectors := testutil.RandomVectors(3, 20, 4)
	for i, v := range vectors {
		_, err := idx.Insert(engine.Vector{Dense: v}, engine.Pointer(i+1))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	idx.Start(ctx)

	require.Eventually(t, func() bool {
		return len(idx.Stat().SealedSegments) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, idx.Stop())
}

func TestOpenReopensAnExistingIndex(t *testing.T) {
	dir, err := testutil.TempIndexDir(t.TempDir())
	require.NoError(t, err)

	idx, err := engine.Create(dir, baseOptions(4))
	require.NoError(t, err)
	vectors := testutil.RandomVectors(4, 6, 4)
	for i, v := range vectors {
		_, err := idx.Insert(engine.Vector{Dense: v}, engine.Pointer(i+1))
		require.NoError(t, err)
	}
	require.NoError(t, idx.Close())

	reopened, err := engine.Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.ViewBasic(engine.Vector{Dense: vectors[2]}, engine.SearchOptions{K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, engine.Pointer(3), results[0].Pointer)
}

func TestCreateRejectsInvalidOptions(t *testing.T) {
	dir, err := testutil.TempIndexDir(t.TempDir())
	require.NoError(t, err)

	opts := baseOptions(0)
	_, err = engine.Create(dir, opts)
	require.ErrorIs(t, err, engine.ErrInvalidOptions)
}
