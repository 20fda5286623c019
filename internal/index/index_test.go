package index_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/index"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/sealed"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/testutil"
)

func newTestIndex(t *testing.T, cfg index.Config) *index.Index {
	t.Helper()
	dir, err := testutil.TempIndexDir(t.TempDir())
	require.NoError(t, err)
	idx, err := index.Create(dir, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func insertAll(t *testing.T, idx *index.Index, vectors [][]float32, payloads []uint64) {
	t.Helper()
	for i, v := range vectors {
		require.NoError(t, idx.Insert(v, payloads[i]))
	}
}

func alwaysVisible(uint64) bool { return true }

func TestCreateOpensAWriteSegment(t *testing.T) {
	idx := newTestIndex(t, index.Config{Dims: 8, MaxGrowingSegmentSize: 100})
	require.NotNil(t, idx.View().Write)
	require.Equal(t, 0, idx.View().SealedLen())
}

func TestInsertThenBasicFindsNearestNeighbor(t *testing.T) {
	idx := newTestIndex(t, index.Config{Dims: 4, MaxGrowingSegmentSize: 100})
	vectors := testutil.RandomVectors(1, 20, 4)
	payloads := testutil.SequentialPayloads(20)
	insertAll(t, idx, vectors, payloads)

	results := idx.Basic(vectors[5], 1, 5, alwaysVisible)
	require.Len(t, results, 1)
	require.Equal(t, payloads[5], results[0].Payload)
}

func TestRefreshSealsWriteSegmentIntoSealedSet(t *testing.T) {
	idx := newTestIndex(t, index.Config{Dims: 4, MaxGrowingSegmentSize: 100})
	vectors := testutil.RandomVectors(2, 10, 4)
	payloads := testutil.SequentialPayloads(10)
	insertAll(t, idx, vectors, payloads)

	require.NoError(t, idx.Refresh())

	v := idx.View()
	require.Equal(t, 1, v.SealedLen())
	require.NotNil(t, v.Write)
	require.Equal(t, uint32(0), v.Write.Len())

	results := idx.Basic(vectors[0], 1, 5, alwaysVisible)
	require.Len(t, results, 1)
	require.Equal(t, payloads[0], results[0].Payload)
}

func TestInsertRotatesWriteSegmentWhenFull(t *testing.T) {
	idx := newTestIndex(t, index.Config{Dims: 4, MaxGrowingSegmentSize: 5})
	vectors := testutil.RandomVectors(3, 12, 4)
	payloads := testutil.SequentialPayloads(12)
	insertAll(t, idx, vectors, payloads)

	v := idx.View()
	require.Greater(t, v.SealedLen(), 0)

	results := idx.Basic(vectors[11], 1, 5, alwaysVisible)
	require.Len(t, results, 1)
	require.Equal(t, payloads[11], results[0].Payload)
}

func TestDeleteHidesResultFromBasic(t *testing.T) {
	idx := newTestIndex(t, index.Config{Dims: 4, MaxGrowingSegmentSize: 100})
	vectors := testutil.RandomVectors(4, 5, 4)
	payloads := testutil.SequentialPayloads(5)
	insertAll(t, idx, vectors, payloads)
	require.NoError(t, idx.Refresh())

	require.NoError(t, idx.Delete(payloads[2]>>16))

	results := idx.Basic(vectors[2], 5, 10, alwaysVisible)
	for _, r := range results {
		require.NotEqual(t, payloads[2], r.Payload)
	}
}

// TestReinsertAfterDeleteIsVisibleAgain exercises §8 scenario 2 at the
// segment/delete-map layer: Delete bumps pointer 2's stored version, so the
// payload a caller builds for a reinsert of the same pointer must carry that
// new version (via DeleteMapVersion) rather than version 0, or the
// reinserted row stays permanently filtered by Check.
func TestReinsertAfterDeleteIsVisibleAgain(t *testing.T) {
	idx := newTestIndex(t, index.Config{Dims: 4, MaxGrowingSegmentSize: 100})
	vectors := testutil.RandomVectors(6, 5, 4)
	payloads := testutil.SequentialPayloads(5)
	insertAll(t, idx, vectors, payloads)

	ptr := payloads[2] >> 16
	require.NoError(t, idx.Delete(ptr))

	results := idx.Basic(vectors[2], 5, 10, alwaysVisible)
	for _, r := range results {
		require.NotEqual(t, payloads[2], r.Payload)
	}

	version := idx.DeleteMapVersion(ptr)
	require.Equal(t, uint16(1), version)
	reinserted := ptr<<16 | uint64(version)
	require.NoError(t, idx.Insert(vectors[2], reinserted))

	results = idx.Basic(vectors[2], 5, 10, alwaysVisible)
	var found bool
	for _, r := range results {
		if r.Payload == reinserted {
			found = true
		}
	}
	require.True(t, found)
}

func TestMergeSealedCombinesTwoSegmentsIntoOne(t *testing.T) {
	idx := newTestIndex(t, index.Config{Dims: 4, MaxGrowingSegmentSize: 5})
	vectors := testutil.RandomVectors(5, 10, 4)
	payloads := testutil.SequentialPayloads(10)
	insertAll(t, idx, vectors, payloads)
	require.NoError(t, idx.Refresh())

	sealedIDs := collectSealedIDs(idx)
	require.GreaterOrEqual(t, len(sealedIDs), 2)

	newID, err := idx.MergeSealed(sealedIDs)
	require.NoError(t, err)
	require.NotEmpty(t, newID)

	after := idx.View()
	require.Equal(t, 1, after.SealedLen())

	results := idx.Basic(vectors[0], 1, 5, alwaysVisible)
	require.Len(t, results, 1)
	require.Equal(t, payloads[0], results[0].Payload)
}

func TestOpenReloadsSealedAndGrowingSegments(t *testing.T) {
	dir, err := testutil.TempIndexDir(t.TempDir())
	require.NoError(t, err)
	cfg := index.Config{Dims: 4, MaxGrowingSegmentSize: 100}

	idx, err := index.Create(dir, cfg)
	require.NoError(t, err)
	vectors := testutil.RandomVectors(6, 6, 4)
	payloads := testutil.SequentialPayloads(6)
	insertAll(t, idx, vectors, payloads)
	require.NoError(t, idx.Refresh())
	require.NoError(t, idx.Close())

	reopened, err := index.Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, 1, reopened.View().SealedLen())
	results := reopened.Basic(vectors[3], 1, 5, alwaysVisible)
	require.Len(t, results, 1)
	require.Equal(t, payloads[3], results[0].Payload)
}

func TestStatReportsSegmentShape(t *testing.T) {
	idx := newTestIndex(t, index.Config{Dims: 4, MaxGrowingSegmentSize: 100})
	vectors := testutil.RandomVectors(7, 3, 4)
	payloads := testutil.SequentialPayloads(3)
	insertAll(t, idx, vectors, payloads)

	st := idx.Stat()
	require.NotNil(t, st.Write)
	require.Equal(t, uint32(3), st.Write.Length)
	require.Equal(t, 0, st.DeleteMapLen)
}

// collectSealedIDs is a small helper since View.EachSealed only exposes a
// callback shape, not a slice accessor.
func collectSealedIDs(idx *index.Index) []string {
	var ids []string
	idx.View().EachSealed(func(id string, _ *sealed.Segment) { ids = append(ids, id) })
	return ids
}
