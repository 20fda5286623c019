package optimize_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/index"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/optimize"
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

func TestWorkersMergeSealedSegmentsOverTime(t *testing.T) {
	idx := newTestIndex(t, index.Config{
		Dims:                  4,
		MaxGrowingSegmentSize: 5,
		MaxSealedSegmentSize:  1_000_000,
		OptimizingThreads:     2,
		OptimizingWaitingSecs: 1,
	})

	vectors := testutil.RandomVectors(1, 20, 4)
	payloads := testutil.SequentialPayloads(20)
	for i, v := range vectors {
		require.NoError(t, idx.Insert(v, payloads[i]))
	}
	require.NoError(t, idx.Refresh())
	require.Greater(t, idx.View().SealedLen(), 1)

	w := optimize.New(idx, func(err error) { t.Errorf("unexpected optimizer error: %v", err) })
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	require.Eventually(t, func() bool {
		return idx.View().SealedLen() == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, w.Stop())
}

func TestWorkersSealFullWriteSegment(t *testing.T) {
	idx := newTestIndex(t, index.Config{
		Dims:                  4,
		MaxGrowingSegmentSize: 3,
		MaxSealedSegmentSize:  1_000_000,
		OptimizingThreads:     2,
		OptimizingWaitingSecs: 600,
	})

	vectors := testutil.RandomVectors(2, 3, 4)
	payloads := testutil.SequentialPayloads(3)
	for i, v := range vectors {
		require.NoError(t, idx.Insert(v, payloads[i]))
	}

	w := optimize.New(idx, func(err error) { t.Errorf("unexpected optimizer error: %v", err) })
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	require.Eventually(t, func() bool {
		return idx.View().SealedLen() >= 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, w.Stop())
}
