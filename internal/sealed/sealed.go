// Package sealed implements SPEC_FULL.md §4.F: the immutable wrapper around
// one trained ANN index variant plus the raw-vector store it reranks
// against, and an atomic deletion-count cache refreshed by Inspect. The
// optimizers in internal/optimize do not call Inspect; they choose merge
// candidates by segment length alone.
package sealed

import (
	"sync/atomic"
	"time"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/vecstore"
)

// CheckFunc reports whether payload is no longer visible (tombstoned in the
// delete map). Inspect uses it to recompute the deletion estimate.
type CheckFunc func(payload uint64) (deleted bool)

// Segment is one sealed (read-only) segment: a trained ann.Index over a
// vecstore.DenseSource, plus the inspect cache of §4.F. It holds no WAL and
// accepts no further writes — a sealed segment is only ever replaced, by
// internal/index.MergeSealed building a new one from its rows.
type Segment struct {
	index ann.Index
	store vecstore.DenseSource

	lastInspectNanos atomic.Int64
	estimatedDeletes atomic.Int64
}

// New wraps a trained index and the raw-vector store it reranks against.
// index and store must agree on row ordering and count (the caller trains
// index over store, or a concatenation store built from the same stream).
func New(index ann.Index, store vecstore.DenseSource) *Segment {
	return &Segment{index: index, store: store}
}

func (s *Segment) Len() uint32 { return s.store.Len() }

func (s *Segment) Vector(i uint32) []float32 { return s.store.Vector(i) }

func (s *Segment) Payload(i uint32) uint64 { return s.store.Payload(i) }

// Basic returns the k nearest visible results, reranked with the true
// distance by the wrapped index.
func (s *Segment) Basic(query []float32, k int, rerankSize int, distance ann.DistanceFunc, filter ann.Filter) []ann.Result {
	return s.index.Basic(query, k, rerankSize, distance, filter)
}

// Vbase returns a ranked prefix plus a lazy tail, as the wrapped index
// produces it.
func (s *Segment) Vbase(query []float32, rangeHint int, distance ann.DistanceFunc, filter ann.Filter) ([]ann.Result, ann.TailIterator) {
	return s.index.Vbase(query, rangeHint, distance, filter)
}

// Inspect refreshes the cached deletion estimate if the last refresh is
// older than d, then returns the (possibly stale, within d) estimate. check
// runs once per row in the store when a refresh happens, so the cost of a
// full scan amortizes across the quiet interval between refreshes.
func (s *Segment) Inspect(d time.Duration, check CheckFunc) int {
	last := s.lastInspectNanos.Load()
	now := time.Now().UnixNano()
	if last != 0 && time.Duration(now-last) < d {
		return int(s.estimatedDeletes.Load())
	}
	if !s.lastInspectNanos.CompareAndSwap(last, now) {
		// another goroutine refreshed concurrently; use its result.
		return int(s.estimatedDeletes.Load())
	}

	n := s.store.Len()
	deletes := 0
	for i := uint32(0); i < n; i++ {
		if check(s.store.Payload(i)) {
			deletes++
		}
	}
	s.estimatedDeletes.Store(int64(deletes))
	return deletes
}

// EstimatedDeletes returns the last computed estimate without refreshing.
func (s *Segment) EstimatedDeletes() int { return int(s.estimatedDeletes.Load()) }
