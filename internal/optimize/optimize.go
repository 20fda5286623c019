// Package optimize implements SPEC_FULL.md §4.J: the two background
// workers that keep an index's segment set compact without blocking the
// insert/search paths — an indexing optimizer that merges small sealed
// segments together, and a sealing optimizer that rotates an idle or full
// write segment out from under new inserts. Grounded directly on §4.J's
// selection/merge/swap description, with the worker-pool lifecycle shaped
// after the teacher's own Start/Stop pattern in akashi.go.
package optimize

import (
	"context"
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"golang.org/x/sync/errgroup"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/index"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/sealed"
)

// Stats accumulates merge-duration and merged-segment-size distributions
// across optimizer cycles, grounded on the teacher's own use of
// hdrhistogram-go (via the pack's dreamsxin-wal repo) for operation-
// latency histograms.
type Stats struct {
	MergeDurations *hdrhistogram.Histogram
	SegmentSizes   *hdrhistogram.Histogram
}

// NewStats allocates histograms wide enough for merge cycles up to one
// minute and segments up to ten million rows, at 3 significant figures —
// the same precision the teacher's own dashboards use.
func NewStats() *Stats {
	return &Stats{
		MergeDurations: hdrhistogram.New(1, 60_000, 3),
		SegmentSizes:   hdrhistogram.New(1, 10_000_000, 3),
	}
}

// pollInterval is how often each worker checks whether it has work to do.
// §4.J leaves the cadence unspecified ("sleep if nothing to merge");
// one second keeps the workers responsive without busy-looping.
const pollInterval = time.Second

// Workers runs one index's background indexing and sealing optimizers.
type Workers struct {
	idx     *index.Index
	stats   *Stats
	onFatal func(error)

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a Workers bound to idx. onFatal is invoked (from a worker
// goroutine) whenever a merge or seal hits an irrecoverable error —
// the same escalation the root engine package's FatalHandler implements
// for the foreground path (§7: "irrecoverable conditions ... abort the
// owning goroutine via the index's OnFatal hook"). onFatal may be nil,
// in which case merge/seal errors are discarded; Stats records only merge
// durations and merged-segment sizes, not errors.
func New(idx *index.Index, onFatal func(error)) *Workers {
	return &Workers{idx: idx, stats: NewStats(), onFatal: onFatal}
}

// Stats returns the running merge-duration/segment-size histograms.
func (w *Workers) Stats() *Stats { return w.stats }

// Start launches the indexing and sealing optimizer goroutines, bounded
// by the index's OptimizingThreads, per the teacher's errgroup-based
// worker-pool shape (internal/conflicts/scorer.go's BackfillScoring).
func (w *Workers) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	limit := int(w.idx.Config().OptimizingThreads)
	if limit < 2 {
		limit = 2
	}
	g.SetLimit(limit)
	g.Go(func() error { return w.runIndexing(gctx) })
	g.Go(func() error { return w.runSealing(gctx) })
	w.group = g
}

// Stop signals both workers to exit and waits for them to return.
func (w *Workers) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.group != nil {
		return w.group.Wait()
	}
	return nil
}

func (w *Workers) runIndexing(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.mergeOnce()
		}
	}
}

type sealedLength struct {
	id     string
	length uint32
}

// mergeOnce implements §4.J's indexing optimizer cycle: sort sealed
// segments by length descending, greedily pack a merge set bounded by
// MaxSealedSegmentSize, and merge it. If fewer than two segments fit
// together, there is nothing to do this cycle.
func (w *Workers) mergeOnce() {
	v := w.idx.View()
	var segs []sealedLength
	v.EachSealed(func(id string, seg *sealed.Segment) {
		segs = append(segs, sealedLength{id: id, length: seg.Len()})
	})
	sort.Slice(segs, func(i, j int) bool { return segs[i].length > segs[j].length })

	limit := w.idx.Config().MaxSealedSegmentSize
	var batch []string
	var total uint32
	for _, s := range segs {
		if total+s.length > limit {
			continue
		}
		batch = append(batch, s.id)
		total += s.length
	}
	if len(batch) < 2 {
		return
	}

	start := time.Now()
	newID, err := w.idx.MergeSealed(batch)
	if err != nil {
		if w.onFatal != nil {
			w.onFatal(err)
		}
		return
	}
	if newID == "" {
		return
	}
	_ = w.stats.MergeDurations.RecordValue(time.Since(start).Milliseconds())
	_ = w.stats.SegmentSizes.RecordValue(int64(total))
}

func (w *Workers) runSealing(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sealIfDue()
		}
	}
}

// sealIfDue implements §4.J's sealing optimizer: refresh the write
// segment once it is full, or once it holds data and has sat idle past
// OptimizingWaitingSecs.
func (w *Workers) sealIfDue() {
	v := w.idx.View()
	if v.Write == nil || v.Write.Len() == 0 {
		return
	}
	waiting := time.Duration(w.idx.Config().OptimizingWaitingSecs) * time.Second
	idle := time.Duration(w.idx.IdleNanos())
	if v.Write.IsFull() || idle >= waiting {
		if err := w.idx.Refresh(); err != nil && w.onFatal != nil {
			w.onFatal(err)
		}
	}
}
