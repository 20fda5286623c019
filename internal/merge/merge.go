// Package merge implements SPEC_FULL.md §4.H: union n per-segment ordered
// result streams into one ordered stream, then apply the visibility filter.
package merge

import (
	"container/heap"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann"
)

// Stream pulls the next ascending-distance result, or reports exhaustion —
// the same pull shape as ann.TailIterator, generalized to any ordered
// source (a segment's bounded Basic heap, a vbase tail, or a merged
// prefix) so MergeK can treat them uniformly.
type Stream func() (ann.Result, bool)

// sliceStream adapts an already-sorted slice into a Stream.
func sliceStream(s []ann.Result) Stream {
	i := 0
	return func() (ann.Result, bool) {
		if i >= len(s) {
			return ann.Result{}, false
		}
		r := s[i]
		i++
		return r, true
	}
}

type headItem struct {
	stream int
	result ann.Result
}

type headHeap []headItem

func (h headHeap) Len() int { return len(h) }
func (h headHeap) Less(i, j int) bool {
	if h[i].result.Distance != h[j].result.Distance {
		return h[i].result.Distance < h[j].result.Distance
	}
	return h[i].result.Payload < h[j].result.Payload
}
func (h headHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *headHeap) Push(x interface{}) { *h = append(*h, x.(headItem)) }
func (h *headHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MergeK unions n ascending streams into one ascending stream. Each pop
// costs O(log n): the winning stream's head is popped from a binary heap
// of current heads and immediately refilled from its source — the
// practical Go stand-in for the spec's loser (tournament) tree, which
// pays the same O(log n) per pop without the leaf-count-must-round-to-a-
// complete-binary-tree bookkeeping Knuth's construction needs for an
// arbitrary n.
func MergeK(streams []Stream) Stream {
	h := &headHeap{}
	heap.Init(h)
	for i, s := range streams {
		if r, ok := s(); ok {
			heap.Push(h, headItem{stream: i, result: r})
		}
	}
	return func() (ann.Result, bool) {
		if h.Len() == 0 {
			return ann.Result{}, false
		}
		top := heap.Pop(h).(headItem)
		if r, ok := streams[top.stream](); ok {
			heap.Push(h, headItem{stream: top.stream, result: r})
		}
		return top.result, true
	}
}

func filterStream(s Stream, filter ann.Filter) Stream {
	return func() (ann.Result, bool) {
		for {
			r, ok := s()
			if !ok {
				return ann.Result{}, false
			}
			if filter(r.Payload) {
				return r, true
			}
		}
	}
}

// Basic merges sources — each already a sorted, bounded per-segment Basic
// result set — into up to k visible results (§4.H's Basic mode). If
// prefilter is true the per-segment filter has already dropped invisible
// entries, so the merge stage re-applies filter only when prefilter is
// false (post-filter mode).
func Basic(sources [][]ann.Result, k int, filter ann.Filter, prefilter bool) []ann.Result {
	streams := make([]Stream, len(sources))
	for i, s := range sources {
		streams[i] = sliceStream(s)
	}
	merged := MergeK(streams)
	if !prefilter {
		merged = filterStream(merged, filter)
	}
	out := make([]ann.Result, 0, k)
	for len(out) < k {
		r, ok := merged()
		if !ok {
			break
		}
		out = append(out, r)
	}
	return out
}

// VbaseSource is one segment's vbase output: an eager sorted prefix and a
// lazy tail over its remainder.
type VbaseSource struct {
	Prefix []ann.Result
	Tail   ann.TailIterator
}

// Vbase implements §4.H's vbase mode: every source's prefix is flattened
// and sorted into one additional stream, merged alongside each source's
// own tail stream (n+1 streams total for n sources), yielding a lazy
// infinite iterator; the caller eagerly draws rangeHint results from it
// and keeps the returned tail for on-demand continuation.
func Vbase(sources []VbaseSource, rangeHint int, filter ann.Filter, prefilter bool) ([]ann.Result, ann.TailIterator) {
	var allPrefix []ann.Result
	streams := make([]Stream, 0, len(sources)+1)
	for _, s := range sources {
		allPrefix = append(allPrefix, s.Prefix...)
		streams = append(streams, Stream(s.Tail))
	}
	ann.SortResults(allPrefix)
	streams = append(streams, sliceStream(allPrefix))

	merged := MergeK(streams)
	if !prefilter {
		merged = filterStream(merged, filter)
	}

	prefix := make([]ann.Result, 0, rangeHint)
	for len(prefix) < rangeHint {
		r, ok := merged()
		if !ok {
			break
		}
		prefix = append(prefix, r)
	}
	return prefix, ann.TailIterator(merged)
}
