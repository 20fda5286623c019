// Package flat implements SPEC_FULL.md §4.G.1: the untrained, exhaustive
// baseline ANN index. It is also the shape every other index's final
// rerank stage borrows (score all candidates with the quantizer, keep the
// true-distance top-W).
package flat

import (
	"sort"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/quantize"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/vecstore"
)

// Index is a flat (no training) index: Basic/Vbase both do a full linear
// scan over the backing store using the quantizer's estimated distance,
// then rerank the top-W window against true distances.
type Index struct {
	store vecstore.DenseSource
	q     quantize.Quantizer
}

// New wraps store with quantizer q (use quantize.NewTrivial for an
// unquantized flat index).
func New(store vecstore.DenseSource, q quantize.Quantizer) *Index {
	return &Index{store: store, q: q}
}

func (idx *Index) Len() uint32 { return idx.store.Len() }

type scored struct {
	i int
	d float32
}

// scan computes the quantizer's estimated distance for every visible row.
func (idx *Index) scan(query []float32, filter ann.Filter) []scored {
	lut := idx.q.Preprocess(query)
	n := idx.store.Len()
	out := make([]scored, 0, n)
	for i := uint32(0); i < n; i++ {
		payload := idx.store.Payload(i)
		if !filter(payload) {
			continue
		}
		code := idx.q.Encode(idx.store.Vector(i))
		out = append(out, scored{i: int(i), d: idx.q.Process(lut, code)})
	}
	return out
}

// Basic returns the k nearest visible rows: the quantizer produces a
// candidate ordering, the top rerankSize (>= k) of which are rescored with
// distance (the true kernel, not the quantizer estimate) and truncated to
// k — the "Flat reranker" of §4.C.
func (idx *Index) Basic(query []float32, k int, rerankSize int, distance ann.DistanceFunc, filter ann.Filter) []ann.Result {
	cands := idx.scan(query, filter)
	sort.Slice(cands, func(i, j int) bool { return cands[i].d < cands[j].d })
	w := rerankSize
	if w < k {
		w = k
	}
	if w > len(cands) {
		w = len(cands)
	}
	results := make([]ann.Result, w)
	for i := 0; i < w; i++ {
		row := uint32(cands[i].i)
		results[i] = ann.Result{
			Distance: distance(query, idx.store.Vector(row)),
			Payload:  idx.store.Payload(row),
		}
	}
	ann.SortResults(results)
	if k < len(results) {
		results = results[:k]
	}
	return results
}

// Vbase scans and reranks exactly as Basic, but returns the whole reranked
// set split into an eager prefix of rangeHint and a lazy tail over the
// remainder, so downstream merge can consume it incrementally.
func (idx *Index) Vbase(query []float32, rangeHint int, distance ann.DistanceFunc, filter ann.Filter) ([]ann.Result, ann.TailIterator) {
	cands := idx.scan(query, filter)
	results := make([]ann.Result, len(cands))
	for i, c := range cands {
		row := uint32(c.i)
		results[i] = ann.Result{
			Distance: distance(query, idx.store.Vector(row)),
			Payload:  idx.store.Payload(row),
		}
	}
	ann.SortResults(results)

	cut := rangeHint
	if cut > len(results) {
		cut = len(results)
	}
	prefix := results[:cut]
	rest := results[cut:]
	pos := 0
	tail := func() (ann.Result, bool) {
		if pos >= len(rest) {
			return ann.Result{}, false
		}
		r := rest[pos]
		pos++
		return r, true
	}
	return prefix, tail
}
