// Package ivf implements SPEC_FULL.md §4.G.2: the inverted-file ANN index
// in its three variants (Naive, PQResidual, Puck), grounded on
// original_source/crates/service/src/algorithms/ivf.rs and the restored
// ivf_puck.rs two-level variant named in SPEC_FULL.md §12.
package ivf

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/kernel"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/quantize"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/vecstore"
)

// Variant selects the inverted-list encoding (§4.G.2).
type Variant int

const (
	Naive Variant = iota
	PQResidual
	Puck
)

// Options configures Train.
type Options struct {
	Nlist             int
	Nprobe            int
	Variant           Variant
	Cosine            bool
	NSample           int // cap on training-set size; 0 = use all
	Iterations        int // Lloyd iterations; 0 = default
	LeastIterations   int // minimum iterations even if converged
	PQRatio           int // PQResidual subspace width
	PQBits            uint32
	FineNlist         int // Puck's second-book size
	CoarseSearchCount int // Puck's first-level traversal width
}

func (o *Options) withDefaults() {
	if o.Iterations <= 0 {
		o.Iterations = 10
	}
	if o.LeastIterations <= 0 {
		o.LeastIterations = 3
	}
	if o.PQRatio <= 0 {
		o.PQRatio = 4
	}
	if o.PQBits == 0 {
		o.PQBits = 8
	}
	if o.FineNlist <= 0 {
		o.FineNlist = o.Nlist
	}
	if o.CoarseSearchCount <= 0 {
		o.CoarseSearchCount = o.Nprobe
	}
}

// Index is a trained IVF structure over a vecstore.DenseSource.
type Index struct {
	store   vecstore.DenseSource
	opts    Options
	dims    int
	cosine  bool
	variant Variant

	centroids [][]float32
	assign    []int // per row: coarse cell id
	lists     [][]uint32

	pq *quantize.Product // PQResidual only

	fineCentroids [][]float32 // Puck only
	fineAssign    []int       // Puck only, per row
}

func normalize(v []float32) []float32 {
	out := append([]float32(nil), v...)
	kernel.Normalize(out)
	return out
}

func lloyd(k int, points [][]float32, iterations, leastIterations int, rng *rand.Rand) ([][]float32, []int) {
	if len(points) == 0 || k <= 0 {
		return nil, nil
	}
	if k > len(points) {
		k = len(points)
	}
	width := len(points[0])
	centers := make([][]float32, k)
	perm := rng.Perm(len(points))
	for c := 0; c < k; c++ {
		centers[c] = append([]float32(nil), points[perm[c]]...)
	}
	assign := make([]int, len(points))
	iter := 0
	for ; iter < iterations; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, float32(math.Inf(1))
			for c, center := range centers {
				d := kernel.SquaredL2(p, center)
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			if assign[i] != best {
				changed = true
			}
			assign[i] = best
		}
		sums := make([][]float32, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float32, width)
		}
		for i, p := range points {
			c := assign[i]
			counts[c]++
			for j, x := range p {
				sums[c][j] += x
			}
		}
		for c := range centers {
			if counts[c] == 0 {
				continue
			}
			for j := range centers[c] {
				centers[c][j] = sums[c][j] / float32(counts[c])
			}
		}
		if !changed && iter+1 >= leastIterations {
			break
		}
	}
	return centers, assign
}

func sample(n, cap int, rng *rand.Rand) []int {
	if cap <= 0 || cap >= n {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	perm := rng.Perm(n)
	return perm[:cap]
}

// Train builds an IVF index over store's rows (§4.G.2's three-step
// training: sample, k-means, assign).
func Train(store vecstore.DenseSource, opts Options, rng *rand.Rand) *Index {
	opts.withDefaults()
	n := int(store.Len())
	dims := 0
	if n > 0 {
		dims = len(store.Vector(0))
	}

	sampleIdx := sample(n, opts.NSample, rng)
	trainVecs := make([][]float32, len(sampleIdx))
	for i, row := range sampleIdx {
		v := store.Vector(uint32(row))
		if opts.Cosine {
			v = normalize(v)
		}
		trainVecs[i] = v
	}

	centroids, _ := lloyd(opts.Nlist, trainVecs, opts.Iterations, opts.LeastIterations, rng)

	idx := &Index{store: store, opts: opts, dims: dims, cosine: opts.Cosine, variant: opts.Variant, centroids: centroids}

	idx.assign = make([]int, n)
	idx.lists = make([][]uint32, len(centroids))
	residuals := make([][]float32, n)
	for i := 0; i < n; i++ {
		v := store.Vector(uint32(i))
		if opts.Cosine {
			v = normalize(v)
		}
		c := idx.nearestCentroid(v)
		idx.assign[i] = c
		idx.lists[c] = append(idx.lists[c], uint32(i))
		if opts.Variant == PQResidual {
			res := make([]float32, dims)
			for j := range res {
				res[j] = v[j] - centroids[c][j]
			}
			residuals[i] = res
		}
	}

	switch opts.Variant {
	case PQResidual:
		idx.pq = quantize.TrainProduct(dims, opts.PQRatio, opts.PQBits, quantize.L2, residuals, rng)
	case Puck:
		idx.fineCentroids, idx.fineAssign = lloyd(opts.FineNlist, residualsFromAssign(store, centroids, idx.assign, opts.Cosine), opts.Iterations, opts.LeastIterations, rng)
	}
	return idx
}

func residualsFromAssign(store vecstore.DenseSource, centroids [][]float32, assign []int, cosine bool) [][]float32 {
	n := len(assign)
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		v := store.Vector(uint32(i))
		if cosine {
			v = normalize(v)
		}
		c := assign[i]
		res := make([]float32, len(v))
		for j := range res {
			res[j] = v[j] - centroids[c][j]
		}
		out[i] = res
	}
	return out
}

func (idx *Index) nearestCentroid(v []float32) int {
	best, bestDist := 0, float32(math.Inf(1))
	for c, center := range idx.centroids {
		d := kernel.SquaredL2(v, center)
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func (idx *Index) Len() uint32 { return idx.store.Len() }

type cellDist struct {
	cell int
	d    float32
}
type cellHeap []cellDist

func (h cellHeap) Len() int            { return len(h) }
func (h cellHeap) Less(i, j int) bool  { return h[i].d < h[j].d }
func (h cellHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cellHeap) Push(x interface{}) { *h = append(*h, x.(cellDist)) }
func (h *cellHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// probeCells ranks coarse cells by distance to query and returns the top n.
func (idx *Index) probeCells(query []float32, n int) []int {
	dists := make([]cellDist, len(idx.centroids))
	for c, center := range idx.centroids {
		dists[c] = cellDist{cell: c, d: kernel.SquaredL2(query, center)}
	}
	sort.Slice(dists, func(i, j int) bool {
		if dists[i].d != dists[j].d {
			return dists[i].d < dists[j].d
		}
		return dists[i].cell < dists[j].cell
	})
	if n > len(dists) {
		n = len(dists)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = dists[i].cell
	}
	return out
}

// candidateScore estimates a row's distance to query under the trained
// variant (Naive: squared L2 against the raw vector; PQResidual: PQ
// estimate of the query's residual against the row's residual code, both
// taken relative to the same cell centroid; Puck: fine-centroid lookup
// within the row's coarse cell).
func (idx *Index) candidateScore(query []float32, cell int, row uint32, pqLUT quantize.LUT, fineScores []float32) float32 {
	switch idx.variant {
	case PQResidual:
		code := idx.pq.Encode(residualQueryFor(idx, cell, row))
		return idx.pq.Process(pqLUT, code)
	case Puck:
		return fineScores[idx.fineAssign[row]]
	default:
		return kernel.SquaredL2(query, idx.store.Vector(row))
	}
}

// residualQueryFor recomputes the residual used at train time for row, so
// Encode re-derives the same PQ code deterministically without storing it.
func residualQueryFor(idx *Index, cell int, row uint32) []float32 {
	v := idx.store.Vector(row)
	if idx.cosine {
		v = normalize(v)
	}
	res := make([]float32, idx.dims)
	for j := range res {
		res[j] = v[j] - idx.centroids[cell][j]
	}
	return res
}

func (idx *Index) fineScoresFor(cell int, query []float32) []float32 {
	if idx.variant != Puck {
		return nil
	}
	residual := make([]float32, idx.dims)
	for j := range residual {
		residual[j] = query[j] - idx.centroids[cell][j]
	}
	scores := make([]float32, len(idx.fineCentroids))
	for f, fc := range idx.fineCentroids {
		scores[f] = kernel.SquaredL2(residual, fc)
	}
	return scores
}

// Basic implements §4.G.2's search: probe nprobe (or CoarseSearchCount for
// Puck) cells, score every visible entry, keep a bounded top-k.
func (idx *Index) Basic(query []float32, k int, rerankSize int, distance ann.DistanceFunc, filter ann.Filter) []ann.Result {
	if idx.cosine {
		query = normalize(query)
	}
	width := idx.opts.Nprobe
	if idx.variant == Puck {
		width = idx.opts.CoarseSearchCount
	}
	cells := idx.probeCells(query, width)
	if rerankSize < k {
		rerankSize = k
	}

	h := &resultHeap{}
	heap.Init(h)
	for _, cell := range cells {
		var pqLUT quantize.LUT
		if idx.variant == PQResidual {
			residualQuery := make([]float32, idx.dims)
			for j := range residualQuery {
				residualQuery[j] = query[j] - idx.centroids[cell][j]
			}
			pqLUT = idx.pq.Preprocess(residualQuery)
		}
		fineScores := idx.fineScoresFor(cell, query)
		for _, row := range idx.lists[cell] {
			payload := idx.store.Payload(row)
			if !filter(payload) {
				continue
			}
			d := idx.candidateScore(query, cell, row, pqLUT, fineScores)
			r := ann.Result{Distance: d, Payload: payload}
			if h.Len() < rerankSize {
				heap.Push(h, r)
			} else if d < (*h)[0].Distance {
				(*h)[0] = r
				heap.Fix(h, 0)
			}
		}
	}

	cands := make([]ann.Result, h.Len())
	for i := len(cands) - 1; i >= 0; i-- {
		cands[i] = heap.Pop(h).(ann.Result)
	}
	// Rerank the top window with true distance, matching §4.C's flat
	// reranker used as the common finishing stage.
	for i := range cands {
		row := idx.rowForPayload(cands[i].Payload, cells)
		if row >= 0 {
			cands[i].Distance = distance(query, idx.store.Vector(uint32(row)))
		}
	}
	ann.SortResults(cands)
	if k < len(cands) {
		cands = cands[:k]
	}
	return cands
}

// rowForPayload resolves a payload back to its store row by re-scanning the
// probed cells' lists — acceptable since this only runs over the small
// rerank window, not the full candidate set.
func (idx *Index) rowForPayload(payload uint64, cells []int) int {
	for _, cell := range cells {
		for _, row := range idx.lists[cell] {
			if idx.store.Payload(row) == payload {
				return int(row)
			}
		}
	}
	return -1
}

// Vbase performs the same cell traversal as Basic but, per §4.G.2, emits an
// unordered prefix with an empty tail iterator — IVF never refines after
// the initial probe.
func (idx *Index) Vbase(query []float32, rangeHint int, distance ann.DistanceFunc, filter ann.Filter) ([]ann.Result, ann.TailIterator) {
	results := idx.Basic(query, rangeHint, rangeHint, distance, filter)
	empty := func() (ann.Result, bool) { return ann.Result{}, false }
	return results, empty
}

type resultHeap []ann.Result

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(ann.Result)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
