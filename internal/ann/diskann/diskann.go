// Package diskann implements SPEC_FULL.md §4.G.4: the Vamana single-layer
// directed graph, grounded on original_source/crates/index/src/algorithms
// (vamana.rs, diskann.rs) for medoid computation and the two-pass
// robust_prune build, sharing internal/ann/hnsw's traverse-quantized/
// score-true reranker split.
package diskann

import (
	"container/heap"
	"math/rand"
	"sort"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/vecstore"
)

// Options configures Train.
type Options struct {
	R      int     // max out-degree
	L      int     // candidate list size used during build and search
	Alpha  float64 // robust_prune's long-range-shortcut threshold
	Random *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.R <= 0 {
		o.R = 32
	}
	if o.L <= 0 {
		o.L = 64
	}
	if o.Alpha <= 0 {
		o.Alpha = 1.2
	}
	if o.Random == nil {
		o.Random = rand.New(rand.NewSource(1))
	}
	return o
}

// Index is a trained Vamana graph over a vecstore.DenseSource.
type Index struct {
	store     vecstore.DenseSource
	r         int
	l         int
	medoid    int
	adjacency [][]uint32
	visit     ann.DistanceFunc
}

func (idx *Index) Len() uint32 { return idx.store.Len() }

// Train builds a Vamana graph: random initial out-edges, medoid selection,
// then robust_prune(1.0) followed by robust_prune(alpha) over every vertex
// (§4.G.4).
func Train(store vecstore.DenseSource, opts Options, visit ann.DistanceFunc) *Index {
	opts = opts.withDefaults()
	n := int(store.Len())
	idx := &Index{store: store, r: opts.R, l: opts.L, visit: visit}
	if n == 0 {
		return idx
	}

	idx.adjacency = randomGraph(n, opts.R, opts.Random)
	idx.medoid = computeMedoid(store, visit)

	idx.buildPass(1.0, opts.L)
	idx.buildPass(opts.Alpha, opts.L)
	return idx
}

// randomGraph gives every vertex up to r distinct random out-edges
// (§4.G.4's "initialize with random out-edges").
func randomGraph(n, r int, rng *rand.Rand) [][]uint32 {
	adjacency := make([][]uint32, n)
	for i := 0; i < n; i++ {
		deg := r
		if deg > n-1 {
			deg = n - 1
		}
		picked := make(map[int]bool, deg)
		edges := make([]uint32, 0, deg)
		for len(edges) < deg {
			j := rng.Intn(n)
			if j == i || picked[j] {
				continue
			}
			picked[j] = true
			edges = append(edges, uint32(j))
		}
		adjacency[i] = edges
	}
	return adjacency
}

// computeMedoid returns the vertex closest to the centroid of all vectors
// in store (§4.G.4, and the GLOSSARY's Medoid entry).
func computeMedoid(store vecstore.DenseSource, visit ann.DistanceFunc) int {
	n := int(store.Len())
	dims := len(store.Vector(0))
	centroid := make([]float32, dims)
	for i := 0; i < n; i++ {
		v := store.Vector(uint32(i))
		for d := 0; d < dims; d++ {
			centroid[d] += v[d]
		}
	}
	for d := 0; d < dims; d++ {
		centroid[d] /= float32(n)
	}

	best, bestDist := 0, visit(centroid, store.Vector(0))
	for i := 1; i < n; i++ {
		d := visit(centroid, store.Vector(uint32(i)))
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// buildPass runs one robust_prune(alpha) sweep over every vertex: a greedy
// search from the medoid gathers candidates, which are unioned with the
// vertex's current out-neighbors and re-pruned.
func (idx *Index) buildPass(alpha float64, l int) {
	n := int(idx.store.Len())
	for i := 0; i < n; i++ {
		query := idx.store.Vector(uint32(i))
		visited := idx.greedySearch(idx.medoid, query, l)

		seen := map[int]bool{}
		union := make([]candidate, 0, len(visited)+len(idx.adjacency[i]))
		for _, c := range visited {
			if c.id == i || seen[c.id] {
				continue
			}
			seen[c.id] = true
			union = append(union, c)
		}
		for _, nb := range idx.adjacency[i] {
			if int(nb) == i || seen[int(nb)] {
				continue
			}
			seen[int(nb)] = true
			union = append(union, candidate{id: int(nb), dist: idx.visit(query, idx.store.Vector(nb))})
		}

		idx.adjacency[i] = idx.robustPrune(i, union, alpha)
	}
}

// robustPrune keeps up to r neighbors of vertex i from candidates such that
// no kept neighbor p' is within alpha*d(p', pv) of any dropped pv — the
// "preserve long-range shortcuts" rule of §4.G.4.
func (idx *Index) robustPrune(i int, candidates []candidate, alpha float64) []uint32 {
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].dist < candidates[b].dist })

	var kept []uint32
	remaining := candidates
	for len(remaining) > 0 && len(kept) < idx.r {
		best := remaining[0]
		kept = append(kept, uint32(best.id))

		pv := idx.store.Vector(uint32(best.id))
		next := remaining[1:][:0]
		for _, c := range remaining[1:] {
			d := idx.visit(pv, idx.store.Vector(uint32(c.id)))
			if float64(d)*alpha > float64(c.dist) {
				next = append(next, c)
			}
		}
		remaining = next
	}
	return kept
}

type candidate struct {
	id   int
	dist float32
}

type candHeap []candidate

func (h candHeap) Len() int            { return len(h) }
func (h candHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h candHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type farHeap []candidate

func (h farHeap) Len() int            { return len(h) }
func (h farHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h farHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *farHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *farHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// greedySearch performs a bounded best-first search from entry, returning
// up to l visited candidates sorted by ascending distance (used both to
// gather robust_prune's candidate set and to answer queries).
func (idx *Index) greedySearch(entry int, query []float32, l int) []candidate {
	visited := map[int]bool{entry: true}
	startDist := idx.visit(query, idx.store.Vector(uint32(entry)))

	cands := &candHeap{{id: entry, dist: startDist}}
	heap.Init(cands)
	results := &farHeap{{id: entry, dist: startDist}}
	heap.Init(results)

	for cands.Len() > 0 {
		c := heap.Pop(cands).(candidate)
		if results.Len() >= l && c.dist > (*results)[0].dist {
			break
		}
		for _, nb := range idx.adjacency[c.id] {
			if visited[int(nb)] {
				continue
			}
			visited[int(nb)] = true
			d := idx.visit(query, idx.store.Vector(nb))
			if results.Len() < l || d < (*results)[0].dist {
				heap.Push(cands, candidate{id: int(nb), dist: d})
				heap.Push(results, candidate{id: int(nb), dist: d})
				if results.Len() > l {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// greedySearchFiltered mirrors greedySearch but only admits filter-passing
// rows into the result set, matching hnsw's searchLayerFiltered shape.
func (idx *Index) greedySearchFiltered(entry int, query []float32, l int, filter ann.Filter) []candidate {
	visited := map[int]bool{entry: true}
	startDist := idx.visit(query, idx.store.Vector(uint32(entry)))

	cands := &candHeap{{id: entry, dist: startDist}}
	heap.Init(cands)
	results := &farHeap{}
	heap.Init(results)
	if filter(idx.store.Payload(uint32(entry))) {
		heap.Push(results, candidate{id: entry, dist: startDist})
	}

	for cands.Len() > 0 {
		c := heap.Pop(cands).(candidate)
		if results.Len() >= l && results.Len() > 0 && c.dist > (*results)[0].dist {
			break
		}
		for _, nb := range idx.adjacency[c.id] {
			if visited[int(nb)] {
				continue
			}
			visited[int(nb)] = true
			d := idx.visit(query, idx.store.Vector(nb))
			heap.Push(cands, candidate{id: int(nb), dist: d})
			if !filter(idx.store.Payload(nb)) {
				continue
			}
			if results.Len() < l || d < (*results)[0].dist {
				heap.Push(results, candidate{id: int(nb), dist: d})
				if results.Len() > l {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// Basic implements §4.G.4's search: greedy best-first from the medoid with
// candidate list size rerankSize (at least L and at least k), true-distance
// reranked.
func (idx *Index) Basic(query []float32, k int, rerankSize int, distance ann.DistanceFunc, filter ann.Filter) []ann.Result {
	if idx.store.Len() == 0 {
		return nil
	}
	l := rerankSize
	if l < idx.l {
		l = idx.l
	}
	if l < k {
		l = k
	}
	cands := idx.greedySearchFiltered(idx.medoid, query, l, filter)

	results := make([]ann.Result, 0, len(cands))
	for _, c := range cands {
		results = append(results, ann.Result{
			Distance: distance(query, idx.store.Vector(uint32(c.id))),
			Payload:  idx.store.Payload(uint32(c.id)),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Payload < results[j].Payload
	})
	if k < len(results) {
		results = results[:k]
	}
	return results
}

// Vbase mirrors Basic with a wider candidate list, split into an eager
// prefix of rangeHint results plus a lazy tail over the remainder.
func (idx *Index) Vbase(query []float32, rangeHint int, distance ann.DistanceFunc, filter ann.Filter) ([]ann.Result, ann.TailIterator) {
	empty := func() (ann.Result, bool) { return ann.Result{}, false }
	if idx.store.Len() == 0 {
		return nil, empty
	}
	l := rangeHint*4 + 16
	if l < idx.l {
		l = idx.l
	}
	cands := idx.greedySearchFiltered(idx.medoid, query, l, filter)

	results := make([]ann.Result, len(cands))
	for i, c := range cands {
		results[i] = ann.Result{
			Distance: distance(query, idx.store.Vector(uint32(c.id))),
			Payload:  idx.store.Payload(uint32(c.id)),
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Payload < results[j].Payload
	})

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
