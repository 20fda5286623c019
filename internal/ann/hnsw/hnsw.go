// Package hnsw implements SPEC_FULL.md §4.G.3: a layered proximity graph
// with heuristic neighbor pruning, grounded on
// original_source/src/algorithms/hnsw.rs (and crates/service's HNSW) for
// the per-vertex layer assignment, build protocol, and search traversal.
package hnsw

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/vecstore"
)

// Options configures Train.
type Options struct {
	M              int // base max degree; layer 0 uses 2*M
	EfConstruction int
}

// Index is a trained HNSW graph over a vecstore.DenseSource.
type Index struct {
	store vecstore.DenseSource
	m     int
	ef    int

	entryMu  sync.Mutex
	entry    int
	hasEntry bool

	// adjacency[i][layer] holds vertex i's neighbor row indices at that
	// layer; locks[i][layer] is the matching per-(vertex,layer) RWMutex
	// from §4.G.3's locking discipline (write-lock the vertex being
	// mutated, downgrade before touching a neighbor's own lock).
	adjacency [][][]uint32
	locks     [][]sync.RWMutex
	numLayers []int

	visit ann.DistanceFunc // distance used while traversing the graph
}

// layerCount returns L(i): vertex i sits on layers [0, L(i)), i.e. i+1 is
// divisible by m^(L(i)-1) but not m^L(i) (§4.G.3).
func layerCount(i, m int) int {
	if m < 2 {
		m = 2
	}
	x := i + 1
	layers := 1
	for x%m == 0 {
		layers++
		x /= m
	}
	return layers
}

func maxDegree(layer, m int) int {
	if layer == 0 {
		return 2 * m
	}
	return m
}

// Train builds an HNSW graph by inserting every row of store in order.
// visit is the distance used while traversing candidates during both build
// and search; Basic/Vbase separately take the true distance used to score
// admitted results (the "Graph reranker" of §4.C: visit with a cheap/
// quantized distance, score with the true one).
func Train(store vecstore.DenseSource, opts Options, visit ann.DistanceFunc) *Index {
	n := int(store.Len())
	idx := &Index{
		store:     store,
		m:         opts.M,
		ef:        opts.EfConstruction,
		adjacency: make([][][]uint32, n),
		locks:     make([][]sync.RWMutex, n),
		numLayers: make([]int, n),
		visit:     visit,
	}
	for i := 0; i < n; i++ {
		idx.insert(i)
	}
	return idx
}

func (idx *Index) insert(i int) {
	levels := layerCount(i, idx.m) - 1
	idx.numLayers[i] = levels + 1
	idx.adjacency[i] = make([][]uint32, levels+1)
	idx.locks[i] = make([]sync.RWMutex, levels+1)

	idx.entryMu.Lock()
	if !idx.hasEntry {
		idx.entry = i
		idx.hasEntry = true
		idx.entryMu.Unlock()
		return
	}
	curEntry := idx.entry
	idx.entryMu.Unlock()

	vector := idx.store.Vector(uint32(i))
	top := idx.numLayers[curEntry] - 1
	cur := curEntry
	for l := top; l > levels; l-- {
		cur = idx.greedyStep(cur, l, vector)
	}

	start := levels
	if top < start {
		start = top
	}
	for l := start; l >= 0; l-- {
		candidates := idx.searchLayer(cur, l, vector, idx.ef)
		selected := idx.heuristicPrune(candidates, maxDegree(l, idx.m), vector)

		ids := make([]uint32, len(selected))
		for k, c := range selected {
			ids[k] = uint32(c.id)
		}
		idx.locks[i][l].Lock()
		idx.adjacency[i][l] = ids
		idx.locks[i][l].Unlock()

		for _, n := range selected {
			idx.addReciprocal(n.id, l, i)
		}
		if len(candidates) > 0 {
			cur = candidates[0].id
		}
	}

	if levels > top {
		idx.entryMu.Lock()
		idx.entry = i
		idx.entryMu.Unlock()
	}
}

// addReciprocal inserts (i, distance) into n's adjacency at layer l,
// pruning back to the layer's degree cap if it overflows.
func (idx *Index) addReciprocal(n, l, i int) {
	if l >= idx.numLayers[n] {
		return
	}
	idx.locks[n][l].Lock()
	defer idx.locks[n][l].Unlock()

	cur := idx.adjacency[n][l]
	for _, existing := range cur {
		if int(existing) == i {
			return
		}
	}
	cur = append(cur, uint32(i))
	degreeCap := maxDegree(l, idx.m)
	if len(cur) > degreeCap {
		vn := idx.store.Vector(uint32(n))
		cands := make([]candidate, len(cur))
		for k, id := range cur {
			cands[k] = candidate{id: int(id), dist: idx.visit(vn, idx.store.Vector(id))}
		}
		sort.Slice(cands, func(a, b int) bool { return cands[a].dist < cands[b].dist })
		pruned := idx.heuristicPrune(cands, degreeCap, vn)
		cur = make([]uint32, len(pruned))
		for k, c := range pruned {
			cur[k] = uint32(c.id)
		}
	}
	idx.adjacency[n][l] = cur
}

type candidate struct {
	id   int
	dist float32
}

// heuristicPrune implements §4.G.3's diversification rule: sort by
// distance to the query, keep a candidate only if every already-kept
// neighbor is farther from it than it is from the query.
func (idx *Index) heuristicPrune(candidates []candidate, maxDeg int, query []float32) []candidate {
	sorted := append([]candidate(nil), candidates...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].dist < sorted[b].dist })

	var kept []candidate
	for _, c := range sorted {
		if len(kept) >= maxDeg {
			break
		}
		cVec := idx.store.Vector(uint32(c.id))
		diverse := true
		for _, k := range kept {
			if idx.visit(cVec, idx.store.Vector(uint32(k.id))) <= c.dist {
				diverse = false
				break
			}
		}
		if diverse {
			kept = append(kept, c)
		}
	}
	return kept
}

// greedyStep returns the single nearest neighbor of cur at layer l to
// query, or cur itself if no neighbor improves on it.
func (idx *Index) greedyStep(cur, l int, query []float32) int {
	best := cur
	bestDist := idx.visit(query, idx.store.Vector(uint32(cur)))
	improved := true
	for improved {
		improved = false
		idx.locks[best][l].RLock()
		neighbors := idx.adjacency[best][l]
		idx.locks[best][l].RUnlock()
		for _, nb := range neighbors {
			d := idx.visit(query, idx.store.Vector(nb))
			if d < bestDist {
				best, bestDist, improved = int(nb), d, true
			}
		}
	}
	return best
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

// searchLayer performs a bounded best-first search at layer l from entry,
// returning up to ef candidates sorted by ascending distance.
func (idx *Index) searchLayer(entry, l int, query []float32, ef int) []candidate {
	visited := map[int]bool{entry: true}
	startDist := idx.visit(query, idx.store.Vector(uint32(entry)))

	cands := &candHeap{{id: entry, dist: startDist}}
	heap.Init(cands)
	results := &farHeap{{id: entry, dist: startDist}}
	heap.Init(results)

	for cands.Len() > 0 {
		c := heap.Pop(cands).(candidate)
		if results.Len() >= ef && c.dist > (*results)[0].dist {
			break
		}
		idx.locks[c.id][l].RLock()
		neighbors := append([]uint32(nil), idx.adjacency[c.id][l]...)
		idx.locks[c.id][l].RUnlock()

		for _, nb := range neighbors {
			if visited[int(nb)] {
				continue
			}
			visited[int(nb)] = true
			d := idx.visit(query, idx.store.Vector(nb))
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(cands, candidate{id: int(nb), dist: d})
				heap.Push(results, candidate{id: int(nb), dist: d})
				if results.Len() > ef {
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

func (idx *Index) Len() uint32 { return idx.store.Len() }

// Basic implements §4.G.3's search_k: greedy descent to layer 1, then a
// bounded best-first search at layer 0 admitting only visible, filtered
// candidates into the result set, tie-broken by payload ascending.
func (idx *Index) Basic(query []float32, k int, rerankSize int, distance ann.DistanceFunc, filter ann.Filter) []ann.Result {
	idx.entryMu.Lock()
	entry := idx.entry
	hasEntry := idx.hasEntry
	idx.entryMu.Unlock()
	if !hasEntry {
		return nil
	}

	top := idx.numLayers[entry] - 1
	cur := entry
	for l := top; l >= 1; l-- {
		cur = idx.greedyStep(cur, l, query)
	}

	ef := rerankSize
	if ef < k {
		ef = k
	}
	cands := idx.searchLayerFiltered(cur, 0, query, ef, filter)

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

// searchLayerFiltered mirrors searchLayer but only admits rows that pass
// filter into the result heap (visited tracking still traverses through
// filtered-out rows, since their edges remain useful for reachability).
func (idx *Index) searchLayerFiltered(entry, l int, query []float32, ef int, filter ann.Filter) []candidate {
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
		if results.Len() >= ef && results.Len() > 0 && c.dist > (*results)[0].dist {
			break
		}
		idx.locks[c.id][l].RLock()
		neighbors := append([]uint32(nil), idx.adjacency[c.id][l]...)
		idx.locks[c.id][l].RUnlock()

		for _, nb := range neighbors {
			if visited[int(nb)] {
				continue
			}
			visited[int(nb)] = true
			d := idx.visit(query, idx.store.Vector(nb))
			heap.Push(cands, candidate{id: int(nb), dist: d})
			if !filter(idx.store.Payload(nb)) {
				continue
			}
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(results, candidate{id: int(nb), dist: d})
				if results.Len() > ef {
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

// Vbase mirrors Basic's traversal but returns an eager prefix of rangeHint
// results plus a lazy tail iterator over the rest of the already-computed
// candidate list; the tail does not expand the graph any further.
func (idx *Index) Vbase(query []float32, rangeHint int, distance ann.DistanceFunc, filter ann.Filter) ([]ann.Result, ann.TailIterator) {
	idx.entryMu.Lock()
	entry := idx.entry
	hasEntry := idx.hasEntry
	idx.entryMu.Unlock()
	if !hasEntry {
		return nil, func() (ann.Result, bool) { return ann.Result{}, false }
	}

	top := idx.numLayers[entry] - 1
	cur := entry
	for l := top; l >= 1; l-- {
		cur = idx.greedyStep(cur, l, query)
	}

	cands := idx.searchLayerFiltered(cur, 0, query, rangeHint*4+16, filter)
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
