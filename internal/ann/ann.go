// Package ann defines the shared shapes every ANN index family
// (flat, ivf, hnsw, diskann) implements, per SPEC_FULL.md §4.G. Each family
// lives in its own subpackage; this package holds only the interface and
// result types common to all of them so sealed segments can hold any one
// variant behind a single field.
package ann

// Result is one scored candidate: a distance (lower is better) and the
// opaque payload carried alongside its vector.
type Result struct {
	Distance float32
	Payload  uint64
}

// Filter reports whether payload is currently visible (delete-map check
// plus any caller predicate), mirroring growing.Filter.
type Filter func(payload uint64) bool

// DistanceFunc scores a query against a raw (unquantized) vector.
type DistanceFunc func(query, vector []float32) float32

// TailIterator lazily yields vbase's unranked remainder, one Result at a
// time, until exhausted.
type TailIterator func() (Result, bool)

// Index is the interface every trained ANN structure in internal/ann/*
// satisfies, letting sealed.Segment hold any one variant uniformly.
type Index interface {
	Len() uint32
	// Basic returns the k nearest visible results, true-distance reranked.
	Basic(query []float32, k int, rerankSize int, distance DistanceFunc, filter Filter) []Result
	// Vbase returns a ranked prefix of up to rangeHint results plus a lazy
	// tail iterator over the remainder, for streaming/range queries.
	Vbase(query []float32, rangeHint int, distance DistanceFunc, filter Filter) ([]Result, TailIterator)
}

// sortResults orders results ascending by distance; used by the flat and
// ivf families and by internal/merge (hnsw and diskann sort with their own
// payload tie-break).
func sortResults(r []Result) {
	// insertion sort: result sets here are always rerank-window sized
	// (tens to low hundreds), where insertion sort beats sort.Slice's
	// overhead.
	for i := 1; i < len(r); i++ {
		for j := i; j > 0 && r[j].Distance < r[j-1].Distance; j-- {
			r[j], r[j-1] = r[j-1], r[j]
		}
	}
}

// SortResults is the exported form of sortResults, used by the ann
// subpackages (they cannot see the unexported helper across packages).
func SortResults(r []Result) { sortResults(r) }
