// Package growing implements SPEC_FULL.md §4.E: the mutable, WAL-backed
// segment every insert lands in before it is sealed into an immutable ANN
// index. Grounded on original_source/crates/index/src/segment/growing.rs
// for the reserve/spin/commit insert protocol, and on the teacher's
// internal/service/trace/wal.go for the WAL append/fsync discipline.
package growing

import (
	"container/heap"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrSegmentFull is returned by Insert once the segment has reached its
// configured capacity; callers must seal it and route further inserts to a
// fresh segment.
type ErrSegmentFull struct{}

func (ErrSegmentFull) Error() string { return "growing: segment is full" }

// Result is one scored hit from a growing-segment scan.
type Result struct {
	Distance float32
	Payload  uint64
}

// Filter reports whether payload is currently visible (combines the delete
// map's tombstone check and any caller predicate); growing itself is
// agnostic to how visibility is decided.
type Filter func(payload uint64) bool

// DistanceFunc scores a query against a stored vector; lower is better.
type DistanceFunc func(query, vector []float32) float32

// Segment is one growing segment: a pre-allocated, append-only array of
// vectors plus payloads, with the reserve/write/spin/commit protocol from
// §4.E governing concurrent Insert calls.
type Segment struct {
	dims     int
	capacity uint32

	lock     sync.Mutex // pro.lock: guards the inflight reservation
	inflight atomic.Uint32
	length   atomic.Uint32

	vectors  [][]float32
	payloads []uint64

	wal   *wal
	walMu sync.Mutex

	sealedMu sync.Mutex
	sealed   bool
}

// New allocates a growing segment with room for capacity vectors of the
// given width, backed by a WAL at walPath.
func New(walPath string, dims int, capacity uint32) (*Segment, error) {
	w, err := openWAL(walPath, dims)
	if err != nil {
		return nil, err
	}
	return &Segment{
		dims:     dims,
		capacity: capacity,
		vectors:  make([][]float32, capacity),
		payloads: make([]uint64, capacity),
		wal:      w,
	}, nil
}

// Open reopens an existing growing segment, replaying its WAL to
// repopulate vectors/payloads up to the last durable commit.
func Open(walPath string, dims int, capacity uint32) (*Segment, error) {
	s := &Segment{
		dims:     dims,
		capacity: capacity,
		vectors:  make([][]float32, capacity),
		payloads: make([]uint64, capacity),
	}
	w, n, err := openWALForReplay(walPath, dims, func(i uint32, vector []float32, payload uint64) {
		s.vectors[i] = vector
		s.payloads[i] = payload
	})
	if err != nil {
		return nil, err
	}
	s.wal = w
	s.inflight.Store(n)
	s.length.Store(n)
	return s, nil
}

// Insert reserves the next slot, writes into it outside the lock, spins
// until prior slots have committed, then commits with a release store and
// appends a WAL record — the exact five-step protocol in §4.E.
func (s *Segment) Insert(vector []float32, payload uint64) error {
	s.lock.Lock()
	if s.inflight.Load() == s.capacity {
		s.lock.Unlock()
		return ErrSegmentFull{}
	}
	i := s.inflight.Load()
	s.inflight.Store(i + 1)
	s.lock.Unlock()

	cp := make([]float32, len(vector))
	copy(cp, vector)
	s.vectors[i] = cp
	s.payloads[i] = payload

	for s.length.Load() != i {
		runtime.Gosched()
	}
	s.length.Store(i + 1)

	s.walMu.Lock()
	err := s.wal.appendRecord(i, cp, payload)
	s.walMu.Unlock()
	return err
}

// IsFull reports whether the segment has reached capacity. If the
// reservation counter has hit capacity it waits for in-flight writers to
// finish committing before answering, so a "true" result is always safe to
// act on (e.g. to trigger a seal).
func (s *Segment) IsFull() bool {
	if s.inflight.Load() != s.capacity {
		return false
	}
	for s.length.Load() != s.inflight.Load() {
		runtime.Gosched()
	}
	return true
}

// Len returns the number of committed (readable) rows.
func (s *Segment) Len() uint32 { return s.length.Load() }

// Vector returns row i (satisfies vecstore.DenseSource for training).
func (s *Segment) Vector(i uint32) []float32 { return s.vectors[i] }

// Payload returns row i's payload (satisfies vecstore.DenseSource).
func (s *Segment) Payload(i uint32) uint64 { return s.payloads[i] }

// Seal clamps capacity to the current inflight count, waits for every
// reserved slot to finish committing, fsyncs the WAL, and marks the
// segment immutable. After Seal returns, Insert always returns
// ErrSegmentFull.
func (s *Segment) Seal() error {
	s.lock.Lock()
	s.capacity = s.inflight.Load()
	s.lock.Unlock()

	for s.length.Load() != s.inflight.Load() {
		runtime.Gosched()
	}

	s.walMu.Lock()
	err := s.wal.sync()
	s.walMu.Unlock()
	if err != nil {
		return err
	}

	s.sealedMu.Lock()
	s.sealed = true
	s.sealedMu.Unlock()
	return nil
}

// Sealed reports whether Seal has completed.
func (s *Segment) Sealed() bool {
	s.sealedMu.Lock()
	defer s.sealedMu.Unlock()
	return s.sealed
}

// Flush fsyncs the WAL without sealing, for periodic durability between
// inserts.
func (s *Segment) Flush() error {
	s.walMu.Lock()
	defer s.walMu.Unlock()
	return s.wal.sync()
}

// Close releases the WAL handle.
func (s *Segment) Close() error {
	s.walMu.Lock()
	defer s.walMu.Unlock()
	return s.wal.close()
}

// Basic performs a linear scan returning the k nearest visible results
// (§4.E "returns a bounded heap"), via a max-heap of size k so insertion
// cost stays O(log k) per surviving candidate instead of O(n log n).
func (s *Segment) Basic(query []float32, k int, distance DistanceFunc, filter Filter) []Result {
	n := s.Len()
	h := &maxHeap{}
	heap.Init(h)
	for i := uint32(0); i < n; i++ {
		if !filter(s.payloads[i]) {
			continue
		}
		d := distance(query, s.vectors[i])
		r := Result{Distance: d, Payload: s.payloads[i]}
		if h.Len() < k {
			heap.Push(h, r)
		} else if k > 0 && d < (*h)[0].Distance {
			(*h)[0] = r
			heap.Fix(h, 0)
		}
	}
	out := make([]Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Result)
	}
	return out
}

// Vbase performs a linear scan and returns a prefix of the closest
// rangeHint results plus a lazy tail iterator over the remainder, matching
// §4.E's "(prefix, tail iterator)" vbase shape.
func (s *Segment) Vbase(query []float32, rangeHint int, distance DistanceFunc, filter Filter) ([]Result, func() (Result, bool)) {
	n := s.Len()
	var all []Result
	for i := uint32(0); i < n; i++ {
		if !filter(s.payloads[i]) {
			continue
		}
		all = append(all, Result{Distance: distance(query, s.vectors[i]), Payload: s.payloads[i]})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Distance < all[j].Distance })

	cut := rangeHint
	if cut > len(all) {
		cut = len(all)
	}
	prefix := all[:cut]
	rest := all[cut:]
	idx := 0
	tail := func() (Result, bool) {
		if idx >= len(rest) {
			return Result{}, false
		}
		r := rest[idx]
		idx++
		return r, true
	}
	return prefix, tail
}

type maxHeap []Result

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(Result)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
