// Package engine is the public API for embedding the disk-resident ANN vector
// index engine described in SPEC_FULL.md.
//
// Host integrators import this package to create or open an index, stream
// inserts and deletes, and run top-k or range-filtered similarity queries
// without depending on any of the internal/* packages directly:
//
//	idx, err := engine.Create("/var/lib/myindex", engine.Options{
//	    Vector:    engine.VectorOptions{Dims: 768, Distance: engine.L2, Kind: engine.Vecf32},
//	    Segment:   engine.SegmentOptions{MaxGrowingSegmentSize: 20_000},
//	    Indexing:  engine.IndexingOptions{Kind: engine.IndexingHnsw, M: 16, EfConstruction: 200},
//	})
//	if err != nil { ... }
//	defer idx.Close()
//
// The import graph enforces a strict no-cycle rule: engine (root) imports
// internal/*, but internal/* never imports engine (root). Public types here
// are standalone structs with no internal imports.
package engine

import "fmt"

// Distance is the similarity function an index is parameterized by.
type Distance uint8

const (
	L2 Distance = iota
	Dot
	Cos
)

func (d Distance) String() string {
	switch d {
	case L2:
		return "l2"
	case Dot:
		return "dot"
	case Cos:
		return "cos"
	default:
		return fmt.Sprintf("distance(%d)", uint8(d))
	}
}

// VectorKind names the concrete representation of a stored vector.
type VectorKind uint8

const (
	Vecf32 VectorKind = iota
	Vecf16
	SVecf32
	BVector
)

func (k VectorKind) String() string {
	switch k {
	case Vecf32:
		return "vecf32"
	case Vecf16:
		return "vecf16"
	case SVecf32:
		return "svecf32"
	case BVector:
		return "bvector"
	default:
		return fmt.Sprintf("vectorkind(%d)", uint8(k))
	}
}

// Vector is either a dense or a sparse vector, tagged by the index's configured Kind.
// Only one of Dense / SparseIndexes+SparseValues is populated, matching Kind.
type Vector struct {
	Dense          []float32
	SparseIndexes  []uint32 // strictly increasing
	SparseValues   []float32
}

// Dims reports len(v.Dense), the dimensionality of a dense vector; it is 0
// for a sparse one (sparse vectors validate against dims by requiring every
// index to be < dims, not len(v)).
func (v Vector) Dims() int {
	return len(v.Dense)
}

// Pointer is the caller-supplied 48-bit row identifier carried in a Payload.
type Pointer uint64

// Payload is a 64-bit opaque value carried with each inserted vector: the low
// 16 bits are a version, the high 48 bits are a caller-supplied pointer. The
// pair (pointer, version) is unique within the index's lifetime.
type Payload uint64

const (
	payloadVersionBits = 16
	payloadVersionMask = (uint64(1) << payloadVersionBits) - 1
)

// NewPayload packs a pointer and version into a single Payload.
func NewPayload(pointer Pointer, version uint16) Payload {
	return Payload((uint64(pointer) << payloadVersionBits) | uint64(version))
}

// Pointer extracts the caller-supplied pointer from a Payload.
func (p Payload) Pointer() Pointer {
	return Pointer(uint64(p) >> payloadVersionBits)
}

// Version extracts the 16-bit version from a Payload.
func (p Payload) Version() uint16 {
	return uint16(uint64(p) & payloadVersionMask)
}

// Result is one scored hit returned by a similarity query: a distance (lower
// is always better, regardless of the configured Distance function — Dot and
// Cos scores are negated at ingestion into the search path so callers never
// have to special-case sort order) and the caller's original pointer.
type Result struct {
	Distance float32
	Pointer  Pointer
}

// SearchOptions configures a single query. K and VbaseRange are mutually
// exclusive: set K for a bounded top-k query (ViewBasic), VbaseRange for a
// streaming/range query (ViewVbase).
type SearchOptions struct {
	K           int
	VbaseRange  int
	Prefilter   bool
	PQFastScan  bool
	SQFastScan  bool
	RQFastScan  bool
	FlatRerankSize     uint32
	IvfRerankSize      uint32
	HnswRerankSize     uint32
	IvfNprobe          uint32
}

// Filter is a caller predicate applied to surviving (visible) candidates
// during a search, in addition to the engine's own visibility filter.
type Filter func(Pointer) bool

// IndexStat summarizes the current state of an index for monitoring.
type IndexStat struct {
	Indexing        bool
	SealedSegments  []SegmentStat
	GrowingSegments []SegmentStat
	WriteSegment    *SegmentStat
	DeleteMapLen    int
}

// SegmentStat describes one segment's shape.
type SegmentStat struct {
	ID     string
	Type   string // "sealed", "growing", or "write"
	Length uint32
	Size   uint64
}
