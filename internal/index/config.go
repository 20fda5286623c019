// Package index implements SPEC_FULL.md §4.I: the Index composition object
// that owns one on-disk index's options, delete map, segment set, and the
// atomically-swapped View snapshot search/insert paths read. Grounded on
// the teacher's akashi.go composition root for the protect-mutex/atomic-
// swap shape, and on original_source/crates/service/src/index/mod.rs for
// the refresh/seal/insert protocol it implements.
package index

import (
	"math/rand"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/kernel"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/quantize"
)

// Distance mirrors engine.Distance. internal/index sits below the root
// engine package in the import graph and cannot import it, so every
// public enum the root Options type exposes is duplicated here in
// package-local form; engine.go translates between the two at the
// Create/Open boundary.
type Distance uint8

const (
	L2 Distance = iota
	Dot
	Cos
)

// VectorKind mirrors engine.VectorKind.
type VectorKind uint8

const (
	Vecf32 VectorKind = iota
	Vecf16
	SVecf32
	BVector
)

// IndexingKind mirrors engine.IndexingKind.
type IndexingKind uint8

const (
	IndexingFlat IndexingKind = iota
	IndexingIvf
	IndexingHnsw
	IndexingDiskann
)

// QuantizationKind mirrors engine.QuantizationKind.
type QuantizationKind uint8

const (
	QuantizationTrivial QuantizationKind = iota
	QuantizationScalar
	QuantizationProduct
	QuantizationRaBitQ
)

// Config is the flattened, package-local mirror of engine.Options that
// Create/Open actually operate on.
type Config struct {
	Dims     uint32
	Distance Distance
	Kind     VectorKind

	MaxGrowingSegmentSize uint32
	MaxSealedSegmentSize  uint32

	OptimizingWaitingSecs      uint32
	OptimizingDeletedThreshold float64
	OptimizingThreads          uint32

	IndexingKind      IndexingKind
	QuantizationKind  QuantizationKind
	QuantizationBits  uint32
	QuantizationRatio uint32

	// Ivf
	NList             uint32
	NSample           uint32
	Iterations        uint32
	LeastIterations   uint32
	IsPuck            bool
	CoarseSearchCount uint32
	OverSampleSize    uint32

	// Hnsw / DiskANN
	M              uint32
	EfConstruction uint32

	// DiskANN
	R     uint32
	Alpha float64
	L     uint32
}

// distanceFunc returns the true-distance kernel Basic/Vbase rerank with,
// per §4.C's "Dot and Cos scores are negated so lower is always better."
func (c Config) distanceFunc() ann.DistanceFunc {
	switch c.Distance {
	case Dot:
		return func(a, b []float32) float32 { return -kernel.Dot(a, b) }
	case Cos:
		return func(a, b []float32) float32 {
			na := normalized(a)
			nb := normalized(b)
			return -kernel.Dot(na, nb)
		}
	default:
		return kernel.SquaredL2
	}
}

func normalized(v []float32) []float32 {
	out := append([]float32(nil), v...)
	kernel.Normalize(out)
	return out
}

func (c Config) quantizeDistanceKind() quantize.DistanceKind {
	switch c.Distance {
	case Dot:
		return quantize.Dot
	case Cos:
		return quantize.Cosine
	default:
		return quantize.L2
	}
}

// buildQuantizer trains a quantizer of the configured family over vectors,
// used by the flat indexing kind (the other three families train their
// own internal quantizer, if any, inside their respective Train calls).
func (c Config) buildQuantizer(vectors [][]float32, rng *rand.Rand) quantize.Quantizer {
	dk := c.quantizeDistanceKind()
	switch c.QuantizationKind {
	case QuantizationScalar:
		return quantize.TrainScalar(int(c.Dims), c.QuantizationBits, dk, vectors)
	case QuantizationProduct:
		return quantize.TrainProduct(int(c.Dims), int(c.QuantizationRatio), c.QuantizationBits, dk, vectors, rng)
	case QuantizationRaBitQ:
		return quantize.TrainRaBitQ(int(c.Dims))
	default:
		return quantize.NewTrivial(int(c.Dims), dk)
	}
}

func (c Config) withDefaults() Config {
	if c.MaxGrowingSegmentSize == 0 {
		c.MaxGrowingSegmentSize = 20_000
	}
	if c.MaxSealedSegmentSize == 0 {
		c.MaxSealedSegmentSize = 1_000_000
	}
	if c.OptimizingWaitingSecs == 0 {
		c.OptimizingWaitingSecs = 60
	}
	if c.OptimizingDeletedThreshold == 0 {
		c.OptimizingDeletedThreshold = 0.2
	}
	if c.OptimizingThreads == 0 {
		c.OptimizingThreads = 4
	}
	if c.CoarseSearchCount == 0 {
		c.CoarseSearchCount = 8
	}
	if c.OverSampleSize == 0 {
		c.OverSampleSize = 1000
	}
	return c
}
