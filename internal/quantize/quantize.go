// Package quantize implements SPEC_FULL.md §4.C: the three quantizer
// families (scalar, product, RaBitQ) behind one uniform interface, grounded
// on original_source/crates/quantization's train/encode/preprocess/process
// split. Every quantizer operates on already-decoded []float32 rows handed
// to it by vecstore or growing.Segment; none of them touch disk directly.
package quantize

import "github.com/tensorchord/pgvecto.rs-sub000/internal/kernel"

// Distance is a distance score as produced by Process and the kernels; it
// is a plain float32, not the metric enum of the root package's Distance
// type (quantize sits below engine in the dependency graph).
type Distance = float32

// LUT is an opaque per-query lookup table produced by Preprocess and
// consumed by Process. Its concrete shape is quantizer-specific.
type LUT any

// FLUT is the fast-scan counterpart of LUT, consumed 32 codes at a time.
type FLUT any

// Quantizer is the uniform §4.C interface every family implements.
type Quantizer interface {
	// CodeSize is the number of bytes one Encode call produces.
	CodeSize() uint32
	// Encode packs one vector into its quantized code.
	Encode(vector []float32) []byte
	// Preprocess builds the per-query LUT used by Process.
	Preprocess(query []float32) LUT
	// Process estimates the distance between the query and one code.
	Process(lut LUT, code []byte) Distance
}

// FastScanQuantizer is implemented by quantizers with a b=4 interleaved-32
// layout (currently only Product at Bits==4).
type FastScanQuantizer interface {
	Quantizer
	FCodeSize() uint32
	FscanEncode(batch [][]float32) []byte
	FscanPreprocess(query []float32) FLUT
	FscanProcess(flut FLUT, codesOf32 []byte) [32]Distance
}

// LowerBounder is implemented by quantizers (RaBitQ) that can produce a
// distance lower bound cheaper than a full Process call, letting an
// error-bounded reranker prune without visiting the true vector.
type LowerBounder interface {
	ProcessLowerBound(lut LUT, code []byte, epsilon float32) Distance
}

// Projector is implemented by quantizers that operate in a rotated space
// (RaBitQ); callers must Project a vector before Encode/Preprocess it
// against a trained instance built from projected training vectors.
type Projector interface {
	Project(vector []float32) []float32
}

// Kind enumerates quantizer families, matching engine.QuantizationKind.
type Kind int

const (
	KindTrivial Kind = iota
	KindScalar
	KindProduct
	KindRaBitQ
)

// DistanceKind selects the metric a quantizer's Process estimates.
type DistanceKind int

const (
	L2 DistanceKind = iota
	Dot
	Cosine
)

func rawDistance(kind DistanceKind, a, b []float32) Distance {
	switch kind {
	case Dot:
		return -kernel.Dot(a, b)
	case Cosine:
		return -kernel.Dot(a, b)
	default:
		return kernel.SquaredL2(a, b)
	}
}
