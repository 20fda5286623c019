package engine

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// VectorOptions describes the vector space an index is built over (§3, §6).
type VectorOptions struct {
	Dims     uint32     `json:"dims"`
	Distance Distance   `json:"d"`
	Kind     VectorKind `json:"v"`
}

// SegmentOptions bounds growing/sealed segment sizes (§6).
type SegmentOptions struct {
	MaxGrowingSegmentSize uint32 `json:"max_growing_segment_size"`
	MaxSealedSegmentSize  uint32 `json:"max_sealed_segment_size"`
}

// OptimizingOptions configures the background optimizer workers (§4.J, §6).
type OptimizingOptions struct {
	WaitingSecs       uint32  `json:"waiting_secs"`
	DeletedThreshold  float64 `json:"deleted_threshold"`
	OptimizingThreads uint32  `json:"optimizing_threads"`
}

// QuantizationKind selects one of the three quantizer families (§4.C, §6).
type QuantizationKind uint8

const (
	QuantizationTrivial QuantizationKind = iota
	QuantizationScalar
	QuantizationProduct
	QuantizationRaBitQ
)

// QuantizationOptions parameterizes the chosen QuantizationKind.
type QuantizationOptions struct {
	Kind  QuantizationKind `json:"kind"`
	Bits  uint32           `json:"bits"`  // Scalar: {1,2,4,8}; Product: bits per subspace code
	Ratio uint32           `json:"ratio"` // Product: dimensions per subspace
}

// IndexingKind selects one of the four ANN index structures.
type IndexingKind uint8

const (
	IndexingFlat IndexingKind = iota
	IndexingIvf
	IndexingHnsw
	IndexingDiskann
)

// IndexingOptions is the tagged union of per-structure build parameters (§6).
// Exactly the fields relevant to Kind are consulted.
type IndexingOptions struct {
	Kind IndexingKind `json:"kind"`

	Quantization QuantizationOptions `json:"quantization"`

	// Ivf
	NList           uint32 `json:"nlist"`
	NSample         uint32 `json:"nsample"`
	Iterations      uint32 `json:"iterations"`
	LeastIterations uint32 `json:"least_iterations"`
	IsPuck          bool   `json:"is_puck"`
	CoarseSearchCount uint32 `json:"coarse_search_count"` // Puck: default 8, see SPEC_FULL §12
	OverSampleSize    uint32 `json:"over_sample_size"`    // default min(1000, n)

	// Hnsw / DiskANN
	M              uint32 `json:"m"`
	EfConstruction uint32 `json:"ef_construction"`

	// DiskANN
	R     uint32  `json:"r"`
	Alpha float64 `json:"alpha"`
	L     uint32  `json:"l"`
}

// Options is the full IndexOptions document (§6) in its public form. The
// index directory does not hold it as is: internal/index writes its own
// flattened Config to R/options.json.
type Options struct {
	Vector     VectorOptions     `json:"vector"`
	Segment    SegmentOptions    `json:"segment"`
	Optimizing OptimizingOptions `json:"optimizing"`
	Indexing   IndexingOptions   `json:"indexing"`
}

// DefaultOptions returns an Options with every default named in §6 applied,
// for fields the caller leaves zero-valued.
func DefaultOptions() Options {
	return Options{
		Segment: SegmentOptions{
			MaxGrowingSegmentSize: 20_000,
			MaxSealedSegmentSize:  1_000_000,
		},
		Optimizing: OptimizingOptions{
			WaitingSecs:       60,
			DeletedThreshold:  0.2,
			OptimizingThreads: uint32(isqrt(runtime.NumCPU())),
		},
		Indexing: IndexingOptions{
			Kind:              IndexingFlat,
			CoarseSearchCount: 8,
			OverSampleSize:    1000,
		},
	}
}

func isqrt(n int) int {
	if n <= 0 {
		return 1
	}
	r := 1
	for r*r <= n {
		r++
	}
	return r - 1
}

// Validate checks Options against the schema in §6, returning an
// *OptionsError describing the first violation found. It never mutates o;
// callers should merge against DefaultOptions() first.
func (o Options) Validate() error {
	if o.Vector.Dims < 1 || o.Vector.Dims > 65535 {
		return &OptionsError{Reason: fmt.Sprintf("vector.dims %d out of range [1, 65535]", o.Vector.Dims)}
	}
	switch o.Vector.Distance {
	case L2, Dot, Cos:
	default:
		return &OptionsError{Reason: fmt.Sprintf("vector.d %v is not one of L2, Dot, Cos", o.Vector.Distance)}
	}
	switch o.Vector.Kind {
	case Vecf32, Vecf16, SVecf32, BVector:
	default:
		return &OptionsError{Reason: fmt.Sprintf("vector.v %v is not a recognized vector kind", o.Vector.Kind)}
	}

	if o.Optimizing.WaitingSecs > 600 {
		return &OptionsError{Reason: "optimizing.waiting_secs must be in [0, 600]"}
	}
	if o.Optimizing.DeletedThreshold <= 0 || o.Optimizing.DeletedThreshold > 1 {
		return &OptionsError{Reason: "optimizing.deleted_threshold must be in (0, 1]"}
	}

	switch o.Indexing.Kind {
	case IndexingFlat:
	case IndexingIvf:
		if o.Indexing.NList == 0 {
			return &OptionsError{Reason: "indexing.nlist must be > 0 for Ivf"}
		}
	case IndexingHnsw, IndexingDiskann:
		if o.Indexing.M < 4 || o.Indexing.M > 128 {
			return &OptionsError{Reason: "indexing.m must be in [4, 128]"}
		}
		if o.Indexing.Kind == IndexingHnsw && (o.Indexing.EfConstruction < 10 || o.Indexing.EfConstruction > 2000) {
			return &OptionsError{Reason: "indexing.ef_construction must be in [10, 2000]"}
		}
	default:
		return &OptionsError{Reason: fmt.Sprintf("indexing.kind %d is not recognized", o.Indexing.Kind)}
	}

	switch o.Indexing.Quantization.Kind {
	case QuantizationTrivial, QuantizationRaBitQ:
	case QuantizationScalar:
		switch o.Indexing.Quantization.Bits {
		case 1, 2, 4, 8:
		default:
			return &OptionsError{Reason: "quantization.bits must be one of {1,2,4,8} for Scalar"}
		}
	case QuantizationProduct:
		if o.Indexing.Quantization.Ratio == 0 {
			return &OptionsError{Reason: "quantization.ratio must be > 0 for Product"}
		}
	default:
		return &OptionsError{Reason: fmt.Sprintf("quantization.kind %d is not recognized", o.Indexing.Quantization.Kind)}
	}

	return nil
}

// withDefaults applies DefaultOptions() as the floor for any zero-valued numeric
// field of o, returning the merged Options. Mirrors the teacher's
// envStr/collectInt default-fallback idiom from internal/config, generalized
// from environment variables to a JSON-decoded struct.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Segment.MaxGrowingSegmentSize == 0 {
		o.Segment.MaxGrowingSegmentSize = d.Segment.MaxGrowingSegmentSize
	}
	if o.Segment.MaxSealedSegmentSize == 0 {
		o.Segment.MaxSealedSegmentSize = d.Segment.MaxSealedSegmentSize
	}
	if o.Optimizing.WaitingSecs == 0 {
		o.Optimizing.WaitingSecs = d.Optimizing.WaitingSecs
	}
	if o.Optimizing.DeletedThreshold == 0 {
		o.Optimizing.DeletedThreshold = d.Optimizing.DeletedThreshold
	}
	if o.Optimizing.OptimizingThreads == 0 {
		o.Optimizing.OptimizingThreads = d.Optimizing.OptimizingThreads
	}
	if o.Indexing.CoarseSearchCount == 0 {
		o.Indexing.CoarseSearchCount = d.Indexing.CoarseSearchCount
	}
	if o.Indexing.OverSampleSize == 0 {
		o.Indexing.OverSampleSize = d.Indexing.OverSampleSize
	}
	return o
}

// MarshalOptionsJSON serializes o as plain JSON in struct field order (not
// sorted). The engine does not call it when writing an index directory;
// R/options.json is written by internal/index from its Config.
func MarshalOptionsJSON(o Options) ([]byte, error) {
	return json.MarshalIndent(o, "", "  ")
}
