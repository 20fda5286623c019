package quantize

import "math"

// Scalar is a per-dimension uniform quantizer: each component is mapped
// into one of 2^Bits buckets between that dimension's trained min and max
// (§4.C "Scalar quantization"), grounded on
// original_source/crates/quantization/src/scalar.rs's train/encode split.
// Codes are stored one byte per dimension regardless of Bits — the Rust
// original bit-packs 1/2/4-bit codes into bytes for density; this port
// trades that density for simplicity since §4.C does not name packing as
// an invariant, only the bucket count.
type Scalar struct {
	dims int
	bits uint32
	kind DistanceKind
	min  []float32
	max  []float32
}

// TrainScalar fits min/max per dimension over the training set.
func TrainScalar(dims int, bits uint32, kind DistanceKind, vectors [][]float32) *Scalar {
	min := make([]float32, dims)
	max := make([]float32, dims)
	for j := range min {
		min[j] = float32(math.Inf(1))
		max[j] = float32(math.Inf(-1))
	}
	for _, v := range vectors {
		for j, x := range v {
			if x < min[j] {
				min[j] = x
			}
			if x > max[j] {
				max[j] = x
			}
		}
	}
	return &Scalar{dims: dims, bits: bits, kind: kind, min: min, max: max}
}

func (s *Scalar) levels() uint32 { return (1 << s.bits) - 1 }

func (s *Scalar) CodeSize() uint32 { return uint32(s.dims) }

func (s *Scalar) bucket(dim int, x float32) byte {
	del := s.max[dim] - s.min[dim]
	if del <= 0 {
		return 0
	}
	step := del / float32(s.levels())
	j := int32(math.Round(float64((x - s.min[dim]) / step)))
	if j < 0 {
		j = 0
	}
	if uint32(j) > s.levels() {
		j = int32(s.levels())
	}
	return byte(j)
}

func (s *Scalar) Encode(vector []float32) []byte {
	code := make([]byte, s.dims)
	for i, x := range vector {
		code[i] = s.bucket(i, x)
	}
	return code
}

// scalarLUT holds, per dimension, one table entry per bucket: for L2,
// (query[i] - bucket_value)^2; for Dot, -(query[i] * bucket_value), negated
// so "smaller = better" holds uniformly across metrics (§4.C).
type scalarLUT struct {
	table [][]float32 // table[dim][bucket]
}

func (s *Scalar) Preprocess(query []float32) LUT {
	levels := s.levels()
	table := make([][]float32, s.dims)
	for i := range table {
		row := make([]float32, levels+1)
		del := (s.max[i] - s.min[i]) / float32(levels)
		for b := uint32(0); b <= levels; b++ {
			val := s.min[i] + float32(b)*del
			switch s.kind {
			case Dot, Cosine:
				row[b] = -(query[i] * val)
			default:
				d := query[i] - val
				row[b] = d * d
			}
		}
		table[i] = row
	}
	return scalarLUT{table: table}
}

func (s *Scalar) Process(lut LUT, code []byte) Distance {
	sl := lut.(scalarLUT)
	var sum float32
	for i, b := range code {
		sum += sl.table[i][b]
	}
	return sum
}
