package quantize

import "encoding/binary"

// Trivial is the identity quantizer: it stores each vector as raw f32 bytes
// and computes the exact distance at Process time. It exists so every ANN
// index can share one Quantizer-shaped code path regardless of whether the
// user opted into compression (engine.QuantizationKind zero value).
type Trivial struct {
	dims int
	kind DistanceKind
}

// NewTrivial returns a Trivial quantizer for vectors of the given width.
func NewTrivial(dims int, kind DistanceKind) *Trivial {
	return &Trivial{dims: dims, kind: kind}
}

func (t *Trivial) CodeSize() uint32 { return uint32(t.dims) * 4 }

func (t *Trivial) Encode(vector []float32) []byte {
	code := make([]byte, t.CodeSize())
	for i, x := range vector {
		binary.LittleEndian.PutUint32(code[i*4:], float32bits(x))
	}
	return code
}

type trivialLUT struct{ query []float32 }

func (t *Trivial) Preprocess(query []float32) LUT { return trivialLUT{query: query} }

func (t *Trivial) Process(lut LUT, code []byte) Distance {
	tl := lut.(trivialLUT)
	v := decodeF32Slice(code, t.dims)
	return rawDistance(t.kind, tl.query, v)
}
