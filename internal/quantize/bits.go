package quantize

import (
	"encoding/binary"
	"math"
)

func float32bits(f float32) uint32 { return math.Float32bits(f) }

func decodeF32Slice(b []byte, dims int) []float32 {
	out := make([]float32, dims)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
