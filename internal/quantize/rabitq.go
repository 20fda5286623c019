package quantize

import (
	"math"
	"math/bits"
	"math/rand"
)

// RaBitQ is the binary quantizer with error bounds (§4.C "RaBitQ"):
// vectors are rotated by a fixed random orthonormal matrix, then reduced to
// their sign bits plus four f32 scalars (sum_of_x2, factor_ppc, factor_ip,
// factor_err). Queries are quantized to 4 bits/component; Process combines
// an asymmetric binary dot product with the four scalars into a rough L2
// distance, and ProcessLowerBound additionally subtracts epsilon*err to
// prune without visiting the true vector. Grounded on
// original_source/crates/quantization/src/rabitq.rs's VectL2 operator impl.
type RaBitQ struct {
	dims       int
	projection [][]float32 // dims x dims orthonormal rows
}

// rabitqSeed fixes the random orthonormal rotation so code built with the
// same dims is reproducible across a process restart, matching the
// original's `ChaCha12Rng::from_seed([7; 32])`.
const rabitqSeed = 7

// TrainRaBitQ builds the fixed rotation matrix via Gram-Schmidt QR of a
// seeded Gaussian matrix. Training data itself is unused — RaBitQ's
// rotation does not depend on the vector distribution.
func TrainRaBitQ(dims int) *RaBitQ {
	rng := rand.New(rand.NewSource(rabitqSeed))
	raw := make([][]float64, dims)
	for i := range raw {
		raw[i] = make([]float64, dims)
		for j := range raw[i] {
			raw[i][j] = rng.NormFloat64()
		}
	}
	q := gramSchmidt(raw)
	projection := make([][]float32, dims)
	for i, row := range q {
		projection[i] = make([]float32, dims)
		for j, x := range row {
			projection[i][j] = float32(x)
		}
	}
	return &RaBitQ{dims: dims, projection: projection}
}

// gramSchmidt orthonormalizes the rows of m (classical Gram-Schmidt; dims
// here is small enough, a few thousand at most, for this O(d^3) routine to
// run once at train time).
func gramSchmidt(m [][]float64) [][]float64 {
	n := len(m)
	q := make([][]float64, n)
	for i := 0; i < n; i++ {
		v := append([]float64(nil), m[i]...)
		for j := 0; j < i; j++ {
			dot := 0.0
			for k := range v {
				dot += v[k] * q[j][k]
			}
			for k := range v {
				v[k] -= dot * q[j][k]
			}
		}
		norm := 0.0
		for _, x := range v {
			norm += x * x
		}
		norm = math.Sqrt(norm)
		if norm < 1e-12 {
			norm = 1
		}
		for k := range v {
			v[k] /= norm
		}
		q[i] = v
	}
	return q
}

// Project rotates a vector into RaBitQ's working space; callers must call
// this before Encode/Preprocess (§4.C "Optional project(vector)").
func (r *RaBitQ) Project(vector []float32) []float32 {
	out := make([]float32, r.dims)
	for i, row := range r.projection {
		var sum float32
		for j, x := range row {
			sum += x * vector[j]
		}
		out[i] = sum
	}
	return out
}

func wordsFor(dims int) int { return (dims + 63) / 64 }

// CodeSize is 4 f32 scalars plus one sign bit per dimension, word-aligned.
func (r *RaBitQ) CodeSize() uint32 { return 16 + uint32(wordsFor(r.dims))*8 }

func rabitqFactors(dims int, v []float32) (sumOfX2, factorPPC, factorIP, factorErr float32) {
	var sumAbs, sumSq float32
	var cntPos, cntNeg int
	for _, x := range v {
		if x > 0 {
			sumAbs += x
			cntPos++
		} else if x < 0 {
			sumAbs -= x
			cntNeg++
		}
		sumSq += x * x
	}
	disU := float32(math.Sqrt(float64(sumSq)))
	x0 := sumAbs / float32(math.Sqrt(float64(sumSq)*float64(dims)))
	if x0 == 0 {
		x0 = 1e-6
	}
	xx0 := disU / x0
	facNorm := float32(math.Sqrt(float64(dims)))
	maxX1 := float32(1)
	if dims > 1 {
		maxX1 = 1 / float32(math.Sqrt(float64(dims-1)))
	}
	inner := xx0*xx0 - disU*disU
	if inner < 0 {
		inner = 0
	}
	factorErr = 2 * maxX1 * float32(math.Sqrt(float64(inner)))
	factorIP = -2 / facNorm * xx0
	factorPPC = factorIP * float32(cntPos-cntNeg)
	return sumSq, factorPPC, factorIP, factorErr
}

func packSignBits(v []float32) []uint64 {
	words := make([]uint64, wordsFor(len(v)))
	for i, x := range v {
		if x > 0 {
			words[i/64] |= 1 << uint(i%64)
		}
	}
	return words
}

func encodeWords(words []uint64, out []byte) {
	for i, w := range words {
		for b := 0; b < 8; b++ {
			out[i*8+b] = byte(w >> (8 * b))
		}
	}
}

func decodeWords(b []byte, n int) []uint64 {
	words := make([]uint64, n)
	for i := range words {
		var w uint64
		for k := 0; k < 8; k++ {
			w |= uint64(b[i*8+k]) << (8 * k)
		}
		words[i] = w
	}
	return words
}

func putF32(b []byte, off int, f float32) {
	bitsVal := math.Float32bits(f)
	b[off] = byte(bitsVal)
	b[off+1] = byte(bitsVal >> 8)
	b[off+2] = byte(bitsVal >> 16)
	b[off+3] = byte(bitsVal >> 24)
}

func getF32(b []byte, off int) float32 {
	bitsVal := uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
	return math.Float32frombits(bitsVal)
}

// Encode packs (sum_of_x2, factor_ppc, factor_ip, factor_err) followed by
// the sign-bit code, as per §4.C.
func (r *RaBitQ) Encode(vector []float32) []byte {
	sumX2, ppc, ip, err := rabitqFactors(r.dims, vector)
	out := make([]byte, r.CodeSize())
	putF32(out, 0, sumX2)
	putF32(out, 4, ppc)
	putF32(out, 8, ip)
	putF32(out, 12, err)
	encodeWords(packSignBits(vector), out[16:])
	return out
}

type rabitqCode struct {
	sumX2, ppc, ip, err float32
	bits                []uint64
}

func parseRaBitQCode(code []byte, words int) rabitqCode {
	return rabitqCode{
		sumX2: getF32(code, 0),
		ppc:   getF32(code, 4),
		ip:    getF32(code, 8),
		err:   getF32(code, 12),
		bits:  decodeWords(code[16:], words),
	}
}

// rabitqLUT is the query-side quantization: 4 bit-planes (one per query
// quantization bit) plus the scale/bias/sum needed to recover the rough
// distance, per the original's `quantize::<15>` 4-bit query quantizer.
type rabitqLUT struct {
	disV2      float32
	k, b       float32
	qvectorSum float32
	planes     [4][]uint64
}

// quantizeQuery maps query components uniformly into [0, 15] (4 bits),
// returning the per-component level, plus scale k and bias b such that
// level*k+b approximates the original value.
func quantizeQuery(query []float32) (levels []int, k, b float32) {
	lo, hi := query[0], query[0]
	for _, x := range query {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	if hi <= lo {
		hi = lo + 1
	}
	k = (hi - lo) / 15
	b = lo
	levels = make([]int, len(query))
	for i, x := range query {
		l := int(math.Round(float64((x - b) / k)))
		if l < 0 {
			l = 0
		}
		if l > 15 {
			l = 15
		}
		levels[i] = l
	}
	return
}

func (r *RaBitQ) Preprocess(query []float32) LUT {
	var sumSq float32
	for _, x := range query {
		sumSq += x * x
	}
	levels, k, b := quantizeQuery(query)
	var qsum float32
	var planes [4][]uint64
	for p := range planes {
		planes[p] = make([]uint64, wordsFor(len(query)))
	}
	for i, l := range levels {
		qsum += float32(l)
		for p := 0; p < 4; p++ {
			if l&(1<<uint(p)) != 0 {
				planes[p][i/64] |= 1 << uint(i%64)
			}
		}
	}
	return rabitqLUT{disV2: sumSq, k: k, b: b, qvectorSum: qsum, planes: planes}
}

// asymmetricPopcount computes the shifted 4-plane binary dot product
// between the query's bit planes and the code's sign bits.
func asymmetricPopcount(planes [4][]uint64, code []uint64) uint32 {
	var value uint32
	for p := 0; p < 4; p++ {
		var cnt uint32
		plane := planes[p]
		for i, w := range code {
			cnt += uint32(bits.OnesCount64(w & plane[i]))
		}
		value += cnt << uint(p)
	}
	return value
}

func (r *RaBitQ) Process(lut LUT, code []byte) Distance {
	rl := lut.(rabitqLUT)
	rc := parseRaBitQCode(code, wordsFor(r.dims))
	value := asymmetricPopcount(rl.planes, rc.bits)
	rough := rc.sumX2 + rl.disV2 + rl.b*rc.ppc + (2*float32(value)-rl.qvectorSum)*rc.ip*rl.k
	return rough
}

// ProcessLowerBound yields rough - epsilon*err, the cheap-to-compute bound
// an error-bounded reranker uses to prune without a full true-distance pass.
func (r *RaBitQ) ProcessLowerBound(lut LUT, code []byte, epsilon float32) Distance {
	rl := lut.(rabitqLUT)
	rc := parseRaBitQCode(code, wordsFor(r.dims))
	value := asymmetricPopcount(rl.planes, rc.bits)
	rough := rc.sumX2 + rl.disV2 + rl.b*rc.ppc + (2*float32(value)-rl.qvectorSum)*rc.ip*rl.k
	errTerm := rc.err * float32(math.Sqrt(float64(rl.disV2)))
	return rough - epsilon*errTerm
}
