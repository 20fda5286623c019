package quantize

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(n, dims int, rng *rand.Rand) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dims)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func TestTrivialEncodeProcessMatchesTrueDistance(t *testing.T) {
	q := NewTrivial(4, L2)
	v := []float32{1, 2, 3, 4}
	code := q.Encode(v)
	lut := q.Preprocess([]float32{0, 0, 0, 0})
	assert.InDelta(t, float32(30), q.Process(lut, code), 1e-4)
}

func TestScalarEncodeOrdersByDistance(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	vectors := randomVectors(200, 8, rng)
	sq := TrainScalar(8, 8, L2, vectors)

	query := vectors[0]
	codes := make([][]byte, len(vectors))
	for i, v := range vectors {
		codes[i] = sq.Encode(v)
	}
	lut := sq.Preprocess(query)

	// The vector closest by true L2 should also score lowest (or near-lowest)
	// under the quantized estimate, given 8-bit precision.
	bestTrue, bestTrueIdx := float32(1e18), -1
	for i, v := range vectors {
		d := trueL2(query, v)
		if d < bestTrue {
			bestTrue, bestTrueIdx = d, i
		}
	}
	estTrue := sq.Process(lut, codes[bestTrueIdx])
	for i := range vectors {
		est := sq.Process(lut, codes[i])
		assert.GreaterOrEqual(t, est+1.0, estTrue-1.0, "quantized distance should roughly respect ordering")
	}
}

func trueL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func TestProductTrainEncodeProcess(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	vectors := randomVectors(300, 16, rng)
	pq := TrainProduct(16, 4, 4, L2, vectors, rng)

	require.Equal(t, uint32(4), pq.CodeSize())
	code := pq.Encode(vectors[0])
	require.Len(t, code, 4)

	lut := pq.Preprocess(vectors[0])
	est := pq.Process(lut, code)
	assert.GreaterOrEqual(t, est, float32(0))
}

func TestProductFastScanMatchesScalarProcessRoughly(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	vectors := randomVectors(64, 16, rng)
	pq := TrainProduct(16, 4, 4, L2, vectors, rng)

	batch := vectors[:32]
	packed := pq.FscanEncode(batch)
	flut := pq.FscanPreprocess(vectors[0])
	out := pq.FscanProcess(flut, packed)

	for i, v := range batch {
		scalarLut := pq.Preprocess(vectors[0])
		want := pq.Process(scalarLut, pq.Encode(v))
		assert.InDelta(t, want, out[i], want*0.5+5.0)
	}
}

func TestRaBitQEncodeProcessNonNegativeRoughDistance(t *testing.T) {
	dims := 32
	rq := TrainRaBitQ(dims)
	rng := rand.New(rand.NewSource(4))
	vectors := randomVectors(20, dims, rng)

	for _, v := range vectors {
		pv := rq.Project(v)
		code := rq.Encode(pv)
		lut := rq.Preprocess(rq.Project(v))
		dist := rq.Process(lut, code)
		// self-distance should be small relative to the vector's own norm.
		assert.Less(t, dist, trueL2(pv, pv)+trueL2(pv, pv)+10.0)
	}
}

func TestRaBitQLowerBoundIsBelowRough(t *testing.T) {
	dims := 24
	rq := TrainRaBitQ(dims)
	rng := rand.New(rand.NewSource(5))
	a := randomVectors(1, dims, rng)[0]
	b := randomVectors(1, dims, rng)[0]

	pa := rq.Project(a)
	pb := rq.Project(b)
	code := rq.Encode(pa)
	lut := rq.Preprocess(pb)

	rough := rq.Process(lut, code)
	lower := rq.ProcessLowerBound(lut, code, 1.0)
	assert.LessOrEqual(t, lower, rough+1e-3)
}
