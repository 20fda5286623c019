package ivf

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	vecs [][]float32
	pay  []uint64
}

func (f *fakeStore) Len() uint32               { return uint32(len(f.vecs)) }
func (f *fakeStore) Vector(i uint32) []float32 { return f.vecs[i] }
func (f *fakeStore) Payload(i uint32) uint64   { return f.pay[i] }

func l2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func alwaysVisible(uint64) bool { return true }

func buildStore(n, dims int, rng *rand.Rand) *fakeStore {
	vecs := make([][]float32, n)
	pay := make([]uint64, n)
	for i := range vecs {
		v := make([]float32, dims)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		vecs[i] = v
		pay[i] = uint64(i)
	}
	return &fakeStore{vecs: vecs, pay: pay}
}

func TestNaiveIVFFindsNearestNeighbor(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	store := buildStore(500, 8, rng)
	idx := Train(store, Options{Nlist: 16, Nprobe: 8, Variant: Naive}, rng)

	query := store.Vector(42)
	results := idx.Basic(query, 5, 50, l2, alwaysVisible)
	require.NotEmpty(t, results)
	require.Equal(t, uint64(42), results[0].Payload)
	require.InDelta(t, float32(0), results[0].Distance, 1e-3)
}

func TestPQResidualIVFReturnsResults(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	store := buildStore(400, 16, rng)
	idx := Train(store, Options{Nlist: 10, Nprobe: 5, Variant: PQResidual, PQRatio: 4, PQBits: 4}, rng)

	results := idx.Basic(store.Vector(5), 3, 30, l2, alwaysVisible)
	require.Len(t, results, 3)
}

func TestPuckIVFReturnsResults(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	store := buildStore(400, 12, rng)
	idx := Train(store, Options{Nlist: 10, Nprobe: 5, Variant: Puck, FineNlist: 8, CoarseSearchCount: 4}, rng)

	results := idx.Basic(store.Vector(10), 3, 30, l2, alwaysVisible)
	require.Len(t, results, 3)
}

func TestVbaseReturnsEmptyTail(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	store := buildStore(100, 4, rng)
	idx := Train(store, Options{Nlist: 4, Nprobe: 2, Variant: Naive}, rng)

	_, tail := idx.Vbase(store.Vector(0), 5, l2, alwaysVisible)
	_, ok := tail()
	require.False(t, ok)
}

func TestFilterExcludesDeletedPayloads(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	store := buildStore(200, 4, rng)
	idx := Train(store, Options{Nlist: 8, Nprobe: 4, Variant: Naive}, rng)

	filter := func(p uint64) bool { return p != 3 }
	results := idx.Basic(store.Vector(3), 5, 20, l2, filter)
	for _, r := range results {
		require.NotEqual(t, uint64(3), r.Payload)
	}
}
