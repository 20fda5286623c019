package diskann

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

func TestTrainAndBasicFindsNearestNeighbor(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	store := buildStore(300, 8, rng)
	idx := Train(store, Options{R: 16, L: 40, Alpha: 1.2, Random: rand.New(rand.NewSource(9))}, l2)

	query := store.Vector(55)
	results := idx.Basic(query, 5, 50, l2, alwaysVisible)
	require.NotEmpty(t, results)
	require.Equal(t, uint64(55), results[0].Payload)
	require.InDelta(t, float32(0), results[0].Distance, 1e-4)
}

func TestBasicReturnsAtMostK(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	store := buildStore(200, 6, rng)
	idx := Train(store, Options{R: 12, L: 30}, l2)

	results := idx.Basic(store.Vector(0), 3, 20, l2, alwaysVisible)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		require.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestFilterExcludesDeletedPayloads(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	store := buildStore(150, 6, rng)
	idx := Train(store, Options{R: 12, L: 30}, l2)

	filter := func(p uint64) bool { return p != 7 }
	results := idx.Basic(store.Vector(7), 5, 30, l2, filter)
	for _, r := range results {
		require.NotEqual(t, uint64(7), r.Payload)
	}
}

func TestVbasePrefixAndTailCoverDistinctResults(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	store := buildStore(200, 6, rng)
	idx := Train(store, Options{R: 12, L: 40}, l2)

	prefix, tail := idx.Vbase(store.Vector(5), 4, l2, alwaysVisible)
	require.LessOrEqual(t, len(prefix), 4)

	seen := map[uint64]bool{}
	for _, r := range prefix {
		seen[r.Payload] = true
	}
	for {
		r, ok := tail()
		if !ok {
			break
		}
		require.False(t, seen[r.Payload], "tail repeated a payload already in the prefix")
		seen[r.Payload] = true
	}
}

func TestEmptyIndexReturnsNoResults(t *testing.T) {
	store := &fakeStore{}
	idx := Train(store, Options{R: 12, L: 30}, l2)

	results := idx.Basic([]float32{0, 0}, 5, 10, l2, alwaysVisible)
	require.Empty(t, results)
}

func TestEveryVertexRespectsOutDegreeCap(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	store := buildStore(100, 4, rng)
	idx := Train(store, Options{R: 8, L: 20}, l2)

	for _, edges := range idx.adjacency {
		require.LessOrEqual(t, len(edges), 8)
	}
}
