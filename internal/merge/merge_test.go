package merge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann"
)

func r(d float32, p uint64) ann.Result { return ann.Result{Distance: d, Payload: p} }

func alwaysVisible(uint64) bool { return true }

func TestMergeKProducesGloballyAscendingStream(t *testing.T) {
	a := sliceStream([]ann.Result{r(1, 1), r(4, 2), r(9, 3)})
	b := sliceStream([]ann.Result{r(2, 4), r(3, 5), r(10, 6)})
	merged := MergeK([]Stream{a, b})

	var got []ann.Result
	for {
		res, ok := merged()
		if !ok {
			break
		}
		got = append(got, res)
	}
	require.Len(t, got, 6)
	for i := 1; i < len(got); i++ {
		require.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}
}

func TestBasicTruncatesToKAndPreservesOrder(t *testing.T) {
	sources := [][]ann.Result{
		{r(1, 1), r(5, 2)},
		{r(2, 3), r(6, 4)},
		{r(3, 5)},
	}
	out := Basic(sources, 3, alwaysVisible, true)
	require.Len(t, out, 3)
	require.Equal(t, []float32{1, 2, 3}, []float32{out[0].Distance, out[1].Distance, out[2].Distance})
}

func TestBasicPostFilterDropsInvisibleEntries(t *testing.T) {
	sources := [][]ann.Result{
		{r(1, 1), r(2, 2), r(3, 3)},
	}
	deleted := map[uint64]bool{2: true}
	filter := func(p uint64) bool { return !deleted[p] }

	out := Basic(sources, 2, filter, false)
	require.Len(t, out, 2)
	require.Equal(t, uint64(1), out[0].Payload)
	require.Equal(t, uint64(3), out[1].Payload)
}

func TestBasicPrefilterModeDoesNotReapplyFilter(t *testing.T) {
	sources := [][]ann.Result{
		{r(1, 1), r(2, 2)},
	}
	filter := func(uint64) bool { return false }

	out := Basic(sources, 2, filter, true)
	require.Len(t, out, 2, "prefilter=true means the merge stage trusts the sources, not filter")
}

func TestVbaseMergesTailsAndSortedPrefixes(t *testing.T) {
	tailA := []ann.Result{r(5, 10), r(6, 11)}
	posA := 0
	tailFnA := func() (ann.Result, bool) {
		if posA >= len(tailA) {
			return ann.Result{}, false
		}
		x := tailA[posA]
		posA++
		return x, true
	}

	sources := []VbaseSource{
		{Prefix: []ann.Result{r(1, 1), r(3, 2)}, Tail: tailFnA},
		{Prefix: []ann.Result{r(2, 3)}, Tail: func() (ann.Result, bool) { return ann.Result{}, false }},
	}

	prefix, tail := Vbase(sources, 3, alwaysVisible, true)
	require.Len(t, prefix, 3)
	require.Equal(t, []float32{1, 2, 3}, []float32{prefix[0].Distance, prefix[1].Distance, prefix[2].Distance})

	var rest []ann.Result
	for {
		res, ok := tail()
		if !ok {
			break
		}
		rest = append(rest, res)
	}
	require.Len(t, rest, 2)
	require.Equal(t, uint64(10), rest[0].Payload)
	require.Equal(t, uint64(11), rest[1].Payload)
}

func TestVbaseShortPrefixWhenSourcesExhausted(t *testing.T) {
	sources := []VbaseSource{
		{Prefix: []ann.Result{r(1, 1)}, Tail: func() (ann.Result, bool) { return ann.Result{}, false }},
	}
	prefix, tail := Vbase(sources, 5, alwaysVisible, true)
	require.Len(t, prefix, 1)
	_, ok := tail()
	require.False(t, ok)
}
