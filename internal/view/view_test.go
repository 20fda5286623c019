package view

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/deletemap"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/growing"
)

func newDeleteMap(t *testing.T) *deletemap.Map {
	t.Helper()
	dm, err := deletemap.Create(filepath.Join(t.TempDir(), "delete"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })
	return dm
}

func newGrowingSegment(t *testing.T) *growing.Segment {
	t.Helper()
	seg, err := growing.New(filepath.Join(t.TempDir(), "growing.wal"), 4, 10)
	require.NoError(t, err)
	return seg
}

func TestNewViewStartsEmpty(t *testing.T) {
	v := New(newDeleteMap(t))
	require.Equal(t, 0, v.SealedLen())
	require.Equal(t, 0, v.GrowingLen())
	require.Nil(t, v.Write)
}

func TestWithGrowingIsImmutableAndAdditive(t *testing.T) {
	v0 := New(newDeleteMap(t))
	seg := newGrowingSegment(t)

	v1 := v0.WithGrowing("g1", seg)
	require.Equal(t, 0, v0.GrowingLen(), "original view must be untouched")
	require.Equal(t, 1, v1.GrowingLen())

	got, ok := v1.GetGrowing("g1")
	require.True(t, ok)
	require.Same(t, seg, got)
}

func TestWithoutGrowingRemovesOnlyThatID(t *testing.T) {
	v := New(newDeleteMap(t))
	segA := newGrowingSegment(t)
	segB := newGrowingSegment(t)
	v = v.WithGrowing("a", segA).WithGrowing("b", segB)

	v2 := v.WithoutGrowing("a")
	require.Equal(t, 1, v2.GrowingLen())
	_, ok := v2.GetGrowing("a")
	require.False(t, ok)
	_, ok = v2.GetGrowing("b")
	require.True(t, ok)
	require.Equal(t, 2, v.GrowingLen(), "prior view must still see both")
}

func TestWithWriteSetsAndClearsTarget(t *testing.T) {
	v := New(newDeleteMap(t))
	seg := newGrowingSegment(t)

	v1 := v.WithWrite("w1", seg)
	require.Equal(t, "w1", v1.WriteID)
	require.Same(t, seg, v1.Write)

	v2 := v1.WithWrite("", nil)
	require.Empty(t, v2.WriteID)
	require.Nil(t, v2.Write)
}

func TestEachGrowingVisitsEverySegment(t *testing.T) {
	v := New(newDeleteMap(t))
	segA := newGrowingSegment(t)
	segB := newGrowingSegment(t)
	v = v.WithGrowing("a", segA).WithGrowing("b", segB)

	seen := map[string]bool{}
	v.EachGrowing(func(id string, seg *growing.Segment) { seen[id] = true })
	require.True(t, seen["a"])
	require.True(t, seen["b"])
	require.Len(t, seen, 2)
}
