// Package view implements SPEC_FULL.md §3's View snapshot: an immutable,
// reference-counted-by-GC tuple of the delete map handle plus the current
// sealed/growing segment sets and write target, swapped atomically by
// internal/index on every layout change. Grounded on the teacher's
// wal.go use of github.com/benbjohnson/immutable for its own segment-set
// snapshot (`immutable.SortedMap[uint64, segmentState]`), generalized
// here to two unordered maps keyed by segment id.
package view

import (
	"github.com/benbjohnson/immutable"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/deletemap"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/growing"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/sealed"
)

// View is one immutable snapshot: {delete_map_handle, sealed, growing,
// write} from §3. Options/path live on the owning internal/index.Index
// object, so a View is exactly the part of the Index's state
// that changes on every refresh/seal/merge.
type View struct {
	DeleteMap *deletemap.Map
	Sealed    *immutable.Map[string, *sealed.Segment]
	Growing   *immutable.Map[string, *growing.Segment]
	WriteID   string
	Write     *growing.Segment
}

// New returns an empty view with no sealed/growing segments and no write
// target, wrapping dm (typically the Index's single long-lived delete
// map handle).
func New(dm *deletemap.Map) *View {
	return &View{
		DeleteMap: dm,
		Sealed:    immutable.NewMap[string, *sealed.Segment](nil),
		Growing:   immutable.NewMap[string, *growing.Segment](nil),
	}
}

// WithSealed returns a new View with id bound to seg in the sealed set
// (structural sharing: unrelated id branches are not copied).
func (v *View) WithSealed(id string, seg *sealed.Segment) *View {
	next := *v
	next.Sealed = v.Sealed.Set(id, seg)
	return &next
}

// WithoutSealed returns a new View with id removed from the sealed set.
func (v *View) WithoutSealed(id string) *View {
	next := *v
	next.Sealed = v.Sealed.Delete(id)
	return &next
}

// WithGrowing returns a new View with id bound to seg in the growing set.
func (v *View) WithGrowing(id string, seg *growing.Segment) *View {
	next := *v
	next.Growing = v.Growing.Set(id, seg)
	return &next
}

// WithoutGrowing returns a new View with id removed from the growing set.
func (v *View) WithoutGrowing(id string) *View {
	next := *v
	next.Growing = v.Growing.Delete(id)
	return &next
}

// WithWrite returns a new View whose write target is (id, seg). Passing
// an empty id and nil seg clears the write target. The write segment is
// also expected to be present in the growing set under the same id.
func (v *View) WithWrite(id string, seg *growing.Segment) *View {
	next := *v
	next.WriteID = id
	next.Write = seg
	return &next
}

// GetSealed looks up a sealed segment by id.
func (v *View) GetSealed(id string) (*sealed.Segment, bool) { return v.Sealed.Get(id) }

// GetGrowing looks up a growing segment (the write segment included) by id.
func (v *View) GetGrowing(id string) (*growing.Segment, bool) { return v.Growing.Get(id) }

// EachSealed calls fn once per sealed segment. The visiting order is the
// hash map's iteration order, not sorted by id.
func (v *View) EachSealed(fn func(id string, seg *sealed.Segment)) {
	itr := v.Sealed.Iterator()
	for !itr.Done() {
		id, seg := itr.Next()
		fn(id, seg)
	}
}

// EachGrowing calls fn once per growing segment, the write segment
// included. The visiting order is the hash map's iteration order, not
// sorted by id.
func (v *View) EachGrowing(fn func(id string, seg *growing.Segment)) {
	itr := v.Growing.Iterator()
	for !itr.Done() {
		id, seg := itr.Next()
		fn(id, seg)
	}
}

// SealedLen reports how many sealed segments this view holds.
func (v *View) SealedLen() int { return v.Sealed.Len() }

// GrowingLen reports how many growing segments this view holds, the write
// segment included.
func (v *View) GrowingLen() int { return v.Growing.Len() }
