package index

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/deletemap"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/growing"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/merge"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/sealed"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/vecstore"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/view"
)

// Index is the on-disk composition root for one index: its options, delete
// map, and the atomically-swapped *view.View every search/insert reads.
// Structural changes (seal, refresh, merge) go through protect, which
// mirrors the teacher's own single composition-root mutex guarding its
// subsystem wiring in akashi.go; steady-state reads never take it.
type Index struct {
	path string
	cfg  Config

	dm *deletemap.Map

	protect sync.Mutex
	current atomic.Pointer[view.View]

	// instantIndex/instantWrite are monotonic nanosecond timestamps
	// (original_source/crates/service/src/index/mod.rs's instant_index /
	// instant_write pair). instantWrite is read through IdleNanos, which the
	// sealing optimizer compares against OptimizingWaitingSecs to decide
	// whether the write segment has been idle long enough to refresh;
	// instantIndex is set on every Refresh but is not read.
	instantIndex atomic.Int64
	instantWrite atomic.Int64

	pendingWALBytes atomic.Int64
}

// Create initializes a fresh index directory at path with cfg, and opens
// its first write segment.
func Create(path string, cfg Config) (*Index, error) {
	cfg = cfg.withDefaults()
	if cfg.Dims == 0 {
		return nil, fmt.Errorf("index: dims must be > 0")
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("index: create %s: %w", path, err)
	}
	idx := &Index{path: path, cfg: cfg}

	segmentsDir := idx.segmentsDir()
	if err := os.MkdirAll(segmentsDir, 0o755); err != nil {
		return nil, fmt.Errorf("index: create %s: %w", segmentsDir, err)
	}

	dm, err := deletemap.Create(idx.deleteDir())
	if err != nil {
		return nil, fmt.Errorf("index: create delete map: %w", err)
	}
	idx.dm = dm

	if err := writeOptions(idx.optionsPath(), cfg); err != nil {
		return nil, err
	}

	v := view.New(dm)
	idx.current.Store(v)
	now := time.Now().UnixNano()
	idx.instantIndex.Store(now)
	idx.instantWrite.Store(now)

	if err := idx.Refresh(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Open reopens an existing index directory: its options, delete map, and
// every segment named in its manifest (sealed segments are retrained
// in-memory from their persisted raw vector store rather than having
// their ANN structure itself serialized — see DESIGN.md).
func Open(path string) (*Index, error) {
	idx := &Index{path: path}

	cfg, err := readOptions(idx.optionsPath())
	if err != nil {
		return nil, err
	}
	idx.cfg = cfg

	man, err := readManifest(idx.manifestPath())
	if err != nil {
		return nil, err
	}

	dm, err := deletemap.Open(idx.deleteDir())
	if err != nil {
		return nil, fmt.Errorf("index: open delete map: %w", err)
	}
	idx.dm = dm

	v := view.New(dm)
	for _, id := range man.Sealed {
		seg, err := idx.reopenSealed(id)
		if err != nil {
			return nil, fmt.Errorf("index: reopen sealed %s: %w", id, err)
		}
		v = v.WithSealed(id, seg)
	}
	for _, id := range man.Growing {
		seg, err := growing.Open(idx.growingWALPath(id), int(idx.cfg.Dims), idx.cfg.MaxGrowingSegmentSize)
		if err != nil {
			return nil, fmt.Errorf("index: reopen growing %s: %w", id, err)
		}
		v = v.WithGrowing(id, seg)
		if id == man.WriteID {
			v = v.WithWrite(id, seg)
		}
	}

	idx.current.Store(v)
	now := time.Now().UnixNano()
	idx.instantIndex.Store(now)
	idx.instantWrite.Store(now)

	if v.Write == nil {
		if err := idx.Refresh(); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (idx *Index) reopenSealed(id string) (*sealed.Segment, error) {
	dir := idx.segmentDir(id)
	dense, err := vecstore.OpenDense(dir, int(idx.cfg.Dims))
	if err != nil {
		return nil, err
	}
	annIdx := trainAnn(idx.cfg, dense, idx.rng())
	return sealed.New(annIdx, dense), nil
}

func (idx *Index) rng() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// View returns the current immutable snapshot. Callers hold onto the
// returned pointer for the duration of one query/insert; a concurrent
// Refresh never mutates it, only swaps idx.current to a new one.
func (idx *Index) View() *view.View { return idx.current.Load() }

// Path returns the index's root directory.
func (idx *Index) Path() string { return idx.path }

// Config returns the index's options.
func (idx *Index) Config() Config { return idx.cfg }

// Insert appends vector/payload to the current write segment, rotating to
// a fresh one (via Refresh) whenever the active one reports full — the
// retry loop is bounded by the number of live writers that could have
// raced ahead of us, in practice at most one or two iterations.
func (idx *Index) Insert(vector []float32, payload uint64) error {
	if len(vector) != int(idx.cfg.Dims) {
		return fmt.Errorf("index: insert vector has %d dims, want %d", len(vector), idx.cfg.Dims)
	}
	for {
		v := idx.View()
		if v.Write == nil {
			if err := idx.Refresh(); err != nil {
				return err
			}
			continue
		}
		err := v.Write.Insert(vector, payload)
		if err == nil {
			idx.instantWrite.Store(time.Now().UnixNano())
			idx.pendingWALBytes.Add(int64(idx.cfg.Dims)*4 + 16)
			return nil
		}
		if _, full := err.(growing.ErrSegmentFull); full {
			if err := idx.Refresh(); err != nil {
				return err
			}
			continue
		}
		return err
	}
}

// Delete tombstones ptr in the delete map (§4.D); it never touches any
// segment directly.
func (idx *Index) Delete(ptr uint64) error {
	if err := idx.dm.Delete(deletemap.Pointer(ptr)); err != nil {
		return err
	}
	idx.instantWrite.Store(time.Now().UnixNano())
	return nil
}

// Refresh seals the current write segment (if any) into a new sealed
// segment and installs a fresh growing segment as the write target,
// publishing the result as one atomic view swap (§4.I).
func (idx *Index) Refresh() error {
	idx.protect.Lock()
	defer idx.protect.Unlock()

	v := idx.View()
	next := v

	if v != nil && v.Write != nil && v.WriteID != "" {
		sealedSeg, err := idx.sealGrowing(v.WriteID, v.Write)
		if err != nil {
			return fmt.Errorf("index: seal %s: %w", v.WriteID, err)
		}
		next = next.WithoutGrowing(v.WriteID).WithSealed(v.WriteID, sealedSeg)
	}

	newID := uuid.New().String()
	if err := os.MkdirAll(idx.segmentDir(newID), 0o755); err != nil {
		return fmt.Errorf("index: create segment dir %s: %w", newID, err)
	}
	newSeg, err := growing.New(idx.growingWALPath(newID), int(idx.cfg.Dims), idx.cfg.MaxGrowingSegmentSize)
	if err != nil {
		return fmt.Errorf("index: open growing %s: %w", newID, err)
	}
	next = next.WithGrowing(newID, newSeg).WithWrite(newID, newSeg)

	if err := idx.persistManifest(next); err != nil {
		return err
	}

	idx.current.Store(next)
	now := time.Now().UnixNano()
	idx.instantIndex.Store(now)
	idx.instantWrite.Store(now)
	idx.pendingWALBytes.Store(0)
	return nil
}

func (idx *Index) sealGrowing(id string, seg *growing.Segment) (*sealed.Segment, error) {
	if err := seg.Seal(); err != nil {
		return nil, err
	}
	dense, err := vecstore.BuildDense(idx.segmentDir(id), int(idx.cfg.Dims), seg)
	if err != nil {
		return nil, err
	}
	annIdx := trainAnn(idx.cfg, dense, idx.rng())
	return sealed.New(annIdx, dense), nil
}

// MergeSealed folds the sealed segments named by ids into one new sealed
// segment and publishes the swap — the indexing optimizer's sort-pack-merge
// step (§4.J). It does not check MaxSealedSegmentSize itself; the optimizer
// picks ids whose total length stays within it. Segments not present
// in the current view are silently skipped (already merged by a racing
// call).
func (idx *Index) MergeSealed(ids []string) (string, error) {
	idx.protect.Lock()
	defer idx.protect.Unlock()

	v := idx.View()
	var sources []*sealed.Segment
	var found []string
	for _, id := range ids {
		seg, ok := v.GetSealed(id)
		if !ok {
			continue
		}
		sources = append(sources, seg)
		found = append(found, id)
	}
	if len(sources) < 2 {
		return "", nil
	}

	newID := uuid.New().String()
	if err := os.MkdirAll(idx.segmentDir(newID), 0o755); err != nil {
		return "", fmt.Errorf("index: create merge dir %s: %w", newID, err)
	}

	merged := &mergedSource{segments: sources}
	dense, err := vecstore.BuildDense(idx.segmentDir(newID), int(idx.cfg.Dims), merged)
	if err != nil {
		return "", fmt.Errorf("index: materialize merged segment: %w", err)
	}
	annIdx := trainAnn(idx.cfg, dense, idx.rng())
	newSeg := sealed.New(annIdx, dense)

	next := v
	for _, id := range found {
		next = next.WithoutSealed(id)
	}
	next = next.WithSealed(newID, newSeg)

	if err := idx.persistManifest(next); err != nil {
		return "", err
	}
	idx.current.Store(next)
	idx.instantIndex.Store(time.Now().UnixNano())

	for _, id := range found {
		_ = os.RemoveAll(idx.segmentDir(id))
	}
	return newID, nil
}

// mergedSource concatenates several sealed segments' raw rows into one
// vecstore.DenseSource, matching §4.G's "a stream produced by
// concatenating source segments' vectors" merge-training contract.
type mergedSource struct {
	segments []*sealed.Segment
}

func (m *mergedSource) Len() uint32 {
	var n uint32
	for _, s := range m.segments {
		n += s.Len()
	}
	return n
}

func (m *mergedSource) locate(i uint32) (*sealed.Segment, uint32) {
	for _, s := range m.segments {
		if i < s.Len() {
			return s, i
		}
		i -= s.Len()
	}
	panic("index: merged source row index out of bounds")
}

func (m *mergedSource) Vector(i uint32) []float32 {
	s, local := m.locate(i)
	return s.Vector(local)
}

func (m *mergedSource) Payload(i uint32) uint64 {
	s, local := m.locate(i)
	return s.Payload(local)
}

// visibleFilter wraps the delete map's Check with any caller predicate,
// the combined ann.Filter passed to every segment's Basic/Vbase.
func (idx *Index) visibleFilter(extra func(uint64) bool) ann.Filter {
	return func(payload uint64) bool {
		if _, ok := idx.dm.Check(deletemap.Payload(payload)); !ok {
			return false
		}
		if extra != nil {
			return extra(payload)
		}
		return true
	}
}

// Basic runs a bounded top-k query across every segment in the current
// view and merges the per-segment results (§4.H Basic mode).
func (idx *Index) Basic(query []float32, k, rerankSize int, extra func(uint64) bool) []ann.Result {
	v := idx.View()
	distance := idx.cfg.distanceFunc()
	filter := idx.visibleFilter(extra)

	var sources [][]ann.Result
	v.EachSealed(func(_ string, seg *sealed.Segment) {
		sources = append(sources, seg.Basic(query, k, rerankSize, distance, filter))
	})
	v.EachGrowing(func(_ string, seg *growing.Segment) {
		sources = append(sources, growingToAnn(seg.Basic(query, k, growing.DistanceFunc(distance), growing.Filter(filter))))
	})
	return merge.Basic(sources, k, filter, true)
}

// Vbase runs a streaming range query across every segment in the current
// view (§4.H Vbase mode), returning an eager prefix plus a lazy tail.
func (idx *Index) Vbase(query []float32, rangeHint int, extra func(uint64) bool) ([]ann.Result, ann.TailIterator) {
	v := idx.View()
	distance := idx.cfg.distanceFunc()
	filter := idx.visibleFilter(extra)

	var sources []merge.VbaseSource
	v.EachSealed(func(_ string, seg *sealed.Segment) {
		prefix, tail := seg.Vbase(query, rangeHint, distance, filter)
		sources = append(sources, merge.VbaseSource{Prefix: prefix, Tail: tail})
	})
	v.EachGrowing(func(_ string, seg *growing.Segment) {
		prefix, tail := seg.Vbase(query, rangeHint, growing.DistanceFunc(distance), growing.Filter(filter))
		sources = append(sources, merge.VbaseSource{Prefix: growingToAnn(prefix), Tail: growingTailToAnn(tail)})
	})
	return merge.Vbase(sources, rangeHint, filter, true)
}

func growingToAnn(rs []growing.Result) []ann.Result {
	out := make([]ann.Result, len(rs))
	for i, r := range rs {
		out[i] = ann.Result{Distance: r.Distance, Payload: r.Payload}
	}
	return out
}

func growingTailToAnn(tail func() (growing.Result, bool)) ann.TailIterator {
	return func() (ann.Result, bool) {
		r, ok := tail()
		if !ok {
			return ann.Result{}, false
		}
		return ann.Result{Distance: r.Distance, Payload: r.Payload}, true
	}
}

// Stat reports the current shape of the index (§4.I) for monitoring.
type Stat struct {
	Sealed       []SegmentStat
	Growing      []SegmentStat
	Write        *SegmentStat
	DeleteMapLen int
}

// SegmentStat describes one segment.
type SegmentStat struct {
	ID     string
	Type   string
	Length uint32
}

// Stat snapshots every segment's identity and row count.
func (idx *Index) Stat() Stat {
	v := idx.View()
	var st Stat
	v.EachSealed(func(id string, seg *sealed.Segment) {
		st.Sealed = append(st.Sealed, SegmentStat{ID: id, Type: "sealed", Length: seg.Len()})
	})
	v.EachGrowing(func(id string, seg *growing.Segment) {
		typ := "growing"
		if id == v.WriteID {
			typ = "write"
		}
		s := SegmentStat{ID: id, Type: typ, Length: seg.Len()}
		if typ == "write" {
			st.Write = &s
		} else {
			st.Growing = append(st.Growing, s)
		}
	})
	st.DeleteMapLen = idx.dm.Len()
	return st
}

// SealedSegmentCount satisfies telemetry.StatSource.
func (idx *Index) SealedSegmentCount() int { return idx.View().SealedLen() }

// GrowingSegmentCount satisfies telemetry.StatSource (excludes the write
// segment, matching §4.I's distinction between "growing" and "write").
func (idx *Index) GrowingSegmentCount() int {
	v := idx.View()
	n := v.GrowingLen()
	if v.Write != nil {
		n--
	}
	return n
}

// DeleteMapSize satisfies telemetry.StatSource.
func (idx *Index) DeleteMapSize() int { return idx.dm.Len() }

// DeleteMapVersion returns ptr's current stored version in the delete map
// (0 if ptr has never been deleted). A fresh Insert must stamp its payload
// with this value rather than a hardcoded 0, so that re-inserting a
// previously-deleted pointer produces a payload that again matches the
// stored version and is visible to Check (§4.D).
func (idx *Index) DeleteMapVersion(ptr uint64) uint16 {
	return idx.dm.Version(deletemap.Pointer(ptr))
}

// WALPendingBytes satisfies telemetry.StatSource: bytes appended to the
// write segment's WAL since the last Refresh rotated it out.
func (idx *Index) WALPendingBytes() int64 { return idx.pendingWALBytes.Load() }

// IdleNanos reports how long the write segment has gone without an
// insert, the sealing optimizer's refresh trigger (§4.J).
func (idx *Index) IdleNanos() int64 {
	return time.Now().UnixNano() - idx.instantWrite.Load()
}

// Flush fsyncs the delete map's WAL and syncs the current write segment's
// WAL. It does not write a delete-map checkpoint.
func (idx *Index) Flush() error {
	if err := idx.dm.Flush(); err != nil {
		return err
	}
	v := idx.View()
	if v.Write != nil {
		return v.Write.Flush()
	}
	return nil
}

// Close flushes and releases the delete map; segment files remain on disk
// for the next Open.
func (idx *Index) Close() error {
	return idx.dm.Close()
}
