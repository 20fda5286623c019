// Package deletemap implements SPEC_FULL.md §4.D: the tombstone store that
// tracks, for every payload ever inserted, whether it has since been
// deleted. Deletion never removes a vector from its segment; it bumps that
// pointer's version so payloads packed with the old version stop matching
// Check. Grounded on the teacher's write-ahead log
// (internal/service/trace/wal.go) for the durability discipline, adapted
// here to a single always-appending WAL plus a bbolt-backed checkpoint
// snapshot that lets Open skip replaying the whole WAL history.
package deletemap

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"go.etcd.io/bbolt"
)

// Pointer mirrors engine.Pointer; deletemap sits below the root package in
// the import graph and cannot import it, so the 48-bit identifier is
// represented locally as a plain uint64.
type Pointer uint64

// Payload mirrors engine.Payload's packing: low 16 bits are a version, high
// 48 bits are the pointer.
type Payload uint64

const (
	versionBits = 16
	versionMask = (uint64(1) << versionBits) - 1
)

func (p Payload) Pointer() Pointer { return Pointer(uint64(p) >> versionBits) }
func (p Payload) Version() uint16  { return uint16(uint64(p) & versionMask) }

const numShards = 256

func shardOf(p Pointer) uint32 { return uint32(uint64(p)*2654435761) % numShards }

type shard struct {
	mu       sync.Mutex
	versions map[Pointer]uint16
}

// Map is the sharded concurrent tombstone store (§4.D).
type Map struct {
	shards [numShards]*shard

	walMu sync.Mutex
	wal   *wal

	bolt     *bbolt.DB
	boltPath string
}

var versionsBucket = []byte("versions")
var metaBucket = []byte("meta")
var walOffsetKey = []byte("wal_offset")

// Create initializes a fresh delete map at path (directory created if
// missing, bbolt checkpoint and WAL files empty).
func Create(path string) (*Map, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("deletemap: create dir: %w", err)
	}
	return open(path, true)
}

// Open reopens an existing delete map, replaying its WAL from the last
// bbolt checkpoint and truncating any trailing partial record left by a
// crash mid-append.
func Open(path string) (*Map, error) {
	return open(path, false)
}

func open(path string, fresh bool) (*Map, error) {
	m := &Map{boltPath: path}
	for i := range m.shards {
		m.shards[i] = &shard{versions: make(map[Pointer]uint16)}
	}

	db, err := bbolt.Open(path+"/checkpoint.db", 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("deletemap: open checkpoint: %w", err)
	}
	m.bolt = db

	var walOffset int64
	err = db.Update(func(tx *bbolt.Tx) error {
		vb, err := tx.CreateBucketIfNotExists(versionsBucket)
		if err != nil {
			return err
		}
		mb, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if !fresh {
			if err := vb.ForEach(func(k, v []byte) error {
				ptr := Pointer(binary.BigEndian.Uint64(k))
				ver := binary.BigEndian.Uint16(v)
				s := m.shards[shardOf(ptr)]
				s.versions[ptr] = ver
				return nil
			}); err != nil {
				return err
			}
			if raw := mb.Get(walOffsetKey); raw != nil {
				walOffset = int64(binary.BigEndian.Uint64(raw))
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("deletemap: load checkpoint: %w", err)
	}

	w, err := openWAL(path+"/delete.wal", walOffset, func(ptr Pointer) {
		s := m.shards[shardOf(ptr)]
		s.versions[ptr]++
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("deletemap: open wal: %w", err)
	}
	m.wal = w

	return m, nil
}

// Check reports whether payload is still live: its pointer's current
// version must equal the version packed into payload. A mismatch means the
// pointer has since been deleted (or re-inserted at a newer version) and
// the payload no longer denotes a visible row.
func (m *Map) Check(payload Payload) (Pointer, bool) {
	ptr := payload.Pointer()
	s := m.shards[shardOf(ptr)]
	s.mu.Lock()
	cur := s.versions[ptr]
	s.mu.Unlock()
	if cur != payload.Version() {
		return 0, false
	}
	return ptr, true
}

// Version returns the pointer's current version (0 if never deleted).
func (m *Map) Version(ptr Pointer) uint16 {
	s := m.shards[shardOf(ptr)]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[ptr]
}

// Delete bumps pointer's version and appends one WAL record before
// returning, so a subsequent Check immediately observes the tombstone. The
// record is not fsynced here; Flush makes it durable.
func (m *Map) Delete(ptr Pointer) error {
	s := m.shards[shardOf(ptr)]
	s.mu.Lock()
	s.versions[ptr]++
	s.mu.Unlock()

	m.walMu.Lock()
	defer m.walMu.Unlock()
	return m.wal.append(ptr)
}

// Flush fsyncs the WAL, guaranteeing every prior Delete is durable (§4.D
// invariant: "after flush() returns, all prior delete effects are
// durable").
func (m *Map) Flush() error {
	m.walMu.Lock()
	defer m.walMu.Unlock()
	return m.wal.sync()
}

// Checkpoint snapshots the in-memory version map into bbolt and truncates
// the WAL, bounding replay cost on the next Open. Not part of the minimal
// §4.D operation set but cheap insurance the optimizer can call between
// merge cycles.
func (m *Map) Checkpoint() error {
	m.walMu.Lock()
	defer m.walMu.Unlock()

	if err := m.wal.sync(); err != nil {
		return err
	}

	err := m.bolt.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(versionsBucket); err != nil {
			return err
		}
		vb, err := tx.CreateBucket(versionsBucket)
		if err != nil {
			return err
		}
		for i := range m.shards {
			s := m.shards[i]
			s.mu.Lock()
			for ptr, ver := range s.versions {
				var key [8]byte
				binary.BigEndian.PutUint64(key[:], uint64(ptr))
				var val [2]byte
				binary.BigEndian.PutUint16(val[:], ver)
				if err := vb.Put(key[:], val[:]); err != nil {
					s.mu.Unlock()
					return err
				}
			}
			s.mu.Unlock()
		}
		mb := tx.Bucket(metaBucket)
		var offBuf [8]byte
		binary.BigEndian.PutUint64(offBuf[:], 0)
		return mb.Put(walOffsetKey, offBuf[:])
	})
	if err != nil {
		return fmt.Errorf("deletemap: checkpoint snapshot: %w", err)
	}
	return m.wal.truncate()
}

// Len returns the total number of tombstoned pointers, used by
// engine.IndexStat.DeleteMapLen.
func (m *Map) Len() int {
	var n int
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.versions)
		s.mu.Unlock()
	}
	return n
}

// Close flushes and releases the WAL and checkpoint handles.
func (m *Map) Close() error {
	m.walMu.Lock()
	werr := m.wal.close()
	m.walMu.Unlock()
	berr := m.bolt.Close()
	if werr != nil {
		return werr
	}
	return berr
}
