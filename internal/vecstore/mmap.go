// Package vecstore implements SPEC_FULL.md §4.B: dense and sparse vector
// storage as read-only, mmap-backed arrays of POD records with no padding,
// written little-endian (§6). Storage is append-only while a segment is
// growing and is only ever saved, then mapped read-only, once: sealed
// segments never mutate their backing files.
package vecstore

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mappedFile owns one read-only memory-mapped file. Close unmaps and closes
// the descriptor; a zero-length file maps to a nil, zero-length region.
type mappedFile struct {
	f    *os.File
	data []byte
}

func openMapped(path string) (*mappedFile, error) {
	f, err := os.Open(path) //nolint:gosec // path is constructed from the segment's own directory
	if err != nil {
		return nil, fmt.Errorf("vecstore: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("vecstore: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return &mappedFile{f: f}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("vecstore: mmap %s: %w", path, err)
	}
	return &mappedFile{f: f, data: data}, nil
}

func (m *mappedFile) Close() error {
	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
	}
	if cerr := m.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// writeFile writes data to path atomically: write to a temp file, fsync, then
// rename, matching the teacher's WAL checkpoint save pattern
// (internal/service/trace/wal.go's saveCheckpoint).
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // constructed path
	if err != nil {
		return fmt.Errorf("vecstore: create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("vecstore: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("vecstore: sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("vecstore: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("vecstore: rename %s: %w", path, err)
	}
	return nil
}
