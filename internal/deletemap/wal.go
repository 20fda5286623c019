package deletemap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// wal is a single always-appending log of delete records, one fixed-format
// {pointer(8)} entry per record plus a CRC32C trailer, grounded on the
// teacher's record framing in internal/service/trace/wal.go's Write/
// readSegment (magic header, per-record checksum, truncate-on-corruption
// recovery) but without segment rotation — deletemap's WAL is bounded by
// Checkpoint, not by size.
type wal struct {
	f *os.File
}

const (
	walMagic  = 0x444D4157 // "DMAW" — DeleteMap WAL
	walRecLen = 8 + 4      // pointer(8) + crc32(4)
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// openWAL opens (creating if absent) the WAL at path, replays records past
// offset via onRecord, and truncates any trailing partial record.
func openWAL(path string, offset int64, onRecord func(Pointer)) (*wal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // path from validated index directory
	if err != nil {
		return nil, fmt.Errorf("deletemap: open wal file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("deletemap: stat wal file: %w", err)
	}

	if info.Size() == 0 {
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], walMagic)
		if _, err := f.Write(hdr[:]); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("deletemap: write wal header: %w", err)
		}
	} else {
		var hdr [4]byte
		if _, err := f.ReadAt(hdr[:], 0); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("deletemap: read wal header: %w", err)
		}
		if binary.BigEndian.Uint32(hdr[:]) != walMagic {
			_ = f.Close()
			return nil, errors.New("deletemap: bad wal magic")
		}
	}

	start := int64(4)
	if offset > start {
		start = offset
	}

	validEnd, err := replay(f, start, onRecord)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if validEnd != info.Size() {
		if err := f.Truncate(validEnd); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("deletemap: truncate partial record: %w", err)
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("deletemap: seek to wal tail: %w", err)
	}

	return &wal{f: f}, nil
}

// replay reads fixed-format records from start to EOF, invoking onRecord
// for each intact one, and returns the byte offset just past the last
// intact record (i.e. where any trailing partial record begins).
func replay(f *os.File, start int64, onRecord func(Pointer)) (int64, error) {
	pos := start
	buf := make([]byte, walRecLen)
	for {
		n, err := f.ReadAt(buf, pos)
		if n == walRecLen {
			ptr := binary.BigEndian.Uint64(buf[0:8])
			want := binary.BigEndian.Uint32(buf[8:12])
			got := crc32.Checksum(buf[0:8], crc32cTable)
			if want != got {
				return pos, nil // corrupt record: treat as the truncation point
			}
			onRecord(Pointer(ptr))
			pos += walRecLen
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return pos, nil
		}
		if err != nil {
			return pos, fmt.Errorf("deletemap: replay wal: %w", err)
		}
		return pos, nil
	}
}

func (w *wal) append(ptr Pointer) error {
	var buf [walRecLen]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(ptr))
	binary.BigEndian.PutUint32(buf[8:12], crc32.Checksum(buf[0:8], crc32cTable))
	_, err := w.f.Write(buf[:])
	if err != nil {
		return fmt.Errorf("deletemap: append wal record: %w", err)
	}
	return nil
}

func (w *wal) sync() error {
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("deletemap: sync wal: %w", err)
	}
	return nil
}

func (w *wal) truncate() error {
	if err := w.f.Truncate(4); err != nil {
		return fmt.Errorf("deletemap: truncate wal: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("deletemap: seek after truncate: %w", err)
	}
	return nil
}

func (w *wal) close() error {
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("deletemap: final sync: %w", err)
	}
	return w.f.Close()
}
