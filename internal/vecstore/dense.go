package vecstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
)

// DenseSource is any finite stream of dense vectors + payloads a Dense store
// can be built from — satisfied by growing.Segment and Dense itself, so
// sealed segments can be trained/saved from a concatenation of sources
// (§4.G: "a stream produced by concatenating source segments' vectors").
type DenseSource interface {
	Len() uint32
	Vector(i uint32) []float32
	Payload(i uint32) uint64
}

// Dense is a read-only, mmap-backed store of n fixed-width f32 vectors plus n
// payloads (§4.B). Element width is always 4 bytes on disk regardless of the
// index's configured Kind — Vecf16 storage round-trips through kernel.Float16
// encode/decode at the edges (quantizers operate on the decoded f32 form).
type Dense struct {
	dims    int
	n       uint32
	vectors *mappedFile
	payload *mappedFile
}

const payloadRecordSize = 8 // one little-endian uint64 per row

// BuildDense materializes a Dense store in dir from src, writing the files
// vectors and payload directly in dir (there is no raw/ subdirectory), then
// mapping both read-only.
func BuildDense(dir string, dims int, src DenseSource) (*Dense, error) {
	n := src.Len()
	vecBuf := make([]byte, int(n)*dims*4)
	payBuf := make([]byte, int(n)*payloadRecordSize)
	for i := uint32(0); i < n; i++ {
		v := src.Vector(i)
		if len(v) != dims {
			return nil, fmt.Errorf("vecstore: row %d has %d dims, want %d", i, len(v), dims)
		}
		off := int(i) * dims * 4
		for j, x := range v {
			binary.LittleEndian.PutUint32(vecBuf[off+j*4:], math.Float32bits(x))
		}
		binary.LittleEndian.PutUint64(payBuf[int(i)*payloadRecordSize:], src.Payload(i))
	}
	if err := writeFile(filepath.Join(dir, "vectors"), vecBuf); err != nil {
		return nil, err
	}
	if err := writeFile(filepath.Join(dir, "payload"), payBuf); err != nil {
		return nil, err
	}
	return OpenDense(dir, dims)
}

// OpenDense maps an existing {vectors,payload} pair in dir.
func OpenDense(dir string, dims int) (*Dense, error) {
	vectors, err := openMapped(filepath.Join(dir, "vectors"))
	if err != nil {
		return nil, err
	}
	payload, err := openMapped(filepath.Join(dir, "payload"))
	if err != nil {
		_ = vectors.Close()
		return nil, err
	}
	n := uint32(0)
	if dims > 0 {
		n = uint32(len(vectors.data) / (dims * 4))
	}
	return &Dense{dims: dims, n: n, vectors: vectors, payload: payload}, nil
}

// Close unmaps both backing files.
func (d *Dense) Close() error {
	err := d.vectors.Close()
	if perr := d.payload.Close(); perr != nil && err == nil {
		err = perr
	}
	return err
}

// Len returns the number of stored rows.
func (d *Dense) Len() uint32 { return d.n }

// Vector returns a freshly decoded copy of row i (O(1); copies dims*4 bytes
// out of the mapped region since the mapping is read-only and kernels expect
// a plain []float32).
func (d *Dense) Vector(i uint32) []float32 {
	if i >= d.n {
		panic("vecstore: dense vector index out of bounds")
	}
	out := make([]float32, d.dims)
	off := int(i) * d.dims * 4
	for j := range out {
		out[j] = math.Float32frombits(binary.LittleEndian.Uint32(d.vectors.data[off+j*4:]))
	}
	return out
}

// Payload returns the packed payload at row i.
func (d *Dense) Payload(i uint32) uint64 {
	if i >= d.n {
		panic("vecstore: dense payload index out of bounds")
	}
	return binary.LittleEndian.Uint64(d.payload.data[int(i)*payloadRecordSize:])
}
