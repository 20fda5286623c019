package vecstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
)

// SparseRow is one sparse vector: strictly increasing indices and parallel values.
type SparseRow struct {
	Indices []uint32
	Values  []float32
}

// SparseSource mirrors DenseSource for sparse vectors.
type SparseSource interface {
	Len() uint32
	SparseVector(i uint32) SparseRow
	Payload(i uint32) uint64
}

// Sparse is a read-only, mmap-backed store of n sparse vectors: concatenated
// values and indices plus an offsets[n+1] array delimiting row i as
// [offsets[i], offsets[i+1]) (§4.B).
type Sparse struct {
	n       uint32
	offsets []uint32 // decoded once at open; small relative to values/indices
	values  *mappedFile
	indices *mappedFile
	payload *mappedFile
}

// BuildSparse materializes a Sparse store under dir from src.
func BuildSparse(dir string, src SparseSource) (*Sparse, error) {
	n := src.Len()
	offsets := make([]uint32, n+1)
	var total uint32
	rows := make([]SparseRow, n)
	for i := uint32(0); i < n; i++ {
		rows[i] = src.SparseVector(i)
		offsets[i] = total
		total += uint32(len(rows[i].Indices))
	}
	offsets[n] = total

	valBuf := make([]byte, int(total)*4)
	idxBuf := make([]byte, int(total)*4)
	payBuf := make([]byte, int(n)*payloadRecordSize)
	pos := uint32(0)
	for i, row := range rows {
		for j, ix := range row.Indices {
			binary.LittleEndian.PutUint32(idxBuf[int(pos+uint32(j))*4:], ix)
			binary.LittleEndian.PutUint32(valBuf[int(pos+uint32(j))*4:], math.Float32bits(row.Values[j]))
		}
		pos += uint32(len(row.Indices))
		binary.LittleEndian.PutUint64(payBuf[i*payloadRecordSize:], src.Payload(uint32(i)))
	}

	offBuf := make([]byte, len(offsets)*4)
	for i, o := range offsets {
		binary.LittleEndian.PutUint32(offBuf[i*4:], o)
	}

	if err := writeFile(filepath.Join(dir, "offsets"), offBuf); err != nil {
		return nil, err
	}
	if err := writeFile(filepath.Join(dir, "values"), valBuf); err != nil {
		return nil, err
	}
	if err := writeFile(filepath.Join(dir, "indices"), idxBuf); err != nil {
		return nil, err
	}
	if err := writeFile(filepath.Join(dir, "payload"), payBuf); err != nil {
		return nil, err
	}
	return OpenSparse(dir)
}

// OpenSparse maps an existing {offsets,values,indices,payload} set in dir.
func OpenSparse(dir string) (*Sparse, error) {
	offData, err := openMapped(filepath.Join(dir, "offsets"))
	if err != nil {
		return nil, err
	}
	values, err := openMapped(filepath.Join(dir, "values"))
	if err != nil {
		_ = offData.Close()
		return nil, err
	}
	indices, err := openMapped(filepath.Join(dir, "indices"))
	if err != nil {
		_ = offData.Close()
		_ = values.Close()
		return nil, err
	}
	payload, err := openMapped(filepath.Join(dir, "payload"))
	if err != nil {
		_ = offData.Close()
		_ = values.Close()
		_ = indices.Close()
		return nil, err
	}

	numOffsets := len(offData.data) / 4
	offsets := make([]uint32, numOffsets)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(offData.data[i*4:])
	}
	_ = offData.Close() // decoded eagerly; the mapping itself isn't retained

	var n uint32
	if numOffsets > 0 {
		n = uint32(numOffsets - 1)
	}
	return &Sparse{n: n, offsets: offsets, values: values, indices: indices, payload: payload}, nil
}

func (s *Sparse) Close() error {
	err := s.values.Close()
	if ierr := s.indices.Close(); ierr != nil && err == nil {
		err = ierr
	}
	if perr := s.payload.Close(); perr != nil && err == nil {
		err = perr
	}
	return err
}

func (s *Sparse) Len() uint32 { return s.n }

// Vector returns row i's indices and values (freshly decoded copies).
func (s *Sparse) Vector(i uint32) SparseRow {
	if i >= s.n {
		panic("vecstore: sparse vector index out of bounds")
	}
	start, end := s.offsets[i], s.offsets[i+1]
	idx := make([]uint32, end-start)
	val := make([]float32, end-start)
	for j := range idx {
		off := int(start+uint32(j)) * 4
		idx[j] = binary.LittleEndian.Uint32(s.indices.data[off:])
		val[j] = math.Float32frombits(binary.LittleEndian.Uint32(s.values.data[off:]))
	}
	return SparseRow{Indices: idx, Values: val}
}

func (s *Sparse) Payload(i uint32) uint64 {
	if i >= s.n {
		panic("vecstore: sparse payload index out of bounds")
	}
	return binary.LittleEndian.Uint64(s.payload.data[int(i)*payloadRecordSize:])
}

// ValidateSparse checks indices are strictly increasing and bounded by dims,
// enforcing the §3 invariant at insert time.
func ValidateSparse(row SparseRow, dims int) error {
	if len(row.Indices) != len(row.Values) {
		return fmt.Errorf("vecstore: sparse row has %d indices but %d values", len(row.Indices), len(row.Values))
	}
	var prev int64 = -1
	for _, ix := range row.Indices {
		if int64(ix) <= prev {
			return fmt.Errorf("vecstore: sparse indices must be strictly increasing, got %d after %d", ix, prev)
		}
		if int(ix) >= dims {
			return fmt.Errorf("vecstore: sparse index %d out of bounds for dims %d", ix, dims)
		}
		prev = int64(ix)
	}
	return nil
}
