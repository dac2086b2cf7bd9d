package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// FlatIndex is an exact brute-force index. It supports removal, so an
// overwrite never needs a rebuild.
type FlatIndex struct {
	dimensions int
	compress   bool
	ids        []int64
	vectors    [][]float32
	present    *roaring.Bitmap
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty flat index with the given dimension.
func NewFlatIndex(dimensions int, p Params) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{
		dimensions: dimensions,
		compress:   p.Compress,
		ids:        make([]int64, 0),
		vectors:    make([][]float32, 0),
		present:    roaring.New(),
	}, nil
}

// Type returns the index type identifier.
func (m *FlatIndex) Type() string {
	return string(IndexTypeFlat)
}

// SupportsRemove is always true for FlatIndex.
func (m *FlatIndex) SupportsRemove() bool { return true }

// Add appends vectors with the given IDs.
func (m *FlatIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if err := checkBatch(ids, vectors, m.dimensions); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if m.present.Contains(uint32(id)) {
			return fmt.Errorf("add %d: %w", id, ErrDuplicateID)
		}
	}
	for i, id := range ids {
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
		m.present.Add(uint32(id))
	}
	return nil
}

// Search returns the top-k vectors by cosine similarity. Equal scores keep
// insertion order.
func (m *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil
	}
	hits := bruteForce(query, m.vectors, k)
	for _, h := range hits {
		h.ID = m.ids[h.ID]
	}
	return hits, nil
}

// Remove drops the given ids. Unknown ids are ignored.
func (m *FlatIndex) Remove(ctx context.Context, ids []int64) error {
	removeSet := make(map[int64]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	newIDs := make([]int64, 0, len(m.ids))
	newVectors := make([][]float32, 0, len(m.vectors))
	for i, id := range m.ids {
		if removeSet[id] {
			m.present.Remove(uint32(id))
			continue
		}
		newIDs = append(newIDs, id)
		newVectors = append(newVectors, m.vectors[i])
	}
	m.ids = newIDs
	m.vectors = newVectors
	return nil
}

// IDs returns a copy of the indexed id set.
func (m *FlatIndex) IDs() *roaring.Bitmap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.present.Clone()
}

// Size returns the number of vectors in the index.
func (m *FlatIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Save writes a MEMOFLAT blob. Payload: dimension (4), n (4), then per
// vector: id (8), vector (dimension*4 bytes).
func (m *FlatIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return writeBlob(path, magicFlat, m.compress, func(w io.Writer) error {
		return writeFlatPayload(w, m.dimensions, m.ids, m.vectors)
	})
}

// Load replaces the contents with a MEMOFLAT blob. Dimensions must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *FlatIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	var ids []int64
	var vectors [][]float32
	err := readBlob(path, magicFlat, func(r io.Reader) error {
		var err error
		ids, vectors, err = readFlatPayload(r, m.dimensions)
		return err
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	present := roaring.New()
	for _, id := range ids {
		if id < 0 || id > maxID || present.Contains(uint32(id)) {
			return fmt.Errorf("%w: bad or duplicate id %d", errBadBlob, id)
		}
		present.Add(uint32(id))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = ids
	m.vectors = vectors
	m.present = present
	return nil
}

// Close is a no-op for FlatIndex.
func (m *FlatIndex) Close() error {
	return nil
}

func writeFlatPayload(w io.Writer, dimensions int, ids []int64, vectors [][]float32) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range ids {
		if err := binary.Write(w, binary.LittleEndian, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, vectors[i]); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

func readFlatPayload(r io.Reader, dimensions int) ([]int64, [][]float32, error) {
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, nil, fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != dimensions {
		return nil, nil, fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, nil, fmt.Errorf("read count: %w", err)
	}
	ids := make([]int64, 0)
	vectors := make([][]float32, 0)
	for i := uint32(0); i < n; i++ {
		var id int64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, nil, fmt.Errorf("read id: %w", err)
		}
		vec := make([]float32, dimensions)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, nil, fmt.Errorf("read vector: %w", err)
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
	}
	return ids, vectors, nil
}
