package vector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// IDMap adapts a positional RowIndex to caller-chosen ids. Removed rows are
// tombstoned and skipped at search time. It is what a legacy row blob loads
// into; saving it writes a MEMOFLAT blob so the store moves to an id-native
// format on the next commit.
type IDMap struct {
	rows     RowIndex
	ids      []int64       // row -> id
	live     map[int64]int // id -> row
	removed  *roaring.Bitmap
	compress bool
	mu       sync.RWMutex
}

// NewIDMap wraps rows, whose i-th row carries ids[i].
func NewIDMap(rows RowIndex, ids []int64, p Params) (*IDMap, error) {
	if rows.Rows() != len(ids) {
		return nil, fmt.Errorf("id map: %d ids for %d rows", len(ids), rows.Rows())
	}
	live := make(map[int64]int, len(ids))
	for row, id := range ids {
		if id < 0 || id > maxID {
			return nil, fmt.Errorf("id map: id %d out of range", id)
		}
		if _, dup := live[id]; dup {
			return nil, fmt.Errorf("id map: %w: %d", ErrDuplicateID, id)
		}
		live[id] = row
	}
	return &IDMap{
		rows:     rows,
		ids:      append([]int64(nil), ids...),
		live:     live,
		removed:  roaring.New(),
		compress: p.Compress,
	}, nil
}

// Type returns the index type identifier.
func (m *IDMap) Type() string { return "idmap" }

// SupportsRemove is always true for IDMap.
func (m *IDMap) SupportsRemove() bool { return true }

// Add appends rows for ids not yet present.
func (m *IDMap) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if err := checkBatch(ids, vectors, m.rows.Dimensions()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if _, ok := m.live[id]; ok {
			return fmt.Errorf("add %d: %w", id, ErrDuplicateID)
		}
	}
	base := m.rows.Rows()
	if err := m.rows.AddRows(vectors); err != nil {
		return err
	}
	for i, id := range ids {
		m.ids = append(m.ids, id)
		m.live[id] = base + i
	}
	return nil
}

// Search ranks every row and returns the first k that are not tombstoned.
func (m *IDMap) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.live) == 0 {
		return nil, nil
	}
	rows, scores, err := m.rows.SearchRows(query, m.rows.Rows())
	if err != nil {
		return nil, err
	}
	results := make([]*VectorResult, 0, k)
	for i, row := range rows {
		if m.removed.Contains(uint32(row)) {
			continue
		}
		results = append(results, &VectorResult{ID: m.ids[row], Score: scores[i]})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Remove tombstones the rows of the given ids. Unknown ids are ignored.
func (m *IDMap) Remove(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		row, ok := m.live[id]
		if !ok {
			continue
		}
		delete(m.live, id)
		m.removed.Add(uint32(row))
	}
	return nil
}

// IDs returns the live id set.
func (m *IDMap) IDs() *roaring.Bitmap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := roaring.New()
	for id := range m.live {
		out.Add(uint32(id))
	}
	return out
}

// Size returns the number of live ids.
func (m *IDMap) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

// Save writes the live rows, in row order, as a MEMOFLAT blob.
func (m *IDMap) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.live))
	vectors := make([][]float32, 0, len(m.live))
	for row, id := range m.ids {
		if m.removed.Contains(uint32(row)) {
			continue
		}
		ids = append(ids, id)
		vectors = append(vectors, m.rows.Row(row))
	}
	return writeBlob(path, magicFlat, m.compress, func(w io.Writer) error {
		return writeFlatPayload(w, m.rows.Dimensions(), ids, vectors)
	})
}

// Load replaces the contents with a legacy row blob. A missing file leaves
// the index unchanged.
func (m *IDMap) Load(path string) error {
	if path == "" {
		return nil
	}
	table, ids, err := readLegacyBlob(path, m.rows.Dimensions())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	fresh, err := NewIDMap(table, ids, Params{Compress: m.compress})
	if err != nil {
		return fmt.Errorf("%w: %v", errBadBlob, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = fresh.rows
	m.ids = fresh.ids
	m.live = fresh.live
	m.removed = fresh.removed
	return nil
}

// Close is a no-op for IDMap.
func (m *IDMap) Close() error { return nil }
