package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Metric codes stored in a legacy row blob.
const (
	legacyMetricInnerProduct int32 = 0
	legacyMetricL2           int32 = 1
)

// RowIndex is an index addressed by insertion position instead of caller ids.
// IDMap turns one into a VectorIndex.
type RowIndex interface {
	AddRows(vectors [][]float32) error
	// SearchRows returns row positions ordered by descending score.
	SearchRows(query []float32, k int) ([]int, []float64, error)
	Rows() int
	Dimensions() int
	Row(i int) []float32
}

// rowTable is a brute-force RowIndex.
type rowTable struct {
	dimensions int
	vectors    [][]float32
}

func newRowTable(dimensions int) *rowTable {
	return &rowTable{dimensions: dimensions}
}

func (t *rowTable) AddRows(vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != t.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(v), t.dimensions)
		}
	}
	for _, v := range vectors {
		t.vectors = append(t.vectors, append([]float32(nil), v...))
	}
	return nil
}

func (t *rowTable) SearchRows(query []float32, k int) ([]int, []float64, error) {
	if len(query) != t.dimensions {
		return nil, nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), t.dimensions)
	}
	hits := bruteForce(query, t.vectors, k)
	rows := make([]int, len(hits))
	scores := make([]float64, len(hits))
	for i, h := range hits {
		rows[i] = int(h.ID)
		scores[i] = h.Score
	}
	return rows, scores, nil
}

func (t *rowTable) Rows() int           { return len(t.vectors) }
func (t *rowTable) Dimensions() int     { return t.dimensions }
func (t *rowTable) Row(i int) []float32 { return t.vectors[i] }

// readLegacyBlob reads the row format written by older builds:
// int32 dim, int32 count, int32 metric, u64 ids[count], f32 vectors[count*dim],
// all little-endian.
func readLegacyBlob(path string, dimensions int) (*rowTable, []int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var header [3]int32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, nil, fmt.Errorf("%w: read legacy header: %v", errBadBlob, err)
	}
	dim, count, metric := header[0], header[1], header[2]
	if int(dim) != dimensions {
		return nil, nil, fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, dimensions)
	}
	if count < 0 {
		return nil, nil, fmt.Errorf("%w: negative row count %d", errBadBlob, count)
	}
	if metric != legacyMetricInnerProduct && metric != legacyMetricL2 {
		return nil, nil, fmt.Errorf("%w: unknown metric %d", errBadBlob, metric)
	}

	raw := make([]uint64, count)
	if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
		return nil, nil, fmt.Errorf("%w: read legacy ids: %v", errBadBlob, err)
	}
	ids := make([]int64, count)
	for i, v := range raw {
		if v > maxID {
			return nil, nil, fmt.Errorf("%w: id %d out of range", errBadBlob, v)
		}
		ids[i] = int64(v)
	}

	table := newRowTable(dimensions)
	for i := int32(0); i < count; i++ {
		vec := make([]float32, dimensions)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, nil, fmt.Errorf("%w: read legacy vector %d: %v", errBadBlob, i, err)
		}
		table.vectors = append(table.vectors, vec)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, nil, fmt.Errorf("%w: trailing bytes after legacy vectors", errBadBlob)
	}
	return table, ids, nil
}
