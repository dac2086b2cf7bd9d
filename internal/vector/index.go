// Package vector provides the vector index behind a memory store and the
// blob formats it is persisted in.
package vector

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

var (
	// ErrRemoveUnsupported is returned by backends that cannot remove single ids.
	ErrRemoveUnsupported = errors.New("vector index does not support removal")
	// ErrDuplicateID is returned when adding an id that is already indexed.
	ErrDuplicateID = errors.New("id already indexed")
)

// maxID is the largest id an index accepts; ids are tracked in 32-bit bitmaps.
const maxID = math.MaxUint32

// VectorIndex maps record ids to embedding vectors and ranks them by cosine
// similarity.
type VectorIndex interface {
	Add(ctx context.Context, ids []int64, vectors [][]float32) error
	// Search returns at most k hits ordered by descending score.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []int64) error
	// IDs returns a snapshot of the indexed ids.
	IDs() *roaring.Bitmap
	Size() int
	Save(path string) error
	Load(path string) error
	Close() error
	Type() string
	// SupportsRemove reports whether Remove followed by Add of the same id works.
	SupportsRemove() bool
}

// VectorResult is a single search hit.
type VectorResult struct {
	ID    int64
	Score float64 // cosine similarity in [-1, 1]
}

func checkBatch(ids []int64, vectors [][]float32, dimensions int) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	for i, id := range ids {
		if id < 0 || id > maxID {
			return fmt.Errorf("id %d out of range", id)
		}
		if len(vectors[i]) != dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), dimensions)
		}
	}
	return nil
}
