package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/liliang-cn/sqvect/v2/pkg/index"
)

// HNSWIndex is the default approximate index, backed by sqvect's HNSW graph
// with cosine distance. The graph refuses to re-insert an id, even after a
// soft delete, so single-id removal is not supported.
type HNSWIndex struct {
	graph      *index.HNSW
	dimensions int
	params     Params
	present    *roaring.Bitmap
	mu         sync.RWMutex
}

// NewHNSWIndex creates an empty HNSW index.
func NewHNSWIndex(dimensions int, p Params) (*HNSWIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	p = p.withDefaults()
	return &HNSWIndex{
		graph:      index.NewHNSW(p.M, p.EfConstruction, index.CosineDistance),
		dimensions: dimensions,
		params:     p,
		present:    roaring.New(),
	}, nil
}

// Type returns the index type identifier.
func (h *HNSWIndex) Type() string {
	return string(IndexTypeHNSW)
}

// SupportsRemove is always false for HNSWIndex.
func (h *HNSWIndex) SupportsRemove() bool { return false }

// Add inserts vectors under the given ids.
func (h *HNSWIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if err := checkBatch(ids, vectors, h.dimensions); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ids {
		if h.present.Contains(uint32(id)) {
			return fmt.Errorf("add %d: %w", id, ErrDuplicateID)
		}
	}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec := make([]float32, h.dimensions)
		copy(vec, vectors[i])
		if err := h.graph.Insert(nodeKey(id), vec); err != nil {
			return fmt.Errorf("insert %d: %w", id, err)
		}
		h.present.Add(uint32(id))
	}
	return nil
}

// Search walks the graph with breadth max(ef_search, k). Pruning can leave
// nodes without in-links; when the walk returns fewer than min(k, Size) hits
// the unreached ids are scored exactly and merged in, so asking for every id
// ranks every id.
func (h *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != h.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), h.dimensions)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if k <= 0 || h.present.IsEmpty() {
		return nil, nil
	}
	ef := h.params.EfSearch
	if k > ef {
		ef = k
	}
	keys, dists := h.graph.Search(query, k, ef)
	results := make([]*VectorResult, 0, len(keys))
	for i, key := range keys {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		results = append(results, &VectorResult{ID: id, Score: 1 - float64(dists[i])})
	}
	want := k
	if n := int(h.present.GetCardinality()); n < want {
		want = n
	}
	if len(results) < want {
		results = h.fillUnreached(query, results, k)
	}
	return results, nil
}

// fillUnreached scores every present id missing from hits by brute force and
// returns the best k of both. Callers hold h.mu.
func (h *HNSWIndex) fillUnreached(query []float32, hits []*VectorResult, k int) []*VectorResult {
	seen := roaring.New()
	for _, r := range hits {
		seen.Add(uint32(r.ID))
	}
	missing := roaring.AndNot(h.present, seen)
	it := missing.Iterator()
	for it.HasNext() {
		id := int64(it.Next())
		node, ok := h.graph.Nodes[nodeKey(id)]
		if !ok || node.Deleted {
			continue
		}
		hits = append(hits, &VectorResult{ID: id, Score: CosineSimilarity(query, node.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Remove always fails with ErrRemoveUnsupported.
func (h *HNSWIndex) Remove(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return ErrRemoveUnsupported
}

// IDs returns a copy of the indexed id set.
func (h *HNSWIndex) IDs() *roaring.Bitmap {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.present.Clone()
}

// Size returns the number of indexed vectors.
func (h *HNSWIndex) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return int(h.present.GetCardinality())
}

// Save writes a MEMOHNSW blob: dimension (4) followed by the gob-encoded graph.
func (h *HNSWIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return writeBlob(path, magicHNSW, h.params.Compress, func(w io.Writer) error {
		if err := binary.Write(w, binary.LittleEndian, uint32(h.dimensions)); err != nil {
			return fmt.Errorf("write dimensions: %w", err)
		}
		if err := h.graph.Save(w); err != nil {
			return fmt.Errorf("encode graph: %w", err)
		}
		return nil
	})
}

// Load replaces the graph with a MEMOHNSW blob. A missing file leaves the
// index unchanged.
func (h *HNSWIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	graph := index.NewHNSW(h.params.M, h.params.EfConstruction, index.CosineDistance)
	err := readBlob(path, magicHNSW, func(r io.Reader) error {
		var dim uint32
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return fmt.Errorf("read dimensions: %w", err)
		}
		if int(dim) != h.dimensions {
			return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, h.dimensions)
		}
		if err := graph.Load(r); err != nil {
			return fmt.Errorf("decode graph: %w", err)
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	present := roaring.New()
	for key, node := range graph.Nodes {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id < 0 || id > maxID {
			return fmt.Errorf("%w: node key %q", errBadBlob, key)
		}
		if len(node.Vector) != h.dimensions {
			return fmt.Errorf("%w: node %q has %d dimensions", errBadBlob, key, len(node.Vector))
		}
		if node.Level < 0 || len(node.Neighbors) != node.Level+1 {
			return fmt.Errorf("%w: node %q has inconsistent levels", errBadBlob, key)
		}
		for _, layer := range node.Neighbors {
			for _, n := range layer {
				if _, ok := graph.Nodes[n]; !ok {
					return fmt.Errorf("%w: node %q links to unknown %q", errBadBlob, key, n)
				}
			}
		}
		if !node.Deleted {
			present.Add(uint32(id))
		}
	}
	if len(graph.Nodes) > 0 {
		if _, ok := graph.Nodes[graph.EntryPoint]; !ok {
			return fmt.Errorf("%w: missing entry point %q", errBadBlob, graph.EntryPoint)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = graph
	h.present = present
	return nil
}

// Close releases the graph.
func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = index.NewHNSW(h.params.M, h.params.EfConstruction, index.CosineDistance)
	h.present = roaring.New()
	return nil
}

func nodeKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
