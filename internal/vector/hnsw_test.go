package vector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestHNSW(t *testing.T, dims int) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(dims, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestHNSWIndex_AddSearch(t *testing.T) {
	idx := newTestHNSW(t, 3)
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	if err := idx.Add(ctx, []int64{0, 1, 2}, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d, want 3", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != 0 || results[1].ID != 1 {
		t.Errorf("got ids %d, %d; want 0, 1", results[0].ID, results[1].ID)
	}
	if results[0].Score < 0.999 {
		t.Errorf("identical vector scored %v", results[0].Score)
	}
}

func TestHNSWIndex_SearchAll(t *testing.T) {
	idx := newTestHNSW(t, 4)
	ctx := context.Background()
	var ids []int64
	var vecs [][]float32
	for i := 0; i < 20; i++ {
		ids = append(ids, int64(i))
		vecs = append(vecs, []float32{float32(i%4 + 1), float32(i%3 - 1), float32(i%5 - 2), 1})
	}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		t.Fatal(err)
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, idx.Size())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 20 {
		t.Fatalf("expected all 20 ids, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score+1e-6 {
			t.Errorf("scores increase at %d: %v > %v", i, results[i].Score, results[i-1].Score)
		}
	}
}

func TestHNSWIndex_SearchReachesOrphanedNodes(t *testing.T) {
	idx := newTestHNSW(t, 3)
	ctx := context.Background()
	vecs := [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}, {0, 0, 1}}
	if err := idx.Add(ctx, []int64{0, 1, 2, 3}, vecs); err != nil {
		t.Fatal(err)
	}

	// Cut every link to one non-entry node, as neighbour pruning can.
	var orphanID int64 = 3
	if idx.graph.EntryPoint == nodeKey(orphanID) {
		orphanID = 2
	}
	orphan := nodeKey(orphanID)
	for key, node := range idx.graph.Nodes {
		if key == orphan {
			continue
		}
		for layer, links := range node.Neighbors {
			kept := links[:0]
			for _, n := range links {
				if n != orphan {
					kept = append(kept, n)
				}
			}
			node.Neighbors[layer] = kept
		}
	}

	results, err := idx.Search(ctx, vecs[orphanID], 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("expected all 4 ids, got %d", len(results))
	}
	if results[0].ID != orphanID || results[0].Score < 0.999 {
		t.Errorf("orphaned exact match should rank first, got %+v", results[0])
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not ordered by score: %v then %v", results[i-1].Score, results[i].Score)
		}
	}
}

func TestHNSWIndex_ZeroVector(t *testing.T) {
	idx := newTestHNSW(t, 2)
	ctx := context.Background()
	_ = idx.Add(ctx, []int64{0, 1}, [][]float32{{0, 0}, {1, 0}})

	results, err := idx.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[1].ID != 0 || results[1].Score != 0 {
		t.Errorf("zero vector should score 0, got %+v", results[1])
	}
}

func TestHNSWIndex_RemoveUnsupported(t *testing.T) {
	idx := newTestHNSW(t, 2)
	ctx := context.Background()
	_ = idx.Add(ctx, []int64{0}, [][]float32{{1, 0}})
	if idx.SupportsRemove() {
		t.Error("hnsw should not report removal support")
	}
	if err := idx.Remove(ctx, []int64{0}); !errors.Is(err, ErrRemoveUnsupported) {
		t.Errorf("expected ErrRemoveUnsupported, got %v", err)
	}
	if err := idx.Add(ctx, []int64{0}, [][]float32{{0, 1}}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
}

func TestHNSWIndex_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "idx.memo")

	idx := newTestHNSW(t, 3)
	_ = idx.Add(ctx, []int64{0, 1, 2}, [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if kind, _ := sniffBlob(path); kind != blobHNSW {
		t.Errorf("sniffed %v, want hnsw", kind)
	}

	idx2 := newTestHNSW(t, 3)
	if err := idx2.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if idx2.Size() != 3 {
		t.Errorf("after Load size=%d, want 3", idx2.Size())
	}
	ids := idx2.IDs()
	for _, id := range []uint32{0, 1, 2} {
		if !ids.Contains(id) {
			t.Errorf("id %d missing after Load", id)
		}
	}
	results, err := idx2.Search(ctx, []float32{0, 0, 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != 2 {
		t.Errorf("Search after Load: got %v", results)
	}
	// The loaded graph keeps accepting inserts.
	if err := idx2.Add(ctx, []int64{3}, [][]float32{{1, 1, 0}}); err != nil {
		t.Errorf("Add after Load: %v", err)
	}
}

func TestHNSWIndex_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.memo")
	if err := os.WriteFile(path, append([]byte("MEMOHNSW\x01\x00"), 0xff, 0x00, 0x13), 0644); err != nil {
		t.Fatal(err)
	}
	idx := newTestHNSW(t, 3)
	if err := idx.Load(path); err == nil {
		t.Error("expected error for corrupt blob")
	}
	if idx.Size() != 0 {
		t.Errorf("failed Load changed size to %d", idx.Size())
	}
}

func TestHNSWIndex_InvalidDimension(t *testing.T) {
	if _, err := NewHNSWIndex(0, DefaultParams()); err == nil {
		t.Error("expected error for zero dimension")
	}
}
