package vector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestFlatIndex_AddSearch(t *testing.T) {
	idx, err := NewFlatIndex(3, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
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
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != 0 {
		t.Errorf("top result should be 0, got %d", results[0].ID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("scores not descending: %v, %v", results[0].Score, results[1].Score)
	}
}

func TestFlatIndex_NegativeAndZeroScores(t *testing.T) {
	idx, _ := NewFlatIndex(2, DefaultParams())
	ctx := context.Background()
	_ = idx.Add(ctx, []int64{0, 1, 2}, [][]float32{{-1, 0}, {0, 0}, {1, 0}})

	results, err := idx.Search(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		id    int64
		score float64
	}{{2, 1}, {1, 0}, {0, -1}}
	for i, w := range want {
		if results[i].ID != w.id || results[i].Score != w.score {
			t.Errorf("result %d = (%d, %v), want (%d, %v)", i, results[i].ID, results[i].Score, w.id, w.score)
		}
	}
}

func TestFlatIndex_TiesKeepInsertionOrder(t *testing.T) {
	idx, _ := NewFlatIndex(2, DefaultParams())
	ctx := context.Background()
	_ = idx.Add(ctx, []int64{5, 3, 9}, [][]float32{{1, 0}, {1, 0}, {1, 0}})

	results, _ := idx.Search(ctx, []float32{1, 0}, 3)
	for i, want := range []int64{5, 3, 9} {
		if results[i].ID != want {
			t.Errorf("result %d = %d, want %d", i, results[i].ID, want)
		}
	}
}

func TestFlatIndex_Remove(t *testing.T) {
	idx, _ := NewFlatIndex(2, DefaultParams())
	ctx := context.Background()
	_ = idx.Add(ctx, []int64{0, 1}, [][]float32{{1, 0}, {0, 1}})
	if err := idx.Remove(ctx, []int64{0}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 1 {
		t.Errorf("expected size 1, got %d", idx.Size())
	}
	if idx.IDs().Contains(0) {
		t.Error("removed id still in id set")
	}
	// Re-adding a removed id is how an overwrite works.
	if err := idx.Add(ctx, []int64{0}, [][]float32{{0, 1}}); err != nil {
		t.Fatalf("re-add removed id: %v", err)
	}
}

func TestFlatIndex_DuplicateID(t *testing.T) {
	idx, _ := NewFlatIndex(2, DefaultParams())
	ctx := context.Background()
	_ = idx.Add(ctx, []int64{0}, [][]float32{{1, 0}})
	err := idx.Add(ctx, []int64{0}, [][]float32{{0, 1}})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("failed add changed size to %d", idx.Size())
	}
}

func TestFlatIndex_SaveLoad(t *testing.T) {
	for _, compress := range []bool{true, false} {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "sub", "idx.memo")
		p := DefaultParams()
		p.Compress = compress

		idx, _ := NewFlatIndex(3, p)
		_ = idx.Add(ctx, []int64{0, 1, 2}, [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
		if err := idx.Save(path); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if kind, _ := sniffBlob(path); kind != blobFlat {
			t.Errorf("sniffed %v, want flat", kind)
		}

		idx2, _ := NewFlatIndex(3, p)
		if err := idx2.Load(path); err != nil {
			t.Fatalf("Load: %v", err)
		}
		if idx2.Size() != 3 {
			t.Errorf("after Load size=%d, want 3", idx2.Size())
		}
		results, _ := idx2.Search(ctx, []float32{0, 0, 1}, 1)
		if len(results) != 1 || results[0].ID != 2 {
			t.Errorf("Search after Load: got %v", results)
		}
	}
}

func TestFlatIndex_LoadMissingFile(t *testing.T) {
	idx, _ := NewFlatIndex(2, DefaultParams())
	if err := idx.Load(filepath.Join(t.TempDir(), "missing.memo")); err != nil {
		t.Errorf("Load missing file should not error: %v", err)
	}
}

func TestFlatIndex_LoadDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.memo")
	idx, _ := NewFlatIndex(3, DefaultParams())
	_ = idx.Add(context.Background(), []int64{0}, [][]float32{{1, 0, 0}})
	_ = idx.Save(path)

	other, _ := NewFlatIndex(4, DefaultParams())
	if err := other.Load(path); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestFlatIndex_InvalidInput(t *testing.T) {
	if _, err := NewFlatIndex(0, DefaultParams()); err == nil {
		t.Error("expected error for zero dimension")
	}
	idx, _ := NewFlatIndex(2, DefaultParams())
	ctx := context.Background()
	if err := idx.Add(ctx, []int64{0, 1}, [][]float32{{1, 0}}); err == nil {
		t.Error("expected error for ids/vectors length mismatch")
	}
	if err := idx.Add(ctx, []int64{-1}, [][]float32{{1, 0}}); err == nil {
		t.Error("expected error for negative id")
	}
	if _, err := idx.Search(ctx, []float32{1}, 1); err == nil {
		t.Error("expected error for query dimension mismatch")
	}
}
