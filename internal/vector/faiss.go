//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexIDMap_c.h>
#include <faiss/c_api/AutoTune_c.h>
#include <faiss/c_api/index_factory_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2"
)

const faissDescription = "IDMap2,HNSW32"

// FAISSIndex is an IDMap2,HNSW32 FAISS index using inner product, which is
// cosine similarity for normalized vectors. HNSW in FAISS cannot remove ids,
// so overwrites go through a rebuild.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	params     Params
	present    *roaring.Bitmap
	mu         sync.RWMutex
}

// NewFAISSIndex creates an empty FAISS index with the given dimension.
func NewFAISSIndex(dimensions int, p Params) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	p = p.withDefaults()
	index, err := newFAISSGraph(dimensions, p)
	if err != nil {
		return nil, err
	}
	return &FAISSIndex{
		index:      index,
		dimensions: dimensions,
		params:     p,
		present:    roaring.New(),
	}, nil
}

func newFAISSGraph(dimensions int, p Params) (*C.FaissIndex, error) {
	desc := C.CString(faissDescription)
	defer C.free(unsafe.Pointer(desc))

	var index *C.FaissIndex
	if ret := C.faiss_index_factory(&index, C.int(dimensions), desc, C.METRIC_INNER_PRODUCT); ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	if err := setEfSearch(index, p.EfSearch); err != nil {
		C.faiss_Index_free(index)
		return nil, err
	}
	return index, nil
}

func setEfSearch(index *C.FaissIndex, ef int) error {
	var ps *C.FaissParameterSpace
	if ret := C.faiss_ParameterSpace_new(&ps); ret != 0 {
		return fmt.Errorf("create FAISS parameter space: %s", faissLastError())
	}
	defer C.faiss_ParameterSpace_free(ps)
	name := C.CString("efSearch")
	defer C.free(unsafe.Pointer(name))
	if ret := C.faiss_ParameterSpace_set_index_parameter(ps, index, name, C.double(ef)); ret != 0 {
		return fmt.Errorf("set efSearch: %s", faissLastError())
	}
	return nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}

// SupportsRemove is always false for FAISSIndex.
func (f *FAISSIndex) SupportsRemove() bool { return false }

// Add inserts vectors under the given ids.
func (f *FAISSIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if err := checkBatch(ids, vectors, f.dimensions); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if f.present.Contains(uint32(id)) {
			return fmt.Errorf("add %d: %w", id, ErrDuplicateID)
		}
	}

	// Flatten vectors into contiguous array for FAISS
	n := len(vectors)
	flat := make([]float32, n*f.dimensions)
	for i, vec := range vectors {
		copy(flat[i*f.dimensions:(i+1)*f.dimensions], vec)
	}
	ret := C.faiss_Index_add_with_ids(
		f.index,
		C.idx_t(n),
		(*C.float)(unsafe.Pointer(&flat[0])),
		(*C.idx_t)(unsafe.Pointer(&ids[0])),
	)
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	for _, id := range ids {
		f.present.Add(uint32(id))
	}
	return nil
}

// Search returns the top-k vectors by inner product.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 {
		return nil, nil
	}
	ntotal := int(C.faiss_Index_ntotal(f.index))
	if ntotal == 0 {
		return nil, nil
	}
	if k > ntotal {
		k = ntotal
	}

	distances := make([]float32, k)
	labels := make([]int64, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	results := make([]*VectorResult, 0, k)
	for i := 0; i < k; i++ {
		if labels[i] < 0 {
			continue
		}
		results = append(results, &VectorResult{ID: labels[i], Score: float64(distances[i])})
	}
	return results, nil
}

// Remove always fails with ErrRemoveUnsupported.
func (f *FAISSIndex) Remove(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return ErrRemoveUnsupported
}

// IDs returns a copy of the indexed id set.
func (f *FAISSIndex) IDs() *roaring.Bitmap {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.present.Clone()
}

// Size returns the number of indexed vectors.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(f.present.GetCardinality())
}

// Save writes the native FAISS file to path.
func (f *FAISSIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	return nil
}

// Load reads a native FAISS file. An index that is not IDMap2 is rebuilt
// into a fresh IDMap2,HNSW32 graph with ids equal to row positions.
// If the file does not exist, no error is returned and the index is unchanged.
func (f *FAISSIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	var loaded *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &loaded); ret != 0 {
		return fmt.Errorf("failed to load FAISS index: %s", faissLastError())
	}
	if d := int(C.faiss_Index_d(loaded)); d != f.dimensions {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", d, f.dimensions)
	}

	index, ids, err := f.adopt(loaded)
	if err != nil {
		return err
	}
	present := roaring.New()
	for _, id := range ids {
		if id < 0 || id > maxID {
			C.faiss_Index_free(index)
			return fmt.Errorf("%w: id %d out of range", errBadBlob, id)
		}
		present.Add(uint32(id))
	}
	if err := setEfSearch(index, f.params.EfSearch); err != nil {
		C.faiss_Index_free(index)
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = index
	f.present = present
	return nil
}

// adopt returns an IDMap2 index and its ids, taking ownership of loaded.
func (f *FAISSIndex) adopt(loaded *C.FaissIndex) (*C.FaissIndex, []int64, error) {
	if mapped := C.faiss_IndexIDMap2_cast(loaded); mapped != nil {
		var idMap *C.idx_t
		var n C.size_t
		C.faiss_IndexIDMap2_id_map(mapped, &idMap, &n)
		ids := make([]int64, int(n))
		if n > 0 {
			copy(ids, unsafe.Slice((*int64)(unsafe.Pointer(idMap)), int(n)))
		}
		return loaded, ids, nil
	}

	defer C.faiss_Index_free(loaded)
	ntotal := int(C.faiss_Index_ntotal(loaded))
	index, err := newFAISSGraph(f.dimensions, f.params)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]int64, ntotal)
	if ntotal == 0 {
		return index, ids, nil
	}
	vectors := make([]float32, ntotal*f.dimensions)
	if ret := C.faiss_Index_reconstruct_n(loaded, 0, C.idx_t(ntotal), (*C.float)(unsafe.Pointer(&vectors[0]))); ret != 0 {
		C.faiss_Index_free(index)
		return nil, nil, fmt.Errorf("reconstruct FAISS vectors: %s", faissLastError())
	}
	for i := range ids {
		ids[i] = int64(i)
	}
	ret := C.faiss_Index_add_with_ids(index, C.idx_t(ntotal),
		(*C.float)(unsafe.Pointer(&vectors[0])), (*C.idx_t)(unsafe.Pointer(&ids[0])))
	if ret != 0 {
		C.faiss_Index_free(index)
		return nil, nil, fmt.Errorf("wrap FAISS index in IDMap2: %s", faissLastError())
	}
	return index, ids, nil
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
