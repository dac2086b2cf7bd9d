package vector

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeHNSW is the default approximate graph index (pure Go).
	IndexTypeHNSW IndexType = "hnsw"
	// IndexTypeFlat uses exact brute-force search. Good for small stores.
	IndexTypeFlat IndexType = "flat"
	// IndexTypeMemory is accepted as an alias for IndexTypeFlat.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeFAISS uses FAISS IDMap2,HNSW32.
	// Requires FAISS library and build tag -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// Params are the graph build and search parameters.
type Params struct {
	M              int  // graph degree
	EfConstruction int  // construction breadth
	EfSearch       int  // search breadth, raised to k when k is larger
	Compress       bool // zstd-compress pure-Go blobs
}

// DefaultParams returns M=32, efConstruction=200, efSearch=64 with compression on.
func DefaultParams() Params {
	return Params{M: 32, EfConstruction: 200, EfSearch: 64, Compress: true}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.M <= 0 {
		p.M = d.M
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = d.EfConstruction
	}
	if p.EfSearch <= 0 {
		p.EfSearch = d.EfSearch
	}
	return p
}

// NewVectorIndex creates an empty vector index of the specified type.
// Supported types: "hnsw" (default), "flat" (alias "memory"), "faiss".
// FAISS requires building with -tags=faiss and having FAISS library installed.
func NewVectorIndex(indexType string, dimensions int, p Params) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeHNSW, "":
		return NewHNSWIndex(dimensions, p)
	case IndexTypeFlat, IndexTypeMemory:
		return NewFlatIndex(dimensions, p)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions, p)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: hnsw, flat, faiss)", indexType)
	}
}

// ResolveType normalizes a configured index type. A configured "faiss" falls
// back to hnsw when FAISS support is not compiled in.
func ResolveType(indexType string, logger *zap.Logger) (IndexType, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch t := IndexType(indexType); t {
	case "", IndexTypeHNSW:
		return IndexTypeHNSW, nil
	case IndexTypeFlat, IndexTypeMemory:
		return IndexTypeFlat, nil
	case IndexTypeFAISS:
		if IsFAISSAvailable() {
			return IndexTypeFAISS, nil
		}
		logger.Warn("FAISS not compiled in, using hnsw index instead")
		return IndexTypeHNSW, nil
	}
	return "", fmt.Errorf("unknown index type: %s (supported: hnsw, flat, faiss)", indexType)
}

// LoadVectorIndex opens the blob at path whatever format it is in. A missing
// file yields an empty index of the configured type, and so does an
// unreadable or corrupt one, after logging a warning.
func LoadVectorIndex(path, indexType string, dimensions int, p Params, logger *zap.Logger) (VectorIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t, err := ResolveType(indexType, logger)
	if err != nil {
		return nil, err
	}
	fresh := func() (VectorIndex, error) {
		return NewVectorIndex(string(t), dimensions, p)
	}

	kind, err := sniffBlob(path)
	if errors.Is(err, os.ErrNotExist) {
		return fresh()
	}
	if err != nil {
		logger.Warn("index blob unreadable, starting from an empty index",
			zap.String("path", path), zap.Error(err))
		return fresh()
	}
	idx, err := loadBlob(kind, path, dimensions, p, logger)
	if err != nil {
		logger.Warn("index blob unreadable, starting from an empty index",
			zap.String("path", path), zap.Stringer("format", kind), zap.Error(err))
		return fresh()
	}
	logger.Debug("loaded vector index",
		zap.String("path", path), zap.String("type", idx.Type()), zap.Int("size", idx.Size()))
	return idx, nil
}

func loadBlob(kind blobKind, path string, dimensions int, p Params, logger *zap.Logger) (VectorIndex, error) {
	var idx VectorIndex
	switch kind {
	case blobHNSW:
		h, err := NewHNSWIndex(dimensions, p)
		if err != nil {
			return nil, err
		}
		idx = h
	case blobFlat:
		f, err := NewFlatIndex(dimensions, p)
		if err != nil {
			return nil, err
		}
		idx = f
	case blobLegacy:
		if dimensions <= 0 {
			return nil, fmt.Errorf("dimensions must be positive")
		}
		m, err := NewIDMap(newRowTable(dimensions), nil, p)
		if err != nil {
			return nil, err
		}
		logger.Debug("wrapping row index in id map", zap.String("path", path))
		idx = m
	case blobFAISS:
		f, err := NewFAISSIndex(dimensions, p)
		if err != nil {
			return nil, err
		}
		idx = f
	default:
		return nil, errBadBlob
	}
	if err := idx.Load(path); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
// This is determined by the build tag -tags=faiss.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1, DefaultParams())
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
