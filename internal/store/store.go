// Package store keeps the record table and the vector index of a memory store
// in sync. Every call is a complete load, compute and persist cycle; the index
// and the table are committed together so they always hold the same id set.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/memo/internal/embedding"
	"github.com/hyperjump/memo/internal/storage"
	"github.com/hyperjump/memo/internal/vector"
)

var (
	// ErrNoSuchID is returned when an override names a record that does not exist.
	ErrNoSuchID = errors.New("no such id")
	// ErrInvalidInput is returned for a malformed save batch or recall query.
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultScoreFloor is the lowest similarity recall reports.
const DefaultScoreFloor = -0.9

// Store is a memory store rooted at a base path.
type Store struct {
	base       string
	table      storage.RecordTable
	embedder   embedding.Embedder
	indexType  vector.IndexType
	params     vector.Params
	scoreFloor float64
	logger     *zap.Logger

	// mu serializes calls made through one Store value.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIndexType selects the vector index backend for new and rebuilt indexes.
func WithIndexType(t string) Option {
	return func(s *Store) { s.indexType = vector.IndexType(t) }
}

// WithIndexParams sets the graph build and search parameters.
func WithIndexParams(p vector.Params) Option {
	return func(s *Store) { s.params = p }
}

// WithScoreFloor overrides DefaultScoreFloor.
func WithScoreFloor(floor float64) Option {
	return func(s *Store) { s.scoreFloor = floor }
}

// New opens the store at base using layout for its record table. Nothing is
// read until the first call.
func New(base string, layout storage.Layout, embedder embedding.Embedder, opts ...Option) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	resolved, err := storage.ResolveBase(base)
	if err != nil {
		return nil, err
	}
	s := &Store{
		base:       resolved,
		embedder:   embedder,
		indexType:  vector.IndexTypeHNSW,
		params:     vector.DefaultParams(),
		scoreFloor: DefaultScoreFloor,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	t, err := vector.ResolveType(string(s.indexType), s.logger)
	if err != nil {
		return nil, err
	}
	s.indexType = t
	s.table, err = storage.Open(resolved, layout, storage.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Base returns the resolved base path.
func (s *Store) Base() string { return s.base }

// Layout returns the record table layout.
func (s *Store) Layout() storage.Layout { return s.table.Layout() }

// IndexPath returns the vector index blob path.
func (s *Store) IndexPath() string { return storage.IndexPath(s.base) }

// Paths returns the files of the active layout, index first.
func (s *Store) Paths() []string {
	return append([]string{s.IndexPath()}, s.table.Paths()...)
}

// snapshot is one loaded copy of the store.
type snapshot struct {
	recs *storage.Records
	idx  vector.VectorIndex
}

func (sn *snapshot) close() {
	if sn != nil && sn.idx != nil {
		_ = sn.idx.Close()
	}
}

// load reads the table and the index. When the index does not hold exactly
// the ids [0, N) of the table it is rebuilt in memory; the next commit
// persists the repair.
func (s *Store) load(ctx context.Context) (*snapshot, error) {
	recs, err := s.table.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	idx, err := vector.LoadVectorIndex(s.IndexPath(), string(s.indexType), s.embedder.Dimensions(), s.params, s.logger)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	if denseRange(idx.IDs(), recs.Len()) {
		return &snapshot{recs: recs, idx: idx}, nil
	}
	s.logger.Warn("index out of sync with records, rebuilding",
		zap.Int("records", recs.Len()), zap.Int("indexed", idx.Size()))
	_ = idx.Close()
	idx, err = s.buildIndex(ctx, recs)
	if err != nil {
		return nil, err
	}
	return &snapshot{recs: recs, idx: idx}, nil
}

// denseRange reports whether ids is exactly {0, ..., n-1}.
func denseRange(ids *roaring.Bitmap, n int) bool {
	if ids.GetCardinality() != uint64(n) {
		return false
	}
	return n == 0 || ids.Maximum() == uint32(n-1)
}

// buildIndex embeds every body into a fresh index of the configured type.
func (s *Store) buildIndex(ctx context.Context, recs *storage.Records) (vector.VectorIndex, error) {
	idx, err := vector.NewVectorIndex(string(s.indexType), s.embedder.Dimensions(), s.params)
	if err != nil {
		return nil, err
	}
	n := recs.Len()
	if n == 0 {
		return idx, nil
	}
	vecs, err := s.embedder.EmbedBatch(ctx, recs.Bodies)
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("embed records: %w", err)
	}
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i)
	}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("index records: %w", err)
	}
	s.logger.Debug("rebuilt vector index", zap.String("type", idx.Type()), zap.Int("records", n))
	return idx, nil
}

// commit stages the record table (when withTable is set) and the index, and
// publishes them in one step. The index is renamed last: if that fails after
// the table went out, the old index is removed so the next load rebuilds it
// from the table.
func (s *Store) commit(ctx context.Context, sn *snapshot, withTable bool) error {
	st := storage.NewStaged(s.logger)
	if withTable {
		if err := s.table.Stage(ctx, sn.recs, st); err != nil {
			st.Abort()
			return fmt.Errorf("save records: %w", err)
		}
	}
	tmp, err := st.TempPath(s.IndexPath())
	if err != nil {
		st.Abort()
		return err
	}
	if err := sn.idx.Save(tmp); err != nil {
		st.Abort()
		return fmt.Errorf("save index: %w", err)
	}
	err = st.Commit()
	if err != nil && withTable && len(st.Committed()) > 0 {
		s.logger.Warn("index commit failed after the record table, dropping the stale index",
			zap.String("path", s.IndexPath()), zap.Error(err))
		if rmErr := os.Remove(s.IndexPath()); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn("failed to remove stale index", zap.String("path", s.IndexPath()), zap.Error(rmErr))
		}
	}
	return err
}
