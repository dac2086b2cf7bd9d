package store

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/memo/internal/models"
	"github.com/hyperjump/memo/internal/storage"
	"github.com/hyperjump/memo/internal/vector"
)

// Clean removes the index and the files of every layout. A store with nothing
// on disk reports no removed paths rather than an error.
func (s *Store) Clean(ctx context.Context) (*models.CleanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := storage.RemoveFiles(storage.AllPaths(s.base)...)
	if err != nil {
		return nil, fmt.Errorf("clean store: %w", err)
	}
	for _, p := range removed {
		s.logger.Debug("removed", zap.String("path", p))
	}
	return &models.CleanResult{Paths: s.Paths(), Removed: removed}, nil
}

// Rebuild re-embeds every record into a fresh index of the configured type and
// returns the number of records indexed. The record table is left as is.
func (s *Store) Rebuild(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.table.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load records: %w", err)
	}
	if recs.Len() == 0 && !s.indexExists() {
		return 0, nil
	}
	idx, err := s.buildIndex(ctx, recs)
	if err != nil {
		return 0, err
	}
	sn := &snapshot{recs: recs, idx: idx}
	defer sn.close()
	if err := s.commit(ctx, sn, false); err != nil {
		return 0, err
	}
	return recs.Len(), nil
}

// Status reports what is on disk without repairing anything.
func (s *Store) Status(ctx context.Context) (*models.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.table.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	idx, err := vector.LoadVectorIndex(s.IndexPath(), string(s.indexType), s.embedder.Dimensions(), s.params, s.logger)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	defer idx.Close()

	usage, err := storage.DiskUsageBytes(s.Paths()...)
	if err != nil {
		return nil, fmt.Errorf("disk usage: %w", err)
	}
	return &models.Status{
		Base:          s.base,
		Layout:        string(s.table.Layout()),
		Paths:         s.Paths(),
		Records:       recs.Len(),
		IndexType:     idx.Type(),
		IndexSize:     idx.Size(),
		Consistent:    denseRange(idx.IDs(), recs.Len()),
		DiskUsage:     usage,
		FAISSCompiled: vector.IsFAISSAvailable(),
	}, nil
}

func (s *Store) indexExists() bool {
	_, err := os.Stat(s.IndexPath())
	return err == nil
}
