package store

import (
	"context"
	"fmt"

	"github.com/hyperjump/memo/internal/analyze"
	"github.com/hyperjump/memo/internal/filter"
	"github.com/hyperjump/memo/internal/models"
)

// Recall ranks every indexed record against query and returns the first k
// that clear the score floor and, when f is non-nil, have metadata matching
// f. Records without metadata never match a filter.
func (s *Store) Recall(ctx context.Context, query string, k int, f *filter.Expr) (*models.RecallResponse, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be >= 1", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &models.RecallResponse{Query: query, K: k, Results: []*models.RecallResult{}}
	if f != nil {
		resp.Filter = f.String()
	}

	sn, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	defer sn.close()

	n := sn.idx.Size()
	if n == 0 {
		return resp, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	// Every id is ranked since the filter may drop the best candidates.
	hits, err := sn.idx.Search(ctx, vec, n)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	for _, hit := range hits {
		if len(resp.Results) >= k {
			break
		}
		if hit.Score < s.scoreFloor {
			continue
		}
		if hit.ID < 0 || hit.ID >= int64(sn.recs.Len()) {
			continue
		}
		id := int(hit.ID)
		md := sn.recs.Metadata[id]
		if f != nil && (md.Len() == 0 || !f.Matches(md)) {
			continue
		}
		resp.Results = append(resp.Results, &models.RecallResult{
			Rank:     len(resp.Results) + 1,
			ID:       id,
			Score:    hit.Score,
			Body:     sn.recs.Bodies[id],
			Metadata: md,
		})
	}
	return resp, nil
}

// Analyze runs q over the metadata of every record. The index is not read.
func (s *Store) Analyze(ctx context.Context, q analyze.Query) (*analyze.Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.table.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return analyze.Run(recs.Metadata, q)
}
