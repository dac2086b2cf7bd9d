package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/memo/internal/meta"
	"github.com/hyperjump/memo/internal/models"
	"github.com/hyperjump/memo/pkg/utils"
)

// Save applies a batch in order: entries without an id are appended, entries
// with one overwrite that record. The whole batch is validated before anything
// changes, and the index and table are committed once at the end.
func (s *Store) Save(ctx context.Context, inputs []models.RecordInput) (*models.SaveResponse, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no records to save", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sn, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	defer sn.close()

	if err := s.validate(sn, inputs); err != nil {
		return nil, err
	}

	resp := &models.SaveResponse{Records: make([]models.Memorized, 0, len(inputs))}
	rebuild := false
	for _, in := range inputs {
		md := in.Metadata
		if md.Len() == 0 {
			md = nil
		}
		if in.ID == nil {
			id := sn.recs.Append(in.Body, md)
			if !rebuild {
				if err := s.index(ctx, sn, id, in.Body); err != nil {
					return nil, err
				}
			}
			resp.Records = append(resp.Records, models.Memorized{ID: id, Body: in.Body})
			continue
		}

		id := int(*in.ID)
		sn.recs.Set(id, in.Body, md)
		switch {
		case rebuild:
		case sn.idx.SupportsRemove():
			if err := sn.idx.Remove(ctx, []int64{int64(id)}); err != nil {
				return nil, fmt.Errorf("remove %d from index: %w", id, err)
			}
			if err := s.index(ctx, sn, id, in.Body); err != nil {
				return nil, err
			}
		default:
			rebuild = true
		}
		resp.Records = append(resp.Records, models.Memorized{ID: id, Body: in.Body, Overwritten: true})
	}

	if rebuild {
		s.logger.Debug("index cannot remove ids, rebuilding after overwrite", zap.String("type", sn.idx.Type()))
		_ = sn.idx.Close()
		if sn.idx, err = s.buildIndex(ctx, sn.recs); err != nil {
			return nil, err
		}
		resp.Rebuilt = true
	}
	if err := s.commit(ctx, sn, true); err != nil {
		return nil, err
	}
	for _, m := range resp.Records {
		s.logger.Debug("memorized",
			zap.Int("id", m.ID),
			zap.Bool("overwritten", m.Overwritten),
			zap.String("body", utils.Truncate(m.Body, 60)))
	}
	return resp, nil
}

// validate checks every entry against the table as it will be when that
// entry is applied, so an override may name a record added earlier in the
// same batch.
func (s *Store) validate(sn *snapshot, inputs []models.RecordInput) error {
	size := int64(sn.recs.Len())
	indexed := sn.idx.IDs()
	for i, in := range inputs {
		if strings.TrimSpace(in.Body) == "" {
			return fmt.Errorf("%w: entry %d: body must be a non-empty string", ErrInvalidInput, i)
		}
		if in.ID == nil {
			size++
			continue
		}
		id := *in.ID
		if id < 0 {
			return fmt.Errorf("%w: entry %d: id must be a non-negative integer", ErrInvalidInput, i)
		}
		if id >= size || (id < int64(sn.recs.Len()) && !indexed.Contains(uint32(id))) {
			return fmt.Errorf("%w: override id %d does not exist", ErrNoSuchID, id)
		}
	}
	return nil
}

func (s *Store) index(ctx context.Context, sn *snapshot, id int, body string) error {
	vec, err := s.embedder.Embed(ctx, body)
	if err != nil {
		return fmt.Errorf("embed record %d: %w", id, err)
	}
	if err := sn.idx.Add(ctx, []int64{int64(id)}, [][]float32{vec}); err != nil {
		return fmt.Errorf("index record %d: %w", id, err)
	}
	return nil
}

// InsertNew appends one record and returns its id.
func (s *Store) InsertNew(ctx context.Context, body string, md *meta.Map) (int, error) {
	resp, err := s.Save(ctx, []models.RecordInput{{Body: body, Metadata: md}})
	if err != nil {
		return 0, err
	}
	return resp.Records[0].ID, nil
}

// Overwrite replaces the body and metadata of an existing record.
func (s *Store) Overwrite(ctx context.Context, id int, body string, md *meta.Map) error {
	i := int64(id)
	_, err := s.Save(ctx, []models.RecordInput{{ID: &i, Body: body, Metadata: md}})
	return err
}
