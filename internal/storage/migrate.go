package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Migrate copies every record from src to dst in one staged commit and
// returns the number of records written. The vector index is not touched.
func Migrate(ctx context.Context, src, dst RecordTable, force bool, logger *zap.Logger) (int, error) {
	if src.Layout() == dst.Layout() {
		return 0, fmt.Errorf("source and destination are both %s", src.Layout())
	}
	if !src.Exists() {
		return 0, fmt.Errorf("%w: no %s table at %v", ErrNothingToMigrate, src.Layout(), src.Paths())
	}
	if dst.Exists() && !force {
		return 0, fmt.Errorf("%w: %v (use --force to overwrite)", ErrDestinationExists, dst.Paths())
	}
	recs, err := src.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load %s table: %w", src.Layout(), err)
	}
	st := NewStaged(logger)
	if err := dst.Stage(ctx, recs, st); err != nil {
		st.Abort()
		return 0, fmt.Errorf("write %s table: %w", dst.Layout(), err)
	}
	if err := st.Commit(); err != nil {
		return 0, err
	}
	return recs.Len(), nil
}
