package watcher

import (
	"context"

	"github.com/hyperjump/memo/internal/cli"
	"github.com/hyperjump/memo/internal/store"
)

// MemorizeHandler parses each file with the save input parser and saves the
// entries to st as one batch.
func MemorizeHandler(st *store.Store) Handler {
	return func(ctx context.Context, path string) error {
		inputs, err := cli.ReadRecordInputs(path)
		if err != nil {
			return err
		}
		_, err = st.Save(ctx, inputs)
		return err
	}
}
