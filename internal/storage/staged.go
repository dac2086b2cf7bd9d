package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

type move struct {
	tmp   string
	final string
}

// Staged collects temporary files that replace their final paths on Commit.
// The vector index and the record table are staged together so one commit
// publishes both.
type Staged struct {
	moves     []move
	committed []string
	logger    *zap.Logger
	done      bool
}

// NewStaged returns an empty staging area.
func NewStaged(logger *zap.Logger) *Staged {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Staged{logger: logger}
}

// TempPath creates an empty temporary file next to final and registers it.
func (s *Staged) TempPath(final string) (string, error) {
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create store dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(final)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	s.moves = append(s.moves, move{tmp: name, final: final})
	return name, nil
}

// Commit syncs every staged file and renames it over its final path, in the
// order the files were registered. A failed rename stops the commit; the
// files renamed before it stay published (see Committed).
func (s *Staged) Commit() error {
	if s.done {
		return errors.New("staged files already committed or aborted")
	}
	for _, m := range s.moves {
		if err := syncFile(m.tmp); err != nil {
			s.Abort()
			return fmt.Errorf("sync %s: %w", m.tmp, err)
		}
	}
	for i, m := range s.moves {
		if err := os.Rename(m.tmp, m.final); err != nil {
			s.moves = s.moves[i:]
			s.Abort()
			return fmt.Errorf("commit %s: %w", m.final, err)
		}
		s.committed = append(s.committed, m.final)
		s.logger.Debug("committed", zap.String("path", m.final))
	}
	s.done = true
	return nil
}

// Committed returns the final paths renamed so far.
func (s *Staged) Committed() []string {
	return append([]string(nil), s.committed...)
}

// Abort removes every staged file that has not been committed.
func (s *Staged) Abort() {
	if s.done {
		return
	}
	for _, m := range s.moves {
		if err := os.Remove(m.tmp); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove temp file", zap.String("path", m.tmp), zap.Error(err))
		}
	}
	s.done = true
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
