package storage

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/memo/internal/meta"
)

// FramedTable stores bodies and metadata in two parallel files. Each file is
// an int32 record count followed by one frame per record: an int32 byte
// length and the payload, little-endian. A zero length means absent.
type FramedTable struct {
	bodyPath string
	metaPath string
	logger   *zap.Logger
}

// NewFramedTable returns the table stored in bodyPath and metaPath.
func NewFramedTable(bodyPath, metaPath string, logger *zap.Logger) *FramedTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FramedTable{bodyPath: bodyPath, metaPath: metaPath, logger: logger}
}

// Layout returns LayoutFramed.
func (t *FramedTable) Layout() Layout { return LayoutFramed }

// Paths returns the body and metadata file paths.
func (t *FramedTable) Paths() []string { return []string{t.bodyPath, t.metaPath} }

// Exists reports whether either file is present.
func (t *FramedTable) Exists() bool { return anyExists(t.bodyPath, t.metaPath) }

// Load reads both files. Truncated files yield the records read before the
// damage, and the shorter file is padded with empty records.
func (t *FramedTable) Load(ctx context.Context) (*Records, error) {
	bodies, err := t.readFrames(t.bodyPath)
	if err != nil {
		return nil, err
	}
	metas, err := t.readFrames(t.metaPath)
	if err != nil {
		return nil, err
	}
	n := len(bodies)
	if len(metas) > n {
		n = len(metas)
	}
	recs := NewRecords(n)
	for i, b := range bodies {
		recs.Bodies[i] = string(b)
	}
	for i, m := range metas {
		if len(m) == 0 {
			continue
		}
		md, err := meta.ParseMap(string(m))
		if err != nil {
			t.logger.Warn("ignoring unreadable metadata",
				zap.String("path", t.metaPath), zap.Int("id", i), zap.Error(err))
			continue
		}
		if md.Len() > 0 {
			recs.Metadata[i] = md
		}
	}
	return recs, nil
}

func (t *FramedTable) readFrames(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open record table: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	remaining := info.Size()
	r := bufio.NewReader(f)

	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		if !errors.Is(err, io.EOF) {
			t.logger.Warn("truncated record table header", zap.String("path", path))
		}
		return nil, nil
	}
	remaining -= 4

	var frames [][]byte
	for i := int32(0); i < count; i++ {
		var length int32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			t.warnTruncated(path, len(frames), count)
			break
		}
		remaining -= 4
		if length <= 0 {
			frames = append(frames, nil)
			continue
		}
		if int64(length) > remaining {
			t.warnTruncated(path, len(frames), count)
			break
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			t.warnTruncated(path, len(frames), count)
			break
		}
		remaining -= int64(length)
		frames = append(frames, buf)
	}
	return frames, nil
}

func (t *FramedTable) warnTruncated(path string, read int, count int32) {
	t.logger.Warn("truncated record table, keeping complete records",
		zap.String("path", path), zap.Int("read", read), zap.Int32("declared", count))
}

// Stage writes both files. Metadata frames hold block YAML.
func (t *FramedTable) Stage(ctx context.Context, recs *Records, st *Staged) error {
	bodies := make([][]byte, recs.Len())
	metas := make([][]byte, recs.Len())
	for i := 0; i < recs.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		bodies[i] = []byte(recs.Bodies[i])
		text, err := meta.MapText(recs.Metadata[i])
		if err != nil {
			return fmt.Errorf("encode metadata %d: %w", i, err)
		}
		metas[i] = []byte(text)
	}
	if err := writeFrames(st, t.bodyPath, bodies); err != nil {
		return err
	}
	return writeFrames(st, t.metaPath, metas)
}

func writeFrames(st *Staged, path string, frames [][]byte) error {
	tmp, err := st.TempPath(path)
	if err != nil {
		return err
	}
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create record table: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, int32(len(frames))); err != nil {
		return err
	}
	for _, frame := range frames {
		if err := binary.Write(w, binary.LittleEndian, int32(len(frame))); err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write record table: %w", err)
	}
	return f.Close()
}
