package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/memo/internal/meta"
)

// YAMLTable stores every record as one {id, metadata, body} document of a
// multi-document YAML file.
type YAMLTable struct {
	path   string
	logger *zap.Logger
}

// NewYAMLTable returns the table stored at path.
func NewYAMLTable(path string, logger *zap.Logger) *YAMLTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YAMLTable{path: path, logger: logger}
}

// Layout returns LayoutYAML.
func (t *YAMLTable) Layout() Layout { return LayoutYAML }

// Paths returns the YAML file path.
func (t *YAMLTable) Paths() []string { return []string{t.path} }

// Exists reports whether the YAML file is present.
func (t *YAMLTable) Exists() bool { return anyExists(t.path) }

// Load reads and validates every document. A missing file is an empty table.
func (t *YAMLTable) Load(ctx context.Context) (*Records, error) {
	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewRecords(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open record table: %w", err)
	}
	defer f.Close()
	return decodeYAMLRecords(ctx, bufio.NewReader(f))
}

func decodeYAMLRecords(ctx context.Context, r io.Reader) (*Records, error) {
	dec := yaml.NewDecoder(r)
	bodies := make(map[int]string)
	metadata := make(map[int]*meta.Map)
	maxID := -1
	for doc := 1; ; doc++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: document %d: %v", ErrMalformedTable, doc, err)
		}
		v, err := meta.FromNode(&node)
		if err != nil {
			return nil, fmt.Errorf("%w: document %d: %v", ErrMalformedTable, doc, err)
		}
		if v.IsNull() {
			continue
		}
		id, body, md, err := recordFromValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: document %d: %v", ErrMalformedTable, doc, err)
		}
		if _, dup := bodies[id]; dup {
			return nil, fmt.Errorf("%w: document %d: duplicate id %d", ErrMalformedTable, doc, id)
		}
		bodies[id] = body
		metadata[id] = md
		if id > maxID {
			maxID = id
		}
	}
	return fillGaps(bodies, metadata, maxID), nil
}

func recordFromValue(v meta.Value) (int, string, *meta.Map, error) {
	if v.Kind != meta.KindMap {
		return 0, "", nil, fmt.Errorf("expected a mapping, got %s", v.Kind)
	}
	idv, ok := v.Map.Get("id")
	if !ok {
		return 0, "", nil, fmt.Errorf("missing id")
	}
	if idv.Kind != meta.KindInt || idv.I < 0 {
		return 0, "", nil, fmt.Errorf("id must be a non-negative integer, got %q", idv.Render())
	}
	if idv.I > MaxRecordID {
		return 0, "", nil, fmt.Errorf("id %d exceeds the maximum %d", idv.I, int64(MaxRecordID))
	}
	bv, ok := v.Map.Get("body")
	if !ok {
		return 0, "", nil, fmt.Errorf("id %d: missing body", idv.I)
	}
	if bv.Kind != meta.KindString {
		return 0, "", nil, fmt.Errorf("id %d: body must be a string, got %s", idv.I, bv.Kind)
	}
	var md *meta.Map
	if mv, ok := v.Map.Get("metadata"); ok {
		switch mv.Kind {
		case meta.KindNull:
		case meta.KindMap:
			if mv.Map.Len() > 0 {
				md = mv.Map
			}
		default:
			return 0, "", nil, fmt.Errorf("id %d: metadata must be a mapping, got %s", idv.I, mv.Kind)
		}
	}
	return int(idv.I), bv.S, md, nil
}

// Stage writes all records, in id order, to a temporary YAML file.
func (t *YAMLTable) Stage(ctx context.Context, recs *Records, st *Staged) error {
	tmp, err := st.TempPath(t.path)
	if err != nil {
		return err
	}
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create record table: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if recs.Len() > 0 {
		if _, err := w.WriteString("---\n"); err != nil {
			return err
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for id := 0; id < recs.Len(); id++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(recordNode(id, recs.Bodies[id], recs.Metadata[id])); err != nil {
			return fmt.Errorf("encode record %d: %w", id, err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode record table: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write record table: %w", err)
	}
	return f.Close()
}

// recordNode builds one document. Absent metadata encodes as {}.
func recordNode(id int, body string, md *meta.Map) *yaml.Node {
	doc := meta.NewMap()
	doc.Set("id", meta.Int(int64(id)))
	doc.Set("metadata", meta.Nested(md))
	doc.Set("body", meta.String(body))
	return doc.ToNode()
}
