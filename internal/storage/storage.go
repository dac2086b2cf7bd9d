// Package storage persists the record table of a memory store: the body and
// optional metadata of every record, addressed by dense id.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/memo/internal/meta"
)

var (
	// ErrMalformedTable is returned when a structured table fails validation.
	ErrMalformedTable = errors.New("malformed record table")
	// ErrNothingToMigrate is returned when the migration source has no files.
	ErrNothingToMigrate = errors.New("nothing to migrate")
	// ErrDestinationExists is returned when a migration would overwrite a table.
	ErrDestinationExists = errors.New("destination already exists")
)

// Layout names a persistence layout for the record table.
type Layout string

const (
	// LayoutYAML is one multi-document P.yaml file.
	LayoutYAML Layout = "yaml"
	// LayoutFramed is the P.txt / P.meta pair of length-prefixed tables.
	LayoutFramed Layout = "framed"
	// LayoutSQLite is a single P.db database.
	LayoutSQLite Layout = "sqlite"
)

// ParseLayout validates a layout name. The empty string selects LayoutYAML.
func ParseLayout(s string) (Layout, error) {
	switch l := Layout(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LayoutYAML, nil
	case LayoutYAML, LayoutFramed, LayoutSQLite:
		return l, nil
	}
	return "", fmt.Errorf("unknown layout: %s (supported: yaml, framed, sqlite)", s)
}

// Records is the in-memory record table. Bodies and Metadata always have the
// same length; a nil Metadata entry means the record has none.
type Records struct {
	Bodies   []string
	Metadata []*meta.Map
}

// NewRecords returns n empty records.
func NewRecords(n int) *Records {
	return &Records{
		Bodies:   make([]string, n),
		Metadata: make([]*meta.Map, n),
	}
}

// Len returns the number of records.
func (r *Records) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Bodies)
}

// Append adds a record and returns its id.
func (r *Records) Append(body string, md *meta.Map) int {
	r.Bodies = append(r.Bodies, body)
	r.Metadata = append(r.Metadata, md)
	return len(r.Bodies) - 1
}

// Set replaces record id, which must be below Len.
func (r *Records) Set(id int, body string, md *meta.Map) {
	r.Bodies[id] = body
	r.Metadata[id] = md
}

// RecordTable loads and stages one persistence layout of the record table.
type RecordTable interface {
	Layout() Layout
	// Paths returns the files this layout owns.
	Paths() []string
	// Exists reports whether any of Paths is present.
	Exists() bool
	Load(ctx context.Context) (*Records, error)
	// Stage writes recs to temporary files registered with st. Nothing is
	// visible at Paths until st.Commit.
	Stage(ctx context.Context, recs *Records, st *Staged) error
}

// Option configures a RecordTable.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for load warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Open returns the record table of layout for the resolved base path.
func Open(base string, layout Layout, opts ...Option) (RecordTable, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	switch layout {
	case LayoutYAML, "":
		return NewYAMLTable(base+".yaml", o.logger), nil
	case LayoutFramed:
		return NewFramedTable(base+".txt", base+".meta", o.logger), nil
	case LayoutSQLite:
		return NewSQLiteTable(base+".db", o.logger), nil
	}
	return nil, fmt.Errorf("unknown layout: %s", layout)
}

// MaxRecordID is the largest id a persisted table may hold. Vector indexes
// track ids in 32-bit bitmaps.
const MaxRecordID = math.MaxUint32

// storeExtensions are stripped from a base path given by the user.
var storeExtensions = []string{".memo", ".yaml", ".txt", ".meta", ".db"}

// ResolveBase makes base absolute and strips a trailing store extension, so
// "notes", "notes.yaml" and "notes.memo" name the same store.
func ResolveBase(base string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", fmt.Errorf("store base path is empty")
	}
	ext := filepath.Ext(base)
	for _, known := range storeExtensions {
		if strings.EqualFold(ext, known) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolve store path: %w", err)
	}
	return abs, nil
}

// IndexPath returns the vector index blob path for base.
func IndexPath(base string) string {
	return base + ".memo"
}

// AllPaths returns every file any layout may own for base, index first.
func AllPaths(base string) []string {
	paths := []string{IndexPath(base)}
	for _, ext := range storeExtensions[1:] {
		paths = append(paths, base+ext)
	}
	return paths
}

func anyExists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// fillGaps turns an id -> record assignment into dense records. Ids missing
// below the largest one become empty records.
func fillGaps(bodies map[int]string, metadata map[int]*meta.Map, maxID int) *Records {
	recs := NewRecords(maxID + 1)
	for id, body := range bodies {
		recs.Bodies[id] = body
	}
	for id, md := range metadata {
		recs.Metadata[id] = md
	}
	return recs
}
