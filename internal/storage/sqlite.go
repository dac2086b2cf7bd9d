package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/memo/internal/meta"
)

// SQLiteTable stores the records in one SQLite database. Saving rewrites the
// whole table into a staged database that replaces the old file on commit.
type SQLiteTable struct {
	path   string
	logger *zap.Logger
}

// NewSQLiteTable returns the table stored at path.
func NewSQLiteTable(path string, logger *zap.Logger) *SQLiteTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteTable{path: path, logger: logger}
}

// Layout returns LayoutSQLite.
func (t *SQLiteTable) Layout() Layout { return LayoutSQLite }

// Paths returns the database path.
func (t *SQLiteTable) Paths() []string { return []string{t.path} }

// Exists reports whether the database file is present.
func (t *SQLiteTable) Exists() bool { return anyExists(t.path) }

const recordSchema = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY,
	body TEXT NOT NULL,
	metadata TEXT
);
`

// Load reads every row. A missing database is an empty table; the file is
// never created by a load.
func (t *SQLiteTable) Load(ctx context.Context) (*Records, error) {
	if _, err := os.Stat(t.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewRecords(0), nil
		}
		return nil, fmt.Errorf("stat record table: %w", err)
	}
	db, err := sql.Open("sqlite3", t.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT id, body, metadata FROM records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTable, err)
	}
	defer rows.Close()

	bodies := make(map[int]string)
	metadata := make(map[int]*meta.Map)
	maxID := -1
	for rows.Next() {
		var id int64
		var body string
		var mdText sql.NullString
		if err := rows.Scan(&id, &body, &mdText); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTable, err)
		}
		if id < 0 {
			return nil, fmt.Errorf("%w: negative id %d", ErrMalformedTable, id)
		}
		if id > MaxRecordID {
			return nil, fmt.Errorf("%w: id %d exceeds the maximum %d", ErrMalformedTable, id, int64(MaxRecordID))
		}
		var md *meta.Map
		if mdText.Valid {
			md, err = meta.ParseMap(mdText.String)
			if err != nil {
				return nil, fmt.Errorf("%w: id %d: metadata: %v", ErrMalformedTable, id, err)
			}
			if md.Len() == 0 {
				md = nil
			}
		}
		bodies[int(id)] = body
		metadata[int(id)] = md
		if int(id) > maxID {
			maxID = int(id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read record table: %w", err)
	}
	return fillGaps(bodies, metadata, maxID), nil
}

// Stage writes all records into a fresh database at a temporary path.
func (t *SQLiteTable) Stage(ctx context.Context, recs *Records, st *Staged) error {
	tmp, err := st.TempPath(t.path)
	if err != nil {
		return err
	}
	db, err := sql.Open("sqlite3", tmp)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// The staged file is renamed into place, so it must not have a WAL sidecar.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, recordSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (id, body, metadata) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id := 0; id < recs.Len(); id++ {
		var mdText sql.NullString
		if recs.Metadata[id].Len() > 0 {
			text, err := meta.MapText(recs.Metadata[id])
			if err != nil {
				return fmt.Errorf("encode metadata %d: %w", id, err)
			}
			mdText = sql.NullString{String: text, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, id, recs.Bodies[id], mdText); err != nil {
			return fmt.Errorf("insert record %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return db.Close()
}
