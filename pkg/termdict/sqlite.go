package termdict

import (
	"context"
	"database/sql"
	"fmt"

	// registers the "sqlite" database/sql driver
	_ "modernc.org/sqlite"
)

// SQLiteSchema creates the table a SQLiteDictionary reads. Terms compare
// with the BINARY collation, which orders UTF-8 text by code point.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS terms (
	field TEXT NOT NULL,
	term  TEXT NOT NULL COLLATE BINARY,
	freq  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (field, term)
) WITHOUT ROWID;`

const (
	defaultPageSize = 64

	fieldsQuery    = `SELECT DISTINCT field FROM terms ORDER BY field`
	seekQuery      = `SELECT term FROM terms WHERE field = ? AND term >= ? ORDER BY term LIMIT ?`
	continueQuery  = `SELECT term FROM terms WHERE field = ? AND term > ? ORDER BY term LIMIT ?`
	sqliteDriver   = "sqlite"
	sqliteMaxConns = 4
)

// SQLiteOption configures a SQLiteDictionary
type SQLiteOption func(*SQLiteDictionary)

// WithPageSize sets how many terms a cursor fetches per query
func WithPageSize(n int) SQLiteOption {
	return func(d *SQLiteDictionary) {
		if n > 0 {
			d.pageSize = n
		}
	}
}

// SQLiteDictionary serves terms stored in a SQLite database using
// SQLiteSchema.
type SQLiteDictionary struct {
	name     string
	db       *sql.DB
	fields   []string
	pageSize int
}

// OpenSQLite opens the SQLite database at path as the dictionary name
func OpenSQLite(ctx context.Context, name, path string, opts ...SQLiteOption) (*SQLiteDictionary, error) {
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, NewStorageError("open", name, "", err)
	}
	db.SetMaxOpenConns(sqliteMaxConns)

	d := &SQLiteDictionary{name: name, db: db, pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.loadFields(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *SQLiteDictionary) loadFields(ctx context.Context) error {
	rows, err := d.db.QueryContext(ctx, fieldsQuery)
	if err != nil {
		return NewStorageError("open", d.name, "", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return NewStorageError("open", d.name, "", err)
		}
		d.fields = append(d.fields, f)
	}
	return NewStorageError("open", d.name, "", rows.Err())
}

// Name returns the index name
func (d *SQLiteDictionary) Name() string { return d.name }

// Fields returns the distinct fields of the terms table
func (d *SQLiteDictionary) Fields() []string {
	return append([]string(nil), d.fields...)
}

// HasField reports whether field has at least one term
func (d *SQLiteDictionary) HasField(field string) bool {
	return hasField(d.fields, field)
}

// NewCursor returns a cursor that pages through field
func (d *SQLiteDictionary) NewCursor(field string) (Cursor, error) {
	if !d.HasField(field) {
		return nil, invalidField(d.name, field)
	}
	return &sqliteCursor{dict: d, field: field}, nil
}

// Close closes the database
func (d *SQLiteDictionary) Close() error {
	return d.db.Close()
}

type sqliteCursor struct {
	dict  *SQLiteDictionary
	field string
	page  []string
	pos   int
	// more is set when the last page was full, so rows may follow it
	more bool
}

func (c *sqliteCursor) Field() string { return c.field }

func (c *sqliteCursor) Seek(key string) error {
	return c.fetch("seek", seekQuery, key)
}

func (c *sqliteCursor) Current() (string, bool) {
	if c.pos < len(c.page) {
		return c.page[c.pos], true
	}
	return "", false
}

func (c *sqliteCursor) Advance() error {
	if c.pos >= len(c.page) {
		return nil
	}
	c.pos++
	if c.pos < len(c.page) || !c.more {
		return nil
	}
	return c.fetch("advance", continueQuery, c.page[len(c.page)-1])
}

func (c *sqliteCursor) Exhausted() bool {
	return c.pos >= len(c.page)
}

func (c *sqliteCursor) Close() error {
	c.page, c.pos, c.more = nil, 0, false
	return nil
}

func (c *sqliteCursor) fetch(op, query, from string) error {
	c.page, c.pos, c.more = c.page[:0], 0, false

	rows, err := c.dict.db.QueryContext(context.Background(), query, c.field, from, c.dict.pageSize)
	if err != nil {
		return NewStorageError(op, c.dict.name, c.field, err)
	}
	defer rows.Close()

	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			c.page = c.page[:0]
			return NewStorageError(op, c.dict.name, c.field, err)
		}
		c.page = append(c.page, term)
	}
	if err := rows.Err(); err != nil {
		c.page = c.page[:0]
		return NewStorageError(op, c.dict.name, c.field, fmt.Errorf("reading rows: %w", err))
	}
	c.more = len(c.page) == c.dict.pageSize
	return nil
}
