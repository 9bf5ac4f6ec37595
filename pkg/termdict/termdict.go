// Package termdict defines term dictionaries and the cursors used to walk
// them. A dictionary holds, per field, a sorted set of keys that can only
// be read forward: seek to the first key at or after a target, then advance
// one key at a time.
//
// Three dictionary implementations are provided: FileDictionary over a term
// file, MemoryDictionary over an in-memory B-tree and SQLiteDictionary over
// a SQLite table. MergeCursor combines the cursors of several fields into a
// single ascending stream.
package termdict

// Dictionary is an immutable, read-only term dictionary. Implementations
// are safe for concurrent use; cursors are not.
type Dictionary interface {
	// Name is the index name the dictionary was opened under
	Name() string
	// Fields returns the field names held by the dictionary, sorted
	Fields() []string
	// HasField reports whether the dictionary holds field
	HasField(field string) bool
	// NewCursor returns an unpositioned cursor over field. It fails with
	// ErrInvalidField when the dictionary does not hold field.
	NewCursor(field string) (Cursor, error)
	Close() error
}

// Cursor is a forward-only position within one field of a dictionary.
//
// A new cursor is exhausted until Seek is called. Current never decreases
// between Seek calls, and once the cursor is exhausted Current reports
// nothing and Advance does nothing.
type Cursor interface {
	// Field is the field the cursor walks
	Field() string
	// Seek positions the cursor at the first key >= key, or exhausts it
	Seek(key string) error
	// Current returns the key at the cursor without consuming it
	Current() (string, bool)
	// Advance moves to the next key, exhausting the cursor past the end
	Advance() error
	// Exhausted reports whether the cursor has no current key
	Exhausted() bool
	Close() error
}

// Seek opens a cursor over field of d positioned at the first key >= key.
func Seek(d Dictionary, field, key string) (Cursor, error) {
	c, err := d.NewCursor(field)
	if err != nil {
		return nil, err
	}
	if err := c.Seek(key); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Successor returns the smallest string greater than key.
func Successor(key string) string {
	return key + "\x00"
}

func hasField(fields []string, field string) bool {
	for _, f := range fields {
		if f == field {
			return true
		}
	}
	return false
}
