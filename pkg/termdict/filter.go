package termdict

import (
	"strings"
	"unicode"
)

// KeyFilter reports whether a key should be visible through a cursor
type KeyFilter func(key string) bool

// FilteredCursor wraps a cursor and hides the keys a filter rejects
type FilteredCursor struct {
	Cursor
	keep KeyFilter
}

// NewFilteredCursor wraps c so that only keys accepted by keep are visible
func NewFilteredCursor(c Cursor, keep KeyFilter) *FilteredCursor {
	return &FilteredCursor{Cursor: c, keep: keep}
}

// Seek positions at the first visible key >= key
func (f *FilteredCursor) Seek(key string) error {
	if err := f.Cursor.Seek(key); err != nil {
		return err
	}
	return f.skip()
}

// Advance moves to the next visible key
func (f *FilteredCursor) Advance() error {
	if err := f.Cursor.Advance(); err != nil {
		return err
	}
	return f.skip()
}

func (f *FilteredCursor) skip() error {
	for {
		cur, ok := f.Cursor.Current()
		if !ok || f.keep(cur) {
			return nil
		}
		if err := f.Cursor.Advance(); err != nil {
			return err
		}
	}
}

// CleanToken accepts keys made only of letters, digits and single inner
// spaces, rejecting punctuation, symbols, control characters and keys
// with leading or trailing blanks.
func CleanToken(key string) bool {
	if key == "" || strings.TrimSpace(key) != key || strings.Contains(key, "  ") {
		return false
	}
	for _, r := range key {
		if r == ' ' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}

// PrefixFilter accepts keys starting with prefix
func PrefixFilter(prefix string) KeyFilter {
	return func(key string) bool {
		return strings.HasPrefix(key, prefix)
	}
}
