package termdict

import (
	"errors"
)

// MergeCursor yields the union of several field cursors in strictly
// ascending order, emitting keys present in more than one field once.
//
// The first Next is inclusive of the boundary key it was created with; every
// later Next is exclusive of the key emitted before it.
type MergeCursor struct {
	cursors  []Cursor
	boundary string
	last     string
	started  bool
	done     bool
	err      error
}

// MergeOption configures cursor creation for a MergeCursor
type MergeOption func(*mergeOptions)

type mergeOptions struct {
	filter KeyFilter
}

// WithKeyFilter hides keys the filter rejects in every field
func WithKeyFilter(filter KeyFilter) MergeOption {
	return func(o *mergeOptions) {
		o.filter = filter
	}
}

// NewMergeCursor opens one cursor per distinct field of d, each positioned
// at the first key >= boundary. On error every cursor opened so far is
// closed.
func NewMergeCursor(d Dictionary, fields []string, boundary string, opts ...MergeOption) (*MergeCursor, error) {
	var o mergeOptions
	for _, opt := range opts {
		opt(&o)
	}

	m := &MergeCursor{boundary: boundary}
	seen := make(map[string]bool, len(fields))
	for _, field := range fields {
		if seen[field] {
			continue
		}
		seen[field] = true

		c, err := d.NewCursor(field)
		if err != nil {
			m.Close()
			return nil, err
		}
		if o.filter != nil {
			c = NewFilteredCursor(c, o.filter)
		}
		m.cursors = append(m.cursors, c)
		if err := c.Seek(boundary); err != nil {
			m.Close()
			return nil, err
		}
	}
	return m, nil
}

// NewMergeCursorFrom merges cursors that are already positioned. The merge
// takes ownership of them.
func NewMergeCursorFrom(boundary string, cursors ...Cursor) *MergeCursor {
	return &MergeCursor{boundary: boundary, cursors: cursors}
}

// HasNext reports whether some field cursor is not exhausted. A true
// result does not guarantee Next yields a key: the remaining keys may all
// be at or before the last emitted one.
func (m *MergeCursor) HasNext() bool {
	if m.done || m.err != nil {
		return false
	}
	for _, c := range m.cursors {
		if !c.Exhausted() {
			return true
		}
	}
	return false
}

// Next returns the next key of the merged stream. ok is false once the
// stream is exhausted; err reports a storage failure, after which the
// merge is finished.
func (m *MergeCursor) Next() (key string, ok bool, err error) {
	if m.err != nil {
		return "", false, m.err
	}
	if m.done {
		return "", false, nil
	}

	var best string
	found := false
	for _, c := range m.cursors {
		cur, live, err := m.skipEmitted(c)
		if err != nil {
			m.err = err
			return "", false, err
		}
		if live && (!found || cur < best) {
			best, found = cur, true
		}
	}

	if !found {
		m.done = true
		return "", false, nil
	}
	m.last = best
	m.started = true
	return best, true, nil
}

// skipEmitted advances c past keys before the boundary on the first call
// and past keys <= the last emitted key afterwards.
func (m *MergeCursor) skipEmitted(c Cursor) (string, bool, error) {
	for {
		cur, ok := c.Current()
		if !ok {
			return "", false, nil
		}
		if (!m.started && cur >= m.boundary) || (m.started && cur > m.last) {
			return cur, true, nil
		}
		if err := c.Advance(); err != nil {
			return "", false, err
		}
	}
}

// NextN collects up to limit keys
func (m *MergeCursor) NextN(limit int) ([]string, error) {
	keys := make([]string, 0, min(limit, 64))
	for len(keys) < limit {
		k, ok, err := m.Next()
		if err != nil {
			return keys, err
		}
		if !ok {
			break
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Close closes every field cursor
func (m *MergeCursor) Close() error {
	var errs []error
	for _, c := range m.cursors {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.cursors = nil
	m.done = true
	return errors.Join(errs...)
}
