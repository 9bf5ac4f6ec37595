package termdict

import (
	"sort"
	"sync"

	"github.com/google/btree"
)

const memoryDegree = 32

// MemoryDictionary keeps each field's terms in a B-tree. Terms are added
// while the dictionary is being built; it must not be mutated while
// queries run.
type MemoryDictionary struct {
	name   string
	mu     sync.RWMutex
	fields map[string]*btree.BTreeG[string]
	closed bool
}

// NewMemory creates an empty in-memory dictionary
func NewMemory(name string) *MemoryDictionary {
	return &MemoryDictionary{
		name:   name,
		fields: make(map[string]*btree.BTreeG[string]),
	}
}

// NewMemoryFrom builds an in-memory dictionary from field → terms
func NewMemoryFrom(name string, data map[string][]string) *MemoryDictionary {
	d := NewMemory(name)
	for field, terms := range data {
		d.Add(field, terms...)
	}
	return d
}

// Add inserts terms into field, creating the field if needed. Duplicate
// terms are stored once.
func (d *MemoryDictionary) Add(field string, terms ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tree, ok := d.fields[field]
	if !ok {
		tree = btree.NewG(memoryDegree, func(a, b string) bool { return a < b })
		d.fields[field] = tree
	}
	for _, t := range terms {
		tree.ReplaceOrInsert(t)
	}
}

// Name returns the index name
func (d *MemoryDictionary) Name() string { return d.name }

// Fields returns the field names, sorted
func (d *MemoryDictionary) Fields() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	fields := make([]string, 0, len(d.fields))
	for f := range d.fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// HasField reports whether field exists
func (d *MemoryDictionary) HasField(field string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.fields[field]
	return ok
}

// Len returns the number of terms in field
func (d *MemoryDictionary) Len(field string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if tree, ok := d.fields[field]; ok {
		return tree.Len()
	}
	return 0
}

// NewCursor returns a cursor over field
func (d *MemoryDictionary) NewCursor(field string) (Cursor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}
	tree, ok := d.fields[field]
	if !ok {
		return nil, invalidField(d.name, field)
	}
	return &memoryCursor{dict: d, field: field, tree: tree}, nil
}

// Close releases the trees
func (d *MemoryDictionary) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.fields = make(map[string]*btree.BTreeG[string])
	return nil
}

type memoryCursor struct {
	dict  *MemoryDictionary
	field string
	tree  *btree.BTreeG[string]
	cur   string
	ok    bool
}

func (c *memoryCursor) Field() string { return c.field }

func (c *memoryCursor) Seek(key string) error {
	c.dict.mu.RLock()
	defer c.dict.mu.RUnlock()

	c.ok = false
	c.tree.AscendGreaterOrEqual(key, func(item string) bool {
		c.cur, c.ok = item, true
		return false
	})
	return nil
}

func (c *memoryCursor) Current() (string, bool) {
	return c.cur, c.ok
}

func (c *memoryCursor) Advance() error {
	if !c.ok {
		return nil
	}
	return c.Seek(Successor(c.cur))
}

func (c *memoryCursor) Exhausted() bool {
	return !c.ok
}

func (c *memoryCursor) Close() error {
	c.ok = false
	return nil
}
