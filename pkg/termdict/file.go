package termdict

import (
	"github.com/KevoDB/prevterm/pkg/common/iterator/bounded"
	"github.com/KevoDB/prevterm/pkg/sstable"
)

// FileDictionary serves a term file written by sstable.Writer
type FileDictionary struct {
	name   string
	path   string
	reader *sstable.Reader
	fields []string
}

// OpenFile opens the term file at path as the dictionary name
func OpenFile(name, path string, opts ...sstable.ReaderOption) (*FileDictionary, error) {
	r, err := sstable.OpenReader(path, opts...)
	if err != nil {
		return nil, NewStorageError("open", name, "", err)
	}

	infos := r.Fields()
	fields := make([]string, len(infos))
	for i, fi := range infos {
		fields[i] = fi.Name
	}
	return &FileDictionary{name: name, path: path, reader: r, fields: fields}, nil
}

// Name returns the index name
func (d *FileDictionary) Name() string { return d.name }

// Path returns the term file path
func (d *FileDictionary) Path() string { return d.path }

// Fields returns the fields of the term file
func (d *FileDictionary) Fields() []string {
	return append([]string(nil), d.fields...)
}

// FieldInfo returns each field with its term count
func (d *FileDictionary) FieldInfo() []sstable.FieldInfo {
	return d.reader.Fields()
}

// HasField reports whether the term file holds field
func (d *FileDictionary) HasField(field string) bool {
	return d.reader.HasField(field)
}

// NewCursor returns a cursor bounded to the keys of field
func (d *FileDictionary) NewCursor(field string) (Cursor, error) {
	if !d.reader.HasField(field) {
		return nil, invalidField(d.name, field)
	}
	prefix := sstable.FieldPrefix(field)
	return &fileCursor{
		dict:   d.name,
		field:  field,
		prefix: prefix,
		iter:   bounded.NewPrefixIterator(d.reader.NewIterator(), prefix),
	}, nil
}

// Close closes the term file
func (d *FileDictionary) Close() error {
	return d.reader.Close()
}

type fileCursor struct {
	dict   string
	field  string
	prefix []byte
	iter   *bounded.BoundedIterator
	cur    string
	ok     bool
	closed bool
}

func (c *fileCursor) Field() string { return c.field }

func (c *fileCursor) Seek(key string) error {
	if c.closed {
		return ErrClosed
	}
	target := make([]byte, 0, len(c.prefix)+len(key))
	target = append(append(target, c.prefix...), key...)
	c.iter.Seek(target)
	return c.sync("seek")
}

func (c *fileCursor) Current() (string, bool) {
	return c.cur, c.ok
}

func (c *fileCursor) Advance() error {
	if !c.ok {
		return nil
	}
	c.iter.Next()
	return c.sync("advance")
}

func (c *fileCursor) Exhausted() bool {
	return !c.ok
}

func (c *fileCursor) Close() error {
	c.closed = true
	c.ok = false
	return nil
}

// sync copies the iterator position into the cursor
func (c *fileCursor) sync(op string) error {
	if c.iter.Valid() {
		c.cur = string(c.iter.Key()[len(c.prefix):])
		c.ok = true
		return nil
	}
	c.cur, c.ok = "", false
	return NewStorageError(op, c.dict, c.field, c.iter.Error())
}
