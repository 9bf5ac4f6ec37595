package block

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Iterator walks the entries of a block in key order
type Iterator struct {
	reader *Reader
	key    []byte
	value  []byte
	next   int // offset of the entry after the current one; -1 when unpositioned
	valid  bool
	err    error
}

// SeekToFirst positions the iterator at the first entry
func (it *Iterator) SeekToFirst() {
	if len(it.reader.restarts) == 0 {
		it.valid = false
		return
	}
	it.seekRestart(0)
	it.Next()
}

// Seek positions the iterator at the first key >= target
func (it *Iterator) Seek(target []byte) bool {
	// Last restart point whose key is < target; scanning forward from it
	// reaches the first key >= target.
	restarts := it.reader.restarts
	if len(restarts) == 0 {
		it.valid = false
		return false
	}
	idx := sort.Search(len(restarts), func(i int) bool {
		key, ok := it.restartKey(i)
		return !ok || bytes.Compare(key, target) >= 0
	})
	if it.err != nil {
		return false
	}
	if idx > 0 {
		idx--
	}

	it.seekRestart(idx)
	for it.Next() {
		if bytes.Compare(it.key, target) >= 0 {
			return true
		}
	}
	return false
}

// Next advances the iterator to the next entry
func (it *Iterator) Next() bool {
	if it.err != nil || it.next < 0 || it.next >= len(it.reader.data) {
		it.valid = false
		return false
	}

	shared, unshared, vlen, n, err := it.header(it.next)
	if err != nil {
		it.fail(err)
		return false
	}
	if shared > len(it.key) {
		it.fail(fmt.Errorf("%w: shared prefix %d exceeds previous key", ErrCorrupt, shared))
		return false
	}

	start := it.next + n
	end := start + unshared + vlen
	if end > len(it.reader.data) {
		it.fail(fmt.Errorf("%w: entry overruns block", ErrCorrupt))
		return false
	}

	it.key = append(it.key[:shared], it.reader.data[start:start+unshared]...)
	it.value = it.reader.data[start+unshared : end]
	it.next = end
	it.valid = true
	return true
}

// Key returns the current key
func (it *Iterator) Key() []byte {
	if !it.valid {
		return nil
	}
	return it.key
}

// Value returns the current value
func (it *Iterator) Value() []byte {
	if !it.valid {
		return nil
	}
	return it.value
}

// Valid returns true if the iterator is positioned at an entry
func (it *Iterator) Valid() bool {
	return it.valid
}

// Error returns the corruption error that stopped the iterator, if any
func (it *Iterator) Error() error {
	return it.err
}

func (it *Iterator) seekRestart(i int) {
	it.key = it.key[:0]
	it.value = nil
	it.valid = false
	it.next = int(it.reader.restarts[i])
}

// restartKey decodes the full key stored at restart point i.
func (it *Iterator) restartKey(i int) ([]byte, bool) {
	off := int(it.reader.restarts[i])
	shared, unshared, _, n, err := it.header(off)
	if err == nil && shared != 0 {
		err = fmt.Errorf("%w: restart entry with shared prefix", ErrCorrupt)
	}
	if err == nil && off+n+unshared > len(it.reader.data) {
		err = fmt.Errorf("%w: restart key overruns block", ErrCorrupt)
	}
	if err != nil {
		it.fail(err)
		return nil, false
	}
	return it.reader.data[off+n : off+n+unshared], true
}

func (it *Iterator) header(off int) (shared, unshared, vlen, n int, err error) {
	data := it.reader.data
	var vals [3]uint64
	pos := off
	for i := range vals {
		v, m := binary.Uvarint(data[pos:])
		if m <= 0 {
			return 0, 0, 0, 0, fmt.Errorf("%w: bad entry header at %d", ErrCorrupt, off)
		}
		vals[i] = v
		pos += m
	}
	if vals[0] > uint64(len(data)) || vals[1] > uint64(len(data)) || vals[2] > uint64(len(data)) {
		return 0, 0, 0, 0, fmt.Errorf("%w: entry lengths out of range at %d", ErrCorrupt, off)
	}
	return int(vals[0]), int(vals[1]), int(vals[2]), pos - off, nil
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.valid = false
	it.key = it.key[:0]
	it.value = nil
}
