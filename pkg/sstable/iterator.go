package sstable

import (
	"github.com/KevoDB/prevterm/pkg/sstable/block"
)

// Iterator walks every entry of a term file in key order. It reads one data
// block at a time through the reader's block cache.
type Iterator struct {
	reader *Reader
	index  *block.Iterator
	data   *block.Iterator
	err    error
}

// SeekToFirst positions the iterator at the first entry
func (it *Iterator) SeekToFirst() {
	it.err = nil
	it.index.SeekToFirst()
	if it.loadBlock() {
		it.data.SeekToFirst()
		it.skipEmptyBlocks()
	}
}

// Seek positions the iterator at the first key >= target. The index is
// keyed by the last key of each block, so the first index entry >= target
// names the only block that can hold the answer.
func (it *Iterator) Seek(target []byte) bool {
	it.err = nil
	if !it.index.Seek(target) {
		it.data = nil
		return false
	}
	if !it.loadBlock() {
		return false
	}
	it.data.Seek(target)
	it.skipEmptyBlocks()
	return it.Valid()
}

// Next advances the iterator to the next entry
func (it *Iterator) Next() bool {
	if !it.Valid() {
		return false
	}
	it.data.Next()
	it.skipEmptyBlocks()
	return it.Valid()
}

// Key returns the current key
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.data.Key()
}

// Value returns the current value
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.data.Value()
}

// Valid returns true if the iterator is positioned at an entry
func (it *Iterator) Valid() bool {
	return it.err == nil && it.data != nil && it.data.Valid()
}

// Error returns the I/O or corruption error that stopped the iterator
func (it *Iterator) Error() error {
	return it.err
}

// loadBlock opens the data block named by the current index entry
func (it *Iterator) loadBlock() bool {
	it.data = nil
	if !it.index.Valid() {
		if err := it.index.Error(); err != nil {
			it.err = err
		}
		return false
	}

	h, err := decodeBlockHandle(it.index.Value())
	if err != nil {
		it.err = err
		return false
	}
	br, err := it.reader.readBlock(h)
	if err != nil {
		it.err = err
		return false
	}
	it.data = br.Iterator()
	return true
}

// skipEmptyBlocks moves to the next block while the current one is
// exhausted.
func (it *Iterator) skipEmptyBlocks() {
	for it.data != nil && !it.data.Valid() {
		if err := it.data.Error(); err != nil {
			it.err = err
			it.data = nil
			return
		}
		it.index.Next()
		if !it.loadBlock() {
			return
		}
		it.data.SeekToFirst()
	}
}
