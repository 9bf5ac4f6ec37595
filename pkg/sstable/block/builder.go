package block

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Builder constructs a sorted, serialized block
type Builder struct {
	buf             []byte
	restarts        []uint32
	restartInterval int
	counter         int
	entries         int
	lastKey         []byte
}

// NewBuilder creates a block builder storing a full key every
// restartInterval entries.
func NewBuilder(restartInterval int) *Builder {
	if restartInterval <= 0 {
		restartInterval = DefaultRestartInterval
	}
	return &Builder{restartInterval: restartInterval}
}

// Add appends a key/value pair. Keys must be strictly increasing.
func (b *Builder) Add(key, value []byte) error {
	if b.entries > 0 && bytes.Compare(key, b.lastKey) <= 0 {
		return fmt.Errorf("%w: %q after %q", ErrUnordered, key, b.lastKey)
	}

	shared := 0
	if b.counter < b.restartInterval && b.entries > 0 {
		shared = sharedPrefix(b.lastKey, key)
	} else {
		b.restarts = append(b.restarts, uint32(len(b.buf)))
		b.counter = 0
	}

	b.buf = binary.AppendUvarint(b.buf, uint64(shared))
	b.buf = binary.AppendUvarint(b.buf, uint64(len(key)-shared))
	b.buf = binary.AppendUvarint(b.buf, uint64(len(value)))
	b.buf = append(b.buf, key[shared:]...)
	b.buf = append(b.buf, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
	b.entries++
	return nil
}

func sharedPrefix(a, b []byte) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// EstimatedSize returns the size of the block if finished now
func (b *Builder) EstimatedSize() int {
	return len(b.buf) + 4*len(b.restarts) + TrailerSize
}

// Entries returns the number of entries in the block
func (b *Builder) Entries() int {
	return b.entries
}

// LastKey returns the most recently added key. The slice is reused by Add.
func (b *Builder) LastKey() []byte {
	return b.lastKey
}

// Empty reports whether nothing was added since the last Reset
func (b *Builder) Empty() bool {
	return b.entries == 0
}

// Finish returns the serialized block. The builder must be Reset before
// it is reused.
func (b *Builder) Finish() []byte {
	out := make([]byte, 0, b.EstimatedSize())
	out = append(out, b.buf...)
	for _, r := range b.restarts {
		out = binary.LittleEndian.AppendUint32(out, r)
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(b.restarts)))
	out = binary.LittleEndian.AppendUint64(out, xxhash.Sum64(out))
	return out
}

// Reset clears the builder state
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.restarts = b.restarts[:0]
	b.counter = 0
	b.entries = 0
	b.lastKey = b.lastKey[:0]
}
