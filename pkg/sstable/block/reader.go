package block

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Reader provides access to a serialized block. It is immutable and safe
// for concurrent use; each Iterator carries its own position.
type Reader struct {
	data     []byte // entries only
	restarts []uint32
}

// NewReader verifies the block checksum and parses its restart points.
func NewReader(data []byte) (*Reader, error) {
	if len(data) < TrailerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(data))
	}

	sumOffset := len(data) - 8
	if got, want := xxhash.Sum64(data[:sumOffset]), binary.LittleEndian.Uint64(data[sumOffset:]); got != want {
		return nil, fmt.Errorf("%w: checksum %x, expected %x", ErrCorrupt, got, want)
	}

	countOffset := sumOffset - 4
	count := int(binary.LittleEndian.Uint32(data[countOffset:sumOffset]))
	restartOffset := countOffset - 4*count
	if restartOffset < 0 || (count == 0 && restartOffset != 0) {
		return nil, fmt.Errorf("%w: invalid restart count %d", ErrCorrupt, count)
	}

	restarts := make([]uint32, count)
	for i := range restarts {
		restarts[i] = binary.LittleEndian.Uint32(data[restartOffset+4*i:])
		if int(restarts[i]) >= restartOffset {
			return nil, fmt.Errorf("%w: restart point %d out of range", ErrCorrupt, restarts[i])
		}
	}

	return &Reader{data: data[:restartOffset], restarts: restarts}, nil
}

// Size returns the number of bytes of entry data in the block
func (r *Reader) Size() int {
	return len(r.data)
}

// Iterator returns a new iterator positioned before the first entry
func (r *Reader) Iterator() *Iterator {
	return &Iterator{reader: r, next: -1}
}
