// Package block encodes the sorted, prefix-compressed blocks that make up a
// term file.
//
// Entry layout:
//
//	uvarint shared | uvarint unshared | uvarint valueLen | key[shared:] | value
//
// Restart entries store shared = 0. An empty block has no entries and no
// restart points. The trailer is
//
//	restart offsets (u32 each) | restart count (u32) | xxhash64 of everything before (u64)
package block

import "errors"

const (
	// DefaultRestartInterval defines how often a full key is stored
	DefaultRestartInterval = 16
	// TrailerSize is the fixed part of the trailer (restart count + checksum)
	TrailerSize = 4 + 8
)

var (
	// ErrCorrupt is returned for blocks whose checksum or framing is invalid
	ErrCorrupt = errors.New("corrupt block")
	// ErrUnordered is returned when keys are not added in strictly increasing order
	ErrUnordered = errors.New("keys must be added in strictly increasing order")
)
